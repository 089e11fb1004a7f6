package finmodel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatorEquationWithinTolerance(t *testing.T) {
	tmpl, err := Load(RawTemplate{
		Code: "BS",
		LineItems: []RawLineItem{
			{Code: "A", BaseValueSource: "driver:A", DisplayOrder: 1},
			{Code: "B", BaseValueSource: "driver:B", DisplayOrder: 2},
		},
		ValidationRules: []RawValidationRule{
			{RuleID: "EQ", Severity: string(SeverityError), Kind: string(RuleEquation), Formula: "A - B", Tolerance: 0.01},
		},
	})
	require.NoError(t, err)

	st := newFakeStore()
	st.SetDriver("acme", "base", 1, "A", 100)
	st.SetDriver("acme", "base", 1, "B", 100.005)
	current := NewCurrentPeriodProvider(tmpl.StatementType, 1)
	chain := Chain{current, NewDriverProvider(st, nil)}
	calc := NewPeriodCalculator(tmpl, chain, 0)
	result := calc.Calculate(Context{Entity: "acme", Scenario: "base", Period: 1}, current)
	require.False(t, result.Failed)
	assert.Empty(t, result.Report.Findings)
}

func TestValidatorBoundaryRule(t *testing.T) {
	tmpl, err := Load(RawTemplate{
		Code: "BS",
		LineItems: []RawLineItem{
			{Code: "CASH", BaseValueSource: "driver:CASH", DisplayOrder: 1},
		},
		ValidationRules: []RawValidationRule{
			{RuleID: "NON_NEGATIVE_CASH", Severity: string(SeverityWarning), Kind: string(RuleBoundary), Formula: "CASH", Direction: 1},
		},
	})
	require.NoError(t, err)

	st := newFakeStore()
	st.SetDriver("acme", "base", 1, "CASH", -50)
	current := NewCurrentPeriodProvider(tmpl.StatementType, 1)
	chain := Chain{current, NewDriverProvider(st, nil)}
	calc := NewPeriodCalculator(tmpl, chain, 0)
	result := calc.Calculate(Context{Entity: "acme", Scenario: "base", Period: 1}, current)
	require.False(t, result.Failed)
	require.Len(t, result.Report.Findings, 1)
	assert.Equal(t, SeverityWarning, result.Report.Findings[0].Severity)
}

func TestValidatorRuleResolutionFailureBecomesErrorFinding(t *testing.T) {
	tmpl, err := Load(RawTemplate{
		Code: "BS",
		LineItems: []RawLineItem{
			{Code: "A", BaseValueSource: "driver:A", DisplayOrder: 1},
		},
		ValidationRules: []RawValidationRule{
			{RuleID: "BAD_REF", Severity: string(SeverityError), Kind: string(RuleEquation), Formula: "A - driver:MISSING"},
		},
	})
	require.NoError(t, err)

	st := newFakeStore()
	st.SetDriver("acme", "base", 1, "A", 5)
	current := NewCurrentPeriodProvider(tmpl.StatementType, 1)
	chain := Chain{current, NewDriverProvider(st, nil)}
	calc := NewPeriodCalculator(tmpl, chain, 0)
	result := calc.Calculate(Context{Entity: "acme", Scenario: "base", Period: 1}, current)
	require.False(t, result.Failed) // a validator's own failure never aborts the period
	require.Len(t, result.Report.Findings, 1)
	assert.Equal(t, SeverityError, result.Report.Findings[0].Severity)
}

func TestReportHasSeverity(t *testing.T) {
	r := Report{Findings: []Finding{{Severity: SeverityWarning}}}
	assert.True(t, r.HasSeverity(SeverityWarning))
	assert.False(t, r.HasSeverity(SeverityError))
}

func TestReportStringRendersFindings(t *testing.T) {
	r := Report{Findings: []Finding{{RuleID: "R1", Severity: SeverityError, Message: "broke", NumericResidual: 1.5}}}
	s := r.String()
	assert.Contains(t, s, "R1")
	assert.Contains(t, s, "broke")
}
