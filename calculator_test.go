package finmodel

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculatorConstantBaseValueSource(t *testing.T) {
	tmpl, err := Load(RawTemplate{
		Code: "PL",
		LineItems: []RawLineItem{
			{Code: "TAX_RATE", BaseValueSource: "constant:0.21", DisplayOrder: 1},
			{Code: "PRETAX_INCOME", BaseValueSource: "driver:PRETAX_INCOME", DisplayOrder: 2},
			{Code: "TAX_EXPENSE", Formula: "PRETAX_INCOME * TAX_RATE", DisplayOrder: 3},
		},
	})
	require.NoError(t, err)

	st := newFakeStore()
	st.SetDriver("acme", "base", 1, "PRETAX_INCOME", 1000)
	current := NewCurrentPeriodProvider(tmpl.StatementType, 1)
	chain := Chain{current, NewPriorPeriodProvider(st, 1), NewDriverProvider(st, nil)}
	calc := NewPeriodCalculator(tmpl, chain, 0)

	result := calc.Calculate(Context{Entity: "acme", Scenario: "base", Period: 1}, current)
	require.False(t, result.Failed)
	assert.Equal(t, 0.21, result.Values["TAX_RATE"])
	assert.InDelta(t, 210.0, result.Values["TAX_EXPENSE"], 1e-9)
}

func TestCalculatorRejectsMalformedConstant(t *testing.T) {
	tmpl, err := Load(RawTemplate{
		Code: "PL",
		LineItems: []RawLineItem{
			{Code: "X", BaseValueSource: "constant:not-a-number", DisplayOrder: 1},
		},
	})
	require.NoError(t, err)

	st := newFakeStore()
	current := NewCurrentPeriodProvider(tmpl.StatementType, 1)
	chain := Chain{current, NewDriverProvider(st, nil)}
	calc := NewPeriodCalculator(tmpl, chain, 0)

	result := calc.Calculate(Context{Entity: "acme", Scenario: "base", Period: 1}, current)
	require.True(t, result.Failed)
	var resErr *ResolutionError
	require.ErrorAs(t, result.Failure, &resErr)
}

func TestCalculatorAbortsOnMissingDriverButKeepsPartialResults(t *testing.T) {
	tmpl, err := Load(RawTemplate{
		Code: "PL",
		LineItems: []RawLineItem{
			{Code: "REVENUE", BaseValueSource: "driver:REVENUE", DisplayOrder: 1},
			{Code: "EXPENSES", BaseValueSource: "driver:EXPENSES", DisplayOrder: 2}, // never seeded
			{Code: "NET_INCOME", Formula: "REVENUE + EXPENSES", DisplayOrder: 3},
		},
	})
	require.NoError(t, err)

	st := newFakeStore()
	st.SetDriver("acme", "base", 1, "REVENUE", 500)
	current := NewCurrentPeriodProvider(tmpl.StatementType, 1)
	chain := Chain{current, NewDriverProvider(st, nil)}
	calc := NewPeriodCalculator(tmpl, chain, 0)

	result := calc.Calculate(Context{Entity: "acme", Scenario: "base", Period: 1}, current)
	require.True(t, result.Failed)
	assert.Equal(t, 500.0, result.Values["REVENUE"])
	_, hasNetIncome := result.Values["NET_INCOME"]
	assert.False(t, hasNetIncome)
	var resErr *ResolutionError
	require.ErrorAs(t, result.Failure, &resErr)
}

func TestCalculatorFormulaUnresolvedReferenceBecomesResolutionError(t *testing.T) {
	tmpl, err := Load(RawTemplate{
		Code: "PL",
		LineItems: []RawLineItem{
			{Code: "REVENUE", BaseValueSource: "driver:REVENUE", DisplayOrder: 1},
			{Code: "NET_INCOME", Formula: "REVENUE - driver:UNSEEDED_EXPENSE", DisplayOrder: 2},
		},
	})
	require.NoError(t, err)

	st := newFakeStore()
	st.SetDriver("acme", "base", 1, "REVENUE", 500)
	current := NewCurrentPeriodProvider(tmpl.StatementType, 1)
	chain := Chain{current, NewDriverProvider(st, nil)}
	calc := NewPeriodCalculator(tmpl, chain, 0)

	result := calc.Calculate(Context{Entity: "acme", Scenario: "base", Period: 1}, current)
	require.True(t, result.Failed)

	var resErr *ResolutionError
	require.ErrorAs(t, result.Failure, &resErr)
	assert.Equal(t, "driver:UNSEEDED_EXPENSE", resErr.Identifier)

	var formErr *FormulaError
	assert.False(t, errors.As(result.Failure, &formErr), "a reference miss must not be classified as a FormulaError")
}

func TestCalculatorAbortsOnDivisionByZero(t *testing.T) {
	tmpl, err := Load(RawTemplate{
		Code: "PL",
		LineItems: []RawLineItem{
			{Code: "A", BaseValueSource: "driver:A", DisplayOrder: 1},
			{Code: "B", BaseValueSource: "driver:B", DisplayOrder: 2},
			{Code: "RATIO", Formula: "A / B", DisplayOrder: 3},
		},
	})
	require.NoError(t, err)

	st := newFakeStore()
	st.SetDriver("acme", "base", 1, "A", 10)
	st.SetDriver("acme", "base", 1, "B", 0)
	current := NewCurrentPeriodProvider(tmpl.StatementType, 1)
	chain := Chain{current, NewDriverProvider(st, nil)}
	calc := NewPeriodCalculator(tmpl, chain, 0)

	result := calc.Calculate(Context{Entity: "acme", Scenario: "base", Period: 1}, current)
	require.True(t, result.Failed)
	var formErr *FormulaError
	require.ErrorAs(t, result.Failure, &formErr)
}
