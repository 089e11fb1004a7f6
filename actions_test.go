package finmodel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func actionsBaseTemplate(t *testing.T) *Template {
	t.Helper()
	tmpl, err := Load(RawTemplate{
		Code: "PL",
		LineItems: []RawLineItem{
			{Code: "REVENUE", BaseValueSource: "driver:REVENUE", DisplayOrder: 1},
			{Code: "EXPENSES", BaseValueSource: "driver:EXPENSES", DisplayOrder: 2},
			{Code: "NET_INCOME", Formula: "REVENUE + EXPENSES", DisplayOrder: 3},
			{Code: "TAX_RATE", BaseValueSource: "constant:0.2", DisplayOrder: 4},
		},
	})
	require.NoError(t, err)
	return tmpl
}

func TestApplyActionsFormulaOverride(t *testing.T) {
	base := actionsBaseTemplate(t)
	derived, err := ApplyActions(base, []Action{
		{ID: "double-revenue", Kind: ActionFormulaOverride, LineItemCode: "NET_INCOME", NewFormula: "REVENUE * 2 + EXPENSES"},
	})
	require.NoError(t, err)

	item, ok := derived.LineItemByCode("NET_INCOME")
	require.True(t, ok)
	assert.Equal(t, "REVENUE * 2 + EXPENSES", item.FormulaSource)
	assert.Equal(t, []string{"double-revenue"}, derived.AppliedActions)

	baseItem, _ := base.LineItemByCode("NET_INCOME")
	assert.Equal(t, "REVENUE + EXPENSES", baseItem.FormulaSource, "base template must stay unmutated")
}

func TestApplyActionsBaseValueSourceOverride(t *testing.T) {
	base := actionsBaseTemplate(t)
	derived, err := ApplyActions(base, []Action{
		{ID: "flat-rate", Kind: ActionBaseValueSourceOverride, LineItemCode: "REVENUE", NewBaseValueSource: "constant:500000"},
	})
	require.NoError(t, err)

	item, ok := derived.LineItemByCode("REVENUE")
	require.True(t, ok)
	assert.Nil(t, item.Formula)
	assert.Equal(t, "constant:500000", item.BaseValueSource)
}

func TestApplyActionsSignFlipOnFormula(t *testing.T) {
	base := actionsBaseTemplate(t)
	derived, err := ApplyActions(base, []Action{
		{ID: "flip-net-income", Kind: ActionSignFlip, LineItemCode: "NET_INCOME"},
	})
	require.NoError(t, err)

	item, ok := derived.LineItemByCode("NET_INCOME")
	require.True(t, ok)
	require.NotNil(t, item.Formula)

	st := newFakeStore()
	st.SetDriver("acme", "base", 1, "REVENUE", 100)
	st.SetDriver("acme", "base", 1, "EXPENSES", -40)
	current := NewCurrentPeriodProvider(derived.StatementType, 1)
	chain := Chain{current, NewDriverProvider(st, nil)}
	calc := NewPeriodCalculator(derived, chain, 0)
	result := calc.Calculate(Context{Entity: "acme", Scenario: "base", Period: 1}, current)
	require.False(t, result.Failed)
	assert.Equal(t, -60.0, result.Values["NET_INCOME"])
}

func TestApplyActionsSignFlipOnConstant(t *testing.T) {
	base := actionsBaseTemplate(t)
	derived, err := ApplyActions(base, []Action{
		{ID: "flip-tax-rate", Kind: ActionSignFlip, LineItemCode: "TAX_RATE"},
	})
	require.NoError(t, err)

	item, ok := derived.LineItemByCode("TAX_RATE")
	require.True(t, ok)
	assert.Equal(t, "constant:-0.2", item.BaseValueSource)
}

func TestApplyActionsLastOverrideWins(t *testing.T) {
	base := actionsBaseTemplate(t)
	derived, err := ApplyActions(base, []Action{
		{ID: "first", Kind: ActionFormulaOverride, LineItemCode: "NET_INCOME", NewFormula: "REVENUE"},
		{ID: "second", Kind: ActionFormulaOverride, LineItemCode: "NET_INCOME", NewFormula: "EXPENSES"},
	})
	require.NoError(t, err)

	item, ok := derived.LineItemByCode("NET_INCOME")
	require.True(t, ok)
	assert.Equal(t, "EXPENSES", item.FormulaSource)
	assert.Equal(t, []string{"first", "second"}, derived.AppliedActions)
}

func TestApplyActionsRejectsCycleIntroducedByAction(t *testing.T) {
	base := actionsBaseTemplate(t)
	_, err := ApplyActions(base, []Action{
		{ID: "introduce-cycle", Kind: ActionFormulaOverride, LineItemCode: "REVENUE", NewFormula: "NET_INCOME - EXPENSES"},
	})
	require.Error(t, err)
	var tplErr *TemplateError
	require.ErrorAs(t, err, &tplErr)
}

func TestApplyActionsRejectsUnknownLineItem(t *testing.T) {
	base := actionsBaseTemplate(t)
	_, err := ApplyActions(base, []Action{
		{ID: "bad", Kind: ActionFormulaOverride, LineItemCode: "NO_SUCH_CODE", NewFormula: "1"},
	})
	require.Error(t, err)
}

func TestApplyActionsZeroActionsEqualsBase(t *testing.T) {
	base := actionsBaseTemplate(t)
	derived, err := ApplyActions(base, nil)
	require.NoError(t, err)
	assert.Same(t, base, derived)
}
