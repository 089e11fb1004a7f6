package finmodel

import (
	"fmt"
	"strconv"
	"strings"
)

// ActionKind enumerates the three transformation shapes a management
// action may bundle (spec §4.I).
type ActionKind string

const (
	ActionFormulaOverride         ActionKind = "formula_override"
	ActionBaseValueSourceOverride ActionKind = "base_value_source_override"
	ActionSignFlip                ActionKind = "sign_flip"
)

// Action is one declarative transformation targeting a single line item.
// NewFormula is consulted only for ActionFormulaOverride, NewBaseValueSource
// only for ActionBaseValueSourceOverride; sign_flip ignores both.
type Action struct {
	ID                 string
	Kind               ActionKind
	LineItemCode       string
	NewFormula         string
	NewBaseValueSource string
}

// ApplyActions derives a new template from base by applying actions in
// order (spec §4.I). Actions are left-to-right, and each one applies to the
// line item as earlier actions left it: a later formula or base-value-source
// override replaces an earlier one, while a sign_flip negates whatever the
// line item holds at that point. The scheduler re-runs as part of Variant's Load call, so a
// cycle introduced by an action surfaces as the same *TemplateError a
// malformed base template would produce.
func ApplyActions(base *Template, actions []Action) (*Template, error) {
	if len(actions) == 0 {
		return base, nil
	}

	overrides := make(map[string]LineItem, len(actions))
	ids := make([]string, 0, len(actions))

	for _, a := range actions {
		cur, has := overrides[a.LineItemCode]
		if !has {
			item, ok := base.LineItemByCode(a.LineItemCode)
			if !ok {
				return nil, &TemplateError{
					Template: base.Code, Code: a.LineItemCode,
					Reason: fmt.Sprintf("action %q targets unknown line item", a.ID),
				}
			}
			cur = item
		}

		switch a.Kind {
		case ActionFormulaOverride:
			expr, err := Parse(a.NewFormula)
			if err != nil {
				return nil, &TemplateError{Template: base.Code, Code: a.LineItemCode, Reason: "action formula_override is malformed", Cause: err}
			}
			cur.Formula = expr
			cur.FormulaSource = a.NewFormula

		case ActionBaseValueSourceOverride:
			cur.Formula = nil
			cur.FormulaSource = ""
			cur.BaseValueSource = a.NewBaseValueSource

		case ActionSignFlip:
			flipped, err := signFlip(cur)
			if err != nil {
				return nil, &TemplateError{Template: base.Code, Code: a.LineItemCode, Reason: "action sign_flip could not be applied", Cause: err}
			}
			cur = flipped

		default:
			return nil, &TemplateError{Template: base.Code, Code: a.LineItemCode, Reason: fmt.Sprintf("unknown action kind %q", a.Kind)}
		}

		overrides[a.LineItemCode] = cur
		ids = append(ids, a.ID)
	}

	derived, err := base.Variant(overrides, ids[0])
	if err != nil {
		return nil, err
	}
	derived.AppliedActions = append(derived.AppliedActions, ids[1:]...)
	return derived, nil
}

// signFlip negates a line item's effective value without disturbing its
// resolution kind where possible. A formula is wrapped in a unary minus. A
// constant base value is negated arithmetically, staying a base value
// rather than becoming a one-node formula. Any other base_value_source
// (driver:, fx:, opening-bs:, or a cross-statement prefix) is promoted to
// a formula referencing that same source negated, since those prefixes
// are already valid formula identifiers (spec §4.B, §4.E).
func signFlip(it LineItem) (LineItem, error) {
	switch {
	case it.Formula != nil:
		it.FormulaSource = fmt.Sprintf("-(%s)", it.FormulaSource)
		expr, err := Parse(it.FormulaSource)
		if err != nil {
			return LineItem{}, err
		}
		it.Formula = expr
		return it, nil

	case strings.HasPrefix(it.BaseValueSource, "constant:"):
		lit := strings.TrimPrefix(it.BaseValueSource, "constant:")
		v, err := strconv.ParseFloat(lit, 64)
		if err != nil {
			return LineItem{}, fmt.Errorf("constant base value %q is not a number: %w", it.BaseValueSource, err)
		}
		it.BaseValueSource = fmt.Sprintf("constant:%s", strconv.FormatFloat(-v, 'g', -1, 64))
		return it, nil

	case it.BaseValueSource != "":
		it.FormulaSource = fmt.Sprintf("-%s", it.BaseValueSource)
		expr, err := Parse(it.FormulaSource)
		if err != nil {
			return LineItem{}, err
		}
		it.Formula = expr
		it.BaseValueSource = ""
		return it, nil

	default:
		return LineItem{}, fmt.Errorf("line item %s has neither formula nor base_value_source to flip", it.Code)
	}
}
