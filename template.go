package finmodel

import (
	"fmt"
	"sort"
)

// SignConvention is purely informational (spec §3): it describes how to
// interpret a value and is never applied as a transformation. Drivers and
// upstream data are expected to already carry the correct sign — an early
// bug in the source applied it twice, which is why this type carries no
// methods that act on a numeric value.
type SignConvention string

const (
	SignPositive SignConvention = "positive"
	SignNegative SignConvention = "negative"
	SignNeutral  SignConvention = "neutral"
)

// Severity classifies a validation finding (spec §3, §4.G).
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// RuleKind selects a ValidationRule's comparison semantics (spec §4.G).
type RuleKind string

const (
	RuleEquation       RuleKind = "equation"
	RuleBoundary       RuleKind = "boundary"
	RuleReconciliation RuleKind = "reconciliation"
)

// LineItem is the central entity of a template (spec §3).
type LineItem struct {
	Code            string
	Formula         *Expr  // parsed from the source's formula string, if present
	FormulaSource   string // original formula text, kept for diagnostics and Variant
	BaseValueSource string // "kind:code", consulted only when Formula == nil
	SignConvention  SignConvention
	DisplayOrder    int
	DisplayName     string
	Category        string
	Level           int
	Formatting      string
}

// ValidationRule is one template-declared check, evaluated after all line
// items of a period are computed (spec §4.G).
type ValidationRule struct {
	RuleID    string
	Severity  Severity
	Kind      RuleKind
	Formula   *Expr
	Tolerance float64 // 0 means the run-level default applies (see EffectiveTolerance)
	Message   string
	// Direction is used only for RuleBoundary: +1 means "value >= 0",
	// -1 means "value <= 0".
	Direction int

	formulaSource string // original formula text, for Variant round-tripping
}

// EffectiveTolerance returns the rule's own tolerance, falling back to the
// caller-supplied run-level default (spec §6's RunConfig.Tolerance) when
// the rule declares none.
func (r ValidationRule) EffectiveTolerance(fallback float64) float64 {
	if r.Tolerance == 0 {
		return fallback
	}
	return r.Tolerance
}

// Template is an ordered, immutable (after Load) set of line items plus
// validation rules (spec §3). Template objects are shared by every
// calculation consulting them for the lifetime of a run.
type Template struct {
	Code          string
	Version       string
	StatementType string

	items       []LineItem
	byCode      map[string]int // code -> index into items
	rules       []ValidationRule
	calcOrder   []string // cached topological (or explicit) order

	// AppliedActions records the action IDs that produced this template via
	// ApplyActions, for diagnostics on a derived template (SPEC_FULL §4).
	AppliedActions []string
}

// RawLineItem and RawTemplate mirror the structured source schema of spec
// §6 — the shape a collaborator (config loader, store) hands to Load.
// Struct tags follow finmodel/config's yaml.v3 convention so a template
// file can be unmarshaled straight into a RawTemplate (cmd/finmodel).
type RawLineItem struct {
	Code            string `yaml:"code"`
	Formula         string `yaml:"formula"`
	BaseValueSource string `yaml:"base_value_source"`
	SignConvention  string `yaml:"sign_convention"`
	DisplayOrder    int    `yaml:"display_order"`
	DisplayName     string `yaml:"display_name"`
	Category        string `yaml:"category"`
	Level           int    `yaml:"level"`
	Formatting      string `yaml:"formatting"`
}

type RawValidationRule struct {
	RuleID    string  `yaml:"rule_id"`
	Severity  string  `yaml:"severity"`
	Kind      string  `yaml:"kind"`
	Formula   string  `yaml:"formula"`
	Tolerance float64 `yaml:"tolerance"`
	Message   string  `yaml:"message"`
	Direction int     `yaml:"direction"`
}

type RawTemplate struct {
	Code             string              `yaml:"code"`
	Version          string              `yaml:"version"`
	StatementType    string              `yaml:"statement_type"`
	LineItems        []RawLineItem       `yaml:"line_items"`
	ValidationRules  []RawValidationRule `yaml:"validation_rules"`
	CalculationOrder []string            `yaml:"calculation_order"` // optional; empty means "compute it"
}

// Load parses a RawTemplate into an immutable Template, surfacing parser
// errors and invariant violations (I1–I4, spec §3) as *TemplateError.
func Load(raw RawTemplate) (*Template, error) {
	t := &Template{
		Code:          raw.Code,
		Version:       raw.Version,
		StatementType: raw.StatementType,
		byCode:        make(map[string]int, len(raw.LineItems)),
	}

	for _, rl := range raw.LineItems {
		if _, dup := t.byCode[rl.Code]; dup {
			return nil, &TemplateError{Template: raw.Code, Code: rl.Code, Reason: "duplicate line item code"} // I1
		}
		if _, reserved := builtinFuncs[rl.Code]; reserved {
			return nil, &TemplateError{Template: raw.Code, Code: rl.Code, Reason: "line item code is a reserved function name"}
		}

		item := LineItem{
			Code:            rl.Code,
			BaseValueSource: rl.BaseValueSource,
			SignConvention:  SignConvention(rl.SignConvention),
			DisplayOrder:    rl.DisplayOrder,
			DisplayName:     rl.DisplayName,
			Category:        rl.Category,
			Level:           rl.Level,
			Formatting:      rl.Formatting,
		}

		switch {
		case rl.Formula != "":
			expr, err := Parse(rl.Formula)
			if err != nil {
				return nil, &TemplateError{Template: raw.Code, Code: rl.Code, Reason: "malformed formula", Cause: err}
			}
			item.Formula = expr
			item.FormulaSource = rl.Formula
			// I4: formula wins when both are present; base_value_source is
			// kept on the struct (harmless) but never consulted.
		case rl.BaseValueSource != "":
			// base value only; nothing further to validate here.
		default:
			return nil, &TemplateError{Template: raw.Code, Code: rl.Code, Reason: "line item has neither formula nor base_value_source"} // I4
		}

		t.byCode[rl.Code] = len(t.items)
		t.items = append(t.items, item)
	}

	if err := t.checkReferences(); err != nil { // I2
		return nil, err
	}

	for _, rr := range raw.ValidationRules {
		expr, err := Parse(rr.Formula)
		if err != nil {
			return nil, &TemplateError{Template: raw.Code, Code: rr.RuleID, Reason: "malformed validation formula", Cause: err}
		}
		t.rules = append(t.rules, ValidationRule{
			RuleID:        rr.RuleID,
			Severity:      Severity(rr.Severity),
			Kind:          RuleKind(rr.Kind),
			Formula:       expr,
			Tolerance:     rr.Tolerance,
			Message:       rr.Message,
			Direction:     rr.Direction,
			formulaSource: rr.Formula,
		})
	}

	order, err := t.computeOrder(raw.CalculationOrder) // I3 (acyclicity)
	if err != nil {
		return nil, err
	}
	t.calcOrder = order

	return t, nil
}

// checkReferences enforces I2: every identifier a formula references, at
// any time offset, must name a line item or carry a recognised prefix
// (function names are never collected as references).
func (t *Template) checkReferences() error {
	for _, item := range t.items {
		if item.Formula == nil {
			continue
		}
		for _, d := range ExtractDependencies(item.Formula) {
			if _, isCode := t.byCode[d.Name]; isCode {
				continue
			}
			if _, _, hasPrefix := splitPrefix(d.Name); hasPrefix {
				continue
			}
			return &TemplateError{
				Template: t.Code,
				Code:     item.Code,
				Reason:   fmt.Sprintf("unresolvable identifier %q", d.Name),
			}
		}
	}
	return nil
}

func (t *Template) computeOrder(explicit []string) ([]string, error) {
	g, err := NewGraph(t.items)
	if err != nil {
		return nil, err
	}
	displayOrder := make(map[string]int, len(t.items))
	for _, it := range t.items {
		displayOrder[it.Code] = it.DisplayOrder
	}
	computed, err := g.TopoOrder(displayOrder)
	if err != nil {
		return nil, &TemplateError{Template: t.Code, Reason: err.Error(), Cause: err}
	}

	if len(explicit) == 0 {
		return computed, nil
	}

	if err := validateExplicitOrder(t.Code, explicit, t.byCode); err != nil {
		return nil, err
	}
	if err := validateOrderConsistency(t.Code, explicit, g); err != nil {
		return nil, err
	}
	return explicit, nil
}

func validateExplicitOrder(templateCode string, explicit []string, byCode map[string]int) error {
	if len(explicit) != len(byCode) {
		return &TemplateError{Template: templateCode, Reason: "calculation_order does not cover every line item exactly once"}
	}
	seen := make(map[string]bool, len(explicit))
	for _, code := range explicit {
		if _, ok := byCode[code]; !ok {
			return &TemplateError{Template: templateCode, Code: code, Reason: "calculation_order references an unknown line item"}
		}
		if seen[code] {
			return &TemplateError{Template: templateCode, Code: code, Reason: "calculation_order lists a line item more than once"}
		}
		seen[code] = true
	}
	return nil
}

// validateOrderConsistency checks that for every edge from -> to in the
// graph, to appears before from in explicit (spec §3, §8).
func validateOrderConsistency(templateCode string, explicit []string, g *Graph) error {
	position := make(map[string]int, len(explicit))
	for i, code := range explicit {
		position[code] = i
	}
	for from, tos := range g.edges {
		for _, to := range tos {
			if position[to] > position[from] {
				return &TemplateError{
					Template: templateCode,
					Code:     from,
					Reason:   fmt.Sprintf("calculation_order places %s before its dependency %s", from, to),
				}
			}
		}
	}
	return nil
}

// LineItemByCode returns the line item with the given code (O(1)).
func (t *Template) LineItemByCode(code string) (LineItem, bool) {
	idx, ok := t.byCode[code]
	if !ok {
		return LineItem{}, false
	}
	return t.items[idx], true
}

// ItemsInDisplayOrder returns line items ordered for rendering.
func (t *Template) ItemsInDisplayOrder() []LineItem {
	out := append([]LineItem{}, t.items...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].DisplayOrder != out[j].DisplayOrder {
			return out[i].DisplayOrder < out[j].DisplayOrder
		}
		return out[i].Code < out[j].Code
	})
	return out
}

// CalculationOrder returns the cached order used to drive a period's
// calculation (spec §4.D): the template's explicit order if it declared
// one and it passed consistency checks, otherwise the computed
// topological order.
func (t *Template) CalculationOrder() []string {
	return append([]string{}, t.calcOrder...)
}

// ValidationRules returns the template's declared rules in order.
func (t *Template) ValidationRules() []ValidationRule {
	return append([]ValidationRule{}, t.rules...)
}

// Variant produces a derived template with a subset of line items'
// formulas or base-value sources replaced, without mutating the base
// template (spec §4.D). The scheduler is re-run because formula changes
// may alter dependencies.
func (t *Template) Variant(overrides map[string]LineItem, appliedAction string) (*Template, error) {
	items := make([]RawLineItem, 0, len(t.items))
	for _, it := range t.items {
		if ov, has := overrides[it.Code]; has {
			items = append(items, rawFromLineItem(ov))
			continue
		}
		items = append(items, rawFromLineItem(it))
	}

	rules := make([]RawValidationRule, 0, len(t.rules))
	for _, r := range t.rules {
		rules = append(rules, RawValidationRule{
			RuleID: r.RuleID, Severity: string(r.Severity), Kind: string(r.Kind),
			Formula: r.FormulaSource(), Tolerance: r.Tolerance, Message: r.Message, Direction: r.Direction,
		})
	}

	derived, err := Load(RawTemplate{
		Code: t.Code, Version: t.Version, StatementType: t.StatementType,
		LineItems: items, ValidationRules: rules,
	})
	if err != nil {
		return nil, err
	}
	derived.AppliedActions = append(append([]string{}, t.AppliedActions...), appliedAction)
	return derived, nil
}

func rawFromLineItem(it LineItem) RawLineItem {
	return RawLineItem{
		Code: it.Code, Formula: it.FormulaSource, BaseValueSource: it.BaseValueSource,
		SignConvention: string(it.SignConvention), DisplayOrder: it.DisplayOrder,
		DisplayName: it.DisplayName, Category: it.Category, Level: it.Level, Formatting: it.Formatting,
	}
}

// FormulaSource returns the rule's original formula text, used by Variant
// to round-trip a template through RawTemplate.
func (r ValidationRule) FormulaSource() string { return r.formulaSource }
