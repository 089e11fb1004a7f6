package finmodel

import (
	"fmt"
	"math"
	"strings"
)

// Finding is one validation rule's outcome (spec §3, §4.G).
type Finding struct {
	RuleID          string
	Severity        Severity
	Message         string
	NumericResidual float64
}

// Report is the ordered sequence of findings produced by a period's
// validation pass (spec §3). It is append-only within a period and always
// returned, even when the period's calculation failed, populated up to
// the point of failure (spec §7).
type Report struct {
	Findings []Finding
}

// HasSeverity reports whether the report contains at least one finding at
// or above the given severity (error > warning > info).
func (r Report) HasSeverity(min Severity) bool {
	rank := map[Severity]int{SeverityInfo: 0, SeverityWarning: 1, SeverityError: 2}
	for _, f := range r.Findings {
		if rank[f.Severity] >= rank[min] {
			return true
		}
	}
	return false
}

// String renders the report as a flat table, grounded on the teacher's
// FinancialStatement/FinancialLineItem tree rendering but flattened to
// this engine's simpler code -> value model.
func (r Report) String() string {
	if len(r.Findings) == 0 {
		return "validation: no findings"
	}
	var b strings.Builder
	for _, f := range r.Findings {
		fmt.Fprintf(&b, "[%s] %s: %s (residual=%.6f)\n", f.Severity, f.RuleID, f.Message, f.NumericResidual)
	}
	return b.String()
}

// Validator evaluates each of a template's rules against a period's
// computed results (spec §4.G). It reuses the same evaluator and provider
// chain as the calculator, with the closing current-period provider
// already populated.
type Validator struct {
	template         *Template
	chain            Chain
	defaultTolerance float64
}

// defaultRuleTolerance is the spec-documented fallback (spec §6) applied
// when neither a rule nor the run config declares a tolerance.
const defaultRuleTolerance = 0.01

// NewValidator builds a validator for one template and provider chain.
// defaultTolerance is the resolved run-level tolerance (spec §6's
// RunConfig.Tolerance); a rule without its own tolerance falls back to it,
// and a zero defaultTolerance falls back further to defaultRuleTolerance.
func NewValidator(template *Template, chain Chain, defaultTolerance float64) *Validator {
	if defaultTolerance == 0 {
		defaultTolerance = defaultRuleTolerance
	}
	return &Validator{template: template, chain: chain, defaultTolerance: defaultTolerance}
}

// Validate runs every rule declared on the template. A rule's own
// resolution failure is recorded as an error-severity finding rather than
// aborting the pass — a validator error does not prevent the closing
// state from being returned (spec §4.G).
func (v *Validator) Validate(ctx Context, current *CurrentPeriodProvider) Report {
	var report Report
	resolver := v.chain.Resolve(ctx)

	for _, rule := range v.template.ValidationRules() {
		value, err := Evaluate(rule.Formula, resolver)
		if err != nil {
			report.Findings = append(report.Findings, Finding{
				RuleID: rule.RuleID, Severity: SeverityError,
				Message:         fmt.Sprintf("rule could not be evaluated: %v", err),
				NumericResidual: 0,
			})
			continue
		}

		finding, violated := evaluateRule(rule, value, v.defaultTolerance)
		if violated {
			report.Findings = append(report.Findings, finding)
		}
	}
	return report
}

func evaluateRule(rule ValidationRule, value float64, defaultTolerance float64) (Finding, bool) {
	tolerance := rule.EffectiveTolerance(defaultTolerance)

	switch rule.Kind {
	case RuleEquation, RuleReconciliation:
		if math.Abs(value) <= tolerance {
			return Finding{}, false
		}
		return Finding{
			RuleID: rule.RuleID, Severity: rule.Severity,
			Message:         messageOrDefault(rule, fmt.Sprintf("%s exceeds tolerance %.4f", rule.RuleID, tolerance)),
			NumericResidual: value,
		}, true

	case RuleBoundary:
		direction := rule.Direction
		if direction == 0 {
			direction = 1
		}
		satisfied := (direction > 0 && value >= 0) || (direction < 0 && value <= 0)
		if satisfied {
			return Finding{}, false
		}
		return Finding{
			RuleID: rule.RuleID, Severity: rule.Severity,
			Message:         messageOrDefault(rule, fmt.Sprintf("%s violates boundary", rule.RuleID)),
			NumericResidual: value,
		}, true

	default:
		return Finding{
			RuleID: rule.RuleID, Severity: SeverityError,
			Message:         fmt.Sprintf("unknown rule kind %q", rule.Kind),
			NumericResidual: value,
		}, true
	}
}

func messageOrDefault(rule ValidationRule, fallback string) string {
	if rule.Message != "" {
		return rule.Message
	}
	return fallback
}
