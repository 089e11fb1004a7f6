package finmodel

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// PeriodResult is a completed period's line-item map plus the validation
// report produced alongside it (spec §3).
type PeriodResult struct {
	Entity   string
	Scenario string
	Period   int
	Values   map[string]float64
	Report   Report
	Failed   bool
	Failure  error
}

// PeriodCalculator computes a single period's line items in topological
// order, resolving each through a provider chain, then runs the validator
// (spec §4.F).
type PeriodCalculator struct {
	Template  *Template
	Chain     Chain
	Validator *Validator
}

// NewPeriodCalculator builds a calculator for one template and provider
// chain. The chain's ordering is the caller's responsibility (spec §4.E);
// a calculator does not know which providers it was given. defaultTolerance
// is the resolved run-level tolerance (spec §6), passed through to the
// validator as the fallback for rules that declare none.
func NewPeriodCalculator(template *Template, chain Chain, defaultTolerance float64) *PeriodCalculator {
	return &PeriodCalculator{Template: template, Chain: chain, Validator: NewValidator(template, chain, defaultTolerance)}
}

// Calculate runs the algorithm of spec §4.F for one period. A formula
// error, resolution error, or non-finite final value aborts the
// calculation: the returned PeriodResult has Failed=true and Failure set,
// with Values and Report populated up to the point of failure (spec §7).
func (c *PeriodCalculator) Calculate(ctx Context, current *CurrentPeriodProvider) PeriodResult {
	result := PeriodResult{
		Entity: ctx.Entity, Scenario: ctx.Scenario, Period: ctx.Period,
		Values: make(map[string]float64),
	}

	resolver := c.Chain.Resolve(ctx)

	for _, code := range c.Template.CalculationOrder() {
		item, ok := c.Template.LineItemByCode(code)
		if !ok {
			// Unreachable in practice: CalculationOrder is derived from the
			// same item set, but guarded rather than panicking on a future
			// refactor that decouples the two.
			result.Failed = true
			result.Failure = fmt.Errorf("finmodel: calculation order names unknown line item %q", code)
			return result
		}

		v, err := c.calculateLineItem(item, ctx, resolver)
		if err != nil {
			result.Failed = true
			result.Failure = err
			return result
		}

		current.Set(code, v)
		result.Values[code] = v
	}

	result.Report = c.Validator.Validate(ctx, current)
	return result
}

func (c *PeriodCalculator) calculateLineItem(item LineItem, ctx Context, resolver Resolver) (float64, error) {
	switch {
	case item.Formula != nil:
		v, err := Evaluate(item.Formula, resolver)
		if err != nil {
			var refErr *ReferenceResolutionError
			if errors.As(err, &refErr) {
				return 0, &ResolutionError{
					Entity: ctx.Entity, Scenario: ctx.Scenario, Period: ctx.Period,
					Identifier: refErr.Identifier, Offset: refErr.Offset,
					Reason: "no provider served this reference", Cause: refErr.Cause,
				}
			}
			return 0, &FormulaError{Entity: ctx.Entity, Scenario: ctx.Scenario, Period: ctx.Period, LineItem: item.Code, Reason: err.Error(), Cause: err}
		}
		if !IsFiniteResult(v) {
			return 0, &FormulaError{Entity: ctx.Entity, Scenario: ctx.Scenario, Period: ctx.Period, LineItem: item.Code, Reason: "non-finite final value"}
		}
		return v, nil

	case strings.HasPrefix(item.BaseValueSource, "constant:"):
		lit := strings.TrimPrefix(item.BaseValueSource, "constant:")
		v, err := strconv.ParseFloat(lit, 64)
		if err != nil {
			return 0, &ResolutionError{
				Entity: ctx.Entity, Scenario: ctx.Scenario, Period: ctx.Period,
				Identifier: item.BaseValueSource, Reason: "constant base value is not a valid number", Cause: err,
			}
		}
		return v, nil

	case item.BaseValueSource != "":
		v, err := resolver(item.BaseValueSource, 0)
		if err != nil {
			return 0, &ResolutionError{
				Entity: ctx.Entity, Scenario: ctx.Scenario, Period: ctx.Period,
				Identifier: item.BaseValueSource, Reason: "no provider served this base value source", Cause: err,
			}
		}
		return v, nil

	default:
		// Load already rejects this combination (I4); reachable only if a
		// Template is constructed by some means other than Load.
		return 0, nil
	}
}
