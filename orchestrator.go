package finmodel

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// ClosingStore is the narrow write side the orchestrator uses to make one
// period's closing state visible as the next period's prior-period input
// (spec §3, §6). A store adapter (finmodel/store) backs this with bbolt
// or Postgres; tests may use an in-memory map.
type ClosingStore interface {
	DriverStore
	PriorPeriodStore
	PutLineItem(entity, scenario string, period int, code string, value float64) error
}

// Orchestrator drives the per-period calculator across a sequence of
// periods, rolling each period's closing state into the next period's
// opening state (spec §4.H). It builds the provider chain current ->
// prior -> opening-BS -> driver, followed by fx when an FXStore is set
// (spec §4.E).
type Orchestrator struct {
	Template *Template
	Store    ClosingStore
	FXStore  FXStore
	// Tolerance is the resolved run-level default (spec §6's
	// RunConfig.Tolerance), passed to each period's validator as the
	// fallback applied when a rule declares none.
	Tolerance float64
}

// NewOrchestrator builds an orchestrator over a fixed template and store.
// tolerance is the run-level default tolerance (spec §6); 0 falls back to
// the validator's own built-in default.
func NewOrchestrator(template *Template, store ClosingStore, fxStore FXStore, tolerance float64) *Orchestrator {
	return &Orchestrator{Template: template, Store: store, FXStore: fxStore, Tolerance: tolerance}
}

// NewRunID returns a fresh ID for tagging one orchestrator invocation in
// diagnostics, following the teacher's habit of stamping every mutating operation with a uuid.
func NewRunID() string { return uuid.New().String() }

// Run iterates periods in the supplied order (spec §4.H), which must be
// chronological. ctx is checked for cancellation at each period boundary
// (spec §5); mid-period cancellation is not supported, matching the
// spec's stated granularity. A period's calculation failure stops the
// run immediately, returning the results completed so far alongside the
// error (spec §7) — a single scenario's periods are a strict sequence,
// so there is nothing meaningful to "continue" past within one Run.
func (o *Orchestrator) Run(ctx context.Context, entity, scenario string, periods []int, opening OpeningBalanceSheet) ([]PeriodResult, error) {
	var results []PeriodResult
	openingProvider := NewOpeningBalanceSheetProvider(opening)

	// Seed the closing-state store with the opening balance sheet one
	// period before the run starts, so a first-period [t-1] reference
	// (e.g. RETAINED_EARNINGS[t-1]) resolves through the same
	// PriorPeriodProvider path a later period's rollforward uses, rather
	// than needing special-case handling for period 1.
	if len(periods) > 0 {
		seedPeriod := periods[0] - 1
		for code, v := range opening {
			if err := o.Store.PutLineItem(entity, scenario, seedPeriod, code, v); err != nil {
				return nil, fmt.Errorf("seeding opening state: %w", err)
			}
		}
	}

	for _, period := range periods {
		select {
		case <-ctx.Done():
			return results, ctx.Err()
		default:
		}

		current := NewCurrentPeriodProvider(o.Template.StatementType, period)
		baseValueMap := baseValueDriverMap(o.Template)

		chain := Chain{
			current,
			NewPriorPeriodProvider(o.Store, period),
			openingProvider,
			NewDriverProvider(o.Store, baseValueMap),
		}
		if o.FXStore != nil {
			chain = append(chain, NewFXProvider(o.FXStore, nil))
		}

		calc := NewPeriodCalculator(o.Template, chain, o.Tolerance)
		result := calc.Calculate(Context{Entity: entity, Scenario: scenario, Period: period}, current)
		results = append(results, result)

		if result.Failed {
			return results, fmt.Errorf("period %d failed: %w", period, result.Failure)
		}

		for code, v := range result.Values {
			if err := o.Store.PutLineItem(entity, scenario, period, code, v); err != nil {
				return results, fmt.Errorf("persisting closing state for period %d: %w", period, err)
			}
		}
	}

	return results, nil
}

// baseValueDriverMap collects, from a template's line items, the mapping
// a bare code uses when its base_value_source names a driver (spec
// §4.E #3): a line item declaring "base_value_source: driver:X" has its
// own bare code resolved through driver X.
func baseValueDriverMap(t *Template) map[string]string {
	m := make(map[string]string)
	for _, it := range t.ItemsInDisplayOrder() {
		if it.Formula != nil || it.BaseValueSource == "" {
			continue
		}
		if prefix, rest, ok := splitPrefix(it.BaseValueSource); ok && prefix == "driver" {
			m[it.Code] = rest
		}
	}
	return m
}

// ContinueOnFailure controls how RunMany's caller is expected to treat a
// failed scenario among several (spec §7: "configurable to continue with
// next scenario"). Every scenario already runs to completion or failure
// independently — RunMany launches all of them concurrently regardless —
// so this flag governs aggregation, not launch sequencing: false means
// the caller should treat any ScenarioResult.Err as fatal to the whole
// batch, true means partial results from failed scenarios stand on their
// own alongside successful ones.
type ContinueOnFailure bool

// ScenarioResult pairs a scenario name with its ordered period results or
// the error that stopped it (a failed scenario's Results holds only the
// periods completed before the failure).
type ScenarioResult struct {
	Scenario string
	Results  []PeriodResult
	Err      error
}

// RunMany runs every scenario in scenarios independently over the same
// period list and opening state (spec §4.H). Each scenario gets its own
// current/prior provider instances; the store is shared by every
// scenario's goroutine, so it must be safe for concurrent use and is
// expected to partition by scenario. All scenarios run concurrently
// regardless of continueOnFailure; the flag only shapes the returned
// slice: with false it is cut off after the first scenario (in input
// order) whose run failed, with true every ScenarioResult is returned.
// Ordering of the returned slice mirrors scenarios; each scenario's own
// sequence remains ordered (spec §4.H, §5).
func (o *Orchestrator) RunMany(ctx context.Context, entity string, scenarios []string, periods []int, opening OpeningBalanceSheet, continueOnFailure ContinueOnFailure) []ScenarioResult {
	results := make([]ScenarioResult, len(scenarios))
	var wg sync.WaitGroup
	for i, scenario := range scenarios {
		wg.Add(1)
		go func(i int, scenario string) {
			defer wg.Done()
			periodResults, err := o.Run(ctx, entity, scenario, periods, opening)
			results[i] = ScenarioResult{Scenario: scenario, Results: periodResults, Err: err}
		}(i, scenario)
	}
	wg.Wait()

	if !continueOnFailure {
		for i, r := range results {
			if r.Err != nil {
				return results[:i+1]
			}
		}
	}
	return results
}

// Diff is one period's, one line item's delta between two scenario runs, as
// reported by DiffScenarios — the orchestrator-level generalization (SPEC_FULL §4) of the teacher's
// cross-entity consolidation comparisons in multi_company.go, applied
// across scenarios instead of companies.
type Diff struct {
	Period  int
	Code    string
	Base    float64
	Compare float64
	Delta   float64
}

// DiffScenarios returns, for every period present in both runs, the
// per-line-item deltas between base and compare. Line items present in
// only one run are skipped — Diff answers "how did the shared figures
// move", not "what changed in scope".
func DiffScenarios(base, compare []PeriodResult) []Diff {
	compareByPeriod := make(map[int]PeriodResult, len(compare))
	for _, r := range compare {
		compareByPeriod[r.Period] = r
	}

	var diffs []Diff
	for _, b := range base {
		c, ok := compareByPeriod[b.Period]
		if !ok {
			continue
		}
		for code, bv := range b.Values {
			cv, ok := c.Values[code]
			if !ok {
				continue
			}
			if bv != cv {
				diffs = append(diffs, Diff{Period: b.Period, Code: code, Base: bv, Compare: cv, Delta: cv - bv})
			}
		}
	}
	return diffs
}
