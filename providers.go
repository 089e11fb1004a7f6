package finmodel

import (
	"fmt"
	"strings"
)

// Context carries the coordinates a Resolver needs to fetch the right
// value (spec §4.A, §4.E): which entity, scenario, and period a
// calculation is running for.
type Context struct {
	Entity   string
	Scenario string
	Period   int
}

// Provider is the capability a value source exposes to the calculator's
// resolver chain (spec §4.E, §9): report whether it can serve an
// identifier, and serve it.
type Provider interface {
	HasValue(identifier string, ctx Context) bool
	GetValue(identifier string, ctx Context) (float64, error)
}

// Chain is an ordered sequence of Providers; the first one reporting
// HasValue serves the read (spec §4.E).
type Chain []Provider

// Resolve threads offset and ctx through the chain, producing a Resolver
// the evaluator can call directly. offset==0 references are served as-is;
// offset<0 references are rewritten to the period they actually name
// before being offered to the chain, so every Provider only ever sees
// ctx.Period for "the period it should answer about".
func (c Chain) Resolve(ctx Context) Resolver {
	return func(identifier string, offset int) (float64, error) {
		queryCtx := ctx
		queryCtx.Period = ctx.Period + offset
		for _, p := range c {
			if p.HasValue(identifier, queryCtx) {
				return p.GetValue(identifier, queryCtx)
			}
		}
		return 0, ErrNotFound
	}
}

// ---------------------------------------------------------------------------
// Current-period provider
// ---------------------------------------------------------------------------

// CurrentPeriodProvider is a mutable map fed by the calculator as it
// finishes each line item (spec §4.E #1). At offset 0 only, it serves
// unprefixed references, references whose prefix names its own statement
// type, and pl:/bs:/carbon: references to a code already in its map (a
// unified multi-statement template computes every section into it).
type CurrentPeriodProvider struct {
	values        map[string]float64
	statementType string // "" means no own-statement prefix; bare codes and pl:/bs:/carbon: of set codes still resolve
	period        int    // the period this provider is being populated for
}

func NewCurrentPeriodProvider(statementType string, period int) *CurrentPeriodProvider {
	return &CurrentPeriodProvider{values: make(map[string]float64), statementType: statementType, period: period}
}

func (p *CurrentPeriodProvider) Set(code string, v float64) { p.values[code] = v }

// Values returns a copy of the provider's working map, e.g. for
// CrossStatementProvider construction for the next statement in sequence.
func (p *CurrentPeriodProvider) Values() map[string]float64 {
	out := make(map[string]float64, len(p.values))
	for k, v := range p.values {
		out[k] = v
	}
	return out
}

// crossStatementPrefixes mirrors graph.go's NewGraph: pl:, bs:, and
// carbon: are the statement-section prefixes a unified template may use to
// cross-reference one of its own line items (spec §4.B, §4.E #6) — as
// opposed to driver:, fx:, opening-bs:, which always name an externally
// supplied value and never resolve against a CurrentPeriodProvider.
var crossStatementPrefixes = map[string]bool{"pl": true, "bs": true, "carbon": true}

func (p *CurrentPeriodProvider) resolveCode(identifier string, ctx Context) (string, bool) {
	if ctx.Period != p.period {
		return "", false // only serves offset-0 references to the period it's accumulating
	}
	prefix, rest, ok := splitPrefix(identifier)
	if !ok {
		return identifier, true
	}
	if prefix == p.statementType {
		return rest, true
	}
	// A unified template computes every line item — across every statement
	// section it declares — into this same map in one topological pass, so
	// a pl:/bs:/carbon: reference to another section's already-computed
	// line item resolves here too, once that code has actually been set
	// (NewGraph already scheduled it first if this template's own scheduler
	// put an edge on it).
	if crossStatementPrefixes[prefix] {
		if _, has := p.values[rest]; has {
			return rest, true
		}
	}
	return "", false
}

func (p *CurrentPeriodProvider) HasValue(identifier string, ctx Context) bool {
	code, ok := p.resolveCode(identifier, ctx)
	if !ok {
		return false
	}
	_, has := p.values[code]
	return has
}

func (p *CurrentPeriodProvider) GetValue(identifier string, ctx Context) (float64, error) {
	code, ok := p.resolveCode(identifier, ctx)
	if !ok {
		return 0, ErrNotFound
	}
	v, has := p.values[code]
	if !has {
		return 0, ErrNotFound
	}
	return v, nil
}

// ---------------------------------------------------------------------------
// Prior-period provider
// ---------------------------------------------------------------------------

// PriorPeriodStore is the narrow read interface the prior-period provider
// needs (spec §6): closing-state values keyed by (entity, scenario,
// period, code). Implementations live outside the core (finmodel/store).
type PriorPeriodStore interface {
	GetLineItem(entity, scenario string, period int, code string) (float64, bool, error)
}

// PriorPeriodProvider returns line-item values from a strictly earlier
// period (spec §4.E #2): it only satisfies requests that the Chain has
// already rewritten to a period < the period the calculation is running
// for. relativeTo is the period being calculated; only periods < relativeTo
// are ever served, so a reference with offset 0 (which Chain leaves at
// ctx.Period == relativeTo) never matches here.
type PriorPeriodProvider struct {
	store      PriorPeriodStore
	relativeTo int
}

func NewPriorPeriodProvider(store PriorPeriodStore, relativeTo int) *PriorPeriodProvider {
	return &PriorPeriodProvider{store: store, relativeTo: relativeTo}
}

func (p *PriorPeriodProvider) HasValue(identifier string, ctx Context) bool {
	if ctx.Period >= p.relativeTo {
		return false
	}
	_, _, rest := prefixedOrBare(identifier)
	_, ok, err := p.store.GetLineItem(ctx.Entity, ctx.Scenario, ctx.Period, rest)
	return err == nil && ok
}

func (p *PriorPeriodProvider) GetValue(identifier string, ctx Context) (float64, error) {
	_, _, rest := prefixedOrBare(identifier)
	v, ok, err := p.store.GetLineItem(ctx.Entity, ctx.Scenario, ctx.Period, rest)
	if err != nil {
		return 0, fmt.Errorf("prior-period store: %w", err)
	}
	if !ok {
		return 0, ErrNotFound
	}
	return v, nil
}

func prefixedOrBare(identifier string) (prefix, full, rest string) {
	p, r, ok := splitPrefix(identifier)
	if !ok {
		return "", identifier, identifier
	}
	return p, identifier, r
}

// ---------------------------------------------------------------------------
// Opening-balance-sheet provider
// ---------------------------------------------------------------------------

// OpeningBalanceSheet maps a line-item code to its opening value — the
// source of truth for the first period's prior-period references (spec
// §3, §4.E #4).
type OpeningBalanceSheet map[string]float64

// OpeningBalanceSheetProvider resolves opening-bs:<code> references,
// regardless of requested period (it represents "before period 1" and is
// consulted only when no PriorPeriodProvider entry exists).
type OpeningBalanceSheetProvider struct {
	opening OpeningBalanceSheet
}

func NewOpeningBalanceSheetProvider(opening OpeningBalanceSheet) *OpeningBalanceSheetProvider {
	return &OpeningBalanceSheetProvider{opening: opening}
}

func (p *OpeningBalanceSheetProvider) HasValue(identifier string, ctx Context) bool {
	prefix, rest, ok := splitPrefix(identifier)
	if !ok || prefix != "opening-bs" {
		return false
	}
	_, has := p.opening[rest]
	return has
}

func (p *OpeningBalanceSheetProvider) GetValue(identifier string, ctx Context) (float64, error) {
	_, rest, ok := splitPrefix(identifier)
	if !ok {
		return 0, ErrNotFound
	}
	v, has := p.opening[rest]
	if !has {
		return 0, ErrNotFound
	}
	return v, nil
}

// ---------------------------------------------------------------------------
// Driver provider
// ---------------------------------------------------------------------------

// DriverStore is the narrow read interface for scenario-level numeric
// inputs, (entity, scenario, period, code) -> number (spec §3, §6).
// Implementations live outside the core (finmodel/store).
type DriverStore interface {
	GetDriver(entity, scenario string, period int, code string) (float64, bool, error)
}

// DriverProvider resolves driver:<code>, or — when a line item declares
// base_value_source: driver:<code> — the bare line-item code routed
// through that mapping (spec §4.E #3). baseValueMap supplies that routing;
// the orchestrator populates it from the template's line items
// (baseValueDriverMap).
type DriverProvider struct {
	store        DriverStore
	baseValueMap map[string]string // line item code -> driver code
}

func NewDriverProvider(store DriverStore, baseValueMap map[string]string) *DriverProvider {
	return &DriverProvider{store: store, baseValueMap: baseValueMap}
}

func (p *DriverProvider) driverCode(identifier string) (string, bool) {
	if prefix, rest, ok := splitPrefix(identifier); ok {
		if prefix == "driver" {
			return rest, true
		}
		return "", false
	}
	if code, ok := p.baseValueMap[identifier]; ok {
		return code, true
	}
	return "", false
}

func (p *DriverProvider) HasValue(identifier string, ctx Context) bool {
	code, ok := p.driverCode(identifier)
	if !ok {
		return false
	}
	_, has, err := p.store.GetDriver(ctx.Entity, ctx.Scenario, ctx.Period, code)
	return err == nil && has
}

func (p *DriverProvider) GetValue(identifier string, ctx Context) (float64, error) {
	code, ok := p.driverCode(identifier)
	if !ok {
		return 0, ErrNotFound
	}
	v, has, err := p.store.GetDriver(ctx.Entity, ctx.Scenario, ctx.Period, code)
	if err != nil {
		return 0, fmt.Errorf("driver store: %w", err)
	}
	if !has {
		return 0, ErrNotFound
	}
	return v, nil
}

// ---------------------------------------------------------------------------
// FX provider
// ---------------------------------------------------------------------------

// FXStore is the narrow read interface for foreign-exchange rates. A
// missing rate is not an error from the store's perspective; the
// FXProvider turns a miss into the spec's documented fallback.
type FXStore interface {
	GetRate(from, to, rateType string, ctx Context) (float64, bool, error)
}

// FXProvider resolves fx:<from>_<to>[_<rate-type>] (spec §4.E #5).
// Rate type defaults to "average". A missing rate returns 1.0 and records
// a warning rather than failing — FX is explicitly out of the engine's
// fixed-point/conversion scope (spec §1).
type FXProvider struct {
	store    FXStore
	warnings *[]string // appended to when a rate falls back to 1.0
}

func NewFXProvider(store FXStore, warnings *[]string) *FXProvider {
	return &FXProvider{store: store, warnings: warnings}
}

func (p *FXProvider) parse(identifier string) (from, to, rateType string, ok bool) {
	prefix, rest, hasPrefix := splitPrefix(identifier)
	if !hasPrefix || prefix != "fx" {
		return "", "", "", false
	}
	parts := strings.Split(rest, "_")
	switch len(parts) {
	case 2:
		return parts[0], parts[1], "average", true
	case 3:
		return parts[0], parts[1], parts[2], true
	default:
		return "", "", "", false
	}
}

func (p *FXProvider) HasValue(identifier string, ctx Context) bool {
	_, _, _, ok := p.parse(identifier)
	return ok // FX always "has" a value — it falls back to 1.0 rather than miss
}

func (p *FXProvider) GetValue(identifier string, ctx Context) (float64, error) {
	from, to, rateType, ok := p.parse(identifier)
	if !ok {
		return 0, ErrNotFound
	}
	rate, has, err := p.store.GetRate(from, to, rateType, ctx)
	if err != nil {
		return 0, fmt.Errorf("fx store: %w", err)
	}
	if !has {
		if p.warnings != nil {
			*p.warnings = append(*p.warnings, fmt.Sprintf("fx rate %s_%s_%s not found, defaulting to 1.0", from, to, rateType))
		}
		return 1.0, nil
	}
	return rate, nil
}

// ---------------------------------------------------------------------------
// Cross-statement provider
// ---------------------------------------------------------------------------

// CrossStatementProvider resolves pl:CODE, bs:CODE, carbon:CODE references
// against another, separately loaded statement's already-computed
// current-period results (spec §4.E #6). A unified template (one Template
// computing every statement section in a single topological pass) never
// needs this — CurrentPeriodProvider already serves its own pl:/bs:/carbon:
// cross-references once the referenced code is in its map. This provider
// is for a caller composing independently loaded Templates — one per
// statement, each with its own Orchestrator — who feeds an earlier
// statement's CurrentPeriodProvider.Values() into a later statement's
// Chain so its formulas can still reference pl:NET_INCOME and the like
// (spec §6's PL -> BS -> CF -> auxiliary ordering). Referring to a later
// statement at [t] never resolves here, because that statement's provider
// simply doesn't exist yet when the earlier one runs (spec §4.E,
// resolution error).
type CrossStatementProvider struct {
	statementType string
	results       map[string]float64
}

func NewCrossStatementProvider(statementType string, results map[string]float64) *CrossStatementProvider {
	return &CrossStatementProvider{statementType: statementType, results: results}
}

func (p *CrossStatementProvider) HasValue(identifier string, ctx Context) bool {
	prefix, rest, ok := splitPrefix(identifier)
	if !ok || prefix != p.statementType {
		return false
	}
	_, has := p.results[rest]
	return has
}

func (p *CrossStatementProvider) GetValue(identifier string, ctx Context) (float64, error) {
	_, rest, ok := splitPrefix(identifier)
	if !ok {
		return 0, ErrNotFound
	}
	v, has := p.results[rest]
	if !has {
		return 0, ErrNotFound
	}
	return v, nil
}
