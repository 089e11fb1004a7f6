package finmodel

import (
	"sort"
	"strings"
)

// knownPrefixes are the resolution-hint prefixes recognised by the
// dependency extractor and value-provider chain (spec §3, §4.B, §4.E).
var knownPrefixes = []string{"driver:", "fx:", "bs:", "pl:", "opening-bs:", "carbon:"}

// splitPrefix splits a reference identifier into its provider-prefix (if
// any, without the trailing colon) and the remainder.
func splitPrefix(name string) (prefix, rest string, ok bool) {
	for _, p := range knownPrefixes {
		if strings.HasPrefix(name, p) {
			return strings.TrimSuffix(p, ":"), strings.TrimPrefix(name, p), true
		}
	}
	return "", name, false
}

// Graph is the dependency graph for a single template: nodes are line-item
// codes, and an edge from -> to means "computing from requires to" (spec
// §4.C).
type Graph struct {
	nodes []string
	edges map[string][]string // from -> []to
}

// NewGraph builds the dependency graph for a template's line items. The
// display_order map used for the tie-break policy is not stored here; the
// caller (the Template) passes it to TopoOrder, so the graph has no
// knowledge of presentation metadata beyond the ordering key itself.
func NewGraph(items []LineItem) (*Graph, error) {
	codeSet := make(map[string]bool, len(items))
	for _, it := range items {
		codeSet[it.Code] = true
	}

	g := &Graph{edges: make(map[string][]string, len(items))}
	for _, it := range items {
		g.nodes = append(g.nodes, it.Code)
		if it.Formula == nil {
			continue
		}
		deps := ExtractDependencies(it.Formula)
		var to []string
		for _, d := range deps {
			if d.Offset != 0 {
				continue // prior-period refs never create edges (spec §3 I3, §4.B)
			}
			prefix, rest, hasPrefix := splitPrefix(d.Name)
			if !hasPrefix {
				if codeSet[d.Name] {
					to = append(to, d.Name)
				}
				// else: resolved externally (scenario driver etc. with no prefix
				// is a template-load error, checked separately in template.go)
				continue
			}
			if prefix == "opening-bs" || prefix == "driver" || prefix == "fx" {
				continue // always externally supplied, never an edge
			}
			// pl:, bs:, carbon: — cross-statement reference; an edge only if
			// the suffix names a line item of this same (unified) template.
			if codeSet[rest] {
				to = append(to, rest)
			}
		}
		g.edges[it.Code] = to
	}
	return g, nil
}

// CycleError reports a dependency cycle, including a complete path for
// diagnostics (spec §4.C, §8 scenario 5).
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return "dependency cycle: " + strings.Join(e.Path, " -> ")
}

// TopoOrder computes a deterministic topological order over the graph
// using Kahn's algorithm, tie-breaking on ascending display_order then
// ascending code (spec §4.C). displayOrder maps code -> display_order.
func (g *Graph) TopoOrder(displayOrder map[string]int) ([]string, error) {
	inDegree := make(map[string]int, len(g.nodes))
	for _, n := range g.nodes {
		inDegree[n] = 0
	}
	// edge from -> to means "from depends on to", i.e. to must be computed
	// first. For Kahn's algorithm we count, for each node, how many of its
	// dependencies have not yet been satisfied.
	for _, n := range g.nodes {
		inDegree[n] = len(g.edges[n])
	}

	ready := make([]string, 0)
	for _, n := range g.nodes {
		if inDegree[n] == 0 {
			ready = append(ready, n)
		}
	}
	sortByTieBreak(ready, displayOrder)

	// reverse adjacency: to -> []from, so we know whose in-degree to decrement
	// once `to` is processed.
	dependents := make(map[string][]string)
	for from, tos := range g.edges {
		for _, to := range tos {
			dependents[to] = append(dependents[to], from)
		}
	}

	var order []string
	for len(ready) > 0 {
		n := ready[0]
		ready = ready[1:]
		order = append(order, n)

		for _, dependent := range dependents[n] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				ready = append(ready, dependent)
			}
		}
		sortByTieBreak(ready, displayOrder)
	}

	if len(order) != len(g.nodes) {
		remaining := make(map[string]bool)
		for _, n := range g.nodes {
			if inDegree[n] != 0 {
				remaining[n] = true
			}
		}
		return nil, &CycleError{Path: findCyclePath(g, remaining)}
	}
	return order, nil
}

func sortByTieBreak(codes []string, displayOrder map[string]int) {
	sort.Slice(codes, func(i, j int) bool {
		oi, oj := displayOrder[codes[i]], displayOrder[codes[j]]
		if oi != oj {
			return oi < oj
		}
		return codes[i] < codes[j]
	})
}

// findCyclePath performs a depth-first walk from an arbitrary remaining
// node, following unprocessed edges, until a visited node is re-encountered
// (spec §4.C).
func findCyclePath(g *Graph, remaining map[string]bool) []string {
	var start string
	for _, n := range g.nodes {
		if remaining[n] {
			start = n
			break
		}
	}

	visited := make(map[string]int) // code -> position in path
	var path []string
	cur := start
	for {
		if pos, seen := visited[cur]; seen {
			return append(path[pos:], cur)
		}
		visited[cur] = len(path)
		path = append(path, cur)

		next := ""
		for _, to := range g.edges[cur] {
			if remaining[to] {
				next = to
				break
			}
		}
		if next == "" {
			// Shouldn't happen for a genuine cycle, but guard against an
			// unexpected dead end rather than looping forever.
			return path
		}
		cur = next
	}
}
