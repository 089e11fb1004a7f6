package finmodel

// Dependency is a (identifier, time offset) pair referenced by a formula.
type Dependency struct {
	Name   string
	Offset int
}

// ExtractDependencies walks expr and returns the de-duplicated set of
// identifiers it references, each paired with its time offset (spec §4.B).
// Function names are not collected; duplicates collapse to one entry.
func ExtractDependencies(expr *Expr) []Dependency {
	seen := make(map[Dependency]bool)
	var deps []Dependency
	var walk func(*Expr)
	walk = func(e *Expr) {
		if e == nil {
			return
		}
		switch e.Kind {
		case ExprReference:
			d := Dependency{Name: e.Name, Offset: e.Offset}
			if !seen[d] {
				seen[d] = true
				deps = append(deps, d)
			}
		case ExprUnary:
			walk(e.Child)
		case ExprBinary:
			walk(e.Left)
			walk(e.Right)
		case ExprCall:
			for _, a := range e.Args {
				walk(a)
			}
		}
	}
	walk(expr)
	return deps
}

// CurrentPeriodRefs filters deps to those with Offset == 0 — the edges
// that participate in scheduling (spec §4.B). Offset < 0 references do not
// create graph edges; they are served by the prior-period provider.
func CurrentPeriodRefs(deps []Dependency) []string {
	var names []string
	for _, d := range deps {
		if d.Offset == 0 {
			names = append(names, d.Name)
		}
	}
	return names
}
