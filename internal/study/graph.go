package study

import (
	"fmt"
	"sort"
	"strings"
)

// TopoOrder returns every node sorted so each contemporaneous source
// precedes its targets. Ties break lexically, so the order (and with it
// the RNG draw order of a simulation) is stable across runs. Over-time
// edges do not constrain the order; they only ever read finished days.
func (p *Parameters) TopoOrder() ([]string, error) {
	indeg := make(map[string]int, len(p.nodes))
	out := make(map[string][]string, len(p.nodes))
	for name := range p.nodes {
		indeg[name] = 0
	}
	for _, d := range p.Dependencies {
		out[d.Source] = append(out[d.Source], d.Target)
		indeg[d.Target]++
	}

	ready := make([]string, 0, len(indeg))
	for name, deg := range indeg {
		if deg == 0 {
			ready = append(ready, name)
		}
	}
	sort.Strings(ready)

	order := make([]string, 0, len(indeg))
	for len(ready) > 0 {
		name := ready[0]
		ready = ready[1:]
		order = append(order, name)

		next := out[name]
		sort.Strings(next)
		for _, tgt := range next {
			indeg[tgt]--
			if indeg[tgt] == 0 {
				i := sort.SearchStrings(ready, tgt)
				ready = append(ready, "")
				copy(ready[i+1:], ready[i:])
				ready[i] = tgt
			}
		}
	}

	if len(order) != len(indeg) {
		var stuck []string
		for name, deg := range indeg {
			if deg > 0 {
				stuck = append(stuck, name)
			}
		}
		sort.Strings(stuck)
		return nil, fmt.Errorf("%w: unresolved nodes %s", ErrCyclicDependency, strings.Join(stuck, ", "))
	}
	return order, nil
}
