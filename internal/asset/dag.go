package asset

import (
	"sort"

	"airlift-demo/internal/domain"
)

// ResolveTiers computes execution tiers of definitions using Kahn's
// algorithm. A definition depends on another when any of its specs lists a
// key owned by the other; dependencies inside one definition are ignored.
// Keys owned by no definition are ignored here; Validate reports them.
// Each tier is sorted by name.
func ResolveTiers(defs []*Definition) ([][]*Definition, error) {
	if len(defs) == 0 {
		return nil, nil
	}

	owner := make(map[Key]int)
	for i, d := range defs {
		for _, s := range d.Specs {
			owner[s.Key] = i
		}
	}

	inDegree := make([]int, len(defs))
	dependents := make(map[int][]int)
	for i, d := range defs {
		upstream := make(map[int]struct{})
		for _, s := range d.Specs {
			for _, dep := range s.Deps {
				j, ok := owner[dep]
				if !ok || j == i {
					continue
				}
				upstream[j] = struct{}{}
			}
		}
		for j := range upstream {
			dependents[j] = append(dependents[j], i)
			inDegree[i]++
		}
	}

	byName := func(idx []int) {
		sort.Slice(idx, func(a, b int) bool { return defs[idx[a]].Name < defs[idx[b]].Name })
	}

	var queue []int
	for i, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, i)
		}
	}

	var tiers [][]*Definition
	processed := 0
	for len(queue) > 0 {
		byName(queue)
		tier := make([]*Definition, 0, len(queue))
		for _, idx := range queue {
			tier = append(tier, defs[idx])
		}
		tiers = append(tiers, tier)
		processed += len(queue)

		var next []int
		for _, idx := range queue {
			for _, dep := range dependents[idx] {
				inDegree[dep]--
				if inDegree[dep] == 0 {
					next = append(next, dep)
				}
			}
		}
		queue = next
	}

	if processed != len(defs) {
		return nil, domain.ErrValidation("cycle detected in asset dependencies")
	}
	return tiers, nil
}

// upstreamDefinitions maps each definition name to the names of the
// definitions it depends on.
func upstreamDefinitions(defs []*Definition) map[string][]string {
	owner := make(map[Key]string)
	for _, d := range defs {
		for _, s := range d.Specs {
			owner[s.Key] = d.Name
		}
	}
	out := make(map[string][]string, len(defs))
	for _, d := range defs {
		seen := make(map[string]struct{})
		for _, s := range d.Specs {
			for _, dep := range s.Deps {
				name, ok := owner[dep]
				if !ok || name == d.Name {
					continue
				}
				if _, dup := seen[name]; dup {
					continue
				}
				seen[name] = struct{}{}
				out[d.Name] = append(out[d.Name], name)
			}
		}
	}
	return out
}
