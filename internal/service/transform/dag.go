package transform

import (
	"sort"

	"airlift-demo/internal/domain"
)

// ResolveTiers orders models into tiers using Kahn's algorithm. Every model
// in a tier depends only on models in earlier tiers. Dependencies on
// non-model nodes are ignored.
func ResolveTiers(models []Node) ([][]Node, error) {
	if len(models) == 0 {
		return nil, nil
	}

	idToIdx := make(map[string]int, len(models))
	for i, m := range models {
		idToIdx[m.UniqueID] = i
	}

	inDegree := make([]int, len(models))
	dependents := make(map[int][]int)

	for i, m := range models {
		for _, dep := range m.DependsOn.Nodes {
			depIdx, ok := idToIdx[dep]
			if !ok {
				continue // source or non-model node
			}
			if depIdx == i {
				return nil, domain.ErrValidation("self dependency: %s", m.UniqueID)
			}
			dependents[depIdx] = append(dependents[depIdx], i)
			inDegree[i]++
		}
	}

	var queue []int
	for i, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, i)
		}
	}

	var tiers [][]Node
	processed := 0
	for len(queue) > 0 {
		sort.Slice(queue, func(a, b int) bool { return models[queue[a]].Name < models[queue[b]].Name })
		tier := make([]Node, 0, len(queue))
		for _, idx := range queue {
			tier = append(tier, models[idx])
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

	if processed != len(models) {
		return nil, domain.ErrValidation("cycle detected in model dependencies")
	}
	return tiers, nil
}
