package itemresolver

import (
	"github.com/MaZderMind/bwmeta/internal/model"
	"github.com/MaZderMind/bwmeta/internal/selector"
)

// checkRedundantDependencies warns about any direct Deps entry that is
// already reachable through one of item's other direct Deps entries. Unlike
// the earlier passes, a redundant dependency doesn't corrupt the graph --
// the edge is already implied -- so it is reported rather than treated as
// fatal.
func checkRedundantDependencies(item *model.Item, items []*model.Item) {
	byID := make(map[string]*model.Item, len(items))
	for _, it := range items {
		byID[it.ID] = it
	}

	resolved := make(map[string][]string, len(item.Deps))
	for _, dep := range item.Deps {
		matches, err := selector.Resolve(dep, items)
		if err != nil {
			continue
		}
		ids := make([]string, len(matches))
		for i, m := range matches {
			ids[i] = m.ID
		}
		resolved[dep] = ids
	}

	for _, dep := range item.Deps {
		for _, id := range resolved[dep] {
			for _, other := range item.Deps {
				if other == dep {
					continue
				}
				for _, otherID := range resolved[other] {
					reachable, ok := byID[otherID]
					if !ok {
						continue
					}
					if containsString(reachable.FlattenedDeps, id) {
						logger.Warn("redundant item dependency",
							"item", item.ID,
							"bundle", item.Bundle,
							"dep", dep,
							"already_reachable_through", other,
						)
					}
				}
			}
		}
	}
}
