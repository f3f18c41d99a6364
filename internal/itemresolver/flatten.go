package itemresolver

import (
	"sort"

	"github.com/MaZderMind/bwmeta/internal/model"
)

// injectReverseDependencies turns every item's needed_by attribute into a
// standard dependency on the depending item.
func injectReverseDependencies(items []*model.Item) error {
	for _, item := range items {
		item.ReverseDeps = nil
	}
	for _, item := range items {
		for _, sel := range item.NeededBy {
			dependents, err := resolveOrFail(sel, items, item, "has a reverse dependency (needed_by) on a selector that doesn't exist")
			if err != nil {
				return err
			}
			for _, dependent := range dependents {
				if !containsString(dependent.Deps, item.ID) {
					dependent.Deps = append(dependent.Deps, item.ID)
					dependent.ReverseDeps = append(dependent.ReverseDeps, item.ID)
				}
			}
		}
	}
	return nil
}

// flattenDependencies computes each item's transitive closure of Deps
// (FlattenedDeps) and the reverse mapping (IncomingDeps). Dependency loops
// are tolerated: recursing into an item whose closure is already being
// computed is simply skipped rather than treated as an error. A selector
// that resolves to zero items is dropped from Deps since it can never be
// satisfied; a selector naming a specific id that doesn't exist is fatal.
func flattenDependencies(items []*model.Item) error {
	inProgress := map[string]bool{}
	done := map[string]bool{}

	var flattenOne func(item *model.Item) error
	flattenOne = func(item *model.Item) error {
		if done[item.ID] {
			return nil
		}
		inProgress[item.ID] = true

		closure := map[string]bool{}
		for _, d := range item.Deps {
			closure[d] = true
		}

		var kept []string
		for _, dep := range item.Deps {
			depItems, err := resolveOrFail(dep, items, item, "needs an item that doesn't exist")
			if err != nil {
				return err
			}
			if len(depItems) == 0 {
				// can never be satisfied; drop it
				continue
			}
			kept = append(kept, dep)
			for _, depItem := range depItems {
				if !inProgress[depItem.ID] && !done[depItem.ID] {
					if err := flattenOne(depItem); err != nil {
						return err
					}
				}
				closure[depItem.ID] = true
				for _, d := range depItem.FlattenedDeps {
					closure[d] = true
				}
			}
		}
		item.Deps = kept

		flattened := make([]string, 0, len(closure))
		for d := range closure {
			flattened = append(flattened, d)
		}
		sort.Strings(flattened)
		item.FlattenedDeps = flattened

		delete(inProgress, item.ID)
		done[item.ID] = true
		return nil
	}

	for _, item := range items {
		if !done[item.ID] {
			if err := flattenOne(item); err != nil {
				return err
			}
		}
	}

	byID := map[string]*model.Item{}
	for _, item := range items {
		item.IncomingDeps = nil
		byID[item.ID] = item
	}
	for _, item := range items {
		for _, dep := range item.FlattenedDeps {
			if depItem, ok := byID[dep]; ok {
				depItem.IncomingDeps = append(depItem.IncomingDeps, item.ID)
			}
		}
	}
	return nil
}
