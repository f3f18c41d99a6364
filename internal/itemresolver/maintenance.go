package itemresolver

import "github.com/MaZderMind/bwmeta/internal/model"

// RemoveDepFromAll removes dep from every item's Deps list, in place, and
// returns items unchanged (the return value exists only to mirror
// RemoveDependents' signature for symmetric call sites).
func RemoveDepFromAll(items []*model.Item, dep string) []*model.Item {
	for _, item := range items {
		item.Deps = removeString(item.Deps, dep)
	}
	return items
}

// RemoveDependents drops every item depending on depItem from items, since
// depItem has already been skipped and they can never run. An item that
// depends on depItem only through a trigger path, or only through a
// concurrency-blocker daisy-chain edge, is not skipped: the dependency is
// simply dropped, since the item may still run (triggered items are skipped
// independently if their trigger never fires; concurrency edges exist only
// to serialise execution, not to express a real requirement). Items that
// cascade_skip are recursively processed the same way; others just lose the
// dangling dependency. Returns the surviving items and the full list of
// items removed (directly and recursively).
func RemoveDependents(items []*model.Item, depItem *model.Item) ([]*model.Item, []*model.Item) {
	var removed []*model.Item
	for _, item := range items {
		if !containsString(item.Deps, depItem.ID) {
			continue
		}
		switch {
		case TriggersTransitively(items, depItem, item.ID):
			item.Deps = removeString(item.Deps, depItem.ID)
		case containsString(item.ConcurrencyDeps, depItem.ID):
			item.Deps = removeString(item.Deps, depItem.ID)
		default:
			removed = append(removed, item)
		}
	}

	items = removeItems(items, removed)

	var recursivelyRemoved []*model.Item
	for _, gone := range removed {
		if gone.CascadeSkip {
			var more []*model.Item
			items, more = RemoveDependents(items, gone)
			recursivelyRemoved = append(recursivelyRemoved, more...)
		} else {
			items = RemoveDepFromAll(items, gone.ID)
		}
	}

	return items, append(removed, recursivelyRemoved...)
}

// SplitReady extracts the items with no remaining Deps (ready to run) from
// items, leaving the rest behind.
func SplitReady(items []*model.Item) (ready, remaining []*model.Item) {
	for _, item := range items {
		if len(item.Deps) == 0 {
			ready = append(ready, item)
		} else {
			remaining = append(remaining, item)
		}
	}
	return ready, remaining
}

func removeString(list []string, value string) []string {
	for i, s := range list {
		if s == value {
			return append(list[:i:i], list[i+1:]...)
		}
	}
	return list
}

func removeItems(items, drop []*model.Item) []*model.Item {
	if len(drop) == 0 {
		return items
	}
	dropped := make(map[string]bool, len(drop))
	for _, item := range drop {
		dropped[item.ID] = true
	}
	kept := items[:0:0]
	for _, item := range items {
		if !dropped[item.ID] {
			kept = append(kept, item)
		}
	}
	return kept
}
