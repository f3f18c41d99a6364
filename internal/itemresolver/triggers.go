package itemresolver

import (
	"github.com/MaZderMind/bwmeta/internal/bwerrors"
	"github.com/MaZderMind/bwmeta/internal/model"
	"github.com/MaZderMind/bwmeta/internal/selector"
)

// injectReverseTriggers turns every item's triggered_by and precedes
// attributes into standard triggers/preceded_by entries defined on the
// opposing end, so later passes only ever need to look at Triggers and
// PrecededBy.
func injectReverseTriggers(items []*model.Item) error {
	for _, item := range items {
		for _, sel := range item.TriggeredBy {
			triggering, err := resolveOrFail(sel, items, item, "has a reverse trigger (triggered_by) on a selector that doesn't exist")
			if err != nil {
				return err
			}
			for _, t := range triggering {
				t.Triggers = appendUnique(t.Triggers, item.ID)
			}
		}
		for _, sel := range item.Precedes {
			preceded, err := resolveOrFail(sel, items, item, "has a reverse trigger (precedes) on a selector that doesn't exist")
			if err != nil {
				return err
			}
			for _, p := range preceded {
				p.PrecededBy = appendUnique(p.PrecededBy, item.ID)
			}
		}
	}
	return nil
}

// injectTriggerDependencies injects a dependency from every triggered item
// back to the item that triggers it: the triggering item must run first so
// it can decide whether the trigger fires.
func injectTriggerDependencies(items []*model.Item) error {
	for _, item := range items {
		for _, sel := range item.Triggers {
			triggered, err := resolveOrFail(sel, items, item, "triggers an item that doesn't exist")
			if err != nil {
				return err
			}
			for _, t := range triggered {
				if !t.Triggered {
					return &bwerrors.BundleError{
						Bundle: t.Bundle,
						Msg:    t.ID + " is triggered by " + item.ID + " in bundle " + item.Bundle + ", but is missing the 'triggered' attribute",
					}
				}
				t.Deps = appendUnique(t.Deps, item.ID)
			}
		}
	}
	return nil
}

// injectPrecededByDependencies injects a dependency from every item with a
// preceded_by entry to the item that must run first, and records the
// reverse link (PrecedesItems) for the preceding item.
func injectPrecededByDependencies(items []*model.Item) error {
	for _, item := range items {
		if len(item.PrecededBy) > 0 && item.Triggered {
			return &bwerrors.BundleError{
				Bundle: item.Bundle,
				Msg:    "triggered item " + item.ID + " must not use preceded_by (use chained triggers instead)",
			}
		}
		for _, sel := range item.PrecededBy {
			preceding, err := resolveOrFail(sel, items, item, "is preceded by an item that doesn't exist")
			if err != nil {
				return err
			}
			for _, p := range preceding {
				if !p.Triggered {
					return &bwerrors.BundleError{
						Bundle: p.Bundle,
						Msg:    p.ID + " precedes " + item.ID + " in bundle " + item.Bundle + ", but is missing the 'triggered' attribute",
					}
				}
				p.PrecedesItems = appendUnique(p.PrecedesItems, item.ID)
				item.Deps = appendUnique(item.Deps, p.ID)
			}
		}
	}
	return nil
}

// TriggersTransitively reports whether item directly or indirectly (through
// items it triggers) triggers the item identified by targetID. Used to
// decide whether a dependent of a skipped item can simply drop the
// dependency (the chain will never fire) instead of being skipped in turn.
func TriggersTransitively(items []*model.Item, item *model.Item, targetID string) bool {
	for _, sel := range item.Triggers {
		if sel == targetID {
			return true
		}
		triggered, err := selector.Find(sel, items)
		if err != nil {
			// the triggered item may already have been skipped
			continue
		}
		if TriggersTransitively(items, triggered, targetID) {
			return true
		}
	}
	return false
}
