package itemresolver

import "github.com/MaZderMind/bwmeta/internal/model"

// injectCannedActions materializes every item's catalog of canned actions
// (e.g. "svc_upstart:mysql:reload") as its own triggered-only item, appended
// to the returned list. Synthetic ids skip the usual name-collision
// validation other passes perform.
func injectCannedActions(items []*model.Item) []*model.Item {
	var actions []*model.Item
	for _, item := range items {
		if item.CannedActions == nil {
			continue
		}
		for name := range item.CannedActions() {
			actions = append(actions, &model.Item{
				ID:        item.ID + ":" + name,
				Bundle:    item.Bundle,
				Kind:      "action",
				Triggered: true,
			})
		}
	}
	return append(items, actions...)
}
