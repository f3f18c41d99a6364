// Package itemresolver turns a raw list of configuration items into a
// totally ordered dependency DAG: reverse dependencies and triggers are
// translated into forward edges, canned actions are materialized as their
// own items, dependencies are flattened into a transitive closure, and
// items of kinds that may not run concurrently are linearised via synthetic
// daisy-chain edges.
package itemresolver

import (
	"fmt"
	"log/slog"

	"github.com/MaZderMind/bwmeta/internal/bwerrors"
	"github.com/MaZderMind/bwmeta/internal/model"
	"github.com/MaZderMind/bwmeta/internal/selector"
)

// logger is package-scoped rather than carried on a struct: Prepare is a
// stateless pure function over an item list, and a resolver instance never
// outlives a single call the way an Engine or Store does.
var logger = slog.Default()

// SetLogger overrides the resolver's logger (slog.Default() otherwise).
func SetLogger(l *slog.Logger) {
	if l != nil {
		logger = l
	}
}

// Prepare runs all eight dependency-resolution passes over items in order
// and returns the expanded item list (including any synthetic canned-action
// items) with every derived field populated. os and version identify the
// target platform for BlockConcurrent queries.
func Prepare(items []*model.Item, os, version string) ([]*model.Item, error) {
	logger.Debug("resolving item dependencies", "items", len(items), "os", os, "version", version)

	if err := checkBundleCollisions(items); err != nil {
		return nil, err
	}

	for _, item := range items {
		item.Deps = append([]string(nil), item.Needs...)
		if containsString(item.Deps, item.ID) {
			return nil, &bwerrors.ItemDependencyError{
				Item: item.ID, Bundle: item.Bundle, Selector: item.ID,
				Msg: "depends on itself",
			}
		}
	}

	items = injectCannedActions(items)
	logger.Debug("canned actions materialized", "items", len(items))

	if err := injectReverseTriggers(items); err != nil {
		return nil, err
	}
	if err := injectReverseDependencies(items); err != nil {
		return nil, err
	}
	if err := injectTriggerDependencies(items); err != nil {
		return nil, err
	}
	if err := injectPrecededByDependencies(items); err != nil {
		return nil, err
	}
	if err := flattenDependencies(items); err != nil {
		return nil, err
	}
	logger.Debug("dependencies flattened")
	injectConcurrencyBlockers(items, os, version)

	for _, item := range items {
		checkRedundantDependencies(item, items)
	}

	logger.Debug("item dependency resolution complete", "items", len(items))
	return items, nil
}

// checkBundleCollisions enforces that an item id is unique across bundles:
// two bundles defining the same "kind:name" would otherwise silently shadow
// one another during selector resolution. Items are keyed by id before any
// synthetic canned-action items exist, so this only ever sees author-
// declared ids.
func checkBundleCollisions(items []*model.Item) error {
	seen := map[string]*model.Item{}
	for _, item := range items {
		if prior, ok := seen[item.ID]; ok && prior.Bundle != item.Bundle {
			return &bwerrors.BundleError{
				Bundle: item.Bundle,
				Msg: fmt.Sprintf("item %q is also defined in bundle %q; item ids must be unique across all bundles",
					item.ID, prior.Bundle),
			}
		}
		seen[item.ID] = item
	}
	return nil
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

func appendUnique(list []string, value string) []string {
	if containsString(list, value) {
		return list
	}
	return append(list, value)
}

// resolveOrFail resolves selector against items, wrapping an unresolved-id
// (bwerrors.NoSuchItem) or bad-grammar (bwerrors.InputError) failure into an
// ItemDependencyError naming item, its bundle, and the selector that failed.
func resolveOrFail(sel string, items []*model.Item, item *model.Item, context string) ([]*model.Item, error) {
	matches, err := selector.Resolve(sel, items)
	if err != nil {
		return nil, &bwerrors.ItemDependencyError{
			Item: item.ID, Bundle: item.Bundle, Selector: sel,
			Msg: fmt.Sprintf("%s, which %v", context, err),
		}
	}
	return matches, nil
}
