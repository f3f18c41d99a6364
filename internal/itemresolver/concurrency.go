package itemresolver

import "github.com/MaZderMind/bwmeta/internal/model"

// unionFind is a disjoint-set structure over kind names, used to merge
// kinds whose BlockConcurrent lists transitively overlap. This replaces the
// original single-pass "for/else" grouping, which could fail to merge a
// three-way overlap discovered only after the first two groups had already
// been formed; union-find guarantees a fully merged partition regardless of
// the order kinds are visited in.
type unionFind struct {
	parent map[string]string
}

func newUnionFind() *unionFind {
	return &unionFind{parent: map[string]string{}}
}

func (u *unionFind) find(k string) string {
	if _, ok := u.parent[k]; !ok {
		u.parent[k] = k
	}
	if u.parent[k] != k {
		u.parent[k] = u.find(u.parent[k])
	}
	return u.parent[k]
}

func (u *unionFind) union(a, b string) {
	ra, rb := u.find(a), u.find(b)
	if ra != rb {
		u.parent[ra] = rb
	}
}

// injectConcurrencyBlockers finds every kind with a non-empty
// BlockConcurrent(os, version) result, groups those kinds by transitive
// overlap of their blocked-kind lists, and daisy-chains the items of each
// group with synthetic dependencies so they can never be applied
// concurrently.
func injectConcurrencyBlockers(items []*model.Item, os, version string) {
	for _, item := range items {
		item.ConcurrencyDeps = nil
	}

	blockedBy := map[string][]string{} // kind -> kinds it cannot run alongside
	uf := newUnionFind()
	seenKind := map[string]bool{}

	for _, item := range items {
		if item.BlockConcurrent == nil || seenKind[item.Kind] {
			continue
		}
		blocked := item.BlockConcurrent(os, version)
		if len(blocked) == 0 {
			continue
		}
		seenKind[item.Kind] = true
		blockedBy[item.Kind] = blocked

		uf.union(item.Kind, item.Kind)
		for _, other := range blocked {
			uf.union(item.Kind, other)
		}
	}

	groups := map[string]map[string]bool{}
	for kind := range blockedBy {
		root := uf.find(kind)
		if groups[root] == nil {
			groups[root] = map[string]bool{}
		}
		groups[root][kind] = true
		for _, other := range blockedBy[kind] {
			// other may itself never declare BlockConcurrent (e.g. it's only
			// ever named as blocked by someone else), but it's still part of
			// this group and must be included in the daisy chain.
			groups[root][other] = true
		}
	}

	for _, kinds := range groups {
		daisyChainGroup(items, kinds)
	}
}

// daisyChainGroup serialises every item whose kind is in kinds: repeatedly
// pick any item with no remaining in-group dependency, chain it after the
// previously picked item, and remove the picked item from every other
// item's in-group dependency set.
func daisyChainGroup(items []*model.Item, kinds map[string]bool) {
	var group []*model.Item
	for _, item := range items {
		if kinds[item.Kind] {
			group = append(group, item)
		}
	}
	if len(group) == 0 {
		return
	}

	inGroupDeps := map[string]map[string]bool{}
	for _, item := range group {
		deps := map[string]bool{}
		for _, dep := range item.FlattenedDeps {
			if kinds[model.Kind(dep)] {
				deps[dep] = true
			}
		}
		inGroupDeps[item.ID] = deps
	}

	processed := map[string]bool{}
	var previous *model.Item
	for len(processed) < len(group) {
		var next *model.Item
		for _, item := range group {
			if processed[item.ID] {
				continue
			}
			if len(inGroupDeps[item.ID]) == 0 {
				next = item
				break
			}
		}
		if next == nil {
			// every remaining item already has an in-group dependency on
			// another item of this type; nothing further to chain
			break
		}

		if previous != nil && !containsString(next.Deps, previous.ID) {
			next.Deps = append(next.Deps, previous.ID)
			next.ConcurrencyDeps = append(next.ConcurrencyDeps, previous.ID)
			next.FlattenedDeps = appendUnique(next.FlattenedDeps, previous.ID)
		}

		previous = next
		processed[next.ID] = true

		for _, item := range group {
			delete(inGroupDeps[item.ID], next.ID)
		}
	}
}
