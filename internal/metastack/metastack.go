// Package metastack implements the layered, tiered key-value store that
// backs per-node metadata: a sparse stack of named layers, each living at a
// fixed-priority tier, read by deep-merging from highest to lowest
// priority.
package metastack

import (
	"errors"
	"sort"
	"strings"

	"github.com/MaZderMind/bwmeta/internal/model"
)

// Tier is a priority bucket. Lower numbers win.
type Tier int

const (
	// TierStatic holds node and group attributes.metadata.
	TierStatic Tier = 0
	// TierReactor holds one layer per metadata reactor, named after the
	// reactor's internal name.
	TierReactor Tier = 1
	// TierDefault holds metadata_defaults layers.
	TierDefault Tier = 2
	// TierReserved is not used by the core itself; reserved for callers
	// that need an even lower-priority injection point.
	TierReserved Tier = 3
)

type layerKey struct {
	tier Tier
	name string
}

type layer struct {
	key  layerKey
	data model.Mapping
}

// Stack is a Metastack: an ordered collection of named layers at fixed
// tiers, queryable by deep-merge.
type Stack struct {
	layers    []*layer
	byKey     map[layerKey]*layer
	partition map[Tier]model.Mapping // frozen pre-merged snapshot per tier, if cache_partition was called
}

// New returns an empty Stack.
func New() *Stack {
	return &Stack{byKey: make(map[layerKey]*layer)}
}

// SetLayer installs or replaces the layer named name at tier, returning the
// mapping that previously occupied that slot (nil if none). Installing a
// layer invalidates any cache partition taken of its tier.
func (s *Stack) SetLayer(tier Tier, name string, data model.Mapping) model.Mapping {
	k := layerKey{tier, name}
	var previous model.Mapping
	if existing, ok := s.byKey[k]; ok {
		previous = existing.data
		existing.data = data
	} else {
		l := &layer{key: k, data: data}
		s.byKey[k] = l
		s.layers = append(s.layers, l)
	}
	delete(s.partition, tier)
	return previous
}

// PopLayer removes the layer named name at tier, returning its mapping (or
// an empty mapping if it wasn't present).
func (s *Stack) PopLayer(tier Tier, name string) model.Mapping {
	k := layerKey{tier, name}
	existing, ok := s.byKey[k]
	if !ok {
		return model.Mapping{}
	}
	delete(s.byKey, k)
	for i, l := range s.layers {
		if l == existing {
			s.layers = append(s.layers[:i], s.layers[i+1:]...)
			break
		}
	}
	delete(s.partition, tier)
	return existing.data
}

// orderedLayers returns layers sorted by tier ascending (tier 0 = highest
// priority first), preserving insertion order within a tier.
func (s *Stack) orderedLayers() []*layer {
	out := append([]*layer(nil), s.layers...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].key.tier < out[j].key.tier
	})
	return out
}

// Get resolves path by deep-merging across all layers, highest priority
// first, returning a *notFoundError if no layer reaches it. Callers in the
// engine translate a miss into pending/fatal as appropriate for the
// context they're reading in.
func (s *Stack) Get(path model.Path) (any, error) {
	val, ok := s.resolve(path)
	if !ok {
		return nil, &notFoundError{path: path}
	}
	return val, nil
}

// GetDefault resolves path, returning def if no layer provides it.
func (s *Stack) GetDefault(path model.Path, def any) any {
	val, ok := s.resolve(path)
	if !ok {
		return def
	}
	return val
}

func (s *Stack) resolve(path model.Path) (any, bool) {
	full := s.AsDict()
	return lookup(full, path)
}

func lookup(m model.Mapping, path model.Path) (any, bool) {
	var cur any = model.Mapping(m)
	for _, seg := range path {
		mp, ok := cur.(model.Mapping)
		if !ok {
			return nil, false
		}
		v, ok := mp[seg]
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

// AsDict fully consolidates the stack into one mapping, merging every layer
// from lowest to highest priority so later (higher-priority) merges win.
func (s *Stack) AsDict() model.Mapping {
	out := model.Mapping{}
	ordered := s.orderedLayers()
	for i := len(ordered) - 1; i >= 0; i-- {
		out = deepMerge(out, ordered[i].data)
	}
	return out
}

// AsBlame returns, for every leaf path in the consolidated mapping, the
// ordered list of layer names (highest priority first) that contributed to
// it.
func (s *Stack) AsBlame() map[string][]string {
	blame := map[string][]string{}
	ordered := s.orderedLayers()
	for _, l := range ordered {
		walkLeaves(l.data, nil, func(p model.Path) {
			key := joinPath(p)
			blame[key] = append(blame[key], l.key.name)
		})
	}
	return blame
}

// CachePartition freezes tier, consolidating its layers into a single
// pre-merged snapshot that subsequent reads may reuse. It is purely a
// performance hint; Get/AsDict/AsBlame behave identically with or without a
// partition taken.
func (s *Stack) CachePartition(tier Tier) {
	if s.partition == nil {
		s.partition = map[Tier]model.Mapping{}
	}
	merged := model.Mapping{}
	for _, l := range s.orderedLayers() {
		if l.key.tier != tier {
			continue
		}
		merged = deepMerge(merged, l.data)
	}
	s.partition[tier] = merged
}

// deepMerge merges override on top of base: if both hold mappings at a key,
// recurse; otherwise override wins entirely. base and override are never
// mutated; a new mapping is returned.
func deepMerge(base, override model.Mapping) model.Mapping {
	if override == nil {
		return base
	}
	out := model.Mapping{}
	for k, v := range base {
		out[k] = v
	}
	for k, ov := range override {
		bv, exists := out[k]
		if !exists {
			out[k] = ov
			continue
		}
		bm, bok := bv.(model.Mapping)
		om, ook := ov.(model.Mapping)
		if bok && ook {
			out[k] = deepMerge(bm, om)
		} else {
			out[k] = ov
		}
	}
	return out
}

func walkLeaves(m model.Mapping, prefix model.Path, visit func(model.Path)) {
	for k, v := range m {
		p := append(append(model.Path(nil), prefix...), k)
		if child, ok := v.(model.Mapping); ok {
			walkLeaves(child, p, visit)
		} else {
			visit(p)
		}
	}
}

func joinPath(p model.Path) string {
	return strings.Join([]string(p), "/")
}

// notFoundError is returned by Get when no layer provides a prefix leading
// to the requested path. It is distinct from bwerrors.ErrPending: a plain
// KeyError, not a reactor's "not ready yet" signal. Callers that need to
// tell the two apart use errors.As.
type notFoundError struct {
	path model.Path
}

func (e *notFoundError) Error() string {
	return "no layer provides path " + joinPath(e.path)
}

// NotFound reports whether err is (or wraps) a Stack.Get miss.
func NotFound(err error) bool {
	var nf *notFoundError
	return errors.As(err, &nf)
}
