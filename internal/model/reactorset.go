package model

import (
	"github.com/google/uuid"

	"github.com/MaZderMind/bwmeta/internal/bwerrors"
)

// BundleMetadata is the aggregate a bundle loader hands to the engine: the
// named default mappings and the reactors one bundle contributes, collected
// into a single object per bundle.
type BundleMetadata struct {
	Bundle   string
	Defaults []NamedMapping
	Reactors []*Reactor
}

// ReactorSet collects reactors from potentially many bundles while
// enforcing that their internal names are unique within a node -- two
// reactors racing to write the same tier-1 layer name would silently
// clobber each other's "do not run again" bookkeeping.
type ReactorSet struct {
	byName map[string]*Reactor
	order  []*Reactor
}

// NewReactorSet returns an empty ReactorSet.
func NewReactorSet() *ReactorSet {
	return &ReactorSet{byName: make(map[string]*Reactor)}
}

// Register adds md's reactors to the set, returning an error if any name
// collides with one already registered (typically from a different
// bundle).
func (s *ReactorSet) Register(md BundleMetadata) error {
	for _, r := range md.Reactors {
		if _, exists := s.byName[r.Name()]; exists {
			return &bwerrors.BundleError{
				Bundle: md.Bundle,
				Msg:    "duplicate metadata reactor name " + r.Name(),
			}
		}
		s.byName[r.Name()] = r
		s.order = append(s.order, r)
	}
	return nil
}

// Reactors returns the registered reactors in registration order.
func (s *ReactorSet) Reactors() []*Reactor {
	return s.order
}

// RunID is an opaque correlation id for one engine run (one build, from its
// start through convergence), threaded through log lines and trace
// spans so a single build's worth of reactor activity can be grepped back
// together. It has no bearing on metadata identity or caching.
type RunID string

// NewRunID returns a fresh, randomly generated RunID.
func NewRunID() RunID {
	return RunID(uuid.NewString())
}

func (id RunID) String() string { return string(id) }
