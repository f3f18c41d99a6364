// Package model holds the data types shared across the metadata and
// dependency-resolution core: paths, nodes, items, reactors, and the
// mapping type layers are made of. Loading these from disk, parsing bundle
// files, and constructing Item-implementing item types are all the
// responsibility of the surrounding repository loader; this package only
// defines the shapes the core operates on.
package model

import (
	"strings"

	"github.com/MaZderMind/bwmeta/internal/pathset"
)

// Mapping is a nested key-value tree: values are either Mapping (for
// further nesting), or scalars/lists that terminate a path.
type Mapping map[string]any

// Path re-exports pathset.Path so callers don't need to import both
// packages just to build one.
type Path = pathset.Path

// SplitPath turns a "/"-joined path string into a Path. An empty string
// yields the root path.
func SplitPath(s string) Path {
	if s == "" {
		return Path{}
	}
	return Path(strings.Split(s, "/"))
}

// Node describes a managed node as seen by the metadata/dependency core.
// The surrounding repository loader is responsible for populating it from
// whatever on-disk format it supports.
type Node struct {
	Name string

	// Groups this node belongs to, in the order the loader declared them.
	// Group hierarchy flattening (parent groups, subgroup expansion) is the
	// loader's job; Groups here is already the flattened membership order
	// closest-first.
	Groups []string

	// Attributes is the node's own raw attributes.metadata mapping (tier 0,
	// layer "node:<name>").
	Attributes Mapping

	// MetadataDefaults are named mappings (tier 2, one layer per name).
	MetadataDefaults []NamedMapping

	// MetadataReactors are this node's registered reactors (tier 1, one
	// layer per reactor once it has run).
	MetadataReactors []*Reactor
}

// NamedMapping pairs a layer name with its mapping, used for
// metadata_defaults entries. Group attribute lookups return a plain Mapping.
type NamedMapping struct {
	Name string
	Data Mapping
}

// GroupAttributes is supplied by the loader: given a group name, return its
// raw attributes.metadata mapping. The core has no notion of how groups are
// stored; it only needs this single lookup plus the node's already-flattened
// Groups order.
type GroupAttributes func(groupName string) Mapping

// ReactorResult is what a Reactor produces: either a Mapping to install as
// the node's tier-1 layer for this reactor, a "pending" signal (the reactor
// needs a key that doesn't exist yet -- tolerated during iteration), a
// "do not run again" signal, or a hard failure.
type ReactorResult struct {
	Mapping       Mapping
	Pending       bool // a wanted key doesn't exist yet; retry on a later pass
	DoNotRunAgain bool
	Err           error // any other error: always fatal, surfaced to the caller
}

// Pending returns a ReactorResult signaling that the reactor is waiting on
// metadata that doesn't exist yet.
func Pending() ReactorResult {
	return ReactorResult{Pending: true}
}

// Done returns a ReactorResult signaling the reactor should never run again.
func Done() ReactorResult {
	return ReactorResult{DoNotRunAgain: true}
}

// Ok returns a ReactorResult carrying a successfully computed mapping.
func Ok(m Mapping) ReactorResult {
	return ReactorResult{Mapping: m}
}

// Fail returns a ReactorResult carrying a fatal error.
func Fail(err error) ReactorResult {
	return ReactorResult{Err: err}
}

// ReactorFunc is the reactor ABI: given a read-only accessor over this (or
// any other) node's evolving metadata, return additional metadata to layer
// in. MetaView is declared as an interface here (see metaview package) to
// avoid a dependency cycle; reactors never need anything but Get/GetDefault.
type ReactorFunc func(view MetaView) ReactorResult

// MetaView is the minimal read surface a reactor needs from a
// metaview.NodeMetaView (or a proxy for another node's view). Defined here,
// not in metaview, so model has no dependency on metaview.
type MetaView interface {
	Get(path Path) (any, error)
	GetDefault(path Path, def any) any
}

// Reactor is a registered metadata reactor: a function plus the metadata
// that drives scheduling (its stable internal name, and the paths it
// pledges to write under).
type Reactor struct {
	name     string
	fn       ReactorFunc
	provides []Path
}

// NewReactor registers a reactor under the given stable internal name. The
// name is what distinguishes reactors from each other for the purposes of
// tier-1 layer identity and do-not-run-again bookkeeping; it must be unique
// within the set of reactors contributing to one node (callers normally
// enforce this per-bundle via ReactorSet.Register, see reactorset.go).
func NewReactor(name string, fn ReactorFunc, provides ...Path) *Reactor {
	return &Reactor{name: name, fn: fn, provides: provides}
}

// Name returns the reactor's stable internal name.
func (r *Reactor) Name() string { return r.name }

// Provides returns the paths this reactor pledges to write under, or nil if
// it made no such pledge (in which case it is always considered relevant).
func (r *Reactor) Provides() []Path { return r.provides }

// Run invokes the reactor function.
func (r *Reactor) Run(view MetaView) ReactorResult { return r.fn(view) }

// Item is the subset of a configuration item's fields the dependency
// resolver needs. Concrete item-type implementations (file/pkg/svc/...) are
// out of scope for this core; callers embed or adapt their own item
// representation into this shape, typically via a thin wrapper.
type Item struct {
	ID     string // "kind:name"
	Bundle string
	Kind   string
	Tags   []string

	Needs       []string
	NeededBy    []string
	Triggers    []string
	TriggeredBy []string
	Precedes    []string
	PrecededBy  []string

	Triggered   bool
	CascadeSkip bool

	// BlockConcurrent returns the kinds this item's kind cannot be applied
	// concurrently with, or nil if it has no such restriction. Called with
	// the os/version a downstream scheduler is targeting.
	BlockConcurrent func(os, version string) []string

	// CannedActions returns this item's catalog of canned actions (e.g.
	// "reload": {...}), keyed by action name.
	CannedActions func() map[string]Mapping

	// Derived fields, populated by ItemResolver.Prepare.
	Deps            []string
	ReverseDeps     []string
	ConcurrencyDeps []string
	FlattenedDeps   []string
	IncomingDeps    []string
	PrecedesItems   []string
}

// NormalizeMapping recursively retypes the map[string]interface{} and
// []interface{} values a generic JSON or YAML decode produces into Mapping,
// so that code descending through a Mapping tree via type assertions (as
// Metastack does) works the same whether the tree was built from literal Go
// composites or decoded from an external format.
func NormalizeMapping(m map[string]any) Mapping {
	if m == nil {
		return nil
	}
	out := make(Mapping, len(m))
	for k, v := range m {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v any) any {
	switch vv := v.(type) {
	case map[string]any:
		return NormalizeMapping(vv)
	case []any:
		out := make([]any, len(vv))
		for i, e := range vv {
			out[i] = normalizeValue(e)
		}
		return out
	default:
		return v
	}
}

// Kind extracts the "kind" half of a "kind:name" id.
func Kind(id string) string {
	i := strings.IndexByte(id, ':')
	if i < 0 {
		return id
	}
	return id[:i]
}
