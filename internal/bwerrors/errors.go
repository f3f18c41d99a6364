// Package bwerrors defines the typed error taxonomy raised by the metadata
// and dependency-resolution core. Authoring errors (bad selectors, cycles
// that cannot be flattened, missing referents, ...) are fatal and carry
// enough structure to name the offending node, item, bundle, and selector.
package bwerrors

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrPending signals that a metadata reactor is waiting on a metadata key
// that hasn't been produced yet. It is tolerated during fixed-point
// iteration and only becomes fatal if it persists once the engine believes
// it has converged (see PersistentKeyError).
var ErrPending = errors.New("metadata key not yet available")

// NoSuchBundle is raised when a selector or reference names a bundle that
// doesn't exist in the node's bundle set.
type NoSuchBundle struct {
	Name string
}

func (e *NoSuchBundle) Error() string {
	return fmt.Sprintf("bundle not found: %s", e.Name)
}

// NoSuchItem is raised when a selector resolves to a single item id that
// isn't present in the item set (e.g. SelectorResolver.Find, or a "kind:name"
// selector used where the caller demands exactly one match).
type NoSuchItem struct {
	ID string
}

func (e *NoSuchItem) Error() string {
	return fmt.Sprintf("item not found: %s", e.ID)
}

// BundleError covers authoring mistakes scoped to a single bundle: duplicate
// reactor internal names, a triggered/preceded_by item missing its
// "triggered" attribute, and similar.
type BundleError struct {
	Bundle string
	Msg    string
}

func (e *BundleError) Error() string {
	if e.Bundle == "" {
		return e.Msg
	}
	return fmt.Sprintf("bundle %q: %s", e.Bundle, e.Msg)
}

// ItemDependencyError is raised when an item's needs/needed_by/triggers/
// triggered_by/precedes/preceded_by selector cannot be resolved the way the
// item demands (a named single item doesn't exist, a selector is malformed,
// ...). A trigger or preceded_by target missing its "triggered" attribute is
// a BundleError instead.
type ItemDependencyError struct {
	Item     string
	Bundle   string
	Selector string
	Msg      string
}

func (e *ItemDependencyError) Error() string {
	return fmt.Sprintf("%q in bundle %q has a dependency on %q, which %s", e.Item, e.Bundle, e.Selector, e.Msg)
}

// KeyErrorRecord is one (node, reactor) pair that raised ErrPending and never
// recovered by the time the engine believed it had converged.
type KeyErrorRecord struct {
	Node    string
	Reactor string
	Cause   error
}

// PersistentKeyError is raised once MetadataEngine._build terminates with
// one or more reactors still reporting ErrPending.
type PersistentKeyError struct {
	Records []KeyErrorRecord
}

func (e *PersistentKeyError) Error() string {
	records := append([]KeyErrorRecord(nil), e.Records...)
	sort.Slice(records, func(i, j int) bool {
		if records[i].Node != records[j].Node {
			return records[i].Node < records[j].Node
		}
		return records[i].Reactor < records[j].Reactor
	})

	var b strings.Builder
	b.WriteString("these metadata reactors raised a pending-key error even after all other reactors were done:\n")
	for _, r := range records {
		fmt.Fprintf(&b, "\n  %s %s\n    %v\n", r.Node, r.Reactor, r.Cause)
	}
	return b.String()
}

// ReactorChange names a (node, reactor) pair and how many times its output
// changed during a run, used to report the top offenders when the iteration
// cap is exceeded.
type ReactorChange struct {
	Node    string
	Reactor string
	Changes int
}

// IterationLimitError is raised when a node exceeds the configured maximum
// number of reactor-scheduling iterations, almost always because two or
// more reactors are flip-flopping against each other.
type IterationLimitError struct {
	Node        string
	Limit       int
	TopChangers []ReactorChange // at most 25, most-changed first
}

func (e *IterationLimitError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "maximum metadata iterations (%d) exceeded for node %q, "+
		"likely an infinite loop between flip-flopping metadata reactors.\n"+
		"these are the reactors that changed most often:\n\n", e.Limit, e.Node)
	for _, c := range e.TopChangers {
		fmt.Fprintf(&b, "  %d\t%s\t%s\n", c.Changes, c.Node, c.Reactor)
	}
	return b.String()
}

// InputError covers malformed caller input that isn't really about the
// configuration graph at all, e.g. a selector string with no colon.
type InputError struct {
	Msg string
}

func (e *InputError) Error() string {
	return e.Msg
}
