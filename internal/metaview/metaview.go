// Package metaview implements NodeMetaView: the per-node lazy accessor
// reactors and downstream callers read metadata through. A view tracks
// which paths it has been asked about, short-circuits via the disk cache
// when possible, and otherwise drives the metadata engine forward under a
// process-wide lock before finally reading from its Metastack.
package metaview

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MaZderMind/bwmeta/internal/bwerrors"
	"github.com/MaZderMind/bwmeta/internal/diskcache"
	"github.com/MaZderMind/bwmeta/internal/metastack"
	"github.com/MaZderMind/bwmeta/internal/model"
	"github.com/MaZderMind/bwmeta/internal/pathset"
)

// flattenedLayerName is the tier-0 layer name a disk-cache hit is installed
// under, distinguishing it from the node's own static attributes layer.
const flattenedLayerName = "flattened"

// Driver drives the metadata engine forward for one node until the view's
// requested paths are satisfied (or convergence proves they never will
// be). Implemented by metaengine.Engine; declared here as a narrow
// interface so metaview never imports metaengine, which in turn needs to
// import metaview to hand reactors their views.
type Driver interface {
	DriveForward(ctx context.Context, nodeName string) error
}

// RunLock is the process-wide lock shared by every NodeMetaView belonging
// to one engine run. It also tracks whether the engine is currently
// executing a reactor anywhere in the run, which is what lets a reactor's
// own cross-node reads (e.g. "peek at node X's metadata") avoid recursively
// re-entering the engine: a read that arrives while the engine is already
// running against the stack as it currently stands, marking it a partial,
// non-driving access instead of blocking.
type RunLock struct {
	mu              sync.Mutex
	running         bool
	onPartialAccess func(nodeName string)
}

// NewRunLock returns a RunLock for a fresh engine run.
func NewRunLock() *RunLock { return &RunLock{} }

// SetOnPartialAccess registers a callback invoked with a view's node name
// whenever that view is read while the engine is already running
// elsewhere in this run. The engine uses this to record, per reactor
// invocation, which other nodes' metadata it peeked at.
func (r *RunLock) SetOnPartialAccess(fn func(nodeName string)) {
	r.mu.Lock()
	r.onPartialAccess = fn
	r.mu.Unlock()
}

// NodeMetaView is the read/write accessor for one node's evolving
// metadata.
type NodeMetaView struct {
	nodeName string

	stack  *metastack.Stack
	cache  *diskcache.Store
	driver Driver
	run    *RunLock // shared across every view in one engine run

	requested         *pathset.Set
	completedReactors map[string]bool
	satisfied         bool
	cameFromCache     bool
	partialAccessed   bool // true if a cross-node read landed while the engine was already running

	inReactor bool // set by the engine for the duration of one reactor call

	contentHash string // identifies the disk-cache entry for this node's inputs
}

// New returns a NodeMetaView for nodeName, backed by stack and cache
// (cache may be a disabled *diskcache.Store) and driven forward by driver
// under run, the single RunLock shared by every view in this engine run.
func New(nodeName string, stack *metastack.Stack, cache *diskcache.Store, driver Driver, run *RunLock, contentHash string) *NodeMetaView {
	return &NodeMetaView{
		nodeName:          nodeName,
		stack:             stack,
		cache:             cache,
		driver:            driver,
		run:               run,
		requested:         pathset.New(),
		completedReactors: make(map[string]bool),
		contentHash:       contentHash,
	}
}

// NodeName returns the name of the node this view belongs to.
func (v *NodeMetaView) NodeName() string { return v.nodeName }

// Stack returns the view's underlying Metastack so the engine can install
// the tier-0 (static) and tier-2 (defaults) layers an initial node run
// requires. Reactors never see this; they only ever go through Get.
func (v *NodeMetaView) Stack() *metastack.Stack { return v.stack }

// Satisfied reports whether every path requested so far has been served
// either from the disk cache or by reactors that have already completed.
func (v *NodeMetaView) Satisfied() bool { return v.satisfied }

// CameFromCache reports whether the view's current state was loaded
// wholesale from the disk cache rather than computed by reactors.
func (v *NodeMetaView) CameFromCache() bool { return v.cameFromCache }

// Requested returns the set of paths this view has been asked for so far.
func (v *NodeMetaView) Requested() *pathset.Set { return v.requested }

// MarkReactorCompleted records that reactor has finished running (possibly
// signaling DoNotRunAgain) for this node. Called by the engine, not by
// reactors themselves.
func (v *NodeMetaView) MarkReactorCompleted(reactor string) {
	v.completedReactors[reactor] = true
}

// MarkSatisfied is called by the engine once a node's relevant reactors
// have all stabilized.
func (v *NodeMetaView) MarkSatisfied(satisfied bool) {
	v.satisfied = satisfied
}

// MarkCameFromCache lets the engine clear the came-from-cache flag once a
// cached view has been superseded by a real computation.
func (v *NodeMetaView) MarkCameFromCache(cameFromCache bool) {
	v.cameFromCache = cameFromCache
}

// PopReactorLayer removes and returns the tier-1 layer belonging to
// reactor, so it doesn't see its own previous output on the next run.
func (v *NodeMetaView) PopReactorLayer(reactor string) model.Mapping {
	return v.stack.PopLayer(metastack.TierReactor, reactor)
}

// SetReactorLayer installs mapping as reactor's tier-1 layer.
func (v *NodeMetaView) SetReactorLayer(reactor string, mapping model.Mapping) {
	v.stack.SetLayer(metastack.TierReactor, reactor, mapping)
}

// Snapshot returns the view's current consolidated mapping without forcing
// a recomputation or checking the in-reactor restriction; the engine uses
// this to write the disk cache once a node has stabilized.
func (v *NodeMetaView) Snapshot() model.Mapping {
	return v.stack.AsDict()
}

// ReactorCompleted reports whether reactor has already finished for this
// node.
func (v *NodeMetaView) ReactorCompleted(reactor string) bool {
	return v.completedReactors[reactor]
}

// SetInReactor is called by the engine around a reactor invocation so the
// view can forbid Blame/FullStack and so cross-node Get calls made from
// inside a reactor are recorded rather than recursively driving the engine
// (see the partialAccessed bookkeeping on the cross-node path).
func (v *NodeMetaView) SetInReactor(inReactor bool) {
	v.inReactor = inReactor
}

// InReactor reports whether this view is currently being read from inside
// a reactor invocation.
func (v *NodeMetaView) InReactor() bool { return v.inReactor }

// PartialAccessed reports whether this view was ever read while the engine
// was already busy elsewhere in the run, i.e. whether its apparent state
// may be a partial snapshot rather than a value the engine has actually
// finished computing.
func (v *NodeMetaView) PartialAccessed() bool { return v.partialAccessed }

// Get resolves path, first recording it as requested (which may clear
// Satisfied if it enlarges the requested set), then -- on the very first
// call -- attempting a disk-cache load, then driving the engine forward if
// still unsatisfied, and finally reading from the stack. A Get arriving
// while the engine is already running elsewhere in this run (a reactor
// peeking at another node's metadata) never recurses into the engine: it
// just reads whatever the stack currently holds and is marked partial.
//
// A path the stack doesn't (yet) provide is reported as bwerrors.ErrPending
// rather than a plain miss: during fixed-point iteration a missing key may
// simply not have been produced yet, so reactors and callers tolerate it and
// retry on the next pass. It only becomes fatal if it's still missing once
// the engine believes every node has stabilized (see PersistentKeyError).
func (v *NodeMetaView) Get(path model.Path) (any, error) {
	if v.requested.Add(path) {
		v.satisfied = false
	}

	if !v.cameFromCache && !v.satisfied && v.requested.Len() == 1 {
		v.tryLoadFromCache()
	}

	if !v.satisfied {
		if err := v.driveForward(); err != nil {
			return nil, err
		}
	}

	val, err := v.stack.Get(path)
	if err != nil {
		if metastack.NotFound(err) {
			return nil, bwerrors.ErrPending
		}
		return nil, err
	}
	return val, nil
}

// GetDefault is Get with a fallback value instead of an error.
func (v *NodeMetaView) GetDefault(path model.Path, def any) any {
	val, err := v.Get(path)
	if err != nil {
		return def
	}
	return val
}

// Index is the `v[key]` convenience form: a single top-level key read.
func (v *NodeMetaView) Index(key string) (any, error) {
	return v.Get(model.Path{key})
}

// Iter yields the view's top-level (key, value) pairs, after driving the
// engine forward for the root path (the broadest possible request).
func (v *NodeMetaView) Iter() (map[string]any, error) {
	if _, err := v.Get(model.Path{}); err != nil {
		return nil, err
	}
	out := map[string]any{}
	for k, val := range v.stack.AsDict() {
		out[k] = val
	}
	return out, nil
}

// Blame forces a full uncached recomputation and returns, for every leaf
// path, the ordered list of contributing layer names. It is forbidden from
// inside a reactor: reactors must not introspect provenance, only values.
func (v *NodeMetaView) Blame() (map[string][]string, error) {
	if v.inReactor {
		return nil, fmt.Errorf("blame is not available from inside a reactor")
	}
	if err := v.forceFullRecompute(); err != nil {
		return nil, err
	}
	return v.stack.AsBlame(), nil
}

// FullStack forces a full uncached recomputation and returns the
// consolidated mapping. Also forbidden from inside a reactor.
func (v *NodeMetaView) FullStack() (model.Mapping, error) {
	if v.inReactor {
		return nil, fmt.Errorf("full_stack is not available from inside a reactor")
	}
	if err := v.forceFullRecompute(); err != nil {
		return nil, err
	}
	return v.stack.AsDict(), nil
}

func (v *NodeMetaView) forceFullRecompute() error {
	slog.Debug("forcing full metadata recompute", "node", v.nodeName)
	v.cameFromCache = false
	v.stack.PopLayer(metastack.TierStatic, flattenedLayerName)
	v.requested.Add(model.Path{})
	v.satisfied = false
	return v.driveForward()
}

func (v *NodeMetaView) tryLoadFromCache() {
	if v.cache == nil || !v.cache.Enabled() {
		return
	}
	flat, err := v.cache.Load(context.Background(), v.contentHash, v.nodeName)
	if err != nil {
		return
	}
	v.stack.SetLayer(metastack.TierStatic, flattenedLayerName, flat)
	v.cameFromCache = true
	v.satisfied = true
	slog.Debug("node view loaded from disk cache", "node", v.nodeName)
}

// driveForward invokes the engine under the process-wide lock described in
// the concurrency model: metadata generation is single-threaded
// cooperative, and the lock serialises accesses from multiple callers
// driving different nodes' views concurrently. If the engine is already
// running somewhere in this run -- a reactor body reading a different
// node's view -- driveForward does not recurse into it; it records a
// partial access and returns the stack as it currently stands.
func (v *NodeMetaView) driveForward() error {
	if v.run == nil {
		return nil
	}

	v.run.mu.Lock()
	alreadyRunning := v.run.running
	onPartialAccess := v.run.onPartialAccess
	if !alreadyRunning {
		v.run.running = true
	}
	v.run.mu.Unlock()

	if alreadyRunning {
		v.partialAccessed = true
		if onPartialAccess != nil {
			onPartialAccess(v.nodeName)
		}
		return nil
	}

	defer func() {
		v.run.mu.Lock()
		v.run.running = false
		v.run.mu.Unlock()
	}()

	if v.driver == nil {
		return nil
	}
	// The driver marks the view satisfied itself once the node has actually
	// stabilized; a cancelled run returns without marking anything.
	return v.driver.DriveForward(context.Background(), v.nodeName)
}
