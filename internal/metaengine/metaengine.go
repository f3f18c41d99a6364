// Package metaengine implements the metadata fixed-point engine: given an
// initial node, it drives every reachable node's reactors to a stable
// state such that the initial node's requested metadata paths are fully
// resolved, handling cross-node reads, flip-flop detection, and the
// optional disk cache along the way.
package metaengine

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MaZderMind/bwmeta/internal/bwerrors"
	"github.com/MaZderMind/bwmeta/internal/diskcache"
	"github.com/MaZderMind/bwmeta/internal/metastack"
	"github.com/MaZderMind/bwmeta/internal/metaview"
	"github.com/MaZderMind/bwmeta/internal/model"
)

// Loader supplies the external inputs the engine treats as given: node
// definitions, group attributes, and a content hash used to key the disk
// cache. Everything about loading bundles and parsing files lives outside
// this package.
type Loader interface {
	Node(ctx context.Context, name string) (*model.Node, error)
	GroupAttributes(groupName string) model.Mapping
	ContentHash(nodeName string) string
}

type reactorKey struct {
	node    string
	reactor string
}

// Engine is the metadata fixed-point engine. One Engine instance spans
// potentially many builds (one per distinct initial node a caller asks
// about); the scheduling bookkeeping below is reset at the start of each
// build, while the proxies and stacks it has accumulated persist across
// builds within the same process run.
type Engine struct {
	loader         Loader
	cache          *diskcache.Store
	maxIter        int
	verifyProvides bool
	rng            *rand.Rand
	logger         *slog.Logger

	run     *metaview.RunLock
	proxies map[string]*metaview.NodeMetaView

	// Reset at the start of every build.
	doNotRunAgain           map[reactorKey]bool
	keyErrors               map[reactorKey]error
	nodeDeps                map[string]map[string]bool
	nodeIterations          map[string]int
	nodeStable              map[string]bool
	nodeStableOrder         []string
	nodesThatNeverRan       map[string]bool
	nodesThatRanAtLeastOnce map[string]bool
	triggeredNodes          map[string]bool
	reactorsRun             int
	reactorChanges          map[reactorKey]int
	reactorsWithDeps        map[string]map[string]bool

	currentPartialAccess map[string]bool
	currentRunID         model.RunID
}

// CurrentRunID returns the correlation id of the build currently (or most
// recently) in progress, for callers that want to tie log lines or external
// telemetry back to one fixed-point run.
func (e *Engine) CurrentRunID() model.RunID { return e.currentRunID }

// SetLogger overrides the Engine's logger (slog.Default() otherwise).
func (e *Engine) SetLogger(l *slog.Logger) {
	if l != nil {
		e.logger = l
	}
}

// New returns an Engine backed by loader and cache, capping per-node
// reactor scheduling iterations at maxIter and optionally validating
// reactor outputs against their declared provides. randSeed seeds the
// randomization used for defaults installation order, reactor scheduling
// order, and the final with-deps sweep order; a zero seed draws entropy
// from the runtime instead of being reproducible.
func New(loader Loader, cache *diskcache.Store, maxIter int, verifyProvides bool, randSeed int64) *Engine {
	var rng *rand.Rand
	if randSeed != 0 {
		rng = rand.New(rand.NewPCG(uint64(randSeed), uint64(randSeed>>1)|1))
	} else {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	e := &Engine{
		loader:         loader,
		cache:          cache,
		maxIter:        maxIter,
		verifyProvides: verifyProvides,
		rng:            rng,
		logger:         slog.Default(),
		run:            metaview.NewRunLock(),
		proxies:        map[string]*metaview.NodeMetaView{},
	}
	e.run.SetOnPartialAccess(func(nodeName string) {
		if e.currentPartialAccess != nil {
			e.currentPartialAccess[nodeName] = true
		}
	})
	return e
}

// View returns the NodeMetaView for nodeName, creating it (and an empty
// backing Metastack) on first use. Callers read metadata exclusively
// through the returned view's Get/Iter/Blame/FullStack.
func (e *Engine) View(nodeName string) *metaview.NodeMetaView {
	if p, ok := e.proxies[nodeName]; ok {
		return p
	}
	p := metaview.New(nodeName, metastack.New(), e.cache, e, e.run, e.loader.ContentHash(nodeName))
	e.proxies[nodeName] = p
	return p
}

// ClearCache removes the entire on-disk metadata cache.
func (e *Engine) ClearCache() error {
	return e.cache.Clear()
}

// DriveForward implements metaview.Driver: it is called by a NodeMetaView
// when it needs the engine to do work on its behalf. NodeMetaView already
// guarantees (via the shared RunLock) that only one DriveForward call is
// active at a time across the whole run.
func (e *Engine) DriveForward(ctx context.Context, nodeName string) error {
	return e.build(ctx, nodeName)
}

func (e *Engine) build(ctx context.Context, initialNodeName string) error {
	runID := model.NewRunID()
	ctx, span := engineTracer.Start(ctx, "metaengine.build",
		trace.WithAttributes(
			attribute.String("bwmeta.run_id", runID.String()),
			attribute.String("bwmeta.initial_node", initialNodeName),
		))
	start := time.Now()
	defer func() {
		engineMetrics.buildSeconds.Record(ctx, time.Since(start).Seconds())
		span.End()
	}()

	e.logger.Debug("metadata build starting", "run_id", runID, "initial_node", initialNodeName)

	e.resetRunState()
	e.currentRunID = runID
	e.nodesThatNeverRan[initialNodeName] = true

	for {
		if err := ctx.Err(); err != nil {
			e.logger.Debug("metadata build cancelled", "run_id", runID, "error", err)
			return nil // cooperative cancellation: return early, nothing marked satisfied
		}

		startOver, err := e.runStages(ctx)
		if err != nil {
			return err
		}
		if !startOver {
			break
		}
		engineMetrics.startOvers.Add(ctx, 1)
	}

	for _, nodeName := range e.nodeStableOrder {
		proxy := e.View(nodeName)
		node, err := e.loader.Node(ctx, nodeName)
		if err != nil {
			return err
		}
		for _, r := range e.relevantReactors(node, proxy) {
			proxy.MarkReactorCompleted(r.Name())
		}
		proxy.MarkSatisfied(true)
		proxy.MarkCameFromCache(false)

		if e.cache.Enabled() && proxy.Requested().Covers(model.Path{}) {
			hash := e.loader.ContentHash(nodeName)
			snapshot := proxy.Snapshot()
			err := e.cache.WithLock(hash, func() error {
				return e.cache.Store(hash, nodeName, snapshot)
			})
			if err != nil {
				return fmt.Errorf("writing metadata disk cache for %s: %w", nodeName, err)
			}
		}
	}

	if len(e.keyErrors) > 0 {
		records := make([]bwerrors.KeyErrorRecord, 0, len(e.keyErrors))
		for k, cause := range e.keyErrors {
			records = append(records, bwerrors.KeyErrorRecord{Node: k.node, Reactor: k.reactor, Cause: cause})
		}
		e.logger.Warn("metadata build converged with persistent pending reactors", "run_id", runID, "count", len(records))
		return &bwerrors.PersistentKeyError{Records: records}
	}
	e.logger.Debug("metadata build converged", "run_id", runID, "reactors_run", e.reactorsRun)
	return nil
}

func (e *Engine) resetRunState() {
	e.doNotRunAgain = map[reactorKey]bool{}
	e.keyErrors = map[reactorKey]error{}
	e.nodeDeps = map[string]map[string]bool{}
	e.nodeIterations = map[string]int{}
	e.nodeStable = map[string]bool{}
	e.nodeStableOrder = nil
	e.nodesThatNeverRan = map[string]bool{}
	e.nodesThatRanAtLeastOnce = map[string]bool{}
	e.triggeredNodes = map[string]bool{}
	e.reactorsRun = 0
	e.reactorChanges = map[reactorKey]int{}
	e.reactorsWithDeps = map[string]map[string]bool{}
}

// runStages executes one pass over the four build stages, stopping at the
// first one that reports work was done (startOver=true).
func (e *Engine) runStages(ctx context.Context) (bool, error) {
	if startOver, err := e.stageDiscoverNewNodes(ctx); startOver || err != nil {
		return startOver, err
	}
	if startOver, err := e.stageRunTriggeredNodes(ctx); startOver || err != nil {
		return startOver, err
	}
	if startOver, err := e.stageStabiliseWithoutDeps(ctx); startOver || err != nil {
		return startOver, err
	}
	return e.stageStabiliseWithDeps(ctx)
}

func (e *Engine) stageDiscoverNewNodes(ctx context.Context) (bool, error) {
	nodeName, ok := popAny(e.nodesThatNeverRan)
	if !ok {
		return false, nil
	}
	e.nodesThatRanAtLeastOnce[nodeName] = true
	if err := e.initialRunForNode(ctx, nodeName); err != nil {
		return false, err
	}
	return true, nil
}

func (e *Engine) stageRunTriggeredNodes(ctx context.Context) (bool, error) {
	nodeName, ok := popAny(e.triggeredNodes)
	if !ok {
		return false, nil
	}
	node, err := e.loader.Node(ctx, nodeName)
	if err != nil {
		return false, err
	}
	if err := e.runReactors(ctx, node, true, false); err != nil {
		return false, err
	}
	return true, nil
}

func (e *Engine) stageStabiliseWithoutDeps(ctx context.Context) (bool, error) {
	encounteredUnstable := false
	for _, nodeName := range append([]string(nil), e.nodeStableOrder...) {
		if e.nodeStable[nodeName] {
			continue
		}
		node, err := e.loader.Node(ctx, nodeName)
		if err != nil {
			return false, err
		}
		if err := e.runReactors(ctx, node, false, true); err != nil {
			return false, err
		}
		if !e.nodeStable[nodeName] {
			encounteredUnstable = true
		}
		if len(e.nodesThatNeverRan) > 0 {
			return true, nil
		}
	}
	return encounteredUnstable, nil
}

func (e *Engine) stageStabiliseWithDeps(ctx context.Context) (bool, error) {
	order := append([]string(nil), e.nodeStableOrder...)
	e.shuffle(order)

	encounteredUnstable := false
	for _, nodeName := range order {
		node, err := e.loader.Node(ctx, nodeName)
		if err != nil {
			return false, err
		}
		if err := e.runReactors(ctx, node, true, false); err != nil {
			return false, err
		}
		if !e.nodeStable[nodeName] {
			encounteredUnstable = true
		}
		if len(e.nodesThatNeverRan) > 0 {
			return true, nil
		}
	}
	return encounteredUnstable, nil
}

func (e *Engine) setNodeStable(nodeName string, stable bool) {
	if _, ok := e.nodeStable[nodeName]; !ok {
		e.nodeStableOrder = append(e.nodeStableOrder, nodeName)
	}
	e.nodeStable[nodeName] = stable
}

// popAny removes and returns an arbitrary member of set. Go map iteration
// order is randomized per-process already; no extra shuffling is needed
// to match the "pop one, order unspecified" semantics this mirrors.
func popAny(set map[string]bool) (string, bool) {
	for k := range set {
		delete(set, k)
		return k, true
	}
	return "", false
}

func (e *Engine) shuffle(s []string) {
	e.rng.Shuffle(len(s), func(i, j int) { s[i], s[j] = s[j], s[i] })
}
