package metaengine

import (
	"context"
	"errors"
	"reflect"
	"sort"

	"github.com/MaZderMind/bwmeta/internal/bwerrors"
	"github.com/MaZderMind/bwmeta/internal/metastack"
	"github.com/MaZderMind/bwmeta/internal/metaview"
	"github.com/MaZderMind/bwmeta/internal/model"
	"github.com/MaZderMind/bwmeta/internal/pathset"
)

// initialRunForNode installs a freshly discovered node's static layers --
// metadata_defaults at tier 2 (randomized, to expose colliding keys early),
// groups and the node's own attributes at tier 0 -- then runs every
// reactor once to get the node started.
func (e *Engine) initialRunForNode(ctx context.Context, nodeName string) error {
	node, err := e.loader.Node(ctx, nodeName)
	if err != nil {
		return err
	}
	e.logger.Debug("discovered node", "node", nodeName, "groups", node.Groups, "reactors", len(node.MetadataReactors))
	proxy := e.View(nodeName)
	stack := proxy.Stack()

	defaults := append([]model.NamedMapping(nil), node.MetadataDefaults...)
	e.shuffleDefaults(defaults)
	for _, d := range defaults {
		stack.SetLayer(metastack.TierDefault, d.Name, d.Data)
	}
	stack.CachePartition(metastack.TierDefault)

	for _, groupName := range node.Groups {
		stack.SetLayer(metastack.TierStatic, "group:"+groupName, e.loader.GroupAttributes(groupName))
	}
	stack.SetLayer(metastack.TierStatic, "node:"+nodeName, node.Attributes)
	stack.CachePartition(metastack.TierStatic)

	return e.runReactors(ctx, node, true, true)
}

func (e *Engine) shuffleDefaults(d []model.NamedMapping) {
	e.rng.Shuffle(len(d), func(i, j int) { d[i], d[j] = d[j], d[i] })
}

// runReactors runs node's pending reactors, gated by the with/without-deps
// flags, and updates stability/triggering bookkeeping accordingly.
func (e *Engine) runReactors(ctx context.Context, node *model.Node, withDeps, withoutDeps bool) error {
	e.nodeIterations[node.Name]++
	if e.nodeIterations[node.Name] > e.maxIter {
		e.logger.Warn("metadata iteration limit exceeded", "node", node.Name, "limit", e.maxIter)
		return &bwerrors.IterationLimitError{Node: node.Name, Limit: e.maxIter, TopChangers: e.topChangers(25)}
	}
	if e.nodeIterations[node.Name] > e.maxIter/2 {
		e.logger.Debug("node approaching iteration limit", "node", node.Name, "iteration", e.nodeIterations[node.Name], "limit", e.maxIter)
	}

	proxy := e.View(node.Name)
	anyChanged := false
	relevantBefore := len(e.relevantReactors(node, proxy))

	for _, depsOnly := range [2]bool{true, false} {
		if depsOnly && !withDeps {
			continue
		}
		if !depsOnly && !withoutDeps {
			continue
		}

		pending := e.pendingReactors(node, proxy)
		e.shuffleReactors(pending)

		for _, r := range pending {
			hasDeps := e.reactorsWithDeps[node.Name][r.Name()]
			if depsOnly != hasDeps {
				continue
			}

			changed, deps, err := e.runReactor(ctx, node, proxy, r)
			if err != nil {
				return err
			}
			if changed {
				anyChanged = true
			}
			if len(deps) > 0 {
				if e.reactorsWithDeps[node.Name] == nil {
					e.reactorsWithDeps[node.Name] = map[string]bool{}
				}
				e.reactorsWithDeps[node.Name][r.Name()] = true
			}
			for depNode := range deps {
				if !e.nodesThatRanAtLeastOnce[depNode] {
					e.nodesThatNeverRan[depNode] = true
				}
				if e.nodeDeps[depNode] == nil {
					e.nodeDeps[depNode] = map[string]bool{}
				}
				e.nodeDeps[depNode][node.Name] = true
			}
		}
	}

	if anyChanged {
		for dependent := range e.nodeDeps[node.Name] {
			e.triggeredNodes[dependent] = true
		}
	}

	// A reactor that read a path this node had not been asked for yet can
	// have made further reactors relevant; those have not run, so the node
	// is not stable yet.
	newlyRelevant := len(e.relevantReactors(node, proxy)) > relevantBefore

	if newlyRelevant || (withDeps && anyChanged) {
		e.setNodeStable(node.Name, false)
	} else if withoutDeps {
		e.setNodeStable(node.Name, !anyChanged)
	}
	return nil
}

// runReactor runs a single reactor on node, returning whether its output
// changed and the set of other node names it read while running.
func (e *Engine) runReactor(ctx context.Context, node *model.Node, proxy *metaview.NodeMetaView, r *model.Reactor) (bool, map[string]bool, error) {
	key := reactorKey{node: node.Name, reactor: r.Name()}
	if e.doNotRunAgain[key] {
		return false, nil, nil
	}

	e.reactorsRun++
	engineMetrics.reactorRuns.Add(ctx, 1)
	e.logger.Debug("running reactor", "node", node.Name, "reactor", r.Name())
	oldMapping := proxy.PopReactorLayer(r.Name())

	e.currentPartialAccess = map[string]bool{}
	proxy.SetInReactor(true)
	result := r.Run(proxy)
	proxy.SetInReactor(false)
	deps := e.currentPartialAccess
	e.currentPartialAccess = nil

	if result.Err != nil {
		if errors.Is(result.Err, bwerrors.ErrPending) {
			e.keyErrors[key] = result.Err
			return false, deps, nil
		}
		return false, nil, result.Err
	}

	if result.Pending {
		e.keyErrors[key] = bwerrors.ErrPending
		return false, deps, nil
	}

	if result.DoNotRunAgain {
		e.doNotRunAgain[key] = true
		delete(e.keyErrors, key)
		return false, nil, nil
	}

	delete(e.keyErrors, key)

	if e.verifyProvides && len(r.Provides()) > 0 {
		if extra := extraPathsOutsideProvides(result.Mapping, r.Provides()); len(extra) > 0 {
			return false, nil, &bwerrors.BundleError{
				Bundle: node.Name,
				Msg:    "reactor " + r.Name() + " returned key paths outside its declared provides: " + joinPaths(extra),
			}
		}
	}

	proxy.SetReactorLayer(r.Name(), result.Mapping)

	changed := !reflect.DeepEqual(map[string]any(oldMapping), map[string]any(result.Mapping))
	if changed {
		e.reactorChanges[key]++
		engineMetrics.reactorChanges.Add(ctx, 1)
		e.logger.Debug("reactor output changed", "node", node.Name, "reactor", r.Name())
	}
	return changed, deps, nil
}

// relevantReactors returns the subset of node's reactors that might affect
// some path proxy has been asked about: those with no declared provides
// (always relevant) plus those whose provides set intersects the requested
// paths.
func (e *Engine) relevantReactors(node *model.Node, proxy *metaview.NodeMetaView) []*model.Reactor {
	var out []*model.Reactor
	for _, r := range node.MetadataReactors {
		if len(r.Provides()) == 0 {
			out = append(out, r)
			continue
		}
		provided := pathset.New()
		relevant := false
		for _, p := range r.Provides() {
			provided.Add(p)
			relevant = relevant || proxy.Requested().Covers(p)
		}
		for _, q := range proxy.Requested().Paths() {
			relevant = relevant || provided.Covers(q)
		}
		if relevant {
			out = append(out, r)
		}
	}
	return out
}

// pendingReactors returns node's relevant reactors that haven't completed
// yet.
func (e *Engine) pendingReactors(node *model.Node, proxy *metaview.NodeMetaView) []*model.Reactor {
	var out []*model.Reactor
	for _, r := range e.relevantReactors(node, proxy) {
		if !proxy.ReactorCompleted(r.Name()) {
			out = append(out, r)
		}
	}
	return out
}

func (e *Engine) shuffleReactors(r []*model.Reactor) {
	e.rng.Shuffle(len(r), func(i, j int) { r[i], r[j] = r[j], r[i] })
}

// topChangers returns the n reactors with the highest change counts,
// highest first, for the iteration-cap error message.
func (e *Engine) topChangers(n int) []bwerrors.ReactorChange {
	out := make([]bwerrors.ReactorChange, 0, len(e.reactorChanges))
	for k, count := range e.reactorChanges {
		out = append(out, bwerrors.ReactorChange{Node: k.node, Reactor: k.reactor, Changes: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Changes != out[j].Changes {
			return out[i].Changes > out[j].Changes
		}
		if out[i].Node != out[j].Node {
			return out[i].Node < out[j].Node
		}
		return out[i].Reactor < out[j].Reactor
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// extraPathsOutsideProvides returns every leaf path in mapping that isn't
// covered by provides.
func extraPathsOutsideProvides(mapping model.Mapping, provides []model.Path) []model.Path {
	declared := pathset.New()
	for _, p := range provides {
		declared.Add(p)
	}

	var extra []model.Path
	var walk func(m model.Mapping, prefix model.Path)
	walk = func(m model.Mapping, prefix model.Path) {
		for k, v := range m {
			p := append(append(model.Path(nil), prefix...), k)
			if child, ok := v.(model.Mapping); ok {
				walk(child, p)
			} else if !declared.Covers(p) {
				extra = append(extra, p)
			}
		}
	}
	walk(mapping, nil)
	return extra
}

func joinPaths(paths []model.Path) string {
	out := ""
	for i, p := range paths {
		if i > 0 {
			out += ", "
		}
		for j, seg := range p {
			if j > 0 {
				out += "/"
			}
			out += seg
		}
	}
	return out
}
