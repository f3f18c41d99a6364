package metaengine

import (
	"context"
	"errors"
	"testing"

	"github.com/MaZderMind/bwmeta/internal/bwerrors"
	"github.com/MaZderMind/bwmeta/internal/diskcache"
	"github.com/MaZderMind/bwmeta/internal/model"
)

type fakeLoader struct {
	nodes  map[string]*model.Node
	groups map[string]model.Mapping
}

func newFakeLoader() *fakeLoader {
	return &fakeLoader{nodes: map[string]*model.Node{}, groups: map[string]model.Mapping{}}
}

func (l *fakeLoader) add(n *model.Node) { l.nodes[n.Name] = n }

func (l *fakeLoader) Node(_ context.Context, name string) (*model.Node, error) {
	n, ok := l.nodes[name]
	if !ok {
		return nil, &bwerrors.NoSuchItem{ID: name}
	}
	return n, nil
}

func (l *fakeLoader) GroupAttributes(groupName string) model.Mapping {
	return l.groups[groupName]
}

func (l *fakeLoader) ContentHash(nodeName string) string { return "hash-" + nodeName }

func TestEngineConvergesSingleNode(t *testing.T) {
	loader := newFakeLoader()
	ran := 0
	node := &model.Node{
		Name:       "node1",
		Attributes: model.Mapping{"role": "web"},
		MetadataReactors: []*model.Reactor{
			model.NewReactor("add_port", func(view model.MetaView) model.ReactorResult {
				ran++
				role, _ := view.Get(model.Path{"role"})
				if role == "web" {
					return model.Ok(model.Mapping{"port": 80})
				}
				return model.Ok(model.Mapping{})
			}, model.Path{"port"}),
		},
	}
	loader.add(node)

	e := New(loader, diskcache.New(""), 100, false, 42)
	view := e.View("node1")

	port, err := view.Get(model.Path{"port"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if port != 80 {
		t.Fatalf("expected port 80, got %v", port)
	}
	if !view.Satisfied() {
		t.Fatalf("expected view to be satisfied after convergence")
	}
	if ran == 0 {
		t.Fatalf("expected the reactor to have run at least once")
	}
}

func TestEngineTwoReactorChainConverges(t *testing.T) {
	loader := newFakeLoader()
	r2Runs := 0
	node := &model.Node{
		Name: "node1",
		MetadataReactors: []*model.Reactor{
			model.NewReactor("base", func(view model.MetaView) model.ReactorResult {
				return model.Ok(model.Mapping{"a": 1})
			}, model.Path{"a"}),
			model.NewReactor("derived", func(view model.MetaView) model.ReactorResult {
				r2Runs++
				v, err := view.Get(model.Path{"a"})
				if err != nil {
					if errors.Is(err, bwerrors.ErrPending) {
						return model.Pending()
					}
					return model.Fail(err)
				}
				return model.Ok(model.Mapping{"b": v.(int) + 1})
			}, model.Path{"b"}),
		},
	}
	loader.add(node)

	e := New(loader, diskcache.New(""), 100, false, 42)
	view := e.View("node1")

	b, err := view.Get(model.Path{"b"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b != 2 {
		t.Fatalf("expected b == a+1 == 2, got %v", b)
	}
	a, err := view.Get(model.Path{"a"})
	if err != nil || a != 1 {
		t.Fatalf("expected a == 1, got %v, %v", a, err)
	}
	if r2Runs < 2 {
		t.Fatalf("expected the derived reactor to be re-verified at least once, ran %d times", r2Runs)
	}
}

func TestEngineWritesAndReloadsDiskCache(t *testing.T) {
	dir := t.TempDir()
	loader := newFakeLoader()
	node := &model.Node{
		Name:       "node1",
		Attributes: model.Mapping{"role": "web"},
		MetadataReactors: []*model.Reactor{
			model.NewReactor("computed", func(view model.MetaView) model.ReactorResult {
				return model.Ok(model.Mapping{"computed": true})
			}, model.Path{"computed"}),
		},
	}
	loader.add(node)

	e1 := New(loader, diskcache.New(dir), 100, false, 5)
	view1 := e1.View("node1")
	full, err := view1.Iter()
	if err != nil {
		t.Fatalf("unexpected error on full read: %v", err)
	}
	if full["role"] != "web" || full["computed"] != true {
		t.Fatalf("unexpected consolidated mapping: %v", full)
	}
	if view1.CameFromCache() {
		t.Fatalf("first build must not report coming from cache")
	}

	// A fresh engine over the same inputs should serve a full-root read
	// wholesale from the blob the first build wrote.
	e2 := New(loader, diskcache.New(dir), 100, false, 5)
	view2 := e2.View("node1")
	reloaded, err := view2.Iter()
	if err != nil {
		t.Fatalf("unexpected error reading from cache: %v", err)
	}
	if reloaded["role"] != "web" || reloaded["computed"] != true {
		t.Fatalf("expected the cached blob to reproduce the consolidated mapping, got %v", reloaded)
	}
	if !view2.CameFromCache() {
		t.Fatalf("expected the second engine's view to come from the disk cache")
	}
}

func TestEngineCrossNodeDependencyTriggersReRun(t *testing.T) {
	loader := newFakeLoader()

	nodeB := &model.Node{
		Name:       "nodeB",
		Attributes: model.Mapping{"upstream_port": 8080},
	}
	loader.add(nodeB)

	var engineRef *Engine
	nodeA := &model.Node{
		Name: "nodeA",
		MetadataReactors: []*model.Reactor{
			model.NewReactor("mirror_port", func(view model.MetaView) model.ReactorResult {
				other := engineRef.View("nodeB")
				port, err := other.Get(model.Path{"upstream_port"})
				if err != nil {
					if errors.Is(err, bwerrors.ErrPending) {
						return model.Pending()
					}
					return model.Fail(err)
				}
				return model.Ok(model.Mapping{"mirrored_port": port})
			}, model.Path{"mirrored_port"}),
		},
	}
	loader.add(nodeA)

	e := New(loader, diskcache.New(""), 100, false, 7)
	engineRef = e

	viewA := e.View("nodeA")
	got, err := viewA.Get(model.Path{"mirrored_port"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 8080 {
		t.Fatalf("expected mirrored_port 8080, got %v", got)
	}

	viewB := e.View("nodeB")
	if !viewB.PartialAccessed() {
		t.Fatalf("expected node B to be recorded as partially accessed by node A's reactor")
	}
}

func TestEngineDoNotRunAgainRunsExactlyOnce(t *testing.T) {
	loader := newFakeLoader()
	runs := 0
	node := &model.Node{
		Name: "node1",
		MetadataReactors: []*model.Reactor{
			model.NewReactor("once", func(view model.MetaView) model.ReactorResult {
				runs++
				return model.Done()
			}, model.Path{"never_written"}),
		},
	}
	loader.add(node)

	e := New(loader, diskcache.New(""), 100, false, 1)
	view := e.View("node1")

	if _, err := view.Get(model.Path{"never_written"}); !errors.Is(err, bwerrors.ErrPending) {
		t.Fatalf("expected ErrPending for a path no reactor ever writes, got %v", err)
	}
	if runs != 1 {
		t.Fatalf("expected the DoNotRunAgain reactor to run exactly once, ran %d times", runs)
	}
}

func TestEngineIterationCapOnFlipFloppingReactor(t *testing.T) {
	loader := newFakeLoader()
	node := &model.Node{
		Name: "node1",
		MetadataReactors: []*model.Reactor{
			model.NewReactor("flips", func(view model.MetaView) model.ReactorResult {
				n := view.GetDefault(model.Path{"n"}, 0)
				cur, _ := n.(int)
				return model.Ok(model.Mapping{"n": cur + 1})
			}, model.Path{"n"}),
		},
	}
	loader.add(node)

	e := New(loader, diskcache.New(""), 5, false, 1)
	view := e.View("node1")

	if _, err := view.Get(model.Path{"n"}); err == nil {
		t.Fatalf("expected the flip-flopping reactor to exceed the iteration cap")
	} else {
		var iterErr *bwerrors.IterationLimitError
		if !errors.As(err, &iterErr) {
			t.Fatalf("expected an IterationLimitError, got %T: %v", err, err)
		}
	}
}

func TestEngineVerifyReactorProvidesViolation(t *testing.T) {
	loader := newFakeLoader()
	node := &model.Node{
		Name: "node1",
		MetadataReactors: []*model.Reactor{
			model.NewReactor("sloppy", func(view model.MetaView) model.ReactorResult {
				return model.Ok(model.Mapping{"declared": 1, "undeclared": 2})
			}, model.Path{"declared"}),
		},
	}
	loader.add(node)

	e := New(loader, diskcache.New(""), 100, true, 3)
	view := e.View("node1")

	if _, err := view.Get(model.Path{"declared"}); err == nil {
		t.Fatalf("expected a BundleError for writing outside declared provides")
	} else {
		var bundleErr *bwerrors.BundleError
		if !errors.As(err, &bundleErr) {
			t.Fatalf("expected a BundleError, got %T: %v", err, err)
		}
	}
}

func TestEnginePersistentKeyErrorOnUnresolvablePending(t *testing.T) {
	loader := newFakeLoader()
	node := &model.Node{
		Name: "node1",
		MetadataReactors: []*model.Reactor{
			model.NewReactor("never_satisfied", func(view model.MetaView) model.ReactorResult {
				return model.Pending()
			}, model.Path{"whatever"}),
		},
	}
	loader.add(node)

	e := New(loader, diskcache.New(""), 10, false, 9)
	view := e.View("node1")

	_, err := view.Get(model.Path{"whatever"})
	if err == nil {
		t.Fatalf("expected a PersistentKeyError")
	}
	var persistErr *bwerrors.PersistentKeyError
	if !errors.As(err, &persistErr) {
		t.Fatalf("expected a PersistentKeyError, got %T: %v", err, err)
	}
	if len(persistErr.Records) != 1 {
		t.Fatalf("expected exactly one pending-key record, got %d", len(persistErr.Records))
	}
}
