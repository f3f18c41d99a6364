package metaview

import (
	"context"
	"testing"

	"github.com/MaZderMind/bwmeta/internal/diskcache"
	"github.com/MaZderMind/bwmeta/internal/metastack"
	"github.com/MaZderMind/bwmeta/internal/model"
)

// fakeDriver stands in for the engine: fn does whatever "driving the build
// forward" means for the test (installing layers, marking the view
// satisfied), the way metaengine.Engine.build does for real views.
type fakeDriver struct {
	calls int
	fn    func()
}

func (d *fakeDriver) DriveForward(ctx context.Context, nodeName string) error {
	d.calls++
	if d.fn != nil {
		d.fn()
	}
	return nil
}

func TestGetDrivesEngineOnFirstRead(t *testing.T) {
	stack := metastack.New()
	driver := &fakeDriver{}
	view := New("node1", stack, diskcache.New(""), driver, NewRunLock(), "hash1")
	driver.fn = func() {
		stack.SetLayer(metastack.TierReactor, "r1", model.Mapping{"a": 1})
		view.MarkSatisfied(true)
	}

	v, err := view.Get(model.Path{"a"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 1 {
		t.Fatalf("expected 1, got %v", v)
	}
	if driver.calls != 1 {
		t.Fatalf("expected exactly one drive, got %d", driver.calls)
	}

	if _, err := view.Get(model.Path{"a"}); err != nil {
		t.Fatalf("unexpected error on repeat read: %v", err)
	}
	if driver.calls != 1 {
		t.Fatalf("expected satisfied view to skip re-driving, got %d calls", driver.calls)
	}
}

func TestGetRedrivesWhenRequestedSetEnlarges(t *testing.T) {
	stack := metastack.New()
	driver := &fakeDriver{}
	view := New("node1", stack, diskcache.New(""), driver, NewRunLock(), "hash1")
	driver.fn = func() {
		stack.SetLayer(metastack.TierReactor, "r1", model.Mapping{"a": 1, "b": 2})
		view.MarkSatisfied(true)
	}

	if _, err := view.Get(model.Path{"a"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := view.Get(model.Path{"b"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if driver.calls != 2 {
		t.Fatalf("expected a new path to re-drive the engine, got %d calls", driver.calls)
	}
}

func TestCancelledDriveLeavesViewUnsatisfied(t *testing.T) {
	stack := metastack.New()
	driver := &fakeDriver{} // returns without installing anything or marking satisfied
	view := New("node1", stack, diskcache.New(""), driver, NewRunLock(), "hash1")

	if _, err := view.Get(model.Path{"a"}); err == nil {
		t.Fatalf("expected a pending error for a path nothing provides")
	}
	if view.Satisfied() {
		t.Fatalf("a drive that did no work must not leave the view satisfied")
	}

	if _, err := view.Get(model.Path{"a"}); err == nil {
		t.Fatalf("expected a pending error on the retry too")
	}
	if driver.calls != 2 {
		t.Fatalf("expected the unsatisfied view to re-drive on the next read, got %d calls", driver.calls)
	}
}

func TestCacheHitMarksSatisfiedAndSkipsDriver(t *testing.T) {
	dir := t.TempDir()
	cache := diskcache.New(dir)
	if err := cache.Store("h1", "node1", model.Mapping{"a": float64(7)}); err != nil {
		t.Fatalf("unexpected error priming cache: %v", err)
	}

	driver := &fakeDriver{}
	stack := metastack.New()
	view := New("node1", stack, cache, driver, NewRunLock(), "h1")

	v, err := view.Get(model.Path{"a"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != float64(7) {
		t.Fatalf("expected cached value 7, got %v", v)
	}
	if driver.calls != 0 {
		t.Fatalf("expected a cache hit to skip driving the engine, got %d calls", driver.calls)
	}
	if !view.CameFromCache() {
		t.Fatalf("expected CameFromCache to be true")
	}
}

func TestBlameAndFullStackForbiddenInsideReactor(t *testing.T) {
	stack := metastack.New()
	view := New("node1", stack, diskcache.New(""), &fakeDriver{}, NewRunLock(), "h1")
	view.SetInReactor(true)

	if _, err := view.Blame(); err == nil {
		t.Fatalf("expected Blame to be forbidden inside a reactor")
	}
	if _, err := view.FullStack(); err == nil {
		t.Fatalf("expected FullStack to be forbidden inside a reactor")
	}
}

func TestCrossNodeReadWhileRunningIsMarkedPartial(t *testing.T) {
	run := NewRunLock()
	stackA := metastack.New()
	stackB := metastack.New()
	stackB.SetLayer(metastack.TierStatic, "node", model.Mapping{"b": 1})

	viewB := New("nodeB", stackB, diskcache.New(""), &fakeDriver{}, run, "hB")

	driverA := &fakeDriver{}
	viewA := New("nodeA", stackA, diskcache.New(""), driverA, run, "hA")
	driverA.fn = func() {
		// Simulate a reactor on node A peeking at node B's view while the
		// engine is already running (run.running is true here).
		if _, err := viewB.Get(model.Path{"b"}); err != nil {
			t.Errorf("unexpected error reading node B from within node A's drive: %v", err)
		}
		stackA.SetLayer(metastack.TierReactor, "mirror", model.Mapping{"a": 1})
		viewA.MarkSatisfied(true)
	}

	if _, err := viewA.Get(model.Path{"a"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !viewB.PartialAccessed() {
		t.Fatalf("expected node B's view to be marked partially accessed")
	}
}
