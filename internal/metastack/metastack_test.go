package metastack

import (
	"testing"

	"github.com/MaZderMind/bwmeta/internal/model"
)

func TestGetPrefersHighestPriorityTier(t *testing.T) {
	s := New()
	s.SetLayer(TierDefault, "bundle-defaults", model.Mapping{"net": model.Mapping{"mtu": 1500}})
	s.SetLayer(TierStatic, "node:foo", model.Mapping{"net": model.Mapping{"mtu": 9000}})

	v, err := s.Get(model.Path{"net", "mtu"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 9000 {
		t.Fatalf("expected static tier to win, got %v", v)
	}
}

func TestGetDeepMergesMappings(t *testing.T) {
	s := New()
	s.SetLayer(TierDefault, "defaults", model.Mapping{"net": model.Mapping{"mtu": 1500, "vlan": 10}})
	s.SetLayer(TierStatic, "node", model.Mapping{"net": model.Mapping{"mtu": 9000}})

	full := s.AsDict()
	net := full["net"].(model.Mapping)
	if net["mtu"] != 9000 {
		t.Fatalf("expected static mtu to win, got %v", net["mtu"])
	}
	if net["vlan"] != 10 {
		t.Fatalf("expected defaults vlan to survive the merge, got %v", net["vlan"])
	}
}

func TestGetMissingPathIsNotFound(t *testing.T) {
	s := New()
	s.SetLayer(TierStatic, "node", model.Mapping{"a": 1})

	_, err := s.Get(model.Path{"b"})
	if err == nil {
		t.Fatalf("expected an error for a path no layer provides")
	}
	if !NotFound(err) {
		t.Fatalf("expected NotFound(err) to be true, got %v", err)
	}
}

func TestGetDefaultFallsBack(t *testing.T) {
	s := New()
	if got := s.GetDefault(model.Path{"missing"}, "fallback"); got != "fallback" {
		t.Fatalf("expected fallback value, got %v", got)
	}
}

func TestSetLayerReplacesAndReturnsPrevious(t *testing.T) {
	s := New()
	s.SetLayer(TierReactor, "r1", model.Mapping{"a": 1})
	prev := s.SetLayer(TierReactor, "r1", model.Mapping{"a": 2})
	if prev["a"] != 1 {
		t.Fatalf("expected previous mapping to be returned, got %v", prev)
	}
	v, _ := s.Get(model.Path{"a"})
	if v != 2 {
		t.Fatalf("expected replaced value 2, got %v", v)
	}
}

func TestPopLayerRemoves(t *testing.T) {
	s := New()
	s.SetLayer(TierReactor, "r1", model.Mapping{"a": 1})
	popped := s.PopLayer(TierReactor, "r1")
	if popped["a"] != 1 {
		t.Fatalf("expected popped mapping, got %v", popped)
	}
	if _, err := s.Get(model.Path{"a"}); err == nil {
		t.Fatalf("expected path to be gone after popping its only layer")
	}
	if again := s.PopLayer(TierReactor, "r1"); len(again) != 0 {
		t.Fatalf("expected popping a missing layer to return empty, got %v", again)
	}
}

func TestAsBlameListsContributingLayersInPriorityOrder(t *testing.T) {
	s := New()
	s.SetLayer(TierDefault, "defaults", model.Mapping{"a": 1})
	s.SetLayer(TierReactor, "reactorX", model.Mapping{"a": 2})
	s.SetLayer(TierStatic, "node", model.Mapping{"b": 3})

	blame := s.AsBlame()
	a := blame["a"]
	if len(a) != 2 || a[0] != "reactorX" || a[1] != "defaults" {
		t.Fatalf("expected [reactorX, defaults] for key a, got %v", a)
	}
	if b := blame["b"]; len(b) != 1 || b[0] != "node" {
		t.Fatalf("expected [node] for key b, got %v", b)
	}
}

func TestCachePartitionDoesNotChangeReadResults(t *testing.T) {
	s := New()
	s.SetLayer(TierDefault, "defaults", model.Mapping{"a": 1, "b": 2})
	s.CachePartition(TierDefault)

	v, err := s.Get(model.Path{"a"})
	if err != nil || v != 1 {
		t.Fatalf("expected cache partition to leave reads unaffected, got %v, %v", v, err)
	}

	s.SetLayer(TierDefault, "defaults", model.Mapping{"a": 99})
	v, err = s.Get(model.Path{"a"})
	if err != nil || v != 99 {
		t.Fatalf("expected a later SetLayer to invalidate the partition, got %v, %v", v, err)
	}
}
