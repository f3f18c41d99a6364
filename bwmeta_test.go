package bwmeta_test

import (
	"context"
	"errors"
	"testing"

	"github.com/MaZderMind/bwmeta"
)

type staticLoader struct {
	nodes map[string]*bwmeta.Node
}

func (l *staticLoader) Node(_ context.Context, name string) (*bwmeta.Node, error) {
	n, ok := l.nodes[name]
	if !ok {
		return nil, errors.New("no such node: " + name)
	}
	return n, nil
}

func (l *staticLoader) GroupAttributes(string) bwmeta.Mapping { return nil }

func (l *staticLoader) ContentHash(nodeName string) string { return "static-" + nodeName }

func TestNewEngineResolvesReactorMetadata(t *testing.T) {
	loader := &staticLoader{nodes: map[string]*bwmeta.Node{
		"web1": {
			Name:       "web1",
			Attributes: bwmeta.Mapping{"role": "web"},
			MetadataReactors: []*bwmeta.Reactor{
				bwmeta.NewReactor("listen_port", func(view bwmeta.MetaView) bwmeta.ReactorResult {
					role, err := view.Get(bwmeta.SplitPath("role"))
					if err != nil {
						return bwmeta.Pending()
					}
					if role == "web" {
						return bwmeta.Ok(bwmeta.Mapping{"port": 80})
					}
					return bwmeta.Ok(bwmeta.Mapping{})
				}, bwmeta.SplitPath("port")),
			},
		},
	}}

	engine, err := bwmeta.NewEngine(loader, &bwmeta.Config{MaxIterations: 100})
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	port, err := engine.View("web1").Get(bwmeta.SplitPath("port"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if port != 80 {
		t.Fatalf("expected port 80, got %v", port)
	}
}

func TestNewEngineNilConfigUsesEnvironmentDefaults(t *testing.T) {
	loader := &staticLoader{nodes: map[string]*bwmeta.Node{
		"n1": {Name: "n1", Attributes: bwmeta.Mapping{"a": 1}},
	}}

	engine, err := bwmeta.NewEngine(loader, nil)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	v, err := engine.View("n1").Get(bwmeta.SplitPath("a"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 1 {
		t.Fatalf("expected 1, got %v", v)
	}
}

func TestPrepareItemsPopulatesDerivedFields(t *testing.T) {
	items := []*bwmeta.Item{
		{ID: "pkg_apt:nginx", Bundle: "web", Kind: "pkg_apt"},
		{ID: "svc_upstart:nginx", Bundle: "web", Kind: "svc_upstart", Needs: []string{"pkg_apt:nginx"}},
	}

	prepared, err := bwmeta.PrepareItems(items, "linux", "")
	if err != nil {
		t.Fatalf("PrepareItems failed: %v", err)
	}
	for _, item := range prepared {
		if item.ID == "svc_upstart:nginx" {
			if len(item.FlattenedDeps) != 1 || item.FlattenedDeps[0] != "pkg_apt:nginx" {
				t.Fatalf("unexpected flattened deps: %v", item.FlattenedDeps)
			}
			return
		}
	}
	t.Fatalf("svc_upstart:nginx missing from prepared items")
}
