// Package enginetest loads a static node/group topology from a YAML
// fixture file and adapts it into a metaengine.Loader, for engine examples
// and integration tests that want a realistic multi-node topology without
// hand-building model.Node/model.Mapping literals in Go.
package enginetest

import (
	"context"
	"fmt"
	"os"

	"github.com/MaZderMind/bwmeta/internal/bwerrors"
	"github.com/MaZderMind/bwmeta/internal/model"
	"gopkg.in/yaml.v3"
)

// NodeFixture is one node entry in a topology fixture file.
type NodeFixture struct {
	Name       string         `yaml:"name"`
	Groups     []string       `yaml:"groups"`
	Attributes map[string]any `yaml:"attributes"`
}

// GroupFixture is one group entry in a topology fixture file.
type GroupFixture struct {
	Name       string         `yaml:"name"`
	Attributes map[string]any `yaml:"attributes"`
}

// Topology is the parsed shape of a fixture file: node:group/metadata.yaml
// style content flattened into one document for test convenience.
type Topology struct {
	Nodes  []NodeFixture  `yaml:"nodes"`
	Groups []GroupFixture `yaml:"groups"`
}

// LoadTopology reads and parses a YAML topology fixture from path.
func LoadTopology(path string) (*Topology, error) {
	data, err := os.ReadFile(path) // #nosec G304 - fixture path is caller-controlled test input
	if err != nil {
		return nil, err
	}
	var t Topology
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parsing topology fixture %s: %w", path, err)
	}
	return &t, nil
}

// Loader adapts a parsed Topology into a metaengine.Loader. Nodes loaded
// this way never carry reactors or metadata_defaults layers -- YAML has no
// natural way to express a Go closure -- so Loader is only useful for
// exercising the node/group static-attribute merge, not reactor scheduling.
type Loader struct {
	nodes  map[string]*model.Node
	groups map[string]model.Mapping
}

// NewLoader builds a Loader from a parsed Topology.
func NewLoader(t *Topology) *Loader {
	l := &Loader{
		nodes:  make(map[string]*model.Node, len(t.Nodes)),
		groups: make(map[string]model.Mapping, len(t.Groups)),
	}
	for _, g := range t.Groups {
		l.groups[g.Name] = model.NormalizeMapping(g.Attributes)
	}
	for _, n := range t.Nodes {
		l.nodes[n.Name] = &model.Node{
			Name:       n.Name,
			Groups:     n.Groups,
			Attributes: model.NormalizeMapping(n.Attributes),
		}
	}
	return l
}

func (l *Loader) Node(_ context.Context, name string) (*model.Node, error) {
	n, ok := l.nodes[name]
	if !ok {
		return nil, &bwerrors.NoSuchItem{ID: name}
	}
	return n, nil
}

func (l *Loader) GroupAttributes(groupName string) model.Mapping {
	return l.groups[groupName]
}

// ContentHash is a fixed per-node tag since fixture topologies have no
// underlying bundle/file content to hash; every test run over the same
// fixture file is content-identical by construction.
func (l *Loader) ContentHash(nodeName string) string {
	return "fixture:" + nodeName
}
