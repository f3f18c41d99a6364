// Package bwmeta provides the public API of the metadata and dependency
// resolution core: the fixed-point metadata engine, the item dependency
// resolver, and the types a repository loader needs to feed them.
//
// The loader side — reading bundles and node definitions from disk,
// constructing concrete item types, remote execution — lives outside this
// module. A loader implements the Loader interface, hands nodes and
// reactors to an Engine, and reads consolidated metadata back through
// per-node views.
package bwmeta

import (
	"github.com/MaZderMind/bwmeta/internal/diskcache"
	"github.com/MaZderMind/bwmeta/internal/engineconfig"
	"github.com/MaZderMind/bwmeta/internal/itemresolver"
	"github.com/MaZderMind/bwmeta/internal/metaengine"
	"github.com/MaZderMind/bwmeta/internal/metaview"
	"github.com/MaZderMind/bwmeta/internal/model"
)

// Core data model types a loader populates.
type (
	Node           = model.Node
	Item           = model.Item
	Mapping        = model.Mapping
	Path           = model.Path
	NamedMapping   = model.NamedMapping
	Reactor        = model.Reactor
	ReactorFunc    = model.ReactorFunc
	ReactorResult  = model.ReactorResult
	ReactorSet     = model.ReactorSet
	BundleMetadata = model.BundleMetadata
	MetaView       = model.MetaView
)

// Engine drives all reachable nodes' reactors to a fixed point; see the
// metaengine package for the scheduling details.
type Engine = metaengine.Engine

// Loader supplies node definitions, group attributes, and content hashes
// to an Engine.
type Loader = metaengine.Loader

// NodeMetaView is the per-node read surface over consolidated metadata.
type NodeMetaView = metaview.NodeMetaView

// Config holds the engine tunables (iteration cap, cache directory, ...),
// loadable from environment variables via LoadConfig.
type Config = engineconfig.Config

// Reactor result constructors.
var (
	Ok      = model.Ok
	Pending = model.Pending
	Done    = model.Done
	Fail    = model.Fail
)

// NewReactor registers a reactor function under a stable internal name,
// optionally pledging the paths it writes under.
var NewReactor = model.NewReactor

// NewReactorSet returns an empty reactor collection that rejects
// duplicate internal names across bundles.
var NewReactorSet = model.NewReactorSet

// SplitPath turns a "/"-joined path string into a Path.
var SplitPath = model.SplitPath

// LoadConfig resolves the engine settings from defaults and environment
// variables (BW_MAX_METADATA_ITERATIONS, BW_METADATA_CACHE_DIR, ...).
var LoadConfig = engineconfig.Load

// NewEngine builds an Engine for loader using cfg. A nil cfg loads the
// environment-driven defaults.
func NewEngine(loader Loader, cfg *Config) (*Engine, error) {
	if cfg == nil {
		loaded, err := engineconfig.Load()
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	cache := diskcache.New(cfg.CacheDir)
	return metaengine.New(loader, cache, cfg.MaxIterations, cfg.VerifyReactorProvides, cfg.RandSeed), nil
}

// PrepareItems runs the full dependency-resolution pipeline over items for
// the given target platform, returning the expanded item list with every
// derived dependency field populated.
func PrepareItems(items []*Item, os, version string) ([]*Item, error) {
	return itemresolver.Prepare(items, os, version)
}
