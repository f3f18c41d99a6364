// Package diskcache implements the flat metadata disk cache: a content-
// hash-keyed store of fully-consolidated, JSON-encoded node metadata,
// gated on a cache directory being configured at all. Writes are
// idempotent (the same content hash always produces the same bytes) and
// reads are wrapped in a short retry on transient read errors; a blob that
// does not exist yet is reported as a miss straight away.
package diskcache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/MaZderMind/bwmeta/internal/model"
)

// Cache directories are group-accessible so several operators sharing a
// cache dir can reuse each other's blobs.
const dirMode = 0o770

// ErrDisabled is returned by operations attempted on a Store built with an
// empty directory: the cache is a no-op unless BW_METADATA_CACHE_DIR (or
// whatever the caller wired to Dir) is set.
var ErrDisabled = errors.New("metadata disk cache is disabled (no cache directory configured)")

// ErrMiss is returned by Load when no blob exists for the given
// (contentHash, node) pair.
var ErrMiss = errors.New("metadata disk cache miss")

// Store is a flat, content-hash-keyed blob store of node metadata.
type Store struct {
	dir string

	retryMaxElapsed time.Duration
	logger          *slog.Logger
}

// New returns a Store rooted at dir. An empty dir disables the cache: Load
// and Store always return ErrDisabled.
func New(dir string) *Store {
	return &Store{dir: dir, retryMaxElapsed: 2 * time.Second, logger: slog.Default()}
}

// SetLogger overrides the Store's logger (slog.Default() otherwise), the
// way a caller wiring up its own structured logging would.
func (s *Store) SetLogger(l *slog.Logger) {
	if l != nil {
		s.logger = l
	}
}

// Enabled reports whether the cache has a directory configured.
func (s *Store) Enabled() bool {
	return s.dir != ""
}

func (s *Store) blobPath(contentHash, nodeName string) string {
	return filepath.Join(s.dir, contentHash, nodeName)
}

// Load reads the flattened metadata mapping for node under contentHash. It
// retries briefly with exponential backoff on read errors other than a
// missing blob; a missing blob returns ErrMiss at once, without retrying.
// Store renames a finished blob into place, so a partly written blob is
// never read.
func (s *Store) Load(ctx context.Context, contentHash, nodeName string) (model.Mapping, error) {
	if !s.Enabled() {
		return nil, ErrDisabled
	}

	path := s.blobPath(contentHash, nodeName)
	var data []byte

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = s.retryMaxElapsed

	err := backoff.Retry(func() error {
		b, err := os.ReadFile(path) // #nosec G304 -- path is built from a hash and a node name, not user input
		if err != nil {
			if os.IsNotExist(err) {
				return backoff.Permanent(ErrMiss)
			}
			s.logger.Debug("metadata cache read failed, retrying", "node", nodeName, "hash", contentHash, "error", err)
			return err // transient: retry
		}
		data = b
		return nil
	}, backoff.WithContext(bo, ctx))
	if err != nil {
		if !errors.Is(err, ErrMiss) {
			s.logger.Warn("metadata cache read gave up", "node", nodeName, "hash", contentHash, "error", err)
		}
		return nil, err
	}
	s.logger.Debug("metadata cache hit", "node", nodeName, "hash", contentHash)

	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return model.NormalizeMapping(m), nil
}

// Store writes flattened under contentHash/nodeName, creating the hash
// directory (mode 0o770) if needed. Because writes are content-addressed
// and idempotent, a write racing with another process writing the same
// bytes is harmless; Store does not attempt to deduplicate that race
// itself.
func (s *Store) Store(contentHash, nodeName string, flattened model.Mapping) error {
	if !s.Enabled() {
		return ErrDisabled
	}

	dir := filepath.Join(s.dir, contentHash)
	if err := os.MkdirAll(dir, dirMode); err != nil {
		return err
	}

	// json.Marshal emits map keys in sorted order, which is what makes the
	// blob deterministic for a given consolidated mapping.
	data, err := json.MarshalIndent(flattened, "", "  ")
	if err != nil {
		return err
	}

	tmp := filepath.Join(dir, "."+nodeName+".tmp")
	if err := os.WriteFile(tmp, data, 0o660); err != nil { // #nosec G306 -- cache blobs, not secrets
		return err
	}
	if err := os.Rename(tmp, filepath.Join(dir, nodeName)); err != nil {
		return err
	}
	s.logger.Debug("wrote metadata cache blob", "node", nodeName, "hash", contentHash)
	return nil
}

// Clear removes the entire cache directory and everything under it,
// mirroring an engine-wide cache invalidation.
func (s *Store) Clear() error {
	if !s.Enabled() {
		return ErrDisabled
	}
	s.logger.Debug("clearing metadata cache", "dir", s.dir)
	return os.RemoveAll(s.dir)
}
