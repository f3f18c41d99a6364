package diskcache

import (
	"fmt"
	"os"
	"path/filepath"
)

// WithLock serialises writes to the same content-hash directory across
// processes: two `bw` invocations racing to populate the same cache entry
// take turns rather than corrupting each other's partial writes. The lock
// file lives alongside the hash directory, not inside it, so Clear (an
// unconditional RemoveAll of the cache root) never has to worry about
// leftover lock files.
func (s *Store) WithLock(contentHash string, fn func() error) error {
	if !s.Enabled() {
		return ErrDisabled
	}
	if err := os.MkdirAll(s.dir, dirMode); err != nil {
		return err
	}

	lockPath := filepath.Join(s.dir, "."+contentHash+".lock")
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o660) // #nosec G304 -- path built from a content hash
	if err != nil {
		return fmt.Errorf("opening metadata cache lock: %w", err)
	}
	defer f.Close()

	if err := flockExclusiveBlocking(f); err != nil {
		return fmt.Errorf("locking metadata cache entry %s: %w", contentHash, err)
	}
	defer flockUnlock(f)

	return fn()
}
