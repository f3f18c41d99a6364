package diskcache

import (
	"log/slog"

	"github.com/fsnotify/fsnotify"
)

// Watcher notifies a caller when the cache directory, or an entry directly
// inside it, is removed or renamed out from under a running process, e.g.
// an operator running `bw metadata clear-cache` concurrently with a long
// metadata build. Creation of the directory or of new entries, and writes
// to blobs inside the hash directories, are not reported. It is
// optional: nothing in Store itself depends on it, and most callers never
// construct one.
type Watcher struct {
	w      *fsnotify.Watcher
	ch     chan struct{}
	logger *slog.Logger
}

// WatchInvalidation starts watching s's cache directory for removal.
// Invalidated() yields a value when the directory or one of its direct
// entries is removed or renamed; signals that arrive before the previous one
// was received are merged into it. The caller is responsible for calling
// Close.
func (s *Store) WatchInvalidation() (*Watcher, error) {
	if !s.Enabled() {
		return nil, ErrDisabled
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(s.dir); err != nil {
		w.Close()
		return nil, err
	}

	watcher := &Watcher{w: w, ch: make(chan struct{}, 1), logger: s.logger}
	go watcher.run()
	return watcher, nil
}

func (watcher *Watcher) run() {
	for {
		select {
		case ev, ok := <-watcher.w.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				select {
				case watcher.ch <- struct{}{}:
				default:
				}
			}
		case err, ok := <-watcher.w.Errors:
			if !ok {
				return
			}
			watcher.logger.Warn("metadata cache watcher error", "error", err)
		}
	}
}

// Invalidated yields whenever the watched cache directory, or one of its
// direct entries, is removed or renamed away.
func (watcher *Watcher) Invalidated() <-chan struct{} {
	return watcher.ch
}

// Close stops the watcher.
func (watcher *Watcher) Close() error {
	return watcher.w.Close()
}
