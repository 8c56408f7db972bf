package mapping

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce coalesces the burst of events an editor produces when
// saving a file.
const DefaultDebounce = 200 * time.Millisecond

// Watcher reloads mappings when the mapping file changes.
//
// The parent directory is watched rather than the file itself, so editors
// that save by renaming a temp file over the original are still seen.
type Watcher struct {
	loader   *Loader
	debounce time.Duration
	ready    chan struct{}
	reloads  atomic.Int64
}

// WatchOption configures a Watcher.
type WatchOption func(*Watcher)

// WithDebounce sets how long the watcher waits for further events before
// reloading.
func WithDebounce(d time.Duration) WatchOption {
	return func(w *Watcher) { w.debounce = d }
}

// NewWatcher creates a watcher for the loader's file.
func NewWatcher(l *Loader, opts ...WatchOption) *Watcher {
	w := &Watcher{
		loader:   l,
		debounce: DefaultDebounce,
		ready:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Ready is closed once the file system watch is in place.
func (w *Watcher) Ready() <-chan struct{} {
	return w.ready
}

// Reloads returns how many reloads have run.
func (w *Watcher) Reloads() int64 {
	return w.reloads.Load()
}

// Run watches until ctx is done. Reload failures are logged and the watch
// continues.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer fw.Close()

	path := filepath.Clean(w.loader.path)
	if err := fw.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(path), err)
	}
	close(w.ready)

	log := w.loader.logger.With("file", path)
	log.Debug("watching mapping file")

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			log.Warn("mapping watch error", "error", err)

		case <-fire:
			fire = nil
			if _, err := w.loader.Load(ctx); err != nil {
				log.Error("mapping reload failed", "error", err)
			}
			w.reloads.Add(1)
		}
	}
}
