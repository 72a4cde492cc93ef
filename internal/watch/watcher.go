// Package watch reloads a bundle file when it changes on disk.
package watch

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"splice/internal/logging"
)

// ReloadFunc is called with the bundle path once changes settle.
type ReloadFunc func(ctx context.Context, path string) error

// Stats tracks watcher activity.
type Stats struct {
	Events        int
	Reloads       int
	Errors        int
	LastEventTime time.Time
	LastEventType string
}

// BundleWatcher watches one file. It watches the parent directory so that
// editors replacing the file by rename are still seen.
type BundleWatcher struct {
	mu          sync.RWMutex
	watcher     *fsnotify.Watcher
	path        string
	dir         string
	reload      ReloadFunc
	debounceDur time.Duration
	pendingAt   time.Time
	pending     bool
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool

	stats Stats
}

// New creates a watcher for path. debounce <= 0 means 250ms.
func New(path string, debounce time.Duration, reload ReloadFunc) (*BundleWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = 250 * time.Millisecond
	}
	return &BundleWatcher{
		watcher:     w,
		path:        abs,
		dir:         filepath.Dir(abs),
		reload:      reload,
		debounceDur: debounce,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

// Start begins watching in a goroutine.
func (bw *BundleWatcher) Start(ctx context.Context) error {
	bw.mu.Lock()
	if bw.running {
		bw.mu.Unlock()
		return nil
	}
	bw.running = true
	bw.mu.Unlock()

	if err := bw.watcher.Add(bw.dir); err != nil {
		bw.mu.Lock()
		bw.running = false
		bw.mu.Unlock()
		return fmt.Errorf("failed to watch %s: %w", bw.dir, err)
	}
	logging.Watch("watching %s", bw.path)

	go bw.run(ctx)
	return nil
}

// Stop stops the watcher and waits for its goroutine to exit.
func (bw *BundleWatcher) Stop() {
	bw.mu.Lock()
	if !bw.running {
		bw.mu.Unlock()
		bw.watcher.Close()
		return
	}
	bw.running = false
	bw.mu.Unlock()

	close(bw.stopCh)
	<-bw.doneCh

	if err := bw.watcher.Close(); err != nil {
		logging.WatchError("error closing watcher: %v", err)
	}
	logging.Watch("stopped watching %s", bw.path)
}

// Run starts the watcher and blocks until ctx is done.
func (bw *BundleWatcher) Run(ctx context.Context) error {
	if err := bw.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	bw.Stop()
	return nil
}

// Stats returns a copy of the activity counters.
func (bw *BundleWatcher) Stats() Stats {
	bw.mu.RLock()
	defer bw.mu.RUnlock()
	return bw.stats
}

func (bw *BundleWatcher) run(ctx context.Context) {
	defer close(bw.doneCh)

	tick := bw.debounceDur / 4
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-bw.stopCh:
			return
		case ev, ok := <-bw.watcher.Events:
			if !ok {
				return
			}
			bw.handleEvent(ev)
		case err, ok := <-bw.watcher.Errors:
			if !ok {
				return
			}
			logging.WatchError("watcher error: %v", err)
			bw.mu.Lock()
			bw.stats.Errors++
			bw.mu.Unlock()
		case <-ticker.C:
			bw.flush(ctx)
		}
	}
}

func (bw *BundleWatcher) handleEvent(ev fsnotify.Event) {
	if filepath.Clean(ev.Name) != bw.path {
		return
	}
	var kind string
	switch {
	case ev.Op&fsnotify.Create != 0:
		kind = "create"
	case ev.Op&fsnotify.Write != 0:
		kind = "modify"
	case ev.Op&fsnotify.Rename != 0:
		kind = "rename"
	default:
		return
	}
	logging.WatchDebug("%s event for %s", kind, ev.Name)

	bw.mu.Lock()
	bw.stats.Events++
	bw.stats.LastEventTime = time.Now()
	bw.stats.LastEventType = kind
	bw.pending = true
	bw.pendingAt = time.Now()
	bw.mu.Unlock()
}

// flush reloads once the last event is older than the debounce window.
func (bw *BundleWatcher) flush(ctx context.Context) {
	bw.mu.Lock()
	if !bw.pending || time.Since(bw.pendingAt) < bw.debounceDur {
		bw.mu.Unlock()
		return
	}
	bw.pending = false
	bw.mu.Unlock()

	err := bw.reload(ctx, bw.path)

	bw.mu.Lock()
	if err != nil {
		bw.stats.Errors++
	} else {
		bw.stats.Reloads++
	}
	bw.mu.Unlock()
	if err != nil {
		logging.WatchError("reload of %s failed: %v", bw.path, err)
		return
	}
	logging.Watch("reloaded %s", bw.path)
}
