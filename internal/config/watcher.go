package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"autoforge/internal/logging"

	"github.com/fsnotify/fsnotify"
)

// Watcher watches the config file for changes and delivers re-validated
// snapshots to a callback. The monitor uses it to pick up threshold changes
// between collection cycles without a restart. Invalid edits are logged and
// dropped; the previous config stays in effect.
type Watcher struct {
	mu          sync.RWMutex
	watcher     *fsnotify.Watcher
	configPath  string
	onReload    func(*Config)
	debounceMap map[string]time.Time
	debounceDur time.Duration
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool

	reloads  int
	rejected int
}

// NewWatcher creates a watcher for the given config file path. The callback
// runs on the watcher goroutine; receivers copy what they need under their
// own locks.
func NewWatcher(configPath string, onReload func(*Config)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &Watcher{
		watcher:     fw,
		configPath:  configPath,
		onReload:    onReload,
		debounceMap: make(map[string]time.Time),
		debounceDur: 500 * time.Millisecond, // Settle window for rapid saves
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

// Start begins watching the config file's directory. Non-blocking.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil // Already running
	}
	w.running = true
	w.mu.Unlock()

	// Watch the directory: editors replace files on save, which drops a
	// watch registered on the file itself.
	dir := filepath.Dir(w.configPath)
	if err := w.watcher.Add(dir); err != nil {
		logging.ConfigWarn("watcher: cannot watch %s: %v", dir, err)
	} else {
		logging.Config("watcher: watching %s", dir)
	}

	go w.run(ctx)
	return nil
}

// Stop stops the watcher and waits for cleanup.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	if err := w.watcher.Close(); err != nil {
		logging.Get(logging.CategoryConfig).Error("watcher: close: %v", err)
	}
	logging.Config("watcher: stopped")
}

// IsWatching reports whether the watcher goroutine is active.
func (w *Watcher) IsWatching() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}

// Stats returns (successful reloads, rejected reloads).
func (w *Watcher) Stats() (int, int) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.reloads, w.rejected
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	settleTicker := time.NewTicker(100 * time.Millisecond)
	defer settleTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-w.stopCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.Get(logging.CategoryConfig).Error("watcher: %v", err)

		case <-settleTicker.C:
			w.processSettled()
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != filepath.Clean(w.configPath) {
		return
	}
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
		return // Ignore chmod and removal
	}

	logging.Get(logging.CategoryConfig).Debug("watcher: %s changed (%s)", event.Name, event.Op)

	w.mu.Lock()
	w.debounceMap[event.Name] = time.Now()
	w.mu.Unlock()
}

func (w *Watcher) processSettled() {
	w.mu.Lock()
	now := time.Now()
	ready := false
	for path, eventTime := range w.debounceMap {
		if now.Sub(eventTime) >= w.debounceDur {
			delete(w.debounceMap, path)
			ready = true
		}
	}
	w.mu.Unlock()

	if ready {
		w.reload()
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.configPath)
	if err != nil {
		logging.ConfigWarn("watcher: reload rejected: %v", err)
		w.mu.Lock()
		w.rejected++
		w.mu.Unlock()
		return
	}

	w.mu.Lock()
	w.reloads++
	cb := w.onReload
	w.mu.Unlock()

	logging.Config("watcher: config reloaded from %s", w.configPath)
	if cb != nil {
		cb(cfg)
	}
}
