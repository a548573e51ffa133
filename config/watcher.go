package config

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce is how long the watcher waits after the last write event
// before re-reading the file, so an editor's multi-write save sequence
// triggers one reload instead of several.
const reloadDebounce = 250 * time.Millisecond

// Watcher hot-reloads a config file (model registry defaults, orchestrator
// tuning) without a process restart.
type Watcher struct {
	path   string
	fsw    *fsnotify.Watcher
	logger *slog.Logger

	mu       sync.RWMutex
	current  *Config
	onReload func(*Config)
}

// NewWatcher constructs a Watcher over path, seeded with initial (typically
// the config already loaded at startup via Loader.Load).
func NewWatcher(path string, initial *Config, logger *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(path); err != nil {
		fsw.Close()
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Watcher{
		path:    path,
		fsw:     fsw,
		logger:  logger,
		current: initial,
	}, nil
}

// Current returns the most recently loaded config.
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// OnReload registers a callback invoked with the newly loaded config
// after each successful reload. Only one callback is supported; a later
// call replaces the prior one.
func (w *Watcher) OnReload(fn func(*Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onReload = fn
}

// Start begins watching the config file in a background goroutine until
// ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) {
	go w.run(ctx)
}

// Stop closes the underlying fsnotify watcher, ending the Start loop.
func (w *Watcher) Stop() error {
	return w.fsw.Close()
}

func (w *Watcher) run(ctx context.Context) {
	var debounce *time.Timer
	var debounceC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.NewTimer(reloadDebounce)
			debounceC = debounce.C

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error("config watcher error", "path", w.path, "error", err)

		case <-debounceC:
			debounceC = nil
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	next, err := LoadFromPath(w.path)
	if err != nil {
		w.logger.Warn("config reload failed, keeping previous config", "path", w.path, "error", err)
		return
	}
	if err := next.Validate(); err != nil {
		w.logger.Warn("reloaded config failed validation, keeping previous config", "path", w.path, "error", err)
		return
	}

	w.mu.Lock()
	w.current = next
	cb := w.onReload
	w.mu.Unlock()

	w.logger.Info("config reloaded", "path", w.path)
	if cb != nil {
		cb(next)
	}
}
