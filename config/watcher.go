package config

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long the watcher waits for writes to settle.
const DefaultDebounce = 250 * time.Millisecond

// Watcher reloads a config file when it changes and hands the new config to
// a callback. Invalid files are logged and ignored; the previous config stays
// in effect.
type Watcher struct {
	path     string
	loader   *Loader
	onChange func(*Config)
	debounce time.Duration
	watcher  *fsnotify.Watcher
	logger   *slog.Logger

	mu      sync.Mutex
	last    []byte
	pending bool
}

// NewWatcher watches path. The file's directory is watched rather than the
// file so that editors which replace the file on save are handled.
func NewWatcher(path string, loader *Loader, onChange func(*Config), logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if loader == nil {
		loader = NewLoader(logger)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	w := &Watcher{
		path:     abs,
		loader:   loader,
		onChange: onChange,
		debounce: DefaultDebounce,
		watcher:  fsw,
		logger:   logger,
	}
	if data, err := os.ReadFile(abs); err == nil {
		w.last = data
	}
	return w, nil
}

// Run processes file events until ctx is done or the watcher is closed.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.debounce)
	defer ticker.Stop()

	w.logger.Info("Config watcher started", "path", w.path)
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				w.mu.Lock()
				w.pending = true
				w.mu.Unlock()
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("Config watcher error", "error", err)

		case <-ticker.C:
			w.flush()
		}
	}
}

// flush reloads the file if a change is pending and its content differs
// from the last applied version.
func (w *Watcher) flush() {
	w.mu.Lock()
	if !w.pending {
		w.mu.Unlock()
		return
	}
	w.pending = false
	w.mu.Unlock()

	data, err := os.ReadFile(w.path)
	if err != nil {
		w.logger.Warn("Config file unreadable", "path", w.path, "error", err)
		return
	}
	w.mu.Lock()
	unchanged := bytes.Equal(data, w.last)
	w.mu.Unlock()
	if unchanged {
		return
	}

	cfg, err := w.loader.LoadPath(w.path)
	if err != nil {
		w.logger.Warn("Ignoring invalid config change", "path", w.path, "error", err)
		return
	}

	w.mu.Lock()
	w.last = data
	w.mu.Unlock()

	w.logger.Info("Config reloaded", "path", w.path)
	if w.onChange != nil {
		w.onChange(cfg)
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
