// Package docwatch reloads the JSON documents in the data directory when they
// are edited outside the running server.
package docwatch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 100 * time.Millisecond

// Watcher maps document file names to reload callbacks.
type Watcher struct {
	dir      string
	debounce time.Duration

	mu       sync.Mutex
	handlers map[string][]func() error
}

func New(dir string) *Watcher {
	return &Watcher{
		dir:      dir,
		debounce: defaultDebounce,
		handlers: make(map[string][]func() error),
	}
}

// On registers fn to run after the document with the given base name changes.
// Handlers for one document run in registration order.
func (w *Watcher) On(name string, fn func() error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers[name] = append(w.handlers[name], fn)
}

// Run watches the directory until ctx is cancelled. The directory is watched
// rather than the files themselves because documents are replaced by rename.
func (w *Watcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("create watch dir: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.dir, err)
	}
	slog.Info("watching documents", "dir", w.dir)

	pending := make(map[string]bool)
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			name := filepath.Base(event.Name)
			if !w.watched(name) {
				continue
			}
			pending[name] = true
			timer.Reset(w.debounce)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("document watcher error", "error", err)
		case <-timer.C:
			for name := range pending {
				w.reload(name)
			}
			clear(pending)
		}
	}
}

func (w *Watcher) watched(name string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.handlers[name]
	return ok
}

func (w *Watcher) reload(name string) {
	w.mu.Lock()
	fns := append([]func() error(nil), w.handlers[name]...)
	w.mu.Unlock()

	for _, fn := range fns {
		if err := fn(); err != nil {
			slog.Error("document reload failed", "document", name, "error", err)
			return
		}
	}
	slog.Info("document reloaded", "document", name)
}
