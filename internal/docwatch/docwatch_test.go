package docwatch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func startWatcher(t *testing.T, w *Watcher) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	// Give the watcher time to register the directory.
	time.Sleep(100 * time.Millisecond)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestReloadOnWriteDebounced(t *testing.T) {
	dir := t.TempDir()
	w := New(dir)

	var configs, models atomic.Int32
	w.On("configs.json", func() error { configs.Add(1); return nil })
	w.On("models.json", func() error { models.Add(1); return nil })
	startWatcher(t, w)

	path := filepath.Join(dir, "configs.json")
	for i := 0; i < 5; i++ {
		if err := os.WriteFile(path, []byte("[]"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	waitFor(t, func() bool { return configs.Load() > 0 })
	time.Sleep(300 * time.Millisecond)
	if got := configs.Load(); got != 1 {
		t.Errorf("expected one debounced reload, got %d", got)
	}
	if got := models.Load(); got != 0 {
		t.Errorf("expected models untouched, got %d", got)
	}
}

func TestReloadOnRename(t *testing.T) {
	dir := t.TempDir()
	w := New(dir)

	var calls atomic.Int32
	w.On("mcp-servers.json", func() error { calls.Add(1); return nil })
	startWatcher(t, w)

	tmp := filepath.Join(dir, "mcp-servers.json.tmp")
	if err := os.WriteFile(tmp, []byte("[]"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Rename(tmp, filepath.Join(dir, "mcp-servers.json")); err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool { return calls.Load() == 1 })
}

func TestHandlersRunInOrder(t *testing.T) {
	dir := t.TempDir()
	w := New(dir)

	var (
		mu    sync.Mutex
		order []string
		once  sync.Once
	)
	done := make(chan struct{})
	record := func(name string) {
		mu.Lock()
		order = append(order, name)
		mu.Unlock()
	}
	w.On("configs.json", func() error { record("configs"); return nil })
	w.On("configs.json", func() error {
		record("scheduler")
		once.Do(func() { close(done) })
		return nil
	})
	startWatcher(t, w)

	if err := os.WriteFile(filepath.Join(dir, "configs.json"), []byte("[]"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for reload")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(order) < 2 || order[0] != "configs" || order[1] != "scheduler" {
		t.Errorf("unexpected order %v", order)
	}
}

func TestUnwatchedFilesIgnored(t *testing.T) {
	dir := t.TempDir()
	w := New(dir)

	var calls atomic.Int32
	w.On("configs.json", func() error { calls.Add(1); return nil })
	startWatcher(t, w)

	if err := os.WriteFile(filepath.Join(dir, "other.json"), []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(300 * time.Millisecond)
	if calls.Load() != 0 {
		t.Errorf("expected no reloads, got %d", calls.Load())
	}
}
