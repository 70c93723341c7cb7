package config_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/earshot/internal/config"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write file %q: %v", path, err)
	}
}

type changes struct {
	mu   sync.Mutex
	seen []*config.Config
	ch   chan struct{}
}

func newChanges() *changes { return &changes{ch: make(chan struct{}, 8)} }

func (c *changes) onChange(_, n *config.Config) {
	c.mu.Lock()
	c.seen = append(c.seen, n)
	c.mu.Unlock()
	c.ch <- struct{}{}
}

func (c *changes) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

func startWatcher(t *testing.T, w *config.Watcher) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Run: %v", err)
		}
	})
	// Give fsnotify time to register the directory watch.
	time.Sleep(50 * time.Millisecond)
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, sampleYAML)

	w, err := config.NewWatcher(path, nil)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	if got := w.Current().Server.LogLevel; got != config.LogDebug {
		t.Errorf("log level = %q, want debug", got)
	}
}

func TestWatcher_InvalidInitialConfig(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, "server:\n  log_level: bananas\n")

	if _, err := config.NewWatcher(path, nil); err == nil {
		t.Fatal("expected error for invalid initial config")
	}
}

func TestWatcher_ReloadsOnChange(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, sampleYAML)

	c := newChanges()
	w, err := config.NewWatcher(path, c.onChange, config.WithDebounce(20*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	startWatcher(t, w)

	writeFile(t, path, strings.Replace(sampleYAML, "log_level: debug", "log_level: warn", 1))
	select {
	case <-c.ch:
	case <-time.After(3 * time.Second):
		t.Fatal("onChange not called")
	}
	if got := w.Current().Server.LogLevel; got != config.LogWarn {
		t.Errorf("Current log level = %q, want warn", got)
	}
}

func TestWatcher_IgnoresInvalidAndUnchanged(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, sampleYAML)

	c := newChanges()
	w, err := config.NewWatcher(path, c.onChange, config.WithDebounce(20*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	startWatcher(t, w)

	writeFile(t, path, "server:\n  log_level: bananas\n")
	time.Sleep(200 * time.Millisecond)
	writeFile(t, path, sampleYAML)
	time.Sleep(200 * time.Millisecond)

	if n := c.count(); n != 0 {
		t.Errorf("onChange called %d times, want 0", n)
	}
	if got := w.Current().Server.LogLevel; got != config.LogDebug {
		t.Errorf("Current log level = %q, want the last valid config", got)
	}
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, sampleYAML)

	c := newChanges()
	w, err := config.NewWatcher(path, c.onChange, config.WithDebounce(20*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	startWatcher(t, w)

	writeFile(t, filepath.Join(dir, "other.yaml"), "x: 1\n")
	time.Sleep(200 * time.Millisecond)
	if n := c.count(); n != 0 {
		t.Errorf("onChange called %d times for an unrelated file", n)
	}
}
