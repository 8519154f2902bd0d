package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startHybrid spins up a hybrid watcher over dir with a short debounce
// window and waits for the initial setup to settle.
func startHybrid(t *testing.T, dir string) (*HybridWatcher, context.CancelFunc) {
	t.Helper()

	w, err := NewHybridWatcher(Options{
		DebounceWindow:  50 * time.Millisecond,
		EventBufferSize: 100,
	}.WithDefaults())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = w.Start(ctx, dir) }()
	time.Sleep(100 * time.Millisecond)
	return w, cancel
}

// expectEvent waits for a batch containing an event on base name with
// one of the given operations.
func expectEvent(t *testing.T, w *HybridWatcher, base string, ops ...Operation) {
	t.Helper()

	deadline := time.After(time.Second)
	for {
		select {
		case batch := <-w.Events():
			for _, e := range batch {
				if filepath.Base(e.Path) != base {
					continue
				}
				for _, op := range ops {
					if e.Operation == op {
						return
					}
				}
			}
		case err := <-w.Errors():
			t.Fatalf("unexpected watcher error: %v", err)
		case <-deadline:
			t.Fatalf("timeout waiting for event on %s", base)
		}
	}
}

func TestNewHybridWatcher(t *testing.T) {
	w, err := NewHybridWatcher(DefaultOptions())
	require.NoError(t, err)
	require.NotNil(t, w)
	assert.True(t, w.IsHealthy())
	assert.Contains(t, []string{"fsnotify", "polling"}, w.WatcherType())
	require.NoError(t, w.Stop())
	assert.False(t, w.IsHealthy())
}

func TestHybridWatcherCreate(t *testing.T) {
	dir := t.TempDir()
	w, cancel := startHybrid(t, dir)
	defer cancel()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "newfile.go"), []byte("package main"), 0o644))
	expectEvent(t, w, "newfile.go", OpCreate)

	require.NoError(t, w.Stop())
}

func TestHybridWatcherModify(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "existing.go")
	require.NoError(t, os.WriteFile(target, []byte("package main"), 0o644))

	w, cancel := startHybrid(t, dir)
	defer cancel()

	require.NoError(t, os.WriteFile(target, []byte("package main\nfunc main() {}"), 0o644))
	// Some platforms report a rewrite as Create rather than Write.
	expectEvent(t, w, "existing.go", OpModify, OpCreate)

	require.NoError(t, w.Stop())
}

func TestHybridWatcherDelete(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "doomed.go")
	require.NoError(t, os.WriteFile(target, []byte("package main"), 0o644))

	w, cancel := startHybrid(t, dir)
	defer cancel()

	require.NoError(t, os.Remove(target))
	expectEvent(t, w, "doomed.go", OpDelete)

	require.NoError(t, w.Stop())
}

func TestHybridWatcherHonorsGitignore(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".gitignore"), []byte("*.tmp\n"), 0o644))

	w, cancel := startHybrid(t, dir)
	defer cancel()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "ignored.tmp"), []byte("temp"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "included.go"), []byte("package main"), 0o644))

	var sawGo bool
	deadline := time.After(time.Second)
loop:
	for {
		select {
		case batch := <-w.Events():
			for _, e := range batch {
				if filepath.Base(e.Path) == "included.go" {
					sawGo = true
				}
				assert.NotEqual(t, ".tmp", filepath.Ext(e.Path), "ignored file leaked through")
			}
		case <-deadline:
			break loop
		}
	}

	assert.True(t, sawGo, "expected an event for included.go")
	require.NoError(t, w.Stop())
}

func TestHybridWatcherIgnoresOwnIndexDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".pampax"), 0o755))

	w, cancel := startHybrid(t, dir)
	defer cancel()

	// Writes into .pampax must never come back as events, or indexing
	// would retrigger itself.
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".pampax", "index.db"), []byte("data"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.go"), []byte("package main"), 0o644))

	var sawGo bool
	deadline := time.After(time.Second)
loop:
	for {
		select {
		case batch := <-w.Events():
			for _, e := range batch {
				if filepath.Base(e.Path) == "main.go" {
					sawGo = true
				}
				assert.NotContains(t, e.Path, ".pampax")
			}
		case <-deadline:
			break loop
		}
	}

	assert.True(t, sawGo)
	require.NoError(t, w.Stop())
}

func TestHybridWatcherNewSubdirectory(t *testing.T) {
	dir := t.TempDir()
	w, cancel := startHybrid(t, dir)
	defer cancel()

	sub := filepath.Join(dir, "subdir")
	require.NoError(t, os.MkdirAll(sub, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(sub, "sub.go"), []byte("package subdir"), 0o644))

	var sawCreate bool
	deadline := time.After(2 * time.Second)
loop:
	for {
		select {
		case batch := <-w.Events():
			for _, e := range batch {
				if e.Operation == OpCreate {
					sawCreate = true
				}
			}
		case <-deadline:
			break loop
		}
	}

	assert.True(t, sawCreate, "expected a create event under the new subdirectory")
	require.NoError(t, w.Stop())
}

func TestHybridWatcherStopClosesChannels(t *testing.T) {
	w, err := NewHybridWatcher(DefaultOptions())
	require.NoError(t, err)

	require.NoError(t, w.Stop())
	_, open := <-w.Events()
	assert.False(t, open)
}

func TestHybridWatcherDroppedBatchCounter(t *testing.T) {
	w, err := NewHybridWatcher(Options{EventBufferSize: 1}.WithDefaults())
	require.NoError(t, err)
	defer func() { _ = w.Stop() }()

	assert.Equal(t, uint64(0), w.DroppedBatches())

	// One batch fits; the next two overflow the size-1 buffer.
	w.emitEvents([]FileEvent{{Path: "a.go", Operation: OpCreate}})
	w.emitEvents([]FileEvent{{Path: "b.go", Operation: OpCreate}})
	w.emitEvents([]FileEvent{{Path: "c.go", Operation: OpCreate}})

	assert.Equal(t, uint64(2), w.DroppedBatches())
}
