package watch

import (
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"workbench/internal/model"
)

type recorder struct {
	mu          sync.Mutex
	changes     []model.WatchChange
	invalidated atomic.Int64
}

func (r *recorder) options() Options {
	return Options{
		Debounce:     30 * time.Millisecond,
		OnInvalidate: func() { r.invalidated.Add(1) },
		OnChanges: func(changes []model.WatchChange) {
			r.mu.Lock()
			r.changes = append(r.changes, changes...)
			r.mu.Unlock()
		},
	}
}

func (r *recorder) has(path string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.changes {
		if c.Path == path {
			return true
		}
	}
	return false
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.changes)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestManager_StartStopIdempotent(t *testing.T) {
	root := t.TempDir()
	rec := &recorder{}
	m := NewManager(root, rec.options())

	if started, err := m.Start(); err != nil || !started {
		t.Fatalf("Start: started=%v err=%v", started, err)
	}
	if started, err := m.Start(); err != nil || started {
		t.Fatalf("second Start: started=%v err=%v", started, err)
	}

	_ = os.WriteFile(filepath.Join(root, "a.txt"), []byte("x"), 0o644)
	waitFor(t, func() bool { return rec.has("a.txt") })
	if rec.invalidated.Load() == 0 {
		t.Fatal("expected cache invalidation")
	}

	if !m.Stop() {
		t.Fatal("Stop should report it stopped a watcher")
	}
	if m.Stop() {
		t.Fatal("second Stop should be a no-op")
	}
	if m.Running() {
		t.Fatal("still running")
	}

	if _, err := m.Start(); err != nil {
		t.Fatalf("restart: %v", err)
	}
	t.Cleanup(func() { m.Stop() })
	_ = os.WriteFile(filepath.Join(root, "b.txt"), []byte("x"), 0o644)
	waitFor(t, func() bool { return rec.has("b.txt") })
}

func TestManager_PausedDropsEvents(t *testing.T) {
	root := t.TempDir()
	rec := &recorder{}
	m := NewManager(root, rec.options())
	if _, err := m.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { m.Stop() })

	m.SetPaused(true)
	_ = os.WriteFile(filepath.Join(root, "quiet.txt"), []byte("x"), 0o644)
	waitFor(t, func() bool { return rec.invalidated.Load() > 0 })
	time.Sleep(100 * time.Millisecond)
	if rec.count() != 0 {
		t.Fatalf("paused watcher delivered %d changes", rec.count())
	}

	m.SetPaused(false)
	_ = os.WriteFile(filepath.Join(root, "loud.txt"), []byte("x"), 0o644)
	waitFor(t, func() bool { return rec.has("loud.txt") })
	if rec.has("quiet.txt") {
		t.Fatal("events seen while paused must not be replayed")
	}
}

func TestManager_WatchesNewDirectoriesAndSkipsDeps(t *testing.T) {
	root := t.TempDir()
	_ = os.MkdirAll(filepath.Join(root, "node_modules"), 0o755)
	rec := &recorder{}
	m := NewManager(root, rec.options())
	if _, err := m.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { m.Stop() })

	_ = os.MkdirAll(filepath.Join(root, "pkg"), 0o755)
	waitFor(t, func() bool { return rec.has("pkg") })
	time.Sleep(50 * time.Millisecond)
	_ = os.WriteFile(filepath.Join(root, "pkg", "x.go"), []byte("x"), 0o644)
	waitFor(t, func() bool { return rec.has("pkg/x.go") })

	_ = os.WriteFile(filepath.Join(root, "node_modules", "m.js"), []byte("x"), 0o644)
	time.Sleep(100 * time.Millisecond)
	if rec.has("node_modules/m.js") {
		t.Fatal("dependency directories are not watched")
	}
}
