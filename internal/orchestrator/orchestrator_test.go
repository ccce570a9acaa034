package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"workbench/internal/backend"
)

func newOrchestrator(t *testing.T, grace time.Duration, settings backend.Settings) (*Orchestrator, *Metrics) {
	t.Helper()
	m := NewMetrics(prometheus.NewRegistry())
	if settings.DebounceMS == 0 {
		settings.DebounceMS = 20
	}
	settings.DisableRipgrep = true
	o := New(Options{IdleGrace: grace, Settings: settings, Metrics: m})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = o.Shutdown(ctx)
	})
	return o, m
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSend_RoundTrip(t *testing.T) {
	o, m := newOrchestrator(t, 0, backend.Settings{})
	root := t.TempDir()
	_ = os.WriteFile(filepath.Join(root, "a.txt"), []byte("hello"), 0o644)

	if err := o.Register("p1", root); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if o.Running("p1") {
		t.Fatal("registration must not spawn")
	}

	res, err := o.Send(context.Background(), "p1", "fs:readFile", map[string]any{"path": "a.txt"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	var file struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(res, &file); err != nil || file.Content != "hello" {
		t.Fatalf("readFile result %s (%v)", res, err)
	}
	if !o.Running("p1") {
		t.Fatal("backend should be running after Send")
	}

	_, err = o.Send(context.Background(), "p1", "fs:readFile", map[string]any{"path": "missing.txt"})
	var rerr *RequestError
	if !errors.As(err, &rerr) || rerr.Kind != "file_not_found" {
		t.Fatalf("expected file_not_found, got %v", err)
	}

	if got := testutil.ToFloat64(m.spawns); got != 1 {
		t.Fatalf("spawns = %v", got)
	}
	if got := testutil.ToFloat64(m.requests.WithLabelValues("fs:readFile", "error")); got != 1 {
		t.Fatalf("error requests = %v", got)
	}
}

func TestSend_UnknownProject(t *testing.T) {
	o, _ := newOrchestrator(t, 0, backend.Settings{})
	_, err := o.Send(context.Background(), "nope", "ping", nil)
	if !errors.Is(err, ErrUnknownProject) {
		t.Fatalf("expected unknown_project, got %v", err)
	}
}

func TestRegister_Rules(t *testing.T) {
	o, _ := newOrchestrator(t, 0, backend.Settings{})
	root := t.TempDir()

	var rerr *RequestError
	if err := o.Register("p", "relative"); !errors.As(err, &rerr) || rerr.Kind != "invalid_project_path" {
		t.Fatalf("relative root: %v", err)
	}
	if err := o.Register(" ", root); !errors.As(err, &rerr) || rerr.Kind != "bad_request" {
		t.Fatalf("empty id: %v", err)
	}

	if err := o.Register("p", root); err != nil {
		t.Fatal(err)
	}
	if err := o.Register("p", root); err != nil {
		t.Fatalf("same pair should be a no-op: %v", err)
	}
	if _, err := o.Send(context.Background(), "p", "ping", nil); err != nil {
		t.Fatalf("ping: %v", err)
	}
	if err := o.Register("p", t.TempDir()); !errors.As(err, &rerr) || rerr.Kind != KindRootImmutable {
		t.Fatalf("expected root_immutable while running, got %v", err)
	}

	o.Freeze("p")
	other := t.TempDir()
	if err := o.Register("p", other); err != nil {
		t.Fatalf("frozen project may move: %v", err)
	}
}

func TestEnsure_ConcurrentSendsShareOneSpawn(t *testing.T) {
	o, m := newOrchestrator(t, 0, backend.Settings{})
	if err := o.Register("p", t.TempDir()); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := o.Send(context.Background(), "p", "ping", nil)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("Send: %v", err)
		}
	}
	if got := testutil.ToFloat64(m.spawns); got != 1 {
		t.Fatalf("spawns = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.live); got != 1 {
		t.Fatalf("live = %v", got)
	}
}

func TestFreeze_FailsOutstandingAndRespawns(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses a shell script as git")
	}
	slowGit := filepath.Join(t.TempDir(), "slow-git")
	_ = os.WriteFile(slowGit, []byte("#!/bin/sh\nsleep 5\nexit 1\n"), 0o755)

	o, m := newOrchestrator(t, 0, backend.Settings{GitPath: slowGit})
	if err := o.Register("p", t.TempDir()); err != nil {
		t.Fatal(err)
	}
	events, cancel := o.Subscribe(16)
	defer cancel()

	if _, err := o.Send(context.Background(), "p", "ping", nil); err != nil {
		t.Fatalf("ping: %v", err)
	}

	errc := make(chan error, 1)
	go func() {
		_, err := o.Send(context.Background(), "p", "fs:gitDiff", nil)
		errc <- err
	}()
	waitFor(t, "outstanding request", func() bool { return testutil.ToFloat64(m.pending) == 1 })

	if !o.Freeze("p") {
		t.Fatal("Freeze should report a running backend")
	}
	select {
	case err := <-errc:
		if !errors.Is(err, ErrServiceExited) {
			t.Fatalf("expected service_exited, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("outstanding request did not resolve on freeze")
	}
	if o.Running("p") {
		t.Fatal("still running after freeze")
	}
	if o.Freeze("p") {
		t.Fatal("second freeze should be a no-op")
	}

	var sawExit bool
	for !sawExit {
		select {
		case ev := <-events:
			sawExit = ev.Type == EventExit && ev.ProjectID == "p"
		case <-time.After(2 * time.Second):
			t.Fatal("no exit event")
		}
	}

	if _, err := o.Send(context.Background(), "p", "ping", nil); err != nil {
		t.Fatalf("ping after freeze: %v", err)
	}
	if got := testutil.ToFloat64(m.spawns); got != 2 {
		t.Fatalf("spawns = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.freezes); got != 1 {
		t.Fatalf("freezes = %v", got)
	}
}

func TestSubscribe_ForwardsWatcherEvents(t *testing.T) {
	o, _ := newOrchestrator(t, 0, backend.Settings{})
	root := t.TempDir()
	if err := o.Register("p", root); err != nil {
		t.Fatal(err)
	}
	events, cancel := o.Subscribe(64)
	defer cancel()

	if _, err := o.Send(context.Background(), "p", "watcher:start", nil); err != nil {
		t.Fatalf("watcher:start: %v", err)
	}
	_ = os.WriteFile(filepath.Join(root, "new.txt"), []byte("x"), 0o644)

	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Type != "watcher" {
				continue
			}
			if ev.ProjectID != "p" {
				t.Fatalf("event project %q", ev.ProjectID)
			}
			var payload struct {
				Changes []struct {
					Path string `json:"path"`
				} `json:"changes"`
			}
			if err := json.Unmarshal(ev.Payload, &payload); err != nil {
				t.Fatalf("payload: %v", err)
			}
			for _, c := range payload.Changes {
				if c.Path == "new.txt" {
					return
				}
			}
		case <-deadline:
			t.Fatal("no watcher event for new.txt")
		}
	}
}

func TestWindows_IdleFreeze(t *testing.T) {
	o, _ := newOrchestrator(t, 100*time.Millisecond, backend.Settings{})
	for _, id := range []string{"a", "b"} {
		if err := o.Register(id, t.TempDir()); err != nil {
			t.Fatal(err)
		}
	}
	ctx := context.Background()

	if err := o.SetWindow(ctx, "w1", Window{Slots: [SlotCount]string{"a", "b"}, Active: 0}); err != nil {
		t.Fatalf("SetWindow: %v", err)
	}
	if !o.Running("a") || o.Running("b") {
		t.Fatalf("only the active slot should run: a=%v b=%v", o.Running("a"), o.Running("b"))
	}
	if !o.Visible()["a"] || o.Visible()["b"] {
		t.Fatalf("visible = %v", o.Visible())
	}

	// A request to a hidden project starts it; it freezes after the grace.
	if _, err := o.Send(ctx, "b", "ping", nil); err != nil {
		t.Fatalf("ping b: %v", err)
	}
	waitFor(t, "b to freeze", func() bool { return !o.Running("b") })

	if err := o.SetWindow(ctx, "w1", Window{Slots: [SlotCount]string{"a", "b"}, Active: 1}); err != nil {
		t.Fatalf("SetWindow: %v", err)
	}
	if !o.Running("b") {
		t.Fatal("b should run once active")
	}
	waitFor(t, "a to freeze", func() bool { return !o.Running("a") })
	if !o.Running("b") {
		t.Fatal("visible project must not freeze")
	}
}

func TestWindows_VisibleAgainCancelsFreeze(t *testing.T) {
	o, _ := newOrchestrator(t, 300*time.Millisecond, backend.Settings{})
	for _, id := range []string{"a", "b"} {
		if err := o.Register(id, t.TempDir()); err != nil {
			t.Fatal(err)
		}
	}
	ctx := context.Background()
	w := Window{Slots: [SlotCount]string{"a", "b"}}

	if err := o.SetWindow(ctx, "w1", w); err != nil {
		t.Fatal(err)
	}
	w.Active = 1
	if err := o.SetWindow(ctx, "w1", w); err != nil {
		t.Fatal(err)
	}
	w.Active = 0
	if err := o.SetWindow(ctx, "w1", w); err != nil {
		t.Fatal(err)
	}

	time.Sleep(600 * time.Millisecond)
	if !o.Running("a") {
		t.Fatal("a froze although it became visible again")
	}

	// Closing the window hides a, so it freezes after the grace.
	if err := o.CloseWindow(ctx, "w1"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "a to freeze after its window closed", func() bool { return !o.Running("a") })
}

func TestSendWithoutWindowsNeverIdles(t *testing.T) {
	o, _ := newOrchestrator(t, 50*time.Millisecond, backend.Settings{})
	if err := o.Register("p", t.TempDir()); err != nil {
		t.Fatal(err)
	}
	if _, err := o.Send(context.Background(), "p", "ping", nil); err != nil {
		t.Fatal(err)
	}
	time.Sleep(200 * time.Millisecond)
	if !o.Running("p") {
		t.Fatal("without windows a project stays up")
	}
}

func TestShutdown(t *testing.T) {
	o, m := newOrchestrator(t, 0, backend.Settings{})
	for _, id := range []string{"a", "b"} {
		if err := o.Register(id, t.TempDir()); err != nil {
			t.Fatal(err)
		}
		if _, err := o.Send(context.Background(), id, "ping", nil); err != nil {
			t.Fatal(err)
		}
	}
	events, _ := o.Subscribe(16)

	if err := o.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if got := testutil.ToFloat64(m.live); got != 0 {
		t.Fatalf("live = %v after shutdown", got)
	}
	for range events {
	}
	_, err := o.Send(context.Background(), "a", "ping", nil)
	var rerr *RequestError
	if !errors.As(err, &rerr) || rerr.Kind != KindShutdown {
		t.Fatalf("expected orchestrator_closed, got %v", err)
	}
	if err := o.Register("c", t.TempDir()); !errors.As(err, &rerr) || rerr.Kind != KindShutdown {
		t.Fatalf("register after shutdown: %v", err)
	}
}
