package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"workbench/internal/backend"
)

const (
	DefaultIdleGrace   = 2 * time.Minute
	DefaultInitTimeout = 30 * time.Second
	defaultEventBuffer = 256

	// EventExit is published when a backend process goes away.
	EventExit = "orchestrator:exit"
)

type Options struct {
	// Launcher starts backends. Nil runs them in-process, which suits tests
	// and embedding; the wb CLI runs one wbd process per project.
	Launcher  Launcher
	IdleGrace time.Duration
	// Settings are sent with every init request.
	Settings    backend.Settings
	InitTimeout time.Duration
	Metrics     *Metrics
	Logger      *slog.Logger
}

// Event is an unsolicited backend line tagged with its project.
type Event struct {
	ProjectID string          `json:"projectId"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

type instance struct {
	id   string
	root string

	mu      sync.Mutex
	cur     *conn
	visible bool
	paused  bool
	idle    *time.Timer
	idleGen uint64
}

// Orchestrator owns one backend per registered project and routes requests
// to it, spawning on demand and freezing projects nobody looks at.
type Orchestrator struct {
	opts    Options
	log     *slog.Logger
	metrics *Metrics

	spawns singleflight.Group

	mu       sync.Mutex
	projects map[string]*instance
	windows  map[string]Window
	closed   bool

	subMu   sync.Mutex
	subs    map[int]chan Event
	nextSub int
}

func New(opts Options) *Orchestrator {
	if opts.IdleGrace <= 0 {
		opts.IdleGrace = DefaultIdleGrace
	}
	if opts.InitTimeout <= 0 {
		opts.InitTimeout = DefaultInitTimeout
	}
	if opts.Launcher == nil {
		opts.Launcher = InProcessLauncher{}
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics(nil)
	}
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Orchestrator{
		opts:     opts,
		log:      log,
		metrics:  opts.Metrics,
		projects: map[string]*instance{},
		windows:  map[string]Window{},
		subs:     map[int]chan Event{},
	}
}

// Register binds projectID to root. Registering the same pair again is a
// no-op; a running project cannot move to another root.
func (o *Orchestrator) Register(projectID, root string) error {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return &RequestError{Kind: "bad_request", Message: "project id is required"}
	}
	if !filepath.IsAbs(root) {
		return &RequestError{Kind: "invalid_project_path", Message: root}
	}
	root = filepath.Clean(root)

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return &RequestError{Kind: KindShutdown}
	}

	inst, ok := o.projects[projectID]
	if !ok {
		o.projects[projectID] = &instance{id: projectID, root: root}
		return nil
	}

	inst.mu.Lock()
	defer inst.mu.Unlock()
	if inst.root == root {
		return nil
	}
	if inst.cur != nil {
		return &RequestError{Kind: KindRootImmutable, Message: inst.root}
	}
	inst.root = root
	return nil
}

// Unregister freezes the project and forgets it.
func (o *Orchestrator) Unregister(projectID string) bool {
	o.Freeze(projectID)
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.projects[projectID]
	delete(o.projects, projectID)
	return ok
}

func (o *Orchestrator) lookup(projectID string) (*instance, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil, &RequestError{Kind: KindShutdown}
	}
	inst, ok := o.projects[projectID]
	if !ok {
		return nil, &RequestError{Kind: KindUnknownProject, Message: projectID}
	}
	return inst, nil
}

// Send forwards one request to the project's backend, starting it first if
// needed, and returns the reply's result.
func (o *Orchestrator) Send(ctx context.Context, projectID, typ string, fields map[string]any) (json.RawMessage, error) {
	inst, err := o.lookup(projectID)
	if err != nil {
		return nil, err
	}
	c, err := o.ensure(ctx, inst)
	if err != nil {
		o.metrics.requests.WithLabelValues(typ, "error").Inc()
		return nil, err
	}

	start := time.Now()
	res, err := c.call(ctx, typ, fields)
	o.metrics.requestTime.WithLabelValues(typ).Observe(time.Since(start).Seconds())
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	o.metrics.requests.WithLabelValues(typ, outcome).Inc()
	return res, err
}

// Running reports whether the project's backend is up.
func (o *Orchestrator) Running(projectID string) bool {
	inst, err := o.lookup(projectID)
	if err != nil {
		return false
	}
	inst.mu.Lock()
	defer inst.mu.Unlock()
	return inst.cur != nil
}

// ensure returns the live conn, spawning and initializing one if needed.
// Concurrent callers share a single spawn.
func (o *Orchestrator) ensure(ctx context.Context, inst *instance) (*conn, error) {
	inst.mu.Lock()
	c := inst.cur
	inst.mu.Unlock()
	if c != nil {
		return c, nil
	}

	v, err, _ := o.spawns.Do(inst.id, func() (any, error) {
		inst.mu.Lock()
		if inst.cur != nil {
			c := inst.cur
			inst.mu.Unlock()
			return c, nil
		}
		root := inst.root
		inst.mu.Unlock()
		return o.spawn(inst, root)
	})
	if err != nil {
		return nil, err
	}
	return v.(*conn), nil
}

func (o *Orchestrator) spawn(inst *instance, root string) (*conn, error) {
	proc, err := o.opts.Launcher.Launch(context.Background(), inst.id, root)
	if err != nil {
		return nil, &RequestError{Kind: KindSpawnFailed, Message: err.Error()}
	}
	o.metrics.spawns.Inc()
	o.metrics.live.Inc()
	o.log.Info("backend started", "project", inst.id, "root", root)

	c := newConn(proc, o.metrics)
	go o.supervise(inst, c)

	ctx, cancel := context.WithTimeout(context.Background(), o.opts.InitTimeout)
	defer cancel()
	if _, err := c.call(ctx, "init", map[string]any{"root": root, "settings": o.opts.Settings}); err != nil {
		_ = proc.Kill()
		<-c.done
		return nil, err
	}

	windows := o.hasWindows()
	inst.mu.Lock()
	// supervise marks c exited before it looks at inst.cur, so a backend
	// that died after answering init is either refused here or cleared there.
	if c.isExited() {
		inst.mu.Unlock()
		<-c.done
		return nil, ErrServiceExited
	}
	inst.cur = c
	paused := inst.paused
	arm := !inst.visible && windows
	inst.mu.Unlock()

	if paused {
		_, _ = c.call(ctx, "watcher:setPaused", map[string]any{"paused": true})
	}
	if arm {
		o.armIdle(inst)
	}
	return c, nil
}

// supervise pumps the backend's output and cleans up when it ends.
func (o *Orchestrator) supervise(inst *instance, c *conn) {
	c.read(func(typ string, line []byte) {
		o.publish(Event{ProjectID: inst.id, Type: typ, Payload: json.RawMessage(line)})
	})
	err := c.proc.Wait()
	c.fail()

	inst.mu.Lock()
	if inst.cur == c {
		inst.cur = nil
	}
	inst.mu.Unlock()

	o.metrics.exits.Inc()
	o.metrics.live.Dec()
	o.log.Info("backend exited", "project", inst.id, "err", err)
	payload, _ := json.Marshal(map[string]any{"type": EventExit, "projectId": inst.id})
	o.publish(Event{ProjectID: inst.id, Type: EventExit, Payload: payload})
	close(c.done)
}

// Freeze kills the project's backend. Outstanding requests resolve with
// service_exited. It reports whether a backend was running.
func (o *Orchestrator) Freeze(projectID string) bool {
	inst, err := o.lookupAny(projectID)
	if err != nil {
		return false
	}

	inst.mu.Lock()
	c := inst.cur
	inst.cur = nil
	o.cancelIdleLocked(inst)
	inst.mu.Unlock()
	if c == nil {
		return false
	}

	o.metrics.freezes.Inc()
	o.log.Info("freezing backend", "project", projectID)
	_ = c.proc.Kill()
	<-c.done
	return true
}

// lookupAny finds a project even after Shutdown began.
func (o *Orchestrator) lookupAny(projectID string) (*instance, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	inst, ok := o.projects[projectID]
	if !ok {
		return nil, &RequestError{Kind: KindUnknownProject, Message: projectID}
	}
	return inst, nil
}

// Shutdown freezes every backend in parallel and closes all subscriptions.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	ids := make([]string, 0, len(o.projects))
	for id := range o.projects {
		ids = append(ids, id)
	}
	o.mu.Unlock()

	var g errgroup.Group
	for _, id := range ids {
		g.Go(func() error {
			done := make(chan struct{})
			go func() {
				o.Freeze(id)
				close(done)
			}()
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return fmt.Errorf("freeze %s: %w", id, ctx.Err())
			}
		})
	}
	err := g.Wait()

	o.subMu.Lock()
	for id, ch := range o.subs {
		close(ch)
		delete(o.subs, id)
	}
	o.subMu.Unlock()
	return err
}

// Subscribe returns a channel of backend events and a cancel func. A
// subscriber that falls behind loses events rather than blocking backends.
func (o *Orchestrator) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = defaultEventBuffer
	}
	ch := make(chan Event, buffer)

	o.subMu.Lock()
	id := o.nextSub
	o.nextSub++
	o.subs[id] = ch
	o.subMu.Unlock()

	return ch, func() {
		o.subMu.Lock()
		defer o.subMu.Unlock()
		if c, ok := o.subs[id]; ok {
			close(c)
			delete(o.subs, id)
		}
	}
}

func (o *Orchestrator) publish(ev Event) {
	o.subMu.Lock()
	defer o.subMu.Unlock()
	for _, ch := range o.subs {
		select {
		case ch <- ev:
		default:
			o.metrics.eventsDropped.Inc()
		}
	}
}
