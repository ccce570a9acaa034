package watch

import (
	"sort"
	"strings"
	"sync"
	"time"

	"workbench/internal/model"
)

// Debouncer batches change notifications. When a path changes several times
// within one window only its latest kind is delivered.
type Debouncer struct {
	delay time.Duration

	mu      sync.Mutex
	timer   *time.Timer
	queued  map[string]string
	onFire  func(changes []model.WatchChange)
	stopped bool
}

func NewDebouncer(delay time.Duration) *Debouncer {
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}
	return &Debouncer{
		delay:  delay,
		queued: map[string]string{},
	}
}

func (d *Debouncer) OnFire(fn func(changes []model.WatchChange)) {
	if d == nil {
		return
	}
	d.mu.Lock()
	d.onFire = fn
	d.mu.Unlock()
}

func (d *Debouncer) Push(path string, kind string) {
	if d == nil {
		return
	}
	path = strings.TrimSpace(path)
	if path == "" {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.queued[path] = kind
	if d.timer != nil {
		_ = d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, d.fire)
}

// Reset drops everything queued without delivering it.
func (d *Debouncer) Reset() {
	if d == nil {
		return
	}
	d.mu.Lock()
	if d.timer != nil {
		_ = d.timer.Stop()
		d.timer = nil
	}
	d.queued = map[string]string{}
	d.mu.Unlock()
}

// Stop drops pending changes and ignores later pushes.
func (d *Debouncer) Stop() {
	if d == nil {
		return
	}
	d.Reset()
	d.mu.Lock()
	d.stopped = true
	d.mu.Unlock()
}

func (d *Debouncer) fire() {
	d.mu.Lock()
	queued := d.queued
	d.queued = map[string]string{}
	fn := d.onFire
	stopped := d.stopped
	d.mu.Unlock()

	if fn == nil || stopped || len(queued) == 0 {
		return
	}

	changes := make([]model.WatchChange, 0, len(queued))
	for p, kind := range queued {
		changes = append(changes, model.WatchChange{Kind: kind, Path: p})
	}
	sort.Slice(changes, func(i, j int) bool { return changes[i].Path < changes[j].Path })
	fn(changes)
}
