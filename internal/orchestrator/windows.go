package orchestrator

import (
	"context"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

const SlotCount = 8

// Window is one UI window: up to eight project slots, one of them active.
type Window struct {
	Slots  [SlotCount]string `json:"slots"`
	Active int               `json:"active"`
}

func (w Window) activeProject() string {
	if w.Active < 0 || w.Active >= SlotCount {
		return ""
	}
	return strings.TrimSpace(w.Slots[w.Active])
}

// SetWindow records a window's slots and recomputes which projects are
// visible. Visible projects are started and unpaused; the rest are paused
// and scheduled to freeze after the idle grace.
func (o *Orchestrator) SetWindow(ctx context.Context, windowID string, w Window) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return &RequestError{Kind: KindShutdown}
	}
	o.windows[windowID] = w
	o.mu.Unlock()
	return o.recompute(ctx)
}

func (o *Orchestrator) CloseWindow(ctx context.Context, windowID string) error {
	o.mu.Lock()
	delete(o.windows, windowID)
	o.mu.Unlock()
	return o.recompute(ctx)
}

// Visible returns the projects shown in the active slot of any window.
func (o *Orchestrator) Visible() map[string]bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.visibleLocked()
}

func (o *Orchestrator) visibleLocked() map[string]bool {
	out := map[string]bool{}
	for _, w := range o.windows {
		if id := w.activeProject(); id != "" {
			if _, ok := o.projects[id]; ok {
				out[id] = true
			}
		}
	}
	return out
}

func (o *Orchestrator) hasWindows() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.windows) > 0
}

func (o *Orchestrator) recompute(ctx context.Context) error {
	o.mu.Lock()
	visible := o.visibleLocked()
	insts := make([]*instance, 0, len(o.projects))
	for _, inst := range o.projects {
		insts = append(insts, inst)
	}
	o.mu.Unlock()

	var g errgroup.Group
	for _, inst := range insts {
		if visible[inst.id] {
			inst.mu.Lock()
			inst.visible = true
			inst.paused = false
			o.cancelIdleLocked(inst)
			inst.mu.Unlock()

			g.Go(func() error {
				c, err := o.ensure(ctx, inst)
				if err != nil {
					return err
				}
				_, err = c.call(ctx, "watcher:setPaused", map[string]any{"paused": false})
				return err
			})
			continue
		}

		inst.mu.Lock()
		inst.visible = false
		c := inst.cur
		wasPaused := inst.paused
		inst.paused = true
		inst.mu.Unlock()
		if c == nil {
			continue
		}
		if !wasPaused {
			g.Go(func() error {
				_, err := c.call(ctx, "watcher:setPaused", map[string]any{"paused": true})
				return err
			})
		}
		o.armIdle(inst)
	}
	return g.Wait()
}

// armIdle schedules a freeze after the idle grace unless one is pending.
func (o *Orchestrator) armIdle(inst *instance) {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	if inst.idle != nil || inst.visible {
		return
	}
	inst.idleGen++
	gen := inst.idleGen
	inst.idle = time.AfterFunc(o.opts.IdleGrace, func() {
		inst.mu.Lock()
		stale := gen != inst.idleGen || inst.visible
		if !stale {
			inst.idle = nil
		}
		inst.mu.Unlock()
		if stale {
			return
		}
		o.log.Info("idle grace expired", "project", inst.id)
		o.Freeze(inst.id)
	})
}

func (o *Orchestrator) cancelIdleLocked(inst *instance) {
	if inst.idle != nil {
		inst.idle.Stop()
		inst.idle = nil
	}
	inst.idleGen++
}
