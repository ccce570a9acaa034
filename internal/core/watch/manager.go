package watch

import (
	"context"
	"sync"
	"sync/atomic"
)

// Manager owns at most one Watcher for a root. Start creates it lazily and
// Stop waits for its run loop to exit, so a Start right after a Stop never
// overlaps the previous instance.
type Manager struct {
	root string
	opts Options

	mu     sync.Mutex
	w      *Watcher
	cancel context.CancelFunc
	done   chan struct{}
	paused atomic.Bool
}

func NewManager(root string, opts Options) *Manager {
	return &Manager{root: root, opts: opts}
}

// Start reports false when a watcher was already running.
func (m *Manager) Start() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.w != nil {
		return false, nil
	}
	w, err := newWatcher(m.root, m.opts, &m.paused)
	if err != nil {
		return false, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()

	m.w, m.cancel, m.done = w, cancel, done
	return true, nil
}

// Stop is idempotent and returns only after the run loop has exited.
func (m *Manager) Stop() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.w == nil {
		return false
	}
	m.cancel()
	_ = m.w.Close()
	<-m.done

	m.w, m.cancel, m.done = nil, nil, nil
	return true
}

func (m *Manager) SetPaused(paused bool) {
	m.paused.Store(paused)

	m.mu.Lock()
	w := m.w
	m.mu.Unlock()
	if w != nil {
		w.SetPaused(paused)
	}
}

func (m *Manager) Paused() bool {
	return m.paused.Load()
}

func (m *Manager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.w != nil
}
