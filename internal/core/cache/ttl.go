package cache

import (
	"sync"
	"time"
)

// TTL holds one value for a fixed window. Invalidate bumps a generation so a
// computation that started earlier cannot store its result afterwards.
type TTL[T any] struct {
	ttl time.Duration
	now func() time.Time

	mu    sync.Mutex
	gen   uint64
	val   T
	at    time.Time
	valid bool
}

func NewTTL[T any](ttl time.Duration) *TTL[T] {
	return &TTL[T]{ttl: ttl, now: time.Now}
}

func (c *TTL[T]) SetClock(now func() time.Time) {
	if c == nil || now == nil {
		return
	}
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}

// Get returns the cached value and the current generation. When ok is false
// the caller computes a fresh value and hands gen back to Store.
func (c *TTL[T]) Get() (val T, gen uint64, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.valid && c.now().Sub(c.at) < c.ttl {
		return c.val, c.gen, true
	}
	var zero T
	return zero, c.gen, false
}

func (c *TTL[T]) Store(gen uint64, val T) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen {
		return false
	}
	c.val = val
	c.at = c.now()
	c.valid = true
	return true
}

func (c *TTL[T]) Invalidate() {
	c.mu.Lock()
	c.gen++
	c.valid = false
	var zero T
	c.val = zero
	c.mu.Unlock()
}
