package cache

import (
	"container/list"
	"sync"
	"time"
)

type lruEntry[K comparable, V any] struct {
	key K
	val V
	at  time.Time
}

// LRU is a fixed-capacity, concurrency-safe least-recently-used map. When
// maxAge is positive, entries older than it read as misses.
type LRU[K comparable, V any] struct {
	mu     sync.Mutex
	cap    int
	maxAge time.Duration
	now    func() time.Time
	ll     *list.List
	m      map[K]*list.Element
}

func NewLRU[K comparable, V any](capacity int, maxAge time.Duration) *LRU[K, V] {
	if capacity <= 0 {
		capacity = 1
	}
	return &LRU[K, V]{
		cap:    capacity,
		maxAge: maxAge,
		now:    time.Now,
		ll:     list.New(),
		m:      map[K]*list.Element{},
	}
}

// SetClock replaces time.Now for tests.
func (c *LRU[K, V]) SetClock(now func() time.Time) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}

func (c *LRU[K, V]) Get(key K) (V, bool) {
	var zero V
	if c == nil {
		return zero, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.m[key]
	if !ok {
		return zero, false
	}
	ent := el.Value.(*lruEntry[K, V])
	if c.maxAge > 0 && c.now().Sub(ent.at) >= c.maxAge {
		delete(c.m, key)
		c.ll.Remove(el)
		return zero, false
	}
	c.ll.MoveToFront(el)
	return ent.val, true
}

func (c *LRU[K, V]) Put(key K, val V) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.m[key]; ok {
		ent := el.Value.(*lruEntry[K, V])
		ent.val, ent.at = val, c.now()
		c.ll.MoveToFront(el)
		return
	}
	c.m[key] = c.ll.PushFront(&lruEntry[K, V]{key: key, val: val, at: c.now()})

	for c.ll.Len() > c.cap {
		last := c.ll.Back()
		delete(c.m, last.Value.(*lruEntry[K, V]).key)
		c.ll.Remove(last)
	}
}

func (c *LRU[K, V]) Len() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

func (c *LRU[K, V]) Purge() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.ll.Init()
	c.m = map[K]*list.Element{}
	c.mu.Unlock()
}
