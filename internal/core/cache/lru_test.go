package cache

import (
	"testing"
	"time"
)

func TestLRU_EvictsOldest(t *testing.T) {
	c := NewLRU[string, int](2, 0)
	c.Put("a", 1)
	c.Put("b", 2)
	_, _ = c.Get("a") // a becomes most-recent
	c.Put("c", 3)     // should evict b

	if _, ok := c.Get("b"); ok {
		t.Fatal("expected b evicted")
	}
	if v, ok := c.Get("a"); !ok || v != 1 {
		t.Fatalf("expected a present, got %v ok=%v", v, ok)
	}
}

func TestLRU_MaxAge(t *testing.T) {
	now := time.Unix(100, 0)
	c := NewLRU[string, int](4, time.Second)
	c.SetClock(func() time.Time { return now })

	c.Put("a", 1)
	now = now.Add(999 * time.Millisecond)
	if v, ok := c.Get("a"); !ok || v != 1 {
		t.Fatalf("a=%v ok=%v before expiry", v, ok)
	}
	now = now.Add(time.Millisecond)
	if _, ok := c.Get("a"); ok {
		t.Fatal("expected a expired")
	}
	if c.Len() != 0 {
		t.Fatalf("expired entry kept, len=%d", c.Len())
	}

	c.Put("b", 2)
	now = now.Add(500 * time.Millisecond)
	c.Put("b", 3) // refreshes the age
	now = now.Add(700 * time.Millisecond)
	if v, ok := c.Get("b"); !ok || v != 3 {
		t.Fatalf("b=%v ok=%v", v, ok)
	}
}

func TestLRU_Purge(t *testing.T) {
	c := NewLRU[string, int](4, 0)
	c.Put("a", 1)
	c.Put("b", 2)
	c.Purge()
	if c.Len() != 0 {
		t.Fatalf("len=%d", c.Len())
	}
	if _, ok := c.Get("a"); ok {
		t.Fatal("expected purge to drop a")
	}
	c.Put("c", 3)
	if v, ok := c.Get("c"); !ok || v != 3 {
		t.Fatalf("c=%v ok=%v", v, ok)
	}
}
