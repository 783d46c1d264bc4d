package asynchook

import (
	"sync"
	"testing"

	"github.com/unkn0wn-root/swcache"
)

type countHooks struct {
	swcache.NopHooks
	mu     sync.Mutex
	stored []string
	gate   chan struct{}
}

func (c *countHooks) RuntimeStored(u string) {
	if c.gate != nil {
		<-c.gate
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stored = append(c.stored, u)
}

func TestCloseDrainsQueuedEvents(t *testing.T) {
	inner := &countHooks{}
	h := New(inner, 2, 16)
	for i := 0; i < 10; i++ {
		h.RuntimeStored("u")
	}
	h.Close()
	if len(inner.stored) != 10 {
		t.Fatalf("delivered %d of 10", len(inner.stored))
	}
	if h.Dropped() != 0 {
		t.Fatalf("dropped %d", h.Dropped())
	}
}

func TestDropsWhenFullOrClosed(t *testing.T) {
	inner := &countHooks{gate: make(chan struct{})}
	h := New(inner, 1, 1)
	// one event blocks the worker, one fills the queue, the rest are dropped
	for i := 0; i < 5; i++ {
		h.RuntimeStored("u")
	}
	if h.Dropped() < 3 {
		t.Fatalf("dropped = %d, want at least 3", h.Dropped())
	}
	close(inner.gate)
	h.Close()

	before := h.Dropped()
	h.RuntimeStored("late")
	if h.Dropped() != before+1 {
		t.Fatalf("event after Close not counted as dropped")
	}
	h.Close()
}
