// usage:
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{SelfHealEvery: 10})
//	hooks := asynchook.New(swcache.JoinHooks(raw, promHooks), 1, 1000)
//	defer hooks.Close()
//
//	w, _ := swcache.New(swcache.Options{
//	    Config:   swcache.DefaultConfig("https://example.dev"),
//	    Provider: provider,
//	    Hooks:    hooks,
//	})
package asynchook

import (
	"sync"
	"sync/atomic"

	"github.com/unkn0wn-root/swcache"
)

// Hooks runs the inner hooks on a small worker pool. Events are dropped when
// the queue is full so the worker never blocks on observability.
type Hooks struct {
	inner   swcache.Hooks
	q       chan func()
	wg      sync.WaitGroup
	once    sync.Once
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Uint64
}

var _ swcache.Hooks = (*Hooks)(nil)

func New(inner swcache.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

// Close drains queued events and stops the pool. Later events are dropped.
func (h *Hooks) Close() {
	h.once.Do(func() {
		h.mu.Lock()
		h.closed = true
		close(h.q)
		h.mu.Unlock()
		h.wg.Wait()
	})
}

// Dropped counts events lost to a full queue or a closed pool.
func (h *Hooks) Dropped() uint64 { return h.dropped.Load() }

func (h *Hooks) try(f func()) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		h.dropped.Add(1)
		return
	}
	select {
	case h.q <- f:
	default: // drop
		h.dropped.Add(1)
	}
}

func (h *Hooks) InstallFailed(v string, err error) { h.try(func() { h.inner.InstallFailed(v, err) }) }
func (h *Hooks) ExternalAssetFailed(u string, err error) {
	h.try(func() { h.inner.ExternalAssetFailed(u, err) })
}
func (h *Hooks) StaleStoreDeleted(name string) { h.try(func() { h.inner.StaleStoreDeleted(name) }) }
func (h *Hooks) FetchServed(k swcache.RequestKind, s swcache.Source) {
	h.try(func() { h.inner.FetchServed(k, s) })
}
func (h *Hooks) FetchFailed(k swcache.RequestKind, err error) {
	h.try(func() { h.inner.FetchFailed(k, err) })
}
func (h *Hooks) RuntimeStored(u string)     { h.try(func() { h.inner.RuntimeStored(u) }) }
func (h *Hooks) RuntimeSkipped(u, r string) { h.try(func() { h.inner.RuntimeSkipped(u, r) }) }
func (h *Hooks) SubmissionResent(u string)  { h.try(func() { h.inner.SubmissionResent(u) }) }
func (h *Hooks) SubmissionRetained(u string, err error) {
	h.try(func() { h.inner.SubmissionRetained(u, err) })
}
func (h *Hooks) NotificationShown(id string)  { h.try(func() { h.inner.NotificationShown(id) }) }
func (h *Hooks) SelfHeal(k, r string)         { h.try(func() { h.inner.SelfHeal(k, r) }) }
func (h *Hooks) ProviderSetRejected(k string) { h.try(func() { h.inner.ProviderSetRejected(k) }) }
