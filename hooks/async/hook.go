// Package asynchook moves gcache hook calls off the hot path onto a small
// worker pool. Events are dropped when the queue is full.
//
// usage:
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{ExpiredReadEvery: 100})
//	hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
//	defer hooks.Close()
//
//	st := store.New(store.Options{Hooks: hooks})
package asynchook

import (
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/unkn0wn-root/gcache"
)

type Hooks struct {
	inner   gcache.Hooks
	q       chan func()
	wg      sync.WaitGroup
	once    sync.Once
	closed  atomic.Bool
	dropped atomic.Uint64
}

var _ gcache.Hooks = (*Hooks)(nil)

func New(inner gcache.Hooks, workers, qlen int) *Hooks {
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

// Close stops accepting events and waits for queued ones to run.
func (h *Hooks) Close() {
	h.once.Do(func() {
		h.closed.Store(true)
		close(h.q)
		h.wg.Wait()
	})
}

// Dropped counts events discarded because the queue was full or closed.
func (h *Hooks) Dropped() uint64 { return h.dropped.Load() }

func (h *Hooks) try(f func()) {
	if h.closed.Load() {
		h.dropped.Inc()
		return
	}
	defer func() {
		// send on a queue closed by a concurrent Close
		if recover() != nil {
			h.dropped.Inc()
		}
	}()
	select {
	case h.q <- f:
	default:
		h.dropped.Inc()
	}
}

func (h *Hooks) SweepCompleted(evicted, remaining int, elapsed time.Duration) {
	h.try(func() { h.inner.SweepCompleted(evicted, remaining, elapsed) })
}
func (h *Hooks) SweepEntryFailed(k string, err error) {
	h.try(func() { h.inner.SweepEntryFailed(k, err) })
}
func (h *Hooks) ExpiredRead(k string)            { h.try(func() { h.inner.ExpiredRead(k) }) }
func (h *Hooks) PoolRefilled(added, avail int)   { h.try(func() { h.inner.PoolRefilled(added, avail) }) }
func (h *Hooks) PoolRefillFailed(err error)      { h.try(func() { h.inner.PoolRefillFailed(err) }) }
func (h *Hooks) RetryAttempt(op string, n int, err error) {
	h.try(func() { h.inner.RetryAttempt(op, n, err) })
}
func (h *Hooks) AsyncFailed(op, k string, err error) {
	h.try(func() { h.inner.AsyncFailed(op, k, err) })
}
