// Package asynchook decouples hook sinks from the acquisition hot path:
// events are queued and delivered by worker goroutines, and dropped when the
// queue is full rather than blocking the pipeline.
package asynchook

import (
	"sync"

	"github.com/unkn0wn-root/imgpipe"
)

type Hooks struct {
	inner imgpipe.Hooks
	q     chan func()
	wg    sync.WaitGroup
	once  sync.Once
}

var _ imgpipe.Hooks = (*Hooks)(nil)

func New(inner imgpipe.Hooks, workers, qlen int) *Hooks {
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

func (h *Hooks) Close() {
	h.once.Do(func() {
		close(h.q)
		h.wg.Wait()
	})
}

func (h *Hooks) try(f func()) {
	select {
	case h.q <- f:
	default: // drop
	}
}

func (h *Hooks) PersistReadFailed(k string, err error) {
	h.try(func() { h.inner.PersistReadFailed(k, err) })
}

func (h *Hooks) PersistWriteFailed(k string, err error) {
	h.try(func() { h.inner.PersistWriteFailed(k, err) })
}

func (h *Hooks) SelfHeal(k, reason string) {
	h.try(func() { h.inner.SelfHeal(k, reason) })
}

func (h *Hooks) DecodeFallback(i int, err error) {
	h.try(func() { h.inner.DecodeFallback(i, err) })
}

func (h *Hooks) FlightShared(k string) {
	h.try(func() { h.inner.FlightShared(k) })
}
