// usage:
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{
//	    DegradedEvery: 100, // sample logs: ~every 100th degraded read
//	})
//
//	hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
//	defer hooks.Close()
//
//	ks, _ := rulecache.NewKeyspace(rulecache.KeyspaceOptions{
//	    Store: redisstore,
//	    Hooks: hooks, // or `raw` if you don’t want async
//	})
package asynchook

import (
	"sync"

	"github.com/unkn0wn-root/rulecache"
)

type Hooks struct {
	inner rulecache.Hooks
	q     chan func()
	wg    sync.WaitGroup
	once  sync.Once

	mu     sync.RWMutex
	closed bool
}

var _ rulecache.Hooks = (*Hooks)(nil)

func New(inner rulecache.Hooks, workers, qlen int) *Hooks {
	if inner == nil {
		inner = rulecache.NopHooks{}
	}
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

// Close stops accepting events and waits for queued ones to run. Events
// fired after Close are dropped.
func (h *Hooks) Close() {
	h.once.Do(func() {
		h.mu.Lock()
		h.closed = true
		close(h.q)
		h.mu.Unlock()
		h.wg.Wait()
	})
}

func (h *Hooks) try(f func()) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	select {
	case h.q <- f:
	default: // drop
	}
}

func (h *Hooks) ReadDegraded(k string, err error) { h.try(func() { h.inner.ReadDegraded(k, err) }) }
func (h *Hooks) DecodeFailed(k string, err error) { h.try(func() { h.inner.DecodeFailed(k, err) }) }
func (h *Hooks) PatternPurged(p string, n int)    { h.try(func() { h.inner.PatternPurged(p, n) }) }
func (h *Hooks) AsyncEnqueued(n int)              { h.try(func() { h.inner.AsyncEnqueued(n) }) }
func (h *Hooks) AsyncFallback(n int, err error)   { h.try(func() { h.inner.AsyncFallback(n, err) }) }
func (h *Hooks) InvalidationFailed(k string, pattern bool, err error) {
	h.try(func() { h.inner.InvalidationFailed(k, pattern, err) })
}
func (h *Hooks) ResolutionFailed(entity, path string, err error) {
	h.try(func() { h.inner.ResolutionFailed(entity, path, err) })
}
