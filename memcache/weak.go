package memcache

import (
	"runtime"
	"sync"
	"weak"
)

// Weak holds values through weak pointers. A cached value stays retrievable
// while any strong reference to it exists elsewhere; once the last strong
// reference is gone the garbage collector may reclaim it, and the entry
// disappears. The map slot itself is removed by a runtime cleanup, so dead
// keys do not accumulate.
type Weak[V any] struct {
	mu      sync.Mutex
	entries map[string]weak.Pointer[V]
}

var _ Store[struct{}] = (*Weak[struct{}])(nil)

func NewWeak[V any]() *Weak[V] {
	return &Weak[V]{entries: make(map[string]weak.Pointer[V])}
}

func (c *Weak[V]) Get(key string) (*V, bool) {
	c.mu.Lock()
	p, ok := c.entries[key]
	c.mu.Unlock()
	if !ok {
		return nil, false
	}
	v := p.Value()
	if v == nil {
		// Reclaimed but cleanup has not run yet; drop the stale slot.
		c.mu.Lock()
		if cur, ok := c.entries[key]; ok && cur == p {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return nil, false
	}
	return v, true
}

func (c *Weak[V]) Set(key string, v *V) {
	if v == nil {
		return
	}
	p := weak.Make(v)
	c.mu.Lock()
	c.entries[key] = p
	c.mu.Unlock()

	// The cleanup must not capture v or it would keep the value alive.
	runtime.AddCleanup(v, func(k string) {
		c.mu.Lock()
		if cur, ok := c.entries[k]; ok && cur == p {
			delete(c.entries, k)
		}
		c.mu.Unlock()
	}, key)
}

// Len reports the number of map slots, including entries whose value may
// already have been reclaimed but not yet cleaned up.
func (c *Weak[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
