// Package ristretto provides a cost-bounded memcache.Store. Use it instead of
// the weak store when retention must be capped explicitly (e.g. a pixel-byte
// budget) rather than left to garbage-collector timing. Note the observable
// difference: a bounded cache can evict entries that still have live users
// elsewhere, and can reject inserts under pressure.
package ristretto

import (
	"errors"

	rc "github.com/dgraph-io/ristretto"

	"github.com/unkn0wn-root/imgpipe/memcache"
)

type Cache[V any] struct {
	c    *rc.Cache
	cost func(*V) int64
}

var _ memcache.Store[struct{}] = (*Cache[struct{}])(nil)

type Config[V any] struct {
	// MaxCost is the capacity bound in cost units (commonly bytes).
	MaxCost int64
	// NumCounters sizes the admission sketch; ~10x expected entries.
	NumCounters int64
	// BufferItems is the Get buffer size; 64 is the recommended default.
	BufferItems int64
	// Cost computes the charge for a value. Required.
	Cost func(*V) int64
}

func New[V any](cfg Config[V]) (*Cache[V], error) {
	if cfg.NumCounters <= 0 || cfg.MaxCost <= 0 || cfg.BufferItems <= 0 {
		return nil, errors.New("ristretto memcache: invalid config")
	}
	if cfg.Cost == nil {
		return nil, errors.New("ristretto memcache: cost func is required")
	}
	c, err := rc.NewCache(&rc.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: cfg.BufferItems,
	})
	if err != nil {
		return nil, err
	}
	return &Cache[V]{c: c, cost: cfg.Cost}, nil
}

func (c *Cache[V]) Get(key string) (*V, bool) {
	raw, ok := c.c.Get(key)
	if !ok {
		return nil, false
	}
	v, _ := raw.(*V)
	if v == nil {
		// self-heal: drop unexpected entry shape
		c.c.Del(key)
		return nil, false
	}
	return v, true
}

func (c *Cache[V]) Set(key string, v *V) {
	if v == nil {
		return
	}
	// Ristretto may reject the insert under pressure; entries are cheap to
	// reconstruct, so the rejection is deliberately ignored.
	c.c.Set(key, v, c.cost(v))
}

// Wait blocks until buffered Sets are applied. Test helper.
func (c *Cache[V]) Wait() { c.c.Wait() }

func (c *Cache[V]) Close() {
	c.c.Close()
}
