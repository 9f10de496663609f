// Package media holds downloaded memory media and locally previewed files.
package media

import (
	"sync"

	"github.com/dgraph-io/ristretto"

	"github.com/memoryvault/client/internal/api"
)

// Cache is a cost-bounded cache of downloaded media keyed by memory id.
// Cost is the payload size in bytes. A nil *Cache is valid and caches
// nothing.
type Cache struct {
	mu      sync.RWMutex
	c       *ristretto.Cache
	maxCost int64
	closed  bool
}

// NewCache returns a cache holding up to maxBytes of media. maxBytes <= 0
// disables caching and returns nil.
func NewCache(maxBytes int64) (*Cache, error) {
	if maxBytes <= 0 {
		return nil, nil
	}
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10_000,
		MaxCost:     maxBytes,
		BufferItems: 64,

		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, err
	}
	return &Cache{c: c, maxCost: maxBytes}, nil
}

// Get returns a copy of the cached media for id.
func (c *Cache) Get(id string) (api.Media, bool) {
	if c == nil {
		return api.Media{}, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return api.Media{}, false
	}
	v, ok := c.c.Get(id)
	if !ok {
		return api.Media{}, false
	}
	m := v.(api.Media)
	m.Data = append([]byte(nil), m.Data...)
	return m, true
}

// Put stores m for id and reports whether it was admitted. Payloads larger
// than the cache are rejected.
func (c *Cache) Put(id string, m api.Media) bool {
	if c == nil {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	cost := int64(len(m.Data)) + 1
	if c.closed || cost > c.maxCost {
		return false
	}
	m.Data = append([]byte(nil), m.Data...)
	if !c.c.Set(id, m, cost) {
		return false
	}
	c.c.Wait()
	return true
}

// Invalidate drops id.
func (c *Cache) Invalidate(id string) {
	if c == nil {
		return
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.closed {
		c.c.Del(id)
	}
}

// Purge drops everything.
func (c *Cache) Purge() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.c.Clear()
	}
}

// Close releases the cache; later calls are no-ops.
func (c *Cache) Close() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		c.c.Close()
	}
}
