// Package cache provides a bounded in-memory cache with optional expiry.
//
// Entries are evicted least-recently-used first once the cache is full.
// Every lookup is counted in opsguide_ai_cache_lookups_total under the
// cache's name.
package cache

import (
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/opsguide/opsguide-ai/internal/metrics"
)

// Stats is a point-in-time view of cache usage.
type Stats struct {
	Name    string `json:"name"`
	Entries int    `json:"entries"`
	Hits    uint64 `json:"hits"`
	Misses  uint64 `json:"misses"`
}

// Cache is a named LRU cache. A nil *Cache is valid and never stores
// anything, which is how callers disable caching.
type Cache[K comparable, V any] struct {
	name   string
	lru    *expirable.LRU[K, V]
	hits   atomic.Uint64
	misses atomic.Uint64
}

// New creates a cache holding at most size entries. A ttl of 0 keeps
// entries until they are evicted. A size <= 0 returns nil (caching off).
func New[K comparable, V any](name string, size int, ttl time.Duration) *Cache[K, V] {
	if size <= 0 {
		return nil
	}
	return &Cache[K, V]{
		name: name,
		lru:  expirable.NewLRU[K, V](size, nil, ttl),
	}
}

// Get returns the cached value for key.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	if c == nil {
		var zero V
		return zero, false
	}
	v, ok := c.lru.Get(key)
	if ok {
		c.hits.Add(1)
		metrics.CacheLookups.WithLabelValues(c.name, "hit").Inc()
	} else {
		c.misses.Add(1)
		metrics.CacheLookups.WithLabelValues(c.name, "miss").Inc()
	}
	return v, ok
}

// Add stores value under key, evicting the oldest entry if needed.
func (c *Cache[K, V]) Add(key K, value V) {
	if c == nil {
		return
	}
	c.lru.Add(key, value)
}

// Purge removes all entries.
func (c *Cache[K, V]) Purge() {
	if c == nil {
		return
	}
	c.lru.Purge()
}

// Stats returns current usage counters.
func (c *Cache[K, V]) Stats() Stats {
	if c == nil {
		return Stats{}
	}
	return Stats{
		Name:    c.name,
		Entries: c.lru.Len(),
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
	}
}
