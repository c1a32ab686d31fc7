// Package cache provides a size-bounded, expiring cache used to keep subset
// memberships between evaluations of the same time window.
package cache

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// TTLCache is a thread-safe LRU cache whose entries expire after a fixed TTL.
//
// Key features:
//   - Size-bounded (evicts least recently used when full)
//   - TTL expiration, reaped in the background by the underlying LRU
//   - Hit/miss counters for observability
type TTLCache[K comparable, V any] struct {
	cache   *expirable.LRU[K, V]
	hits    atomic.Uint64
	misses  atomic.Uint64
	evicted atomic.Uint64
}

// NewTTLCache creates a cache holding at most size entries.
// A ttl of 0 disables expiration.
//
// Example:
//
//	members, err := NewTTLCache[string, []Member](64, 10*time.Minute)
//	if err != nil {
//	    return err
//	}
//	members.Set(key, rows)
func NewTTLCache[K comparable, V any](size int, ttl time.Duration) (*TTLCache[K, V], error) {
	if size <= 0 {
		return nil, fmt.Errorf("cache size must be positive, got %d", size)
	}

	c := &TTLCache[K, V]{}
	c.cache = expirable.NewLRU[K, V](size, func(K, V) { c.evicted.Add(1) }, ttl)
	return c, nil
}

// Get returns the value for key if present and not expired.
func (c *TTLCache[K, V]) Get(key K) (V, bool) {
	v, ok := c.cache.Get(key)
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return v, ok
}

// Set stores value, evicting the least recently used entry when full.
func (c *TTLCache[K, V]) Set(key K, value V) {
	c.cache.Add(key, value)
}

// Delete removes key.
func (c *TTLCache[K, V]) Delete(key K) {
	c.cache.Remove(key)
}

// Len returns the number of live entries.
func (c *TTLCache[K, V]) Len() int {
	return c.cache.Len()
}

// Clear removes all entries.
func (c *TTLCache[K, V]) Clear() {
	c.cache.Purge()
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Hits   uint64 `json:"hits"`
	Misses uint64 `json:"misses"`
	// Evicted counts entries dropped for capacity, expiry or Delete.
	Evicted uint64  `json:"evicted"`
	Size    int     `json:"size"`
	HitRate float64 `json:"hit_rate"`
}

// Stats returns current cache statistics.
func (c *TTLCache[K, V]) Stats() Stats {
	hits, misses := c.hits.Load(), c.misses.Load()

	hitRate := 0.0
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	return Stats{
		Hits:    hits,
		Misses:  misses,
		Evicted: c.evicted.Load(),
		Size:    c.cache.Len(),
		HitRate: hitRate,
	}
}

// ResetStats resets hit/miss/evicted counters to zero.
func (c *TTLCache[K, V]) ResetStats() {
	c.hits.Store(0)
	c.misses.Store(0)
	c.evicted.Store(0)
}
