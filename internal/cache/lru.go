// Package cache holds recently computed analysis results in memory so
// repeated requests with the same fingerprint skip recomputation.
package cache

import (
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/fractal-lba/fairmind/internal/api"
)

// LRU is a size-bounded cache with TTL expiration.
//
// Key features:
//   - Size-bounded (evicts least recently used when full)
//   - TTL expiration (0 means entries never expire)
//   - Thread-safe, with lock-free hit/miss counters
type LRU[K comparable, V any] struct {
	cache   *expirable.LRU[K, V]
	hits    atomic.Uint64
	misses  atomic.Uint64
	evicted atomic.Uint64
}

// NewLRU creates a cache holding at most size entries for ttl each.
//
// Example:
//
//	c := NewLRU[string, int](1000, 5*time.Minute)
//	c.Set("key1", 42)
//	if val, ok := c.Get("key1"); ok {
//	    fmt.Println("Found:", val)
//	}
func NewLRU[K comparable, V any](size int, ttl time.Duration) *LRU[K, V] {
	c := &LRU[K, V]{}
	c.cache = expirable.NewLRU[K, V](size, func(K, V) { c.evicted.Add(1) }, ttl)
	return c
}

// Get retrieves a live value from the cache.
func (c *LRU[K, V]) Get(key K) (V, bool) {
	v, ok := c.cache.Get(key)
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return v, ok
}

// Set stores a value, evicting the least recently used entry when full.
func (c *LRU[K, V]) Set(key K, value V) {
	c.cache.Add(key, value)
}

// Delete removes a key from the cache.
func (c *LRU[K, V]) Delete(key K) {
	c.cache.Remove(key)
}

// Len returns the number of entries in the cache, expired ones included
// until they are purged.
func (c *LRU[K, V]) Len() int {
	return c.cache.Len()
}

// Clear removes all entries from the cache.
func (c *LRU[K, V]) Clear() {
	c.cache.Purge()
}

// Stats returns cache statistics for observability.
type Stats struct {
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	Evicted uint64  `json:"evicted"`
	Size    int     `json:"size"`
	HitRate float64 `json:"hit_rate"`
}

// Stats returns current cache statistics.
func (c *LRU[K, V]) Stats() Stats {
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
func (c *LRU[K, V]) ResetStats() {
	c.hits.Store(0)
	c.misses.Store(0)
	c.evicted.Store(0)
}

// Results caches analysis results by analysis ID.
type Results = LRU[string, *api.BiasAnalysisResult]

// NewResults creates a result cache.
func NewResults(size int, ttl time.Duration) *Results {
	return NewLRU[string, *api.BiasAnalysisResult](size, ttl)
}
