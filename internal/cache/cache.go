// Package cache provides a TTL + LRU in-memory cache and a read-through
// layer over hot store lookups (project and conversation by id). Writes
// to either entity must invalidate through this package to keep reads
// coherent.
package cache

import (
	"sync"
	"time"
)

type entry[V any] struct {
	value        V
	expiresAt    time.Time
	lastAccessed time.Time
}

// Cache is a thread-safe in-memory cache with TTL expiry and LRU
// eviction. A maxEntries of 0 disables the cache: Set is a no-op and Get
// always misses.
type Cache[V any] struct {
	mu         sync.RWMutex
	entries    map[string]*entry[V]
	ttl        time.Duration
	maxEntries int

	hits      uint64
	misses    uint64
	evictions uint64

	metrics *Metrics
}

// Counters is a point-in-time snapshot of cache activity.
type Counters struct {
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
	Size      int    `json:"size"`
}

// New creates a cache with the given TTL and capacity.
func New[V any](ttl time.Duration, maxEntries int) *Cache[V] {
	return &Cache[V]{
		entries:    make(map[string]*entry[V]),
		ttl:        ttl,
		maxEntries: maxEntries,
	}
}

// SetMetrics attaches Prometheus metrics, labeled with name.
func (c *Cache[V]) SetMetrics(m *Metrics) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics = m
}

// Set stores a value, replacing any existing entry for the key. At
// capacity the least recently used entry is evicted first.
func (c *Cache[V]) Set(key string, value V) {
	if c.maxEntries <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()

	if len(c.entries) >= c.maxEntries {
		if _, exists := c.entries[key]; !exists {
			c.evictLRU()
		}
	}

	c.entries[key] = &entry[V]{
		value:        value,
		expiresAt:    now.Add(c.ttl),
		lastAccessed: now,
	}

	if c.metrics != nil {
		c.metrics.setSize(len(c.entries))
	}
}

// Get retrieves a value. Expired entries are removed on access and count
// as misses.
func (c *Cache[V]) Get(key string) (V, bool) {
	var zero V
	if c.maxEntries <= 0 {
		return zero, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	e, exists := c.entries[key]
	if !exists {
		c.misses++
		if c.metrics != nil {
			c.metrics.recordMiss()
		}
		return zero, false
	}

	if time.Now().After(e.expiresAt) {
		delete(c.entries, key)
		c.misses++
		if c.metrics != nil {
			c.metrics.recordMiss()
			c.metrics.setSize(len(c.entries))
		}
		return zero, false
	}

	e.lastAccessed = time.Now()
	c.hits++
	if c.metrics != nil {
		c.metrics.recordHit()
	}
	return e.value, true
}

// Delete removes an entry. No-op when the key is absent.
func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)

	if c.metrics != nil {
		c.metrics.setSize(len(c.entries))
	}
}

// Clear removes all entries.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry[V])

	if c.metrics != nil {
		c.metrics.setSize(0)
	}
}

// Len returns the current entry count.
func (c *Cache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Counters returns a snapshot of hit/miss/eviction counts.
func (c *Cache[V]) Counters() Counters {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Counters{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Size:      len(c.entries),
	}
}

// evictLRU removes the least recently used entry. Caller must hold the
// write lock.
func (c *Cache[V]) evictLRU() {
	var oldestKey string
	var oldestTime time.Time

	first := true
	for key, e := range c.entries {
		if first || e.lastAccessed.Before(oldestTime) {
			oldestKey = key
			oldestTime = e.lastAccessed
			first = false
		}
	}

	if oldestKey != "" {
		delete(c.entries, oldestKey)
		c.evictions++
		if c.metrics != nil {
			c.metrics.recordEviction()
		}
	}
}
