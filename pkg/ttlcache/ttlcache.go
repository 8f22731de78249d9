// Package ttlcache provides a small in-process cache with per-entry
// expiration. Entries expire lazily on access and eagerly via an optional
// janitor goroutine, so callers never see stale values and memory stays
// bounded without full-table sweeps on the hot path.
package ttlcache

import (
	"sync"
	"time"
)

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// Cache is a concurrency-safe TTL map.
type Cache[K comparable, V any] struct {
	mu      sync.Mutex
	entries map[K]entry[V]
	now     func() time.Time
	done    chan struct{}
	once    sync.Once
}

// New creates an empty cache.
func New[K comparable, V any]() *Cache[K, V] {
	return &Cache[K, V]{
		entries: make(map[K]entry[V]),
		now:     time.Now,
		done:    make(chan struct{}),
	}
}

// NewWithClock creates a cache using the given clock. Useful in tests.
func NewWithClock[K comparable, V any](now func() time.Time) *Cache[K, V] {
	c := New[K, V]()
	c.now = now
	return c
}

// Set stores value under key with the given time-to-live. A non-positive ttl
// removes the key.
func (c *Cache[K, V]) Set(key K, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ttl <= 0 {
		delete(c.entries, key)
		return
	}
	c.entries[key] = entry[V]{value: value, expiresAt: c.now().Add(ttl)}
}

// Get returns the value for key if present and not expired.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	if c.now().After(e.expiresAt) {
		delete(c.entries, key)
		var zero V
		return zero, false
	}
	return e.value, true
}

// Delete removes key from the cache.
func (c *Cache[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Len returns the number of live entries. Expired entries that have not been
// collected yet are excluded.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	now := c.now()
	for _, e := range c.entries {
		if !now.After(e.expiresAt) {
			n++
		}
	}
	return n
}

// StartJanitor launches a background goroutine that evicts expired entries on
// the given interval. Call Stop to terminate it.
func (c *Cache[K, V]) StartJanitor(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-c.done:
				return
			case <-ticker.C:
				c.evictExpired()
			}
		}
	}()
}

// Stop terminates the janitor goroutine if one is running.
func (c *Cache[K, V]) Stop() {
	c.once.Do(func() { close(c.done) })
}

func (c *Cache[K, V]) evictExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
		}
	}
}
