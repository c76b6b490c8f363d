package cache

import (
	"sync"
	"time"
)

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// TTL is an in-memory cache with per-entry expiry. It is used only for
// read operations whose staleness is acceptable; entries are evicted
// lazily on Get. State is per-process and never persisted.
type TTL[K comparable, V any] struct {
	mu    sync.RWMutex
	items map[K]entry[V]
}

// NewTTL constructs an empty TTL cache.
func NewTTL[K comparable, V any]() *TTL[K, V] {
	return &TTL[K, V]{items: make(map[K]entry[V])}
}

// Get returns the cached value if present and not expired.
func (c *TTL[K, V]) Get(key K) (V, bool) {
	var zero V
	c.mu.RLock()
	e, ok := c.items[key]
	c.mu.RUnlock()
	if !ok {
		return zero, false
	}
	if !e.expiresAt.IsZero() && time.Now().After(e.expiresAt) {
		c.Delete(key)
		return zero, false
	}
	return e.value, true
}

// Set stores a value. A ttl of zero or less means the entry never expires.
func (c *TTL[K, V]) Set(key K, value V, ttl time.Duration) {
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}
	c.mu.Lock()
	c.items[key] = entry[V]{value: value, expiresAt: expiresAt}
	c.mu.Unlock()
}

// Delete removes an entry.
func (c *TTL[K, V]) Delete(key K) {
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
}

// Len returns the number of stored entries, expired or not.
func (c *TTL[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}
