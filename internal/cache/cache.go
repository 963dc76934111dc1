// Package cache memoizes expensive aggregate reads with time-based expiry.
// Coherence with the mirror is maintained by the sync engine calling Clear
// after every successful generation install; the cache itself knows nothing
// about generations.
package cache

import (
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"
)

type entry struct {
	value     interface{}
	expiresAt time.Time
}

// Cache is a key -> (value, expiry) store. Expired entries are never
// served; Clear drops everything atomically with respect to concurrent
// lookups.
type Cache struct {
	mu      sync.Mutex
	entries map[string]entry
	now     func() time.Time
}

// New creates an empty cache using the wall clock.
func New() *Cache {
	return &Cache{entries: make(map[string]entry), now: time.Now}
}

// NewWithClock creates a cache with an injected clock, used by tests.
func NewWithClock(now func() time.Time) *Cache {
	return &Cache{entries: make(map[string]entry), now: now}
}

// Key derives a deterministic cache key from a function identity and its
// arguments.
func Key(fn string, args ...interface{}) string {
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, fn)
	for _, a := range args {
		parts = append(parts, fmt.Sprintf("%v", a))
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(strings.Join(parts, "|")))
	return fmt.Sprintf("%s:%x", fn, h.Sum64())
}

// GetOrCompute returns the cached value for key if unexpired, otherwise
// calls fn, stores the result with the given ttl, and returns it. Errors
// from fn are returned uncached.
func (c *Cache) GetOrCompute(key string, ttl time.Duration, fn func() (interface{}, error)) (interface{}, error) {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok && c.now().Before(e.expiresAt) {
		c.mu.Unlock()
		return e.value, nil
	}
	c.mu.Unlock()

	// Compute outside the lock so a slow aggregate does not serialize
	// unrelated keys. Concurrent misses on the same key recompute; last
	// writer wins, which is safe for read-only aggregates.
	v, err := fn()
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[key] = entry{value: v, expiresAt: c.now().Add(ttl)}
	c.mu.Unlock()
	return v, nil
}

// Get returns the unexpired value for key, if any.
func (c *Cache) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || !c.now().Before(e.expiresAt) {
		return nil, false
	}
	return e.value, true
}

// Clear removes all entries.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]entry)
	c.mu.Unlock()
}

// Len reports the number of stored entries, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
