package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// defaultMaxEntries bounds the memory backend when the config does not.
const defaultMaxEntries = 4096

// memoryCache is a TTL cache with a hard entry cap. Expired entries are
// dropped lazily on read; when the cap is reached, the oldest entry by
// insertion time is evicted.
type memoryCache struct {
	mu         sync.RWMutex
	entries    map[string]*memoryEntry
	ttl        time.Duration
	maxEntries int

	hits   atomic.Uint64
	misses atomic.Uint64
}

type memoryEntry struct {
	value     string
	expiresAt time.Time
	createdAt time.Time
}

func newMemoryCache(maxEntries int, ttl time.Duration) *memoryCache {
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}
	return &memoryCache{
		entries:    make(map[string]*memoryEntry),
		ttl:        ttl,
		maxEntries: maxEntries,
	}
}

func (c *memoryCache) Get(_ context.Context, key string) (string, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		c.misses.Add(1)
		return "", false
	}
	if time.Now().After(entry.expiresAt) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		c.misses.Add(1)
		return "", false
	}

	c.hits.Add(1)
	return entry.value, true
}

func (c *memoryCache) Set(_ context.Context, key, value string) {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxEntries {
		c.evictOldest()
	}
	c.entries[key] = &memoryEntry{
		value:     value,
		expiresAt: now.Add(c.ttl),
		createdAt: now,
	}
}

func (c *memoryCache) Close() error { return nil }

// Len counts stored entries, expired ones included until their next Get.
func (c *memoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// evictOldest removes the entry with the earliest createdAt. Caller holds mu.
func (c *memoryCache) evictOldest() {
	var oldestKey string
	var oldestTime time.Time
	first := true

	for key, entry := range c.entries {
		if first || entry.createdAt.Before(oldestTime) {
			oldestKey = key
			oldestTime = entry.createdAt
			first = false
		}
	}
	if !first {
		delete(c.entries, oldestKey)
	}
}
