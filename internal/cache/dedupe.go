package cache

import (
	"sync"
	"time"
)

// DedupeCache is a time-limited seen-set. Serve mode uses it to drop task
// submissions that repeat an idempotency key within the TTL, so a client
// retry storm does not fan out into duplicate runs.
type DedupeCache struct {
	mu      sync.Mutex
	seen    map[string]int64 // key -> unix millis last seen
	ttl     time.Duration
	maxSize int
}

// DedupeCacheOptions configures the cache. A TTL of 0 never expires entries;
// a MaxSize of 0 keeps nothing between prunes.
type DedupeCacheOptions struct {
	TTL     time.Duration
	MaxSize int
}

// NewDedupeCache creates a deduplication cache.
func NewDedupeCache(opts DedupeCacheOptions) *DedupeCache {
	ttl := opts.TTL
	if ttl < 0 {
		ttl = 0
	}
	maxSize := opts.MaxSize
	if maxSize < 0 {
		maxSize = 0
	}

	return &DedupeCache{
		seen:    make(map[string]int64),
		ttl:     ttl,
		maxSize: maxSize,
	}
}

// Check reports whether the key was seen within the TTL, and records it
// either way. An empty key is never a duplicate.
func (c *DedupeCache) Check(key string) bool {
	return c.CheckAt(key, time.Now())
}

// CheckAt is Check with an explicit clock, for tests.
func (c *DedupeCache) CheckAt(key string, now time.Time) bool {
	if key == "" {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	nowUnix := now.UnixMilli()

	if existing, ok := c.seen[key]; ok {
		if c.ttl <= 0 || nowUnix-existing < c.ttl.Milliseconds() {
			c.seen[key] = nowUnix
			return true
		}
	}

	c.seen[key] = nowUnix
	c.prune(nowUnix)
	return false
}

// prune removes expired and excess entries. Caller holds mu.
func (c *DedupeCache) prune(nowUnix int64) {
	if c.ttl > 0 {
		cutoff := nowUnix - c.ttl.Milliseconds()
		for key, ts := range c.seen {
			if ts < cutoff {
				delete(c.seen, key)
			}
		}
	}

	if c.maxSize <= 0 {
		c.seen = make(map[string]int64)
		return
	}

	for len(c.seen) > c.maxSize {
		var oldestKey string
		oldestTs := int64(^uint64(0) >> 1)
		for k, ts := range c.seen {
			if ts < oldestTs {
				oldestTs = ts
				oldestKey = k
			}
		}
		if oldestKey == "" {
			break
		}
		delete(c.seen, oldestKey)
	}
}

// Clear removes all entries.
func (c *DedupeCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen = make(map[string]int64)
}

// Size returns the current number of entries.
func (c *DedupeCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

// TaskDedupeKey builds the dedupe key for one task submission. Submissions
// without an idempotency key are never deduplicated.
func TaskDedupeKey(source, idempotencyKey string) string {
	if idempotencyKey == "" {
		return ""
	}
	if source == "" {
		return idempotencyKey
	}
	return source + ":" + idempotencyKey
}
