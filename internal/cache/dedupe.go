// Package cache provides time-limited deduplication for pushed events.
// A message may reach the engine twice for the same id (peer echo plus
// server push, or redelivery across a reconnect); consumers use this
// cache to stay idempotent against duplicates.
package cache

import (
	"sync"
	"time"
)

// DedupeCache remembers keys for a TTL, bounded in size.
type DedupeCache struct {
	mu      sync.Mutex
	seen    map[string]int64 // key -> unix millis
	ttl     time.Duration
	maxSize int
}

// NewDedupeCache creates a cache. ttl <= 0 means entries never expire;
// maxSize <= 0 falls back to 1024.
func NewDedupeCache(ttl time.Duration, maxSize int) *DedupeCache {
	if maxSize <= 0 {
		maxSize = 1024
	}
	return &DedupeCache{
		seen:    make(map[string]int64),
		ttl:     ttl,
		maxSize: maxSize,
	}
}

// Check records the key and reports whether it was already seen within
// the TTL.
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

	nowMillis := now.UnixMilli()
	if ts, ok := c.seen[key]; ok {
		if c.ttl <= 0 || nowMillis-ts < c.ttl.Milliseconds() {
			c.seen[key] = nowMillis
			return true
		}
	}

	c.seen[key] = nowMillis
	c.prune(nowMillis)
	return false
}

func (c *DedupeCache) prune(nowMillis int64) {
	if c.ttl > 0 {
		cutoff := nowMillis - c.ttl.Milliseconds()
		for key, ts := range c.seen {
			if ts < cutoff {
				delete(c.seen, key)
			}
		}
	}

	for len(c.seen) > c.maxSize {
		var oldestKey string
		oldestTs := int64(1<<63 - 1)
		for k, ts := range c.seen {
			if ts < oldestTs {
				oldestTs = ts
				oldestKey = k
			}
		}
		if oldestKey == "" {
			return
		}
		delete(c.seen, oldestKey)
	}
}

// Size returns the number of remembered keys.
func (c *DedupeCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

// MessageKey builds the dedupe key for a message event.
func MessageKey(conversationID, messageID string) string {
	if messageID == "" {
		return ""
	}
	if conversationID == "" {
		return messageID
	}
	return conversationID + ":" + messageID
}
