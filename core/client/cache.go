package client

import (
	"encoding/json"
	"sync"
	"time"
)

type cacheEntry struct {
	body      json.RawMessage
	fetchedAt time.Time
}

// responseCache holds the most recent successful GET bodies per endpoint.
// Capacity-bounded; the oldest entry is evicted first. Entries past the TTL
// are not served by get but remain available to getAny for the offline
// fallback.
type responseCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	cap     int
	entries map[string]cacheEntry
}

func newResponseCache(ttl time.Duration, capacity int) *responseCache {
	return &responseCache{ttl: ttl, cap: capacity, entries: make(map[string]cacheEntry)}
}

// get returns the entry for key if it is within the TTL.
func (c *responseCache) get(key string, now time.Time) (json.RawMessage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || now.Sub(e.fetchedAt) >= c.ttl {
		return nil, false
	}
	return e.body, true
}

// getAny returns the entry for key regardless of staleness.
func (c *responseCache) getAny(key string) (json.RawMessage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	return e.body, true
}

// set stores the body for key, evicting the oldest entry when full.
func (c *responseCache) set(key string, body json.RawMessage, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; !ok && len(c.entries) >= c.cap {
		var oldest string
		var oldestAt time.Time
		for k, e := range c.entries {
			if oldest == "" || e.fetchedAt.Before(oldestAt) {
				oldest = k
				oldestAt = e.fetchedAt
			}
		}
		delete(c.entries, oldest)
	}
	c.entries[key] = cacheEntry{body: body, fetchedAt: now}
}

// len reports the number of cached entries.
func (c *responseCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
