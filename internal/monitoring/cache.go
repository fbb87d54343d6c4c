package monitoring

import (
	"sync"
	"time"
)

// nameCache memoizes process business id to display name lookups. Entries
// expire after a TTL and the cache holds at most cap entries; when full,
// the oldest entry is evicted. Stale-within-TTL names are acceptable for
// monitoring views.
type nameCache struct {
	mu      sync.Mutex
	entries map[string]nameEntry
	cap     int
	ttl     time.Duration
	now     func() time.Time
}

type nameEntry struct {
	name    string
	addedAt time.Time
}

func newNameCache(capacity int, ttl time.Duration) *nameCache {
	return &nameCache{
		entries: make(map[string]nameEntry, capacity),
		cap:     capacity,
		ttl:     ttl,
		now:     time.Now,
	}
}

func (c *nameCache) get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return "", false
	}
	if c.now().Sub(e.addedAt) > c.ttl {
		delete(c.entries, key)
		return "", false
	}
	return e.name, true
}

func (c *nameCache) put(key, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) >= c.cap {
		if _, exists := c.entries[key]; !exists {
			c.evictOldest()
		}
	}
	c.entries[key] = nameEntry{name: name, addedAt: c.now()}
}

// evictOldest removes the entry with the earliest addedAt. Called with
// the mutex held.
func (c *nameCache) evictOldest() {
	var oldestKey string
	var oldestAt time.Time
	for k, e := range c.entries {
		if oldestKey == "" || e.addedAt.Before(oldestAt) {
			oldestKey = k
			oldestAt = e.addedAt
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}
