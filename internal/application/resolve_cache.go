package application

import (
	"sync"
	"time"

	"github.com/example/room-tracker/internal/persistence"
)

// resolveCache keeps recent availability answers for read queries. Entries of
// a room are dropped whenever one of its events changes.
type resolveCache struct {
	mu         sync.RWMutex
	now        func() time.Time
	ttl        time.Duration
	maxEntries int
	entries    map[resolveKey]resolveCacheEntry
}

type resolveKey struct {
	eventRoomID string
	at          int64
}

type resolveCacheEntry struct {
	availability persistence.Availability
	expiresAt    time.Time
}

func newResolveCache(ttl time.Duration, maxEntries int, now func() time.Time) *resolveCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if maxEntries <= 0 {
		maxEntries = 1024
	}
	if now == nil {
		now = time.Now
	}
	return &resolveCache{
		now:        now,
		ttl:        ttl,
		maxEntries: maxEntries,
		entries:    make(map[resolveKey]resolveCacheEntry),
	}
}

func (c *resolveCache) Get(eventRoomID string, at time.Time) (persistence.Availability, bool) {
	if c == nil {
		return "", false
	}
	key := resolveKey{eventRoomID: eventRoomID, at: at.UnixNano()}
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return "", false
	}
	if c.now().After(entry.expiresAt) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return "", false
	}
	return entry.availability, true
}

func (c *resolveCache) Store(eventRoomID string, at time.Time, availability persistence.Availability) {
	if c == nil {
		return
	}
	expiry := c.now().Add(c.ttl)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.cleanupLocked()
	if len(c.entries) >= c.maxEntries {
		c.evictOneLocked()
	}
	c.entries[resolveKey{eventRoomID: eventRoomID, at: at.UnixNano()}] = resolveCacheEntry{availability: availability, expiresAt: expiry}
}

// InvalidateRoom drops every answer cached for the room.
func (c *resolveCache) InvalidateRoom(eventRoomID string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.entries {
		if key.eventRoomID == eventRoomID {
			delete(c.entries, key)
		}
	}
}

func (c *resolveCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *resolveCache) cleanupLocked() {
	now := c.now()
	for key, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, key)
		}
	}
}

func (c *resolveCache) evictOneLocked() {
	for key := range c.entries {
		delete(c.entries, key)
		return
	}
}
