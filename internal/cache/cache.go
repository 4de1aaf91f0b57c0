// Package cache provides the process-scoped read cache for world-model
// query slices. Entries expire by TTL and are evicted lazily on lookup;
// write paths invalidate by exact key, by query kind within a session, or
// by whole session. The cache carries no cross-process synchronization:
// correctness relies on the single-writer-per-session contract enforced by
// the engine.
package cache

import (
	"sync"
	"time"
)

// Key identifies one cached world-model slice.
type Key struct {
	SessionID string
	Kind      string
	Params    string
}

// Query kinds used by the extraction engine.
const (
	KindStats         = "stats"
	KindSession       = "session"
	KindInventory     = "inventory"
	KindRelations     = "relations"
	KindEntityIndex   = "entity_index"
	KindPlannedEvents = "planned_events"
)

type entry struct {
	value     any
	expiresAt time.Time
}

// Cache maps keys to values with per-entry expiry. Construct with New;
// instances are safe for concurrent use.
type Cache struct {
	mu         sync.RWMutex
	entries    map[Key]entry
	defaultTTL time.Duration
	now        func() time.Time
}

// DefaultTTL is used when New receives a non-positive TTL.
const DefaultTTL = 5 * time.Minute

// New returns an empty cache whose Set entries live for defaultTTL.
func New(defaultTTL time.Duration) *Cache {
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}
	return &Cache{
		entries:    make(map[Key]entry),
		defaultTTL: defaultTTL,
		now:        time.Now,
	}
}

// Get returns the live value for key. Expired entries are evicted on the
// spot and reported as absent.
func (c *Cache) Get(key Key) (any, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if c.now().After(e.expiresAt) {
		c.mu.Lock()
		// Re-check under the write lock: a concurrent Set may have renewed it.
		if cur, still := c.entries[key]; still && c.now().After(cur.expiresAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return nil, false
	}
	return e.value, true
}

// Set stores value under key with the default TTL.
func (c *Cache) Set(key Key, value any) {
	c.SetTTL(key, value, c.defaultTTL)
}

// SetTTL stores value under key with an explicit TTL.
func (c *Cache) SetTTL(key Key, value any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	c.mu.Lock()
	c.entries[key] = entry{value: value, expiresAt: c.now().Add(ttl)}
	c.mu.Unlock()
}

// Invalidate removes the exact key.
func (c *Cache) Invalidate(key Key) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// InvalidateKind removes every entry of one query kind for a session,
// regardless of params.
func (c *Cache) InvalidateKind(sessionID, kind string) {
	c.mu.Lock()
	for k := range c.entries {
		if k.SessionID == sessionID && k.Kind == kind {
			delete(c.entries, k)
		}
	}
	c.mu.Unlock()
}

// InvalidateSession removes every entry for a session. Nuclear option for
// major state changes.
func (c *Cache) InvalidateSession(sessionID string) {
	c.mu.Lock()
	for k := range c.entries {
		if k.SessionID == sessionID {
			delete(c.entries, k)
		}
	}
	c.mu.Unlock()
}

// Len reports the number of stored entries, expired or not. Intended for
// tests and diagnostics.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
