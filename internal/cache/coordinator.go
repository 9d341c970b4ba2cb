// Package cache is the shared TTL/LRU result cache. Every read, write,
// invalidation and reclaim goes through a Coordinator; nothing touches a
// Store directly.
package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	"bilregistret/internal/logging"
	"bilregistret/internal/records"
)

// VehicleDataKey builds the source-qualified key for one source's lookup of
// a plate, e.g. "vehicle-data:ABC123:cl".
func VehicleDataKey(plate records.VehicleKey, source string) string {
	return Key(CategoryVehicleData, plate.String(), source)
}

// Key joins a category and key parts with ':'.
func Key(category Category, parts ...string) string {
	return string(category) + ":" + strings.Join(parts, ":")
}

// Persister is an optional warm tier behind the in-memory store. Entries
// written to it survive restarts; misses in memory are hydrated from it.
type Persister interface {
	Load(key string) (*Entry, error)
	Save(e *Entry, expiresAt time.Time) error
	Delete(key string) error
	DeleteCategory(category Category) error
	Purge() error
}

// expirer is implemented by persisters that can drop expired rows in bulk
type expirer interface {
	DeleteExpired(now time.Time) (int, error)
}

// Stats is a point-in-time view of the cache
type Stats struct {
	Entries       int              `json:"entries"`
	ByCategory    map[Category]int `json:"byCategory"`
	Hits          int64            `json:"hits"`
	Misses        int64            `json:"misses"`
	WarmHits      int64            `json:"warmHits"`
	Writes        int64            `json:"writes"`
	Invalidations int64            `json:"invalidations"`
	Reclaimed     int64            `json:"reclaimed"`
	Evicted       int              `json:"evicted"`
	Focus         string           `json:"focus,omitempty"`
}

// Coordinator owns the cache. It is safe for concurrent use.
type Coordinator struct {
	mu      sync.Mutex
	store   Store
	policy  Policy
	persist Persister
	focus   records.VehicleKey
	now     func() time.Time
	logger  *logging.Logger

	hits, misses, warmHits, writes, invalidations, reclaimed int64
}

// NewCoordinator creates a coordinator over store.
func NewCoordinator(store Store, policy Policy, logger *logging.Logger) *Coordinator {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Coordinator{
		store:  store,
		policy: policy,
		now:    time.Now,
		logger: logger,
	}
}

// New creates a coordinator over a MemoryStore sized from policy.
func New(policy Policy, logger *logging.Logger) (*Coordinator, error) {
	store, err := NewMemoryStore(policy.Capacity)
	if err != nil {
		return nil, err
	}
	return NewCoordinator(store, policy, logger), nil
}

// SetPersister attaches a warm tier. Pass nil to detach.
func (c *Coordinator) SetPersister(p Persister) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.persist = p
}

// Policy returns the active policy.
func (c *Coordinator) Policy() Policy {
	return c.policy
}

// Get returns a fresh value for key. Entries past their fresh time are
// misses; entries past GC time are dropped on sight.
func (c *Coordinator) Get(key string, category Category) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	ttl := c.policy.TTLFor(category)

	if e, ok := c.store.Read(key); ok {
		age := e.Age(now)
		if age > ttl.GC {
			c.store.Delete(key)
		} else if age <= ttl.Fresh {
			e.LastAccessedAt = now
			c.hits++
			return e.Value, true
		}
		c.misses++
		return nil, false
	}

	if c.persist != nil && c.policy.persists(category) {
		e, err := c.persist.Load(key)
		if err != nil {
			c.logger.Warn("Warm cache load failed", map[string]interface{}{
				"key":   key,
				"error": err.Error(),
			})
		} else if e != nil && e.Age(now) <= ttl.Fresh {
			e.LastAccessedAt = now
			c.store.Write(e)
			c.warmHits++
			return e.Value, true
		}
	}

	c.misses++
	return nil, false
}

// Set stores value under key. scope ties the entry to a plate for
// high-pressure reclaim; pass "" for entries that belong to no plate.
func (c *Coordinator) Set(key string, scope records.VehicleKey, category Category, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	e := &Entry{
		Key:            key,
		Scope:          scope,
		Category:       category,
		Value:          value,
		InsertedAt:     now,
		LastAccessedAt: now,
	}
	c.store.Write(e)
	c.writes++

	if c.persist != nil && c.policy.persists(category) {
		expiresAt := now.Add(c.policy.TTLFor(category).GC)
		if err := c.persist.Save(e, expiresAt); err != nil {
			c.logger.Warn("Warm cache write failed", map[string]interface{}{
				"key":   key,
				"error": err.Error(),
			})
		}
	}
}

// InvalidateKey drops one exact key.
func (c *Coordinator) InvalidateKey(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := c.store.Delete(key)
	if c.persist != nil {
		if err := c.persist.Delete(key); err != nil {
			c.logger.Warn("Warm cache delete failed", map[string]interface{}{
				"key":   key,
				"error": err.Error(),
			})
		}
	}
	if removed {
		c.invalidations++
	}
	return removed
}

// Invalidate drops every entry of the given categories and returns how many
// in-memory entries went.
func (c *Coordinator) Invalidate(categories ...Category) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	drop := make(map[Category]bool, len(categories))
	for _, cat := range categories {
		drop[cat] = true
	}

	n := c.removeWhere(func(e *Entry) bool { return drop[e.Category] })
	c.invalidations += int64(n)

	if c.persist != nil {
		for _, cat := range categories {
			if err := c.persist.DeleteCategory(cat); err != nil {
				c.logger.Warn("Warm cache invalidate failed", map[string]interface{}{
					"category": cat,
					"error":    err.Error(),
				})
			}
		}
	}

	c.logger.Debug("Cache invalidated", map[string]interface{}{
		"categories": categories,
		"dropped":    n,
	})
	return n
}

// InvalidateUserScoped drops everything that depends on the signed-in user.
func (c *Coordinator) InvalidateUserScoped() int {
	return c.Invalidate(UserScoped...)
}

// InvalidateScope drops every entry tied to plate.
func (c *Coordinator) InvalidateScope(plate records.VehicleKey) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	var keys []string
	for _, key := range c.store.Keys() {
		if e, ok := c.store.Peek(key); ok && e.Scope == plate {
			keys = append(keys, key)
		}
	}
	for _, key := range keys {
		c.store.Delete(key)
		if c.persist != nil {
			if err := c.persist.Delete(key); err != nil {
				c.logger.Warn("Warm cache delete failed", map[string]interface{}{
					"key":   key,
					"scope": plate.String(),
					"error": err.Error(),
				})
			}
		}
	}
	c.invalidations += int64(len(keys))
	return len(keys)
}

// Focus marks plate as the one currently on screen. High pressure reclaim
// keeps only its entries. An empty plate clears the focus.
func (c *Coordinator) Focus(plate records.VehicleKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.focus = plate
}

// Focused returns the focused plate.
func (c *Coordinator) Focused() records.VehicleKey {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.focus
}

// Reclaim frees in-memory entries according to pressure and returns how many
// were dropped. The warm tier is left alone.
func (c *Coordinator) Reclaim(level Pressure) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	var n int
	switch level {
	case PressureLow:
		now := c.now()
		n = c.removeWhere(func(e *Entry) bool {
			return e.Age(now) > c.policy.TTLFor(e.Category).Fresh
		})
	case PressureMedium:
		n = c.keepRecentPerCategory(c.policy.MediumKeep)
	case PressureHigh:
		focus := c.focus
		n = c.removeWhere(func(e *Entry) bool {
			return focus == "" || e.Scope != focus
		})
	}
	c.reclaimed += int64(n)

	c.logger.Info("Cache reclaimed", map[string]interface{}{
		"pressure":  level,
		"dropped":   n,
		"remaining": c.store.Len(),
	})
	return n
}

// Sweep drops entries past their GC time, in memory and in the warm tier.
func (c *Coordinator) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	n := c.removeWhere(func(e *Entry) bool {
		return e.Age(now) > c.policy.TTLFor(e.Category).GC
	})
	if x, ok := c.persist.(expirer); ok {
		if _, err := x.DeleteExpired(now); err != nil {
			c.logger.Warn("Warm cache sweep failed", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}
	return n
}

// StartSweeper runs Sweep every interval until ctx is done.
func (c *Coordinator) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := c.Sweep(); n > 0 {
					c.logger.Debug("Cache sweep", map[string]interface{}{"dropped": n})
				}
			}
		}
	}()
}

// Purge empties memory and the warm tier.
func (c *Coordinator) Purge() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.store.Purge()
	if c.persist != nil {
		return c.persist.Purge()
	}
	return nil
}

// Stats returns counters and per-category sizes.
func (c *Coordinator) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	byCategory := make(map[Category]int, len(Categories))
	for _, key := range c.store.Keys() {
		if e, ok := c.store.Peek(key); ok {
			byCategory[e.Category]++
		}
	}

	stats := Stats{
		Entries:       c.store.Len(),
		ByCategory:    byCategory,
		Hits:          c.hits,
		Misses:        c.misses,
		WarmHits:      c.warmHits,
		Writes:        c.writes,
		Invalidations: c.invalidations,
		Reclaimed:     c.reclaimed,
		Focus:         c.focus.String(),
	}
	if m, ok := c.store.(*MemoryStore); ok {
		stats.Evicted = m.Evicted()
	}
	return stats
}

// removeWhere deletes matching entries; callers hold mu
func (c *Coordinator) removeWhere(match func(*Entry) bool) int {
	var keys []string
	for _, key := range c.store.Keys() {
		if e, ok := c.store.Peek(key); ok && match(e) {
			keys = append(keys, key)
		}
	}
	for _, key := range keys {
		c.store.Delete(key)
	}
	return len(keys)
}

// keepRecentPerCategory keeps the keep most recently used entries of each
// category; callers hold mu
func (c *Coordinator) keepRecentPerCategory(keep int) int {
	keys := c.store.Keys()
	seen := make(map[Category]int, len(Categories))
	var drop []string
	for i := len(keys) - 1; i >= 0; i-- {
		e, ok := c.store.Peek(keys[i])
		if !ok {
			continue
		}
		seen[e.Category]++
		if seen[e.Category] > keep {
			drop = append(drop, keys[i])
		}
	}
	for _, key := range drop {
		c.store.Delete(key)
	}
	return len(drop)
}
