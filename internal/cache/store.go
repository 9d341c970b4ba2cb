package cache

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"bilregistret/internal/records"
)

// Entry is one cached value.
type Entry struct {
	Key            string
	Scope          records.VehicleKey
	Category       Category
	Value          interface{}
	InsertedAt     time.Time
	LastAccessedAt time.Time
}

// Age returns how long ago the entry was inserted.
func (e *Entry) Age(now time.Time) time.Duration {
	return now.Sub(e.InsertedAt)
}

// Store is the raw key/value backend of a Coordinator. Only the Coordinator
// calls it, under its own lock, so implementations need not be safe for
// concurrent use.
type Store interface {
	// Read returns the entry and marks it most recently used
	Read(key string) (*Entry, bool)
	// Peek returns the entry without touching recency
	Peek(key string) (*Entry, bool)
	Write(e *Entry)
	Delete(key string) bool
	// Keys lists keys from least to most recently used
	Keys() []string
	Len() int
	Purge()
}

// MemoryStore is an LRU-bounded in-memory Store.
type MemoryStore struct {
	lru     *simplelru.LRU[string, *Entry]
	evicted int
}

// NewMemoryStore creates a store holding at most capacity entries.
func NewMemoryStore(capacity int) (*MemoryStore, error) {
	lru, err := simplelru.NewLRU[string, *Entry](capacity, nil)
	if err != nil {
		return nil, err
	}
	return &MemoryStore{lru: lru}, nil
}

// Read implements Store
func (s *MemoryStore) Read(key string) (*Entry, bool) {
	return s.lru.Get(key)
}

// Peek implements Store
func (s *MemoryStore) Peek(key string) (*Entry, bool) {
	return s.lru.Peek(key)
}

// Write implements Store
func (s *MemoryStore) Write(e *Entry) {
	if s.lru.Add(e.Key, e) {
		s.evicted++
	}
}

// Delete implements Store
func (s *MemoryStore) Delete(key string) bool {
	return s.lru.Remove(key)
}

// Keys implements Store
func (s *MemoryStore) Keys() []string {
	return s.lru.Keys()
}

// Len implements Store
func (s *MemoryStore) Len() int {
	return s.lru.Len()
}

// Purge implements Store
func (s *MemoryStore) Purge() {
	s.lru.Purge()
}

// Evicted counts entries dropped by the capacity bound.
func (s *MemoryStore) Evicted() int {
	return s.evicted
}
