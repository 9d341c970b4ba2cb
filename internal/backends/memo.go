package backends

import (
	"sync"
	"time"

	"bilregistret/internal/errors"
	"bilregistret/internal/records"
)

// MemoEntry is a remembered failure
type MemoEntry struct {
	Source    SourceID
	Key       records.VehicleKey
	Err       error
	Code      errors.ErrorCode
	ExpiresAt time.Time
}

// NegativeMemo remembers per-source failures for a plate so a source that
// already said "not found" is not asked again until the entry expires.
type NegativeMemo struct {
	policy *QueryPolicy
	now    func() time.Time

	mu      sync.Mutex
	entries map[memoKey]MemoEntry
}

type memoKey struct {
	source SourceID
	key    records.VehicleKey
}

// NewNegativeMemo creates an empty memo
func NewNegativeMemo(policy *QueryPolicy) *NegativeMemo {
	return &NegativeMemo{
		policy:  policy,
		now:     time.Now,
		entries: make(map[memoKey]MemoEntry),
	}
}

// Remember records err for source and key when its code has a negative TTL.
// It reports whether anything was stored.
func (m *NegativeMemo) Remember(source SourceID, key records.VehicleKey, err error) bool {
	code := errors.CodeOf(err)
	ttl, ok := m.policy.NegativeTTLFor(code)
	if !ok {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[memoKey{source, key}] = MemoEntry{
		Source:    source,
		Key:       key,
		Err:       err,
		Code:      code,
		ExpiresAt: m.now().Add(ttl),
	}
	return true
}

// Check returns the remembered failure for source and key, if still live.
func (m *NegativeMemo) Check(source SourceID, key records.VehicleKey) (MemoEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := memoKey{source, key}
	entry, ok := m.entries[k]
	if !ok {
		return MemoEntry{}, false
	}
	if m.now().After(entry.ExpiresAt) {
		delete(m.entries, k)
		return MemoEntry{}, false
	}
	return entry, true
}

// Forget drops every remembered failure for key.
func (m *NegativeMemo) Forget(key records.VehicleKey) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for k := range m.entries {
		if k.key == key {
			delete(m.entries, k)
			n++
		}
	}
	return n
}

// ForgetCode drops every remembered failure with code, e.g. all
// Unauthorized entries after a fresh login.
func (m *NegativeMemo) ForgetCode(code errors.ErrorCode) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for k, e := range m.entries {
		if e.Code == code {
			delete(m.entries, k)
			n++
		}
	}
	return n
}

// Len returns the number of stored entries, expired or not
func (m *NegativeMemo) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
