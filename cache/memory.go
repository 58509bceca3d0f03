package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a process-local Store backed by a map. Suitable for tests
// and single-shot CLI runs where persistence across processes is not needed.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]memoryRecord
}

type memoryRecord struct {
	val       []byte
	expiresAt time.Time // zero = no expiry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]memoryRecord)}
}

// Get returns the live record at key.
func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[key]
	if !ok {
		return nil, ErrNotFound
	}
	if !rec.expiresAt.IsZero() && !rec.expiresAt.After(time.Now()) {
		return nil, ErrNotFound
	}
	out := make([]byte, len(rec.val))
	copy(out, rec.val)
	return out, nil
}

// Put stores val at key.
func (m *MemoryStore) Put(_ context.Context, key string, val []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec := memoryRecord{val: make([]byte, len(val))}
	copy(rec.val, val)
	if ttl > 0 {
		rec.expiresAt = time.Now().Add(ttl)
	}
	m.records[key] = rec
	return nil
}

// Delete removes the record at key.
func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, key)
	return nil
}

// Sweep removes expired records.
func (m *MemoryStore) Sweep(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for key, rec := range m.records {
		if !rec.expiresAt.IsZero() && !rec.expiresAt.After(now) {
			delete(m.records, key)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of live records.
func (m *MemoryStore) Len(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	now := time.Now()
	for _, rec := range m.records {
		if rec.expiresAt.IsZero() || rec.expiresAt.After(now) {
			n++
		}
	}
	return n, nil
}

// Close is a no-op for the in-memory store.
func (m *MemoryStore) Close() error {
	return nil
}
