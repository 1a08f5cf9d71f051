package cache

import (
	"context"
	"slices"
	"sync"
	"time"
)

// MemoryStore is a process-local Store. It is used when no database is
// configured and as a fresh backend in tests.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry)}
}

func (m *MemoryStore) Ping(_ context.Context) error {
	return nil
}

func (m *MemoryStore) GetEntry(_ context.Context, videoID string) (Entry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.entries[videoID]
	if !ok {
		return Entry{}, false, nil
	}
	return cloneEntry(entry), true, nil
}

func (m *MemoryStore) PutEntry(_ context.Context, entry Entry) error {
	m.mu.Lock()
	m.entries[entry.VideoID] = cloneEntry(entry)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) DeleteEntry(_ context.Context, videoID string) error {
	m.mu.Lock()
	delete(m.entries, videoID)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) DeleteAllEntries(_ context.Context) error {
	m.mu.Lock()
	m.entries = make(map[string]Entry)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) DeleteExpiredEntries(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, entry := range m.entries {
		if !entry.ExpiresAt.After(now) {
			delete(m.entries, id)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) CountEntries(_ context.Context, now time.Time) (int, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	expired := 0
	for _, entry := range m.entries {
		if !entry.ExpiresAt.After(now) {
			expired++
		}
	}
	return len(m.entries), expired, nil
}

func cloneEntry(e Entry) Entry {
	e.Segments = slices.Clone(e.Segments)
	return e
}
