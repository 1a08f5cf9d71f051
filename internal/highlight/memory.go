package highlight

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps highlights for the lifetime of the process. It backs the
// service when no database is available.
type MemoryStore struct {
	mu    sync.RWMutex
	marks map[string]map[string]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{marks: make(map[string]map[string]struct{})}
}

func (m *MemoryStore) MarkedSegments(_ context.Context, videoID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ret := make([]string, 0, len(m.marks[videoID]))
	for id := range m.marks[videoID] {
		ret = append(ret, id)
	}
	sort.Strings(ret)
	return ret, nil
}

func (m *MemoryStore) MarkSegment(_ context.Context, videoID, segmentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.marks[videoID] == nil {
		m.marks[videoID] = make(map[string]struct{})
	}
	m.marks[videoID][segmentID] = struct{}{}
	return nil
}

func (m *MemoryStore) UnmarkSegment(_ context.Context, videoID, segmentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.marks[videoID], segmentID)
	if len(m.marks[videoID]) == 0 {
		delete(m.marks, videoID)
	}
	return nil
}

func (m *MemoryStore) ClearMarks(_ context.Context, videoID string) error {
	m.mu.Lock()
	delete(m.marks, videoID)
	m.mu.Unlock()
	return nil
}
