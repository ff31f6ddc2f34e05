package activity

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory audit store for demo/development.
type MemoryStore struct {
	mu      sync.RWMutex
	byRealm map[string][]*Entry
}

// NewMemoryStore creates a new in-memory audit store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byRealm: make(map[string][]*Entry)}
}

func (m *MemoryStore) Append(_ context.Context, e *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *e
	m.byRealm[e.Realm] = append(m.byRealm[e.Realm], &cp)
	return nil
}

// ListByRealm returns entries newest first.
func (m *MemoryStore) ListByRealm(_ context.Context, realm string, limit int) ([]*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := m.byRealm[realm]
	out := make([]*Entry, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		cp := *entries[i]
		out = append(out, &cp)
	}
	return out, nil
}
