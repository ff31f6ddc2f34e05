package tenant

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory tenant store for demo/development.
type MemoryStore struct {
	mu      sync.RWMutex
	tenants map[string]*Tenant // by realm
}

// NewMemoryStore creates a new in-memory tenant store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tenants: make(map[string]*Tenant)}
}

func (m *MemoryStore) Create(_ context.Context, t *Tenant) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.tenants[t.Realm]; exists {
		return ErrRealmTaken
	}
	cp := *t
	m.tenants[t.Realm] = &cp
	return nil
}

func (m *MemoryStore) Get(_ context.Context, realm string) (*Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tenants[realm]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *MemoryStore) List(_ context.Context) ([]*Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Tenant, 0, len(m.tenants))
	for _, t := range m.tenants {
		cp := *t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Realm < out[j].Realm })
	return out, nil
}

func (m *MemoryStore) ListByState(_ context.Context, state State) ([]*Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Tenant
	for _, t := range m.tenants {
		if t.State == state {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Realm < out[j].Realm })
	return out, nil
}

func (m *MemoryStore) CountByEmail(_ context.Context, email string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, t := range m.tenants {
		if t.Email == email {
			count++
		}
	}
	return count, nil
}

func (m *MemoryStore) Update(_ context.Context, t *Tenant) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tenants[t.Realm]; !ok {
		return ErrNotFound
	}
	cp := *t
	m.tenants[t.Realm] = &cp
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, realm string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tenants[realm]; !ok {
		return ErrNotFound
	}
	delete(m.tenants, realm)
	return nil
}
