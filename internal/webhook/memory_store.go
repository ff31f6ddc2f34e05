package webhook

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory webhook store for demo/development.
type MemoryStore struct {
	mu         sync.RWMutex
	webhooks   map[string]*Webhook
	deliveries map[string][]*Delivery // webhookID → attempts, oldest first
}

// NewMemoryStore creates a new in-memory webhook store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		webhooks:   make(map[string]*Webhook),
		deliveries: make(map[string][]*Delivery),
	}
}

func (m *MemoryStore) Create(_ context.Context, w *Webhook) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *w
	m.webhooks[w.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Webhook, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	w, ok := m.webhooks[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *w
	return &cp, nil
}

func (m *MemoryStore) ListByRealm(_ context.Context, realm string) ([]*Webhook, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Webhook
	for _, w := range m.webhooks {
		if w.Realm == realm {
			cp := *w
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemoryStore) CountByRealm(_ context.Context, realm string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, w := range m.webhooks {
		if w.Realm == realm {
			count++
		}
	}
	return count, nil
}

func (m *MemoryStore) Update(_ context.Context, w *Webhook) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.webhooks[w.ID]; !ok {
		return ErrNotFound
	}
	cp := *w
	m.webhooks[w.ID] = &cp
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.webhooks[id]; !ok {
		return ErrNotFound
	}
	delete(m.webhooks, id)
	return nil
}

func (m *MemoryStore) DeleteByRealm(_ context.Context, realm string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, w := range m.webhooks {
		if w.Realm == realm {
			delete(m.webhooks, id)
		}
	}
	return nil
}

func (m *MemoryStore) AppendDelivery(_ context.Context, d *Delivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *d
	m.deliveries[d.WebhookID] = append(m.deliveries[d.WebhookID], &cp)
	return nil
}

func (m *MemoryStore) Deliveries(_ context.Context, webhookID string, limit int) ([]*Delivery, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := m.deliveries[webhookID]
	start := 0
	if limit > 0 && len(all) > limit {
		start = len(all) - limit
	}

	out := make([]*Delivery, 0, len(all)-start)
	for _, d := range all[start:] {
		cp := *d
		out = append(out, &cp)
	}
	return out, nil
}
