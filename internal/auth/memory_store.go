package auth

import (
	"context"
	"strings"
	"sync"
)

// MemoryStore is an in-memory operator store for demo/development.
type MemoryStore struct {
	mu      sync.RWMutex
	byID    map[string]*Operator
	byEmail map[string]string
}

// NewMemoryStore creates a new in-memory operator store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:    make(map[string]*Operator),
		byEmail: make(map[string]string),
	}
}

func (m *MemoryStore) Create(_ context.Context, op *Operator) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	email := strings.ToLower(op.Email)
	if _, exists := m.byEmail[email]; exists {
		return ErrEmailTaken
	}
	cp := *op
	m.byID[op.ID] = &cp
	m.byEmail[email] = op.ID
	return nil
}

func (m *MemoryStore) GetByEmail(_ context.Context, email string) (*Operator, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, ErrOperatorNotFound
	}
	cp := *m.byID[id]
	return &cp, nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Operator, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	op, ok := m.byID[id]
	if !ok {
		return nil, ErrOperatorNotFound
	}
	cp := *op
	return &cp, nil
}
