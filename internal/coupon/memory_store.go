package coupon

import (
	"context"
	"sync"
	"time"

	"github.com/authplane/authplane/internal/idgen"
)

// MemoryStore is an in-memory coupon store for demo/development.
// A single mutex guards the check-increment-record sequence in Reserve,
// which makes it atomic by construction.
type MemoryStore struct {
	mu          sync.Mutex
	coupons     map[string]*Coupon
	redemptions map[string][]*Redemption          // code → redemptions
	byRealm     map[string]map[string]*Redemption // code → realm → redemption
}

// NewMemoryStore creates a new in-memory coupon store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		coupons:     make(map[string]*Coupon),
		redemptions: make(map[string][]*Redemption),
		byRealm:     make(map[string]map[string]*Redemption),
	}
}

func (m *MemoryStore) Create(_ context.Context, c *Coupon) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.coupons[c.Code]; exists {
		return ErrCodeTaken
	}
	cp := *c
	m.coupons[c.Code] = &cp
	return nil
}

func (m *MemoryStore) Get(_ context.Context, code string) (*Coupon, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.coupons[code]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *MemoryStore) List(_ context.Context) ([]*Coupon, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*Coupon, 0, len(m.coupons))
	for _, c := range m.coupons {
		cp := *c
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MemoryStore) SetEnabled(_ context.Context, code string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.coupons[code]
	if !ok {
		return ErrNotFound
	}
	c.Enabled = enabled
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.coupons[code]; !ok {
		return ErrNotFound
	}
	delete(m.coupons, code)
	delete(m.redemptions, code)
	delete(m.byRealm, code)
	return nil
}

func (m *MemoryStore) Reserve(_ context.Context, code, realm, tier, redeemedBy string) (*Redemption, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.coupons[code]
	if !ok {
		return nil, ErrNotFound
	}
	if _, dup := m.byRealm[code][realm]; dup {
		return nil, ErrAlreadyRedeemed
	}
	if err := c.Check(tier, time.Now()); err != nil {
		return nil, err
	}

	r := &Redemption{
		ID:          idgen.WithPrefix("red_"),
		Code:        code,
		Realm:       realm,
		Tier:        tier,
		RedeemedBy:  redeemedBy,
		DiscountPct: c.DiscountPct,
		CreatedAt:   time.Now().UTC(),
	}
	c.TimesRedeemed++
	m.redemptions[code] = append(m.redemptions[code], r)
	if m.byRealm[code] == nil {
		m.byRealm[code] = make(map[string]*Redemption)
	}
	m.byRealm[code][realm] = r

	cp := *r
	return &cp, nil
}

func (m *MemoryStore) Release(_ context.Context, code, realm string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.byRealm[code][realm]
	if !ok {
		return ErrNotFound
	}
	delete(m.byRealm[code], realm)

	list := m.redemptions[code]
	for i, cand := range list {
		if cand.ID == r.ID {
			m.redemptions[code] = append(list[:i], list[i+1:]...)
			break
		}
	}

	if c, exists := m.coupons[code]; exists && c.TimesRedeemed > 0 {
		c.TimesRedeemed--
	}
	return nil
}

func (m *MemoryStore) Redemptions(_ context.Context, code string) ([]*Redemption, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.coupons[code]; !ok {
		return nil, ErrNotFound
	}
	out := make([]*Redemption, 0, len(m.redemptions[code]))
	for _, r := range m.redemptions[code] {
		cp := *r
		out = append(out, &cp)
	}
	return out, nil
}
