package iam

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Fake is an in-memory Client for development and tests. Error fields
// inject failures into specific operations so callers can exercise
// rollback and orphan paths.
type Fake struct {
	mu     sync.Mutex
	realms map[string]*fakeRealm

	FailCreateRealm error
	FailDeleteRealm error
	FailCreateUser  error
	FailPing        error

	// Calls records operation names in order, for asserting saga steps.
	Calls []string
}

type fakeRealm struct {
	cfg      RealmConfig
	users    map[string]User
	idps     map[string]IdentityProvider
	roles    map[string]Role
	sessions map[string]Session
	seq      int
}

// NewFake creates an empty fake identity server.
func NewFake() *Fake {
	return &Fake{realms: make(map[string]*fakeRealm)}
}

// Realms returns the names of realms currently provisioned.
func (f *Fake) Realms() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.realms))
	for name := range f.realms {
		out = append(out, name)
	}
	return out
}

// HasRealm reports whether a realm exists.
func (f *Fake) HasRealm(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.realms[name]
	return ok
}

func (f *Fake) record(op string) {
	f.Calls = append(f.Calls, op)
}

func (f *Fake) Ping(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("ping")
	return f.FailPing
}

func (f *Fake) CreateRealm(_ context.Context, cfg RealmConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("create_realm")

	if f.FailCreateRealm != nil {
		return f.FailCreateRealm
	}
	if _, exists := f.realms[cfg.Name]; exists {
		return ErrConflict
	}
	f.realms[cfg.Name] = &fakeRealm{
		cfg:      cfg,
		users:    make(map[string]User),
		idps:     make(map[string]IdentityProvider),
		roles:    make(map[string]Role),
		sessions: make(map[string]Session),
	}
	return nil
}

// AddSession seeds an active session, for tests that exercise session
// listing and revocation.
func (f *Fake) AddSession(realm string, s Session) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, exists := f.realms[realm]; exists {
		r.sessions[s.ID] = s
	}
}

// SeedUsers bulk-inserts n users, skipping the per-user duplicate scan,
// for tests that exercise plan ceilings.
func (f *Fake) SeedUsers(realm string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, exists := f.realms[realm]
	if !exists {
		return
	}
	for i := 0; i < n; i++ {
		r.seq++
		id := fmt.Sprintf("usr_%s_%d", realm, r.seq)
		r.users[id] = User{ID: id, Username: fmt.Sprintf("user%d", r.seq), Enabled: true}
	}
}

func (f *Fake) DeleteRealm(_ context.Context, realm string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("delete_realm")

	if f.FailDeleteRealm != nil {
		return f.FailDeleteRealm
	}
	if _, exists := f.realms[realm]; !exists {
		return ErrNotFound
	}
	delete(f.realms, realm)
	return nil
}

func (f *Fake) UpdateRealmTier(_ context.Context, realm, tier string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("update_realm")

	r, exists := f.realms[realm]
	if !exists {
		return ErrNotFound
	}
	r.cfg.Tier = tier
	return nil
}

func (f *Fake) CreateUser(_ context.Context, realm string, u User) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("create_user")

	if f.FailCreateUser != nil {
		return "", f.FailCreateUser
	}
	r, exists := f.realms[realm]
	if !exists {
		return "", ErrNotFound
	}
	for _, existing := range r.users {
		if existing.Username == u.Username {
			return "", ErrConflict
		}
	}
	r.seq++
	u.ID = fmt.Sprintf("usr_%s_%d", realm, r.seq)
	u.CreatedAt = time.Now().UTC()
	r.users[u.ID] = u
	return u.ID, nil
}

func (f *Fake) ListUsers(_ context.Context, realm string, max int) ([]User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	r, exists := f.realms[realm]
	if !exists {
		return nil, ErrNotFound
	}
	out := make([]User, 0, len(r.users))
	for _, u := range r.users {
		out = append(out, u)
		if max > 0 && len(out) >= max {
			break
		}
	}
	return out, nil
}

func (f *Fake) CountUsers(_ context.Context, realm string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	r, exists := f.realms[realm]
	if !exists {
		return 0, ErrNotFound
	}
	return len(r.users), nil
}

func (f *Fake) DeleteUser(_ context.Context, realm, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	r, exists := f.realms[realm]
	if !exists {
		return ErrNotFound
	}
	if _, ok := r.users[userID]; !ok {
		return ErrNotFound
	}
	delete(r.users, userID)
	return nil
}

func (f *Fake) CreateIdentityProvider(_ context.Context, realm string, idp IdentityProvider) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	r, exists := f.realms[realm]
	if !exists {
		return ErrNotFound
	}
	if _, ok := r.idps[idp.Alias]; ok {
		return ErrConflict
	}
	r.idps[idp.Alias] = idp
	return nil
}

func (f *Fake) ListIdentityProviders(_ context.Context, realm string) ([]IdentityProvider, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	r, exists := f.realms[realm]
	if !exists {
		return nil, ErrNotFound
	}
	out := make([]IdentityProvider, 0, len(r.idps))
	for _, idp := range r.idps {
		out = append(out, idp)
	}
	return out, nil
}

func (f *Fake) DeleteIdentityProvider(_ context.Context, realm, alias string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	r, exists := f.realms[realm]
	if !exists {
		return ErrNotFound
	}
	if _, ok := r.idps[alias]; !ok {
		return ErrNotFound
	}
	delete(r.idps, alias)
	return nil
}

func (f *Fake) ListUserSessions(_ context.Context, realm, userID string) ([]Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	r, exists := f.realms[realm]
	if !exists {
		return nil, ErrNotFound
	}
	if _, ok := r.users[userID]; !ok {
		return nil, ErrNotFound
	}
	var out []Session
	for _, s := range r.sessions {
		if s.UserID == userID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *Fake) LogoutUser(_ context.Context, realm, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("logout_user")

	r, exists := f.realms[realm]
	if !exists {
		return ErrNotFound
	}
	if _, ok := r.users[userID]; !ok {
		return ErrNotFound
	}
	for id, s := range r.sessions {
		if s.UserID == userID {
			delete(r.sessions, id)
		}
	}
	return nil
}

func (f *Fake) RevokeSession(_ context.Context, realm, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("revoke_session")

	r, exists := f.realms[realm]
	if !exists {
		return ErrNotFound
	}
	if _, ok := r.sessions[sessionID]; !ok {
		return ErrNotFound
	}
	delete(r.sessions, sessionID)
	return nil
}

func (f *Fake) ImpersonateUser(_ context.Context, realm, userID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("impersonate")

	r, exists := f.realms[realm]
	if !exists {
		return "", ErrNotFound
	}
	if _, ok := r.users[userID]; !ok {
		return "", ErrNotFound
	}
	return "https://iam.local/realms/" + realm + "/impersonate/" + userID, nil
}

func (f *Fake) CreateRole(_ context.Context, realm string, role Role) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	r, exists := f.realms[realm]
	if !exists {
		return ErrNotFound
	}
	if _, ok := r.roles[role.Name]; ok {
		return ErrConflict
	}
	r.seq++
	role.ID = fmt.Sprintf("role_%s_%d", realm, r.seq)
	r.roles[role.Name] = role
	return nil
}

func (f *Fake) ListRoles(_ context.Context, realm string) ([]Role, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	r, exists := f.realms[realm]
	if !exists {
		return nil, ErrNotFound
	}
	out := make([]Role, 0, len(r.roles))
	for _, role := range r.roles {
		out = append(out, role)
	}
	return out, nil
}
