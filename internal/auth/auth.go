// Package auth provides operator authentication for the control plane.
//
// Operators (the humans running tenants) sign in with email/password and
// receive a short-lived JWT. Tenant end-users never authenticate here;
// they belong to the identity server realms.
package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/authplane/authplane/internal/idgen"
)

var (
	ErrInvalidCredentials = errors.New("auth: invalid email or password")
	ErrEmailTaken         = errors.New("auth: email already registered")
	ErrOperatorNotFound   = errors.New("auth: operator not found")
	ErrInvalidToken       = errors.New("auth: invalid or expired token")
)

// TokenTTL is how long issued tokens stay valid.
const TokenTTL = 24 * time.Hour

// Operator is a control-plane account.
type Operator struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Realm        string    `json:"realm,omitempty"` // the tenant this operator owns, empty for platform admins
	Admin        bool      `json:"admin"`
	CreatedAt    time.Time `json:"created_at"`
}

// Store persists operator accounts.
type Store interface {
	Create(ctx context.Context, op *Operator) error
	GetByEmail(ctx context.Context, email string) (*Operator, error)
	Get(ctx context.Context, id string) (*Operator, error)
}

// Manager issues and verifies operator tokens.
type Manager struct {
	store  Store
	secret []byte
}

// NewManager creates an auth manager with the JWT signing secret.
func NewManager(store Store, secret string) *Manager {
	return &Manager{store: store, secret: []byte(secret)}
}

type claims struct {
	Realm string `json:"realm,omitempty"`
	Admin bool   `json:"admin"`
	jwt.RegisteredClaims
}

// Register creates an operator account with a bcrypt-hashed password.
func (m *Manager) Register(ctx context.Context, email, password, realm string, admin bool) (*Operator, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if len(password) < 8 {
		return nil, errors.New("auth: password must be at least 8 characters")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	op := &Operator{
		ID:           idgen.WithPrefix("op_"),
		Email:        email,
		PasswordHash: string(hash),
		Realm:        realm,
		Admin:        admin,
		CreatedAt:    time.Now().UTC(),
	}
	if err := m.store.Create(ctx, op); err != nil {
		return nil, err
	}
	return op, nil
}

// Login verifies credentials and returns a signed token.
func (m *Manager) Login(ctx context.Context, email, password string) (string, *Operator, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	op, err := m.store.GetByEmail(ctx, email)
	if err != nil {
		// Burn a hash comparison anyway so missing and wrong-password
		// responses take comparable time.
		_ = bcrypt.CompareHashAndPassword(
			[]byte("$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"), []byte(password))
		return "", nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(op.PasswordHash), []byte(password)); err != nil {
		return "", nil, ErrInvalidCredentials
	}

	token, err := m.issue(op)
	if err != nil {
		return "", nil, err
	}
	return token, op, nil
}

func (m *Manager) issue(op *Operator) (string, error) {
	now := time.Now()
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Realm: op.Realm,
		Admin: op.Admin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   op.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(TokenTTL)),
			Issuer:    "authplane",
		},
	})
	return t.SignedString(m.secret)
}

// Verify parses a token and returns the operator it identifies.
func (m *Manager) Verify(ctx context.Context, tokenString string) (*Operator, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return m.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	c, ok := parsed.Claims.(*claims)
	if !ok {
		return nil, ErrInvalidToken
	}

	op, err := m.store.Get(ctx, c.Subject)
	if err != nil {
		return nil, ErrInvalidToken
	}
	return op, nil
}
