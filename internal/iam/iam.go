// Package iam wraps the upstream identity server's admin API.
//
// The control plane provisions one identity realm per tenant. All
// upstream access goes through the Client interface so the rest of the
// system never sees HTTP details, and tests can substitute a Fake.
package iam

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrUnreachable means the identity server could not be contacted.
	ErrUnreachable = errors.New("iam: identity server unreachable")
	// ErrUnauthorized means admin credentials were rejected.
	ErrUnauthorized = errors.New("iam: admin credentials rejected")
	// ErrConflict means the resource already exists upstream.
	ErrConflict = errors.New("iam: resource already exists")
	// ErrNotFound means the resource does not exist upstream.
	ErrNotFound = errors.New("iam: resource not found")
)

// RealmConfig carries everything needed to provision a tenant realm.
type RealmConfig struct {
	Name        string
	DisplayName string
	Tier        string

	BruteForceProtected bool
	EventsEnabled       bool
	RegistrationAllowed bool
}

// User is the subset of upstream user data the control plane exposes.
type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
}

// IdentityProvider describes a federated login connection in a realm.
type IdentityProvider struct {
	Alias       string `json:"alias"`
	DisplayName string `json:"display_name"`
	ProviderID  string `json:"provider_id"` // "saml", "oidc", "google", ...
	Enabled     bool   `json:"enabled"`
}

// Session is an active upstream user session.
type Session struct {
	ID       string    `json:"id"`
	UserID   string    `json:"user_id"`
	Username string    `json:"username"`
	IP       string    `json:"ip"`
	Started  time.Time `json:"started"`
}

// Role is a realm-level role.
type Role struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Client is the upstream identity server admin API.
type Client interface {
	// Ping verifies the server is reachable and credentials work.
	Ping(ctx context.Context) error

	CreateRealm(ctx context.Context, cfg RealmConfig) error
	DeleteRealm(ctx context.Context, realm string) error
	UpdateRealmTier(ctx context.Context, realm, tier string) error

	CreateUser(ctx context.Context, realm string, u User) (string, error)
	ListUsers(ctx context.Context, realm string, max int) ([]User, error)
	CountUsers(ctx context.Context, realm string) (int, error)
	DeleteUser(ctx context.Context, realm, userID string) error

	CreateIdentityProvider(ctx context.Context, realm string, idp IdentityProvider) error
	ListIdentityProviders(ctx context.Context, realm string) ([]IdentityProvider, error)
	DeleteIdentityProvider(ctx context.Context, realm, alias string) error

	ListUserSessions(ctx context.Context, realm, userID string) ([]Session, error)
	LogoutUser(ctx context.Context, realm, userID string) error
	RevokeSession(ctx context.Context, realm, sessionID string) error
	ImpersonateUser(ctx context.Context, realm, userID string) (string, error)

	CreateRole(ctx context.Context, realm string, r Role) error
	ListRoles(ctx context.Context, realm string) ([]Role, error)
}
