// Package tenant implements the tenant lifecycle: provisioning a realm
// on the identity server, persisting the control-plane record, and the
// compensation paths that keep the two in step.
package tenant

import (
	"errors"
	"time"

	"github.com/authplane/authplane/internal/plan"
)

var (
	ErrNotFound         = errors.New("tenant: not found")
	ErrRealmTaken       = errors.New("tenant: realm already taken")
	ErrNotActive        = errors.New("tenant: not active")
	ErrDowngradeBlocked = errors.New("tenant: current usage exceeds target plan limits")
)

// State is a tenant's persisted lifecycle state. The transient saga
// steps (reserving, provisioning, persisting) never hit the store; only
// outcomes do.
type State string

const (
	// StateActive is the steady state: realm provisioned, record persisted.
	StateActive State = "active"
	// StateOrphaned means the realm exists upstream but activation failed
	// and the rollback deprovision also failed. Needs an operator.
	StateOrphaned State = "orphaned"
	// StateDeletionFailed means the upstream deprovision failed during
	// deletion. The record is kept so the realm is not leaked.
	StateDeletionFailed State = "deletion_failed"
)

// AuthSettings are the per-realm authentication options a tenant can
// configure, bounded by its plan's feature flags.
type AuthSettings struct {
	RegistrationEnabled       bool `json:"registration_enabled"`
	EmailVerificationRequired bool `json:"email_verification_required"`
	MFAEnabled                bool `json:"mfa_enabled"`
	PasswordMinLength         int  `json:"password_min_length"`
	BruteForceProtection      bool `json:"brute_force_protection"`
	MagicLinks                bool `json:"magic_links"`
	DisposableEmailBlocking   bool `json:"disposable_email_blocking"`
	BotProtection             bool `json:"bot_protection"`
	PasswordBreachDetection   bool `json:"password_breach_detection"`
}

// DefaultAuthSettings returns the settings a new tenant starts with.
func DefaultAuthSettings() AuthSettings {
	return AuthSettings{
		RegistrationEnabled:       true,
		EmailVerificationRequired: true,
		PasswordMinLength:         8,
		BruteForceProtection:      true,
	}
}

// Branding is the tenant's hosted-login appearance.
type Branding struct {
	LogoURL         string `json:"logo_url"`
	PrimaryColor    string `json:"primary_color"`
	BackgroundColor string `json:"background_color"`
}

// DefaultBranding returns the stock look for new tenants.
func DefaultBranding() Branding {
	return Branding{
		PrimaryColor:    "#4f46e5",
		BackgroundColor: "#ffffff",
	}
}

// Tenant is one customer organisation, owning exactly one identity realm.
type Tenant struct {
	Realm        string       `json:"realm"`
	DisplayName  string       `json:"display_name"`
	Email        string       `json:"email"`
	Tier         plan.Tier    `json:"tier"`
	State        State        `json:"state"`
	CouponCode   string       `json:"coupon_code,omitempty"`
	DiscountPct  int          `json:"discount_pct,omitempty"`
	AuthSettings AuthSettings `json:"auth_settings"`
	Branding     Branding     `json:"branding"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}
