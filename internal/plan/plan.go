// Package plan implements the pricing tier catalogue and policy checks.
//
// Every tenant carries a tier; the catalogue maps tiers to resource
// limits and feature flags. Limit values of -1 mean unlimited. The
// catalogue is hardcoded: tiers change with releases, not at runtime.
package plan

import "errors"

var (
	ErrUnknownTier        = errors.New("plan: unknown tier")
	ErrFeatureNotIncluded = errors.New("plan: feature not included in tier")
	ErrLimitExceeded      = errors.New("plan: resource limit exceeded")
)

// Tier identifies a pricing tier.
type Tier string

const (
	TierFree       Tier = "free"
	TierPro        Tier = "pro"
	TierBusiness   Tier = "business"
	TierEnterprise Tier = "enterprise"
)

// Feature identifies a gated capability.
type Feature string

const (
	FeatureOrganizations           Feature = "organizations"
	FeatureWebhooks                Feature = "webhooks"
	FeatureAnalytics               Feature = "analytics"
	FeatureUserImpersonation       Feature = "user_impersonation"
	FeatureMagicLinks              Feature = "magic_links"
	FeatureDisposableEmailBlocking Feature = "disposable_email_blocking"
	FeatureBotProtection           Feature = "bot_protection"
	FeaturePasswordBreachDetection Feature = "password_breach_detection"
	FeatureCustomRoles             Feature = "custom_roles"
)

// Limits holds per-tier resource ceilings. -1 means unlimited.
type Limits struct {
	MaxUsers           int `json:"max_users"`
	MaxRealms          int `json:"max_realms"`
	MaxSAMLConnections int `json:"max_saml_connections"`
	MaxWebhooks        int `json:"max_webhooks"`
}

// Plan describes one pricing tier.
type Plan struct {
	Tier            Tier             `json:"tier"`
	Name            string           `json:"name"`
	PriceUSD        int              `json:"price_usd"`
	APIRateLimitRPM int              `json:"api_rate_limit_rpm"`
	Limits          Limits           `json:"limits"`
	Features        map[Feature]bool `json:"features"`
}

// Catalogue is the hardcoded tier catalogue.
var Catalogue = map[Tier]Plan{
	TierFree: {
		Tier:            TierFree,
		Name:            "Free",
		PriceUSD:        0,
		APIRateLimitRPM: 60,
		Limits: Limits{
			MaxUsers:           10000,
			MaxRealms:          1,
			MaxSAMLConnections: 0,
			MaxWebhooks:        0,
		},
		Features: map[Feature]bool{
			FeatureMagicLinks: true,
		},
	},
	TierPro: {
		Tier:            TierPro,
		Name:            "Pro",
		PriceUSD:        25,
		APIRateLimitRPM: 600,
		Limits: Limits{
			MaxUsers:           100000,
			MaxRealms:          5,
			MaxSAMLConnections: 0,
			MaxWebhooks:        3,
		},
		Features: map[Feature]bool{
			FeatureOrganizations:           true,
			FeatureWebhooks:                true,
			FeatureMagicLinks:              true,
			FeatureDisposableEmailBlocking: true,
		},
	},
	TierBusiness: {
		Tier:            TierBusiness,
		Name:            "Business",
		PriceUSD:        99,
		APIRateLimitRPM: 3000,
		Limits: Limits{
			MaxUsers:           500000,
			MaxRealms:          -1,
			MaxSAMLConnections: 3,
			MaxWebhooks:        10,
		},
		Features: map[Feature]bool{
			FeatureOrganizations:           true,
			FeatureWebhooks:                true,
			FeatureAnalytics:               true,
			FeatureMagicLinks:              true,
			FeatureDisposableEmailBlocking: true,
			FeatureBotProtection:           true,
			FeatureCustomRoles:             true,
		},
	},
	TierEnterprise: {
		Tier:            TierEnterprise,
		Name:            "Enterprise",
		PriceUSD:        499,
		APIRateLimitRPM: -1,
		Limits: Limits{
			MaxUsers:           -1,
			MaxRealms:          -1,
			MaxSAMLConnections: -1,
			MaxWebhooks:        -1,
		},
		Features: map[Feature]bool{
			FeatureOrganizations:           true,
			FeatureWebhooks:                true,
			FeatureAnalytics:               true,
			FeatureUserImpersonation:       true,
			FeatureMagicLinks:              true,
			FeatureDisposableEmailBlocking: true,
			FeatureBotProtection:           true,
			FeaturePasswordBreachDetection: true,
			FeatureCustomRoles:             true,
		},
	},
}

// Resolve returns the plan for a tier name.
func Resolve(tier Tier) (Plan, error) {
	p, ok := Catalogue[tier]
	if !ok {
		return Plan{}, ErrUnknownTier
	}
	return p, nil
}

// Valid reports whether the tier name is recognised.
func Valid(tier Tier) bool {
	_, ok := Catalogue[tier]
	return ok
}

// Allows reports whether the plan includes the feature.
func (p Plan) Allows(f Feature) bool {
	return p.Features[f]
}

// RequireFeature returns ErrFeatureNotIncluded if the plan lacks the feature.
func (p Plan) RequireFeature(f Feature) error {
	if !p.Allows(f) {
		return ErrFeatureNotIncluded
	}
	return nil
}

// WithinLimit reports whether current+1 resources would still fit the
// ceiling. A ceiling of -1 is unlimited.
func WithinLimit(ceiling, current int) bool {
	return ceiling == -1 || current < ceiling
}

// CheckLimit returns ErrLimitExceeded when adding one more resource would
// exceed the ceiling.
func CheckLimit(ceiling, current int) error {
	if !WithinLimit(ceiling, current) {
		return ErrLimitExceeded
	}
	return nil
}

// FitsUsage reports whether the given usage already fits inside the
// plan's ceilings. Used when changing a tenant's plan: a downgrade is
// refused while current usage exceeds the target tier.
func (p Plan) FitsUsage(users, realms, samlConnections, webhooks int) bool {
	fits := func(ceiling, current int) bool {
		return ceiling == -1 || current <= ceiling
	}
	return fits(p.Limits.MaxUsers, users) &&
		fits(p.Limits.MaxRealms, realms) &&
		fits(p.Limits.MaxSAMLConnections, samlConnections) &&
		fits(p.Limits.MaxWebhooks, webhooks)
}
