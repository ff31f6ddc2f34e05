// Package coupon implements discount codes with atomic redemption.
//
// A coupon carries a shared capacity (max redemptions) that concurrent
// signups race for. Reserve is the only way to consume capacity and is
// atomic in every store implementation: under concurrency the number of
// successful reservations never exceeds the capacity, and a realm can
// hold at most one redemption per code. Release is the compensation for
// a reservation whose enclosing provisioning flow failed.
package coupon

import (
	"errors"
	"time"
)

var (
	ErrNotFound        = errors.New("coupon: not found")
	ErrDisabled        = errors.New("coupon: disabled")
	ErrExpired         = errors.New("coupon: expired")
	ErrPlanNotEligible = errors.New("coupon: plan not eligible")
	ErrExhausted       = errors.New("coupon: redemption limit reached")
	ErrAlreadyRedeemed = errors.New("coupon: already redeemed by this realm")
	ErrCodeTaken       = errors.New("coupon: code already exists")
)

// Unlimited marks a coupon with no redemption cap.
const Unlimited = -1

// Coupon is a discount code. ValidTiers empty means all tiers qualify.
type Coupon struct {
	Code           string     `json:"code"`
	Description    string     `json:"description"`
	DiscountPct    int        `json:"discount_pct"`
	MaxRedemptions int        `json:"max_redemptions"`
	TimesRedeemed  int        `json:"times_redeemed"`
	ValidTiers     []string   `json:"valid_tiers"`
	Enabled        bool       `json:"enabled"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Redemption records one consumed unit of coupon capacity. RedeemedBy
// is the email of the principal whose signup consumed it.
type Redemption struct {
	ID          string    `json:"id"`
	Code        string    `json:"code"`
	Realm       string    `json:"realm"`
	Tier        string    `json:"tier"`
	RedeemedBy  string    `json:"redeemed_by"`
	DiscountPct int       `json:"discount_pct"`
	CreatedAt   time.Time `json:"created_at"`
}

// Remaining returns how many redemptions are left, or Unlimited.
func (c *Coupon) Remaining() int {
	if c.MaxRedemptions == Unlimited {
		return Unlimited
	}
	left := c.MaxRedemptions - c.TimesRedeemed
	if left < 0 {
		left = 0
	}
	return left
}

// Check validates a coupon for a tier at a point in time. The order of
// checks is fixed so callers get the most specific rejection: disabled
// before expired, expired before tier eligibility, eligibility before
// capacity.
func (c *Coupon) Check(tier string, now time.Time) error {
	if !c.Enabled {
		return ErrDisabled
	}
	if c.ExpiresAt != nil && !c.ExpiresAt.After(now) {
		return ErrExpired
	}
	if len(c.ValidTiers) > 0 && !contains(c.ValidTiers, tier) {
		return ErrPlanNotEligible
	}
	if c.MaxRedemptions != Unlimited && c.TimesRedeemed >= c.MaxRedemptions {
		return ErrExhausted
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
