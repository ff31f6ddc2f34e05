package coupon

import "context"

// Store persists coupons and redemptions.
//
// Reserve and Release are the atomic capacity primitives. Reserve
// validates the coupon, consumes one unit of capacity, and records a
// redemption in a single atomic step; it fails with ErrAlreadyRedeemed
// when the realm already holds a redemption for the code. Release
// removes a redemption and returns its capacity unit in a single atomic
// step.
type Store interface {
	Create(ctx context.Context, c *Coupon) error
	Get(ctx context.Context, code string) (*Coupon, error)
	List(ctx context.Context) ([]*Coupon, error)
	SetEnabled(ctx context.Context, code string, enabled bool) error
	Delete(ctx context.Context, code string) error

	Reserve(ctx context.Context, code, realm, tier, redeemedBy string) (*Redemption, error)
	Release(ctx context.Context, code, realm string) error
	Redemptions(ctx context.Context, code string) ([]*Redemption, error)
}
