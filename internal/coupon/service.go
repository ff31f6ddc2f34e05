package coupon

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/authplane/authplane/internal/metrics"
	"github.com/authplane/authplane/internal/traces"
	"github.com/authplane/authplane/internal/validation"
)

// Service wraps a Store with normalisation, logging, and metrics.
// The provisioning flow calls Reserve and Release through it.
type Service struct {
	store  Store
	logger *slog.Logger
}

// NewService creates a coupon service.
func NewService(store Store, logger *slog.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// Validate checks a coupon for a tier without consuming capacity.
// The returned coupon carries the discount the caller would get.
func (s *Service) Validate(ctx context.Context, code, tier string) (*Coupon, error) {
	code = validation.NormalizeCouponCode(code)
	c, err := s.store.Get(ctx, code)
	if err != nil {
		return nil, err
	}
	if err := c.Check(tier, time.Now()); err != nil {
		return nil, err
	}
	return c, nil
}

// Reserve atomically consumes one unit of coupon capacity for a realm,
// recording redeemedBy as the redeeming principal. A successful
// reservation must later be paired with either tenant activation or a
// Release.
func (s *Service) Reserve(ctx context.Context, code, realm, tier, redeemedBy string) (*Redemption, error) {
	ctx, span := traces.StartSpan(ctx, "coupon.reserve",
		traces.CouponCode(code), traces.Realm(realm))
	defer span.End()

	code = validation.NormalizeCouponCode(code)
	r, err := s.store.Reserve(ctx, code, realm, tier, redeemedBy)
	if err != nil {
		metrics.CouponReservationsTotal.WithLabelValues(reservationResult(err)).Inc()
		return nil, err
	}

	metrics.CouponReservationsTotal.WithLabelValues("reserved").Inc()
	s.logger.Info("coupon reserved", "code", code, "realm", realm,
		"redeemed_by", redeemedBy, "discount_pct", r.DiscountPct)
	return r, nil
}

// Release returns a reservation's capacity unit. It is the compensation
// step for a failed provisioning flow; a missing redemption is reported
// as ErrNotFound so the caller can escalate.
func (s *Service) Release(ctx context.Context, code, realm string) error {
	ctx, span := traces.StartSpan(ctx, "coupon.release",
		traces.CouponCode(code), traces.Realm(realm))
	defer span.End()

	code = validation.NormalizeCouponCode(code)
	if err := s.store.Release(ctx, code, realm); err != nil {
		metrics.CouponReservationsTotal.WithLabelValues("release_failed").Inc()
		return err
	}
	metrics.CouponReservationsTotal.WithLabelValues("released").Inc()
	s.logger.Info("coupon reservation released", "code", code, "realm", realm)
	return nil
}

// Create stores a new coupon after normalising its code and tiers.
func (s *Service) Create(ctx context.Context, c *Coupon) error {
	c.Code = validation.NormalizeCouponCode(c.Code)
	if !validation.IsValidCouponCode(c.Code) {
		return errors.New("coupon: invalid code format")
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	return s.store.Create(ctx, c)
}

func (s *Service) Get(ctx context.Context, code string) (*Coupon, error) {
	return s.store.Get(ctx, validation.NormalizeCouponCode(code))
}

func (s *Service) List(ctx context.Context) ([]*Coupon, error) {
	return s.store.List(ctx)
}

func (s *Service) SetEnabled(ctx context.Context, code string, enabled bool) error {
	return s.store.SetEnabled(ctx, validation.NormalizeCouponCode(code), enabled)
}

func (s *Service) Delete(ctx context.Context, code string) error {
	return s.store.Delete(ctx, validation.NormalizeCouponCode(code))
}

func (s *Service) Redemptions(ctx context.Context, code string) ([]*Redemption, error) {
	return s.store.Redemptions(ctx, validation.NormalizeCouponCode(code))
}

func reservationResult(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrDisabled):
		return "disabled"
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.Is(err, ErrPlanNotEligible):
		return "plan_not_eligible"
	case errors.Is(err, ErrExhausted):
		return "exhausted"
	case errors.Is(err, ErrAlreadyRedeemed):
		return "already_redeemed"
	default:
		return "error"
	}
}
