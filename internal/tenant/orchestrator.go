package tenant

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/authplane/authplane/internal/coupon"
	"github.com/authplane/authplane/internal/iam"
	"github.com/authplane/authplane/internal/metrics"
	"github.com/authplane/authplane/internal/plan"
	"github.com/authplane/authplane/internal/traces"
	"github.com/authplane/authplane/internal/webhook"
)

// CreateRequest carries a signup.
type CreateRequest struct {
	Realm       string
	DisplayName string
	Email       string
	Tier        plan.Tier
	CouponCode  string
}

// Orchestrator runs the multi-step tenant lifecycle flows. Each flow
// either completes fully or compensates the steps already taken; when a
// compensation itself fails the tenant lands in an operator-visible
// state (orphaned, deletion_failed) rather than disappearing.
type Orchestrator struct {
	store    Store
	coupons  *coupon.Service
	iam      iam.Client
	webhooks webhook.Store
	emitter  *webhook.Emitter
	logger   *slog.Logger
}

// NewOrchestrator wires the lifecycle dependencies together.
func NewOrchestrator(store Store, coupons *coupon.Service, iamClient iam.Client,
	webhooks webhook.Store, emitter *webhook.Emitter, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		store:    store,
		coupons:  coupons,
		iam:      iamClient,
		webhooks: webhooks,
		emitter:  emitter,
		logger:   logger,
	}
}

// Create provisions a new tenant: reserve the coupon (if any), create
// the upstream realm, persist the record. Steps compensate in reverse
// on failure.
func (o *Orchestrator) Create(ctx context.Context, req CreateRequest) (*Tenant, error) {
	ctx, span := traces.StartSpan(ctx, "tenant.create",
		traces.Realm(req.Realm), traces.PlanTier(string(req.Tier)))
	defer span.End()

	p, err := plan.Resolve(req.Tier)
	if err != nil {
		return nil, err
	}

	// Cheap existence check before touching the coupon or the IAM
	// server; the store's unique constraint still backs the race.
	if _, err := o.store.Get(ctx, req.Realm); err == nil {
		return nil, ErrRealmTaken
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	// An owner gets max_realms tenants on the chosen tier.
	owned, err := o.store.CountByEmail(ctx, req.Email)
	if err != nil {
		return nil, err
	}
	if err := plan.CheckLimit(p.Limits.MaxRealms, owned); err != nil {
		return nil, err
	}

	// Step 1: reserve coupon capacity. A rejection here rejects the
	// whole signup before anything upstream exists.
	var reservation *coupon.Redemption
	if req.CouponCode != "" {
		reservation, err = o.coupons.Reserve(ctx, req.CouponCode, req.Realm, string(req.Tier), req.Email)
		if err != nil {
			metrics.ProvisioningTotal.WithLabelValues("coupon_rejected").Inc()
			return nil, err
		}
	}

	// Step 2: provision the upstream realm.
	err = o.iam.CreateRealm(ctx, iam.RealmConfig{
		Name:                req.Realm,
		DisplayName:         req.DisplayName,
		Tier:                string(req.Tier),
		BruteForceProtected: true,
		EventsEnabled:       true,
		RegistrationAllowed: true,
	})
	if err != nil {
		o.compensateCoupon(ctx, reservation)
		metrics.ProvisioningTotal.WithLabelValues("provision_failed").Inc()
		o.logger.Warn("realm provisioning failed", "realm", req.Realm, "error", err)
		return nil, err
	}

	now := time.Now().UTC()
	t := &Tenant{
		Realm:        req.Realm,
		DisplayName:  req.DisplayName,
		Email:        req.Email,
		Tier:         req.Tier,
		State:        StateActive,
		AuthSettings: DefaultAuthSettings(),
		Branding:     DefaultBranding(),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	t.AuthSettings.MagicLinks = p.Allows(plan.FeatureMagicLinks)
	if reservation != nil {
		t.CouponCode = reservation.Code
		t.DiscountPct = reservation.DiscountPct
	}

	// Step 3: persist. On failure, unwind the realm and the coupon; if
	// the realm cannot be removed, record the orphan so an operator can
	// reconcile instead of the realm silently leaking.
	if err := o.store.Create(ctx, t); err != nil {
		if delErr := o.iam.DeleteRealm(ctx, req.Realm); delErr != nil && !errors.Is(delErr, iam.ErrNotFound) {
			metrics.ProvisioningTotal.WithLabelValues("orphaned").Inc()
			metrics.ConsistencyErrorsTotal.WithLabelValues("orphaned_realm").Inc()
			o.logger.Error("CRITICAL: realm orphaned, manual reconciliation required",
				"realm", req.Realm, "persist_error", err, "deprovision_error", delErr)
			t.State = StateOrphaned
			t.UpdatedAt = time.Now().UTC()
			if markErr := o.store.Create(ctx, t); markErr != nil {
				o.logger.Error("CRITICAL: failed to record orphaned tenant",
					"realm", req.Realm, "error", markErr)
			}
		} else {
			metrics.ProvisioningTotal.WithLabelValues("persist_failed").Inc()
		}
		o.compensateCoupon(ctx, reservation)
		return nil, err
	}

	metrics.ProvisioningTotal.WithLabelValues("active").Inc()
	o.logger.Info("tenant provisioned", "realm", t.Realm, "tier", t.Tier, "coupon", t.CouponCode)

	o.emitter.EmitProjectCreated(t.Realm, t.DisplayName, string(t.Tier))
	if reservation != nil {
		o.emitter.EmitCouponRedeemed(t.Realm, reservation.Code, reservation.DiscountPct)
	}
	return t, nil
}

// compensateCoupon releases a reservation during rollback. A failed
// release means the coupon counter is permanently high by one, which
// only an operator can fix.
func (o *Orchestrator) compensateCoupon(ctx context.Context, r *coupon.Redemption) {
	if r == nil {
		return
	}
	if err := o.coupons.Release(ctx, r.Code, r.Realm); err != nil {
		metrics.ConsistencyErrorsTotal.WithLabelValues("coupon_leak").Inc()
		o.logger.Error("CRITICAL: coupon reservation leaked, manual reconciliation required",
			"code", r.Code, "realm", r.Realm, "error", err)
	}
}

// Delete removes a tenant, upstream realm first. The record survives a
// failed deprovision (as deletion_failed) so the realm is never leaked.
func (o *Orchestrator) Delete(ctx context.Context, realm string) error {
	ctx, span := traces.StartSpan(ctx, "tenant.delete", traces.Realm(realm))
	defer span.End()

	t, err := o.store.Get(ctx, realm)
	if err != nil {
		return err
	}

	// Give the tenant's endpoints their final event before teardown.
	o.emitter.EmitProjectDeleted(realm)

	if err := o.iam.DeleteRealm(ctx, realm); err != nil && !errors.Is(err, iam.ErrNotFound) {
		t.State = StateDeletionFailed
		t.UpdatedAt = time.Now().UTC()
		if updErr := o.store.Update(ctx, t); updErr != nil {
			o.logger.Error("CRITICAL: failed to mark tenant deletion_failed",
				"realm", realm, "error", updErr)
		}
		metrics.ConsistencyErrorsTotal.WithLabelValues("deletion_failed").Inc()
		o.logger.Error("CRITICAL: realm deprovision failed, tenant marked deletion_failed",
			"realm", realm, "error", err)
		return err
	}

	if err := o.store.Delete(ctx, realm); err != nil && !errors.Is(err, ErrNotFound) {
		metrics.ConsistencyErrorsTotal.WithLabelValues("record_leak").Inc()
		o.logger.Error("CRITICAL: realm deprovisioned but record removal failed",
			"realm", realm, "error", err)
		return err
	}

	if err := o.webhooks.DeleteByRealm(ctx, realm); err != nil {
		o.logger.Warn("webhook cleanup failed", "realm", realm, "error", err)
	}

	o.logger.Info("tenant deleted", "realm", realm)
	return nil
}

// RetryDelete re-runs deletion for a tenant stuck in deletion_failed.
func (o *Orchestrator) RetryDelete(ctx context.Context, realm string) error {
	t, err := o.store.Get(ctx, realm)
	if err != nil {
		return err
	}
	if t.State != StateDeletionFailed {
		return ErrNotActive
	}
	return o.Delete(ctx, realm)
}

// Usage is a tenant's current consumption of plan-limited resources.
type Usage struct {
	Users           int `json:"users"`
	Realms          int `json:"realms"`
	SAMLConnections int `json:"saml_connections"`
	Webhooks        int `json:"webhooks"`
}

// CurrentUsage gathers consumption from the identity server and the
// webhook store.
func (o *Orchestrator) CurrentUsage(ctx context.Context, realm string) (Usage, error) {
	u := Usage{Realms: 1} // one realm per tenant

	users, err := o.iam.CountUsers(ctx, realm)
	if err != nil {
		return u, err
	}
	u.Users = users

	idps, err := o.iam.ListIdentityProviders(ctx, realm)
	if err != nil {
		return u, err
	}
	for _, idp := range idps {
		if idp.ProviderID == "saml" {
			u.SAMLConnections++
		}
	}

	hooks, err := o.webhooks.CountByRealm(ctx, realm)
	if err != nil {
		return u, err
	}
	u.Webhooks = hooks
	return u, nil
}

// ChangePlan moves a tenant to a new tier. Downgrades are refused while
// current usage exceeds the target tier's limits; the upstream realm
// attribute is updated before the record so a failure leaves both on
// the old tier.
func (o *Orchestrator) ChangePlan(ctx context.Context, realm string, newTier plan.Tier) (*Tenant, error) {
	ctx, span := traces.StartSpan(ctx, "tenant.change_plan",
		traces.Realm(realm), traces.PlanTier(string(newTier)))
	defer span.End()

	newPlan, err := plan.Resolve(newTier)
	if err != nil {
		return nil, err
	}

	t, err := o.store.Get(ctx, realm)
	if err != nil {
		return nil, err
	}
	if t.State != StateActive {
		return nil, ErrNotActive
	}
	if t.Tier == newTier {
		return t, nil
	}

	usage, err := o.CurrentUsage(ctx, realm)
	if err != nil {
		return nil, err
	}
	if !newPlan.FitsUsage(usage.Users, usage.Realms, usage.SAMLConnections, usage.Webhooks) {
		return nil, ErrDowngradeBlocked
	}

	if err := o.iam.UpdateRealmTier(ctx, realm, string(newTier)); err != nil {
		return nil, err
	}

	oldTier := t.Tier
	t.Tier = newTier
	t.UpdatedAt = time.Now().UTC()
	if err := o.store.Update(ctx, t); err != nil {
		metrics.ConsistencyErrorsTotal.WithLabelValues("plan_mismatch").Inc()
		o.logger.Error("CRITICAL: realm tier updated upstream but record update failed",
			"realm", realm, "old_tier", oldTier, "new_tier", newTier, "error", err)
		return nil, err
	}

	o.logger.Info("tenant plan changed", "realm", realm, "old_tier", oldTier, "new_tier", newTier)
	o.emitter.EmitPlanChanged(realm, string(oldTier), string(newTier))
	return t, nil
}
