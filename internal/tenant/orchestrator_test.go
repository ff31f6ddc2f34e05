package tenant

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/authplane/authplane/internal/coupon"
	"github.com/authplane/authplane/internal/iam"
	"github.com/authplane/authplane/internal/plan"
	"github.com/authplane/authplane/internal/webhook"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// flakyStore injects failures into Create for rollback tests.
type flakyStore struct {
	*MemoryStore
	failCreates int
}

func (f *flakyStore) Create(ctx context.Context, t *Tenant) error {
	if f.failCreates > 0 {
		f.failCreates--
		return errors.New("store down")
	}
	return f.MemoryStore.Create(ctx, t)
}

type fixture struct {
	orch        *Orchestrator
	store       Store
	couponStore *coupon.MemoryStore
	iam         *iam.Fake
	webhooks    *webhook.MemoryStore
}

func newFixture(store Store) *fixture {
	if store == nil {
		store = NewMemoryStore()
	}
	couponStore := coupon.NewMemoryStore()
	coupons := coupon.NewService(couponStore, testLogger())
	fake := iam.NewFake()
	webhookStore := webhook.NewMemoryStore()

	cfg := webhook.DefaultDispatcherConfig()
	cfg.Workers = 1
	d := webhook.NewDispatcher(webhookStore, cfg, testLogger())
	emitter := webhook.NewEmitter(webhookStore, d, testLogger())

	return &fixture{
		orch:        NewOrchestrator(store, coupons, fake, webhookStore, emitter, testLogger()),
		store:       store,
		couponStore: couponStore,
		iam:         fake,
		webhooks:    webhookStore,
	}
}

func seedCoupon(t *testing.T, store *coupon.MemoryStore, code string, max int) {
	t.Helper()
	require.NoError(t, store.Create(context.Background(), &coupon.Coupon{
		Code: code, DiscountPct: 50, MaxRedemptions: max,
		Enabled: true, CreatedAt: time.Now().UTC(),
	}))
}

func TestCreateProvisionsRealmAndRecord(t *testing.T) {
	f := newFixture(nil)
	ctx := context.Background()
	seedCoupon(t, f.couponStore, "WELCOME50", 100)

	tn, err := f.orch.Create(ctx, CreateRequest{
		Realm: "acme", DisplayName: "Acme Corp", Email: "ops@acme.test",
		Tier: plan.TierPro, CouponCode: "welcome50",
	})
	require.NoError(t, err)

	assert.Equal(t, StateActive, tn.State)
	assert.Equal(t, "WELCOME50", tn.CouponCode)
	assert.Equal(t, 50, tn.DiscountPct)
	assert.True(t, tn.AuthSettings.RegistrationEnabled)
	assert.True(t, f.iam.HasRealm("acme"))

	got, err := f.store.Get(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, plan.TierPro, got.Tier)

	c, err := f.couponStore.Get(ctx, "WELCOME50")
	require.NoError(t, err)
	assert.Equal(t, 1, c.TimesRedeemed)
}

func TestCreateDuplicateRealm(t *testing.T) {
	f := newFixture(nil)
	ctx := context.Background()

	_, err := f.orch.Create(ctx, CreateRequest{
		Realm: "acme", DisplayName: "Acme", Email: "a@b.test", Tier: plan.TierFree,
	})
	require.NoError(t, err)

	_, err = f.orch.Create(ctx, CreateRequest{
		Realm: "acme", DisplayName: "Other", Email: "c@d.test", Tier: plan.TierFree,
	})
	assert.ErrorIs(t, err, ErrRealmTaken)
}

func TestCreateEnforcesOwnerRealmLimit(t *testing.T) {
	f := newFixture(nil)
	ctx := context.Background()

	// Free allows a single realm per owner.
	_, err := f.orch.Create(ctx, CreateRequest{
		Realm: "acme", DisplayName: "Acme", Email: "owner@acme.test", Tier: plan.TierFree,
	})
	require.NoError(t, err)

	_, err = f.orch.Create(ctx, CreateRequest{
		Realm: "acme-staging", DisplayName: "Acme Staging", Email: "owner@acme.test", Tier: plan.TierFree,
	})
	assert.ErrorIs(t, err, plan.ErrLimitExceeded)
	assert.False(t, f.iam.HasRealm("acme-staging"))

	// A pro signup by the same owner is under pro's ceiling.
	_, err = f.orch.Create(ctx, CreateRequest{
		Realm: "acme-staging", DisplayName: "Acme Staging", Email: "owner@acme.test", Tier: plan.TierPro,
	})
	require.NoError(t, err)
}

// A rejected coupon rejects the signup before anything is provisioned.
func TestCreateCouponRejectedNothingProvisioned(t *testing.T) {
	f := newFixture(nil)
	ctx := context.Background()
	seedCoupon(t, f.couponStore, "TAPPED", 0)

	_, err := f.orch.Create(ctx, CreateRequest{
		Realm: "acme", DisplayName: "Acme", Email: "a@b.test",
		Tier: plan.TierFree, CouponCode: "TAPPED",
	})
	assert.ErrorIs(t, err, coupon.ErrExhausted)

	assert.False(t, f.iam.HasRealm("acme"))
	_, err = f.store.Get(ctx, "acme")
	assert.ErrorIs(t, err, ErrNotFound)
}

// Realm provisioning failure releases the coupon reservation.
func TestCreateProvisionFailureReleasesCoupon(t *testing.T) {
	f := newFixture(nil)
	ctx := context.Background()
	seedCoupon(t, f.couponStore, "SAVE10", 5)
	f.iam.FailCreateRealm = iam.ErrUnreachable

	_, err := f.orch.Create(ctx, CreateRequest{
		Realm: "acme", DisplayName: "Acme", Email: "a@b.test",
		Tier: plan.TierFree, CouponCode: "SAVE10",
	})
	assert.ErrorIs(t, err, iam.ErrUnreachable)

	c, err := f.couponStore.Get(ctx, "SAVE10")
	require.NoError(t, err)
	assert.Equal(t, 0, c.TimesRedeemed)

	// The realm can retry with the same coupon once the server is back.
	f.iam.FailCreateRealm = nil
	_, err = f.orch.Create(ctx, CreateRequest{
		Realm: "acme", DisplayName: "Acme", Email: "a@b.test",
		Tier: plan.TierFree, CouponCode: "SAVE10",
	})
	require.NoError(t, err)
}

// Persist failure rolls the realm back and releases the coupon.
func TestCreatePersistFailureRollsBackRealm(t *testing.T) {
	fs := &flakyStore{MemoryStore: NewMemoryStore(), failCreates: 1}
	f := newFixture(fs)
	ctx := context.Background()
	seedCoupon(t, f.couponStore, "SAVE10", 5)

	_, err := f.orch.Create(ctx, CreateRequest{
		Realm: "acme", DisplayName: "Acme", Email: "a@b.test",
		Tier: plan.TierFree, CouponCode: "SAVE10",
	})
	require.Error(t, err)

	assert.False(t, f.iam.HasRealm("acme"))
	c, err := f.couponStore.Get(ctx, "SAVE10")
	require.NoError(t, err)
	assert.Equal(t, 0, c.TimesRedeemed)
}

// Persist failure plus deprovision failure records an orphan.
func TestCreateOrphanRecordedWhenRollbackFails(t *testing.T) {
	fs := &flakyStore{MemoryStore: NewMemoryStore(), failCreates: 1}
	f := newFixture(fs)
	ctx := context.Background()
	f.iam.FailDeleteRealm = iam.ErrUnreachable

	_, err := f.orch.Create(ctx, CreateRequest{
		Realm: "acme", DisplayName: "Acme", Email: "a@b.test", Tier: plan.TierFree,
	})
	require.Error(t, err)

	// Realm still exists upstream, and the record marks it orphaned.
	assert.True(t, f.iam.HasRealm("acme"))
	got, err := f.store.Get(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, StateOrphaned, got.State)

	orphans, err := f.store.ListByState(ctx, StateOrphaned)
	require.NoError(t, err)
	assert.Len(t, orphans, 1)
}

func TestDeleteRemovesRealmFirst(t *testing.T) {
	f := newFixture(nil)
	ctx := context.Background()

	_, err := f.orch.Create(ctx, CreateRequest{
		Realm: "acme", DisplayName: "Acme", Email: "a@b.test", Tier: plan.TierFree,
	})
	require.NoError(t, err)

	require.NoError(t, f.orch.Delete(ctx, "acme"))
	assert.False(t, f.iam.HasRealm("acme"))
	_, err = f.store.Get(ctx, "acme")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteFailureKeepsRecord(t *testing.T) {
	f := newFixture(nil)
	ctx := context.Background()

	_, err := f.orch.Create(ctx, CreateRequest{
		Realm: "acme", DisplayName: "Acme", Email: "a@b.test", Tier: plan.TierFree,
	})
	require.NoError(t, err)

	f.iam.FailDeleteRealm = iam.ErrUnreachable
	err = f.orch.Delete(ctx, "acme")
	assert.ErrorIs(t, err, iam.ErrUnreachable)

	got, err := f.store.Get(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, StateDeletionFailed, got.State)

	// Operator retry succeeds once the server is back.
	f.iam.FailDeleteRealm = nil
	require.NoError(t, f.orch.RetryDelete(ctx, "acme"))
	_, err = f.store.Get(ctx, "acme")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, f.iam.HasRealm("acme"))
}

func TestChangePlanUpgradeAndDowngrade(t *testing.T) {
	f := newFixture(nil)
	ctx := context.Background()

	_, err := f.orch.Create(ctx, CreateRequest{
		Realm: "acme", DisplayName: "Acme", Email: "a@b.test", Tier: plan.TierPro,
	})
	require.NoError(t, err)

	// Register one webhook: fits pro (3) but not free (0).
	require.NoError(t, f.webhooks.Create(ctx, &webhook.Webhook{
		ID: "wh_1", Realm: "acme", URL: "https://hooks.example.com/x",
		Secret: "s", Events: []webhook.EventType{webhook.EventProjectCreated},
		Active: true, CreatedAt: time.Now(),
	}))

	// Upgrade always fits.
	tn, err := f.orch.ChangePlan(ctx, "acme", plan.TierBusiness)
	require.NoError(t, err)
	assert.Equal(t, plan.TierBusiness, tn.Tier)

	// Downgrade to free blocked: webhook usage exceeds the ceiling of 0.
	_, err = f.orch.ChangePlan(ctx, "acme", plan.TierFree)
	assert.ErrorIs(t, err, ErrDowngradeBlocked)

	// Remove the webhook and the downgrade goes through.
	require.NoError(t, f.webhooks.Delete(ctx, "wh_1"))
	tn, err = f.orch.ChangePlan(ctx, "acme", plan.TierFree)
	require.NoError(t, err)
	assert.Equal(t, plan.TierFree, tn.Tier)
}

// The discount captured at signup is a snapshot: deleting the coupon
// afterwards leaves the tenant's pricing untouched.
func TestDiscountSnapshotSurvivesCouponDeletion(t *testing.T) {
	f := newFixture(nil)
	ctx := context.Background()
	seedCoupon(t, f.couponStore, "WELCOME50", 100)

	_, err := f.orch.Create(ctx, CreateRequest{
		Realm: "acme", DisplayName: "Acme", Email: "a@b.test",
		Tier: plan.TierPro, CouponCode: "WELCOME50",
	})
	require.NoError(t, err)

	require.NoError(t, f.couponStore.Delete(ctx, "WELCOME50"))

	got, err := f.store.Get(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, "WELCOME50", got.CouponCode)
	assert.Equal(t, 50, got.DiscountPct)
}

// A downgrade that would strand users above the target tier's ceiling
// is refused.
func TestChangePlanBlockedByUserCount(t *testing.T) {
	f := newFixture(nil)
	ctx := context.Background()

	_, err := f.orch.Create(ctx, CreateRequest{
		Realm: "acme", DisplayName: "Acme", Email: "a@b.test", Tier: plan.TierBusiness,
	})
	require.NoError(t, err)

	// One user over free's ceiling of 10000.
	f.iam.SeedUsers("acme", 10001)

	_, err = f.orch.ChangePlan(ctx, "acme", plan.TierFree)
	assert.ErrorIs(t, err, ErrDowngradeBlocked)

	got, err := f.store.Get(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, plan.TierBusiness, got.Tier)

	// Pro's ceiling of 100000 fits the same population.
	tn, err := f.orch.ChangePlan(ctx, "acme", plan.TierPro)
	require.NoError(t, err)
	assert.Equal(t, plan.TierPro, tn.Tier)
}

func TestChangePlanUpstreamFailureLeavesTier(t *testing.T) {
	f := newFixture(nil)
	ctx := context.Background()

	_, err := f.orch.Create(ctx, CreateRequest{
		Realm: "acme", DisplayName: "Acme", Email: "a@b.test", Tier: plan.TierFree,
	})
	require.NoError(t, err)

	// Fake returns ErrNotFound from UpdateRealmTier when realm is gone;
	// simulate upstream failure by deleting the realm behind its back.
	require.NoError(t, f.iam.DeleteRealm(ctx, "acme"))

	_, err = f.orch.ChangePlan(ctx, "acme", plan.TierPro)
	require.Error(t, err)

	got, err := f.store.Get(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, plan.TierFree, got.Tier)
}

func TestChangePlanUnknownTier(t *testing.T) {
	f := newFixture(nil)
	_, err := f.orch.ChangePlan(context.Background(), "acme", "platinum")
	assert.ErrorIs(t, err, plan.ErrUnknownTier)
}
