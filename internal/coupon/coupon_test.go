package coupon

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCoupon(code string, max int) *Coupon {
	return &Coupon{
		Code:           code,
		Description:    "test coupon",
		DiscountPct:    50,
		MaxRedemptions: max,
		Enabled:        true,
		CreatedAt:      time.Now().UTC(),
	}
}

func TestCheckOrdering(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Hour)

	// Disabled wins over everything else.
	c := testCoupon("SAVE10", 0)
	c.Enabled = false
	c.ExpiresAt = &past
	assert.ErrorIs(t, c.Check("free", now), ErrDisabled)

	// Expired wins over tier eligibility and capacity.
	c = testCoupon("SAVE10", 0)
	c.ExpiresAt = &past
	c.ValidTiers = []string{"pro"}
	assert.ErrorIs(t, c.Check("free", now), ErrExpired)

	// Tier eligibility wins over capacity.
	c = testCoupon("SAVE10", 0)
	c.ValidTiers = []string{"pro"}
	assert.ErrorIs(t, c.Check("free", now), ErrPlanNotEligible)

	// Capacity last.
	c = testCoupon("SAVE10", 0)
	assert.ErrorIs(t, c.Check("free", now), ErrExhausted)

	// Empty ValidTiers means every tier qualifies.
	c = testCoupon("SAVE10", 10)
	assert.NoError(t, c.Check("enterprise", now))
}

func TestRemaining(t *testing.T) {
	c := testCoupon("SAVE10", 5)
	c.TimesRedeemed = 3
	assert.Equal(t, 2, c.Remaining())

	c.MaxRedemptions = Unlimited
	assert.Equal(t, Unlimited, c.Remaining())
}

func TestMemoryReserveAndRelease(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Create(ctx, testCoupon("SAVE10", 2)))

	r1, err := store.Reserve(ctx, "SAVE10", "acme", "pro", "owner@example.test")
	require.NoError(t, err)
	assert.Equal(t, 50, r1.DiscountPct)
	assert.Equal(t, "owner@example.test", r1.RedeemedBy)

	// Same realm cannot reserve twice.
	_, err = store.Reserve(ctx, "SAVE10", "acme", "pro", "owner@example.test")
	assert.ErrorIs(t, err, ErrAlreadyRedeemed)

	_, err = store.Reserve(ctx, "SAVE10", "globex", "pro", "owner@example.test")
	require.NoError(t, err)

	// Capacity exhausted.
	_, err = store.Reserve(ctx, "SAVE10", "initech", "pro", "owner@example.test")
	assert.ErrorIs(t, err, ErrExhausted)

	// Release returns the capacity unit; a new realm can now reserve.
	require.NoError(t, store.Release(ctx, "SAVE10", "acme"))
	_, err = store.Reserve(ctx, "SAVE10", "initech", "pro", "owner@example.test")
	require.NoError(t, err)

	// Double release is reported, not silently absorbed.
	assert.ErrorIs(t, store.Release(ctx, "SAVE10", "acme"), ErrNotFound)

	c, err := store.Get(ctx, "SAVE10")
	require.NoError(t, err)
	assert.Equal(t, 2, c.TimesRedeemed)

	reds, err := store.Redemptions(ctx, "SAVE10")
	require.NoError(t, err)
	assert.Len(t, reds, 2)
}

// One hundred units of capacity, three hundred realms racing for them:
// exactly one hundred reservations may succeed.
func TestConcurrentReserveNeverOverRedeems(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Create(ctx, testCoupon("WELCOME50", 100)))

	const racers = 300
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0

	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			realm := fmt.Sprintf("realm-%03d", n)
			if _, err := store.Reserve(ctx, "WELCOME50", realm, "pro", "owner@example.test"); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 100, succeeded)

	c, err := store.Get(ctx, "WELCOME50")
	require.NoError(t, err)
	assert.Equal(t, 100, c.TimesRedeemed)

	reds, err := store.Redemptions(ctx, "WELCOME50")
	require.NoError(t, err)
	assert.Len(t, reds, 100)
}

func TestUnlimitedCoupon(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Create(ctx, testCoupon("FOREVER", Unlimited)))

	for i := 0; i < 50; i++ {
		_, err := store.Reserve(ctx, "FOREVER", fmt.Sprintf("realm-%d", i), "free", "owner@example.test")
		require.NoError(t, err)
	}
}
