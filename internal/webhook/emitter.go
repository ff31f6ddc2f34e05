package webhook

import (
	"context"
	"log/slog"
	"time"

	"github.com/authplane/authplane/internal/idgen"
)

// Emitter fans lifecycle events out to a realm's registered webhooks.
// All methods are fire-and-forget: errors are logged but never returned,
// so a broken endpoint can never fail the operation that triggered it.
type Emitter struct {
	store  Store
	d      *Dispatcher
	logger *slog.Logger
}

// NewEmitter creates a new webhook emitter.
func NewEmitter(store Store, d *Dispatcher, logger *slog.Logger) *Emitter {
	return &Emitter{store: store, d: d, logger: logger}
}

func (e *Emitter) emit(realm string, eventType EventType, data map[string]any) {
	if e == nil || e.d == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	hooks, err := e.store.ListByRealm(ctx, realm)
	if err != nil {
		e.logger.Warn("webhook lookup failed", "event", eventType, "realm", realm, "error", err)
		return
	}

	event := &Event{
		ID:        idgen.WithPrefix("evt_"),
		Type:      eventType,
		Realm:     realm,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}

	for _, w := range hooks {
		if !w.Active || !w.Subscribed(eventType) {
			continue
		}
		e.d.Enqueue(w.ID, event)
	}
}

// EmitProjectCreated emits a project.created event.
func (e *Emitter) EmitProjectCreated(realm, displayName, tier string) {
	e.emit(realm, EventProjectCreated, map[string]any{
		"realm":        realm,
		"display_name": displayName,
		"tier":         tier,
	})
}

// EmitProjectDeleted emits a project.deleted event.
func (e *Emitter) EmitProjectDeleted(realm string) {
	e.emit(realm, EventProjectDeleted, map[string]any{
		"realm": realm,
	})
}

// EmitPlanChanged emits a project.plan_changed event.
func (e *Emitter) EmitPlanChanged(realm, oldTier, newTier string) {
	e.emit(realm, EventPlanChanged, map[string]any{
		"realm":    realm,
		"old_tier": oldTier,
		"new_tier": newTier,
	})
}

// EmitUserCreated emits a user.created event.
func (e *Emitter) EmitUserCreated(realm, userID, username string) {
	e.emit(realm, EventUserCreated, map[string]any{
		"realm":    realm,
		"user_id":  userID,
		"username": username,
	})
}

// EmitUserDeleted emits a user.deleted event.
func (e *Emitter) EmitUserDeleted(realm, userID string) {
	e.emit(realm, EventUserDeleted, map[string]any{
		"realm":   realm,
		"user_id": userID,
	})
}

// EmitCouponRedeemed emits a coupon.redeemed event.
func (e *Emitter) EmitCouponRedeemed(realm, code string, discountPct int) {
	e.emit(realm, EventCouponRedeemed, map[string]any{
		"realm":        realm,
		"code":         code,
		"discount_pct": discountPct,
	})
}

// EmitIdPCreated emits an idp.created event.
func (e *Emitter) EmitIdPCreated(realm, alias, providerID string) {
	e.emit(realm, EventIdPCreated, map[string]any{
		"realm":       realm,
		"alias":       alias,
		"provider_id": providerID,
	})
}

// EmitIdPDeleted emits an idp.deleted event.
func (e *Emitter) EmitIdPDeleted(realm, alias string) {
	e.emit(realm, EventIdPDeleted, map[string]any{
		"realm": realm,
		"alias": alias,
	})
}
