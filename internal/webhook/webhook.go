// Package webhook delivers tenant lifecycle events to external services.
//
// Delivery is at-least-once with bounded retries. Every attempt, success
// or failure, is recorded in an append-only delivery log so operators
// can audit exactly what an endpoint was sent and when.
package webhook

import (
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("webhook: not found")
)

// EventType identifies a lifecycle event.
type EventType string

const (
	EventProjectCreated EventType = "project.created"
	EventProjectDeleted EventType = "project.deleted"
	EventPlanChanged    EventType = "project.plan_changed"
	EventUserCreated    EventType = "user.created"
	EventUserDeleted    EventType = "user.deleted"
	EventCouponRedeemed EventType = "coupon.redeemed"
	EventIdPCreated     EventType = "idp.created"
	EventIdPDeleted     EventType = "idp.deleted"
)

// KnownEvent reports whether the event type is one the system emits.
func KnownEvent(t EventType) bool {
	switch t {
	case EventProjectCreated, EventProjectDeleted, EventPlanChanged,
		EventUserCreated, EventUserDeleted, EventCouponRedeemed,
		EventIdPCreated, EventIdPDeleted:
		return true
	}
	return false
}

// Event is the payload delivered to webhook endpoints.
type Event struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Realm     string         `json:"realm"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// Webhook is a registered endpoint belonging to a tenant realm.
type Webhook struct {
	ID          string      `json:"id"`
	Realm       string      `json:"realm"`
	URL         string      `json:"url"`
	Secret      string      `json:"-"` // HMAC signing key, never serialised
	Events      []EventType `json:"events"`
	Active      bool        `json:"active"`
	CreatedAt   time.Time   `json:"created_at"`
	LastSuccess *time.Time  `json:"last_success,omitempty"`
	LastError   string      `json:"last_error,omitempty"`
}

// Subscribed reports whether the webhook wants this event type.
func (w *Webhook) Subscribed(t EventType) bool {
	for _, et := range w.Events {
		if et == t {
			return true
		}
	}
	return false
}

// Delivery is one attempt at delivering one event to one endpoint.
// Rows are append-only: retries create new rows, nothing is updated.
// Payload is the exact body sent to the endpoint, kept per attempt so
// the audit trail stays complete even after the event data changes
// shape across releases.
type Delivery struct {
	ID         string          `json:"id"`
	WebhookID  string          `json:"webhook_id"`
	EventID    string          `json:"event_id"`
	EventType  EventType       `json:"event_type"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Attempt    int             `json:"attempt"`
	StatusCode int             `json:"status_code"` // 0 when the request never completed
	Error      string          `json:"error,omitempty"`
	DurationMs int64           `json:"duration_ms"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Succeeded reports whether this attempt got a 2xx response.
func (d *Delivery) Succeeded() bool {
	return d.StatusCode >= 200 && d.StatusCode < 300
}
