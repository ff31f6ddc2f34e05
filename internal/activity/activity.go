// Package activity keeps a per-tenant audit trail of control-plane
// actions. Entries are append-only and recorded best effort; a failed
// write never fails the request that triggered it.
package activity

import (
	"context"
	"log/slog"
	"time"

	"github.com/authplane/authplane/internal/idgen"
)

// Entry is a single audit record.
type Entry struct {
	ID        string    `json:"id"`
	Realm     string    `json:"realm"`
	Actor     string    `json:"actor"` // operator ID or "system"
	Action    string    `json:"action"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists audit entries.
type Store interface {
	Append(ctx context.Context, e *Entry) error
	ListByRealm(ctx context.Context, realm string, limit int) ([]*Entry, error)
}

// Recorder writes audit entries without propagating failures.
type Recorder struct {
	store  Store
	logger *slog.Logger
}

// NewRecorder creates an audit recorder.
func NewRecorder(store Store, logger *slog.Logger) *Recorder {
	return &Recorder{store: store, logger: logger}
}

// Record appends an entry. Failures are logged and swallowed.
func (r *Recorder) Record(ctx context.Context, realm, actor, action, detail string) {
	e := &Entry{
		ID:        idgen.WithPrefix("act_"),
		Realm:     realm,
		Actor:     actor,
		Action:    action,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	}
	if err := r.store.Append(ctx, e); err != nil {
		r.logger.Error("failed to record activity",
			"realm", realm, "action", action, "error", err)
	}
}
