package webhook

import (
	"context"
	"database/sql"

	"github.com/lib/pq"
)

// PostgresStore persists webhooks in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed webhook store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const webhookColumns = `id, realm, url, secret, events, active, created_at, last_success, last_error`

func (p *PostgresStore) Create(ctx context.Context, w *Webhook) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO webhooks (id, realm, url, secret, events, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		w.ID, w.Realm, w.URL, w.Secret, pq.Array(eventStrings(w.Events)), w.Active, w.CreatedAt,
	)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Webhook, error) {
	return scanWebhook(p.db.QueryRowContext(ctx,
		`SELECT `+webhookColumns+` FROM webhooks WHERE id = $1`, id))
}

func (p *PostgresStore) ListByRealm(ctx context.Context, realm string) ([]*Webhook, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+webhookColumns+` FROM webhooks WHERE realm = $1 ORDER BY created_at`, realm)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Webhook
	for rows.Next() {
		w, err := scanWebhook(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (p *PostgresStore) CountByRealm(ctx context.Context, realm string) (int, error) {
	var count int
	err := p.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM webhooks WHERE realm = $1`, realm).Scan(&count)
	return count, err
}

func (p *PostgresStore) Update(ctx context.Context, w *Webhook) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE webhooks SET url = $1, secret = $2, events = $3, active = $4,
			last_success = $5, last_error = $6
		WHERE id = $7`,
		w.URL, w.Secret, pq.Array(eventStrings(w.Events)), w.Active,
		w.LastSuccess, w.LastError, w.ID,
	)
	if err != nil {
		return err
	}
	return requireRow(result)
}

func (p *PostgresStore) Delete(ctx context.Context, id string) error {
	result, err := p.db.ExecContext(ctx, `DELETE FROM webhooks WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return requireRow(result)
}

func (p *PostgresStore) DeleteByRealm(ctx context.Context, realm string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM webhooks WHERE realm = $1`, realm)
	return err
}

func (p *PostgresStore) AppendDelivery(ctx context.Context, d *Delivery) error {
	payload := d.Payload
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO webhook_deliveries (id, webhook_id, event_id, event_type, payload, attempt,
			status_code, error, duration_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		d.ID, d.WebhookID, d.EventID, string(d.EventType), []byte(payload), d.Attempt,
		d.StatusCode, d.Error, d.DurationMs, d.CreatedAt,
	)
	return err
}

func (p *PostgresStore) Deliveries(ctx context.Context, webhookID string, limit int) ([]*Delivery, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, webhook_id, event_id, event_type, payload, attempt, status_code, error, duration_ms, created_at
		FROM webhook_deliveries WHERE webhook_id = $1
		ORDER BY created_at DESC LIMIT $2`, webhookID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Delivery
	for rows.Next() {
		d := &Delivery{}
		var eventType string
		var payload []byte
		if err := rows.Scan(&d.ID, &d.WebhookID, &d.EventID, &eventType, &payload, &d.Attempt,
			&d.StatusCode, &d.Error, &d.DurationMs, &d.CreatedAt); err != nil {
			return nil, err
		}
		d.EventType = EventType(eventType)
		d.Payload = payload
		out = append(out, d)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWebhook(row rowScanner) (*Webhook, error) {
	w := &Webhook{}
	var events pq.StringArray
	err := row.Scan(&w.ID, &w.Realm, &w.URL, &w.Secret, &events, &w.Active,
		&w.CreatedAt, &w.LastSuccess, &w.LastError)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	w.Events = make([]EventType, 0, len(events))
	for _, e := range events {
		w.Events = append(w.Events, EventType(e))
	}
	return w, nil
}

func eventStrings(events []EventType) []string {
	out := make([]string, 0, len(events))
	for _, e := range events {
		out = append(out, string(e))
	}
	return out
}

func requireRow(result sql.Result) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}
