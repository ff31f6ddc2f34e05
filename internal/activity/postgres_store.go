package activity

import (
	"context"
	"database/sql"
)

// PostgresStore persists audit entries in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed audit store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Append(ctx context.Context, e *Entry) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO activity_log (id, realm, actor, action, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ID, e.Realm, e.Actor, e.Action, e.Detail, e.CreatedAt,
	)
	return err
}

func (p *PostgresStore) ListByRealm(ctx context.Context, realm string, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, realm, actor, action, detail, created_at
		FROM activity_log WHERE realm = $1
		ORDER BY created_at DESC LIMIT $2`, realm, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		e := &Entry{}
		if err := rows.Scan(&e.ID, &e.Realm, &e.Actor, &e.Action, &e.Detail, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
