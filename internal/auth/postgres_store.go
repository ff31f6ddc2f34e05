package auth

import (
	"context"
	"database/sql"

	"github.com/lib/pq"
)

// PostgresStore persists operators in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed operator store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Create(ctx context.Context, op *Operator) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO operators (id, email, password_hash, realm, admin, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		op.ID, op.Email, op.PasswordHash, op.Realm, op.Admin, op.CreatedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return ErrEmailTaken
		}
		return err
	}
	return nil
}

func (p *PostgresStore) GetByEmail(ctx context.Context, email string) (*Operator, error) {
	return scanOperator(p.db.QueryRowContext(ctx, `
		SELECT id, email, password_hash, realm, admin, created_at
		FROM operators WHERE email = lower($1)`, email))
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Operator, error) {
	return scanOperator(p.db.QueryRowContext(ctx, `
		SELECT id, email, password_hash, realm, admin, created_at
		FROM operators WHERE id = $1`, id))
}

func scanOperator(row *sql.Row) (*Operator, error) {
	op := &Operator{}
	err := row.Scan(&op.ID, &op.Email, &op.PasswordHash, &op.Realm, &op.Admin, &op.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrOperatorNotFound
	}
	if err != nil {
		return nil, err
	}
	return op, nil
}
