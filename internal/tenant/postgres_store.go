package tenant

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/lib/pq"

	"github.com/authplane/authplane/internal/plan"
)

// PostgresStore persists tenants in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed tenant store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const tenantColumns = `realm, display_name, email, tier, state, coupon_code, discount_pct,
	auth_settings, branding, created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, t *Tenant) error {
	authJSON, err := json.Marshal(t.AuthSettings)
	if err != nil {
		return err
	}
	brandingJSON, err := json.Marshal(t.Branding)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO tenants (realm, display_name, email, tier, state, coupon_code, discount_pct,
			auth_settings, branding, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		t.Realm, t.DisplayName, t.Email, string(t.Tier), string(t.State),
		t.CouponCode, t.DiscountPct, authJSON, brandingJSON, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return ErrRealmTaken
		}
		return err
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, realm string) (*Tenant, error) {
	return scanTenant(p.db.QueryRowContext(ctx,
		`SELECT `+tenantColumns+` FROM tenants WHERE realm = $1`, realm))
}

func (p *PostgresStore) List(ctx context.Context) ([]*Tenant, error) {
	return p.query(ctx, `SELECT `+tenantColumns+` FROM tenants ORDER BY realm`)
}

func (p *PostgresStore) ListByState(ctx context.Context, state State) ([]*Tenant, error) {
	return p.query(ctx,
		`SELECT `+tenantColumns+` FROM tenants WHERE state = $1 ORDER BY realm`, string(state))
}

func (p *PostgresStore) query(ctx context.Context, q string, args ...any) ([]*Tenant, error) {
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (p *PostgresStore) CountByEmail(ctx context.Context, email string) (int, error) {
	var count int
	err := p.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tenants WHERE email = $1`, email).Scan(&count)
	return count, err
}

func (p *PostgresStore) Update(ctx context.Context, t *Tenant) error {
	authJSON, err := json.Marshal(t.AuthSettings)
	if err != nil {
		return err
	}
	brandingJSON, err := json.Marshal(t.Branding)
	if err != nil {
		return err
	}
	result, err := p.db.ExecContext(ctx, `
		UPDATE tenants SET display_name = $1, email = $2, tier = $3, state = $4,
			coupon_code = $5, discount_pct = $6, auth_settings = $7, branding = $8, updated_at = $9
		WHERE realm = $10`,
		t.DisplayName, t.Email, string(t.Tier), string(t.State),
		t.CouponCode, t.DiscountPct, authJSON, brandingJSON, t.UpdatedAt, t.Realm,
	)
	if err != nil {
		return err
	}
	return requireRow(result)
}

func (p *PostgresStore) Delete(ctx context.Context, realm string) error {
	result, err := p.db.ExecContext(ctx, `DELETE FROM tenants WHERE realm = $1`, realm)
	if err != nil {
		return err
	}
	return requireRow(result)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTenant(row rowScanner) (*Tenant, error) {
	t := &Tenant{}
	var tier, state string
	var authJSON, brandingJSON []byte
	err := row.Scan(&t.Realm, &t.DisplayName, &t.Email, &tier, &state,
		&t.CouponCode, &t.DiscountPct, &authJSON, &brandingJSON, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	t.Tier = plan.Tier(tier)
	t.State = State(state)
	if err := json.Unmarshal(authJSON, &t.AuthSettings); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(brandingJSON, &t.Branding); err != nil {
		return nil, err
	}
	return t, nil
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
