package coupon

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"

	"github.com/authplane/authplane/internal/idgen"
)

// PostgresStore persists coupons in PostgreSQL.
//
// Reserve runs inside a transaction: the coupon row is locked with
// SELECT ... FOR UPDATE, validated, then the counter increment and the
// redemption insert commit together. Concurrent reservations for the
// same code serialise on the row lock, so the counter can never pass
// the cap. The unique (code, realm) index backs ErrAlreadyRedeemed.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed coupon store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Create(ctx context.Context, c *Coupon) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO coupons (code, description, discount_pct, max_redemptions, times_redeemed,
			valid_tiers, enabled, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		c.Code, c.Description, c.DiscountPct, c.MaxRedemptions, c.TimesRedeemed,
		pq.Array(c.ValidTiers), c.Enabled, c.ExpiresAt, c.CreatedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return ErrCodeTaken
		}
		return err
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, code string) (*Coupon, error) {
	return scanCoupon(p.db.QueryRowContext(ctx, `
		SELECT code, description, discount_pct, max_redemptions, times_redeemed,
			valid_tiers, enabled, expires_at, created_at
		FROM coupons WHERE code = $1`, code))
}

func (p *PostgresStore) List(ctx context.Context) ([]*Coupon, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT code, description, discount_pct, max_redemptions, times_redeemed,
			valid_tiers, enabled, expires_at, created_at
		FROM coupons ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Coupon
	for rows.Next() {
		c := &Coupon{}
		var tiers pq.StringArray
		if err := rows.Scan(&c.Code, &c.Description, &c.DiscountPct, &c.MaxRedemptions,
			&c.TimesRedeemed, &tiers, &c.Enabled, &c.ExpiresAt, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.ValidTiers = tiers
		out = append(out, c)
	}
	return out, rows.Err()
}

func (p *PostgresStore) SetEnabled(ctx context.Context, code string, enabled bool) error {
	result, err := p.db.ExecContext(ctx,
		`UPDATE coupons SET enabled = $1 WHERE code = $2`, enabled, code)
	if err != nil {
		return err
	}
	return requireRow(result)
}

func (p *PostgresStore) Delete(ctx context.Context, code string) error {
	result, err := p.db.ExecContext(ctx, `DELETE FROM coupons WHERE code = $1`, code)
	if err != nil {
		return err
	}
	return requireRow(result)
}

func (p *PostgresStore) Reserve(ctx context.Context, code, realm, tier, redeemedBy string) (*Redemption, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	c, err := scanCoupon(tx.QueryRowContext(ctx, `
		SELECT code, description, discount_pct, max_redemptions, times_redeemed,
			valid_tiers, enabled, expires_at, created_at
		FROM coupons WHERE code = $1 FOR UPDATE`, code))
	if err != nil {
		return nil, err
	}
	if err := c.Check(tier, time.Now()); err != nil {
		return nil, err
	}

	r := &Redemption{
		ID:          idgen.WithPrefix("red_"),
		Code:        code,
		Realm:       realm,
		Tier:        tier,
		RedeemedBy:  redeemedBy,
		DiscountPct: c.DiscountPct,
		CreatedAt:   time.Now().UTC(),
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO coupon_redemptions (id, code, realm, tier, redeemed_by, discount_pct, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		r.ID, r.Code, r.Realm, r.Tier, r.RedeemedBy, r.DiscountPct, r.CreatedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return nil, ErrAlreadyRedeemed
		}
		return nil, err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE coupons SET times_redeemed = times_redeemed + 1 WHERE code = $1`, code); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return r, nil
}

func (p *PostgresStore) Release(ctx context.Context, code, realm string) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx,
		`DELETE FROM coupon_redemptions WHERE code = $1 AND realm = $2`, code, realm)
	if err != nil {
		return err
	}
	if err := requireRow(result); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE coupons SET times_redeemed = times_redeemed - 1
		WHERE code = $1 AND times_redeemed > 0`, code); err != nil {
		return err
	}

	return tx.Commit()
}

func (p *PostgresStore) Redemptions(ctx context.Context, code string) ([]*Redemption, error) {
	if _, err := p.Get(ctx, code); err != nil {
		return nil, err
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT id, code, realm, tier, redeemed_by, discount_pct, created_at
		FROM coupon_redemptions WHERE code = $1 ORDER BY created_at`, code)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Redemption
	for rows.Next() {
		r := &Redemption{}
		if err := rows.Scan(&r.ID, &r.Code, &r.Realm, &r.Tier, &r.RedeemedBy, &r.DiscountPct, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCoupon(row rowScanner) (*Coupon, error) {
	c := &Coupon{}
	var tiers pq.StringArray
	err := row.Scan(&c.Code, &c.Description, &c.DiscountPct, &c.MaxRedemptions,
		&c.TimesRedeemed, &tiers, &c.Enabled, &c.ExpiresAt, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c.ValidTiers = tiers
	return c, nil
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
