package postgres

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront-cart/internal/domain/coupon"
)

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository backed by PostgreSQL.
type CouponRepository struct {
	pool *pgxpool.Pool
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// FindByCode looks up an active coupon by its code (case-insensitive).
// Returns coupon.ErrIneligible when no matching active coupon exists.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT code, kind, value, min_subtotal, description, valid_from, valid_until
		FROM coupons
		WHERE code = UPPER($1) AND active`, code)

	var (
		c          coupon.Coupon
		kind       string
		validFrom  *time.Time
		validUntil *time.Time
	)
	err := row.Scan(&c.Code, &kind, &c.Value, &c.MinSubtotal, &c.Description, &validFrom, &validUntil)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrIneligible
		}
		return nil, errors.Wrapf(err, "find coupon %q", code)
	}

	c.Kind = coupon.Kind(kind)
	c.ValidFrom = validFrom
	c.ValidUntil = validUntil
	return &c, nil
}

// ListCodes returns all active coupon codes.
func (r *CouponRepository) ListCodes(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT code FROM coupons WHERE active`)
	if err != nil {
		return nil, errors.Wrap(err, "list coupon codes")
	}
	defer rows.Close()

	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, errors.Wrap(err, "scan coupon code")
		}
		codes = append(codes, code)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate coupon codes")
	}
	return codes, nil
}

// Upsert inserts or replaces a coupon definition. Used by the seed and
// ingest tools.
func (r *CouponRepository) Upsert(ctx context.Context, c coupon.Coupon, active bool) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO coupons (code, kind, value, min_subtotal, description, valid_from, valid_until, active)
		VALUES (UPPER($1), $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (code) DO UPDATE SET
			kind = EXCLUDED.kind,
			value = EXCLUDED.value,
			min_subtotal = EXCLUDED.min_subtotal,
			description = EXCLUDED.description,
			valid_from = EXCLUDED.valid_from,
			valid_until = EXCLUDED.valid_until,
			active = EXCLUDED.active`,
		c.Code, string(c.Kind), c.Value, c.MinSubtotal, c.Description, c.ValidFrom, c.ValidUntil, active)
	if err != nil {
		return errors.Wrapf(err, "upsert coupon %q", c.Code)
	}
	return nil
}
