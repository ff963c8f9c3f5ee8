package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront-cart/internal/domain/cart"
)

// ErrStaleRevision is returned when a stored cart already carries a newer
// revision than the snapshot being written.
var ErrStaleRevision = errors.New("stored cart has a newer revision")

// CartRepository persists per-user cart snapshots.
type CartRepository struct {
	pool *pgxpool.Pool
}

// NewCartRepository returns a CartRepository that uses the given pool.
func NewCartRepository(pool *pgxpool.Pool) *CartRepository {
	return &CartRepository{pool: pool}
}

// Get returns the user's cart. An unknown user yields a valid empty cart.
func (r *CartRepository) Get(ctx context.Context, userID string) (cart.Cart, error) {
	var payload []byte
	err := r.pool.QueryRow(ctx,
		`SELECT payload FROM carts WHERE user_id = $1`, userID).Scan(&payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return cart.Empty(), nil
		}
		return cart.Cart{}, errors.Wrapf(err, "get cart for %q", userID)
	}

	c, err := cart.DecodeBytes(payload)
	if err != nil {
		return cart.Cart{}, errors.Wrapf(err, "decode cart for %q", userID)
	}
	return c, nil
}

// Replace stores the snapshot for the user, guarded by the revision
// counter: a snapshot older than the stored one is rejected with
// ErrStaleRevision so a slow writer can never clobber newer state.
func (r *CartRepository) Replace(ctx context.Context, userID string, c cart.Cart) error {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO carts (user_id, revision, payload, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (user_id) DO UPDATE SET
			revision = EXCLUDED.revision,
			payload = EXCLUDED.payload,
			updated_at = now()
		WHERE carts.revision <= EXCLUDED.revision`,
		userID, int64(c.Revision), cart.EncodeBytes(c))
	if err != nil {
		return errors.Wrapf(err, "replace cart for %q", userID)
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleRevision
	}
	return nil
}

// Delete removes the user's stored cart.
func (r *CartRepository) Delete(ctx context.Context, userID string) error {
	if _, err := r.pool.Exec(ctx,
		`DELETE FROM carts WHERE user_id = $1`, userID); err != nil {
		return errors.Wrapf(err, "delete cart for %q", userID)
	}
	return nil
}
