package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront-cart/internal/domain/auth"
)

var _ auth.Repository = (*APIKeyRepository)(nil)

// APIKeyRepository implements auth.Repository backed by PostgreSQL.
type APIKeyRepository struct {
	pool *pgxpool.Pool
}

// NewAPIKeyRepository returns an APIKeyRepository that uses the given pool.
func NewAPIKeyRepository(pool *pgxpool.Pool) *APIKeyRepository {
	return &APIKeyRepository{pool: pool}
}

// FindByHash looks up an API key record by its HMAC hash. Returns
// auth.ErrNotFound when no matching key exists.
func (r *APIKeyRepository) FindByHash(ctx context.Context, hash string) (*auth.APIKey, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT key_hash, name FROM api_keys WHERE key_hash = $1`, hash)

	var key auth.APIKey
	if err := row.Scan(&key.KeyHash, &key.Name); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, auth.ErrNotFound
		}
		return nil, errors.Wrap(err, "find api key")
	}
	return &key, nil
}

// Insert stores a new API key hash. Used by the seed tool.
func (r *APIKeyRepository) Insert(ctx context.Context, key auth.APIKey) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO api_keys (key_hash, name)
		VALUES ($1, $2)
		ON CONFLICT (key_hash) DO NOTHING`,
		key.KeyHash, key.Name)
	if err != nil {
		return errors.Wrap(err, "insert api key")
	}
	return nil
}
