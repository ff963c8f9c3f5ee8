package auth

import (
	"context"

	"github.com/go-faster/errors"
)

// ErrNotFound is returned when no API key matches the given hash.
var ErrNotFound = errors.New("api key not found")

// APIKey is a stored API key record. Only the HMAC-SHA256 hash of the key
// is persisted, never the key itself.
type APIKey struct {
	KeyHash string
	Name    string
}

// Repository defines lookup of API keys by hash.
type Repository interface {
	FindByHash(ctx context.Context, hash string) (*APIKey, error)
}
