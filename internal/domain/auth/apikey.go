// Package auth holds the API key model used to authenticate seller dashboard
// requests. Keys are stored as HMAC-SHA256 hashes, never in the clear.
package auth

import (
	"context"

	"github.com/go-faster/errors"
)

// ErrUnauthorized is returned for unknown, revoked, or malformed API keys.
var ErrUnauthorized = errors.New("unauthorized")

// APIKeyInfo is the identity attached to a validated API key.
type APIKeyInfo struct {
	ID      string
	KeyHash string
	Name    string
	// StoreID binds the key to the store it may act for. Empty for platform
	// operator keys.
	StoreID string
	Scopes  []string
}

// Repository provides lookup of API keys by their HMAC-SHA256 hash.
type Repository interface {
	FindByHash(ctx context.Context, hash string) (*APIKeyInfo, error)
}
