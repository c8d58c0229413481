// Package credcache holds verified client keys for a bounded time so the
// slow hash comparison runs once per token per TTL window.
package credcache

import (
	"context"
	"time"

	"github.com/router-for-me/AutoRouter/internal/models"
)

const (
	// DefaultTTL is how long a verified key stays cached.
	DefaultTTL = 5 * time.Minute
	// DefaultMaxEntries bounds the in-memory cache.
	DefaultMaxEntries = 10000
)

// Cache maps a raw presented token to the client key it resolved to.
// Implementations must be safe for concurrent use.
type Cache interface {
	// Get returns the cached key for token, or ok=false on miss or expiry.
	Get(ctx context.Context, token string) (key *models.ClientKey, ok bool, err error)
	// Set stores key under token for the cache TTL.
	Set(ctx context.Context, token string, key *models.ClientKey) error
	// Delete removes token from the cache.
	Delete(ctx context.Context, token string) error
	// DeleteKeyID removes every token that resolved to the given key id.
	DeleteKeyID(ctx context.Context, id uint64) error
	// Clear drops every entry.
	Clear(ctx context.Context) error
}
