package cacher

import (
	"context"
	"time"
)

// Backend is the narrow three-op contract concrete cache stores
// implement; the coordination logic in Cacher never touches a backend
// directly except through these calls.
type Backend interface {
	// GetImpl fetches key from the backend. Exactly one of
	// done(tile, nil) or done(nil, err) must be called, once, from any
	// goroutine.
	GetImpl(ctx context.Context, key string, done func(*CachedTile, error))
	// SetImpl writes key asynchronously; errors are logged by the
	// backend itself (the coordination layer does not retry sets).
	SetImpl(ctx context.Context, key string, tile *CachedTile, expire time.Duration)
	// TouchImpl refreshes key's TTL without altering its value.
	TouchImpl(ctx context.Context, key string, expire time.Duration)
}
