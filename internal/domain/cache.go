package domain

import (
	"context"
	"time"
)

// Cache is the shared key/value store behind dedup markers, sessions and the
// channel config cache. Implementations must be safe for use from several
// processes at once.
type Cache interface {
	// Get returns the stored value and whether it exists and is unexpired.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set stores value with the given time to live, replacing any prior value.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// SetNX stores value only if key is absent or expired. It reports whether
	// the value was stored.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
	Close() error
}
