package cache

import (
	"context"
	"time"
)

// KV is the subset of key/value operations the sandbox service relies on.
type KV interface {
	Ping(ctx context.Context) error
	Close() error

	// Get returns "" and a nil error when the key does not exist.
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}
