// Package kv is a small key-value store with expiry, used for one-time OAuth
// state and as the cache dependency probed by the health check.
package kv

import (
	"context"
	"time"
)

// Store returns common.ErrorNotFound for absent or expired keys.
type Store interface {
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	// Take returns the value and deletes the key in one step.
	Take(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	Close() error
}
