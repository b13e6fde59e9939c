// Package kv is the key-value layer backing response caches, provider
// tokens, and the song catalog. Two backends exist: an embedded bbolt
// store with an in-memory front, and Redis for multi-instance setups.
package kv

import (
	"context"
	"time"
)

// Store is a string key-value store with optional per-key expiry.
// A ttl of zero means the key never expires.
type Store interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Dumper is implemented by backends that can enumerate their contents
// for the cache inspection endpoint.
type Dumper interface {
	Range(fn func(key, value string) bool)
	Stats() (numKeys int, sizeInKB int)
	Clear() error
}
