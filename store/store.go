// Package store defines the key/value + sorted-set contract plugins use for
// durable state, and the Scope wrapper that partitions the keyspace per
// (room, plugin).
//
// Plugins never see a Backend. They receive a Scope, which owns key
// prefixing and tracks every key it writes so Cleanup can remove exactly
// the keys the scope owns.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key or sorted-set member does not exist.
// Callers on non-critical paths treat it as "no value".
var ErrNotFound = errors.New("store: not found")

// Member is a sorted-set member with its score.
type Member struct {
	Member string
	Score  float64
}

// Backend is the full keyspace contract a storage engine must provide.
// Implementations: memory.Store, redis.Store.
type Backend interface {
	// Get returns the value for key, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)

	// Set stores value under key. A zero ttl means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Incr / Decr adjust an integer value, creating it at 0 first.
	Incr(ctx context.Context, key string) (int64, error)
	Decr(ctx context.Context, key string) (int64, error)

	// Del removes keys. Missing keys are not an error.
	Del(ctx context.Context, keys ...string) error

	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)

	// MGet returns the present subset of keys mapped to their values.
	MGet(ctx context.Context, keys ...string) (map[string]string, error)

	// Sorted-set operations.
	ZAdd(ctx context.Context, key string, score float64, member string) error
	ZRem(ctx context.Context, key, member string) error
	ZScore(ctx context.Context, key, member string) (float64, error)
	ZRank(ctx context.Context, key, member string) (int64, error)
	ZRevRank(ctx context.Context, key, member string) (int64, error)
	ZRangeByScore(ctx context.Context, key string, min, max float64) ([]Member, error)
	ZIncrBy(ctx context.Context, key string, delta float64, member string) (float64, error)
	ZRemRangeByScore(ctx context.Context, key string, min, max float64) (int64, error)

	// Set operations, used by Scope to index owned keys.
	SAdd(ctx context.Context, key string, members ...string) error
	SRem(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)
}
