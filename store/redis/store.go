// Package redis implements store.Backend on Redis. Plain keys map to Redis
// strings, sorted-set operations map 1:1 onto Redis ZSETs, and the Scope
// owned-key index uses Redis Sets.
//
// Usage:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	backend := redisstore.New(client)
package redis

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/turntide/turntide/store"
)

// Compile-time interface check.
var _ store.Backend = (*Store)(nil)

// Store implements store.Backend backed by Redis.
type Store struct {
	client redis.Cmdable
}

// New creates a Redis-backed store. The caller owns the client lifecycle.
func New(client redis.Cmdable) *Store {
	return &Store{client: client}
}

// Client returns the underlying Redis client.
func (s *Store) Client() redis.Cmdable { return s.client }

// Ping verifies the Redis connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	v, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", store.ErrNotFound
	}
	return v, err
}

func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, ttl).Err()
}

func (s *Store) Incr(ctx context.Context, key string) (int64, error) {
	return s.client.Incr(ctx, key).Result()
}

func (s *Store) Decr(ctx context.Context, key string) (int64, error) {
	return s.client.Decr(ctx, key).Result()
}

func (s *Store) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.client.Del(ctx, keys...).Err()
}

func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, key).Result()
	return n > 0, err
}

func (s *Store) MGet(ctx context.Context, keys ...string) (map[string]string, error) {
	if len(keys) == 0 {
		return map[string]string{}, nil
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(keys))
	for i, v := range vals {
		if v == nil {
			continue
		}
		if sv, ok := v.(string); ok {
			out[keys[i]] = sv
		}
	}
	return out, nil
}

func (s *Store) ZAdd(ctx context.Context, key string, score float64, member string) error {
	return s.client.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err()
}

func (s *Store) ZRem(ctx context.Context, key, member string) error {
	return s.client.ZRem(ctx, key, member).Err()
}

func (s *Store) ZScore(ctx context.Context, key, member string) (float64, error) {
	v, err := s.client.ZScore(ctx, key, member).Result()
	if errors.Is(err, redis.Nil) {
		return 0, store.ErrNotFound
	}
	return v, err
}

func (s *Store) ZRank(ctx context.Context, key, member string) (int64, error) {
	v, err := s.client.ZRank(ctx, key, member).Result()
	if errors.Is(err, redis.Nil) {
		return 0, store.ErrNotFound
	}
	return v, err
}

func (s *Store) ZRevRank(ctx context.Context, key, member string) (int64, error) {
	v, err := s.client.ZRevRank(ctx, key, member).Result()
	if errors.Is(err, redis.Nil) {
		return 0, store.ErrNotFound
	}
	return v, err
}

func (s *Store) ZRangeByScore(ctx context.Context, key string, min, max float64) ([]store.Member, error) {
	zs, err := s.client.ZRangeByScoreWithScores(ctx, key, &redis.ZRangeBy{
		Min: formatScore(min),
		Max: formatScore(max),
	}).Result()
	if err != nil {
		return nil, err
	}
	out := make([]store.Member, 0, len(zs))
	for _, z := range zs {
		m, _ := z.Member.(string)
		out = append(out, store.Member{Member: m, Score: z.Score})
	}
	return out, nil
}

func (s *Store) ZIncrBy(ctx context.Context, key string, delta float64, member string) (float64, error) {
	return s.client.ZIncrBy(ctx, key, delta, member).Result()
}

func (s *Store) ZRemRangeByScore(ctx context.Context, key string, min, max float64) (int64, error) {
	return s.client.ZRemRangeByScore(ctx, key, formatScore(min), formatScore(max)).Result()
}

func (s *Store) SAdd(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return s.client.SAdd(ctx, key, args...).Err()
}

func (s *Store) SRem(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return s.client.SRem(ctx, key, args...).Err()
}

func (s *Store) SMembers(ctx context.Context, key string) ([]string, error) {
	return s.client.SMembers(ctx, key).Result()
}

func formatScore(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
