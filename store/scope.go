package store

import (
	"context"
	"time"
)

// Scope is the namespaced view of a Backend handed to one plugin instance.
// Every key passes through the scope's prefix, so a plugin cannot construct
// a key outside its own (room, plugin) partition. Writes are tracked in an
// index set so Cleanup deletes exactly the keys this scope owns.
type Scope struct {
	backend Backend
	prefix  string
	index   string
}

// NewScope creates a scope partitioned to the given room and owner name.
func NewScope(b Backend, roomID, owner string) *Scope {
	prefix := "room:" + roomID + ":plugin:" + owner + ":"
	return &Scope{
		backend: b,
		prefix:  prefix,
		index:   prefix + "__keys",
	}
}

func (s *Scope) key(k string) string { return s.prefix + k }

// track records a key in the owned-key index. Index write failures are
// swallowed: losing an index entry only weakens Cleanup, it must not fail
// the caller's write.
func (s *Scope) track(ctx context.Context, full string) {
	_ = s.backend.SAdd(ctx, s.index, full)
}

func (s *Scope) Get(ctx context.Context, k string) (string, error) {
	return s.backend.Get(ctx, s.key(k))
}

func (s *Scope) Set(ctx context.Context, k, value string, ttl time.Duration) error {
	full := s.key(k)
	if err := s.backend.Set(ctx, full, value, ttl); err != nil {
		return err
	}
	s.track(ctx, full)
	return nil
}

func (s *Scope) Incr(ctx context.Context, k string) (int64, error) {
	full := s.key(k)
	n, err := s.backend.Incr(ctx, full)
	if err == nil {
		s.track(ctx, full)
	}
	return n, err
}

func (s *Scope) Decr(ctx context.Context, k string) (int64, error) {
	full := s.key(k)
	n, err := s.backend.Decr(ctx, full)
	if err == nil {
		s.track(ctx, full)
	}
	return n, err
}

func (s *Scope) Del(ctx context.Context, keys ...string) error {
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = s.key(k)
	}
	if err := s.backend.Del(ctx, full...); err != nil {
		return err
	}
	_ = s.backend.SRem(ctx, s.index, full...)
	return nil
}

func (s *Scope) Exists(ctx context.Context, k string) (bool, error) {
	return s.backend.Exists(ctx, s.key(k))
}

func (s *Scope) MGet(ctx context.Context, keys ...string) (map[string]string, error) {
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = s.key(k)
	}
	raw, err := s.backend.MGet(ctx, full...)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(raw))
	for fk, v := range raw {
		out[fk[len(s.prefix):]] = v
	}
	return out, nil
}

func (s *Scope) ZAdd(ctx context.Context, k string, score float64, member string) error {
	full := s.key(k)
	if err := s.backend.ZAdd(ctx, full, score, member); err != nil {
		return err
	}
	s.track(ctx, full)
	return nil
}

func (s *Scope) ZRem(ctx context.Context, k, member string) error {
	return s.backend.ZRem(ctx, s.key(k), member)
}

func (s *Scope) ZScore(ctx context.Context, k, member string) (float64, error) {
	return s.backend.ZScore(ctx, s.key(k), member)
}

func (s *Scope) ZRank(ctx context.Context, k, member string) (int64, error) {
	return s.backend.ZRank(ctx, s.key(k), member)
}

func (s *Scope) ZRevRank(ctx context.Context, k, member string) (int64, error) {
	return s.backend.ZRevRank(ctx, s.key(k), member)
}

func (s *Scope) ZRangeByScore(ctx context.Context, k string, min, max float64) ([]Member, error) {
	return s.backend.ZRangeByScore(ctx, s.key(k), min, max)
}

func (s *Scope) ZIncrBy(ctx context.Context, k string, delta float64, member string) (float64, error) {
	full := s.key(k)
	v, err := s.backend.ZIncrBy(ctx, full, delta, member)
	if err == nil {
		s.track(ctx, full)
	}
	return v, err
}

func (s *Scope) ZRemRangeByScore(ctx context.Context, k string, min, max float64) (int64, error) {
	return s.backend.ZRemRangeByScore(ctx, s.key(k), min, max)
}

// Cleanup deletes every key this scope ever wrote, then the index itself.
// Safe to call repeatedly.
func (s *Scope) Cleanup(ctx context.Context) error {
	owned, err := s.backend.SMembers(ctx, s.index)
	if err != nil {
		return err
	}
	if len(owned) > 0 {
		if err := s.backend.Del(ctx, owned...); err != nil {
			return err
		}
	}
	return s.backend.Del(ctx, s.index)
}
