// Package memory implements store.Backend with in-process maps. Intended
// for tests and single-node deployments without Redis.
package memory

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/turntide/turntide/store"
)

// Compile-time interface check.
var _ store.Backend = (*Store)(nil)

type entry struct {
	value     string
	expiresAt time.Time // zero = no expiry
}

// Store is an in-memory store.Backend. Safe for concurrent use.
// Expired keys are reaped lazily on access.
type Store struct {
	mu    sync.Mutex
	now   func() time.Time
	kv    map[string]entry
	zsets map[string]map[string]float64
	sets  map[string]map[string]struct{}
}

// Option configures the Store.
type Option func(*Store)

// WithNow overrides the time source, letting tests control TTL expiry.
func WithNow(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates an empty in-memory store.
func New(opts ...Option) *Store {
	s := &Store{
		now:   func() time.Time { return time.Now().UTC() },
		kv:    make(map[string]entry),
		zsets: make(map[string]map[string]float64),
		sets:  make(map[string]map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// live returns the entry for key if present and unexpired.
// Caller holds the lock.
func (s *Store) live(key string) (entry, bool) {
	e, ok := s.kv[key]
	if !ok {
		return entry{}, false
	}
	if !e.expiresAt.IsZero() && !s.now().Before(e.expiresAt) {
		delete(s.kv, key)
		return entry{}, false
	}
	return e, true
}

func (s *Store) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.live(key)
	if !ok {
		return "", store.ErrNotFound
	}
	return e.value, nil
}

func (s *Store) Set(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := entry{value: value}
	if ttl > 0 {
		e.expiresAt = s.now().Add(ttl)
	}
	s.kv[key] = e
	return nil
}

func (s *Store) Incr(_ context.Context, key string) (int64, error) {
	return s.add(key, 1)
}

func (s *Store) Decr(_ context.Context, key string) (int64, error) {
	return s.add(key, -1)
}

func (s *Store) add(key string, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	if e, ok := s.live(key); ok {
		parsed, err := strconv.ParseInt(e.value, 10, 64)
		if err != nil {
			return 0, err
		}
		n = parsed
	}
	n += delta
	e := s.kv[key]
	e.value = strconv.FormatInt(n, 10)
	s.kv[key] = e
	return n, nil
}

func (s *Store) Del(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.kv, k)
		delete(s.zsets, k)
		delete(s.sets, k)
	}
	return nil
}

func (s *Store) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.live(key); ok {
		return true, nil
	}
	_, zok := s.zsets[key]
	_, sok := s.sets[key]
	return zok || sok, nil
}

func (s *Store) MGet(_ context.Context, keys ...string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string)
	for _, k := range keys {
		if e, ok := s.live(k); ok {
			out[k] = e.value
		}
	}
	return out, nil
}

func (s *Store) ZAdd(_ context.Context, key string, score float64, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	z, ok := s.zsets[key]
	if !ok {
		z = make(map[string]float64)
		s.zsets[key] = z
	}
	z[member] = score
	return nil
}

func (s *Store) ZRem(_ context.Context, key, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if z, ok := s.zsets[key]; ok {
		delete(z, member)
		if len(z) == 0 {
			delete(s.zsets, key)
		}
	}
	return nil
}

func (s *Store) ZScore(_ context.Context, key, member string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if z, ok := s.zsets[key]; ok {
		if score, ok := z[member]; ok {
			return score, nil
		}
	}
	return 0, store.ErrNotFound
}

// ranked returns the members of key ordered by (score, member).
// Caller holds the lock.
func (s *Store) ranked(key string) []store.Member {
	z, ok := s.zsets[key]
	if !ok {
		return nil
	}
	out := make([]store.Member, 0, len(z))
	for m, score := range z {
		out = append(out, store.Member{Member: m, Score: score})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score < out[j].Score
		}
		return out[i].Member < out[j].Member
	})
	return out
}

func (s *Store) ZRank(_ context.Context, key, member string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, m := range s.ranked(key) {
		if m.Member == member {
			return int64(i), nil
		}
	}
	return 0, store.ErrNotFound
}

func (s *Store) ZRevRank(_ context.Context, key, member string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ranked := s.ranked(key)
	for i, m := range ranked {
		if m.Member == member {
			return int64(len(ranked) - 1 - i), nil
		}
	}
	return 0, store.ErrNotFound
}

func (s *Store) ZRangeByScore(_ context.Context, key string, min, max float64) ([]store.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.Member
	for _, m := range s.ranked(key) {
		if m.Score >= min && m.Score <= max {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *Store) ZIncrBy(_ context.Context, key string, delta float64, member string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	z, ok := s.zsets[key]
	if !ok {
		z = make(map[string]float64)
		s.zsets[key] = z
	}
	z[member] += delta
	return z[member], nil
}

func (s *Store) ZRemRangeByScore(_ context.Context, key string, min, max float64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	z, ok := s.zsets[key]
	if !ok {
		return 0, nil
	}
	var removed int64
	for m, score := range z {
		if score >= min && score <= max {
			delete(z, m)
			removed++
		}
	}
	if len(z) == 0 {
		delete(s.zsets, key)
	}
	return removed, nil
}

func (s *Store) SAdd(_ context.Context, key string, members ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.sets[key]
	if !ok {
		set = make(map[string]struct{})
		s.sets[key] = set
	}
	for _, m := range members {
		set[m] = struct{}{}
	}
	return nil
}

func (s *Store) SRem(_ context.Context, key string, members ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if set, ok := s.sets[key]; ok {
		for _, m := range members {
			delete(set, m)
		}
		if len(set) == 0 {
			delete(s.sets, key)
		}
	}
	return nil
}

func (s *Store) SMembers(_ context.Context, key string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.sets[key]
	if !ok {
		return nil, nil
	}
	out := make([]string, 0, len(set))
	for m := range set {
		out = append(out, m)
	}
	sort.Strings(out)
	return out, nil
}
