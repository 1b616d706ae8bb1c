// Package queueguard keeps room queues fair: it blocks back-to-back
// additions by the same DJ and applies a cooldown that scales with how
// busy the room is.
package queueguard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/turntide/turntide/clock"
	"github.com/turntide/turntide/event"
	"github.com/turntide/turntide/plugin"
	"github.com/turntide/turntide/store"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin                    = (*Extension)(nil)
	_ plugin.QueueValidator            = (*Extension)(nil)
	_ plugin.PlaylistTrackAddedHandler = (*Extension)(nil)
)

// PluginName is the registry name of this plugin.
const PluginName = "queue-guard"

const (
	// djThreshold is the DJ count at which the DJ ratio saturates.
	djThreshold = 10
	// queueThreshold is the queue length at which the queue ratio saturates.
	queueThreshold = 15
	// freshWindow bounds how old a queue item may be and still refresh its
	// adder's cooldown timestamp. Stale items replayed through the bus must
	// not resurrect expired cooldowns.
	freshWindow = time.Minute
)

// Config controls the fairness policy. All durations are milliseconds to
// stay JSON-shaped.
type Config struct {
	Enabled                 bool  `json:"enabled"`
	ExemptAdmins            bool  `json:"exemptAdmins"`
	PreventConsecutive      bool  `json:"preventConsecutive"`
	RateLimitEnabled        bool  `json:"rateLimitEnabled"`
	BaseCooldownMs          int64 `json:"baseCooldownMs"`
	MaxCooldownMs           int64 `json:"maxCooldownMs"`
	CooldownScalesWithDJs   bool  `json:"cooldownScalesWithDjs"`
	CooldownScalesWithQueue bool  `json:"cooldownScalesWithQueue"`
}

// DefaultConfig returns the stock policy: consecutive prevention with a
// 30s–180s scaled cooldown.
func DefaultConfig() Config {
	return Config{
		Enabled:                 true,
		ExemptAdmins:            true,
		PreventConsecutive:      true,
		RateLimitEnabled:        true,
		BaseCooldownMs:          30000,
		MaxCooldownMs:           180000,
		CooldownScalesWithDJs:   true,
		CooldownScalesWithQueue: true,
	}
}

const schema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "title": "Queue Guard",
  "type": "object",
  "properties": {
    "enabled": {"type": "boolean", "title": "Enabled"},
    "exemptAdmins": {"type": "boolean", "title": "Exempt admins"},
    "preventConsecutive": {"type": "boolean", "title": "Prevent consecutive adds"},
    "rateLimitEnabled": {"type": "boolean", "title": "Cooldown between adds"},
    "baseCooldownMs": {"type": "integer", "minimum": 0, "title": "Base cooldown (ms)"},
    "maxCooldownMs": {"type": "integer", "minimum": 0, "title": "Max cooldown (ms)"},
    "cooldownScalesWithDjs": {"type": "boolean", "title": "Scale cooldown with DJ count"},
    "cooldownScalesWithQueue": {"type": "boolean", "title": "Scale cooldown with queue length"}
  },
  "additionalProperties": false
}`

// Descriptor returns the registry descriptor for this plugin.
func Descriptor(opts ...Option) plugin.Descriptor {
	return plugin.Descriptor{
		Name:   PluginName,
		Schema: schema,
		New:    func() plugin.Plugin { return New(opts...) },
	}
}

// Option configures the Extension.
type Option func(*Extension)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Extension) { e.logger = l }
}

// WithClock sets the time source, letting tests control cooldown math.
func WithClock(clk clock.Clock) Option {
	return func(e *Extension) { e.clk = clk }
}

// Extension is the per-room fairness policy instance.
type Extension struct {
	plugin.Base
	clk    clock.Clock
	logger *slog.Logger
}

// New creates an unregistered instance.
func New(opts ...Option) *Extension {
	e := &Extension{
		clk:    clock.NewSystem(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return PluginName }

// DefaultConfig implements plugin.Plugin.
func (e *Extension) DefaultConfig() map[string]any {
	return map[string]any{
		"enabled":                 true,
		"exemptAdmins":            true,
		"preventConsecutive":      true,
		"rateLimitEnabled":        true,
		"baseCooldownMs":          int64(30000),
		"maxCooldownMs":           int64(180000),
		"cooldownScalesWithDjs":   true,
		"cooldownScalesWithQueue": true,
	}
}

// config returns the effective config, falling back to defaults when the
// room has no stored value or the read fails.
func (e *Extension) config(ctx context.Context) Config {
	cfg := DefaultConfig()
	m, err := e.Config(ctx)
	if err != nil || m == nil {
		return cfg
	}
	if err := plugin.DecodeConfig(m, &cfg); err != nil {
		e.logger.Warn("queue guard config decode error",
			slog.String("error", err.Error()),
		)
		return DefaultConfig()
	}
	return cfg
}

func lastQueueKey(userID string) string { return "lastQueue:" + userID }

// ValidateQueueRequest implements plugin.QueueValidator. It is read-only:
// the decision is computed from current room state without a transactional
// guard, so two near-simultaneous requests may both pass on slightly stale
// counts. That approximate fairness is accepted.
func (e *Extension) ValidateQueueRequest(ctx context.Context, req plugin.QueueRequest) plugin.Decision {
	cfg := e.config(ctx)
	if !cfg.Enabled {
		return plugin.Allow()
	}

	host := e.Host()
	if host == nil {
		return plugin.Allow()
	}
	rm, err := host.Room(ctx, req.RoomID)
	if err != nil {
		// Fail open: fairness is a courtesy, not an access control.
		e.logger.Warn("queue guard room read error",
			slog.String("room_id", req.RoomID),
			slog.String("error", err.Error()),
		)
		return plugin.Allow()
	}

	if cfg.ExemptAdmins {
		if u, ok := rm.User(req.UserID); ok && u.IsAdmin() {
			return plugin.Allow()
		}
	}
	if !cfg.PreventConsecutive {
		return plugin.Allow()
	}

	last := rm.LastQueued()
	if last == nil || last.AddedBy != req.UserID {
		return plugin.Allow()
	}

	// Same user queued the most recent track.
	if !cfg.RateLimitEnabled {
		return plugin.Deny("Wait for another DJ to add a song")
	}

	cooldown := Cooldown(cfg, rm.EligibleDJCount(), len(rm.Queue))

	lastMs, ok := e.lastQueuedAt(ctx, req.UserID)
	if !ok {
		return plugin.Allow()
	}
	elapsed := e.clk.Now().UnixMilli() - lastMs
	if elapsed >= cooldown.Milliseconds() {
		return plugin.Allow()
	}
	remaining := (cooldown - time.Duration(elapsed)*time.Millisecond).Round(time.Second)
	return plugin.Deny(fmt.Sprintf("Wait %s for another DJ to add a song", remaining))
}

// Cooldown computes the dynamic cooldown for the given room load. With no
// scaling terms enabled the base cooldown applies unchanged.
func Cooldown(cfg Config, djCount, queueLen int) time.Duration {
	var combined float64
	var terms int
	if cfg.CooldownScalesWithDJs {
		combined += ratio(djCount, djThreshold)
		terms++
	}
	if cfg.CooldownScalesWithQueue {
		combined += ratio(queueLen, queueThreshold)
		terms++
	}
	if terms > 0 {
		combined /= float64(terms)
	}
	ms := float64(cfg.BaseCooldownMs) + float64(cfg.MaxCooldownMs-cfg.BaseCooldownMs)*combined
	return time.Duration(ms) * time.Millisecond
}

func ratio(x, threshold int) float64 {
	r := float64(x) / float64(threshold)
	if r > 1 {
		return 1
	}
	return r
}

// lastQueuedAt reads the user's last-queue timestamp. A failed read counts
// as no value.
func (e *Extension) lastQueuedAt(ctx context.Context, userID string) (int64, bool) {
	c := e.Context()
	if c == nil {
		return 0, false
	}
	raw, err := c.Store().Get(ctx, lastQueueKey(userID))
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			e.logger.Warn("queue guard timestamp read error",
				slog.String("error", err.Error()),
			)
		}
		return 0, false
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return ms, true
}

// OnPlaylistTrackAdded refreshes the adder's cooldown timestamp. Items
// older than the freshness window are ignored so replayed or backfilled
// queue events cannot resurrect an expired cooldown.
func (e *Extension) OnPlaylistTrackAdded(ctx context.Context, evt *event.PlaylistTrackAdded) error {
	if evt.Item.AddedBy == "" {
		return nil
	}
	c := e.Context()
	if c == nil {
		return nil
	}
	addedAt := evt.Item.AddedAt
	if e.clk.Now().Sub(addedAt) > freshWindow {
		return nil
	}

	cfg := e.config(ctx)
	ttl := time.Duration(cfg.MaxCooldownMs) * time.Millisecond
	if ttl < time.Duration(cfg.BaseCooldownMs)*time.Millisecond {
		ttl = time.Duration(cfg.BaseCooldownMs) * time.Millisecond
	}
	value := strconv.FormatInt(addedAt.UnixMilli(), 10)
	if err := c.Store().Set(ctx, lastQueueKey(evt.Item.AddedBy), value, ttl); err != nil {
		// Non-critical path: a missed refresh only shortens one cooldown.
		e.logger.Warn("queue guard timestamp write error",
			slog.String("room_id", evt.RoomID),
			slog.String("error", err.Error()),
		)
	}
	return nil
}
