// Package absentdj skips tracks whose adder has left the room. When a
// track starts playing and its adder is not present, a countdown starts;
// if the adder does not return before it expires, the track is skipped
// and the room is told why.
package absentdj

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/turntide/turntide/event"
	"github.com/turntide/turntide/plugin"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin               = (*Extension)(nil)
	_ plugin.TrackChangedHandler  = (*Extension)(nil)
	_ plugin.UserJoinedHandler    = (*Extension)(nil)
	_ plugin.ConfigChangedHandler = (*Extension)(nil)
	_ plugin.ComponentStater      = (*Extension)(nil)
)

// PluginName is the registry name of this plugin.
const PluginName = "absent-dj"

// timerID names the single countdown this plugin runs. Starting a new
// countdown supersedes the previous one.
const timerID = "absent-skip"

// timerData travels with the countdown so the fire path does not depend
// on room state that may have changed underneath it.
type timerData struct {
	TrackID  string
	Username string
	Title    string
}

// Config controls the absent-DJ policy.
type Config struct {
	Enabled           bool    `json:"enabled"`
	SkipDelayMs       int64   `json:"skipDelayMs"`
	AnnounceOnPlay    bool    `json:"announceOnPlay"`
	PlayingMessage    string  `json:"playingMessage"`
	SkippedMessage    string  `json:"skippedMessage"`
	EnabledMessage    string  `json:"enabledMessage"`
	DisabledMessage   string  `json:"disabledMessage"`
	SoundEffectURL    string  `json:"soundEffectUrl"`
	SoundEffectVolume float64 `json:"soundEffectVolume"`
}

// DefaultConfig returns the stock policy: a 30s grace period with
// announcements on.
func DefaultConfig() Config {
	return Config{
		Enabled:           true,
		SkipDelayMs:       30000,
		AnnounceOnPlay:    true,
		PlayingMessage:    "{username} isn't here. Their track will be skipped soon unless they return",
		SkippedMessage:    "Skipped {title} because {username} wasn't around",
		EnabledMessage:    "Absent DJ skip is now on",
		DisabledMessage:   "Absent DJ skip is now off",
		SoundEffectURL:    "",
		SoundEffectVolume: 0.5,
	}
}

const schema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "title": "Absent DJ",
  "type": "object",
  "properties": {
    "enabled": {"type": "boolean", "title": "Enabled"},
    "skipDelayMs": {"type": "integer", "minimum": 1000, "title": "Skip delay (ms)"},
    "announceOnPlay": {"type": "boolean", "title": "Announce countdown"},
    "playingMessage": {"type": "string", "title": "Countdown message"},
    "skippedMessage": {"type": "string", "title": "Skip message"},
    "enabledMessage": {"type": "string", "title": "Enable message"},
    "disabledMessage": {"type": "string", "title": "Disable message"},
    "soundEffectUrl": {"type": "string", "title": "Skip sound effect URL"},
    "soundEffectVolume": {"type": "number", "minimum": 0, "maximum": 1, "title": "Sound effect volume"}
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

// Extension is the per-room absent-DJ policy instance.
type Extension struct {
	plugin.Base
	logger *slog.Logger

	mu      sync.Mutex
	skipped bool
}

// New creates an unregistered instance.
func New(opts ...Option) *Extension {
	e := &Extension{logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return PluginName }

// DefaultConfig implements plugin.Plugin.
func (e *Extension) DefaultConfig() map[string]any {
	d := DefaultConfig()
	return map[string]any{
		"enabled":           d.Enabled,
		"skipDelayMs":       d.SkipDelayMs,
		"announceOnPlay":    d.AnnounceOnPlay,
		"playingMessage":    d.PlayingMessage,
		"skippedMessage":    d.SkippedMessage,
		"enabledMessage":    d.EnabledMessage,
		"disabledMessage":   d.DisabledMessage,
		"soundEffectUrl":    d.SoundEffectURL,
		"soundEffectVolume": d.SoundEffectVolume,
	}
}

func (e *Extension) config(ctx context.Context) Config {
	cfg := DefaultConfig()
	m, err := e.Config(ctx)
	if err != nil || m == nil {
		return cfg
	}
	if err := plugin.DecodeConfig(m, &cfg); err != nil {
		e.logger.Warn("absent dj config decode error",
			slog.String("error", err.Error()),
		)
		return DefaultConfig()
	}
	return cfg
}

func (e *Extension) setSkipped(v bool) {
	e.mu.Lock()
	e.skipped = v
	e.mu.Unlock()
}

func (e *Extension) isSkipped() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.skipped
}

// OnTrackChanged implements plugin.TrackChangedHandler. Each new track
// supersedes any countdown running for the previous one; at most one
// countdown is live at a time.
func (e *Extension) OnTrackChanged(ctx context.Context, evt *event.TrackChanged) error {
	timers := e.Timers()
	if timers == nil {
		return nil
	}
	timers.Clear(timerID)
	e.setSkipped(false)

	cfg := e.config(ctx)
	if !cfg.Enabled {
		return nil
	}
	return e.watch(ctx, cfg, evt.Item.AddedBy, evt.Item.Track.ID, evt.Item.Track.Title)
}

// watch starts a countdown for the current track if its adder is absent.
func (e *Extension) watch(ctx context.Context, cfg Config, adder, trackID, title string) error {
	if adder == "" {
		// Source-mirrored tracks have no adder and are never skipped.
		return nil
	}
	host := e.Host()
	if host == nil {
		return nil
	}
	rm, err := host.Room(ctx, e.RoomID())
	if err != nil {
		return err
	}
	if rm.HasUser(adder) {
		return nil
	}

	data := timerData{TrackID: trackID, Username: adder, Title: title}
	e.Timers().Start(timerID, time.Duration(cfg.SkipDelayMs)*time.Millisecond, data, e.fire)

	if cfg.AnnounceOnPlay && cfg.PlayingMessage != "" {
		text := interpolate(cfg.PlayingMessage, adder, title)
		if err := host.SendSystemMessage(ctx, e.RoomID(), text, meta()); err != nil {
			e.logger.Warn("absent dj announce error",
				slog.String("room_id", e.RoomID()),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

// fire runs when the countdown expires without the adder returning.
func (e *Extension) fire(data any) error {
	td, ok := data.(timerData)
	if !ok {
		return nil
	}
	host := e.Host()
	if host == nil {
		return nil
	}
	ctx := context.Background()
	roomID := e.RoomID()
	cfg := e.config(ctx)

	if err := host.SkipTrack(ctx, roomID, td.TrackID); err != nil {
		return err
	}
	e.setSkipped(true)

	if cfg.SkippedMessage != "" {
		text := interpolate(cfg.SkippedMessage, td.Username, td.Title)
		if err := host.SendSystemMessage(ctx, roomID, text, meta()); err != nil {
			e.logger.Warn("absent dj skip message error",
				slog.String("room_id", roomID),
				slog.String("error", err.Error()),
			)
		}
	}
	if cfg.SoundEffectURL != "" {
		host.QueueSoundEffect(roomID, cfg.SoundEffectURL, cfg.SoundEffectVolume)
	}
	return nil
}

// OnUserJoined implements plugin.UserJoinedHandler. The countdown is
// cancelled only when the joiner is the watched adder.
func (e *Extension) OnUserJoined(ctx context.Context, evt *event.UserJoined) error {
	timers := e.Timers()
	if timers == nil {
		return nil
	}
	info, ok := timers.Get(timerID)
	if !ok {
		return nil
	}
	td, ok := info.Data.(timerData)
	if !ok || td.Username != evt.User.ID {
		return nil
	}
	timers.Clear(timerID)
	return nil
}

// OnConfigChanged implements plugin.ConfigChangedHandler. Transitions of
// the enabled flag are announced and applied to the current track; other
// config edits take effect on the next track.
func (e *Extension) OnConfigChanged(ctx context.Context, evt *event.ConfigChanged) error {
	if evt.Plugin != PluginName {
		return nil
	}
	was := boolValue(evt.Previous, "enabled")
	now := boolValue(evt.Config, "enabled")
	if was == now {
		return nil
	}

	cfg := DefaultConfig()
	if err := plugin.DecodeConfig(evt.Config, &cfg); err != nil {
		e.logger.Warn("absent dj config decode error",
			slog.String("error", err.Error()),
		)
		cfg = DefaultConfig()
		cfg.Enabled = now
	}
	host := e.Host()
	if host == nil {
		return nil
	}

	if now {
		if cfg.EnabledMessage != "" {
			_ = host.SendSystemMessage(ctx, e.RoomID(), cfg.EnabledMessage, meta())
		}
		// Apply to the track already playing.
		np, err := host.NowPlaying(ctx, e.RoomID())
		if err != nil || np == nil {
			return err
		}
		return e.watch(ctx, cfg, np.AddedBy, np.Track.ID, np.Track.Title)
	}

	if e.Timers() != nil {
		e.Timers().Clear(timerID)
	}
	e.setSkipped(false)
	if cfg.DisabledMessage != "" {
		_ = host.SendSystemMessage(ctx, e.RoomID(), cfg.DisabledMessage, meta())
	}
	return nil
}

// ComponentState implements plugin.ComponentStater. The countdown start
// time is milliseconds since epoch, zero when no countdown is running.
func (e *Extension) ComponentState() map[string]any {
	state := map[string]any{
		"showCountdown":      false,
		"countdownStartTime": int64(0),
		"absentUsername":     "",
		"isSkipped":          e.isSkipped(),
	}
	timers := e.Timers()
	if timers == nil {
		return state
	}
	info, ok := timers.Get(timerID)
	if !ok {
		return state
	}
	state["showCountdown"] = true
	state["countdownStartTime"] = info.StartedAt.UnixMilli()
	if td, ok := info.Data.(timerData); ok {
		state["absentUsername"] = td.Username
	}
	return state
}

func interpolate(tmpl, username, title string) string {
	return strings.NewReplacer(
		"{username}", username,
		"{title}", title,
	).Replace(tmpl)
}

func meta() map[string]any {
	return map[string]any{"plugin": PluginName}
}

func boolValue(m map[string]any, key string) bool {
	if m == nil {
		return false
	}
	v, ok := m[key].(bool)
	return ok && v
}
