package plugin

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/turntide/turntide/room"
	"github.com/turntide/turntide/store"
)

// Host is the capability API plugins call back into. The engine implements
// it; tests substitute stubs.
type Host interface {
	// Read-only queries.
	Room(ctx context.Context, roomID string) (*room.Room, error)
	NowPlaying(ctx context.Context, roomID string) (*room.QueueItem, error)
	Users(ctx context.Context, roomID string) ([]room.User, error)
	UsersByID(ctx context.Context, roomID string, ids []string) ([]room.User, error)
	Queue(ctx context.Context, roomID string) ([]room.QueueItem, error)
	Reactions(ctx context.Context, roomID string) (map[string][]string, error)

	// Mutating actions.
	SkipTrack(ctx context.Context, roomID, trackID string) error
	SendSystemMessage(ctx context.Context, roomID, text string, meta map[string]any) error
	UpdatePlaylistTrack(ctx context.Context, roomID string, item room.QueueItem) error
	PluginConfig(ctx context.Context, roomID, name string) (map[string]any, error)
	SetPluginConfig(ctx context.Context, roomID, name string, cfg map[string]any) error

	// Client effects, delivered on the realtime channel only.
	QueueSoundEffect(roomID, url string, volume float64)
	QueueScreenEffect(roomID, effect string, durationMs int64)
}

// Context is the per-instance handle a plugin receives at registration.
// It is owned exclusively by one instance and discarded at cleanup.
type Context struct {
	roomID     string
	pluginName string
	host       Host
	store      *store.Scope
	timers     *Timers
	emit       func(eventName string, payload any)
}

// RoomID returns the id of the room this instance serves.
func (c *Context) RoomID() string { return c.roomID }

// Host returns the capability API.
func (c *Context) Host() Host { return c.host }

// Store returns the storage scope partitioned to this (room, plugin).
func (c *Context) Store() *store.Scope { return c.store }

// Timers returns this instance's timer set.
func (c *Context) Timers() *Timers { return c.timers }

// Emit sends a plugin-defined custom event to the realtime channel only,
// namespaced as plugin:<name>:<eventName>.
func (c *Context) Emit(eventName string, payload any) {
	if c.emit != nil {
		c.emit(eventName, payload)
	}
}

// Config returns this plugin's effective config for the room.
func (c *Context) Config(ctx context.Context) (map[string]any, error) {
	return c.host.PluginConfig(ctx, c.roomID, c.pluginName)
}

// DecodeConfig converts a JSON-shaped config map into a typed struct via a
// JSON round trip.
func DecodeConfig(m map[string]any, out any) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}
