package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"

	"github.com/turntide/turntide"
	"github.com/turntide/turntide/event"
	"github.com/turntide/turntide/room"
)

// The methods in this file, together with SkipTrack and
// UpdatePlaylistTrack, form the capability API plugins call back into.

// Room returns a read-safe copy of the room's state.
func (e *Engine) Room(ctx context.Context, roomID string) (*room.Room, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rm, ok := e.rooms[roomID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", turntide.ErrRoomNotFound, roomID)
	}
	return snapshot(rm), nil
}

// NowPlaying returns the room's current track, or nil when silent.
func (e *Engine) NowPlaying(ctx context.Context, roomID string) (*room.QueueItem, error) {
	rm, err := e.Room(ctx, roomID)
	if err != nil {
		return nil, err
	}
	return rm.NowPlaying, nil
}

// Users returns the room's occupants.
func (e *Engine) Users(ctx context.Context, roomID string) ([]room.User, error) {
	rm, err := e.Room(ctx, roomID)
	if err != nil {
		return nil, err
	}
	return rm.Users, nil
}

// UsersByID returns the occupants matching the given ids, in room order.
// Unknown ids are skipped.
func (e *Engine) UsersByID(ctx context.Context, roomID string, ids []string) ([]room.User, error) {
	rm, err := e.Room(ctx, roomID)
	if err != nil {
		return nil, err
	}
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	out := make([]room.User, 0, len(ids))
	for _, u := range rm.Users {
		if _, ok := want[u.ID]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}

// Queue returns the room's pending queue.
func (e *Engine) Queue(ctx context.Context, roomID string) ([]room.QueueItem, error) {
	rm, err := e.Room(ctx, roomID)
	if err != nil {
		return nil, err
	}
	return rm.Queue, nil
}

// Reactions returns the current track's reactions, keyed by reaction.
func (e *Engine) Reactions(ctx context.Context, roomID string) (map[string][]string, error) {
	rm, err := e.Room(ctx, roomID)
	if err != nil {
		return nil, err
	}
	return rm.Reactions, nil
}

// SendSystemMessage emits a message with no user attached. Plugins use it
// to narrate their actions; meta names the producing plugin.
func (e *Engine) SendSystemMessage(ctx context.Context, roomID, text string, meta map[string]any) error {
	return e.SendMessage(ctx, roomID, "", text, meta)
}

// PluginConfig returns a plugin's effective config for the room: the
// kind's defaults overlaid with the room's stored values.
func (e *Engine) PluginConfig(ctx context.Context, roomID, name string) (map[string]any, error) {
	defaults, ok := e.registry.DefaultConfig(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", turntide.ErrPluginNotFound, name)
	}

	e.mu.Lock()
	rm, ok := e.rooms[roomID]
	if !ok {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", turntide.ErrRoomNotFound, roomID)
	}
	stored := rm.PluginConfigs[name]
	e.mu.Unlock()

	merged := make(map[string]any, len(defaults)+len(stored))
	maps.Copy(merged, defaults)
	maps.Copy(merged, stored)
	return merged, nil
}

// SetPluginConfig validates and stores a plugin's room config, then emits
// the change with the prior effective config attached so plugins can
// detect transitions.
func (e *Engine) SetPluginConfig(ctx context.Context, roomID, name string, cfg map[string]any) error {
	if err := e.registry.ValidateConfig(name, cfg); err != nil {
		return err
	}
	previous, err := e.PluginConfig(ctx, roomID, name)
	if err != nil {
		return err
	}

	err = e.mutate(roomID, func(rm *room.Room) {
		if rm.PluginConfigs == nil {
			rm.PluginConfigs = make(map[string]map[string]any)
		}
		rm.PluginConfigs[name] = cfg
	})
	if err != nil {
		return err
	}

	effective, err := e.PluginConfig(ctx, roomID, name)
	if err != nil {
		return err
	}
	return e.bus.Emit(ctx, &event.ConfigChanged{
		RoomID:   roomID,
		Plugin:   name,
		Config:   effective,
		Previous: previous,
	})
}

// QueueSoundEffect pushes a play-sound effect to the room's realtime
// clients. Effects never reach the relay; each process serves its own
// clients.
func (e *Engine) QueueSoundEffect(roomID, url string, volume float64) {
	e.clientEffect(roomID, "effect:sound", map[string]any{
		"url":    url,
		"volume": volume,
	})
}

// QueueScreenEffect pushes a visual effect to the room's realtime clients.
func (e *Engine) QueueScreenEffect(roomID, effect string, durationMs int64) {
	e.clientEffect(roomID, "effect:screen", map[string]any{
		"effect":      effect,
		"duration_ms": durationMs,
	})
}

func (e *Engine) clientEffect(roomID, name string, payload map[string]any) {
	if e.notifier == nil {
		return
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		e.logger.Warn("client effect encode error",
			slog.String("effect", name),
			slog.String("error", err.Error()),
		)
		return
	}
	e.notifier.Notify(roomID, name, raw)
}

// setSourceOnline records the room's source status. Reports whether the
// status changed.
func (e *Engine) setSourceOnline(roomID string, online bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	cur, ok := e.sourceOnline[roomID]
	if ok && cur == online {
		return false
	}
	e.sourceOnline[roomID] = online
	return true
}
