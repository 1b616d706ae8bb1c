package engine

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/google/uuid"

	"github.com/turntide/turntide"
	"github.com/turntide/turntide/event"
	"github.com/turntide/turntide/room"
)

// CreateRoom registers a new room, instantiates every known plugin kind
// in it, and, for radio rooms with a known adapter, attaches the source
// poll job.
func (e *Engine) CreateRoom(ctx context.Context, rm *room.Room) error {
	if rm.ID == "" {
		return fmt.Errorf("%w: empty room id", turntide.ErrInvalidConfig)
	}
	if rm.Mode == "" {
		rm.Mode = room.ModeJukebox
	}
	if rm.CreatedAt.IsZero() {
		rm.CreatedAt = e.now()
	}
	if rm.Reactions == nil {
		rm.Reactions = make(map[string][]string)
	}
	if rm.PluginConfigs == nil {
		rm.PluginConfigs = make(map[string]map[string]any)
	}

	e.mu.Lock()
	if _, exists := e.rooms[rm.ID]; exists {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", turntide.ErrRoomExists, rm.ID)
	}
	e.rooms[rm.ID] = rm
	e.sourceOnline[rm.ID] = true
	e.mu.Unlock()

	for _, name := range e.registry.FactoryNames() {
		if _, err := e.registry.Register(rm.ID, name); err != nil {
			e.logger.Warn("plugin registration error",
				slog.String("room_id", rm.ID),
				slog.String("plugin", name),
				slog.String("error", err.Error()),
			)
		}
	}

	if rm.Mode == room.ModeRadio && rm.Adapter != "" {
		ad, ok := e.adapters[rm.Adapter]
		if !ok {
			e.logger.Warn("unknown source adapter",
				slog.String("room_id", rm.ID),
				slog.String("adapter", rm.Adapter),
			)
		} else if err := e.glue.RoomCreated(rm, ad); err != nil {
			return fmt.Errorf("attach poll job for room %q: %w", rm.ID, err)
		}
	}

	e.logger.Info("room created",
		slog.String("room_id", rm.ID),
		slog.String("mode", string(rm.Mode)),
	)
	return nil
}

// DeleteRoom tears a room down. Plugins observe the deletion event before
// their cleanup runs, then every instance, its storage, and its timers are
// released and the poll job detached.
func (e *Engine) DeleteRoom(ctx context.Context, roomID string) error {
	e.mu.Lock()
	rm, ok := e.rooms[roomID]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", turntide.ErrRoomNotFound, roomID)
	}
	delete(e.rooms, roomID)
	delete(e.sourceOnline, roomID)
	e.mu.Unlock()

	if err := e.bus.Emit(ctx, &event.RoomDeleted{RoomID: roomID}); err != nil {
		return err
	}
	e.registry.CleanupRoom(ctx, roomID)

	if rm.Adapter != "" {
		if ad, ok := e.adapters[rm.Adapter]; ok {
			e.glue.RoomDeleted(rm, ad)
		}
	}

	e.logger.Info("room deleted", slog.String("room_id", roomID))
	return nil
}

// JoinRoom adds a user to the room, replacing any earlier entry with the
// same id.
func (e *Engine) JoinRoom(ctx context.Context, roomID string, u room.User) error {
	err := e.mutate(roomID, func(rm *room.Room) {
		rm.Users = slices.DeleteFunc(rm.Users, func(x room.User) bool { return x.ID == u.ID })
		rm.Users = append(rm.Users, u)
	})
	if err != nil {
		return err
	}
	return e.bus.Emit(ctx, &event.UserJoined{RoomID: roomID, User: u})
}

// LeaveRoom removes a user from the room. Leaving a room one is not in is
// a no-op.
func (e *Engine) LeaveRoom(ctx context.Context, roomID, userID string) error {
	var left room.User
	var found bool
	err := e.mutate(roomID, func(rm *room.Room) {
		if u, ok := rm.User(userID); ok {
			left, found = u, true
			rm.Users = slices.DeleteFunc(rm.Users, func(x room.User) bool { return x.ID == userID })
		}
	})
	if err != nil || !found {
		return err
	}
	return e.bus.Emit(ctx, &event.UserLeft{RoomID: roomID, User: left})
}

// KickUser removes a user at a moderator's request.
func (e *Engine) KickUser(ctx context.Context, roomID, userID, by, reason string) error {
	var found bool
	err := e.mutate(roomID, func(rm *room.Room) {
		if rm.HasUser(userID) {
			found = true
			rm.Users = slices.DeleteFunc(rm.Users, func(x room.User) bool { return x.ID == userID })
		}
	})
	if err != nil || !found {
		return err
	}
	return e.bus.Emit(ctx, &event.UserKicked{RoomID: roomID, UserID: userID, By: by, Reason: reason})
}

// SetUserStatus updates an occupant's status string.
func (e *Engine) SetUserStatus(ctx context.Context, roomID, userID, status string) error {
	var found bool
	err := e.mutate(roomID, func(rm *room.Room) {
		for i := range rm.Users {
			if rm.Users[i].ID == userID {
				rm.Users[i].Status = status
				found = true
				return
			}
		}
	})
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	return e.bus.Emit(ctx, &event.UserStatusChanged{RoomID: roomID, UserID: userID, Status: status})
}

// SendMessage emits a user chat message with a fresh id.
func (e *Engine) SendMessage(ctx context.Context, roomID, userID, text string, meta map[string]any) error {
	if _, err := e.Room(ctx, roomID); err != nil {
		return err
	}
	return e.bus.Emit(ctx, &event.MessageReceived{
		RoomID:    roomID,
		MessageID: uuid.NewString(),
		UserID:    userID,
		Text:      text,
		Meta:      meta,
		At:        e.now(),
	})
}

// ClearMessages announces that a moderator cleared the room's message
// history.
func (e *Engine) ClearMessages(ctx context.Context, roomID, by string) error {
	if _, err := e.Room(ctx, roomID); err != nil {
		return err
	}
	return e.bus.Emit(ctx, &event.MessagesCleared{RoomID: roomID, By: by})
}

// SetTyping broadcasts a user's typing indicator.
func (e *Engine) SetTyping(ctx context.Context, roomID, userID string, typing bool) error {
	if _, err := e.Room(ctx, roomID); err != nil {
		return err
	}
	return e.bus.Emit(ctx, &event.TypingChanged{RoomID: roomID, UserID: userID, Typing: typing})
}

// UpdateSettings replaces the room's settings map.
func (e *Engine) UpdateSettings(ctx context.Context, roomID string, settings map[string]any) error {
	err := e.mutate(roomID, func(rm *room.Room) {
		rm.Settings = settings
	})
	if err != nil {
		return err
	}
	return e.bus.Emit(ctx, &event.RoomSettingsUpdated{RoomID: roomID, Settings: settings})
}

// AddReaction records a user's reaction to the current track. Reacting
// twice with the same reaction is a no-op.
func (e *Engine) AddReaction(ctx context.Context, roomID, userID, reaction string) error {
	var added bool
	err := e.mutate(roomID, func(rm *room.Room) {
		if rm.Reactions == nil {
			rm.Reactions = make(map[string][]string)
		}
		if slices.Contains(rm.Reactions[reaction], userID) {
			return
		}
		rm.Reactions[reaction] = append(rm.Reactions[reaction], userID)
		added = true
	})
	if err != nil || !added {
		return err
	}
	return e.bus.Emit(ctx, &event.ReactionAdded{RoomID: roomID, UserID: userID, Reaction: reaction})
}

// RemoveReaction withdraws a user's reaction.
func (e *Engine) RemoveReaction(ctx context.Context, roomID, userID, reaction string) error {
	var removed bool
	err := e.mutate(roomID, func(rm *room.Room) {
		users := rm.Reactions[reaction]
		if !slices.Contains(users, userID) {
			return
		}
		rm.Reactions[reaction] = slices.DeleteFunc(users, func(id string) bool { return id == userID })
		if len(rm.Reactions[reaction]) == 0 {
			delete(rm.Reactions, reaction)
		}
		removed = true
	})
	if err != nil || !removed {
		return err
	}
	return e.bus.Emit(ctx, &event.ReactionRemoved{RoomID: roomID, UserID: userID, Reaction: reaction})
}

// mutate runs fn on the live room under the engine lock. Events are never
// emitted while the lock is held.
func (e *Engine) mutate(roomID string, fn func(rm *room.Room)) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	rm, ok := e.rooms[roomID]
	if !ok {
		return fmt.Errorf("%w: %s", turntide.ErrRoomNotFound, roomID)
	}
	fn(rm)
	return nil
}
