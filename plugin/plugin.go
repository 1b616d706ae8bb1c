// Package plugin defines the extension system for Turntide rooms.
// A plugin is instantiated at most once per (room, name), receives a
// Context at registration, and reacts to room events by implementing typed
// hook interfaces — one interface per event, so plugins opt in only to the
// events they care about.
package plugin

import (
	"context"

	"github.com/turntide/turntide/event"
)

// Plugin is the base interface all room plugins must implement.
type Plugin interface {
	// Name returns a unique human-readable name for the plugin.
	Name() string

	// DefaultConfig returns the config used when a room has no stored
	// value for this plugin.
	DefaultConfig() map[string]any

	// Register stores the per-room context. Called exactly once per
	// instance, before any event is dispatched to it.
	Register(c *Context)

	// Cleanup releases everything the instance owns: storage keys and
	// timers. Must be safe to call when already cleaned up.
	Cleanup(ctx context.Context) error
}

// Descriptor bundles what the registry needs to own a plugin kind:
// its name, the JSON schema of its config, and a factory for fresh
// per-room instances.
type Descriptor struct {
	Name   string
	Schema string
	New    func() Plugin
}

// ──────────────────────────────────────────────────
// Event hooks
// ──────────────────────────────────────────────────

// TrackChangedHandler reacts to the now-playing track changing.
type TrackChangedHandler interface {
	OnTrackChanged(ctx context.Context, evt *event.TrackChanged) error
}

// SourceStatusHandler reacts to media source status changes.
type SourceStatusHandler interface {
	OnSourceStatus(ctx context.Context, evt *event.SourceStatus) error
}

// PlaylistTrackAddedHandler reacts to queue additions.
type PlaylistTrackAddedHandler interface {
	OnPlaylistTrackAdded(ctx context.Context, evt *event.PlaylistTrackAdded) error
}

// PlaylistTrackUpdatedHandler reacts to queue entry updates.
type PlaylistTrackUpdatedHandler interface {
	OnPlaylistTrackUpdated(ctx context.Context, evt *event.PlaylistTrackUpdated) error
}

// ReactionAddedHandler reacts to new reactions.
type ReactionAddedHandler interface {
	OnReactionAdded(ctx context.Context, evt *event.ReactionAdded) error
}

// ReactionRemovedHandler reacts to withdrawn reactions.
type ReactionRemovedHandler interface {
	OnReactionRemoved(ctx context.Context, evt *event.ReactionRemoved) error
}

// UserJoinedHandler reacts to users entering the room.
type UserJoinedHandler interface {
	OnUserJoined(ctx context.Context, evt *event.UserJoined) error
}

// UserLeftHandler reacts to users leaving the room.
type UserLeftHandler interface {
	OnUserLeft(ctx context.Context, evt *event.UserLeft) error
}

// UserStatusChangedHandler reacts to occupant status changes.
type UserStatusChangedHandler interface {
	OnUserStatusChanged(ctx context.Context, evt *event.UserStatusChanged) error
}

// UserKickedHandler reacts to moderator kicks.
type UserKickedHandler interface {
	OnUserKicked(ctx context.Context, evt *event.UserKicked) error
}

// RoomDeletedHandler reacts to room teardown, before cleanup runs.
type RoomDeletedHandler interface {
	OnRoomDeleted(ctx context.Context, evt *event.RoomDeleted) error
}

// RoomSettingsUpdatedHandler reacts to room settings changes.
type RoomSettingsUpdatedHandler interface {
	OnRoomSettingsUpdated(ctx context.Context, evt *event.RoomSettingsUpdated) error
}

// MessageReceivedHandler reacts to chat and system messages.
type MessageReceivedHandler interface {
	OnMessageReceived(ctx context.Context, evt *event.MessageReceived) error
}

// MessagesClearedHandler reacts to message history clears.
type MessagesClearedHandler interface {
	OnMessagesCleared(ctx context.Context, evt *event.MessagesCleared) error
}

// TypingChangedHandler reacts to typing indicator changes.
type TypingChangedHandler interface {
	OnTypingChanged(ctx context.Context, evt *event.TypingChanged) error
}

// ConfigChangedHandler reacts to plugin config updates. Every plugin in
// the room sees every config change; implementations filter on evt.Plugin.
type ConfigChangedHandler interface {
	OnConfigChanged(ctx context.Context, evt *event.ConfigChanged) error
}

// ErrorHandler reacts to surfaced room errors.
type ErrorHandler interface {
	OnError(ctx context.Context, evt *event.Error) error
}

// ──────────────────────────────────────────────────
// Capability hooks
// ──────────────────────────────────────────────────

// QueueRequest describes a user's attempt to add a track to the queue.
type QueueRequest struct {
	RoomID   string
	UserID   string
	Username string
	TrackID  string
}

// Decision is a policy verdict. Reason is only set on rejection and is
// safe to show to the requesting user.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// Allow is the zero-cost positive decision.
func Allow() Decision { return Decision{Allowed: true} }

// Deny builds a rejection with a user-facing reason.
func Deny(reason string) Decision { return Decision{Allowed: false, Reason: reason} }

// QueueValidator is implemented by plugins that gate queue additions.
// The engine consults every validator in the room; the first rejection
// wins.
type QueueValidator interface {
	ValidateQueueRequest(ctx context.Context, req QueueRequest) Decision
}

// ComponentStater is implemented by plugins that expose view state for UI
// hydration. Implementations must be pure reads.
type ComponentStater interface {
	ComponentState() map[string]any
}
