// Package event defines the closed set of room events and the bus that
// fans them out to plugins, the cross-process relay, and the realtime
// channel.
//
// Every event name has exactly one payload struct. Producers construct the
// struct directly and consumers receive it typed, so a payload-shape
// mismatch is a compile error rather than a runtime surprise.
package event

import (
	"time"

	"github.com/turntide/turntide/room"
)

// Event is implemented by every payload in the closed set.
type Event interface {
	// Name returns the wire name of the event.
	Name() string
	// Room returns the id of the room the event belongs to.
	Room() string
}

// Wire names for the closed event set.
const (
	NameTrackChanged         = "track:changed"
	NameSourceStatus         = "source:status"
	NamePlaylistTrackAdded   = "playlist:track-added"
	NamePlaylistTrackUpdated = "playlist:track-updated"
	NameReactionAdded        = "reaction:added"
	NameReactionRemoved      = "reaction:removed"
	NameUserJoined           = "user:joined"
	NameUserLeft             = "user:left"
	NameUserStatusChanged    = "user:status"
	NameUserKicked           = "user:kicked"
	NameRoomDeleted          = "room:deleted"
	NameRoomSettingsUpdated  = "room:settings"
	NameMessageReceived      = "message:received"
	NameMessagesCleared      = "message:cleared"
	NameTypingChanged        = "typing:changed"
	NameConfigChanged        = "config:changed"
	NameError                = "error"
)

// TrackChanged fires when the now-playing track changes.
type TrackChanged struct {
	RoomID   string          `json:"room_id" msgpack:"room_id"`
	Item     room.QueueItem  `json:"item" msgpack:"item"`
	Previous *room.QueueItem `json:"previous,omitempty" msgpack:"previous,omitempty"`
}

func (e *TrackChanged) Name() string { return NameTrackChanged }
func (e *TrackChanged) Room() string { return e.RoomID }

// SourceStatus fires when an external media source goes online, offline,
// or loses authentication.
type SourceStatus struct {
	RoomID  string `json:"room_id" msgpack:"room_id"`
	Adapter string `json:"adapter" msgpack:"adapter"`
	Online  bool   `json:"online" msgpack:"online"`
	Detail  string `json:"detail,omitempty" msgpack:"detail,omitempty"`
}

func (e *SourceStatus) Name() string { return NameSourceStatus }
func (e *SourceStatus) Room() string { return e.RoomID }

// PlaylistTrackAdded fires when a track is appended to the room queue.
type PlaylistTrackAdded struct {
	RoomID string         `json:"room_id" msgpack:"room_id"`
	Item   room.QueueItem `json:"item" msgpack:"item"`
	Queue  int            `json:"queue_length" msgpack:"queue_length"`
}

func (e *PlaylistTrackAdded) Name() string { return NamePlaylistTrackAdded }
func (e *PlaylistTrackAdded) Room() string { return e.RoomID }

// PlaylistTrackUpdated fires when an existing queue entry is modified.
type PlaylistTrackUpdated struct {
	RoomID string         `json:"room_id" msgpack:"room_id"`
	Item   room.QueueItem `json:"item" msgpack:"item"`
}

func (e *PlaylistTrackUpdated) Name() string { return NamePlaylistTrackUpdated }
func (e *PlaylistTrackUpdated) Room() string { return e.RoomID }

// ReactionAdded fires when a user reacts to the current track.
type ReactionAdded struct {
	RoomID   string `json:"room_id" msgpack:"room_id"`
	UserID   string `json:"user_id" msgpack:"user_id"`
	Reaction string `json:"reaction" msgpack:"reaction"`
}

func (e *ReactionAdded) Name() string { return NameReactionAdded }
func (e *ReactionAdded) Room() string { return e.RoomID }

// ReactionRemoved fires when a user withdraws a reaction.
type ReactionRemoved struct {
	RoomID   string `json:"room_id" msgpack:"room_id"`
	UserID   string `json:"user_id" msgpack:"user_id"`
	Reaction string `json:"reaction" msgpack:"reaction"`
}

func (e *ReactionRemoved) Name() string { return NameReactionRemoved }
func (e *ReactionRemoved) Room() string { return e.RoomID }

// UserJoined fires when a user enters a room.
type UserJoined struct {
	RoomID string    `json:"room_id" msgpack:"room_id"`
	User   room.User `json:"user" msgpack:"user"`
}

func (e *UserJoined) Name() string { return NameUserJoined }
func (e *UserJoined) Room() string { return e.RoomID }

// UserLeft fires when a user leaves a room.
type UserLeft struct {
	RoomID string    `json:"room_id" msgpack:"room_id"`
	User   room.User `json:"user" msgpack:"user"`
}

func (e *UserLeft) Name() string { return NameUserLeft }
func (e *UserLeft) Room() string { return e.RoomID }

// UserStatusChanged fires when an occupant's status string changes.
type UserStatusChanged struct {
	RoomID string `json:"room_id" msgpack:"room_id"`
	UserID string `json:"user_id" msgpack:"user_id"`
	Status string `json:"status" msgpack:"status"`
}

func (e *UserStatusChanged) Name() string { return NameUserStatusChanged }
func (e *UserStatusChanged) Room() string { return e.RoomID }

// UserKicked fires when an occupant is removed by a moderator.
type UserKicked struct {
	RoomID string `json:"room_id" msgpack:"room_id"`
	UserID string `json:"user_id" msgpack:"user_id"`
	By     string `json:"by" msgpack:"by"`
	Reason string `json:"reason,omitempty" msgpack:"reason,omitempty"`
}

func (e *UserKicked) Name() string { return NameUserKicked }
func (e *UserKicked) Room() string { return e.RoomID }

// RoomDeleted fires as a room is torn down, before plugin cleanup runs.
type RoomDeleted struct {
	RoomID string `json:"room_id" msgpack:"room_id"`
}

func (e *RoomDeleted) Name() string { return NameRoomDeleted }
func (e *RoomDeleted) Room() string { return e.RoomID }

// RoomSettingsUpdated fires when room settings change.
type RoomSettingsUpdated struct {
	RoomID   string         `json:"room_id" msgpack:"room_id"`
	Settings map[string]any `json:"settings" msgpack:"settings"`
}

func (e *RoomSettingsUpdated) Name() string { return NameRoomSettingsUpdated }
func (e *RoomSettingsUpdated) Room() string { return e.RoomID }

// MessageReceived fires for chat and system messages alike. System messages
// carry UserID "" and Meta describing the producing plugin.
type MessageReceived struct {
	RoomID    string         `json:"room_id" msgpack:"room_id"`
	MessageID string         `json:"message_id" msgpack:"message_id"`
	UserID    string         `json:"user_id,omitempty" msgpack:"user_id,omitempty"`
	Text      string         `json:"text" msgpack:"text"`
	Meta      map[string]any `json:"meta,omitempty" msgpack:"meta,omitempty"`
	At        time.Time      `json:"at" msgpack:"at"`
}

func (e *MessageReceived) Name() string { return NameMessageReceived }
func (e *MessageReceived) Room() string { return e.RoomID }

// MessagesCleared fires when a moderator clears the room's message history.
type MessagesCleared struct {
	RoomID string `json:"room_id" msgpack:"room_id"`
	By     string `json:"by" msgpack:"by"`
}

func (e *MessagesCleared) Name() string { return NameMessagesCleared }
func (e *MessagesCleared) Room() string { return e.RoomID }

// TypingChanged fires when a user starts or stops typing.
type TypingChanged struct {
	RoomID string `json:"room_id" msgpack:"room_id"`
	UserID string `json:"user_id" msgpack:"user_id"`
	Typing bool   `json:"typing" msgpack:"typing"`
}

func (e *TypingChanged) Name() string { return NameTypingChanged }
func (e *TypingChanged) Room() string { return e.RoomID }

// ConfigChanged fires when a plugin's configuration is updated. Previous
// holds the effective config before the change so plugins can detect
// transitions.
type ConfigChanged struct {
	RoomID   string         `json:"room_id" msgpack:"room_id"`
	Plugin   string         `json:"plugin" msgpack:"plugin"`
	Config   map[string]any `json:"config" msgpack:"config"`
	Previous map[string]any `json:"previous,omitempty" msgpack:"previous,omitempty"`
}

func (e *ConfigChanged) Name() string { return NameConfigChanged }
func (e *ConfigChanged) Room() string { return e.RoomID }

// Error fires when a recoverable error should be surfaced to observers.
type Error struct {
	RoomID  string `json:"room_id" msgpack:"room_id"`
	Code    string `json:"code,omitempty" msgpack:"code,omitempty"`
	Message string `json:"message" msgpack:"message"`
}

func (e *Error) Name() string { return NameError }
func (e *Error) Room() string { return e.RoomID }
