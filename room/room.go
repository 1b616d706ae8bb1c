// Package room defines the domain model shared by the engine, the event
// set, and plugins: rooms, users, tracks, and queue items.
package room

import "time"

// Mode determines how playback is driven in a room.
type Mode string

const (
	// ModeJukebox plays tracks queued by room members.
	ModeJukebox Mode = "jukebox"
	// ModeRadio mirrors whatever the room creator's media source is playing.
	ModeRadio Mode = "radio"
)

// Role is a user's permission level within a room.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleDJ       Role = "dj"
	RoleListener Role = "listener"
)

// User is a room occupant.
type User struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Role      Role   `json:"role"`
	Deputized bool   `json:"deputized,omitempty"`
	Status    string `json:"status,omitempty"`
}

// IsAdmin reports whether the user holds the admin role.
func (u User) IsAdmin() bool { return u.Role == RoleAdmin }

// CanQueue reports whether the user is eligible to add tracks.
func (u User) CanQueue() bool {
	return u.Role == RoleAdmin || u.Role == RoleDJ || u.Deputized
}

// Track is a normalized reference to a piece of media from any source.
type Track struct {
	ID         string         `json:"id"`
	Source     string         `json:"source"`
	Title      string         `json:"title"`
	Artist     string         `json:"artist,omitempty"`
	Album      string         `json:"album,omitempty"`
	DurationMs int64          `json:"duration_ms,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// QueueItem is a track placed in a room's queue.
type QueueItem struct {
	Track    Track      `json:"track"`
	AddedBy  string     `json:"added_by,omitempty"`
	AddedAt  time.Time  `json:"added_at"`
	PlayedAt *time.Time `json:"played_at,omitempty"`
}

// Room is the authoritative state for one listening room.
// The engine guards access; Room methods themselves are pure reads.
type Room struct {
	ID            string                    `json:"id"`
	Creator       string                    `json:"creator"`
	Mode          Mode                      `json:"mode"`
	Adapter       string                    `json:"adapter,omitempty"`
	Settings      map[string]any            `json:"settings,omitempty"`
	PluginConfigs map[string]map[string]any `json:"plugin_configs,omitempty"`
	Queue         []QueueItem               `json:"queue"`
	NowPlaying    *QueueItem                `json:"now_playing,omitempty"`
	Users         []User                    `json:"users"`
	Reactions     map[string][]string       `json:"reactions,omitempty"`
	CreatedAt     time.Time                 `json:"created_at"`
}

// User returns the occupant with the given id.
func (r *Room) User(id string) (User, bool) {
	for _, u := range r.Users {
		if u.ID == id {
			return u, true
		}
	}
	return User{}, false
}

// HasUser reports whether a user is currently present in the room.
func (r *Room) HasUser(id string) bool {
	_, ok := r.User(id)
	return ok
}

// EligibleDJCount counts occupants allowed to queue tracks.
func (r *Room) EligibleDJCount() int {
	n := 0
	for _, u := range r.Users {
		if u.CanQueue() {
			n++
		}
	}
	return n
}

// LastQueued returns the most recently added queue item, or nil when the
// queue is empty.
func (r *Room) LastQueued() *QueueItem {
	if len(r.Queue) == 0 {
		return nil
	}
	return &r.Queue[len(r.Queue)-1]
}
