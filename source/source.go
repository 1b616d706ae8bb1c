// Package source defines the contract external media/playback adapters
// implement, and the lifecycle glue that attaches per-room poll jobs to
// the scheduler when rooms come and go.
package source

import (
	"context"
	"time"
)

// Credentials authorize polling an external source on a user's behalf.
type Credentials struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Observation is a normalized snapshot of what an external source is
// currently playing.
type Observation struct {
	TrackID    string
	Source     string
	Title      string
	Artist     string
	Album      string
	DurationMs int64
	// Metadata carries pre-enriched data the adapter already has, so the
	// domain layer can skip a lookup.
	Metadata map[string]any
}

// Adapter is implemented per external streaming service. Authentication
// flows and API clients live behind this interface.
type Adapter interface {
	// Name identifies the adapter; it prefixes poll job names.
	Name() string

	// RoomScoped reports whether the adapter needs a per-room poll job.
	RoomScoped() bool

	// PollSpec returns the cron expression for the poll cadence.
	PollSpec() string

	// Poll fetches the source's current playback state.
	// Returns turntide.ErrAuthExpired for invalid tokens and
	// turntide.ErrRateLimited when the source throttles us.
	Poll(ctx context.Context, creds Credentials) (*Observation, error)
}

// CredentialSource looks up a user's credentials for an adapter.
// Returns turntide.ErrNoCredentials when the user has never connected the
// service.
type CredentialSource interface {
	Credentials(ctx context.Context, userID, adapter string) (Credentials, error)
}

// Submitter is the narrow interface through which observed media data
// enters the domain. Adapters and glue never touch the event bus directly;
// a domain operation behind this interface turns submissions into events.
type Submitter interface {
	// SubmitMediaData reports a poll result. obs is nil when the poll
	// failed; pollErr then explains why (offline, auth expired).
	SubmitMediaData(ctx context.Context, roomID string, obs *Observation, pollErr error) error

	// CurrentTrackID returns the id of the room's now-playing track, or ""
	// when nothing is playing.
	CurrentTrackID(ctx context.Context, roomID string) (string, error)

	// SubmitQueueSync reconciles the room queue against the source's
	// track list.
	SubmitQueueSync(ctx context.Context, roomID string, sourceTrackIDs []string) error
}
