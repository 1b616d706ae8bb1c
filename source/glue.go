package source

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/turntide/turntide"
	"github.com/turntide/turntide/room"
	"github.com/turntide/turntide/sched"
	"github.com/turntide/turntide/store"
)

// lastSeenTTL bounds how long a stale last-seen entry can suppress
// submissions after a room goes quiet.
const lastSeenTTL = 10 * time.Minute

// Scheduler is the slice of the job scheduler the glue needs.
type Scheduler interface {
	Schedule(job sched.Job) error
	Enable(name string) bool
	Disable(name string) bool
}

// Option configures the Glue.
type Option func(*Glue)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Glue) { g.logger = l }
}

// WithPollLimit caps outbound polls across all rooms, protecting the
// external source from a large room count.
func WithPollLimit(perSecond float64, burst int) Option {
	return func(g *Glue) { g.limiter = rate.NewLimiter(rate.Limit(perSecond), burst) }
}

// Glue attaches and detaches the poll jobs that mirror external playback
// into rooms. One job per (adapter, room), named <adapter>-<roomID>.
type Glue struct {
	scheduler Scheduler
	creds     CredentialSource
	submit    Submitter
	backend   store.Backend
	limiter   *rate.Limiter
	logger    *slog.Logger
}

// NewGlue creates the lifecycle glue.
func NewGlue(scheduler Scheduler, creds CredentialSource, submit Submitter, backend store.Backend, opts ...Option) *Glue {
	g := &Glue{
		scheduler: scheduler,
		creds:     creds,
		submit:    submit,
		backend:   backend,
		limiter:   rate.NewLimiter(rate.Limit(10), 20),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// JobName returns the scheduler job name for an adapter/room pair.
func JobName(adapter, roomID string) string {
	return adapter + "-" + roomID
}

// RoomCreated schedules the poll job for a room whose adapter is
// room-scoped. The job runs once immediately, then on its cron cadence.
// Non-room-scoped adapters are ignored.
func (g *Glue) RoomCreated(rm *room.Room, ad Adapter) error {
	if !ad.RoomScoped() {
		return nil
	}
	roomID := rm.ID
	owner := rm.Creator
	return g.scheduler.Schedule(sched.Job{
		Name:    JobName(ad.Name(), roomID),
		Spec:    ad.PollSpec(),
		Enabled: true,
		RunAt:   time.Now().UTC(),
		Handler: func(ctx context.Context) error {
			return g.poll(ctx, roomID, owner, ad)
		},
	})
}

// RoomDeleted disables the room's poll job by name. The adapter's
// internals are not consulted.
func (g *Glue) RoomDeleted(rm *room.Room, ad Adapter) {
	if !ad.RoomScoped() {
		return
	}
	g.scheduler.Disable(JobName(ad.Name(), rm.ID))
	// Drop the last-seen cache so a recreated room starts fresh.
	scope := g.lastSeenScope(rm.ID, ad.Name())
	if err := scope.Cleanup(context.Background()); err != nil {
		g.logger.Warn("last-seen cleanup error",
			slog.String("room_id", rm.ID),
			slog.String("adapter", ad.Name()),
			slog.String("error", err.Error()),
		)
	}
}

func (g *Glue) lastSeenScope(roomID, adapter string) *store.Scope {
	return store.NewScope(g.backend, roomID, "source-"+adapter)
}

// poll executes one tick of a room's poll job.
func (g *Glue) poll(ctx context.Context, roomID, owner string, ad Adapter) error {
	if !g.limiter.Allow() {
		g.logger.Debug("poll throttled",
			slog.String("room_id", roomID),
			slog.String("adapter", ad.Name()),
		)
		return nil
	}

	creds, err := g.creds.Credentials(ctx, owner, ad.Name())
	if errors.Is(err, turntide.ErrNoCredentials) {
		// The owner never connected the service; report offline and wait.
		return g.submit.SubmitMediaData(ctx, roomID, nil, err)
	}
	if err != nil {
		return err
	}

	obs, err := ad.Poll(ctx, creds)
	switch {
	case errors.Is(err, turntide.ErrRateLimited):
		// Transient; skip this tick without a status change.
		g.logger.Warn("poll rate limited",
			slog.String("room_id", roomID),
			slog.String("adapter", ad.Name()),
		)
		return nil
	case errors.Is(err, turntide.ErrAuthExpired):
		return g.submit.SubmitMediaData(ctx, roomID, nil, err)
	case err != nil:
		return err
	}
	if obs == nil || obs.TrackID == "" {
		return nil
	}

	scope := g.lastSeenScope(roomID, ad.Name())
	last, err := scope.Get(ctx, "lastseen")
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		g.logger.Warn("last-seen read error",
			slog.String("room_id", roomID),
			slog.String("error", err.Error()),
		)
	}
	if last == obs.TrackID {
		return nil
	}
	if err := scope.Set(ctx, "lastseen", obs.TrackID, lastSeenTTL); err != nil {
		g.logger.Warn("last-seen write error",
			slog.String("room_id", roomID),
			slog.String("error", err.Error()),
		)
	}
	return g.submit.SubmitMediaData(ctx, roomID, obs, nil)
}
