// Package engine wires the room subsystems together: the event bus, the
// plugin registry, the job scheduler, the source lifecycle glue, and the
// realtime and relay channels. It owns authoritative room state and is
// the only writer of it; plugins observe and act through the capability
// API it implements.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/turntide/turntide"
	"github.com/turntide/turntide/clock"
	"github.com/turntide/turntide/event"
	"github.com/turntide/turntide/plugin"
	"github.com/turntide/turntide/realtime"
	"github.com/turntide/turntide/relay"
	"github.com/turntide/turntide/room"
	"github.com/turntide/turntide/sched"
	"github.com/turntide/turntide/source"
	"github.com/turntide/turntide/store"
	"github.com/turntide/turntide/store/memory"
)

// Compile-time interface checks.
var (
	_ plugin.Host      = (*Engine)(nil)
	_ source.Submitter = (*Engine)(nil)
)

// Option configures an Engine before wiring.
type Option func(*Engine)

// WithBackend sets the storage backend for plugin scopes. Defaults to the
// in-memory backend.
func WithBackend(b store.Backend) Option {
	return func(e *Engine) { e.backend = b }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithClock sets the time source for room state and plugin timers.
func WithClock(clk clock.Clock) Option {
	return func(e *Engine) { e.clk = clk }
}

// WithPlugin registers a plugin kind. Every kind is instantiated in every
// room at creation.
func WithPlugin(d plugin.Descriptor) Option {
	return func(e *Engine) { e.descriptors = append(e.descriptors, d) }
}

// WithAdapter registers an external media source adapter.
func WithAdapter(a source.Adapter) Option {
	return func(e *Engine) { e.adapters[a.Name()] = a }
}

// WithCredentialSource sets the credential lookup for source polling.
func WithCredentialSource(cs source.CredentialSource) Option {
	return func(e *Engine) { e.creds = cs }
}

// WithRelay sets the cross-process event publisher.
func WithRelay(p relay.Publisher) Option {
	return func(e *Engine) { e.relayPub = p }
}

// WithNotifier sets the realtime channel events and client effects are
// pushed to.
func WithNotifier(n realtime.Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithTickInterval sets the job scheduler's tick interval.
func WithTickInterval(d time.Duration) Option {
	return func(e *Engine) { e.tick = d }
}

// Engine is the composition root for the room subsystem.
type Engine struct {
	backend     store.Backend
	clk         clock.Clock
	logger      *slog.Logger
	notifier    realtime.Notifier
	relayPub    relay.Publisher
	creds       source.CredentialSource
	tick        time.Duration
	descriptors []plugin.Descriptor
	adapters    map[string]source.Adapter

	bus       *event.Bus
	registry  *plugin.Registry
	scheduler *sched.Scheduler
	glue      *source.Glue

	mu           sync.Mutex
	rooms        map[string]*room.Room
	sourceOnline map[string]bool
}

// New creates and wires an Engine. It fails when a plugin descriptor
// carries an invalid config schema.
func New(opts ...Option) (*Engine, error) {
	e := &Engine{
		clk:          clock.NewSystem(),
		logger:       slog.Default(),
		tick:         time.Second,
		adapters:     make(map[string]source.Adapter),
		rooms:        make(map[string]*room.Room),
		sourceOnline: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.backend == nil {
		e.backend = memory.New()
	}
	if e.creds == nil {
		e.creds = noCredentials{}
	}

	regOpts := []plugin.Option{
		plugin.WithLogger(e.logger),
		plugin.WithClock(e.clk),
	}
	if e.notifier != nil {
		regOpts = append(regOpts, plugin.WithNotifier(e.notifier))
	}
	e.registry = plugin.NewRegistry(e, e.backend, regOpts...)
	for _, d := range e.descriptors {
		if err := e.registry.RegisterFactory(d); err != nil {
			return nil, err
		}
	}

	busOpts := []event.Option{
		event.WithLogger(e.logger),
		event.WithDispatcher(e.registry),
	}
	if e.relayPub != nil {
		busOpts = append(busOpts, event.WithPublisher(e.relayPub))
	}
	if e.notifier != nil {
		busOpts = append(busOpts, event.WithNotifier(e.notifier))
	}
	e.bus = event.NewBus(busOpts...)

	e.scheduler = sched.New(
		sched.WithLogger(e.logger),
		sched.WithTickInterval(e.tick),
	)
	e.glue = source.NewGlue(e.scheduler, e.creds, e, e.backend,
		source.WithLogger(e.logger),
	)
	return e, nil
}

// Bus returns the event bus, for producers outside the engine's own
// operations.
func (e *Engine) Bus() *event.Bus { return e.bus }

// Registry returns the plugin registry, for admin reads.
func (e *Engine) Registry() *plugin.Registry { return e.registry }

// Jobs returns a snapshot of every scheduled job.
func (e *Engine) Jobs() []sched.Status { return e.scheduler.Status() }

// PluginSchemas returns the config schema of every registered plugin kind,
// for admin form generation.
func (e *Engine) PluginSchemas() map[string]string { return e.registry.Schemas() }

// PluginSchema returns the config schema for one plugin kind.
func (e *Engine) PluginSchema(name string) (string, bool) { return e.registry.Schema(name) }

// ComponentStates returns the view state every plugin in the room exposes,
// for UI hydration.
func (e *Engine) ComponentStates(roomID string) map[string]map[string]any {
	return e.registry.AllComponentStates(roomID)
}

// Start launches the job scheduler.
func (e *Engine) Start(ctx context.Context) error {
	return e.scheduler.Start(ctx)
}

// Stop halts the scheduler and tears down every room's plugin instances
// concurrently. Room state itself is retained.
func (e *Engine) Stop(ctx context.Context) error {
	if err := e.scheduler.Stop(ctx); err != nil {
		return err
	}

	e.mu.Lock()
	ids := make([]string, 0, len(e.rooms))
	for id := range e.rooms {
		ids = append(ids, id)
	}
	e.mu.Unlock()

	var g errgroup.Group
	for _, id := range ids {
		id := id
		g.Go(func() error {
			e.registry.CleanupRoom(ctx, id)
			return nil
		})
	}
	return g.Wait()
}

// noCredentials is the default credential source: every lookup reports
// that the user never connected the service.
type noCredentials struct{}

func (noCredentials) Credentials(_ context.Context, _, _ string) (source.Credentials, error) {
	return source.Credentials{}, turntide.ErrNoCredentials
}

// now returns the engine's current UTC time.
func (e *Engine) now() time.Time { return e.clk.Now().UTC() }

// snapshot returns a read-safe copy of a room. Slices and the now-playing
// item are copied; nested maps are shared and treated as read-only by
// convention.
func snapshot(rm *room.Room) *room.Room {
	cp := *rm
	cp.Users = append([]room.User(nil), rm.Users...)
	cp.Queue = append([]room.QueueItem(nil), rm.Queue...)
	if rm.NowPlaying != nil {
		np := *rm.NowPlaying
		cp.NowPlaying = &np
	}
	if rm.Reactions != nil {
		cp.Reactions = make(map[string][]string, len(rm.Reactions))
		for k, v := range rm.Reactions {
			cp.Reactions[k] = append([]string(nil), v...)
		}
	}
	return &cp
}
