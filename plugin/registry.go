package plugin

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/turntide/turntide"
	"github.com/turntide/turntide/clock"
	"github.com/turntide/turntide/event"
	"github.com/turntide/turntide/store"
)

// Notifier pushes plugin-defined custom events to realtime clients.
type Notifier interface {
	Notify(roomID, name string, payload []byte)
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// WithClock sets the clock used for plugin timers.
func WithClock(clk clock.Clock) Option {
	return func(r *Registry) { r.clk = clk }
}

// WithNotifier sets the realtime channel for custom plugin events.
func WithNotifier(n Notifier) Option {
	return func(r *Registry) { r.notifier = n }
}

type factory struct {
	desc     Descriptor
	schema   *jsonschema.Schema
	defaults map[string]any
}

type instance struct {
	name   string
	plugin Plugin
	ctx    *Context
}

// Registry owns exactly one live plugin instance per (room, plugin name)
// and dispatches room events to subscribed instances sequentially in
// registration order.
type Registry struct {
	host     Host
	backend  store.Backend
	notifier Notifier
	clk      clock.Clock
	logger   *slog.Logger

	mu        sync.Mutex
	factories map[string]*factory
	rooms     map[string][]*instance
}

// NewRegistry creates a Registry bound to the given capability host and
// storage backend.
func NewRegistry(host Host, backend store.Backend, opts ...Option) *Registry {
	r := &Registry{
		host:      host,
		backend:   backend,
		clk:       clock.NewSystem(),
		logger:    slog.Default(),
		factories: make(map[string]*factory),
		rooms:     make(map[string][]*instance),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RegisterFactory makes a plugin kind available for per-room registration.
// The descriptor's JSON schema is compiled once here; an invalid schema is
// a wiring bug and fails loudly.
func (r *Registry) RegisterFactory(d Descriptor) error {
	compiled, err := jsonschema.CompileString(d.Name+".schema.json", d.Schema)
	if err != nil {
		return fmt.Errorf("compile schema for plugin %q: %w", d.Name, err)
	}
	probe := d.New()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[d.Name] = &factory{
		desc:     d,
		schema:   compiled,
		defaults: probe.DefaultConfig(),
	}
	return nil
}

// FactoryNames returns the registered plugin kinds, sorted.
func (r *Registry) FactoryNames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Register instantiates the named plugin for the room. Re-registering
// while an instance is live is a no-op that returns the live instance.
func (r *Registry) Register(roomID, name string) (Plugin, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", turntide.ErrPluginNotFound, name)
	}
	for _, inst := range r.rooms[roomID] {
		if inst.name == name {
			return inst.plugin, nil
		}
	}

	p := f.desc.New()
	c := &Context{
		roomID:     roomID,
		pluginName: name,
		host:       r.host,
		store:      store.NewScope(r.backend, roomID, name),
		timers:     NewTimers(r.clk, r.logger.With(slog.String("plugin", name), slog.String("room_id", roomID))),
	}
	c.emit = func(eventName string, payload any) {
		r.EmitCustom(roomID, name, eventName, payload)
	}
	p.Register(c)
	r.rooms[roomID] = append(r.rooms[roomID], &instance{name: name, plugin: p, ctx: c})

	r.logger.Info("plugin registered",
		slog.String("plugin", name),
		slog.String("room_id", roomID),
	)
	return p, nil
}

// Instance returns the live instance for (roomID, name), if any.
func (r *Registry) Instance(roomID, name string) (Plugin, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, inst := range r.rooms[roomID] {
		if inst.name == name {
			return inst.plugin, true
		}
	}
	return nil, false
}

// instances snapshots the room's live instances in registration order.
func (r *Registry) instances(roomID string) []*instance {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*instance, len(r.rooms[roomID]))
	copy(out, r.rooms[roomID])
	return out
}

// Dispatch delivers evt to every subscribed instance in the event's room,
// sequentially in registration order. A failing handler is logged and does
// not stop delivery to the rest.
func (r *Registry) Dispatch(ctx context.Context, evt event.Event) {
	for _, inst := range r.instances(evt.Room()) {
		r.deliver(ctx, inst, evt)
	}
}

func (r *Registry) deliver(ctx context.Context, inst *instance, evt event.Event) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("plugin handler panic",
				slog.String("plugin", inst.name),
				slog.String("room_id", evt.Room()),
				slog.String("event", evt.Name()),
				slog.Any("panic", rec),
			)
		}
	}()

	var err error
	switch e := evt.(type) {
	case *event.TrackChanged:
		if h, ok := inst.plugin.(TrackChangedHandler); ok {
			err = h.OnTrackChanged(ctx, e)
		}
	case *event.SourceStatus:
		if h, ok := inst.plugin.(SourceStatusHandler); ok {
			err = h.OnSourceStatus(ctx, e)
		}
	case *event.PlaylistTrackAdded:
		if h, ok := inst.plugin.(PlaylistTrackAddedHandler); ok {
			err = h.OnPlaylistTrackAdded(ctx, e)
		}
	case *event.PlaylistTrackUpdated:
		if h, ok := inst.plugin.(PlaylistTrackUpdatedHandler); ok {
			err = h.OnPlaylistTrackUpdated(ctx, e)
		}
	case *event.ReactionAdded:
		if h, ok := inst.plugin.(ReactionAddedHandler); ok {
			err = h.OnReactionAdded(ctx, e)
		}
	case *event.ReactionRemoved:
		if h, ok := inst.plugin.(ReactionRemovedHandler); ok {
			err = h.OnReactionRemoved(ctx, e)
		}
	case *event.UserJoined:
		if h, ok := inst.plugin.(UserJoinedHandler); ok {
			err = h.OnUserJoined(ctx, e)
		}
	case *event.UserLeft:
		if h, ok := inst.plugin.(UserLeftHandler); ok {
			err = h.OnUserLeft(ctx, e)
		}
	case *event.UserStatusChanged:
		if h, ok := inst.plugin.(UserStatusChangedHandler); ok {
			err = h.OnUserStatusChanged(ctx, e)
		}
	case *event.UserKicked:
		if h, ok := inst.plugin.(UserKickedHandler); ok {
			err = h.OnUserKicked(ctx, e)
		}
	case *event.RoomDeleted:
		if h, ok := inst.plugin.(RoomDeletedHandler); ok {
			err = h.OnRoomDeleted(ctx, e)
		}
	case *event.RoomSettingsUpdated:
		if h, ok := inst.plugin.(RoomSettingsUpdatedHandler); ok {
			err = h.OnRoomSettingsUpdated(ctx, e)
		}
	case *event.MessageReceived:
		if h, ok := inst.plugin.(MessageReceivedHandler); ok {
			err = h.OnMessageReceived(ctx, e)
		}
	case *event.MessagesCleared:
		if h, ok := inst.plugin.(MessagesClearedHandler); ok {
			err = h.OnMessagesCleared(ctx, e)
		}
	case *event.TypingChanged:
		if h, ok := inst.plugin.(TypingChangedHandler); ok {
			err = h.OnTypingChanged(ctx, e)
		}
	case *event.ConfigChanged:
		if h, ok := inst.plugin.(ConfigChangedHandler); ok {
			err = h.OnConfigChanged(ctx, e)
		}
	case *event.Error:
		if h, ok := inst.plugin.(ErrorHandler); ok {
			err = h.OnError(ctx, e)
		}
	}
	if err != nil {
		r.logger.Warn("plugin handler error",
			slog.String("plugin", inst.name),
			slog.String("room_id", evt.Room()),
			slog.String("event", evt.Name()),
			slog.String("error", err.Error()),
		)
	}
}

// Validate consults every queue-validating plugin in the room. The first
// rejection wins; no validators means allow.
func (r *Registry) Validate(ctx context.Context, req QueueRequest) Decision {
	for _, inst := range r.instances(req.RoomID) {
		v, ok := inst.plugin.(QueueValidator)
		if !ok {
			continue
		}
		if d := v.ValidateQueueRequest(ctx, req); !d.Allowed {
			return d
		}
	}
	return Allow()
}

// Cleanup tears down one instance: plugin cleanup, then removal from the
// registry. Unknown (room, name) pairs are a no-op.
func (r *Registry) Cleanup(ctx context.Context, roomID, name string) error {
	r.mu.Lock()
	insts := r.rooms[roomID]
	var target *instance
	for i, inst := range insts {
		if inst.name == name {
			target = inst
			r.rooms[roomID] = append(insts[:i], insts[i+1:]...)
			break
		}
	}
	if len(r.rooms[roomID]) == 0 {
		delete(r.rooms, roomID)
	}
	r.mu.Unlock()

	if target == nil {
		return nil
	}
	if err := target.plugin.Cleanup(ctx); err != nil {
		return fmt.Errorf("cleanup plugin %q in room %q: %w", name, roomID, err)
	}
	return nil
}

// CleanupRoom tears down every instance in the room. Individual cleanup
// failures are logged; all instances are still removed.
func (r *Registry) CleanupRoom(ctx context.Context, roomID string) {
	r.mu.Lock()
	insts := r.rooms[roomID]
	delete(r.rooms, roomID)
	r.mu.Unlock()

	for _, inst := range insts {
		if err := inst.plugin.Cleanup(ctx); err != nil {
			r.logger.Warn("plugin cleanup error",
				slog.String("plugin", inst.name),
				slog.String("room_id", roomID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// ValidateConfig checks a config map against the plugin's compiled schema.
func (r *Registry) ValidateConfig(name string, cfg map[string]any) error {
	r.mu.Lock()
	f, ok := r.factories[name]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", turntide.ErrPluginNotFound, name)
	}
	if err := f.schema.Validate(normalize(cfg)); err != nil {
		return fmt.Errorf("%w: %v", turntide.ErrInvalidConfig, err)
	}
	return nil
}

// DefaultConfig returns the plugin kind's default config map.
func (r *Registry) DefaultConfig(name string) (map[string]any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.factories[name]
	if !ok {
		return nil, false
	}
	return f.defaults, true
}

// Schemas returns the raw JSON schema of every registered plugin kind,
// keyed by plugin name. Pure read, for admin form generation.
func (r *Registry) Schemas() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]string, len(r.factories))
	for name, f := range r.factories {
		out[name] = f.desc.Schema
	}
	return out
}

// Schema returns the raw JSON schema for one plugin kind.
func (r *Registry) Schema(name string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.factories[name]
	if !ok {
		return "", false
	}
	return f.desc.Schema, true
}

// ComponentState returns the view state of one live instance, for UI
// hydration. Pure read; false when the instance is absent or exposes no
// state.
func (r *Registry) ComponentState(roomID, name string) (map[string]any, bool) {
	p, ok := r.Instance(roomID, name)
	if !ok {
		return nil, false
	}
	cs, ok := p.(ComponentStater)
	if !ok {
		return nil, false
	}
	return cs.ComponentState(), true
}

// AllComponentStates returns the view state of every live instance in the
// room that exposes one.
func (r *Registry) AllComponentStates(roomID string) map[string]map[string]any {
	out := make(map[string]map[string]any)
	for _, inst := range r.instances(roomID) {
		if cs, ok := inst.plugin.(ComponentStater); ok {
			out[inst.name] = cs.ComponentState()
		}
	}
	return out
}

// EmitCustom sends a plugin-defined event to the realtime channel only,
// namespaced as plugin:<plugin>:<eventName>.
func (r *Registry) EmitCustom(roomID, pluginName, eventName string, payload any) {
	if r.notifier == nil {
		return
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		r.logger.Warn("custom event encode error",
			slog.String("plugin", pluginName),
			slog.String("event", eventName),
			slog.String("error", err.Error()),
		)
		return
	}
	r.notifier.Notify(roomID, "plugin:"+pluginName+":"+eventName, raw)
}

// normalize round-trips a config map through JSON so schema validation
// sees the same value shapes a decoded JSON document would have.
func normalize(cfg map[string]any) any {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return cfg
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return cfg
	}
	return v
}
