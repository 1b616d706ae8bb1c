package plugin_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/turntide/turntide"
	"github.com/turntide/turntide/clock"
	"github.com/turntide/turntide/event"
	"github.com/turntide/turntide/plugin"
	"github.com/turntide/turntide/room"
	"github.com/turntide/turntide/store/memory"
)

// stubHost satisfies plugin.Host with canned data.
type stubHost struct {
	room     *room.Room
	configs  map[string]map[string]any
	skipped  []string
	messages []string
}

func (h *stubHost) Room(_ context.Context, _ string) (*room.Room, error) {
	if h.room == nil {
		return nil, turntide.ErrRoomNotFound
	}
	return h.room, nil
}

func (h *stubHost) NowPlaying(_ context.Context, _ string) (*room.QueueItem, error) {
	if h.room == nil {
		return nil, turntide.ErrRoomNotFound
	}
	return h.room.NowPlaying, nil
}

func (h *stubHost) Users(_ context.Context, _ string) ([]room.User, error) {
	return h.room.Users, nil
}

func (h *stubHost) UsersByID(_ context.Context, _ string, ids []string) ([]room.User, error) {
	var out []room.User
	for _, u := range h.room.Users {
		for _, id := range ids {
			if u.ID == id {
				out = append(out, u)
			}
		}
	}
	return out, nil
}

func (h *stubHost) Queue(_ context.Context, _ string) ([]room.QueueItem, error) {
	return h.room.Queue, nil
}

func (h *stubHost) Reactions(_ context.Context, _ string) (map[string][]string, error) {
	return h.room.Reactions, nil
}

func (h *stubHost) SkipTrack(_ context.Context, _, trackID string) error {
	h.skipped = append(h.skipped, trackID)
	return nil
}

func (h *stubHost) SendSystemMessage(_ context.Context, _, text string, _ map[string]any) error {
	h.messages = append(h.messages, text)
	return nil
}

func (h *stubHost) UpdatePlaylistTrack(_ context.Context, _ string, _ room.QueueItem) error {
	return nil
}

func (h *stubHost) PluginConfig(_ context.Context, _, name string) (map[string]any, error) {
	return h.configs[name], nil
}

func (h *stubHost) SetPluginConfig(_ context.Context, _, name string, cfg map[string]any) error {
	if h.configs == nil {
		h.configs = make(map[string]map[string]any)
	}
	h.configs[name] = cfg
	return nil
}

func (h *stubHost) QueueSoundEffect(_, _ string, _ float64) {}

func (h *stubHost) QueueScreenEffect(_, _ string, _ int64) {}

type notifySpy struct {
	names    []string
	payloads []string
}

func (n *notifySpy) Notify(_, name string, payload []byte) {
	n.names = append(n.names, name)
	n.payloads = append(n.payloads, string(payload))
}

// echoPlugin records dispatched events and optionally rejects queue
// requests.
type echoPlugin struct {
	plugin.Base
	name   string
	events []string
	reject string
}

func (p *echoPlugin) Name() string { return p.name }

func (p *echoPlugin) DefaultConfig() map[string]any {
	return map[string]any{"enabled": true}
}

func (p *echoPlugin) OnTrackChanged(_ context.Context, evt *event.TrackChanged) error {
	p.events = append(p.events, evt.Name())
	return nil
}

func (p *echoPlugin) OnUserJoined(_ context.Context, evt *event.UserJoined) error {
	p.events = append(p.events, evt.Name())
	return nil
}

func (p *echoPlugin) ValidateQueueRequest(_ context.Context, _ plugin.QueueRequest) plugin.Decision {
	if p.reject != "" {
		return plugin.Deny(p.reject)
	}
	return plugin.Allow()
}

const echoSchema = `{
  "type": "object",
  "properties": {"enabled": {"type": "boolean"}},
  "additionalProperties": false
}`

func echoDescriptor(name string, probe **echoPlugin) plugin.Descriptor {
	return plugin.Descriptor{
		Name:   name,
		Schema: echoSchema,
		New: func() plugin.Plugin {
			p := &echoPlugin{name: name}
			if probe != nil {
				*probe = p
			}
			return p
		},
	}
}

func newRegistry(t *testing.T, host plugin.Host, opts ...plugin.Option) *plugin.Registry {
	t.Helper()
	backend := memory.New()
	mc := clock.NewManual(time.Unix(1_700_000_000, 0))
	opts = append([]plugin.Option{plugin.WithClock(mc)}, opts...)
	return plugin.NewRegistry(host, backend, opts...)
}

func TestRegisterFactoryRejectsBadSchema(t *testing.T) {
	reg := newRegistry(t, &stubHost{})
	err := reg.RegisterFactory(plugin.Descriptor{
		Name:   "broken",
		Schema: `{"type": 42}`,
		New:    func() plugin.Plugin { return &echoPlugin{name: "broken"} },
	})
	if err == nil {
		t.Fatal("RegisterFactory with invalid schema = nil, want error")
	}
}

func TestRegisterIsIdempotentPerRoom(t *testing.T) {
	reg := newRegistry(t, &stubHost{})
	if err := reg.RegisterFactory(echoDescriptor("echo", nil)); err != nil {
		t.Fatalf("RegisterFactory() error: %v", err)
	}

	first, err := reg.Register("r1", "echo")
	if err != nil {
		t.Fatalf("Register() error: %v", err)
	}
	second, err := reg.Register("r1", "echo")
	if err != nil {
		t.Fatalf("second Register() error: %v", err)
	}
	if first != second {
		t.Fatal("re-registering created a second instance")
	}

	other, err := reg.Register("r2", "echo")
	if err != nil {
		t.Fatalf("Register(r2) error: %v", err)
	}
	if other == first {
		t.Fatal("rooms share a plugin instance")
	}
}

func TestRegisterUnknownPlugin(t *testing.T) {
	reg := newRegistry(t, &stubHost{})
	if _, err := reg.Register("r1", "ghost"); !errors.Is(err, turntide.ErrPluginNotFound) {
		t.Fatalf("Register(ghost) error = %v, want ErrPluginNotFound", err)
	}
}

func TestDispatchRoutesToRoomInOrder(t *testing.T) {
	reg := newRegistry(t, &stubHost{})
	var a, b *echoPlugin
	_ = reg.RegisterFactory(echoDescriptor("a", &a))
	_ = reg.RegisterFactory(echoDescriptor("b", &b))
	_, _ = reg.Register("r1", "a")
	_, _ = reg.Register("r1", "b")

	reg.Dispatch(context.Background(), &event.TrackChanged{RoomID: "r1"})
	reg.Dispatch(context.Background(), &event.UserJoined{RoomID: "r1"})
	reg.Dispatch(context.Background(), &event.TrackChanged{RoomID: "other"})

	for _, p := range []*echoPlugin{a, b} {
		if len(p.events) != 2 {
			t.Fatalf("plugin %s saw %v, want two events", p.name, p.events)
		}
		if p.events[0] != event.NameTrackChanged || p.events[1] != event.NameUserJoined {
			t.Fatalf("plugin %s saw %v out of order", p.name, p.events)
		}
	}
}

func TestValidateFirstRejectionWins(t *testing.T) {
	reg := newRegistry(t, &stubHost{})
	var a, b *echoPlugin
	_ = reg.RegisterFactory(echoDescriptor("a", &a))
	_ = reg.RegisterFactory(echoDescriptor("b", &b))
	_, _ = reg.Register("r1", "a")
	_, _ = reg.Register("r1", "b")

	a.reject = "nope"
	b.reject = "never consulted"

	d := reg.Validate(context.Background(), plugin.QueueRequest{RoomID: "r1"})
	if d.Allowed || d.Reason != "nope" {
		t.Fatalf("Validate() = %+v, want rejection from first plugin", d)
	}

	a.reject = ""
	b.reject = ""
	if d := reg.Validate(context.Background(), plugin.QueueRequest{RoomID: "r1"}); !d.Allowed {
		t.Fatalf("Validate() = %+v, want allowed", d)
	}
}

func TestCleanupReleasesInstance(t *testing.T) {
	backend := memory.New()
	reg := plugin.NewRegistry(&stubHost{}, backend,
		plugin.WithClock(clock.NewManual(time.Unix(1_700_000_000, 0))),
	)
	var p *echoPlugin
	_ = reg.RegisterFactory(echoDescriptor("echo", &p))
	_, _ = reg.Register("r1", "echo")

	ctx := context.Background()
	if err := p.Context().Store().Set(ctx, "k", "v", 0); err != nil {
		t.Fatalf("Set() error: %v", err)
	}

	if err := reg.Cleanup(ctx, "r1", "echo"); err != nil {
		t.Fatalf("Cleanup() error: %v", err)
	}

	if _, ok := reg.Instance("r1", "echo"); ok {
		t.Fatal("instance survived Cleanup")
	}
	ok, err := backend.Exists(ctx, "room:r1:plugin:echo:k")
	if err != nil {
		t.Fatalf("Exists() error: %v", err)
	}
	if ok {
		t.Fatal("plugin storage survived Cleanup")
	}

	// Dispatch after cleanup is a no-op, not a panic.
	reg.Dispatch(ctx, &event.TrackChanged{RoomID: "r1"})
	if len(p.events) != 0 {
		t.Fatal("cleaned-up plugin still receives events")
	}
}

func TestValidateConfig(t *testing.T) {
	reg := newRegistry(t, &stubHost{})
	_ = reg.RegisterFactory(echoDescriptor("echo", nil))

	if err := reg.ValidateConfig("echo", map[string]any{"enabled": true}); err != nil {
		t.Fatalf("ValidateConfig(valid) error: %v", err)
	}
	err := reg.ValidateConfig("echo", map[string]any{"enabled": "yes"})
	if !errors.Is(err, turntide.ErrInvalidConfig) {
		t.Fatalf("ValidateConfig(invalid) error = %v, want ErrInvalidConfig", err)
	}
	err = reg.ValidateConfig("ghost", nil)
	if !errors.Is(err, turntide.ErrPluginNotFound) {
		t.Fatalf("ValidateConfig(ghost) error = %v, want ErrPluginNotFound", err)
	}
}

func TestEmitCustomNamespacesEvent(t *testing.T) {
	spy := &notifySpy{}
	reg := newRegistry(t, &stubHost{}, plugin.WithNotifier(spy))
	var p *echoPlugin
	_ = reg.RegisterFactory(echoDescriptor("echo", &p))
	_, _ = reg.Register("r1", "echo")

	p.Emit("ping", map[string]any{"n": 1})

	if len(spy.names) != 1 || spy.names[0] != "plugin:echo:ping" {
		t.Fatalf("Notify names = %v, want [plugin:echo:ping]", spy.names)
	}
}
