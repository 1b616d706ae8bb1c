package event

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/vmihailenco/msgpack/v5"
)

// Dispatcher delivers an event to in-process plugin instances.
// plugin.Registry satisfies this interface.
type Dispatcher interface {
	Dispatch(ctx context.Context, evt Event)
}

// Publisher carries events to other processes. relay.Publisher satisfies
// this interface.
type Publisher interface {
	Publish(ctx context.Context, roomID, name string, payload []byte) error
}

// Notifier pushes events to connected realtime clients. realtime.Hub
// satisfies this interface.
type Notifier interface {
	Notify(roomID, name string, payload []byte)
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bus) { b.logger = l }
}

// WithDispatcher sets the in-process plugin dispatcher. Without one,
// dispatch is skipped silently.
func WithDispatcher(d Dispatcher) Option {
	return func(b *Bus) { b.dispatcher = d }
}

// WithPublisher sets the cross-process publisher.
func WithPublisher(p Publisher) Option {
	return func(b *Bus) { b.publisher = p }
}

// WithNotifier sets the realtime notifier.
func WithNotifier(n Notifier) Option {
	return func(b *Bus) { b.notifier = n }
}

// Bus is the single emission point for room events. One Emit call drives
// plugin dispatch, the cross-process relay, and the realtime channel with
// the same logical payload.
type Bus struct {
	dispatcher Dispatcher
	publisher  Publisher
	notifier   Notifier
	logger     *slog.Logger
}

// NewBus creates a Bus. All three consumers are optional.
func NewBus(opts ...Option) *Bus {
	b := &Bus{logger: slog.Default()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Emit delivers evt to every configured consumer:
//
//  1. Plugin dispatch runs first, handlers sequentially in subscription
//     order. Handler failures are logged by the dispatcher and never abort
//     the emission.
//  2. The relay and the realtime channel are notified afterwards,
//     unconditionally.
//
// The relay and realtime payloads are encoded before dispatch runs, so a
// handler mutating the event cannot alter what the channels observe.
// Emit only fails when the context is done before work starts.
func (b *Bus) Emit(ctx context.Context, evt Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	wire, wireErr := msgpack.Marshal(evt)
	if wireErr != nil {
		b.logger.Error("event encode error",
			slog.String("event", evt.Name()),
			slog.String("room_id", evt.Room()),
			slog.String("error", wireErr.Error()),
		)
	}
	rt, rtErr := json.Marshal(evt)
	if rtErr != nil {
		b.logger.Error("event json encode error",
			slog.String("event", evt.Name()),
			slog.String("room_id", evt.Room()),
			slog.String("error", rtErr.Error()),
		)
	}

	if b.dispatcher != nil {
		b.dispatcher.Dispatch(ctx, evt)
	}

	if b.publisher != nil && wireErr == nil {
		if err := b.publisher.Publish(ctx, evt.Room(), evt.Name(), wire); err != nil {
			b.logger.Warn("relay publish error",
				slog.String("event", evt.Name()),
				slog.String("room_id", evt.Room()),
				slog.String("error", err.Error()),
			)
		}
	}

	if b.notifier != nil && rtErr == nil {
		b.notifier.Notify(evt.Room(), evt.Name(), rt)
	}
	return nil
}
