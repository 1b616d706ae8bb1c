package relay

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Compile-time interface check.
var _ Publisher = (*RedisPublisher)(nil)

// RedisPublisher publishes frames to per-room Redis pub/sub channels.
type RedisPublisher struct {
	client redis.Cmdable
}

// NewRedisPublisher creates a publisher. The caller owns the client
// lifecycle.
func NewRedisPublisher(client redis.Cmdable) *RedisPublisher {
	return &RedisPublisher{client: client}
}

func (p *RedisPublisher) Publish(ctx context.Context, roomID, name string, payload []byte) error {
	frame, err := EncodeFrame(&Frame{
		Room:    roomID,
		Name:    name,
		Payload: payload,
		At:      time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode relay frame: %w", err)
	}
	return p.client.Publish(ctx, Channel(roomID), frame).Err()
}

// Subscriber receives frames published for one room by other processes.
type Subscriber struct {
	pubsub *redis.PubSub
	logger *slog.Logger
	frames chan *Frame
}

// Subscribe starts listening on a room's relay channel. The returned
// Subscriber must be closed when done.
func Subscribe(ctx context.Context, client *redis.Client, roomID string, logger *slog.Logger) *Subscriber {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Subscriber{
		pubsub: client.Subscribe(ctx, Channel(roomID)),
		logger: logger,
		frames: make(chan *Frame, 64),
	}
	go s.loop()
	return s
}

// Frames returns the channel of decoded frames. It is closed when the
// subscription ends.
func (s *Subscriber) Frames() <-chan *Frame { return s.frames }

// Close tears down the subscription.
func (s *Subscriber) Close() error { return s.pubsub.Close() }

func (s *Subscriber) loop() {
	defer close(s.frames)
	for msg := range s.pubsub.Channel() {
		frame, err := DecodeFrame([]byte(msg.Payload))
		if err != nil {
			s.logger.Warn("relay frame decode error",
				slog.String("channel", msg.Channel),
				slog.String("error", err.Error()),
			)
			continue
		}
		s.frames <- frame
	}
}
