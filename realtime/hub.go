// Package realtime pushes room events to connected websocket clients.
// The wire format is a JSON envelope per event; the transport is gobwas/ws
// server-side frames.
package realtime

import (
	"encoding/json"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"golang.org/x/sync/errgroup"
)

// Notifier is the slice of the hub the event bus needs.
type Notifier interface {
	Notify(roomID, name string, payload []byte)
}

// envelope frames one event for clients.
type envelope struct {
	Room    string          `json:"room"`
	Name    string          `json:"name"`
	Payload json.RawMessage `json:"payload"`
	At      time.Time       `json:"at"`
}

type client struct {
	conn net.Conn
	out  chan []byte
	once sync.Once
	done chan struct{}
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// Option configures the Hub.
type Option func(*Hub)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Hub) { h.logger = l }
}

// WithSendBuffer sets the per-client outbound buffer. A client that falls
// this many events behind is dropped.
func WithSendBuffer(n int) Option {
	return func(h *Hub) { h.sendBuffer = n }
}

// Hub fans events out to per-room websocket subscriber sets. Sends are
// non-blocking: a slow client never stalls emission for the room.
type Hub struct {
	logger     *slog.Logger
	sendBuffer int

	mu    sync.Mutex
	rooms map[string]map[*client]struct{}
}

// Compile-time interface check.
var _ Notifier = (*Hub)(nil)

// NewHub creates an empty hub.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		logger:     slog.Default(),
		sendBuffer: 32,
		rooms:      make(map[string]map[*client]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Upgrade performs the websocket handshake on a raw connection and joins
// the resulting client to the room.
func (h *Hub) Upgrade(conn net.Conn, roomID string) error {
	if _, err := ws.Upgrade(conn); err != nil {
		_ = conn.Close()
		return err
	}
	h.Join(conn, roomID)
	return nil
}

// Join subscribes an already-upgraded connection to a room and starts its
// writer. The returned func detaches the client and closes its connection;
// calling it more than once is harmless.
func (h *Hub) Join(conn net.Conn, roomID string) (leave func()) {
	c := &client{
		conn: conn,
		out:  make(chan []byte, h.sendBuffer),
		done: make(chan struct{}),
	}
	h.mu.Lock()
	set, ok := h.rooms[roomID]
	if !ok {
		set = make(map[*client]struct{})
		h.rooms[roomID] = set
	}
	set[c] = struct{}{}
	h.mu.Unlock()

	go h.writer(roomID, c)
	return func() { h.drop(roomID, c) }
}

func (h *Hub) writer(roomID string, c *client) {
	defer h.drop(roomID, c)
	for {
		select {
		case <-c.done:
			return
		case data := <-c.out:
			if err := wsutil.WriteServerText(c.conn, data); err != nil {
				h.logger.Debug("realtime write error",
					slog.String("room_id", roomID),
					slog.String("error", err.Error()),
				)
				return
			}
		}
	}
}

func (h *Hub) drop(roomID string, c *client) {
	h.mu.Lock()
	if set, ok := h.rooms[roomID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.rooms, roomID)
		}
	}
	h.mu.Unlock()
	c.close()
}

// Notify implements Notifier. The envelope is built once and queued to
// every subscriber; clients with a full buffer are dropped rather than
// blocking the emit path.
func (h *Hub) Notify(roomID, name string, payload []byte) {
	data, err := json.Marshal(envelope{
		Room:    roomID,
		Name:    name,
		Payload: payload,
		At:      time.Now().UTC(),
	})
	if err != nil {
		h.logger.Warn("realtime envelope encode error",
			slog.String("event", name),
			slog.String("error", err.Error()),
		)
		return
	}

	h.mu.Lock()
	subs := make([]*client, 0, len(h.rooms[roomID]))
	for c := range h.rooms[roomID] {
		subs = append(subs, c)
	}
	h.mu.Unlock()

	for _, c := range subs {
		select {
		case c.out <- data:
		default:
			h.logger.Debug("dropping slow realtime client",
				slog.String("room_id", roomID),
			)
			h.drop(roomID, c)
		}
	}
}

// RoomSize returns the subscriber count for a room.
func (h *Hub) RoomSize(roomID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[roomID])
}

// Close disconnects every client concurrently and empties the hub.
func (h *Hub) Close() error {
	h.mu.Lock()
	var all []*client
	for _, set := range h.rooms {
		for c := range set {
			all = append(all, c)
		}
	}
	h.rooms = make(map[string]map[*client]struct{})
	h.mu.Unlock()

	var g errgroup.Group
	for _, c := range all {
		c := c
		g.Go(func() error {
			c.close()
			return nil
		})
	}
	return g.Wait()
}
