// Package relay carries room events across process boundaries over Redis
// pub/sub. Frames are MessagePack-encoded; the event payload inside a
// frame is already encoded by the bus, so subscribers in other processes
// decode it against the same typed event set.
package relay

import (
	"context"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Frame is the wire envelope for one relayed event.
type Frame struct {
	Room    string    `msgpack:"room"`
	Name    string    `msgpack:"name"`
	Payload []byte    `msgpack:"payload"`
	At      time.Time `msgpack:"at"`
}

// Publisher carries encoded events to other processes.
type Publisher interface {
	Publish(ctx context.Context, roomID, name string, payload []byte) error
}

// EncodeFrame serializes a frame for the wire.
func EncodeFrame(f *Frame) ([]byte, error) {
	return msgpack.Marshal(f)
}

// DecodeFrame deserializes a wire frame.
func DecodeFrame(data []byte) (*Frame, error) {
	var f Frame
	if err := msgpack.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

// channelPrefix namespaces relay channels in the shared Redis keyspace.
const channelPrefix = "turntide:room:"

// Channel returns the pub/sub channel name for a room.
func Channel(roomID string) string { return channelPrefix + roomID }
