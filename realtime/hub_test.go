package realtime_test

import (
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/gobwas/ws/wsutil"

	"github.com/turntide/turntide/realtime"
)

// join wires a pipe into the hub and returns the client side.
func join(t *testing.T, h *realtime.Hub, roomID string) net.Conn {
	t.Helper()
	server, client := net.Pipe()
	h.Join(server, roomID)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func readText(t *testing.T, conn net.Conn) []byte {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	data, err := wsutil.ReadServerText(conn)
	if err != nil {
		t.Fatalf("read error: %v", err)
	}
	return data
}

func TestNotifyDeliversEnvelope(t *testing.T) {
	h := realtime.NewHub()
	defer func() { _ = h.Close() }()
	client := join(t, h, "r1")

	h.Notify("r1", "track:changed", []byte(`{"room_id":"r1"}`))

	var env struct {
		Room    string          `json:"room"`
		Name    string          `json:"name"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(readText(t, client), &env); err != nil {
		t.Fatalf("envelope decode error: %v", err)
	}
	if env.Room != "r1" || env.Name != "track:changed" {
		t.Fatalf("envelope = %+v", env)
	}
	if string(env.Payload) != `{"room_id":"r1"}` {
		t.Fatalf("payload = %s", env.Payload)
	}
}

func TestNotifyScopedToRoom(t *testing.T) {
	h := realtime.NewHub()
	defer func() { _ = h.Close() }()
	c1 := join(t, h, "r1")
	c2 := join(t, h, "r2")

	h.Notify("r1", "user:joined", []byte(`{}`))
	readText(t, c1)

	_ = c2.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	if _, err := wsutil.ReadServerText(c2); err == nil {
		t.Fatal("client in another room received the event")
	}
}

func TestLeaveDetachesClient(t *testing.T) {
	h := realtime.NewHub()
	defer func() { _ = h.Close() }()

	server, client := net.Pipe()
	t.Cleanup(func() { _ = client.Close() })
	leave := h.Join(server, "r1")

	if got := h.RoomSize("r1"); got != 1 {
		t.Fatalf("RoomSize = %d, want 1", got)
	}
	leave()
	leave() // second call is a no-op
	if got := h.RoomSize("r1"); got != 0 {
		t.Fatalf("RoomSize after leave = %d, want 0", got)
	}

	h.Notify("r1", "typing:changed", []byte(`{}`))
	_ = client.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	if _, err := wsutil.ReadServerText(client); err == nil {
		t.Fatal("detached client received an event")
	}
}

func TestRoomSize(t *testing.T) {
	h := realtime.NewHub()
	defer func() { _ = h.Close() }()
	join(t, h, "r1")
	join(t, h, "r1")

	if got := h.RoomSize("r1"); got != 2 {
		t.Fatalf("RoomSize = %d, want 2", got)
	}
	if got := h.RoomSize("empty"); got != 0 {
		t.Fatalf("RoomSize(empty) = %d, want 0", got)
	}
}

func TestSlowClientIsDropped(t *testing.T) {
	h := realtime.NewHub(realtime.WithSendBuffer(1))
	defer func() { _ = h.Close() }()
	// The client never reads, so its writer blocks on the first frame.
	join(t, h, "r1")
	time.Sleep(50 * time.Millisecond)

	// One frame in the writer's hands, one in the buffer, the next
	// overflows and evicts the client.
	for i := 0; i < 3; i++ {
		h.Notify("r1", "typing:changed", []byte(`{}`))
		time.Sleep(20 * time.Millisecond)
	}

	deadline := time.Now().Add(2 * time.Second)
	for h.RoomSize("r1") != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("slow client still subscribed, RoomSize = %d", h.RoomSize("r1"))
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestCloseDisconnectsEveryone(t *testing.T) {
	h := realtime.NewHub()
	join(t, h, "r1")
	join(t, h, "r2")

	if err := h.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if h.RoomSize("r1") != 0 || h.RoomSize("r2") != 0 {
		t.Fatal("clients survived Close")
	}
}
