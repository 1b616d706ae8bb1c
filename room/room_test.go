package room_test

import (
	"testing"
	"time"

	"github.com/turntide/turntide/room"
)

func TestCanQueue(t *testing.T) {
	cases := []struct {
		name string
		user room.User
		want bool
	}{
		{"admin", room.User{Role: room.RoleAdmin}, true},
		{"dj", room.User{Role: room.RoleDJ}, true},
		{"listener", room.User{Role: room.RoleListener}, false},
		{"deputized listener", room.User{Role: room.RoleListener, Deputized: true}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.user.CanQueue(); got != tc.want {
				t.Fatalf("CanQueue() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestEligibleDJCount(t *testing.T) {
	rm := &room.Room{
		Users: []room.User{
			{ID: "a", Role: room.RoleAdmin},
			{ID: "d", Role: room.RoleDJ},
			{ID: "l1", Role: room.RoleListener},
			{ID: "l2", Role: room.RoleListener, Deputized: true},
		},
	}
	if got := rm.EligibleDJCount(); got != 3 {
		t.Fatalf("EligibleDJCount() = %d, want 3", got)
	}
}

func TestLastQueued(t *testing.T) {
	rm := &room.Room{}
	if rm.LastQueued() != nil {
		t.Fatal("LastQueued() on empty queue != nil")
	}

	rm.Queue = []room.QueueItem{
		{Track: room.Track{ID: "t1"}, AddedBy: "u1", AddedAt: time.Now()},
		{Track: room.Track{ID: "t2"}, AddedBy: "u2", AddedAt: time.Now()},
	}
	last := rm.LastQueued()
	if last == nil || last.Track.ID != "t2" {
		t.Fatalf("LastQueued() = %+v, want track t2", last)
	}
}

func TestUserLookup(t *testing.T) {
	rm := &room.Room{Users: []room.User{{ID: "u1", Name: "Ada"}}}

	u, ok := rm.User("u1")
	if !ok || u.Name != "Ada" {
		t.Fatalf("User(u1) = %+v, %v", u, ok)
	}
	if rm.HasUser("ghost") {
		t.Fatal("HasUser(ghost) = true")
	}
}
