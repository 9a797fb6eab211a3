package main

import (
	"errors"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
)

func newTestRegistry(t *testing.T, opts RegistryOptions) *Registry {
	t.Helper()
	reg := NewRegistry(opts, NewAuth("test-secret", bcrypt.MinCost), testLogger(), nil)
	t.Cleanup(reg.Stop)
	return reg
}

func TestClampMaxPlayers(t *testing.T) {
	tests := []struct{ in, want int }{
		{0, DefaultMaxPlayers},
		{-3, DefaultMaxPlayers},
		{1, 2},
		{5, 5},
		{1000, MaxPlayersLimit},
	}
	for _, tt := range tests {
		if got := clampMaxPlayers(tt.in); got != tt.want {
			t.Errorf("clampMaxPlayers(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestRegistryRoomLimit(t *testing.T) {
	reg := newTestRegistry(t, RegistryOptions{MaxRooms: 2})
	for i := 0; i < 2; i++ {
		if _, err := reg.CreateRoom("host", CreateRoomMsg{}); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := reg.CreateRoom("host", CreateRoomMsg{}); !errors.Is(err, ErrTooManyRooms) {
		t.Errorf("expected ErrTooManyRooms, got %v", err)
	}
	if reg.Len() != 2 || len(reg.List()) != 2 {
		t.Errorf("expected 2 rooms, got %d", reg.Len())
	}
}

func TestRegistryCreateAndJoin(t *testing.T) {
	reg := newTestRegistry(t, RegistryOptions{})
	conn := &mockBroadcaster{}
	room, p, err := reg.CreateAndJoin(conn, Identity{Key: "k", Name: "Host"}, CreateRoomMsg{MaxPlayers: 4})
	if err != nil {
		t.Fatal(err)
	}
	if reg.RoomOf(conn) != room {
		t.Error("creator should be bound to the new room")
	}
	created := sent[RoomCreatedMsg](conn)
	if len(created) != 1 || created[0].You.ID != p.ID || created[0].Room.MaxPlayers != 4 {
		t.Errorf("expected roomCreated for the creator, got %+v", created)
	}
	if room.CreatorName != "Host" {
		t.Errorf("expected creator Host, got %s", room.CreatorName)
	}
	if len(sent[RoomJoinedMsg](conn)) != 0 {
		t.Error("creator should get roomCreated, not roomJoined")
	}
}

func TestRegistryJoin(t *testing.T) {
	reg := newTestRegistry(t, RegistryOptions{})
	host := &mockBroadcaster{}
	roomA, _, err := reg.CreateAndJoin(host, Identity{Key: "h", Name: "Host"}, CreateRoomMsg{})
	if err != nil {
		t.Fatal(err)
	}
	roomB, err := reg.CreateRoom("other", CreateRoomMsg{})
	if err != nil {
		t.Fatal(err)
	}

	guest := &mockBroadcaster{}
	ident := Identity{Key: "g", Name: "Guest"}
	if _, _, err := reg.Join(guest, "missing", ident, ""); !errors.Is(err, ErrRoomNotFound) {
		t.Errorf("expected ErrRoomNotFound, got %v", err)
	}
	if _, _, err := reg.Join(guest, roomA.ID, ident, ""); err != nil {
		t.Fatal(err)
	}
	if _, _, err := reg.Join(guest, roomA.ID, ident, ""); !errors.Is(err, ErrAlreadyInRoom) {
		t.Errorf("expected ErrAlreadyInRoom, got %v", err)
	}

	// switching rooms leaves the old one first
	if _, _, err := reg.Join(guest, roomB.ID, ident, ""); err != nil {
		t.Fatal(err)
	}
	if roomA.PlayerCount() != 1 || roomB.PlayerCount() != 1 {
		t.Errorf("expected 1 player in each room, got %d and %d", roomA.PlayerCount(), roomB.PlayerCount())
	}
	if len(sent[PlayerLeftMsg](host)) != 1 {
		t.Error("host should see the guest leave")
	}
	if reg.RoomOf(guest) != roomB {
		t.Error("guest should be bound to room B")
	}

	if !reg.Leave(guest) {
		t.Error("leave should succeed")
	}
	if reg.Leave(guest) {
		t.Error("second leave should be a no-op")
	}
	if reg.RoomOf(guest) != nil {
		t.Error("guest should have no room")
	}
}

func TestRegistryLockedRoom(t *testing.T) {
	reg := newTestRegistry(t, RegistryOptions{})
	host := &mockBroadcaster{}
	room, _, err := reg.CreateAndJoin(host, Identity{Key: "h"}, CreateRoomMsg{Password: "secret"})
	if err != nil {
		t.Fatal(err)
	}
	if !room.Locked() {
		t.Fatal("room should be locked")
	}

	guest := &mockBroadcaster{}
	if _, _, err := reg.Join(guest, room.ID, Identity{Key: "g"}, "nope"); !errors.Is(err, ErrRoomLocked) {
		t.Errorf("expected ErrRoomLocked, got %v", err)
	}
	if reg.RoomOf(guest) != nil {
		t.Error("rejected guest should not be bound")
	}
	if _, _, err := reg.Join(guest, room.ID, Identity{Key: "g"}, "secret"); err != nil {
		t.Errorf("correct password should join: %v", err)
	}
}

func TestRegistryReap(t *testing.T) {
	reg := newTestRegistry(t, RegistryOptions{IdleTimeout: time.Minute})
	conn := &mockBroadcaster{}
	busy, _, err := reg.CreateAndJoin(conn, Identity{Key: "k"}, CreateRoomMsg{})
	if err != nil {
		t.Fatal(err)
	}
	idle, err := reg.CreateRoom("nobody", CreateRoomMsg{})
	if err != nil {
		t.Fatal(err)
	}

	if n := reg.reap(time.Now()); n != 0 {
		t.Errorf("fresh rooms should survive, reaped %d", n)
	}
	if n := reg.reap(time.Now().Add(2 * time.Minute)); n != 1 {
		t.Fatalf("expected 1 room reaped, got %d", n)
	}
	if _, ok := reg.Get(idle.ID); ok {
		t.Error("idle room should be gone")
	}
	if _, ok := reg.Get(busy.ID); !ok {
		t.Error("occupied room should survive")
	}

	// a reaped room refuses late joins even through a stale pointer
	if _, err := idle.Join(&mockBroadcaster{}, Identity{Key: "late"}, ""); !errors.Is(err, ErrRoomNotFound) {
		t.Errorf("expected ErrRoomNotFound, got %v", err)
	}
}

func TestRegistryRefusedJoinKeepsCurrentRoom(t *testing.T) {
	reg := newTestRegistry(t, RegistryOptions{})
	a, b := &mockBroadcaster{}, &mockBroadcaster{}
	home, _, err := reg.CreateAndJoin(a, Identity{Key: "a", Name: "A"}, CreateRoomMsg{})
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := reg.Join(b, home.ID, Identity{Key: "b", Name: "B"}, ""); err != nil {
		t.Fatal(err)
	}

	full, _, err := reg.CreateAndJoin(&mockBroadcaster{}, Identity{Key: "c"}, CreateRoomMsg{MaxPlayers: 2})
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := reg.Join(&mockBroadcaster{}, full.ID, Identity{Key: "d"}, ""); err != nil {
		t.Fatal(err)
	}
	locked, _, err := reg.CreateAndJoin(&mockBroadcaster{}, Identity{Key: "e"}, CreateRoomMsg{Password: "pw"})
	if err != nil {
		t.Fatal(err)
	}
	closed, err := reg.CreateRoom("nobody", CreateRoomMsg{})
	if err != nil {
		t.Fatal(err)
	}
	closed.closeIfIdle(time.Now().Add(time.Hour), time.Minute)

	tests := []struct {
		room     *Room
		password string
		want     error
	}{
		{full, "", ErrRoomFull},
		{locked, "wrong", ErrRoomLocked},
		{closed, "", ErrRoomNotFound},
	}
	a.reset()
	b.reset()
	for _, tt := range tests {
		if _, _, err := reg.Join(a, tt.room.ID, Identity{Key: "a", Name: "A"}, tt.password); !errors.Is(err, tt.want) {
			t.Errorf("expected %v, got %v", tt.want, err)
		}
		if reg.RoomOf(a) != home {
			t.Fatalf("refused join (%v) moved A out of its room", tt.want)
		}
	}
	if home.PlayerCount() != 2 {
		t.Errorf("expected 2 players at home, got %d", home.PlayerCount())
	}
	if len(sent[PlayerLeftMsg](b)) != 0 || len(sent[RoomLeftMsg](a)) != 0 {
		t.Error("nobody should have left")
	}
	if _, ok := home.Player(a); !ok {
		t.Error("A should still be on the home roster")
	}
}

func TestRegistryRefusedCreateKeepsCurrentRoom(t *testing.T) {
	reg := newTestRegistry(t, RegistryOptions{MaxRooms: 1})
	a, b := &mockBroadcaster{}, &mockBroadcaster{}
	home, _, err := reg.CreateAndJoin(a, Identity{Key: "a"}, CreateRoomMsg{})
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := reg.Join(b, home.ID, Identity{Key: "b"}, ""); err != nil {
		t.Fatal(err)
	}
	b.reset()

	if _, _, err := reg.CreateAndJoin(a, Identity{Key: "a"}, CreateRoomMsg{}); !errors.Is(err, ErrTooManyRooms) {
		t.Fatalf("expected ErrTooManyRooms, got %v", err)
	}
	if reg.RoomOf(a) != home || home.PlayerCount() != 2 {
		t.Error("refused create should leave A at home")
	}
	if len(sent[PlayerLeftMsg](b)) != 0 {
		t.Error("B should not see A leave")
	}
}

func TestRegistryMoveIntoClosedRoom(t *testing.T) {
	reg := newTestRegistry(t, RegistryOptions{})
	a := &mockBroadcaster{}
	if _, _, err := reg.CreateAndJoin(a, Identity{Key: "a"}, CreateRoomMsg{}); err != nil {
		t.Fatal(err)
	}
	target, err := reg.CreateRoom("nobody", CreateRoomMsg{})
	if err != nil {
		t.Fatal(err)
	}
	// the room closes after admission was checked
	target.closeIfIdle(time.Now().Add(time.Hour), time.Minute)
	a.reset()

	if _, err := reg.move(a, target, Identity{Key: "a"}, false); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("expected ErrRoomNotFound, got %v", err)
	}
	if reg.RoomOf(a) != nil {
		t.Error("A has left its room and entered none")
	}
	if len(sent[RoomLeftMsg](a)) != 1 {
		t.Error("A should be told it left")
	}
}
