package main

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

const DefaultMaxRooms = 100

// RoomIdleTimeout is how long an empty room survives before the reaper closes it
var RoomIdleTimeout = 60 * time.Second

// ReapInterval is how often the reaper sweeps
var ReapInterval = 10 * time.Second

// RegistryOptions configures room creation and reaping
type RegistryOptions struct {
	MaxRooms    int
	IdleTimeout time.Duration
	ReapEvery   time.Duration
	Room        RoomOptions // defaults for new rooms
}

// Registry owns all rooms and knows which room each connection is in
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*Room
	conns map[Broadcaster]*Room

	opts      RegistryOptions
	auth      *Auth
	log       *slog.Logger
	analytics *Analytics

	stop     chan struct{}
	stopOnce sync.Once
}

// NewRegistry creates a Registry. Call Run to start the reaper.
func NewRegistry(opts RegistryOptions, auth *Auth, logger *slog.Logger, analytics *Analytics) *Registry {
	if opts.MaxRooms <= 0 {
		opts.MaxRooms = DefaultMaxRooms
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = RoomIdleTimeout
	}
	if opts.ReapEvery <= 0 {
		opts.ReapEvery = ReapInterval
	}
	return &Registry{
		rooms:     make(map[string]*Room),
		conns:     make(map[Broadcaster]*Room),
		opts:      opts,
		auth:      auth,
		log:       logger,
		analytics: analytics,
		stop:      make(chan struct{}),
	}
}

// CreateRoom starts a new room. Limits on player count are clamped.
func (reg *Registry) CreateRoom(creator string, req CreateRoomMsg) (*Room, error) {
	opts := reg.opts.Room
	opts.MaxPlayers = clampMaxPlayers(req.MaxPlayers)
	if req.Password != "" {
		hash, err := reg.auth.HashPassword(req.Password)
		if err != nil {
			return nil, fmt.Errorf("create room: %w", err)
		}
		opts.PasswordHash = hash
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()

	if len(reg.rooms) >= reg.opts.MaxRooms {
		return nil, ErrTooManyRooms
	}
	room := NewRoom(uuid.NewString(), creator, opts, reg.log, reg.analytics)
	reg.rooms[room.ID] = room
	go room.Run()

	reg.log.Info("room created", "room", room.ID, "creator", creator,
		"maxPlayers", opts.MaxPlayers, "locked", room.Locked())
	reg.analytics.Track(EvtRoomCreated, "", room.ID, "")
	return room, nil
}

func clampMaxPlayers(n int) int {
	switch {
	case n <= 0:
		return DefaultMaxPlayers
	case n < 2:
		return 2
	case n > MaxPlayersLimit:
		return MaxPlayersLimit
	}
	return n
}

// CreateAndJoin creates a room and moves its creator into it. A refused
// create leaves conn where it was.
func (reg *Registry) CreateAndJoin(conn Broadcaster, ident Identity, req CreateRoomMsg) (*Room, *Player, error) {
	room, err := reg.CreateRoom(ident.Name, req)
	if err != nil {
		return nil, nil, err
	}
	p, err := reg.move(conn, room, ident, true)
	if err != nil {
		return nil, nil, err
	}
	return room, p, nil
}

// Join moves conn into the room with the given id. The target is checked
// before conn leaves its current room, so a refused join changes nothing.
func (reg *Registry) Join(conn Broadcaster, roomID string, ident Identity, password string) (*Room, *Player, error) {
	room, ok := reg.Get(roomID)
	if !ok {
		return nil, nil, ErrRoomNotFound
	}
	if current := reg.RoomOf(conn); current == room {
		return nil, nil, ErrAlreadyInRoom
	}
	if err := room.Admits(password); err != nil {
		return nil, nil, err
	}
	p, err := reg.move(conn, room, ident, false)
	if err != nil {
		return nil, nil, err
	}
	return room, p, nil
}

// move leaves conn's current room and enters room. If room filled or closed
// in between, conn ends up in no room and is told so with roomLeft.
func (reg *Registry) move(conn Broadcaster, room *Room, ident Identity, created bool) (*Player, error) {
	left := reg.Leave(conn)
	p, err := room.enter(conn, ident, created)
	if err != nil {
		if left {
			conn.Send(RoomLeftMsg{})
		}
		return nil, err
	}
	reg.bind(conn, room)
	return p, nil
}

func (reg *Registry) bind(conn Broadcaster, room *Room) {
	reg.mu.Lock()
	reg.conns[conn] = room
	reg.mu.Unlock()
}

// Leave removes conn from its room. Returns false if it was in none.
func (reg *Registry) Leave(conn Broadcaster) bool {
	reg.mu.Lock()
	room, ok := reg.conns[conn]
	delete(reg.conns, conn)
	reg.mu.Unlock()
	if !ok {
		return false
	}
	return room.RemovePlayer(conn)
}

// RoomOf returns conn's current room or nil
func (reg *Registry) RoomOf(conn Broadcaster) *Room {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return reg.conns[conn]
}

// Get returns a room by id
func (reg *Registry) Get(id string) (*Room, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	room, ok := reg.rooms[id]
	return room, ok
}

// List returns all rooms, oldest first
func (reg *Registry) List() []RoomInfo {
	reg.mu.RLock()
	rooms := make([]*Room, 0, len(reg.rooms))
	for _, room := range reg.rooms {
		rooms = append(rooms, room)
	}
	reg.mu.RUnlock()

	list := make([]RoomInfo, 0, len(rooms))
	for _, room := range rooms {
		list = append(list, room.Info())
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].CreatedAt != list[j].CreatedAt {
			return list[i].CreatedAt < list[j].CreatedAt
		}
		return list[i].ID < list[j].ID
	})
	return list
}

// Len returns the number of rooms
func (reg *Registry) Len() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.rooms)
}

// Run sweeps idle rooms until Stop
func (reg *Registry) Run() {
	ticker := time.NewTicker(reg.opts.ReapEvery)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			reg.reap(now)
		case <-reg.stop:
			return
		}
	}
}

// reap closes and removes every room that has been empty for the idle timeout
func (reg *Registry) reap(now time.Time) int {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	n := 0
	for id, room := range reg.rooms {
		if !room.closeIfIdle(now, reg.opts.IdleTimeout) {
			continue
		}
		delete(reg.rooms, id)
		room.Stop()
		n++
		reg.log.Info("room reaped", "room", id)
		reg.analytics.Track(EvtRoomClosed, "", id, "")
	}
	return n
}

// Stop halts the reaper and every room clock
func (reg *Registry) Stop() {
	reg.stopOnce.Do(func() { close(reg.stop) })

	reg.mu.Lock()
	defer reg.mu.Unlock()
	for _, room := range reg.rooms {
		room.Stop()
	}
}
