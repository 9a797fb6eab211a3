package main

import (
	"errors"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	TickInterval      = 100 * time.Millisecond
	ticksPerSecond    = uint64(time.Second / TickInterval)
	DefaultMaxPlayers = 8
	MaxPlayersLimit   = 32
	DefaultBeamLength = 40.0
	maxHitDamage      = 100.0
	spawnDropHeight   = 3.0 // above the column surface
)

var (
	ErrRoomNotFound  = errors.New("room not found")
	ErrRoomFull      = errors.New("room full")
	ErrRoomLocked    = errors.New("room locked")
	ErrTooManyRooms  = errors.New("too many active rooms")
	ErrAlreadyInRoom = errors.New("already in a room")
)

// Broadcaster is a room member's outbound channel
type Broadcaster interface {
	Send(msg Outbound)
	SendBinary(frame []byte)
	WantsBinary() bool
}

// RoomOptions configures a new room
type RoomOptions struct {
	MaxPlayers   int
	WorldWidth   int
	Round        RoundConfig
	PasswordHash []byte
	CompressAt   int // binary bootstrap lz4 threshold in bytes
}

// Room is one arena: a world, a roster and a round clock. All state is guarded
// by mu and every operation runs to completion under it.
type Room struct {
	ID          string
	CreatorName string
	CreatedAt   time.Time

	maxPlayers   int
	passwordHash []byte
	worldWidth   int
	compressAt   int

	log       *slog.Logger
	analytics *Analytics
	now       func() time.Time

	mu         sync.Mutex
	world      *World
	players    map[Broadcaster]*Player
	byID       map[string]Broadcaster
	population map[Team]int
	round      RoundState
	spawns     map[Team]Vec2
	tick       uint64
	lastActive time.Time
	closed     bool

	stop     chan struct{}
	stopOnce sync.Once
}

// NewRoom creates a room with a freshly generated world. Call Run to start its clock.
func NewRoom(id, creator string, opts RoomOptions, logger *slog.Logger, analytics *Analytics) *Room {
	if opts.MaxPlayers <= 0 {
		opts.MaxPlayers = DefaultMaxPlayers
	}
	if opts.WorldWidth <= 0 {
		opts.WorldWidth = DefaultWorldWidth
	}
	if opts.Round == (RoundConfig{}) {
		opts.Round = DefaultRoundConfig()
	}
	now := time.Now()
	r := &Room{
		ID:           id,
		CreatorName:  creator,
		CreatedAt:    now,
		maxPlayers:   opts.MaxPlayers,
		passwordHash: opts.PasswordHash,
		worldWidth:   opts.WorldWidth,
		compressAt:   opts.CompressAt,
		log:          logger.With("room", id),
		analytics:    analytics,
		now:          time.Now,
		players:      make(map[Broadcaster]*Player),
		byID:         make(map[string]Broadcaster),
		population:   make(map[Team]int),
		round:        NewRoundState(opts.Round, now),
		lastActive:   now,
		stop:         make(chan struct{}),
	}
	r.resetWorld()
	return r
}

// Run drives the room clock until Stop
func (r *Room) Run() {
	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.update()
		case <-r.stop:
			return
		}
	}
}

// Stop terminates the room clock. Safe to call more than once.
func (r *Room) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
}

// Locked reports whether the room needs a password
func (r *Room) Locked() bool {
	return len(r.passwordHash) > 0
}

// Info returns the room list entry
func (r *Room) Info() RoomInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.infoLocked()
}

func (r *Room) infoLocked() RoomInfo {
	return RoomInfo{
		ID:          r.ID,
		CreatorName: r.CreatorName,
		PlayerCount: len(r.players),
		MaxPlayers:  r.maxPlayers,
		CreatedAt:   r.CreatedAt.UnixMilli(),
		IsFull:      len(r.players) >= r.maxPlayers,
		Locked:      r.Locked(),
	}
}

// PlayerCount returns the number of players
func (r *Room) PlayerCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.players)
}

// closeIfIdle marks an empty room closed once it has been idle for timeout.
// A closed room rejects joins.
func (r *Room) closeIfIdle(now time.Time, timeout time.Duration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return true
	}
	if len(r.players) > 0 || now.Sub(r.lastActive) < timeout {
		return false
	}
	r.closed = true
	return true
}

func (r *Room) resetWorld() {
	r.world = Generate(r.worldWidth)
	r.spawns = map[Team]Vec2{
		TeamRed:  r.spawnAt(3),
		TeamBlue: r.spawnAt(r.worldWidth - 4),
	}
}

// spawnAt drops a body onto column x from just above its highest block
func (r *Room) spawnAt(x int) Vec2 {
	top, _ := r.world.SurfaceAt(x)
	return Settle(r.world, float64(x), float64(top)+spawnDropHeight)
}

// AddPlayer puts conn on the roster. Returns false when the room is full.
func (r *Room) AddPlayer(conn Broadcaster, ident Identity) (*Player, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.addPlayerLocked(conn, ident)
}

func (r *Room) addPlayerLocked(conn Broadcaster, ident Identity) (*Player, bool) {
	if len(r.players) >= r.maxPlayers {
		return nil, false
	}
	if _, ok := r.players[conn]; ok {
		return nil, false
	}
	now := r.now()
	team := AssignTeam(r.population)
	r.population[team]++
	p := NewPlayer(uuid.NewString(), ident.Key, ident.Name, team, r.spawns[team], now)
	r.players[conn] = p
	r.byID[p.ID] = conn
	r.lastActive = now
	return p, true
}

// Join adds conn to the room and sends it the bootstrap. Everyone else learns
// about the newcomer through playerJoined.
func (r *Room) Join(conn Broadcaster, ident Identity, password string) (*Player, error) {
	if err := r.Admits(password); err != nil {
		return nil, err
	}
	return r.enter(conn, ident, false)
}

// Admits reports why a join with password would be refused right now, or nil.
// It changes nothing, so callers can check before leaving their current room.
func (r *Room) Admits(password string) error {
	if r.Locked() && !CheckPassword(r.passwordHash, password) {
		return ErrRoomLocked
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrRoomNotFound
	}
	if len(r.players) >= r.maxPlayers {
		return ErrRoomFull
	}
	return nil
}

// enter adds conn without a password check. The room can still fill or close
// between Admits and enter, so both errors are rechecked here.
func (r *Room) enter(conn Broadcaster, ident Identity, created bool) (*Player, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrRoomNotFound
	}
	p, ok := r.addPlayerLocked(conn, ident)
	if !ok {
		return nil, ErrRoomFull
	}

	info := r.infoLocked()
	if created {
		conn.Send(RoomCreatedMsg{Room: info, You: p.ToState()})
	} else {
		conn.Send(RoomJoinedMsg{Room: info, You: p.ToState()})
	}
	r.bootstrapLocked(conn, p)
	r.broadcastLocked(PlayerJoinedMsg{Player: p.ToState()}, conn)
	conn.Send(r.stateLocked())

	r.log.Info("player joined", "player", p.ID, "name", p.Name, "team", p.Team, "players", len(r.players))
	r.analytics.Track(EvtPlayerJoined, p.Key, r.ID, "")
	return p, nil
}

// RemovePlayer drops conn from the roster and tells the rest of the room.
// Returns false if conn was not a member, so the departure is announced once.
func (r *Room) RemovePlayer(conn Broadcaster) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.players[conn]
	if !ok {
		return false
	}
	delete(r.players, conn)
	delete(r.byID, p.ID)
	if p.Team == TeamNone {
		r.log.Warn("removed player had no team", "player", p.ID)
	} else {
		r.population[p.Team]--
	}
	r.world.ClearGhost(p.ID)
	r.lastActive = r.now()

	r.broadcastLocked(PlayerLeftMsg{ID: p.ID}, nil)
	r.log.Info("player left", "player", p.ID, "players", len(r.players))
	r.analytics.Track(EvtPlayerLeft, p.Key, r.ID, "")
	return true
}

// Player returns a copy of conn's roster entry
func (r *Room) Player(conn Broadcaster) (Player, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.players[conn]
	if !ok {
		return Player{}, false
	}
	return *p, true
}

// UpdatePlayer merges a movement update and relays it to the other members
func (r *Room) UpdatePlayer(conn Broadcaster, u *PlayerUpdateMsg) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.players[conn]
	if !ok {
		r.log.Debug("update for unknown player dropped")
		return false
	}
	now := r.now()
	died := p.Apply(u, now)
	if !died && p.Alive && p.Position.Y < r.world.DeathFloor {
		p.Health = 0
		p.Alive = false
		p.RespawnAt = now.Add(RespawnDelay)
		died = true
	}
	if died {
		r.log.Debug("player died", "player", p.ID)
		r.analytics.Track(EvtPlayerDied, p.Key, r.ID, "")
	}
	r.broadcastLocked(PlayerMovedMsg{
		ID:            p.ID,
		Position:      p.Position,
		Velocity:      p.Velocity,
		Health:        p.Health,
		LookDirection: p.LookDirection,
		Timestamp:     p.Timestamp,
	}, conn)
	return true
}

// Fire relays a shot to the other members
func (r *Room) Fire(conn Broadcaster, shot Shot) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.players[conn]
	if !ok || !p.Alive {
		return false
	}
	beam := DefaultBeamLength
	if shot.BlockPosition != nil {
		beam = Distance(shot.PlayerPosition.X, shot.PlayerPosition.Y, shot.BlockPosition.X, shot.BlockPosition.Y)
	}
	r.broadcastLocked(OtherPlayerFiredMsg{Shot: shot, SenderID: p.ID, BeamLength: beam}, conn)
	return true
}

// Hit relays a hit reported by the attacker. Both players must be live
// members; damage is clamped. The victim applies it and reports its health
// through its own updates.
func (r *Room) Hit(conn Broadcaster, hit *PlayerHitMsg) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	attacker, ok := r.players[conn]
	if !ok || !attacker.Alive {
		return false
	}
	victimConn, ok := r.byID[hit.PlayerID]
	if !ok || victimConn == conn {
		return false
	}
	victim := r.players[victimConn]
	if !victim.Alive || math.IsNaN(hit.Damage) || hit.Damage <= 0 {
		return false
	}
	r.broadcastLocked(PlayerDamagedMsg{
		PlayerID:     victim.ID,
		Damage:       math.Min(hit.Damage, maxHitDamage),
		RayDirection: hit.RayDirection,
		AttackerID:   attacker.ID,
	}, nil)
	return true
}

// ModifyBlock applies a block intent to the world and broadcasts one
// mapUpdated per affected cell to every member, the sender included.
func (r *Room) ModifyBlock(conn Broadcaster, m *BlockModifiedMsg) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.players[conn]
	if !ok || !p.Alive {
		return false
	}

	switch m.UpdateType {
	case UpdateAdded:
		kind := ParseBlockKind(m.Kind)
		var health float64
		if m.Health != nil {
			health = *m.Health
		}
		b := NewBlock(m.X, m.Y, kind, health)
		if kind == KindSteel || r.blockedByPlayerLocked(b) {
			conn.Send(PlacementRejectedMsg{X: m.X, Y: m.Y})
			return false
		}
		if _, ok := r.world.insert(b, true); !ok {
			conn.Send(PlacementRejectedMsg{X: m.X, Y: m.Y})
			return false
		}
		h := b.Health
		r.broadcastLocked(MapUpdatedMsg{UpdateType: UpdateAdded, X: b.X, Y: b.Y, Health: &h, Kind: b.Kind}, nil)
		r.analytics.Track(EvtBlockPlaced, p.Key, r.ID, "")
		return true

	case UpdateDamaged:
		b := r.world.Block(m.X, m.Y)
		if b == nil {
			return false
		}
		var amount float64
		switch {
		case m.Damage != nil:
			amount = *m.Damage
		case m.Health != nil:
			amount = b.Health - *m.Health
		}
		if math.IsNaN(amount) {
			return false
		}
		res := r.world.DamageBlock(m.X, m.Y, amount)
		switch res.Outcome {
		case DamageDamaged:
			h := res.Health
			r.broadcastLocked(MapUpdatedMsg{UpdateType: UpdateDamaged, X: m.X, Y: m.Y, Health: &h}, nil)
			return true
		case DamageDestroyed:
			r.broadcastRemovedLocked(p, res.Removed)
			return true
		}
		return false

	case UpdateRemoved:
		removed := r.world.RemoveBlock(m.X, m.Y)
		if len(removed) == 0 {
			return false
		}
		r.broadcastRemovedLocked(p, removed)
		return true
	}
	return false
}

func (r *Room) blockedByPlayerLocked(b *Block) bool {
	bounds := b.Bounds()
	for _, p := range r.players {
		if p.Alive && BoxAt(p.Position.X, p.Position.Y, PlayerSize).Intersects(bounds) {
			return true
		}
	}
	return false
}

func (r *Room) broadcastRemovedLocked(p *Player, removed []Coord) {
	for _, c := range removed {
		r.broadcastLocked(MapUpdatedMsg{UpdateType: UpdateRemoved, X: c.X, Y: c.Y}, nil)
	}
	r.analytics.Track(EvtBlockDestroyed, p.Key, r.ID, "")
	if len(removed) > 1 {
		r.log.Debug("cascade", "cells", len(removed), "origin", removed[0].Key())
	}
}

// MoveGhost records the sender's placement preview and shows it to the others
func (r *Room) MoveGhost(conn Broadcaster, x, y int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.players[conn]
	if !ok {
		return false
	}
	valid := r.world.SetGhost(p.ID, x, y)
	r.broadcastLocked(GhostUpdatedMsg{ID: p.ID, X: x, Y: y, Valid: valid}, conn)
	return true
}

// ClearGhost removes the sender's preview
func (r *Room) ClearGhost(conn Broadcaster) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.players[conn]
	if !ok {
		return false
	}
	c, had := r.world.Ghost(p.ID)
	if !had || !r.world.ClearGhost(p.ID) {
		return false
	}
	r.broadcastLocked(GhostUpdatedMsg{ID: p.ID, X: c.X, Y: c.Y, Cleared: true}, conn)
	return true
}

// FlagTaken marks the opposing flag as carried by the sender's team
func (r *Room) FlagTaken(conn Broadcaster) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.players[conn]
	if !ok || !p.Alive || !r.round.TakeFlag(p.Team) {
		return false
	}
	r.broadcastLocked(r.stateLocked(), nil)
	return true
}

// FlagCaptured scores for the sender's team if it holds the opposing flag
func (r *Room) FlagCaptured(conn Broadcaster) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.players[conn]
	if !ok || !p.Alive || !r.round.FlagStolen(p.Team.Opponent()) {
		return false
	}
	if !r.playerScoredLocked(p.Team) {
		return false
	}
	r.analytics.Track(EvtFlagCaptured, p.Key, r.ID, "")
	return true
}

// PlayerScored credits team with a point
func (r *Room) PlayerScored(team Team) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.playerScoredLocked(team)
}

func (r *Room) playerScoredLocked(team Team) bool {
	if r.round.Phase != PhaseActive || (team != TeamRed && team != TeamBlue) {
		return false
	}
	if r.round.Score(team) == RoundEnded {
		r.endRoundLocked()
	}
	r.broadcastLocked(r.stateLocked(), nil)
	return true
}

// SendSnapshot re-sends the bootstrap to conn
func (r *Room) SendSnapshot(conn Broadcaster) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.players[conn]
	if !ok {
		return false
	}
	r.bootstrapLocked(conn, p)
	return true
}

// update runs one room tick
func (r *Room) update() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.tick++
	now := r.now()
	r.sweepRespawnsLocked(now)

	if r.tick%ticksPerSecond != 0 {
		return
	}
	switch r.round.Tick(now) {
	case RoundEnded:
		r.endRoundLocked()
	case RoundRestarted:
		r.restartRoundLocked()
	}
	r.broadcastLocked(r.stateLocked(), nil)
}

func (r *Room) sweepRespawnsLocked(now time.Time) {
	for conn, p := range r.players {
		if !p.RespawnDue(now) {
			continue
		}
		p.Respawn(r.spawns[p.Team], now)
		conn.Send(RespawnMsg{Position: p.Position, Health: p.Health})
		r.broadcastLocked(PlayerRespawnedMsg{ID: p.ID, Position: p.Position, Health: p.Health}, conn)
	}
}

func (r *Room) endRoundLocked() {
	winner := r.round.Winner()
	r.broadcastLocked(RoundOverMsg{
		Winner:        winner,
		RedTeamScore:  r.round.RedScore,
		BlueTeamScore: r.round.BlueScore,
	}, nil)

	now := r.now()
	roster := make(map[string]Team, len(r.players))
	for _, p := range r.players {
		roster[p.Key] = p.Team
	}
	r.analytics.RecordRound(RoundRecord{
		RoomID:    r.ID,
		Number:    r.round.Number,
		Winner:    winner,
		RedScore:  r.round.RedScore,
		BlueScore: r.round.BlueScore,
		Duration:  now.Sub(r.round.StartedAt),
		EndedAt:   now,
		Players:   roster,
	})
	r.analytics.Track(EvtRoundEnd, "", r.ID, "")
	r.log.Info("round over", "round", r.round.Number, "winner", winner,
		"red", r.round.RedScore, "blue", r.round.BlueScore)
}

func (r *Room) restartRoundLocked() {
	r.resetWorld()
	now := r.now()
	r.broadcastLocked(RoundStartedMsg{TimeRemaining: r.round.TimeRemaining}, nil)
	for conn, p := range r.players {
		p.Respawn(r.spawns[p.Team], now)
		conn.Send(RespawnMsg{Position: p.Position, Health: p.Health})
		r.bootstrapLocked(conn, p)
	}
	r.log.Info("round started", "round", r.round.Number)
}

func (r *Room) stateLocked() GameStateUpdateMsg {
	return GameStateUpdateMsg{
		TimeRemaining:  r.round.TimeRemaining,
		RedTeamScore:   r.round.RedScore,
		BlueTeamScore:  r.round.BlueScore,
		Phase:          r.round.Phase,
		RedFlagStolen:  r.round.RedFlagStolen,
		BlueFlagStolen: r.round.BlueFlagStolen,
		Checksum:       r.world.Checksum(),
	}
}

// bootstrapLocked sends the full world and the rest of the roster to conn
func (r *Room) bootstrapLocked(conn Broadcaster, self *Player) {
	entries := r.world.Snapshot()
	worldMsg := InitialWorldStateMsg{Blocks: entries, Checksum: checksumEntries(entries)}

	roster := make(InitialPlayerStatesMsg, 0, len(r.players))
	for _, p := range r.players {
		if p != self {
			roster = append(roster, p.ToState())
		}
	}

	if conn.WantsBinary() {
		wf, werr := EncodeFrame(FrameWorld, worldMsg, r.compressAt)
		pf, perr := EncodeFrame(FramePlayers, roster, r.compressAt)
		err := errors.Join(werr, perr)
		if err == nil {
			conn.SendBinary(wf)
			conn.SendBinary(pf)
			return
		}
		r.log.Error("encode bootstrap frames, falling back to json", "err", err)
	}
	conn.Send(worldMsg)
	conn.Send(roster)
}

// broadcastLocked sends msg to every member except skip
func (r *Room) broadcastLocked(msg Outbound, skip Broadcaster) {
	for conn := range r.players {
		if conn != skip {
			conn.Send(msg)
		}
	}
}
