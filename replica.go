package main

import (
	"time"
)

// Remote is the replica's view of another player in the room
type Remote struct {
	State  PlayerState
	Buffer *SnapshotBuffer
}

// Replica is the client-side copy of a room: the world, the local body and a
// sample buffer per remote player. It only mirrors server decisions; block
// changes arrive as mapUpdated and are applied without placement rules.
type Replica struct {
	SelfID  string
	Team    Team
	World   *World
	Self    *Body
	Remotes map[string]*Remote

	Phase     Phase
	RedScore  int
	BlueScore int

	now func() time.Time
}

// NewReplica creates an empty replica. The world fills in on bootstrap.
func NewReplica() *Replica {
	return &Replica{
		World:   NewWorld(),
		Remotes: make(map[string]*Remote),
		now:     time.Now,
	}
}

// Joined reports whether the replica has been placed in a room
func (rp *Replica) Joined() bool {
	return rp.Self != nil
}

// Apply folds one server message into the replica. It returns true when the
// world has diverged and a fresh snapshot should be requested.
func (rp *Replica) Apply(msg Outbound) bool {
	switch m := msg.(type) {
	case *RoomCreatedMsg:
		rp.enter(m.You)
	case *RoomJoinedMsg:
		rp.enter(m.You)
	case *RoomLeftMsg:
		rp.Self = nil
		rp.SelfID = ""
		rp.World = NewWorld()
		rp.Remotes = make(map[string]*Remote)
	case *InitialWorldStateMsg:
		rp.World.LoadSnapshot(m.Blocks)
		return rp.World.Checksum() != m.Checksum
	case *InitialPlayerStatesMsg:
		rp.Remotes = make(map[string]*Remote, len(*m))
		for _, ps := range *m {
			rp.track(ps)
		}
	case *PlayerJoinedMsg:
		rp.track(m.Player)
	case *PlayerLeftMsg:
		delete(rp.Remotes, m.ID)
	case *PlayerMovedMsg:
		rem, ok := rp.Remotes[m.ID]
		if !ok {
			rem = rp.track(PlayerState{ID: m.ID, Alive: true})
		}
		rem.State.Position = m.Position
		rem.State.Velocity = m.Velocity
		rem.State.Health = m.Health
		rem.State.Alive = m.Health > 0
		rem.State.LookDirection = m.LookDirection
		rem.Buffer.Push(Sample{At: rp.now(), Position: m.Position, Velocity: m.Velocity})
	case *PlayerRespawnedMsg:
		if rem, ok := rp.Remotes[m.ID]; ok {
			rem.State.Position = m.Position
			rem.State.Health = m.Health
			rem.State.Alive = true
			rem.Buffer = NewSnapshotBuffer()
			rem.Buffer.Push(Sample{At: rp.now(), Position: m.Position})
		}
	case *PlayerDamagedMsg:
		if m.PlayerID == rp.SelfID && rp.Self != nil {
			rp.Self.Damage(m.RayDirection, m.Damage)
		}
	case *RespawnMsg:
		if rp.Self != nil {
			rp.Self.Respawn(m.Position.XY())
			rp.Self.Health = m.Health
		}
	case *MapUpdatedMsg:
		rp.applyMapUpdate(m)
	case *GameStateUpdateMsg:
		rp.Phase = m.Phase
		rp.RedScore = m.RedTeamScore
		rp.BlueScore = m.BlueTeamScore
		return rp.Joined() && m.Checksum != "" && rp.World.Checksum() != m.Checksum
	case *RoundStartedMsg:
		rp.Phase = PhaseActive
	case *RoundOverMsg:
		rp.Phase = PhaseBreak
	}
	return false
}

func (rp *Replica) enter(you PlayerState) {
	rp.SelfID = you.ID
	rp.Team = you.Team
	rp.Self = NewBody(you.Position.XY())
	rp.Self.Health = you.Health
	rp.Remotes = make(map[string]*Remote)
}

func (rp *Replica) track(ps PlayerState) *Remote {
	rem := &Remote{State: ps, Buffer: NewSnapshotBuffer()}
	rem.Buffer.Push(Sample{At: rp.now(), Position: ps.Position, Velocity: ps.Velocity})
	rp.Remotes[ps.ID] = rem
	return rem
}

func (rp *Replica) applyMapUpdate(m *MapUpdatedMsg) {
	switch m.UpdateType {
	case UpdateAdded:
		var health float64
		if m.Health != nil {
			health = *m.Health
		}
		rp.World.Set(NewBlock(m.X, m.Y, m.Kind, health))
	case UpdateDamaged:
		if b := rp.World.Block(m.X, m.Y); b != nil && m.Health != nil {
			b.Health = *m.Health
		}
	case UpdateRemoved:
		rp.World.Delete(m.X, m.Y)
	}
}

// Step advances the local body by dt seconds
func (rp *Replica) Step(in Input, dt float64) {
	if rp.Self != nil {
		rp.Self.Step(rp.World, in, dt)
	}
}

// Update returns the movement message for the local body
func (rp *Replica) Update(look string) *PlayerUpdateMsg {
	if rp.Self == nil {
		return nil
	}
	pos, vel, health := rp.Self.Position, rp.Self.Velocity, rp.Self.Health
	return &PlayerUpdateMsg{
		Position:      &pos,
		Velocity:      &vel,
		Health:        &health,
		LookDirection: look,
		Timestamp:     rp.now().UnixMilli(),
	}
}

// RemotePosition returns where a remote player should be drawn at t
func (rp *Replica) RemotePosition(id string, t time.Time) (Vec3, bool) {
	rem, ok := rp.Remotes[id]
	if !ok {
		return Vec3{}, false
	}
	return rem.Buffer.Sample(t)
}
