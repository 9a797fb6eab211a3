package main

import (
	"math"
	"time"
)

// RespawnDelay is how long a dead player waits before the room revives them
const RespawnDelay = 3 * time.Second

// Team is a side in the arena
type Team string

const (
	TeamNone Team = ""
	TeamRed  Team = "red"
	TeamBlue Team = "blue"
)

// Opponent returns the other team
func (t Team) Opponent() Team {
	switch t {
	case TeamRed:
		return TeamBlue
	case TeamBlue:
		return TeamRed
	}
	return TeamNone
}

// Player is the room's roster entry for one connection
type Player struct {
	ID            string
	Key           string // stable identity from the player's token
	Name          string
	Team          Team
	Position      Vec3
	Velocity      Vec3
	Health        float64
	Alive         bool
	LookDirection string
	Timestamp     int64
	RespawnAt     time.Time
	LastUpdate    time.Time
}

// NewPlayer creates a live player at spawn
func NewPlayer(id, key, name string, team Team, spawn Vec2, now time.Time) *Player {
	p := &Player{ID: id, Key: key, Name: name, Team: team, LookDirection: "right"}
	p.Respawn(spawn, now)
	return p
}

// Apply merges a movement update. It returns true when the update takes the
// player from alive to dead.
func (p *Player) Apply(u *PlayerUpdateMsg, now time.Time) bool {
	p.LastUpdate = now
	if u.Position != nil && finiteVec(*u.Position) {
		p.Position = *u.Position
	}
	if u.Velocity != nil && finiteVec(*u.Velocity) {
		p.Velocity = *u.Velocity
	}
	if u.LookDirection == "left" || u.LookDirection == "right" {
		p.LookDirection = u.LookDirection
	}
	if u.Timestamp > p.Timestamp {
		p.Timestamp = u.Timestamp
	}
	// the room owns revival; a dead player's reported health is ignored
	if u.Health == nil || math.IsNaN(*u.Health) || !p.Alive {
		return false
	}
	p.Health = Clamp(*u.Health, 0, PlayerMaxHealth)
	if p.Alive && p.Health <= 0 {
		p.Alive = false
		p.RespawnAt = now.Add(RespawnDelay)
		return true
	}
	return false
}

// Respawn revives the player at spawn with full health
func (p *Player) Respawn(spawn Vec2, now time.Time) {
	p.Position = Vec3{X: spawn.X, Y: spawn.Y}
	p.Velocity = Vec3{}
	p.Health = PlayerMaxHealth
	p.Alive = true
	p.RespawnAt = time.Time{}
	p.LastUpdate = now
}

// RespawnDue reports whether a dead player's timer has expired
func (p *Player) RespawnDue(now time.Time) bool {
	return !p.Alive && !p.RespawnAt.IsZero() && !now.Before(p.RespawnAt)
}

// ToState converts to protocol state
func (p *Player) ToState() PlayerState {
	return PlayerState{
		ID:            p.ID,
		Name:          p.Name,
		Position:      p.Position,
		Velocity:      p.Velocity,
		Health:        p.Health,
		Team:          p.Team,
		Alive:         p.Alive,
		LookDirection: p.LookDirection,
	}
}

func finiteVec(v Vec3) bool {
	for _, f := range [3]float64{v.X, v.Y, v.Z} {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}
