package main

import "time"

// Phase is the round lifecycle state
type Phase string

const (
	PhaseActive Phase = "active"
	PhaseBreak  Phase = "break"
)

// Round winners
const (
	WinnerRed  = "red"
	WinnerBlue = "blue"
	WinnerTie  = "tie"
)

// RoundConfig holds the timing and scoring rules of a room
type RoundConfig struct {
	GameTime   time.Duration
	BreakTime  time.Duration
	ScoreToWin int
}

// DefaultRoundConfig returns the standard 10 minute round with a 30 second break
func DefaultRoundConfig() RoundConfig {
	return RoundConfig{
		GameTime:   600 * time.Second,
		BreakTime:  30 * time.Second,
		ScoreToWin: 3,
	}
}

// Transition is what a clock tick or score did to the round
type Transition int

const (
	NoTransition Transition = iota
	RoundEnded
	RoundRestarted
)

// RoundState tracks phase, clock, scores and flags
type RoundState struct {
	Config         RoundConfig
	Phase          Phase
	TimeRemaining  int // seconds
	RedScore       int
	BlueScore      int
	RedFlagStolen  bool
	BlueFlagStolen bool
	Number         int
	StartedAt      time.Time
}

// NewRoundState starts round 1
func NewRoundState(cfg RoundConfig, now time.Time) RoundState {
	rs := RoundState{Config: cfg}
	rs.Restart(now)
	return rs
}

// Restart resets scores and flags and begins a new active phase
func (rs *RoundState) Restart(now time.Time) {
	rs.Phase = PhaseActive
	rs.TimeRemaining = int(rs.Config.GameTime / time.Second)
	rs.RedScore, rs.BlueScore = 0, 0
	rs.RedFlagStolen, rs.BlueFlagStolen = false, false
	rs.Number++
	rs.StartedAt = now
}

// EndRound switches to the break phase
func (rs *RoundState) EndRound() {
	rs.Phase = PhaseBreak
	rs.TimeRemaining = int(rs.Config.BreakTime / time.Second)
}

// Tick advances the clock by one second
func (rs *RoundState) Tick(now time.Time) Transition {
	if rs.TimeRemaining > 0 {
		rs.TimeRemaining--
	}
	if rs.TimeRemaining > 0 {
		return NoTransition
	}
	if rs.Phase == PhaseActive {
		rs.EndRound()
		return RoundEnded
	}
	rs.Restart(now)
	return RoundRestarted
}

// Score credits team with a point and clears the opponent's stolen flag.
// Reports RoundEnded when the point reaches the win threshold during play.
func (rs *RoundState) Score(team Team) Transition {
	if rs.Phase != PhaseActive {
		return NoTransition
	}
	switch team {
	case TeamRed:
		rs.RedScore++
		rs.BlueFlagStolen = false
	case TeamBlue:
		rs.BlueScore++
		rs.RedFlagStolen = false
	default:
		return NoTransition
	}
	if rs.ScoreOf(team) >= rs.Config.ScoreToWin {
		rs.EndRound()
		return RoundEnded
	}
	return NoTransition
}

// ScoreOf returns team's score
func (rs *RoundState) ScoreOf(team Team) int {
	switch team {
	case TeamRed:
		return rs.RedScore
	case TeamBlue:
		return rs.BlueScore
	}
	return 0
}

// FlagStolen reports whether team's own flag is held by the other side
func (rs *RoundState) FlagStolen(team Team) bool {
	switch team {
	case TeamRed:
		return rs.RedFlagStolen
	case TeamBlue:
		return rs.BlueFlagStolen
	}
	return false
}

// TakeFlag marks the flag of team's opponent as stolen. False if it already was
// or the round is on break.
func (rs *RoundState) TakeFlag(team Team) bool {
	if rs.Phase != PhaseActive {
		return false
	}
	switch team.Opponent() {
	case TeamRed:
		if rs.RedFlagStolen {
			return false
		}
		rs.RedFlagStolen = true
	case TeamBlue:
		if rs.BlueFlagStolen {
			return false
		}
		rs.BlueFlagStolen = true
	default:
		return false
	}
	return true
}

// Winner returns red, blue or tie by score
func (rs *RoundState) Winner() string {
	switch {
	case rs.RedScore > rs.BlueScore:
		return WinnerRed
	case rs.BlueScore > rs.RedScore:
		return WinnerBlue
	}
	return WinnerTie
}

// AssignTeam picks the strictly smaller team, red on a tie
func AssignTeam(population map[Team]int) Team {
	if population[TeamBlue] < population[TeamRed] {
		return TeamBlue
	}
	return TeamRed
}
