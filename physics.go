package main

import (
	"math"
	"math/rand"
	"sort"
	"time"
)

const (
	Gravity          = -10.0
	TerminalVelocity = -30.0
	Friction         = 0.25 // per step
	SnapThreshold    = 0.05
	MoveAccel        = 0.5
	MaxMoveSpeed     = 6.0
	JumpSpeed        = 10.0
	GroundProbe      = 0.01
	QueryMargin      = 2.0
	PlayerWidth      = 0.75
	PlayerHeight     = 1.75
	PlayerMaxHealth  = 100.0

	minMove = 0.01
)

// PlayerSize is the collision box of every player body
var PlayerSize = Vec2{X: PlayerWidth, Y: PlayerHeight}

// Input is one frame of player intent
type Input struct {
	MoveX float64 // -1..1
	Jump  bool
}

// Body is a simulated player: position is the center of its box
type Body struct {
	Position Vec3
	Velocity Vec3
	Size     Vec2
	Grounded bool
	Dead     bool
	Health   float64

	// Rand picks the tumble direction on death. nil uses math/rand.
	Rand func() float64
}

// NewBody creates a live body at spawn
func NewBody(spawn Vec2) *Body {
	b := &Body{Size: PlayerSize}
	b.Respawn(spawn)
	return b
}

// Step advances the body by dt seconds against w
func (b *Body) Step(w BlockQuery, in Input, dt float64) {
	if b.Dead {
		b.stepDead(dt)
		return
	}

	b.Grounded = collidesAt(w, b.Position.X, b.Position.Y-GroundProbe, b.Size)

	if !b.Grounded {
		if b.Velocity.Y < TerminalVelocity {
			b.Velocity.Y = TerminalVelocity
		} else {
			b.Velocity.Y += Gravity * dt
		}
	}

	if in.MoveX != 0 {
		b.Velocity.X = Clamp(b.Velocity.X+in.MoveX*MoveAccel, -MaxMoveSpeed, MaxMoveSpeed)
	} else {
		b.Velocity.X = decay(b.Velocity.X, Friction)
	}

	if in.Jump && b.Grounded {
		b.Velocity.Y = JumpSpeed
		b.Grounded = false
	}

	if math.Abs(b.Velocity.X) >= minMove {
		nx := b.Position.X + b.Velocity.X*dt
		if collidesAt(w, nx, b.Position.Y, b.Size) {
			b.Velocity.X = 0
		} else {
			b.Position.X = nx
		}
	}

	if math.Abs(b.Velocity.Y) >= minMove {
		ny := b.Position.Y + b.Velocity.Y*dt
		if hits := overlapping(w, b.Position.X, ny, b.Size); len(hits) > 0 {
			b.snapY(hits)
			if b.Velocity.Y < 0 {
				b.Grounded = true
			}
			b.Velocity.Y = 0
		} else {
			b.Position.Y = ny
			b.Grounded = false
		}
	}

	if b.Position.Y < w.FloorY() {
		b.Dead = true
		b.Health = 0
	}
}

// snapY moves the body flush against the blocks it would have entered
func (b *Body) snapY(hits []*Block) {
	half := b.Size.Y / 2
	if b.Velocity.Y < 0 {
		top := math.Inf(-1)
		for _, h := range hits {
			top = math.Max(top, h.Bounds().MaxY)
		}
		if y := top + half; y <= b.Position.Y {
			b.Position.Y = y
		}
		return
	}
	bottom := math.Inf(1)
	for _, h := range hits {
		bottom = math.Min(bottom, h.Bounds().MinY)
	}
	if y := bottom - half; y >= b.Position.Y {
		b.Position.Y = y
	}
}

// stepDead integrates a corpse: no collisions, the z impulse decays
func (b *Body) stepDead(dt float64) {
	if b.Velocity.Y > TerminalVelocity {
		b.Velocity.Y += Gravity * dt
	}
	b.Velocity.X = decay(b.Velocity.X, Friction)
	b.Velocity.Z = decay(b.Velocity.Z, Friction)
	b.Position.X += b.Velocity.X * dt
	b.Position.Y += b.Velocity.Y * dt
	b.Position.Z += b.Velocity.Z * dt
}

// decay moves v toward zero by f, snapping small values to zero
func decay(v, f float64) float64 {
	if math.Abs(v) < SnapThreshold {
		return 0
	}
	if v > 0 {
		return math.Max(0, v-f)
	}
	return math.Min(0, v+f)
}

// Damage applies a hit along ray. Returns true only on the hit that kills.
func (b *Body) Damage(ray Vec2, amount float64) bool {
	if b.Dead {
		return false
	}
	b.Health = math.Max(0, b.Health-amount)
	b.Velocity.X += ray.X * 10
	b.Velocity.Y += ray.Y * 15
	b.Grounded = false
	if b.Health > 0 {
		return false
	}
	b.Dead = true
	b.Velocity.X += ray.X * 20
	b.Velocity.Y += 20
	roll := rand.Float64
	if b.Rand != nil {
		roll = b.Rand
	}
	if roll() > 0.5 {
		b.Velocity.Z += 5
	} else {
		b.Velocity.Z -= 5
	}
	return true
}

// Respawn resets the body at spawn with full health
func (b *Body) Respawn(spawn Vec2) {
	b.Position = Vec3{X: spawn.X, Y: spawn.Y}
	b.Velocity = Vec3{}
	b.Grounded = false
	b.Dead = false
	b.Health = PlayerMaxHealth
	if b.Size == (Vec2{}) {
		b.Size = PlayerSize
	}
}

// Settle drops a body from (x, y) until it lands and returns where it rests.
// Used to place team spawn points on generated terrain.
func Settle(w BlockQuery, x, y float64) Vec2 {
	b := NewBody(Vec2{X: x, Y: y})
	const dt = 1.0 / 60
	for i := 0; i < 600; i++ {
		b.Step(w, Input{}, dt)
		if b.Grounded || b.Dead {
			break
		}
	}
	return b.Position.XY()
}

// Sample is one received state of a remote entity
type Sample struct {
	At       time.Time
	Position Vec3
	Velocity Vec3
}

// SnapshotWindow is how long a SnapshotBuffer keeps samples
const SnapshotWindow = 500 * time.Millisecond

// SnapshotBuffer holds a rolling window of samples for one remote entity.
// It only smooths display; it never rewinds local state.
type SnapshotBuffer struct {
	samples []Sample
	window  time.Duration
}

// NewSnapshotBuffer creates a buffer with the default window
func NewSnapshotBuffer() *SnapshotBuffer {
	return &SnapshotBuffer{window: SnapshotWindow}
}

// Push appends s and prunes samples older than the window relative to s
func (sb *SnapshotBuffer) Push(s Sample) {
	i := sort.Search(len(sb.samples), func(i int) bool {
		return sb.samples[i].At.After(s.At)
	})
	sb.samples = append(sb.samples, Sample{})
	copy(sb.samples[i+1:], sb.samples[i:])
	sb.samples[i] = s

	newest := sb.samples[len(sb.samples)-1].At
	cut := 0
	for cut < len(sb.samples)-1 && newest.Sub(sb.samples[cut].At) > sb.window {
		cut++
	}
	sb.samples = sb.samples[cut:]
}

// Len returns the number of buffered samples
func (sb *SnapshotBuffer) Len() int {
	return len(sb.samples)
}

// Latest returns the newest sample
func (sb *SnapshotBuffer) Latest() (Sample, bool) {
	if len(sb.samples) == 0 {
		return Sample{}, false
	}
	return sb.samples[len(sb.samples)-1], true
}

// Sample interpolates the position at t, clamped to the buffered range
func (sb *SnapshotBuffer) Sample(t time.Time) (Vec3, bool) {
	n := len(sb.samples)
	if n == 0 {
		return Vec3{}, false
	}
	if !t.After(sb.samples[0].At) {
		return sb.samples[0].Position, true
	}
	if !t.Before(sb.samples[n-1].At) {
		return sb.samples[n-1].Position, true
	}
	for i := 1; i < n; i++ {
		b := sb.samples[i]
		if t.After(b.At) {
			continue
		}
		a := sb.samples[i-1]
		span := b.At.Sub(a.At)
		if span <= 0 {
			return b.Position, true
		}
		f := float64(t.Sub(a.At)) / float64(span)
		return Vec3{
			X: a.Position.X + (b.Position.X-a.Position.X)*f,
			Y: a.Position.Y + (b.Position.Y-a.Position.Y)*f,
			Z: a.Position.Z + (b.Position.Z-a.Position.Z)*f,
		}, true
	}
	return sb.samples[n-1].Position, true
}
