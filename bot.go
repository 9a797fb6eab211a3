package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	BotUpdateInterval = 15 * time.Millisecond
	BotFrame          = time.Second / 60
	BotFireCooldown   = 2 * time.Second
	BotWanderFlipMin  = 1500 * time.Millisecond
	BotWanderFlipMax  = 4 * time.Second
	BotHitChance      = 0.3
	BotHitDamage      = 10.0
	BotDigDamage      = 25.0
	BotJumpChance     = 0.01 // per frame while walking

	botInboxSize = 256
)

var errBotDisconnected = errors.New("bot disconnected")

// Bot is a headless client driven over the websocket protocol. It runs the
// same replica and physics a browser would and paces its updates like one.
type Bot struct {
	Name   string
	URL    string
	RoomID string // empty creates a room

	log     *slog.Logger
	rng     *rand.Rand
	pace    *rate.Limiter
	replica *Replica
	conn    *websocket.Conn

	moveX    float64
	look     string
	nextFlip time.Time
	nextFire time.Time
}

// NewBot creates a bot that will join roomID on the server at url
func NewBot(url, name, roomID string, logger *slog.Logger, seed int64) *Bot {
	return &Bot{
		Name:    name,
		URL:     url,
		RoomID:  roomID,
		log:     logger.With("bot", name),
		rng:     rand.New(rand.NewSource(seed)),
		pace:    rate.NewLimiter(rate.Every(BotUpdateInterval), 1),
		replica: NewReplica(),
		look:    "right",
	}
}

// Run connects and plays until ctx is done or the connection drops
func (b *Bot) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, b.URL, nil)
	if err != nil {
		return fmt.Errorf("bot dial: %w", err)
	}
	b.conn = conn
	defer conn.Close()
	stopClose := context.AfterFunc(ctx, func() { conn.Close() })
	defer stopClose()

	inbox := make(chan Outbound, botInboxSize)
	go b.readLoop(ctx, inbox)

	if err := b.write(&PlayerJoinMsg{Name: b.Name, Binary: true}); err != nil {
		return err
	}
	if b.RoomID == "" {
		err = b.write(&CreateRoomMsg{})
	} else {
		err = b.write(&JoinRoomMsg{RoomID: b.RoomID})
	}
	if err != nil {
		return err
	}

	ticker := time.NewTicker(BotFrame)
	defer ticker.Stop()
	last := time.Now()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-inbox:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errBotDisconnected
			}
			if err := b.handle(msg); err != nil {
				return err
			}
		case now := <-ticker.C:
			dt := now.Sub(last).Seconds()
			last = now
			if err := b.frame(now, dt); err != nil {
				return err
			}
		}
	}
}

// readLoop decodes frames into inbox and closes it when the connection ends
// or ctx is done
func (b *Bot) readLoop(ctx context.Context, inbox chan<- Outbound) {
	defer close(inbox)
	for {
		mt, raw, err := b.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg Outbound
		if mt == websocket.BinaryMessage {
			msg, err = DecodeFrame(raw)
		} else {
			msg, err = DecodeOutbound(raw)
		}
		if err != nil {
			b.log.Debug("bot decode", "err", err)
			continue
		}
		select {
		case inbox <- msg:
		case <-ctx.Done():
			return
		}
	}
}

func (b *Bot) write(msg Inbound) error {
	data, err := EncodeInbound(msg)
	if err != nil {
		return err
	}
	b.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return b.conn.WriteMessage(websocket.TextMessage, data)
}

func (b *Bot) handle(msg Outbound) error {
	switch m := msg.(type) {
	case *RoomCreatedMsg:
		b.RoomID = m.Room.ID
		b.log.Info("bot created room", "room", m.Room.ID, "team", m.You.Team)
	case *RoomJoinedMsg:
		b.log.Info("bot joined room", "room", m.Room.ID, "team", m.You.Team)
	case *RoomFullMsg:
		return fmt.Errorf("room %s: %w", m.RoomID, ErrRoomFull)
	case *RoomNotFoundMsg:
		return fmt.Errorf("room %s: %w", m.RoomID, ErrRoomNotFound)
	case *RoomLockedMsg:
		return fmt.Errorf("room %s: %w", m.RoomID, ErrRoomLocked)
	case *ErrorMsg:
		b.log.Warn("server error", "msg", m.Msg)
	case *RespawnMsg:
		b.nextFire = time.Now().Add(BotFireCooldown)
	}
	if b.replica.Apply(msg) {
		b.log.Debug("world diverged, requesting snapshot")
		return b.write(&RequestSnapshotMsg{})
	}
	return nil
}

// frame runs one local physics step and sends whatever the bot decided
func (b *Bot) frame(now time.Time, dt float64) error {
	rp := b.replica
	if !rp.Joined() {
		return nil
	}
	b.replica.Step(b.think(now), dt)

	if rp.Self.Dead {
		// the server owns respawn; keep reporting the corpse
		if b.pace.Allow() {
			return b.write(rp.Update(b.look))
		}
		return nil
	}
	if !now.Before(b.nextFire) {
		b.nextFire = now.Add(BotFireCooldown)
		if err := b.fire(); err != nil {
			return err
		}
	}
	if b.pace.Allow() {
		return b.write(rp.Update(b.look))
	}
	return nil
}

// think picks this frame's input: wander, flip now and then, jump when blocked
func (b *Bot) think(now time.Time) Input {
	if !now.Before(b.nextFlip) {
		switch b.rng.Intn(3) {
		case 0:
			b.moveX = -1
			b.look = "left"
		case 1:
			b.moveX = 1
			b.look = "right"
		default:
			b.moveX = 0
		}
		span := BotWanderFlipMax - BotWanderFlipMin
		b.nextFlip = now.Add(BotWanderFlipMin + time.Duration(b.rng.Int63n(int64(span))))
	}
	self := b.replica.Self
	blocked := b.moveX != 0 && self.Velocity.X == 0
	return Input{
		MoveX: b.moveX,
		Jump:  self.Grounded && (blocked || b.rng.Float64() < BotJumpChance),
	}
}

// fire shoots at the nearest live player, or digs into the block ahead
func (b *Bot) fire() error {
	self := b.replica.Self
	from := self.Position.XY()

	if target, ok := b.nearest(); ok {
		ray := normalize(Vec2{X: target.Position.X - from.X, Y: target.Position.Y - from.Y})
		if err := b.write(&PlayerFiredMsg{RayDirection: ray, PlayerPosition: from}); err != nil {
			return err
		}
		dist := Distance(from.X, from.Y, target.Position.X, target.Position.Y)
		if dist <= DefaultBeamLength && b.rng.Float64() < BotHitChance {
			return b.write(&PlayerHitMsg{PlayerID: target.ID, Damage: BotHitDamage, RayDirection: ray})
		}
		return nil
	}

	dir := 1.0
	if b.look == "left" {
		dir = -1
	}
	x := int(math.Round(from.X + dir))
	for _, y := range []int{int(math.Round(from.Y)), int(math.Round(from.Y - 1))} {
		blk := b.replica.World.Block(x, y)
		if blk == nil || !blk.Destructible {
			continue
		}
		hit := Vec2{X: float64(x), Y: float64(y)}
		ray := normalize(Vec2{X: hit.X - from.X, Y: hit.Y - from.Y})
		if err := b.write(&PlayerFiredDamagedBlockMsg{RayDirection: ray, PlayerPosition: from, BlockPosition: &hit}); err != nil {
			return err
		}
		dmg := BotDigDamage
		return b.write(&BlockModifiedMsg{UpdateType: UpdateDamaged, X: x, Y: y, Damage: &dmg})
	}
	return nil
}

func (b *Bot) nearest() (PlayerState, bool) {
	from := b.replica.Self.Position
	best, found := PlayerState{}, false
	bestDist := math.Inf(1)
	for _, rem := range b.replica.Remotes {
		if !rem.State.Alive {
			continue
		}
		d := Distance(from.X, from.Y, rem.State.Position.X, rem.State.Position.Y)
		if d < bestDist {
			best, bestDist, found = rem.State, d, true
		}
	}
	return best, found
}
