package main

import (
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufSize    = 256
	binaryMarker   = 0xFF
)

// Client represents a WebSocket connection
type Client struct {
	hub        *Hub
	conn       *websocket.Conn
	send       chan []byte
	remoteAddr string
	log        *slog.Logger
	limiter    *rate.Limiter

	ident  Identity
	binary atomic.Bool
}

// NewClient creates a new Client
func NewClient(hub *Hub, conn *websocket.Conn, remoteAddr string) *Client {
	return &Client{
		hub:        hub,
		conn:       conn,
		send:       make(chan []byte, sendBufSize),
		remoteAddr: remoteAddr,
		log:        hub.log.With("remote", remoteAddr),
		limiter:    rate.NewLimiter(rate.Limit(hub.cfg.MsgRate), hub.cfg.MsgBurst),
	}
}

// ReadPump reads messages from the WebSocket connection
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Detach(c)
		c.hub.TrackDisconnect(c.remoteAddr)
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		msgType, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn("ws read error", "err", err)
			}
			return
		}
		if !c.limiter.Allow() {
			c.log.Debug("rate limited, dropping message")
			continue
		}
		if msgType != websocket.TextMessage {
			continue
		}
		msg, err := DecodeInbound(raw)
		if err != nil {
			c.log.Debug("bad message", "err", err)
			continue
		}
		c.dispatch(msg)
	}
}

// WritePump writes messages to the WebSocket connection
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			var err error
			if len(message) > 0 && message[0] == binaryMarker {
				err = c.conn.WriteMessage(websocket.BinaryMessage, message[1:])
			} else {
				err = c.conn.WriteMessage(websocket.TextMessage, message)
			}
			if err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Send encodes msg and queues it as a text frame
func (c *Client) Send(msg Outbound) {
	data, err := EncodeMessage(msg)
	if err != nil {
		c.log.Error("encode", "err", err)
		return
	}
	c.SendRaw(data)
}

// SendRaw queues pre-marshaled bytes as a text frame
func (c *Client) SendRaw(data []byte) {
	defer func() { recover() }()
	select {
	case c.send <- data:
	default:
		// Client too slow, drop message
	}
}

// SendBinary queues a binary frame. The marker byte tells WritePump the
// frame type and is stripped before writing.
func (c *Client) SendBinary(data []byte) {
	defer func() { recover() }()
	msg := make([]byte, len(data)+1)
	msg[0] = binaryMarker
	copy(msg[1:], data)
	select {
	case c.send <- msg:
	default:
	}
}

// WantsBinary reports whether the client asked for binary bootstrap frames
func (c *Client) WantsBinary() bool {
	return c.binary.Load()
}

// dispatch routes a decoded message. Every Inbound type has a case.
func (c *Client) dispatch(msg Inbound) {
	switch m := msg.(type) {
	case *PlayerJoinMsg:
		c.handlePlayerJoin(m)
	case *ListRoomsMsg:
		c.Send(RoomListMsg(c.hub.rooms.List()))
	case *CreateRoomMsg:
		c.handleCreateRoom(m)
	case *JoinRoomMsg:
		c.handleJoinRoom(m)
	case *LeaveRoomMsg:
		if c.hub.rooms.Leave(c) {
			c.Send(RoomLeftMsg{})
		}
	case *PlayerUpdateMsg:
		if room := c.room(m); room != nil {
			room.UpdatePlayer(c, m)
		}
	case *PlayerFiredMsg:
		if room := c.room(m); room != nil {
			room.Fire(c, Shot(*m))
		}
	case *PlayerFiredDamagedBlockMsg:
		if room := c.room(m); room != nil {
			room.Fire(c, Shot(*m))
		}
	case *PlayerHitMsg:
		if room := c.room(m); room != nil {
			room.Hit(c, m)
		}
	case *BlockModifiedMsg:
		if room := c.room(m); room != nil {
			room.ModifyBlock(c, m)
		}
	case *GhostMovedMsg:
		if room := c.room(m); room != nil {
			room.MoveGhost(c, m.X, m.Y)
		}
	case *GhostClearedMsg:
		if room := c.room(m); room != nil {
			room.ClearGhost(c)
		}
	case *FlagTakenMsg:
		if room := c.room(m); room != nil {
			room.FlagTaken(c)
		}
	case *FlagCapturedMsg:
		if room := c.room(m); room != nil {
			room.FlagCaptured(c)
		}
	case *RequestSnapshotMsg:
		if room := c.room(m); room != nil {
			room.SendSnapshot(c)
		}
	default:
		c.log.Warn("unhandled message", "type", msg.Tag())
	}
}

// room returns the client's room, logging and dropping msg when it has none
func (c *Client) room(msg Inbound) *Room {
	room := c.hub.rooms.RoomOf(c)
	if room == nil {
		c.log.Debug("message outside a room dropped", "type", msg.Tag())
	}
	return room
}

func (c *Client) handlePlayerJoin(m *PlayerJoinMsg) {
	c.binary.Store(m.Binary)
	c.identify(m.Token, m.Name)
}

// identify resolves the client's identity and sends welcome
func (c *Client) identify(token, name string) bool {
	ident, err := c.hub.auth.Resolve(token, name)
	if err != nil {
		c.log.Error("resolve identity", "err", err)
		c.Send(ErrorMsg{Msg: "internal error"})
		return false
	}
	c.ident = ident
	if c.hub.db != nil {
		if err := c.hub.db.TouchPlayer(ident.Key, ident.Name, time.Now()); err != nil {
			c.log.Warn("touch player", "err", err)
		}
	}
	c.Send(WelcomeMsg{ID: ident.Key, Name: ident.Name, Token: ident.Token})
	return true
}

// ensureIdentity gives clients that skipped playerJoin a guest identity
func (c *Client) ensureIdentity() bool {
	if c.ident.Key != "" {
		return true
	}
	return c.identify("", "")
}

func (c *Client) handleCreateRoom(m *CreateRoomMsg) {
	if !c.ensureIdentity() {
		return
	}
	if _, _, err := c.hub.rooms.CreateAndJoin(c, c.ident, *m); err != nil {
		c.sendRoomError("", err)
	}
}

func (c *Client) handleJoinRoom(m *JoinRoomMsg) {
	if !c.ensureIdentity() {
		return
	}
	if _, _, err := c.hub.rooms.Join(c, m.RoomID, c.ident, m.Password); err != nil {
		c.sendRoomError(m.RoomID, err)
	}
}

// sendRoomError maps registry errors to their response events
func (c *Client) sendRoomError(roomID string, err error) {
	switch {
	case errors.Is(err, ErrRoomNotFound):
		c.Send(RoomNotFoundMsg{RoomID: roomID})
	case errors.Is(err, ErrRoomFull):
		c.Send(RoomFullMsg{RoomID: roomID})
	case errors.Is(err, ErrRoomLocked):
		c.Send(RoomLockedMsg{RoomID: roomID})
	case errors.Is(err, ErrTooManyRooms), errors.Is(err, ErrAlreadyInRoom):
		c.Send(ErrorMsg{Msg: err.Error()})
	default:
		c.log.Error("room request failed", "room", roomID, "err", err)
		c.Send(ErrorMsg{Msg: "internal error"})
	}
}
