package main

import (
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Client -> Server message types
const (
	MsgPlayerJoin              = "playerJoin"
	MsgListRooms               = "listRooms"
	MsgCreateRoom              = "createRoom"
	MsgJoinRoom                = "joinRoom"
	MsgLeaveRoom               = "leaveRoom"
	MsgPlayerUpdate            = "playerUpdate"
	MsgPlayerFired             = "playerFired"
	MsgPlayerFiredDamagedBlock = "playerFiredDamagedBlock"
	MsgPlayerHit               = "playerHit"
	MsgBlockModified           = "blockModified"
	MsgGhostMoved              = "ghostMoved"
	MsgGhostCleared            = "ghostCleared"
	MsgFlagTaken               = "flagTaken"
	MsgFlagCaptured            = "flagCaptured"
	MsgRequestSnapshot         = "requestSnapshot"
)

// Server -> Client message types
const (
	MsgWelcome             = "welcome"
	MsgRoomList            = "roomList"
	MsgRoomCreated         = "roomCreated"
	MsgRoomJoined          = "roomJoined"
	MsgRoomFull            = "roomFull"
	MsgRoomNotFound        = "roomNotFound"
	MsgRoomLocked          = "roomLocked"
	MsgRoomLeft            = "roomLeft"
	MsgInitialWorldState   = "initialWorldState"
	MsgInitialPlayerStates = "initialPlayerStates"
	MsgPlayerJoined        = "playerJoined"
	MsgPlayerMoved         = "playerMoved"
	MsgOtherPlayerFired    = "otherPlayerFired"
	MsgPlayerDamaged       = "playerDamaged"
	MsgMapUpdated          = "mapUpdated"
	MsgPlacementRejected   = "placementRejected"
	MsgGhostUpdated        = "ghostUpdated"
	MsgPlayerLeft          = "playerLeft"
	MsgRespawn             = "respawn"
	MsgPlayerRespawned     = "playerRespawned"
	MsgGameStateUpdate     = "gameStateUpdate"
	MsgRoundOver           = "roundOver"
	MsgRoundStarted        = "roundStarted"
	MsgError               = "error"
)

// Block update types carried by blockModified and mapUpdated
const (
	UpdateAdded   = "added"
	UpdateDamaged = "damaged"
	UpdateRemoved = "removed"
)

// Envelope wraps all outgoing messages with a type field
type Envelope struct {
	T    string      `json:"t"`
	Data interface{} `json:"d,omitempty"`
}

// InEnvelope is used for incoming messages; json.RawMessage avoids double-unmarshal
type InEnvelope struct {
	T string          `json:"t"`
	D json.RawMessage `json:"d,omitempty"`
}

// Inbound is any message a client may send. The set is closed: only types in
// this file implement it.
type Inbound interface {
	Tag() string
	inbound()
}

// Outbound is any message the server may send
type Outbound interface {
	Tag() string
	outbound()
}

// ---- shared payload types ----

// BlockState is the wire form of a block
type BlockState struct {
	X      int       `json:"x" msgpack:"x"`
	Y      int       `json:"y" msgpack:"y"`
	Kind   BlockKind `json:"kind" msgpack:"kind"`
	Health float64   `json:"health" msgpack:"health"`
}

// BlockEntry is one [key, block] pair of the world bootstrap
type BlockEntry struct {
	Key   string
	Block BlockState
}

func (e BlockEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]interface{}{e.Key, e.Block})
}

func (e *BlockEntry) UnmarshalJSON(data []byte) error {
	var pair [2]json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("block entry: %w", err)
	}
	if err := json.Unmarshal(pair[0], &e.Key); err != nil {
		return fmt.Errorf("block entry key: %w", err)
	}
	if err := json.Unmarshal(pair[1], &e.Block); err != nil {
		return fmt.Errorf("block entry value: %w", err)
	}
	return nil
}

var (
	_ msgpack.CustomEncoder = BlockEntry{}
	_ msgpack.CustomDecoder = (*BlockEntry)(nil)
)

func (e BlockEntry) EncodeMsgpack(enc *msgpack.Encoder) error {
	if err := enc.EncodeArrayLen(2); err != nil {
		return err
	}
	if err := enc.EncodeString(e.Key); err != nil {
		return err
	}
	return enc.Encode(e.Block)
}

func (e *BlockEntry) DecodeMsgpack(dec *msgpack.Decoder) error {
	n, err := dec.DecodeArrayLen()
	if err != nil {
		return err
	}
	if n != 2 {
		return fmt.Errorf("block entry: want 2 elements, got %d", n)
	}
	if e.Key, err = dec.DecodeString(); err != nil {
		return err
	}
	return dec.Decode(&e.Block)
}

// PlayerState is the roster view of a player
type PlayerState struct {
	ID            string  `json:"id" msgpack:"id"`
	Name          string  `json:"name" msgpack:"name"`
	Position      Vec3    `json:"position" msgpack:"position"`
	Velocity      Vec3    `json:"velocity" msgpack:"velocity"`
	Health        float64 `json:"health" msgpack:"health"`
	Team          Team    `json:"team" msgpack:"team"`
	Alive         bool    `json:"alive" msgpack:"alive"`
	LookDirection string  `json:"lookDirection,omitempty" msgpack:"lookDirection,omitempty"`
}

// RoomInfo is one entry of the room list
type RoomInfo struct {
	ID          string `json:"id"`
	CreatorName string `json:"creatorName"`
	PlayerCount int    `json:"playerCount"`
	MaxPlayers  int    `json:"maxPlayers"`
	CreatedAt   int64  `json:"createdAt"` // unix ms
	IsFull      bool   `json:"isFull"`
	Locked      bool   `json:"locked"`
}

// ---- client -> server ----

// PlayerJoinMsg names the connection and optionally presents an identity token
type PlayerJoinMsg struct {
	Name   string `json:"name"`
	Token  string `json:"token,omitempty"`
	Binary bool   `json:"binary,omitempty"`
}

type ListRoomsMsg struct{}

// CreateRoomMsg creates a room; the creator joins it immediately
type CreateRoomMsg struct {
	MaxPlayers int    `json:"maxPlayers,omitempty"`
	Password   string `json:"password,omitempty"`
}

type JoinRoomMsg struct {
	RoomID   string `json:"roomId"`
	Password string `json:"password,omitempty"`
}

type LeaveRoomMsg struct{}

// PlayerUpdateMsg is the high-frequency movement update. Absent fields are
// left unchanged.
type PlayerUpdateMsg struct {
	Position      *Vec3    `json:"position,omitempty"`
	Velocity      *Vec3    `json:"velocity,omitempty"`
	Health        *float64 `json:"health,omitempty"`
	LookDirection string   `json:"lookDirection,omitempty"`
	Timestamp     int64    `json:"timestamp,omitempty"`
}

// Shot describes one beam
type Shot struct {
	RayDirection   Vec2  `json:"rayDirection" msgpack:"rayDirection"`
	PlayerPosition Vec2  `json:"playerPosition" msgpack:"playerPosition"`
	BlockPosition  *Vec2 `json:"blockPosition,omitempty" msgpack:"blockPosition,omitempty"`
}

type PlayerFiredMsg Shot

type PlayerFiredDamagedBlockMsg Shot

type PlayerHitMsg struct {
	PlayerID     string  `json:"playerId"`
	Damage       float64 `json:"damage"`
	RayDirection Vec2    `json:"rayDirection"`
}

type BlockModifiedMsg struct {
	UpdateType string   `json:"updateType"`
	X          int      `json:"x"`
	Y          int      `json:"y"`
	Health     *float64 `json:"health,omitempty"`
	Damage     *float64 `json:"damage,omitempty"`
	Kind       string   `json:"kind,omitempty"`
}

type GhostMovedMsg struct {
	X int `json:"x"`
	Y int `json:"y"`
}

type GhostClearedMsg struct{}

type FlagTakenMsg struct{}

type FlagCapturedMsg struct{}

type RequestSnapshotMsg struct{}

func (PlayerJoinMsg) Tag() string              { return MsgPlayerJoin }
func (ListRoomsMsg) Tag() string               { return MsgListRooms }
func (CreateRoomMsg) Tag() string              { return MsgCreateRoom }
func (JoinRoomMsg) Tag() string                { return MsgJoinRoom }
func (LeaveRoomMsg) Tag() string               { return MsgLeaveRoom }
func (PlayerUpdateMsg) Tag() string            { return MsgPlayerUpdate }
func (PlayerFiredMsg) Tag() string             { return MsgPlayerFired }
func (PlayerFiredDamagedBlockMsg) Tag() string { return MsgPlayerFiredDamagedBlock }
func (PlayerHitMsg) Tag() string               { return MsgPlayerHit }
func (BlockModifiedMsg) Tag() string           { return MsgBlockModified }
func (GhostMovedMsg) Tag() string              { return MsgGhostMoved }
func (GhostClearedMsg) Tag() string            { return MsgGhostCleared }
func (FlagTakenMsg) Tag() string               { return MsgFlagTaken }
func (FlagCapturedMsg) Tag() string            { return MsgFlagCaptured }
func (RequestSnapshotMsg) Tag() string         { return MsgRequestSnapshot }

func (PlayerJoinMsg) inbound()              {}
func (ListRoomsMsg) inbound()               {}
func (CreateRoomMsg) inbound()              {}
func (JoinRoomMsg) inbound()                {}
func (LeaveRoomMsg) inbound()               {}
func (PlayerUpdateMsg) inbound()            {}
func (PlayerFiredMsg) inbound()             {}
func (PlayerFiredDamagedBlockMsg) inbound() {}
func (PlayerHitMsg) inbound()               {}
func (BlockModifiedMsg) inbound()           {}
func (GhostMovedMsg) inbound()              {}
func (GhostClearedMsg) inbound()            {}
func (FlagTakenMsg) inbound()               {}
func (FlagCapturedMsg) inbound()            {}
func (RequestSnapshotMsg) inbound()         {}

// inboundTypes maps a wire tag to a constructor for its payload
var inboundTypes = map[string]func() Inbound{
	MsgPlayerJoin:              func() Inbound { return &PlayerJoinMsg{} },
	MsgListRooms:               func() Inbound { return &ListRoomsMsg{} },
	MsgCreateRoom:              func() Inbound { return &CreateRoomMsg{} },
	MsgJoinRoom:                func() Inbound { return &JoinRoomMsg{} },
	MsgLeaveRoom:               func() Inbound { return &LeaveRoomMsg{} },
	MsgPlayerUpdate:            func() Inbound { return &PlayerUpdateMsg{} },
	MsgPlayerFired:             func() Inbound { return &PlayerFiredMsg{} },
	MsgPlayerFiredDamagedBlock: func() Inbound { return &PlayerFiredDamagedBlockMsg{} },
	MsgPlayerHit:               func() Inbound { return &PlayerHitMsg{} },
	MsgBlockModified:           func() Inbound { return &BlockModifiedMsg{} },
	MsgGhostMoved:              func() Inbound { return &GhostMovedMsg{} },
	MsgGhostCleared:            func() Inbound { return &GhostClearedMsg{} },
	MsgFlagTaken:               func() Inbound { return &FlagTakenMsg{} },
	MsgFlagCaptured:            func() Inbound { return &FlagCapturedMsg{} },
	MsgRequestSnapshot:         func() Inbound { return &RequestSnapshotMsg{} },
}

// ---- server -> client ----

type WelcomeMsg struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Token string `json:"token,omitempty"`
}

type RoomListMsg []RoomInfo

type RoomCreatedMsg struct {
	Room RoomInfo    `json:"room"`
	You  PlayerState `json:"you"`
}

type RoomJoinedMsg struct {
	Room RoomInfo    `json:"room"`
	You  PlayerState `json:"you"`
}

type RoomFullMsg struct {
	RoomID string `json:"roomId"`
}

type RoomNotFoundMsg struct {
	RoomID string `json:"roomId"`
}

type RoomLockedMsg struct {
	RoomID string `json:"roomId"`
}

type RoomLeftMsg struct{}

// InitialWorldStateMsg is the world bootstrap
type InitialWorldStateMsg struct {
	Blocks   []BlockEntry `json:"blocks" msgpack:"blocks"`
	Checksum string       `json:"checksum" msgpack:"checksum"`
}

// InitialPlayerStatesMsg lists everyone already in the room except the receiver
type InitialPlayerStatesMsg []PlayerState

type PlayerJoinedMsg struct {
	Player PlayerState `json:"player"`
}

type PlayerMovedMsg struct {
	ID            string  `json:"id"`
	Position      Vec3    `json:"position"`
	Velocity      Vec3    `json:"velocity"`
	Health        float64 `json:"health"`
	LookDirection string  `json:"lookDirection,omitempty"`
	Timestamp     int64   `json:"timestamp,omitempty"`
}

type OtherPlayerFiredMsg struct {
	Shot       Shot    `json:"shot"`
	SenderID   string  `json:"senderId"`
	BeamLength float64 `json:"beamLength"`
}

type PlayerDamagedMsg struct {
	PlayerID     string  `json:"playerId"`
	Damage       float64 `json:"damage"`
	RayDirection Vec2    `json:"rayDirection"`
	AttackerID   string  `json:"attackerId"`
}

type MapUpdatedMsg struct {
	UpdateType string    `json:"updateType"`
	X          int       `json:"x"`
	Y          int       `json:"y"`
	Health     *float64  `json:"health,omitempty"`
	Kind       BlockKind `json:"kind,omitempty"`
}

type PlacementRejectedMsg struct {
	X int `json:"x"`
	Y int `json:"y"`
}

type GhostUpdatedMsg struct {
	ID      string `json:"id"`
	X       int    `json:"x"`
	Y       int    `json:"y"`
	Valid   bool   `json:"valid"`
	Cleared bool   `json:"cleared,omitempty"`
}

type PlayerLeftMsg struct {
	ID string `json:"id"`
}

type RespawnMsg struct {
	Position Vec3    `json:"position"`
	Health   float64 `json:"health"`
}

type PlayerRespawnedMsg struct {
	ID       string  `json:"id"`
	Position Vec3    `json:"position"`
	Health   float64 `json:"health"`
}

type GameStateUpdateMsg struct {
	TimeRemaining  int    `json:"timeRemaining"`
	RedTeamScore   int    `json:"redTeamScore"`
	BlueTeamScore  int    `json:"blueTeamScore"`
	Phase          Phase  `json:"phase"`
	RedFlagStolen  bool   `json:"redFlagStolen"`
	BlueFlagStolen bool   `json:"blueFlagStolen"`
	Checksum       string `json:"checksum"`
}

type RoundOverMsg struct {
	Winner        string `json:"winner"`
	RedTeamScore  int    `json:"redTeamScore"`
	BlueTeamScore int    `json:"blueTeamScore"`
}

type RoundStartedMsg struct {
	TimeRemaining int `json:"timeRemaining"`
}

// ErrorMsg sends error to client
type ErrorMsg struct {
	Msg string `json:"msg"`
}

func (WelcomeMsg) Tag() string             { return MsgWelcome }
func (RoomListMsg) Tag() string            { return MsgRoomList }
func (RoomCreatedMsg) Tag() string         { return MsgRoomCreated }
func (RoomJoinedMsg) Tag() string          { return MsgRoomJoined }
func (RoomFullMsg) Tag() string            { return MsgRoomFull }
func (RoomNotFoundMsg) Tag() string        { return MsgRoomNotFound }
func (RoomLockedMsg) Tag() string          { return MsgRoomLocked }
func (RoomLeftMsg) Tag() string            { return MsgRoomLeft }
func (InitialWorldStateMsg) Tag() string   { return MsgInitialWorldState }
func (InitialPlayerStatesMsg) Tag() string { return MsgInitialPlayerStates }
func (PlayerJoinedMsg) Tag() string        { return MsgPlayerJoined }
func (PlayerMovedMsg) Tag() string         { return MsgPlayerMoved }
func (OtherPlayerFiredMsg) Tag() string    { return MsgOtherPlayerFired }
func (PlayerDamagedMsg) Tag() string       { return MsgPlayerDamaged }
func (MapUpdatedMsg) Tag() string          { return MsgMapUpdated }
func (PlacementRejectedMsg) Tag() string   { return MsgPlacementRejected }
func (GhostUpdatedMsg) Tag() string        { return MsgGhostUpdated }
func (PlayerLeftMsg) Tag() string          { return MsgPlayerLeft }
func (RespawnMsg) Tag() string             { return MsgRespawn }
func (PlayerRespawnedMsg) Tag() string     { return MsgPlayerRespawned }
func (GameStateUpdateMsg) Tag() string     { return MsgGameStateUpdate }
func (RoundOverMsg) Tag() string           { return MsgRoundOver }
func (RoundStartedMsg) Tag() string        { return MsgRoundStarted }
func (ErrorMsg) Tag() string               { return MsgError }

func (WelcomeMsg) outbound()             {}
func (RoomListMsg) outbound()            {}
func (RoomCreatedMsg) outbound()         {}
func (RoomJoinedMsg) outbound()          {}
func (RoomFullMsg) outbound()            {}
func (RoomNotFoundMsg) outbound()        {}
func (RoomLockedMsg) outbound()          {}
func (RoomLeftMsg) outbound()            {}
func (InitialWorldStateMsg) outbound()   {}
func (InitialPlayerStatesMsg) outbound() {}
func (PlayerJoinedMsg) outbound()        {}
func (PlayerMovedMsg) outbound()         {}
func (OtherPlayerFiredMsg) outbound()    {}
func (PlayerDamagedMsg) outbound()       {}
func (MapUpdatedMsg) outbound()          {}
func (PlacementRejectedMsg) outbound()   {}
func (GhostUpdatedMsg) outbound()        {}
func (PlayerLeftMsg) outbound()          {}
func (RespawnMsg) outbound()             {}
func (PlayerRespawnedMsg) outbound()     {}
func (GameStateUpdateMsg) outbound()     {}
func (RoundOverMsg) outbound()           {}
func (RoundStartedMsg) outbound()        {}
func (ErrorMsg) outbound()               {}

// outboundTypes is the client-side decode table
var outboundTypes = map[string]func() Outbound{
	MsgWelcome:             func() Outbound { return &WelcomeMsg{} },
	MsgRoomList:            func() Outbound { return &RoomListMsg{} },
	MsgRoomCreated:         func() Outbound { return &RoomCreatedMsg{} },
	MsgRoomJoined:          func() Outbound { return &RoomJoinedMsg{} },
	MsgRoomFull:            func() Outbound { return &RoomFullMsg{} },
	MsgRoomNotFound:        func() Outbound { return &RoomNotFoundMsg{} },
	MsgRoomLocked:          func() Outbound { return &RoomLockedMsg{} },
	MsgRoomLeft:            func() Outbound { return &RoomLeftMsg{} },
	MsgInitialWorldState:   func() Outbound { return &InitialWorldStateMsg{} },
	MsgInitialPlayerStates: func() Outbound { return &InitialPlayerStatesMsg{} },
	MsgPlayerJoined:        func() Outbound { return &PlayerJoinedMsg{} },
	MsgPlayerMoved:         func() Outbound { return &PlayerMovedMsg{} },
	MsgOtherPlayerFired:    func() Outbound { return &OtherPlayerFiredMsg{} },
	MsgPlayerDamaged:       func() Outbound { return &PlayerDamagedMsg{} },
	MsgMapUpdated:          func() Outbound { return &MapUpdatedMsg{} },
	MsgPlacementRejected:   func() Outbound { return &PlacementRejectedMsg{} },
	MsgGhostUpdated:        func() Outbound { return &GhostUpdatedMsg{} },
	MsgPlayerLeft:          func() Outbound { return &PlayerLeftMsg{} },
	MsgRespawn:             func() Outbound { return &RespawnMsg{} },
	MsgPlayerRespawned:     func() Outbound { return &PlayerRespawnedMsg{} },
	MsgGameStateUpdate:     func() Outbound { return &GameStateUpdateMsg{} },
	MsgRoundOver:           func() Outbound { return &RoundOverMsg{} },
	MsgRoundStarted:        func() Outbound { return &RoundStartedMsg{} },
	MsgError:               func() Outbound { return &ErrorMsg{} },
}
