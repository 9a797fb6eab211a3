package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/crypto/bcrypt"
)

// ---------- helpers ----------

var uuidRegex = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)

// startTestServer spins up an httptest.Server with a Hub and returns the
// server, its WebSocket URL, and the hub. Everything is torn down on cleanup.
func startTestServer(t *testing.T) (*httptest.Server, string, *Hub) {
	t.Helper()

	// Create a temp client dir with a minimal index.html
	tmpDir := t.TempDir()
	jsDir := filepath.Join(tmpDir, "js")
	os.MkdirAll(jsDir, 0o755)
	os.WriteFile(filepath.Join(tmpDir, "index.html"), []byte("<html>test</html>"), 0o644)
	os.WriteFile(filepath.Join(jsDir, "main.js"), []byte("// test"), 0o644)

	logger := testLogger()
	db, err := OpenDB(":memory:", logger)
	if err != nil {
		t.Fatal(err)
	}
	analytics := NewAnalytics(db, logger)

	cfg := DefaultConfig()
	cfg.RoomIdleTimeout = 150 * time.Millisecond
	cfg.ReapInterval = 50 * time.Millisecond

	auth := NewAuth("test-secret", bcrypt.MinCost)
	rooms := NewRegistry(cfg.RegistryOptions(), auth, logger, analytics)
	go rooms.Run()

	hub := NewHub(cfg, rooms, auth, db, analytics, logger)
	stop := make(chan struct{})
	go hub.Run(stop)

	srv := httptest.NewServer(SetupRoutes(hub, tmpDir))
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	t.Cleanup(func() {
		srv.Close()
		rooms.Stop()
		close(stop)
		analytics.Stop()
		db.Close()
	})
	return srv, wsURL, hub
}

// dialWS opens a WebSocket connection to the test server.
func dialWS(t *testing.T, wsURL string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial WS: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// sendMsg writes one client message.
func sendMsg(t *testing.T, conn *websocket.Conn, msg Inbound) {
	t.Helper()
	raw, err := EncodeInbound(msg)
	if err != nil {
		t.Fatal(err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		t.Fatalf("write WS: %v", err)
	}
}

// readUntil reads messages until one tagged tag arrives and returns it with
// the websocket frame type it came in. Room ticks interleave state updates,
// so anything else is skipped.
func readUntil(t *testing.T, conn *websocket.Conn, tag string) (Outbound, int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		conn.SetReadDeadline(deadline)
		mt, raw, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for %s: %v", tag, err)
		}
		var msg Outbound
		if mt == websocket.BinaryMessage {
			msg, err = DecodeFrame(raw)
		} else {
			msg, err = DecodeOutbound(raw)
		}
		if err != nil {
			t.Fatalf("decode while waiting for %s: %v", tag, err)
		}
		if msg.Tag() == tag {
			return msg, mt
		}
	}
}

// createRoom has conn create a room and returns the room id and own player id
func createRoom(t *testing.T, conn *websocket.Conn, maxPlayers int) (string, string) {
	t.Helper()
	sendMsg(t, conn, &CreateRoomMsg{MaxPlayers: maxPlayers})
	msg, _ := readUntil(t, conn, MsgRoomCreated)
	created := msg.(*RoomCreatedMsg)
	return created.Room.ID, created.You.ID
}

func httpGet(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp, body
}

// ---------- SPA routing ----------

func TestSPARoutingRoot(t *testing.T) {
	srv, _, _ := startTestServer(t)

	resp, _ := httpGet(t, srv.URL+"/")
	if resp.StatusCode != 200 {
		t.Errorf("GET / status = %d, want 200", resp.StatusCode)
	}
}

func TestSPARoutingUUIDPath(t *testing.T) {
	srv, _, _ := startTestServer(t)

	id := uuid.NewString()
	resp, body := httpGet(t, srv.URL+"/"+id)
	if resp.StatusCode != 200 {
		t.Errorf("GET /%s status = %d, want 200", id, resp.StatusCode)
	}
	if !strings.Contains(string(body), "<html>") {
		t.Errorf("UUID path should serve index.html, got %q", body)
	}
}

func TestSPARoutingStaticFiles(t *testing.T) {
	srv, _, _ := startTestServer(t)

	resp, _ := httpGet(t, srv.URL+"/js/main.js")
	if resp.StatusCode != 200 {
		t.Errorf("GET /js/main.js status = %d, want 200", resp.StatusCode)
	}
}

func TestSPARoutingNonUUIDPath(t *testing.T) {
	srv, _, _ := startTestServer(t)

	// Should fall through to file server (404)
	resp, _ := httpGet(t, srv.URL+"/not-a-uuid")
	if resp.StatusCode != 404 {
		t.Errorf("GET /not-a-uuid status = %d, want 404", resp.StatusCode)
	}
}

// ---------- identity ----------

func TestWelcomeGuest(t *testing.T) {
	_, wsURL, _ := startTestServer(t)
	c := dialWS(t, wsURL)

	sendMsg(t, c, &PlayerJoinMsg{})
	msg, _ := readUntil(t, c, MsgWelcome)
	w := msg.(*WelcomeMsg)
	if !uuidRegex.MatchString(w.ID) {
		t.Errorf("guest id %q is not a UUID", w.ID)
	}
	if !strings.HasPrefix(w.Name, "Guest_") || w.Token == "" {
		t.Errorf("unexpected welcome %+v", w)
	}

	// the token brings the same identity back on a new connection
	c2 := dialWS(t, wsURL)
	sendMsg(t, c2, &PlayerJoinMsg{Name: "Ann", Token: w.Token})
	msg, _ = readUntil(t, c2, MsgWelcome)
	if again := msg.(*WelcomeMsg); again.ID != w.ID || again.Name != "Ann" {
		t.Errorf("expected %s as Ann, got %+v", w.ID, again)
	}
}

// ---------- rooms over the websocket ----------

func TestCreateRoomBootstrap(t *testing.T) {
	_, wsURL, _ := startTestServer(t)
	c := dialWS(t, wsURL)

	// no playerJoin: the server hands out a guest identity first
	sendMsg(t, c, &CreateRoomMsg{MaxPlayers: 4})
	readUntil(t, c, MsgWelcome)
	msg, _ := readUntil(t, c, MsgRoomCreated)
	created := msg.(*RoomCreatedMsg)
	if !uuidRegex.MatchString(created.Room.ID) || created.Room.MaxPlayers != 4 || created.Room.PlayerCount != 1 {
		t.Errorf("unexpected room %+v", created.Room)
	}
	if created.You.Team != TeamRed || !created.You.Alive {
		t.Errorf("creator should be a live red player, got %+v", created.You)
	}

	msg, mt := readUntil(t, c, MsgInitialWorldState)
	if mt != websocket.TextMessage {
		t.Error("json clients should get a text bootstrap")
	}
	world := msg.(*InitialWorldStateMsg)
	if len(world.Blocks) == 0 {
		t.Fatal("empty world")
	}
	msg, _ = readUntil(t, c, MsgInitialPlayerStates)
	if roster := msg.(*InitialPlayerStatesMsg); len(*roster) != 0 {
		t.Errorf("creator should see nobody else, got %d", len(*roster))
	}
	msg, _ = readUntil(t, c, MsgGameStateUpdate)
	state := msg.(*GameStateUpdateMsg)
	if state.Phase != PhaseActive || state.Checksum != world.Checksum {
		t.Errorf("unexpected state %+v", state)
	}
}

func TestBinaryBootstrap(t *testing.T) {
	_, wsURL, _ := startTestServer(t)
	c := dialWS(t, wsURL)

	sendMsg(t, c, &PlayerJoinMsg{Name: "Bin", Binary: true})
	readUntil(t, c, MsgWelcome)
	createRoom(t, c, 0)

	msg, mt := readUntil(t, c, MsgInitialWorldState)
	if mt != websocket.BinaryMessage {
		t.Fatal("expected a binary world frame")
	}
	world := msg.(*InitialWorldStateMsg)
	w := NewWorld()
	w.LoadSnapshot(world.Blocks)
	if w.Checksum() != world.Checksum {
		t.Error("binary world should reproduce its checksum")
	}
	if _, mt := readUntil(t, c, MsgInitialPlayerStates); mt != websocket.BinaryMessage {
		t.Error("expected a binary roster frame")
	}
}

func TestTwoPlayersInRoom(t *testing.T) {
	_, wsURL, _ := startTestServer(t)

	c1 := dialWS(t, wsURL)
	roomID, p1 := createRoom(t, c1, 2)

	c2 := dialWS(t, wsURL)
	sendMsg(t, c2, &JoinRoomMsg{RoomID: roomID})
	msg, _ := readUntil(t, c2, MsgRoomJoined)
	joined := msg.(*RoomJoinedMsg)
	p2 := joined.You.ID
	if joined.You.Team != TeamBlue || joined.Room.PlayerCount != 2 {
		t.Errorf("unexpected join %+v", joined)
	}
	msg, _ = readUntil(t, c2, MsgInitialPlayerStates)
	if roster := *msg.(*InitialPlayerStatesMsg); len(roster) != 1 || roster[0].ID != p1 {
		t.Errorf("joiner should see the creator, got %+v", roster)
	}

	msg, _ = readUntil(t, c1, MsgPlayerJoined)
	if got := msg.(*PlayerJoinedMsg).Player.ID; got != p2 {
		t.Errorf("expected playerJoined for %s, got %s", p2, got)
	}

	pos := Vec3{X: 12, Y: 8}
	sendMsg(t, c2, &PlayerUpdateMsg{Position: &pos, LookDirection: "left"})
	msg, _ = readUntil(t, c1, MsgPlayerMoved)
	moved := msg.(*PlayerMovedMsg)
	if moved.ID != p2 || moved.Position != pos || moved.LookDirection != "left" {
		t.Errorf("unexpected relay %+v", moved)
	}

	c3 := dialWS(t, wsURL)
	sendMsg(t, c3, &JoinRoomMsg{RoomID: roomID})
	msg, _ = readUntil(t, c3, MsgRoomFull)
	if got := msg.(*RoomFullMsg).RoomID; got != roomID {
		t.Errorf("roomFull for %s, got %s", roomID, got)
	}

	c2.Close()
	msg, _ = readUntil(t, c1, MsgPlayerLeft)
	if got := msg.(*PlayerLeftMsg).ID; got != p2 {
		t.Errorf("expected %s to leave, got %s", p2, got)
	}
}

func TestBlockEditOverWire(t *testing.T) {
	_, wsURL, _ := startTestServer(t)
	c := dialWS(t, wsURL)
	createRoom(t, c, 0)

	sendMsg(t, c, &BlockModifiedMsg{UpdateType: UpdateAdded, X: 50, Y: 5, Kind: "concrete"})
	msg, _ := readUntil(t, c, MsgMapUpdated)
	added := msg.(*MapUpdatedMsg)
	if added.UpdateType != UpdateAdded || added.X != 50 || added.Y != 5 || added.Kind != KindConcrete {
		t.Errorf("unexpected update %+v", added)
	}

	sendMsg(t, c, &BlockModifiedMsg{UpdateType: UpdateAdded, X: 50, Y: 30, Kind: "wood"})
	msg, _ = readUntil(t, c, MsgPlacementRejected)
	if rej := msg.(*PlacementRejectedMsg); rej.X != 50 || rej.Y != 30 {
		t.Errorf("unexpected rejection %+v", rej)
	}
}

func TestJoinUnknownRoom(t *testing.T) {
	_, wsURL, _ := startTestServer(t)
	c := dialWS(t, wsURL)

	id := uuid.NewString()
	sendMsg(t, c, &JoinRoomMsg{RoomID: id})
	msg, _ := readUntil(t, c, MsgRoomNotFound)
	if got := msg.(*RoomNotFoundMsg).RoomID; got != id {
		t.Errorf("expected roomNotFound for %s, got %s", id, got)
	}
}

func TestLeaveRoomAndReap(t *testing.T) {
	_, wsURL, hub := startTestServer(t)
	c := dialWS(t, wsURL)
	roomID, _ := createRoom(t, c, 0)

	sendMsg(t, c, &LeaveRoomMsg{})
	readUntil(t, c, MsgRoomLeft)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := hub.rooms.Get(roomID); !ok {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Error("empty room should be reaped")
}

// ---------- HTTP endpoints ----------

func TestListRooms(t *testing.T) {
	srv, wsURL, _ := startTestServer(t)
	c := dialWS(t, wsURL)

	sendMsg(t, c, &ListRoomsMsg{})
	msg, _ := readUntil(t, c, MsgRoomList)
	if list := *msg.(*RoomListMsg); len(list) != 0 {
		t.Errorf("expected no rooms, got %d", len(list))
	}

	roomID, _ := createRoom(t, c, 3)

	resp, body := httpGet(t, srv.URL+"/rooms")
	if resp.StatusCode != 200 {
		t.Fatalf("GET /rooms status = %d", resp.StatusCode)
	}
	var rooms []RoomInfo
	if err := json.Unmarshal(body, &rooms); err != nil {
		t.Fatal(err)
	}
	if len(rooms) != 1 || rooms[0].ID != roomID || rooms[0].PlayerCount != 1 || rooms[0].MaxPlayers != 3 {
		t.Errorf("unexpected room list %+v", rooms)
	}
}

func TestRoomQRCode(t *testing.T) {
	srv, wsURL, _ := startTestServer(t)
	c := dialWS(t, wsURL)
	roomID, _ := createRoom(t, c, 0)

	resp, body := httpGet(t, srv.URL+"/rooms/"+roomID+"/qr")
	if resp.StatusCode != 200 || resp.Header.Get("Content-Type") != "image/png" {
		t.Fatalf("GET qr: status %d, type %s", resp.StatusCode, resp.Header.Get("Content-Type"))
	}
	if !bytes.HasPrefix(body, []byte("\x89PNG")) {
		t.Error("qr body is not a PNG")
	}

	resp, _ = httpGet(t, srv.URL+"/rooms/"+uuid.NewString()+"/qr")
	if resp.StatusCode != 404 {
		t.Errorf("unknown room qr status = %d, want 404", resp.StatusCode)
	}
}

func TestHealthAndStats(t *testing.T) {
	srv, wsURL, _ := startTestServer(t)
	c := dialWS(t, wsURL)
	createRoom(t, c, 0)

	_, body := httpGet(t, srv.URL+"/healthz")
	var health map[string]int
	if err := json.Unmarshal(body, &health); err != nil {
		t.Fatal(err)
	}
	if health["rooms"] != 1 {
		t.Errorf("expected 1 room, got %v", health)
	}

	resp, body := httpGet(t, srv.URL+"/stats")
	if resp.StatusCode != 200 {
		t.Fatalf("GET /stats status = %d", resp.StatusCode)
	}
	var stats map[string]json.RawMessage
	if err := json.Unmarshal(body, &stats); err != nil {
		t.Fatal(err)
	}
	if _, ok := stats["rounds"]; !ok {
		t.Error("stats should list rounds")
	}
	if _, ok := stats["events"]; !ok {
		t.Error("stats should count events")
	}
}

// ---------- bots ----------

func TestBotJoinsRoom(t *testing.T) {
	_, wsURL, hub := startTestServer(t)
	host := dialWS(t, wsURL)
	roomID, _ := createRoom(t, host, 0)
	room, ok := hub.rooms.Get(roomID)
	if !ok {
		t.Fatal("room missing")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	bot := NewBot(wsURL, "bot-1", room.ID, testLogger(), 1)
	go func() {
		defer close(done)
		bot.Run(ctx)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for room.PlayerCount() < 2 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	if room.PlayerCount() != 2 {
		t.Error("bot should have joined the room")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("bot did not stop after cancel")
	}
}
