package main

import (
	"testing"
	"time"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenDB(":memory:", testLogger())
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestDBPlayers(t *testing.T) {
	db := openTestDB(t)
	now := time.Unix(1700000000, 0)

	if p, err := db.GetPlayer("missing"); err != nil || p != nil {
		t.Fatalf("expected nil for unknown player, got %+v %v", p, err)
	}
	if err := db.TouchPlayer("k1", "Ann", now); err != nil {
		t.Fatal(err)
	}
	if err := db.TouchPlayer("k1", "Annie", now.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}

	p, err := db.GetPlayer("k1")
	if err != nil || p == nil {
		t.Fatalf("get player: %v", err)
	}
	if p.Name != "Annie" {
		t.Errorf("expected renamed player, got %s", p.Name)
	}
	if !p.FirstSeen.Equal(now) || !p.LastSeen.Equal(now.Add(time.Hour)) {
		t.Errorf("unexpected timestamps %v / %v", p.FirstSeen, p.LastSeen)
	}
}

func TestDBRecordRound(t *testing.T) {
	db := openTestDB(t)
	now := time.Unix(1700000000, 0)
	db.TouchPlayer("red1", "R", now)
	db.TouchPlayer("blue1", "B", now)

	id, err := db.RecordRound(RoundRecord{
		RoomID:    "room-1",
		Number:    1,
		Winner:    WinnerRed,
		RedScore:  3,
		BlueScore: 1,
		Duration:  90 * time.Second,
		EndedAt:   now,
		Players:   map[string]Team{"red1": TeamRed, "blue1": TeamBlue},
	})
	if err != nil || id == 0 {
		t.Fatalf("record round: id=%d err=%v", id, err)
	}

	rounds, err := db.RecentRounds(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(rounds) != 1 {
		t.Fatalf("expected 1 round, got %d", len(rounds))
	}
	r := rounds[0]
	if r.Winner != WinnerRed || r.RedScore != 3 || r.Players != 2 || r.Duration != 90 {
		t.Errorf("unexpected round %+v", r)
	}

	red, _ := db.GetPlayer("red1")
	blue, _ := db.GetPlayer("blue1")
	if red.RoundsPlayed != 1 || red.RoundsWon != 1 {
		t.Errorf("winner should be credited, got %+v", red)
	}
	if blue.RoundsPlayed != 1 || blue.RoundsWon != 0 {
		t.Errorf("loser should only get a played round, got %+v", blue)
	}
}

func TestAnalyticsFlushOnStop(t *testing.T) {
	db := openTestDB(t)
	a := NewAnalytics(db, testLogger())

	a.Track(EvtPlayerJoined, "k1", "room-1", "")
	a.Track(EvtPlayerJoined, "k2", "room-1", "")
	a.Track(EvtBlockDestroyed, "k1", "room-1", "")
	a.RecordRound(RoundRecord{RoomID: "room-1", Number: 1, Winner: WinnerTie, EndedAt: time.Now()})
	a.Stop()
	a.Stop()

	counts, err := a.EventCounts()
	if err != nil {
		t.Fatal(err)
	}
	if counts[EvtPlayerJoined] != 2 || counts[EvtBlockDestroyed] != 1 {
		t.Errorf("unexpected counts %v", counts)
	}
	rounds, err := db.RecentRounds(5)
	if err != nil || len(rounds) != 1 {
		t.Errorf("expected the queued round saved, got %d (%v)", len(rounds), err)
	}
}

func TestAnalyticsNilSafe(t *testing.T) {
	var a *Analytics
	a.Track(EvtRoomCreated, "", "r", "")
	a.RecordRound(RoundRecord{})
	a.Stop()
	if counts, err := a.EventCounts(); err != nil || len(counts) != 0 {
		t.Errorf("nil analytics should report nothing, got %v %v", counts, err)
	}
}
