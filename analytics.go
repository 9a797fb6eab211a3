package main

import (
	"database/sql"
	"log/slog"
	"sync"
	"time"
)

// Event types for analytics tracking
const (
	EvtRoomCreated    = "room_created"
	EvtRoomClosed     = "room_closed"
	EvtPlayerJoined   = "player_joined"
	EvtPlayerLeft     = "player_left"
	EvtPlayerDied     = "player_died"
	EvtBlockPlaced    = "block_placed"
	EvtBlockDestroyed = "block_destroyed"
	EvtFlagCaptured   = "flag_captured"
	EvtRoundEnd       = "round_end"
)

// AnalyticsEvent represents a single trackable event
type AnalyticsEvent struct {
	Type      string
	PlayerKey string
	RoomID    string
	Data      string // JSON metadata (optional)
	Timestamp time.Time
}

// Analytics persists events and finished rounds from a background writer so
// room locks never wait on SQLite. A nil *Analytics discards everything.
type Analytics struct {
	db     *DB
	log    *slog.Logger
	events chan AnalyticsEvent
	rounds chan RoundRecord
	stop   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup

	flushEvery time.Duration
}

// NewAnalytics creates and starts the analytics background writer
func NewAnalytics(db *DB, logger *slog.Logger) *Analytics {
	a := &Analytics{
		db:         db,
		log:        logger,
		events:     make(chan AnalyticsEvent, 1024),
		rounds:     make(chan RoundRecord, 64),
		stop:       make(chan struct{}),
		flushEvery: 5 * time.Second,
	}
	a.wg.Add(1)
	go a.writer()
	return a
}

// Track enqueues an event for async persistence (non-blocking)
func (a *Analytics) Track(evtType, playerKey, roomID, data string) {
	if a == nil {
		return
	}
	select {
	case a.events <- AnalyticsEvent{
		Type:      evtType,
		PlayerKey: playerKey,
		RoomID:    roomID,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}:
	default:
		a.log.Debug("analytics queue full, dropping event", "type", evtType)
	}
}

// RecordRound enqueues a finished round
func (a *Analytics) RecordRound(rec RoundRecord) {
	if a == nil {
		return
	}
	select {
	case a.rounds <- rec:
	default:
		a.log.Warn("round queue full, dropping round", "room", rec.RoomID, "round", rec.Number)
	}
}

// Stop drains pending work and shuts the writer down. Safe to call twice.
func (a *Analytics) Stop() {
	if a == nil {
		return
	}
	a.once.Do(func() { close(a.stop) })
	a.wg.Wait()
}

func (a *Analytics) writer() {
	defer a.wg.Done()

	batch := make([]AnalyticsEvent, 0, 64)
	ticker := time.NewTicker(a.flushEvery)
	defer ticker.Stop()

	for {
		select {
		case evt := <-a.events:
			batch = append(batch, evt)
			if len(batch) >= 50 {
				a.flush(batch)
				batch = batch[:0]
			}
		case rec := <-a.rounds:
			a.saveRound(rec)
		case <-ticker.C:
			if len(batch) > 0 {
				a.flush(batch)
				batch = batch[:0]
			}
		case <-a.stop:
			for {
				select {
				case evt := <-a.events:
					batch = append(batch, evt)
				case rec := <-a.rounds:
					a.saveRound(rec)
				default:
					a.flush(batch)
					return
				}
			}
		}
	}
}

func (a *Analytics) saveRound(rec RoundRecord) {
	if a.db == nil {
		return
	}
	id, err := a.db.RecordRound(rec)
	if err != nil {
		a.log.Error("record round failed", "room", rec.RoomID, "err", err)
		return
	}
	a.log.Debug("round recorded", "room", rec.RoomID, "id", id, "winner", rec.Winner)
}

// flush writes a batch of events to the database
func (a *Analytics) flush(events []AnalyticsEvent) {
	if a.db == nil || len(events) == 0 {
		return
	}
	tx, err := a.db.conn.Begin()
	if err != nil {
		a.log.Error("analytics begin tx", "err", err)
		return
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO analytics_events (event_type, player_key, room_id, data, created_at) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		a.log.Error("analytics prepare", "err", err)
		return
	}
	defer stmt.Close()

	for _, evt := range events {
		key := sql.NullString{String: evt.PlayerKey, Valid: evt.PlayerKey != ""}
		room := sql.NullString{String: evt.RoomID, Valid: evt.RoomID != ""}
		data := sql.NullString{String: evt.Data, Valid: evt.Data != ""}
		if _, err := stmt.Exec(evt.Type, key, room, data, evt.Timestamp.Format(time.RFC3339)); err != nil {
			a.log.Error("analytics insert", "type", evt.Type, "err", err)
		}
	}
	if err := tx.Commit(); err != nil {
		a.log.Error("analytics commit", "err", err)
	}
}

// EventCounts returns counts of each event type
func (a *Analytics) EventCounts() (map[string]int, error) {
	result := make(map[string]int)
	if a == nil || a.db == nil {
		return result, nil
	}
	rows, err := a.db.conn.Query(`
		SELECT event_type, COUNT(*) FROM analytics_events
		GROUP BY event_type ORDER BY COUNT(*) DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var evtType string
		var count int
		if err := rows.Scan(&evtType, &count); err != nil {
			return nil, err
		}
		result[evtType] = count
	}
	return result, rows.Err()
}
