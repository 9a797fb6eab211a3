package main

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"
)

// DB wraps the SQLite match log
type DB struct {
	conn *sql.DB
	log  *slog.Logger
}

// PlayerRow is a known player identity
type PlayerRow struct {
	Key          string    `json:"key"`
	Name         string    `json:"name"`
	RoundsPlayed int       `json:"roundsPlayed"`
	RoundsWon    int       `json:"roundsWon"`
	FirstSeen    time.Time `json:"firstSeen"`
	LastSeen     time.Time `json:"lastSeen"`
}

// RoundRecord is a finished round as the room saw it
type RoundRecord struct {
	RoomID    string
	Number    int
	Winner    string
	RedScore  int
	BlueScore int
	Duration  time.Duration
	EndedAt   time.Time
	Players   map[string]Team // player key -> team
}

// RoundRow is a stored round
type RoundRow struct {
	ID        int64     `json:"id"`
	RoomID    string    `json:"roomId"`
	Number    int       `json:"number"`
	Winner    string    `json:"winner"`
	RedScore  int       `json:"redScore"`
	BlueScore int       `json:"blueScore"`
	Duration  float64   `json:"duration"` // seconds
	Players   int       `json:"players"`
	EndedAt   time.Time `json:"endedAt"`
}

// OpenDB opens (or creates) the SQLite database. ":memory:" keeps the log in
// process for the lifetime of the server.
func OpenDB(path string, logger *slog.Logger) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	// one connection: an in-memory database is private to its connection
	conn.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA foreign_keys=ON"} {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	db := &DB{conn: conn, log: logger}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS players (
		key TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		rounds_played INTEGER NOT NULL DEFAULT 0,
		rounds_won INTEGER NOT NULL DEFAULT 0,
		first_seen DATETIME NOT NULL,
		last_seen DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS rounds (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		room_id TEXT NOT NULL,
		number INTEGER NOT NULL,
		winner TEXT NOT NULL,
		red_score INTEGER NOT NULL DEFAULT 0,
		blue_score INTEGER NOT NULL DEFAULT 0,
		duration REAL NOT NULL DEFAULT 0,
		ended_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS round_players (
		round_id INTEGER NOT NULL REFERENCES rounds(id),
		player_key TEXT NOT NULL,
		team TEXT NOT NULL,
		PRIMARY KEY (round_id, player_key)
	);

	CREATE TABLE IF NOT EXISTS analytics_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		event_type TEXT NOT NULL,
		player_key TEXT,
		room_id TEXT,
		data TEXT,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_rounds_room ON rounds(room_id);
	CREATE INDEX IF NOT EXISTS idx_events_type ON analytics_events(event_type);
	`
	if _, err := db.conn.Exec(schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// TouchPlayer records that key was seen under name
func (db *DB) TouchPlayer(key, name string, now time.Time) error {
	_, err := db.conn.Exec(`
		INSERT INTO players (key, name, first_seen, last_seen) VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET name = excluded.name, last_seen = excluded.last_seen
	`, key, name, now.UTC(), now.UTC())
	if err != nil {
		return fmt.Errorf("touch player: %w", err)
	}
	return nil
}

// GetPlayer returns a player by key, nil if unknown
func (db *DB) GetPlayer(key string) (*PlayerRow, error) {
	p := &PlayerRow{}
	err := db.conn.QueryRow(`
		SELECT key, name, rounds_played, rounds_won, first_seen, last_seen
		FROM players WHERE key = ?
	`, key).Scan(&p.Key, &p.Name, &p.RoundsPlayed, &p.RoundsWon, &p.FirstSeen, &p.LastSeen)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get player: %w", err)
	}
	return p, nil
}

// RecordRound stores a finished round and credits its participants
func (db *DB) RecordRound(rec RoundRecord) (int64, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return 0, fmt.Errorf("record round: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`
		INSERT INTO rounds (room_id, number, winner, red_score, blue_score, duration, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, rec.RoomID, rec.Number, rec.Winner, rec.RedScore, rec.BlueScore, rec.Duration.Seconds(), rec.EndedAt.UTC())
	if err != nil {
		return 0, fmt.Errorf("insert round: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert round: %w", err)
	}

	for key, team := range rec.Players {
		if _, err := tx.Exec(
			"INSERT OR IGNORE INTO round_players (round_id, player_key, team) VALUES (?, ?, ?)",
			id, key, string(team),
		); err != nil {
			return 0, fmt.Errorf("insert round player: %w", err)
		}
		won := 0
		if string(team) == rec.Winner {
			won = 1
		}
		if _, err := tx.Exec(
			"UPDATE players SET rounds_played = rounds_played + 1, rounds_won = rounds_won + ? WHERE key = ?",
			won, key,
		); err != nil {
			return 0, fmt.Errorf("credit player: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("record round: %w", err)
	}
	return id, nil
}

// RecentRounds returns the newest rounds first
func (db *DB) RecentRounds(limit int) ([]RoundRow, error) {
	rows, err := db.conn.Query(`
		SELECT r.id, r.room_id, r.number, r.winner, r.red_score, r.blue_score, r.duration, r.ended_at,
			(SELECT COUNT(*) FROM round_players rp WHERE rp.round_id = r.id)
		FROM rounds r ORDER BY r.id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent rounds: %w", err)
	}
	defer rows.Close()

	result := make([]RoundRow, 0, limit)
	for rows.Next() {
		var r RoundRow
		if err := rows.Scan(&r.ID, &r.RoomID, &r.Number, &r.Winner, &r.RedScore, &r.BlueScore, &r.Duration, &r.EndedAt, &r.Players); err != nil {
			return nil, fmt.Errorf("recent rounds: %w", err)
		}
		result = append(result, r)
	}
	return result, rows.Err()
}
