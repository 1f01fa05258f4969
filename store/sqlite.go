package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements SessionStore, SeatStore and GraceStore using SQLite.
// It uses the pure Go modernc.org/sqlite driver.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite registry store.
// The database file is created if it doesn't exist.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrent read performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: failed to set busy timeout: %w", err)
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db}, nil
}

func createSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id                INTEGER PRIMARY KEY AUTOINCREMENT,
		subscription_id   TEXT NOT NULL,
		session_id        TEXT NOT NULL,
		user_id           TEXT NOT NULL DEFAULT '',
		fingerprint_hash  TEXT NOT NULL DEFAULT '',
		user_agent        TEXT NOT NULL DEFAULT '',
		screen_resolution TEXT NOT NULL DEFAULT '',
		timezone          TEXT NOT NULL DEFAULT '',
		language          TEXT NOT NULL DEFAULT '',
		platform          TEXT NOT NULL DEFAULT '',
		ip_address        TEXT NOT NULL DEFAULT '',
		latitude          REAL,
		longitude         REAL,
		city              TEXT NOT NULL DEFAULT '',
		country           TEXT NOT NULL DEFAULT '',
		last_active_at    INTEGER NOT NULL,
		is_active         INTEGER NOT NULL DEFAULT 1,
		UNIQUE (subscription_id, session_id)
	);

	CREATE TABLE IF NOT EXISTS seats (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		subscription_id TEXT NOT NULL,
		seat_id         TEXT NOT NULL,
		user_id         TEXT NOT NULL DEFAULT '',
		assigned_at     INTEGER NOT NULL,
		last_active_at  INTEGER NOT NULL,
		devices         TEXT NOT NULL DEFAULT '[]',
		ip_addresses    TEXT NOT NULL DEFAULT '[]',
		locations       TEXT NOT NULL DEFAULT '[]',
		is_active       INTEGER NOT NULL DEFAULT 1,
		UNIQUE (subscription_id, seat_id)
	);

	CREATE INDEX IF NOT EXISTS idx_seats_seat_id ON seats (seat_id);

	CREATE TABLE IF NOT EXISTS seat_reassignments (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		subscription_id TEXT NOT NULL,
		seat_id         TEXT NOT NULL,
		from_user_id    TEXT NOT NULL DEFAULT '',
		to_user_id      TEXT NOT NULL DEFAULT '',
		reassigned_at   INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_reassignments_subscription
		ON seat_reassignments (subscription_id, id);

	CREATE TABLE IF NOT EXISTS grace_periods (
		subscription_id    TEXT PRIMARY KEY,
		first_violation_at INTEGER NOT NULL
	);
	`

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("sqlite: failed to create schema: %w", err)
	}
	return nil
}

// Save upserts a session. The row keeps its id, and with it its listing position.
func (s *SQLiteStore) Save(session *Session) error {
	query := `
	INSERT INTO sessions (` + sessionColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (subscription_id, session_id) DO UPDATE SET
		user_id = excluded.user_id,
		fingerprint_hash = excluded.fingerprint_hash,
		user_agent = excluded.user_agent,
		screen_resolution = excluded.screen_resolution,
		timezone = excluded.timezone,
		language = excluded.language,
		platform = excluded.platform,
		ip_address = excluded.ip_address,
		latitude = excluded.latitude,
		longitude = excluded.longitude,
		city = excluded.city,
		country = excluded.country,
		last_active_at = excluded.last_active_at,
		is_active = excluded.is_active
	`

	if _, err := s.db.Exec(query, sessionArgs(session)...); err != nil {
		return fmt.Errorf("sqlite: failed to save session: %w", err)
	}
	return nil
}

// Delete removes a session.
func (s *SQLiteStore) Delete(subscriptionID, sessionID string) error {
	_, err := s.db.Exec(
		"DELETE FROM sessions WHERE subscription_id = ? AND session_id = ?",
		subscriptionID, sessionID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: failed to delete session: %w", err)
	}
	return nil
}

// ListBySubscription returns all sessions of a subscription in registration order.
func (s *SQLiteStore) ListBySubscription(subscriptionID string) ([]*Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE subscription_id = ? ORDER BY id`
	sessions, err := querySessions(s.db, query, subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: %w", err)
	}
	return sessions, nil
}

// SaveSeat upserts a seat.
func (s *SQLiteStore) SaveSeat(seat *Seat) error {
	args, err := seatArgs(seat)
	if err != nil {
		return fmt.Errorf("sqlite: %w", err)
	}

	query := `
	INSERT INTO seats (` + seatColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (subscription_id, seat_id) DO UPDATE SET
		user_id = excluded.user_id,
		assigned_at = excluded.assigned_at,
		last_active_at = excluded.last_active_at,
		devices = excluded.devices,
		ip_addresses = excluded.ip_addresses,
		locations = excluded.locations,
		is_active = excluded.is_active
	`
	if _, err := s.db.Exec(query, args...); err != nil {
		return fmt.Errorf("sqlite: failed to save seat: %w", err)
	}
	return nil
}

// ListSeats returns all seats of a subscription in registration order.
func (s *SQLiteStore) ListSeats(subscriptionID string) ([]*Seat, error) {
	query := `SELECT ` + seatColumns + ` FROM seats WHERE subscription_id = ? ORDER BY id`
	seats, err := querySeats(s.db, query, subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: %w", err)
	}
	return seats, nil
}

// FindSubscription returns the earliest registered subscription holding seatID.
func (s *SQLiteStore) FindSubscription(seatID string) (string, bool, error) {
	var subscriptionID string
	err := s.db.QueryRow(`
		SELECT s.subscription_id FROM seats s
		WHERE s.seat_id = ?
		ORDER BY (SELECT MIN(f.id) FROM seats f WHERE f.subscription_id = s.subscription_id)
		LIMIT 1`,
		seatID,
	).Scan(&subscriptionID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("sqlite: failed to find seat subscription: %w", err)
	}
	return subscriptionID, true, nil
}

// AppendReassignment appends to the reassignment history.
func (s *SQLiteStore) AppendReassignment(r *Reassignment) error {
	_, err := s.db.Exec(
		`INSERT INTO seat_reassignments (subscription_id, seat_id, from_user_id, to_user_id, reassigned_at)
		VALUES (?, ?, ?, ?, ?)`,
		r.SubscriptionID, r.SeatID, r.FromUserID, r.ToUserID, toMillis(r.ReassignedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: failed to append reassignment: %w", err)
	}
	return nil
}

// ListReassignments returns the subscription's history, oldest first.
func (s *SQLiteStore) ListReassignments(subscriptionID string) ([]*Reassignment, error) {
	out, err := queryReassignments(s.db, `
		SELECT subscription_id, seat_id, from_user_id, to_user_id, reassigned_at
		FROM seat_reassignments WHERE subscription_id = ? ORDER BY id`,
		subscriptionID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: %w", err)
	}
	return out, nil
}

// StartGrace records the first violation unless one exists.
func (s *SQLiteStore) StartGrace(subscriptionID string, at time.Time) error {
	_, err := s.db.Exec(
		"INSERT OR IGNORE INTO grace_periods (subscription_id, first_violation_at) VALUES (?, ?)",
		subscriptionID, toMillis(at),
	)
	if err != nil {
		return fmt.Errorf("sqlite: failed to start grace period: %w", err)
	}
	return nil
}

// FirstViolation returns the recorded first violation.
func (s *SQLiteStore) FirstViolation(subscriptionID string) (time.Time, bool, error) {
	var ms int64
	err := s.db.QueryRow(
		"SELECT first_violation_at FROM grace_periods WHERE subscription_id = ?",
		subscriptionID,
	).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("sqlite: failed to read grace period: %w", err)
	}
	return fromMillis(ms), true, nil
}

// DeleteGrace removes a subscription's grace record.
func (s *SQLiteStore) DeleteGrace(subscriptionID string) error {
	_, err := s.db.Exec("DELETE FROM grace_periods WHERE subscription_id = ?", subscriptionID)
	if err != nil {
		return fmt.Errorf("sqlite: failed to clear grace period: %w", err)
	}
	return nil
}

// ClearSessions removes every session.
func (s *SQLiteStore) ClearSessions() error {
	return s.clearTables("sessions")
}

// ClearSeats removes every seat and reassignment.
func (s *SQLiteStore) ClearSeats() error {
	return s.clearTables("seats", "seat_reassignments")
}

// ClearGrace removes every grace record.
func (s *SQLiteStore) ClearGrace() error {
	return s.clearTables("grace_periods")
}

func (s *SQLiteStore) clearTables(tables ...string) error {
	for _, table := range tables {
		if _, err := s.db.Exec("DELETE FROM " + table); err != nil {
			return fmt.Errorf("sqlite: failed to clear %s: %w", table, err)
		}
	}
	return nil
}

var (
	_ SessionStore = (*SQLiteStore)(nil)
	_ SeatStore    = (*SQLiteStore)(nil)
	_ GraceStore   = (*SQLiteStore)(nil)
)

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
