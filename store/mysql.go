package store

import (
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLStore implements SessionStore and SeatStore using MySQL.
type MySQLStore struct {
	db *sql.DB
}

// NewMySQL creates a new MySQL registry store on an open connection pool.
func NewMySQL(db *sql.DB) (*MySQLStore, error) {
	if err := createMySQLSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	return &MySQLStore{db: db}, nil
}

// NewMySQLFromDSN creates a new MySQL registry store from a DSN.
// The DSN format is: user:password@tcp(host:port)/database
func NewMySQLFromDSN(dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("mysql: failed to open database: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("mysql: failed to connect: %w", err)
	}

	return NewMySQL(db)
}

func createMySQLSchema(db *sql.DB) error {
	// The driver rejects multi-statement Exec unless multiStatements=true,
	// so each table is created separately.
	statements := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id                BIGINT AUTO_INCREMENT PRIMARY KEY,
			subscription_id   VARCHAR(255) NOT NULL,
			session_id        VARCHAR(255) NOT NULL,
			user_id           VARCHAR(255) NOT NULL DEFAULT '',
			fingerprint_hash  VARCHAR(64) NOT NULL DEFAULT '',
			user_agent        TEXT,
			screen_resolution VARCHAR(32) NOT NULL DEFAULT '',
			timezone          VARCHAR(64) NOT NULL DEFAULT '',
			language          VARCHAR(64) NOT NULL DEFAULT '',
			platform          VARCHAR(100) NOT NULL DEFAULT '',
			ip_address        VARCHAR(45) NOT NULL DEFAULT '',
			latitude          DOUBLE NULL,
			longitude         DOUBLE NULL,
			city              VARCHAR(100) NOT NULL DEFAULT '',
			country           VARCHAR(100) NOT NULL DEFAULT '',
			last_active_at    BIGINT NOT NULL,
			is_active         TINYINT(1) NOT NULL DEFAULT 1,
			UNIQUE KEY uniq_sessions_subscription (subscription_id, session_id)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		`CREATE TABLE IF NOT EXISTS seats (
			id              BIGINT AUTO_INCREMENT PRIMARY KEY,
			subscription_id VARCHAR(255) NOT NULL,
			seat_id         VARCHAR(255) NOT NULL,
			user_id         VARCHAR(255) NOT NULL DEFAULT '',
			assigned_at     BIGINT NOT NULL,
			last_active_at  BIGINT NOT NULL,
			devices         JSON NOT NULL,
			ip_addresses    JSON NOT NULL,
			locations       JSON NOT NULL,
			is_active       TINYINT(1) NOT NULL DEFAULT 1,
			UNIQUE KEY uniq_seats_subscription (subscription_id, seat_id),
			INDEX idx_seats_seat_id (seat_id)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		`CREATE TABLE IF NOT EXISTS seat_reassignments (
			id              BIGINT AUTO_INCREMENT PRIMARY KEY,
			subscription_id VARCHAR(255) NOT NULL,
			seat_id         VARCHAR(255) NOT NULL,
			from_user_id    VARCHAR(255) NOT NULL DEFAULT '',
			to_user_id      VARCHAR(255) NOT NULL DEFAULT '',
			reassigned_at   BIGINT NOT NULL,
			INDEX idx_reassignments_subscription (subscription_id, id)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	}

	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("mysql: failed to create schema: %w", err)
		}
	}
	return nil
}

// Save upserts a session.
func (s *MySQLStore) Save(session *Session) error {
	query := `
	INSERT INTO sessions (` + sessionColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON DUPLICATE KEY UPDATE
		user_id = VALUES(user_id),
		fingerprint_hash = VALUES(fingerprint_hash),
		user_agent = VALUES(user_agent),
		screen_resolution = VALUES(screen_resolution),
		timezone = VALUES(timezone),
		language = VALUES(language),
		platform = VALUES(platform),
		ip_address = VALUES(ip_address),
		latitude = VALUES(latitude),
		longitude = VALUES(longitude),
		city = VALUES(city),
		country = VALUES(country),
		last_active_at = VALUES(last_active_at),
		is_active = VALUES(is_active)
	`

	if _, err := s.db.Exec(query, sessionArgs(session)...); err != nil {
		return fmt.Errorf("mysql: failed to save session: %w", err)
	}
	return nil
}

// Delete removes a session.
func (s *MySQLStore) Delete(subscriptionID, sessionID string) error {
	_, err := s.db.Exec(
		"DELETE FROM sessions WHERE subscription_id = ? AND session_id = ?",
		subscriptionID, sessionID,
	)
	if err != nil {
		return fmt.Errorf("mysql: failed to delete session: %w", err)
	}
	return nil
}

// ListBySubscription returns all sessions of a subscription in registration order.
func (s *MySQLStore) ListBySubscription(subscriptionID string) ([]*Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE subscription_id = ? ORDER BY id`
	sessions, err := querySessions(s.db, query, subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("mysql: %w", err)
	}
	return sessions, nil
}

// ClearSessions removes every session.
func (s *MySQLStore) ClearSessions() error {
	if _, err := s.db.Exec("DELETE FROM sessions"); err != nil {
		return fmt.Errorf("mysql: failed to clear sessions: %w", err)
	}
	return nil
}

// SaveSeat upserts a seat.
func (s *MySQLStore) SaveSeat(seat *Seat) error {
	args, err := seatArgs(seat)
	if err != nil {
		return fmt.Errorf("mysql: %w", err)
	}

	query := `
	INSERT INTO seats (` + seatColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON DUPLICATE KEY UPDATE
		user_id = VALUES(user_id),
		assigned_at = VALUES(assigned_at),
		last_active_at = VALUES(last_active_at),
		devices = VALUES(devices),
		ip_addresses = VALUES(ip_addresses),
		locations = VALUES(locations),
		is_active = VALUES(is_active)
	`
	if _, err := s.db.Exec(query, args...); err != nil {
		return fmt.Errorf("mysql: failed to save seat: %w", err)
	}
	return nil
}

// ListSeats returns all seats of a subscription in registration order.
func (s *MySQLStore) ListSeats(subscriptionID string) ([]*Seat, error) {
	query := `SELECT ` + seatColumns + ` FROM seats WHERE subscription_id = ? ORDER BY id`
	seats, err := querySeats(s.db, query, subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("mysql: %w", err)
	}
	return seats, nil
}

// FindSubscription returns the earliest registered subscription holding seatID.
func (s *MySQLStore) FindSubscription(seatID string) (string, bool, error) {
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
		return "", false, fmt.Errorf("mysql: failed to find seat subscription: %w", err)
	}
	return subscriptionID, true, nil
}

// AppendReassignment appends to the reassignment history.
func (s *MySQLStore) AppendReassignment(r *Reassignment) error {
	_, err := s.db.Exec(
		`INSERT INTO seat_reassignments (subscription_id, seat_id, from_user_id, to_user_id, reassigned_at)
		VALUES (?, ?, ?, ?, ?)`,
		r.SubscriptionID, r.SeatID, r.FromUserID, r.ToUserID, toMillis(r.ReassignedAt),
	)
	if err != nil {
		return fmt.Errorf("mysql: failed to append reassignment: %w", err)
	}
	return nil
}

// ListReassignments returns the subscription's history, oldest first.
func (s *MySQLStore) ListReassignments(subscriptionID string) ([]*Reassignment, error) {
	out, err := queryReassignments(s.db, `
		SELECT subscription_id, seat_id, from_user_id, to_user_id, reassigned_at
		FROM seat_reassignments WHERE subscription_id = ? ORDER BY id`,
		subscriptionID,
	)
	if err != nil {
		return nil, fmt.Errorf("mysql: %w", err)
	}
	return out, nil
}

// ClearSeats removes every seat and reassignment.
func (s *MySQLStore) ClearSeats() error {
	for _, table := range []string{"seats", "seat_reassignments"} {
		if _, err := s.db.Exec("DELETE FROM " + table); err != nil {
			return fmt.Errorf("mysql: failed to clear %s: %w", table, err)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *MySQLStore) Close() error {
	return s.db.Close()
}

var (
	_ SessionStore = (*MySQLStore)(nil)
	_ SeatStore    = (*MySQLStore)(nil)
)
