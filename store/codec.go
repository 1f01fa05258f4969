package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// encodeList serializes a string list for a TEXT/JSON column.
func encodeList(values []string) (string, error) {
	if values == nil {
		values = []string{}
	}
	b, err := json.Marshal(values)
	if err != nil {
		return "", fmt.Errorf("store: failed to encode list: %w", err)
	}
	return string(b), nil
}

// decodeList parses a column written by encodeList. Empty input yields nil.
func decodeList(raw string) ([]string, error) {
	if raw == "" {
		return nil, nil
	}
	var values []string
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return nil, fmt.Errorf("store: failed to decode list: %w", err)
	}
	if len(values) == 0 {
		return nil, nil
	}
	return values, nil
}

// Timestamps are persisted as Unix milliseconds so every backend round-trips
// them identically regardless of driver time handling.
func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms)
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	f := n.Float64
	return &f
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

const sessionColumns = `subscription_id, session_id, user_id, fingerprint_hash, user_agent,
		screen_resolution, timezone, language, platform, ip_address,
		latitude, longitude, city, country, last_active_at, is_active`

func sessionArgs(s *Session) []any {
	return []any{
		s.SubscriptionID,
		s.SessionID,
		s.UserID,
		s.FingerprintHash,
		s.UserAgent,
		s.ScreenResolution,
		s.Timezone,
		s.Language,
		s.Platform,
		s.IPAddress,
		nullFloat(s.Latitude),
		nullFloat(s.Longitude),
		s.City,
		s.Country,
		toMillis(s.LastActiveAt),
		s.IsActive,
	}
}

func scanSession(row rowScanner) (*Session, error) {
	var (
		session      Session
		lat, lng     sql.NullFloat64
		lastActiveAt int64
	)
	err := row.Scan(
		&session.SubscriptionID,
		&session.SessionID,
		&session.UserID,
		&session.FingerprintHash,
		&session.UserAgent,
		&session.ScreenResolution,
		&session.Timezone,
		&session.Language,
		&session.Platform,
		&session.IPAddress,
		&lat,
		&lng,
		&session.City,
		&session.Country,
		&lastActiveAt,
		&session.IsActive,
	)
	if err != nil {
		return nil, fmt.Errorf("store: failed to scan session: %w", err)
	}
	session.Latitude = floatPtr(lat)
	session.Longitude = floatPtr(lng)
	session.LastActiveAt = fromMillis(lastActiveAt)
	return &session, nil
}

const seatColumns = `subscription_id, seat_id, user_id, assigned_at, last_active_at,
		devices, ip_addresses, locations, is_active`

func seatArgs(s *Seat) ([]any, error) {
	devices, err := encodeList(s.Devices)
	if err != nil {
		return nil, err
	}
	ips, err := encodeList(s.IPAddresses)
	if err != nil {
		return nil, err
	}
	locations, err := encodeList(s.Locations)
	if err != nil {
		return nil, err
	}
	return []any{
		s.SubscriptionID,
		s.SeatID,
		s.UserID,
		toMillis(s.AssignedAt),
		toMillis(s.LastActiveAt),
		devices,
		ips,
		locations,
		s.IsActive,
	}, nil
}

func scanSeat(row rowScanner) (*Seat, error) {
	var (
		seat                     Seat
		assignedAt, lastActiveAt int64
		devices, ips, locations  string
	)
	err := row.Scan(
		&seat.SubscriptionID,
		&seat.SeatID,
		&seat.UserID,
		&assignedAt,
		&lastActiveAt,
		&devices,
		&ips,
		&locations,
		&seat.IsActive,
	)
	if err != nil {
		return nil, fmt.Errorf("store: failed to scan seat: %w", err)
	}
	seat.AssignedAt = fromMillis(assignedAt)
	seat.LastActiveAt = fromMillis(lastActiveAt)
	if seat.Devices, err = decodeList(devices); err != nil {
		return nil, err
	}
	if seat.IPAddresses, err = decodeList(ips); err != nil {
		return nil, err
	}
	if seat.Locations, err = decodeList(locations); err != nil {
		return nil, err
	}
	return &seat, nil
}

func scanReassignment(row rowScanner) (*Reassignment, error) {
	var (
		r            Reassignment
		reassignedAt int64
	)
	if err := row.Scan(&r.SubscriptionID, &r.SeatID, &r.FromUserID, &r.ToUserID, &reassignedAt); err != nil {
		return nil, fmt.Errorf("store: failed to scan reassignment: %w", err)
	}
	r.ReassignedAt = fromMillis(reassignedAt)
	return &r, nil
}

// querySessions runs a session query and collects the rows.
func querySessions(db *sql.DB, query string, args ...any) ([]*Session, error) {
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: failed to query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: error iterating sessions: %w", err)
	}
	return sessions, nil
}

func querySeats(db *sql.DB, query string, args ...any) ([]*Seat, error) {
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: failed to query seats: %w", err)
	}
	defer rows.Close()

	var seats []*Seat
	for rows.Next() {
		seat, err := scanSeat(rows)
		if err != nil {
			return nil, err
		}
		seats = append(seats, seat)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: error iterating seats: %w", err)
	}
	return seats, nil
}

func queryReassignments(db *sql.DB, query string, args ...any) ([]*Reassignment, error) {
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: failed to query reassignments: %w", err)
	}
	defer rows.Close()

	var out []*Reassignment
	for rows.Next() {
		r, err := scanReassignment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: error iterating reassignments: %w", err)
	}
	return out, nil
}
