package store

import "time"

// Session is the storage form of a session record.
// This is a copy of the main SessionRecord type to avoid circular imports.
type Session struct {
	SubscriptionID   string
	SessionID        string
	UserID           string
	FingerprintHash  string
	UserAgent        string
	ScreenResolution string
	Timezone         string
	Language         string
	Platform         string
	IPAddress        string
	Latitude         *float64
	Longitude        *float64
	City             string
	Country          string
	LastActiveAt     time.Time
	IsActive         bool
}

// Seat is the storage form of a seat assignment.
type Seat struct {
	SubscriptionID string
	SeatID         string
	UserID         string
	AssignedAt     time.Time
	LastActiveAt   time.Time
	Devices        []string
	IPAddresses    []string
	Locations      []string
	IsActive       bool
}

// Reassignment records a seat moving from one user to another.
type Reassignment struct {
	SubscriptionID string
	SeatID         string
	FromUserID     string
	ToUserID       string
	ReassignedAt   time.Time
}

// SessionStore defines the interface for session registry backends.
// Implementations must be safe for concurrent use.
type SessionStore interface {
	// Save upserts a session keyed by (SubscriptionID, SessionID).
	// An updated session keeps its original position in the listing order.
	Save(session *Session) error

	// Delete removes a session. Deleting an unknown session is not an error.
	Delete(subscriptionID, sessionID string) error

	// ListBySubscription returns every session of a subscription, active or not,
	// in registration order.
	ListBySubscription(subscriptionID string) ([]*Session, error)

	// ClearSessions removes all sessions.
	ClearSessions() error

	// Close releases any resources held by the store.
	Close() error
}

// SeatStore defines the interface for seat registry backends.
// Implementations must be safe for concurrent use.
type SeatStore interface {
	// SaveSeat upserts a seat keyed by (SubscriptionID, SeatID).
	SaveSeat(seat *Seat) error

	// ListSeats returns every seat of a subscription in registration order.
	ListSeats(subscriptionID string) ([]*Seat, error)

	// FindSubscription returns the subscription that owns seatID.
	// Subscriptions are scanned in registration order and the first match wins.
	FindSubscription(seatID string) (string, bool, error)

	// AppendReassignment appends to the subscription's reassignment history.
	AppendReassignment(r *Reassignment) error

	// ListReassignments returns the reassignment history of a subscription, oldest first.
	ListReassignments(subscriptionID string) ([]*Reassignment, error)

	// ClearSeats removes all seats and reassignments.
	ClearSeats() error

	// Close releases any resources held by the store.
	Close() error
}

// GraceStore tracks the first violation time of subscriptions in a grace period.
// Implementations must be safe for concurrent use.
type GraceStore interface {
	// StartGrace records at as the first violation unless one is already recorded.
	StartGrace(subscriptionID string, at time.Time) error

	// FirstViolation returns the recorded first violation, if any.
	FirstViolation(subscriptionID string) (time.Time, bool, error)

	// DeleteGrace removes the record for a subscription.
	DeleteGrace(subscriptionID string) error

	// ClearGrace removes all records.
	ClearGrace() error

	// Close releases any resources held by the store.
	Close() error
}
