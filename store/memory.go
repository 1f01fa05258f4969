package store

import (
	"sync"
	"time"
)

// sessionShard holds the sessions of a single subscription.
type sessionShard struct {
	mu       sync.RWMutex
	sessions []*Session
	index    map[string]int // sessionID -> position in sessions
}

// MemorySessionStore implements SessionStore using per-subscription shards.
// Subscriptions never share a lock, so writers on one subscription do not
// block readers on another.
type MemorySessionStore struct {
	mu     sync.RWMutex
	shards map[string]*sessionShard // subscriptionID -> shard
}

// NewMemorySessionStore creates a new in-memory session store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{
		shards: make(map[string]*sessionShard),
	}
}

// shard returns the shard for a subscription, creating it when create is set.
func (s *MemorySessionStore) shard(subscriptionID string, create bool) *sessionShard {
	s.mu.RLock()
	sh := s.shards[subscriptionID]
	s.mu.RUnlock()
	if sh != nil || !create {
		return sh
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sh = s.shards[subscriptionID]; sh == nil {
		sh = &sessionShard{index: make(map[string]int)}
		s.shards[subscriptionID] = sh
	}
	return sh
}

// Save upserts a session.
func (s *MemorySessionStore) Save(session *Session) error {
	sh := s.shard(session.SubscriptionID, true)
	cp := copySession(session)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	if i, ok := sh.index[session.SessionID]; ok {
		sh.sessions[i] = cp
		return nil
	}
	sh.index[session.SessionID] = len(sh.sessions)
	sh.sessions = append(sh.sessions, cp)
	return nil
}

// Delete removes a session by its subscription and ID.
func (s *MemorySessionStore) Delete(subscriptionID, sessionID string) error {
	sh := s.shard(subscriptionID, false)
	if sh == nil {
		return nil
	}

	sh.mu.Lock()
	defer sh.mu.Unlock()

	i, ok := sh.index[sessionID]
	if !ok {
		return nil
	}
	sh.sessions = append(sh.sessions[:i], sh.sessions[i+1:]...)
	delete(sh.index, sessionID)
	for j := i; j < len(sh.sessions); j++ {
		sh.index[sh.sessions[j].SessionID] = j
	}
	return nil
}

// ListBySubscription returns copies of all sessions of a subscription.
func (s *MemorySessionStore) ListBySubscription(subscriptionID string) ([]*Session, error) {
	sh := s.shard(subscriptionID, false)
	if sh == nil {
		return nil, nil
	}

	sh.mu.RLock()
	defer sh.mu.RUnlock()

	out := make([]*Session, len(sh.sessions))
	for i, session := range sh.sessions {
		out[i] = copySession(session)
	}
	return out, nil
}

// ClearSessions drops every shard. It is a reset hook: a Save racing with
// it may land in a dropped shard and be lost. Saves that start after it
// returns are kept.
func (s *MemorySessionStore) ClearSessions() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shards = make(map[string]*sessionShard)
	return nil
}

// Close is a no-op for the memory store.
func (s *MemorySessionStore) Close() error {
	return nil
}

func copySession(session *Session) *Session {
	cp := *session
	if session.Latitude != nil {
		lat := *session.Latitude
		cp.Latitude = &lat
	}
	if session.Longitude != nil {
		lng := *session.Longitude
		cp.Longitude = &lng
	}
	return &cp
}

// seatShard holds the seats and reassignment history of one subscription.
type seatShard struct {
	mu            sync.RWMutex
	seats         []*Seat
	index         map[string]int // seatID -> position in seats
	reassignments []*Reassignment
}

// MemorySeatStore implements SeatStore using per-subscription shards.
type MemorySeatStore struct {
	mu     sync.RWMutex
	shards map[string]*seatShard
	order  []string // subscription IDs in registration order
}

// NewMemorySeatStore creates a new in-memory seat store.
func NewMemorySeatStore() *MemorySeatStore {
	return &MemorySeatStore{
		shards: make(map[string]*seatShard),
	}
}

func (s *MemorySeatStore) shard(subscriptionID string, create bool) *seatShard {
	s.mu.RLock()
	sh := s.shards[subscriptionID]
	s.mu.RUnlock()
	if sh != nil || !create {
		return sh
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sh = s.shards[subscriptionID]; sh == nil {
		sh = &seatShard{index: make(map[string]int)}
		s.shards[subscriptionID] = sh
		s.order = append(s.order, subscriptionID)
	}
	return sh
}

// SaveSeat upserts a seat.
func (s *MemorySeatStore) SaveSeat(seat *Seat) error {
	sh := s.shard(seat.SubscriptionID, true)
	cp := copySeat(seat)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	if i, ok := sh.index[seat.SeatID]; ok {
		sh.seats[i] = cp
		return nil
	}
	sh.index[seat.SeatID] = len(sh.seats)
	sh.seats = append(sh.seats, cp)
	return nil
}

// ListSeats returns copies of all seats of a subscription.
func (s *MemorySeatStore) ListSeats(subscriptionID string) ([]*Seat, error) {
	sh := s.shard(subscriptionID, false)
	if sh == nil {
		return nil, nil
	}

	sh.mu.RLock()
	defer sh.mu.RUnlock()

	out := make([]*Seat, len(sh.seats))
	for i, seat := range sh.seats {
		out[i] = copySeat(seat)
	}
	return out, nil
}

// FindSubscription scans subscriptions in registration order for seatID.
func (s *MemorySeatStore) FindSubscription(seatID string) (string, bool, error) {
	s.mu.RLock()
	order := append([]string(nil), s.order...)
	s.mu.RUnlock()

	for _, subscriptionID := range order {
		sh := s.shard(subscriptionID, false)
		if sh == nil {
			continue
		}
		sh.mu.RLock()
		_, ok := sh.index[seatID]
		sh.mu.RUnlock()
		if ok {
			return subscriptionID, true, nil
		}
	}
	return "", false, nil
}

// AppendReassignment appends to the subscription's history.
func (s *MemorySeatStore) AppendReassignment(r *Reassignment) error {
	sh := s.shard(r.SubscriptionID, true)
	cp := *r

	sh.mu.Lock()
	defer sh.mu.Unlock()
	sh.reassignments = append(sh.reassignments, &cp)
	return nil
}

// ListReassignments returns copies of the subscription's history.
func (s *MemorySeatStore) ListReassignments(subscriptionID string) ([]*Reassignment, error) {
	sh := s.shard(subscriptionID, false)
	if sh == nil {
		return nil, nil
	}

	sh.mu.RLock()
	defer sh.mu.RUnlock()

	out := make([]*Reassignment, len(sh.reassignments))
	for i, r := range sh.reassignments {
		cp := *r
		out[i] = &cp
	}
	return out, nil
}

// ClearSeats drops every shard and the registration order. Like
// ClearSessions, a write racing with it may be lost.
func (s *MemorySeatStore) ClearSeats() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shards = make(map[string]*seatShard)
	s.order = nil
	return nil
}

// Close is a no-op for the memory store.
func (s *MemorySeatStore) Close() error {
	return nil
}

func copySeat(seat *Seat) *Seat {
	cp := *seat
	cp.Devices = append([]string(nil), seat.Devices...)
	cp.IPAddresses = append([]string(nil), seat.IPAddresses...)
	cp.Locations = append([]string(nil), seat.Locations...)
	return &cp
}

// MemoryGraceStore implements GraceStore using an in-memory map.
type MemoryGraceStore struct {
	mu      sync.RWMutex
	entries map[string]time.Time // subscriptionID -> first violation
}

// NewMemoryGraceStore creates a new in-memory grace store.
func NewMemoryGraceStore() *MemoryGraceStore {
	return &MemoryGraceStore{
		entries: make(map[string]time.Time),
	}
}

// StartGrace records the first violation if none is recorded yet.
func (c *MemoryGraceStore) StartGrace(subscriptionID string, at time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[subscriptionID]; !exists {
		c.entries[subscriptionID] = at
	}
	return nil
}

// FirstViolation returns the recorded first violation.
func (c *MemoryGraceStore) FirstViolation(subscriptionID string) (time.Time, bool, error) {
	c.mu.RLock()
	at, exists := c.entries[subscriptionID]
	c.mu.RUnlock()
	return at, exists, nil
}

// DeleteGrace removes a subscription's record.
func (c *MemoryGraceStore) DeleteGrace(subscriptionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, subscriptionID)
	return nil
}

// ClearGrace removes all records.
func (c *MemoryGraceStore) ClearGrace() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]time.Time)
	return nil
}

// Close is a no-op for the memory store.
func (c *MemoryGraceStore) Close() error {
	return nil
}

var (
	_ SessionStore = (*MemorySessionStore)(nil)
	_ SeatStore    = (*MemorySeatStore)(nil)
	_ GraceStore   = (*MemoryGraceStore)(nil)
)
