package seatguard

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"

	"github.com/aadithya-v/seatguard/store"
)

// Guard wires both detectors to their stores and is the main entry point
// for a host application.
type Guard struct {
	config  Config
	sharing *AntiSharingDetector
	seats   *SeatAbuseDetector
	geoip   *GeoIPReader
	closers []io.Closer
}

// New creates a new Guard with the given configuration.
// Stores left nil default to a SQLite database at DatabasePath, or to
// in-memory stores when DatabasePath is empty.
//
// Stores passed in through cfg are handed over to the Guard once New
// succeeds and are closed by Close. If New fails it closes only what it
// opened itself.
func New(cfg Config) (*Guard, error) {
	cfg.applyDefaults()

	g := &Guard{config: cfg}
	var opened []io.Closer
	fail := func(err error) (*Guard, error) {
		for _, c := range opened {
			c.Close()
		}
		return nil, err
	}

	if cfg.DatabasePath != "" && (cfg.SessionStore == nil || cfg.SeatStore == nil || cfg.GraceStore == nil) {
		sqliteStore, err := store.NewSQLite(cfg.DatabasePath)
		if err != nil {
			return nil, fmt.Errorf("seatguard: failed to initialize SQLite store: %w", err)
		}
		opened = append(opened, sqliteStore)
		if cfg.SessionStore == nil {
			cfg.SessionStore = sqliteStore
		}
		if cfg.SeatStore == nil {
			cfg.SeatStore = sqliteStore
		}
		if cfg.GraceStore == nil {
			cfg.GraceStore = sqliteStore
		}
	}
	if cfg.SessionStore == nil {
		cfg.SessionStore = store.NewMemorySessionStore()
	}
	if cfg.SeatStore == nil {
		cfg.SeatStore = store.NewMemorySeatStore()
	}
	if cfg.GraceStore == nil {
		cfg.GraceStore = store.NewMemoryGraceStore()
	}

	common := []Option{
		WithLogger(cfg.Logger),
		WithClock(cfg.Now),
		WithRegisterer(cfg.Registerer),
	}

	var err error
	g.sharing, err = NewAntiSharingDetector(cfg.Sharing, append(common,
		WithSessionStore(cfg.SessionStore),
		WithGraceStore(cfg.GraceStore),
	)...)
	if err != nil {
		return fail(err)
	}

	g.seats, err = NewSeatAbuseDetector(cfg.Seats, append(common,
		WithSeatStore(cfg.SeatStore),
	)...)
	if err != nil {
		return fail(err)
	}

	// Initialize GeoIP reader if path is provided
	if cfg.GeoIPDatabasePath != "" {
		geoip, err := NewGeoIPReader(cfg.GeoIPDatabasePath)
		if err != nil {
			return fail(fmt.Errorf("seatguard: failed to initialize GeoIP: %w", err))
		}
		g.geoip = geoip
	}

	g.track(cfg.SessionStore, cfg.SeatStore, cfg.GraceStore)
	if g.geoip != nil {
		g.track(g.geoip)
	}
	g.config = cfg
	return g, nil
}

// track remembers closers once each; one SQLite store may back all three roles.
func (g *Guard) track(closers ...io.Closer) {
	for _, c := range closers {
		if !slices.Contains(g.closers, c) {
			g.closers = append(g.closers, c)
		}
	}
}

// Sharing returns the account-sharing detector.
func (g *Guard) Sharing() *AntiSharingDetector {
	return g.sharing
}

// Seats returns the seat-abuse detector.
func (g *Guard) Seats() *SeatAbuseDetector {
	return g.seats
}

// Close releases all resources held by the Guard.
// Should be called when the application shuts down.
func (g *Guard) Close() error {
	var errs []error
	for _, c := range g.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	g.closers = nil

	if len(errs) > 0 {
		return fmt.Errorf("seatguard: errors during close: %w", errors.Join(errs...))
	}
	return nil
}

// SessionFromRequest builds an active session record from an HTTP request.
// Location fields are filled only when GeoIP is configured.
func (g *Guard) SessionFromRequest(r *http.Request, subscriptionID, sessionID, userID string) SessionRecord {
	session := SessionRecord{
		SubscriptionID:    subscriptionID,
		SessionID:         sessionID,
		UserID:            userID,
		DeviceFingerprint: ExtractFingerprint(r),
		IPAddress:         ClientIP(r),
		LastActiveAt:      g.config.Now(),
		IsActive:          true,
	}
	g.geoip.locate(&session)
	return session
}

// RegisterRequest registers the session an HTTP request belongs to and
// returns the stored record.
func (g *Guard) RegisterRequest(r *http.Request, subscriptionID, sessionID, userID string) (SessionRecord, error) {
	session := g.SessionFromRequest(r, subscriptionID, sessionID, userID)
	if err := g.sharing.RegisterSession(session); err != nil {
		return SessionRecord{}, err
	}
	return session, nil
}

// RecordSeatActivity marks a registered seat as used now and adds the
// request's device, IP and location to the seat if they are new.
func (g *Guard) RecordSeatActivity(r *http.Request, subscriptionID, seatID string) error {
	seats, err := g.seats.Seats(subscriptionID)
	if err != nil {
		return err
	}
	i := slices.IndexFunc(seats, func(s SeatAssignment) bool { return s.SeatID == seatID })
	if i < 0 {
		return fmt.Errorf("%w: unknown seat %q", ErrInvalidSeat, seatID)
	}

	session := g.SessionFromRequest(r, subscriptionID, "", "")
	seat := seats[i]
	seat.Devices = appendUnique(seat.Devices, session.DeviceFingerprint.Hash)
	seat.IPAddresses = appendUnique(seat.IPAddresses, session.IPAddress)
	seat.Locations = appendUnique(seat.Locations, formatLocation(session.City, session.Country))
	seat.LastActiveAt = session.LastActiveAt
	seat.IsActive = true

	return g.seats.RegisterSeat(seat)
}

func appendUnique(values []string, v string) []string {
	if v == "" || slices.Contains(values, v) {
		return values
	}
	return append(values, v)
}
