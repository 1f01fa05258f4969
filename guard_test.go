package seatguard

import (
	"errors"
	"fmt"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/aadithya-v/seatguard/store"
)

const chromeOnWindows = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// newTestGuard creates a Guard backed by a SQLite database in a temp dir.
func newTestGuard(t *testing.T, clock *testClock) (*Guard, string) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")

	g, err := New(Config{
		DatabasePath: dbPath,
		Now:          clock.Now,
	})
	if err != nil {
		t.Fatalf("Failed to create Guard: %v", err)
	}
	t.Cleanup(func() { g.Close() })
	return g, dbPath
}

func TestGuardBasicFlow(t *testing.T) {
	clock := newTestClock()
	g, _ := newTestGuard(t, clock)

	for i := 0; i < 4; i++ {
		r := httptest.NewRequest("GET", "/", nil)
		r.Header.Set("User-Agent", chromeOnWindows)
		r.Header.Set("X-Forwarded-For", fmt.Sprintf("198.51.100.%d", i+1))

		session, err := g.RegisterRequest(r, "sub-1", fmt.Sprintf("session-%d", i), "user-1")
		if err != nil {
			t.Fatalf("Failed to register session: %v", err)
		}
		if session.IPAddress != fmt.Sprintf("198.51.100.%d", i+1) {
			t.Errorf("Expected IP from X-Forwarded-For, got %s", session.IPAddress)
		}
		if !session.LastActiveAt.Equal(clock.Now()) {
			t.Errorf("Expected LastActiveAt from the Guard clock, got %v", session.LastActiveAt)
		}
	}

	sessions, err := g.Sharing().ActiveSessions("sub-1")
	if err != nil {
		t.Fatalf("Failed to list sessions: %v", err)
	}
	if len(sessions) != 4 {
		t.Errorf("Expected 4 sessions, got %d", len(sessions))
	}

	analysis, err := g.Sharing().Analyze("sub-1", "user-1")
	if err != nil {
		t.Fatalf("Failed to analyze: %v", err)
	}
	if analysis.OverallRisk != RiskMedium {
		t.Errorf("Expected medium risk for one session over the limit, got %s", analysis.OverallRisk)
	}
	if analysis.UniqueDeviceCount != 1 || analysis.DistinctIPCount != 4 {
		t.Errorf("Expected 1 device and 4 IPs, got %d and %d", analysis.UniqueDeviceCount, analysis.DistinctIPCount)
	}

	if err := g.Sharing().RemoveSession("sub-1", "session-0"); err != nil {
		t.Fatalf("Failed to remove session: %v", err)
	}
	analysis, err = g.Sharing().Analyze("sub-1", "user-1")
	if err != nil {
		t.Fatalf("Failed to analyze: %v", err)
	}
	if analysis.OverallRisk != RiskLow {
		t.Errorf("Expected low risk after removal, got %s", analysis.OverallRisk)
	}
}

func TestGuardPersistsAcrossRestart(t *testing.T) {
	clock := newTestClock()
	g, dbPath := newTestGuard(t, clock)

	r := httptest.NewRequest("GET", "/", nil)
	if _, err := g.RegisterRequest(r, "sub-1", "session-1", "user-1"); err != nil {
		t.Fatalf("Failed to register session: %v", err)
	}
	if err := g.Sharing().StartGracePeriod("sub-1"); err != nil {
		t.Fatalf("Failed to start grace period: %v", err)
	}
	if err := g.Close(); err != nil {
		t.Fatalf("Failed to close: %v", err)
	}

	reopened, err := New(Config{DatabasePath: dbPath, Now: clock.Now})
	if err != nil {
		t.Fatalf("Failed to reopen Guard: %v", err)
	}
	defer reopened.Close()

	sessions, err := reopened.Sharing().Sessions("sub-1")
	if err != nil {
		t.Fatalf("Failed to list sessions: %v", err)
	}
	if len(sessions) != 1 || sessions[0].SessionID != "session-1" {
		t.Errorf("Expected session-1 to survive a restart, got %+v", sessions)
	}

	inGrace, err := reopened.Sharing().IsInGracePeriod("sub-1")
	if err != nil {
		t.Fatalf("Failed to read grace period: %v", err)
	}
	if !inGrace {
		t.Error("Grace period should survive a restart")
	}
}

func TestGuardRecordSeatActivity(t *testing.T) {
	clock := newTestClock()
	g, _ := newTestGuard(t, clock)

	err := g.Seats().RegisterSeat(SeatAssignment{
		SubscriptionID: "sub-1",
		SeatID:         "seat-1",
		UserID:         "user-1",
		AssignedAt:     clock.Now().Add(-60 * day),
		LastActiveAt:   clock.Now().Add(-10 * day),
		IPAddresses:    []string{"198.51.100.1"},
	})
	if err != nil {
		t.Fatalf("Failed to register seat: %v", err)
	}

	for _, ip := range []string{"198.51.100.1", "198.51.100.2", "198.51.100.2"} {
		r := httptest.NewRequest("POST", "/", nil)
		r.Header.Set("User-Agent", chromeOnWindows)
		r.RemoteAddr = ip + ":52100"
		if err := g.RecordSeatActivity(r, "sub-1", "seat-1"); err != nil {
			t.Fatalf("Failed to record activity: %v", err)
		}
	}

	seats, err := g.Seats().Seats("sub-1")
	if err != nil {
		t.Fatalf("Failed to list seats: %v", err)
	}
	seat := seats[0]
	if len(seat.IPAddresses) != 2 {
		t.Errorf("Expected 2 distinct IPs, got %v", seat.IPAddresses)
	}
	if len(seat.Devices) != 1 {
		t.Errorf("Expected 1 device, got %v", seat.Devices)
	}
	if len(seat.Locations) != 0 {
		t.Errorf("Expected no locations without GeoIP, got %v", seat.Locations)
	}
	if !seat.LastActiveAt.Equal(clock.Now()) || !seat.IsActive {
		t.Errorf("Seat should be marked active now, got %v active=%v", seat.LastActiveAt, seat.IsActive)
	}

	err = g.RecordSeatActivity(httptest.NewRequest("POST", "/", nil), "sub-1", "unknown")
	if !errors.Is(err, ErrInvalidSeat) {
		t.Errorf("Expected ErrInvalidSeat for an unknown seat, got %v", err)
	}
}

func TestGuardSharesOneSQLiteStore(t *testing.T) {
	g, _ := newTestGuard(t, newTestClock())

	if len(g.closers) != 1 {
		t.Errorf("Expected one closer for a shared SQLite store, got %d", len(g.closers))
	}
	if err := g.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := g.Close(); err != nil {
		t.Errorf("Second Close() should be a no-op, got %v", err)
	}
}

func TestGuardDefaultsToMemory(t *testing.T) {
	g, err := New(Config{})
	if err != nil {
		t.Fatalf("Failed to create Guard: %v", err)
	}
	defer g.Close()

	if got := g.Sharing().Config(); got != DefaultAntiSharingConfig() {
		t.Errorf("Expected default sharing config, got %+v", got)
	}
	if got := g.Seats().Config(); got != DefaultSeatAbuseConfig() {
		t.Errorf("Expected default seat config, got %+v", got)
	}
	if len(g.closers) != 3 {
		t.Errorf("Expected three memory stores, got %d closers", len(g.closers))
	}
}

func TestGuardRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Sharing.MaxConcurrentSessions = -1

	if _, err := New(cfg); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("Expected ErrInvalidConfig, got %v", err)
	}
}

func TestGuardMissingGeoIPDatabase(t *testing.T) {
	_, err := New(Config{GeoIPDatabasePath: filepath.Join(t.TempDir(), "missing.mmdb")})
	if err == nil {
		t.Error("Expected an error for a missing GeoIP database")
	}
}

// closeRecordingStore records whether Close was called.
type closeRecordingStore struct {
	store.SessionStore
	closed bool
}

func (s *closeRecordingStore) Close() error {
	s.closed = true
	return s.SessionStore.Close()
}

func TestGuardFailedNewLeavesCallerStoresOpen(t *testing.T) {
	sessions := &closeRecordingStore{SessionStore: store.NewMemorySessionStore()}

	_, err := New(Config{
		SessionStore:      sessions,
		DatabasePath:      filepath.Join(t.TempDir(), "test.db"),
		GeoIPDatabasePath: filepath.Join(t.TempDir(), "missing.mmdb"),
	})
	if err == nil {
		t.Fatal("Expected an error for a missing GeoIP database")
	}
	if sessions.closed {
		t.Error("A failed New should not close a store it was given")
	}
}

func TestGuardCloseReleasesCallerStores(t *testing.T) {
	sessions := &closeRecordingStore{SessionStore: store.NewMemorySessionStore()}

	g, err := New(Config{SessionStore: sessions})
	if err != nil {
		t.Fatalf("Failed to create Guard: %v", err)
	}
	if err := g.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !sessions.closed {
		t.Error("Close should release stores handed to New")
	}
}

func BenchmarkGuardRegisterRequest(b *testing.B) {
	g, err := New(Config{Now: func() time.Time { return testEpoch }})
	if err != nil {
		b.Fatalf("Failed to create Guard: %v", err)
	}
	defer g.Close()

	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("User-Agent", chromeOnWindows)
	r.Header.Set("Accept-Language", "en-US,en;q=0.9")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := g.RegisterRequest(r, "sub-1", fmt.Sprintf("session-%d", i%50), "user-1"); err != nil {
			b.Fatal(err)
		}
	}
}
