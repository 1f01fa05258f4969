package seatguard

import (
	"sync"
	"testing"
	"time"
)

var testEpoch = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

// testClock is a manually advanced clock.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: testEpoch}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var desktopFingerprint = DeviceFingerprint{
	UserAgent:        "Mozilla/5.0 (Windows NT 10.0; Win64; x64) Chrome/120.0",
	ScreenResolution: "1920x1080",
	Timezone:         "America/New_York",
	Language:         "en-US",
	Platform:         "Windows",
}

// activeSession returns an active session sharing one device and IP with
// every other session built here, so only the tested dimension varies.
func activeSession(subscriptionID, sessionID string, at time.Time) SessionRecord {
	return SessionRecord{
		SubscriptionID:    subscriptionID,
		SessionID:         sessionID,
		UserID:            "user-1",
		DeviceFingerprint: desktopFingerprint,
		IPAddress:         "203.0.113.10",
		LastActiveAt:      at,
		IsActive:          true,
	}
}

func located(s SessionRecord, lat, lng float64, city, country string) SessionRecord {
	s.Latitude = &lat
	s.Longitude = &lng
	s.City = city
	s.Country = country
	return s
}

func newTestSharingDetector(t *testing.T, cfg AntiSharingConfig, clock *testClock) *AntiSharingDetector {
	t.Helper()
	d, err := NewAntiSharingDetector(cfg, WithClock(clock.Now))
	if err != nil {
		t.Fatalf("NewAntiSharingDetector() error = %v", err)
	}
	return d
}

func newTestSeatDetector(t *testing.T, cfg SeatAbuseConfig, clock *testClock) *SeatAbuseDetector {
	t.Helper()
	d, err := NewSeatAbuseDetector(cfg, WithClock(clock.Now))
	if err != nil {
		t.Fatalf("NewSeatAbuseDetector() error = %v", err)
	}
	return d
}

func mustRegister(t *testing.T, d *AntiSharingDetector, sessions ...SessionRecord) {
	t.Helper()
	for _, s := range sessions {
		if err := d.RegisterSession(s); err != nil {
			t.Fatalf("RegisterSession(%s) error = %v", s.SessionID, err)
		}
	}
}

func signalsOf(signals []AbuseSignal, indicator IndicatorType) []AbuseSignal {
	var out []AbuseSignal
	for _, s := range signals {
		if s.IndicatorType == indicator {
			out = append(out, s)
		}
	}
	return out
}

func approxEqual(a, b float64) bool {
	const epsilon = 1e-9
	d := a - b
	return d < epsilon && d > -epsilon
}
