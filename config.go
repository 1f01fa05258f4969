package seatguard

import (
	"fmt"
	"math"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/aadithya-v/seatguard/store"
)

// AntiSharingConfig contains the thresholds used by the account-sharing detector.
type AntiSharingConfig struct {
	// MaxConcurrentSessions is the number of active sessions a subscription
	// may hold before the concurrent-sessions signal fires.
	// Default: 3.
	MaxConcurrentSessions int `koanf:"max_concurrent_sessions" json:"max_concurrent_sessions"`

	// MaxUniqueDevices is the number of distinct device fingerprints allowed
	// within DeviceWindow.
	// Default: 5.
	MaxUniqueDevices int `koanf:"max_unique_devices" json:"max_unique_devices"`

	// DeviceWindow is how far back sessions count toward device diversity.
	// Default: 24 hours.
	DeviceWindow time.Duration `koanf:"device_window" json:"device_window"`

	// MaxDistinctIPs is the number of distinct IP addresses allowed within IPWindow.
	// Default: 10.
	MaxDistinctIPs int `koanf:"max_distinct_ips" json:"max_distinct_ips"`

	// IPWindow is how far back sessions count toward IP diversity.
	// Default: 24 hours.
	IPWindow time.Duration `koanf:"ip_window" json:"ip_window"`

	// MaxPlausibleSpeedKmh is the fastest travel speed considered possible
	// between two sessions.
	// Default: 900 km/h (commercial flight).
	MaxPlausibleSpeedKmh float64 `koanf:"max_plausible_speed_kmh" json:"max_plausible_speed_kmh"`

	// MinConfidence drops concurrent-session signals below this confidence.
	// Default: 0.5.
	MinConfidence float64 `koanf:"min_confidence" json:"min_confidence"`

	// GracePeriod is how long after the first violation enforcement stays at warn.
	// Default: 72 hours.
	GracePeriod time.Duration `koanf:"grace_period" json:"grace_period"`
}

// DefaultAntiSharingConfig returns the default anti-sharing thresholds.
func DefaultAntiSharingConfig() AntiSharingConfig {
	return AntiSharingConfig{
		MaxConcurrentSessions: 3,
		MaxUniqueDevices:      5,
		DeviceWindow:          24 * time.Hour,
		MaxDistinctIPs:        10,
		IPWindow:              24 * time.Hour,
		MaxPlausibleSpeedKmh:  900,
		MinConfidence:         0.5,
		GracePeriod:           72 * time.Hour,
	}
}

// Validate reports whether the thresholds are usable.
func (c AntiSharingConfig) Validate() error {
	switch {
	case c.MaxConcurrentSessions < 1:
		return fmt.Errorf("%w: max_concurrent_sessions must be at least 1", ErrInvalidConfig)
	case c.MaxUniqueDevices < 1:
		return fmt.Errorf("%w: max_unique_devices must be at least 1", ErrInvalidConfig)
	case c.DeviceWindow <= 0:
		return fmt.Errorf("%w: device_window must be positive", ErrInvalidConfig)
	case c.MaxDistinctIPs < 1:
		return fmt.Errorf("%w: max_distinct_ips must be at least 1", ErrInvalidConfig)
	case c.IPWindow <= 0:
		return fmt.Errorf("%w: ip_window must be positive", ErrInvalidConfig)
	case !(c.MaxPlausibleSpeedKmh > 0) || math.IsInf(c.MaxPlausibleSpeedKmh, 1):
		return fmt.Errorf("%w: max_plausible_speed_kmh must be a positive number", ErrInvalidConfig)
	case !(c.MinConfidence >= 0 && c.MinConfidence <= 1):
		return fmt.Errorf("%w: min_confidence must be within [0, 1]", ErrInvalidConfig)
	case c.GracePeriod < 0:
		return fmt.Errorf("%w: grace_period must not be negative", ErrInvalidConfig)
	}
	return nil
}

// AntiSharingConfigUpdate is a partial AntiSharingConfig. Nil fields keep
// their current value.
type AntiSharingConfigUpdate struct {
	MaxConcurrentSessions *int
	MaxUniqueDevices      *int
	DeviceWindow          *time.Duration
	MaxDistinctIPs        *int
	IPWindow              *time.Duration
	MaxPlausibleSpeedKmh  *float64
	MinConfidence         *float64
	GracePeriod           *time.Duration
}

// apply returns c with every non-nil field of u written over it.
func (u AntiSharingConfigUpdate) apply(c AntiSharingConfig) AntiSharingConfig {
	setIfPresent(&c.MaxConcurrentSessions, u.MaxConcurrentSessions)
	setIfPresent(&c.MaxUniqueDevices, u.MaxUniqueDevices)
	setIfPresent(&c.DeviceWindow, u.DeviceWindow)
	setIfPresent(&c.MaxDistinctIPs, u.MaxDistinctIPs)
	setIfPresent(&c.IPWindow, u.IPWindow)
	setIfPresent(&c.MaxPlausibleSpeedKmh, u.MaxPlausibleSpeedKmh)
	setIfPresent(&c.MinConfidence, u.MinConfidence)
	setIfPresent(&c.GracePeriod, u.GracePeriod)
	return c
}

// SeatAbuseConfig contains the thresholds used by the seat-abuse detector.
type SeatAbuseConfig struct {
	// GhostSeatThresholdDays is the inactivity after which a seat is a ghost.
	// It is also the length of the utilization window.
	// Default: 30.
	GhostSeatThresholdDays int `koanf:"ghost_seat_threshold_days" json:"ghost_seat_threshold_days"`

	// MaxDevicesPerSeat is the number of devices one seat may use.
	// Default: 3.
	MaxDevicesPerSeat int `koanf:"max_devices_per_seat" json:"max_devices_per_seat"`

	// MaxIPsPerSeat is the number of IP addresses one seat may use.
	// Default: 5.
	MaxIPsPerSeat int `koanf:"max_ips_per_seat" json:"max_ips_per_seat"`

	// MaxLocationsPerSeat is the number of distinct locations one seat may use.
	// Default: 3.
	MaxLocationsPerSeat int `koanf:"max_locations_per_seat" json:"max_locations_per_seat"`

	// LowUtilizationThreshold is the utilization score (0-100) below which
	// a seat is low usage.
	// Default: 20.
	LowUtilizationThreshold float64 `koanf:"low_utilization_threshold" json:"low_utilization_threshold"`

	// ReassignmentWindow is the sliding window, ending at analysis time,
	// in which reassignments are counted.
	// Default: 30 days.
	ReassignmentWindow time.Duration `koanf:"reassignment_window" json:"reassignment_window"`

	// MaxReassignmentsPerWindow is the number of reassignments a seat may
	// have within ReassignmentWindow before it is hopping.
	// Default: 3.
	MaxReassignmentsPerWindow int `koanf:"max_reassignments_per_window" json:"max_reassignments_per_window"`

	// CostPerSeatCents is the monthly price of one seat, used for savings estimates.
	// Default: 1500.
	CostPerSeatCents int64 `koanf:"cost_per_seat_cents" json:"cost_per_seat_cents"`
}

// DefaultSeatAbuseConfig returns the default seat-abuse thresholds.
func DefaultSeatAbuseConfig() SeatAbuseConfig {
	return SeatAbuseConfig{
		GhostSeatThresholdDays:    30,
		MaxDevicesPerSeat:         3,
		MaxIPsPerSeat:             5,
		MaxLocationsPerSeat:       3,
		LowUtilizationThreshold:   20,
		ReassignmentWindow:        30 * 24 * time.Hour,
		MaxReassignmentsPerWindow: 3,
		CostPerSeatCents:          1500,
	}
}

// Validate reports whether the thresholds are usable.
func (c SeatAbuseConfig) Validate() error {
	switch {
	case c.GhostSeatThresholdDays < 1:
		return fmt.Errorf("%w: ghost_seat_threshold_days must be at least 1", ErrInvalidConfig)
	case c.MaxDevicesPerSeat < 1:
		return fmt.Errorf("%w: max_devices_per_seat must be at least 1", ErrInvalidConfig)
	case c.MaxIPsPerSeat < 1:
		return fmt.Errorf("%w: max_ips_per_seat must be at least 1", ErrInvalidConfig)
	case c.MaxLocationsPerSeat < 1:
		return fmt.Errorf("%w: max_locations_per_seat must be at least 1", ErrInvalidConfig)
	case !(c.LowUtilizationThreshold >= 0 && c.LowUtilizationThreshold <= 100):
		return fmt.Errorf("%w: low_utilization_threshold must be within [0, 100]", ErrInvalidConfig)
	case c.ReassignmentWindow <= 0:
		return fmt.Errorf("%w: reassignment_window must be positive", ErrInvalidConfig)
	case c.MaxReassignmentsPerWindow < 0:
		return fmt.Errorf("%w: max_reassignments_per_window must not be negative", ErrInvalidConfig)
	case c.CostPerSeatCents < 0:
		return fmt.Errorf("%w: cost_per_seat_cents must not be negative", ErrInvalidConfig)
	}
	return nil
}

// SeatAbuseConfigUpdate is a partial SeatAbuseConfig. Nil fields keep
// their current value.
type SeatAbuseConfigUpdate struct {
	GhostSeatThresholdDays    *int
	MaxDevicesPerSeat         *int
	MaxIPsPerSeat             *int
	MaxLocationsPerSeat       *int
	LowUtilizationThreshold   *float64
	ReassignmentWindow        *time.Duration
	MaxReassignmentsPerWindow *int
	CostPerSeatCents          *int64
}

func (u SeatAbuseConfigUpdate) apply(c SeatAbuseConfig) SeatAbuseConfig {
	setIfPresent(&c.GhostSeatThresholdDays, u.GhostSeatThresholdDays)
	setIfPresent(&c.MaxDevicesPerSeat, u.MaxDevicesPerSeat)
	setIfPresent(&c.MaxIPsPerSeat, u.MaxIPsPerSeat)
	setIfPresent(&c.MaxLocationsPerSeat, u.MaxLocationsPerSeat)
	setIfPresent(&c.LowUtilizationThreshold, u.LowUtilizationThreshold)
	setIfPresent(&c.ReassignmentWindow, u.ReassignmentWindow)
	setIfPresent(&c.MaxReassignmentsPerWindow, u.MaxReassignmentsPerWindow)
	setIfPresent(&c.CostPerSeatCents, u.CostPerSeatCents)
	return c
}

func setIfPresent[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

// Config contains configuration options for a Guard.
type Config struct {
	// Sharing holds the anti-sharing thresholds.
	// Default: DefaultAntiSharingConfig() when left as the zero value.
	Sharing AntiSharingConfig

	// Seats holds the seat-abuse thresholds.
	// Default: DefaultSeatAbuseConfig() when left as the zero value.
	Seats SeatAbuseConfig

	// SessionStore is the storage backend for session records.
	// Default: SQLite when DatabasePath is set, otherwise in-memory.
	SessionStore store.SessionStore

	// SeatStore is the storage backend for seats and reassignments.
	// Default: SQLite when DatabasePath is set, otherwise in-memory.
	SeatStore store.SeatStore

	// GraceStore tracks grace periods.
	// Default: SQLite when DatabasePath is set, otherwise in-memory.
	GraceStore store.GraceStore

	// DatabasePath is the path of a SQLite database backing every store
	// left nil. Empty keeps all state in memory.
	DatabasePath string

	// GeoIPDatabasePath is the path to MaxMind GeoLite2-City.mmdb file.
	// Optional; enables coordinates on sessions built from HTTP requests.
	// Download from: https://dev.maxmind.com/geoip/geolite2-free-geolocation-data
	GeoIPDatabasePath string

	// Logger receives detector logs.
	// Default: a disabled logger.
	Logger *zerolog.Logger

	// Registerer receives the detector metrics. Nil disables metrics.
	Registerer prometheus.Registerer

	// Now is the clock used for windows and grace periods.
	// Default: time.Now.
	Now func() time.Time
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	nop := zerolog.Nop()
	return Config{
		Sharing: DefaultAntiSharingConfig(),
		Seats:   DefaultSeatAbuseConfig(),
		Logger:  &nop,
		Now:     time.Now,
	}
}

// applyDefaults fills in default values for zero-value fields.
func (c *Config) applyDefaults() {
	defaults := DefaultConfig()

	if c.Sharing == (AntiSharingConfig{}) {
		c.Sharing = defaults.Sharing
	}
	if c.Seats == (SeatAbuseConfig{}) {
		c.Seats = defaults.Seats
	}
	if c.Logger == nil {
		c.Logger = defaults.Logger
	}
	if c.Now == nil {
		c.Now = defaults.Now
	}
}
