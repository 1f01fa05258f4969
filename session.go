package seatguard

import (
	"math"
	"time"

	"github.com/goccy/go-json"

	"github.com/aadithya-v/seatguard/store"
)

// SessionRecord is one login or heartbeat of a subscription, keyed by
// (SubscriptionID, SessionID). Records never expire on their own: callers
// mark them inactive or remove them.
type SessionRecord struct {
	SubscriptionID    string            `json:"subscription_id"`
	SessionID         string            `json:"session_id"`
	UserID            string            `json:"user_id"`
	DeviceFingerprint DeviceFingerprint `json:"device_fingerprint"`
	IPAddress         string            `json:"ip_address"`
	Latitude          *float64          `json:"latitude,omitempty"`
	Longitude         *float64          `json:"longitude,omitempty"`
	City              string            `json:"city,omitempty"`
	Country           string            `json:"country,omitempty"`
	LastActiveAt      time.Time         `json:"last_active_at"`
	IsActive          bool              `json:"is_active"`
}

// hasCoordinates reports whether both coordinates are known.
func (s *SessionRecord) hasCoordinates() bool {
	return s.Latitude != nil && s.Longitude != nil
}

// GeographicAnomaly compares the locations of two sessions.
type GeographicAnomaly struct {
	SessionA         string  `json:"session_a"`
	SessionB         string  `json:"session_b"`
	LocationA        string  `json:"location_a,omitempty"`
	LocationB        string  `json:"location_b,omitempty"`
	DistanceKm       float64 `json:"distance_km"`
	TimeDeltaMinutes float64 `json:"time_delta_minutes"`

	// RequiredSpeedKmh is +Inf for sessions far apart at the same instant.
	RequiredSpeedKmh float64 `json:"required_speed_kmh"`
	IsImpossible     bool    `json:"is_impossible"`
}

// MarshalJSON encodes an infinite required speed as null.
func (a GeographicAnomaly) MarshalJSON() ([]byte, error) {
	type plain GeographicAnomaly
	out := struct {
		plain
		RequiredSpeedKmh *float64 `json:"required_speed_kmh"`
	}{plain: plain(a)}
	if !math.IsInf(a.RequiredSpeedKmh, 0) {
		out.RequiredSpeedKmh = &a.RequiredSpeedKmh
	}
	return json.Marshal(out)
}

// SharingAnalysis is the verdict for one subscription.
type SharingAnalysis struct {
	SubscriptionID string `json:"subscription_id"`
	UserID         string `json:"user_id"`

	Signals []AbuseSignal `json:"signals"`

	// ActiveSessionCount counts active sessions.
	ActiveSessionCount int `json:"active_session_count"`

	// UniqueDeviceCount counts distinct fingerprints active within DeviceWindow.
	UniqueDeviceCount int `json:"unique_device_count"`

	// DistinctIPCount counts distinct IP addresses active within IPWindow.
	DistinctIPCount int `json:"distinct_ip_count"`

	// GeographicAnomalies holds every compared session pair, possible or not.
	GeographicAnomalies []GeographicAnomaly `json:"geographic_anomalies"`

	OverallRisk       RiskLevel         `json:"overall_risk"`
	RecommendedAction EnforcementAction `json:"recommended_action"`
	InGracePeriod     bool              `json:"in_grace_period"`
	AnalyzedAt        time.Time         `json:"analyzed_at"`
}

func sessionToStore(s SessionRecord) *store.Session {
	return &store.Session{
		SubscriptionID:   s.SubscriptionID,
		SessionID:        s.SessionID,
		UserID:           s.UserID,
		FingerprintHash:  s.DeviceFingerprint.Hash,
		UserAgent:        s.DeviceFingerprint.UserAgent,
		ScreenResolution: s.DeviceFingerprint.ScreenResolution,
		Timezone:         s.DeviceFingerprint.Timezone,
		Language:         s.DeviceFingerprint.Language,
		Platform:         s.DeviceFingerprint.Platform,
		IPAddress:        s.IPAddress,
		Latitude:         s.Latitude,
		Longitude:        s.Longitude,
		City:             s.City,
		Country:          s.Country,
		LastActiveAt:     s.LastActiveAt,
		IsActive:         s.IsActive,
	}
}

// storeToSession converts a store.Session to a public SessionRecord.
func storeToSession(s *store.Session) SessionRecord {
	return SessionRecord{
		SubscriptionID: s.SubscriptionID,
		SessionID:      s.SessionID,
		UserID:         s.UserID,
		DeviceFingerprint: DeviceFingerprint{
			Hash:             s.FingerprintHash,
			UserAgent:        s.UserAgent,
			ScreenResolution: s.ScreenResolution,
			Timezone:         s.Timezone,
			Language:         s.Language,
			Platform:         s.Platform,
		},
		IPAddress:    s.IPAddress,
		Latitude:     s.Latitude,
		Longitude:    s.Longitude,
		City:         s.City,
		Country:      s.Country,
		LastActiveAt: s.LastActiveAt,
		IsActive:     s.IsActive,
	}
}
