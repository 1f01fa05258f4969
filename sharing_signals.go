package seatguard

import (
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
)

const (
	// Sessions this close together at the same instant are one place.
	sameInstantToleranceKm = 1.0

	// Below this distance GPS and cell-tower jitter dominate.
	minImpossibleDistanceKm = 50.0

	geoImpossibilityConfidence = 0.95
)

// sharingCheck holds one analysis run. Every check reads the same snapshot.
type sharingCheck struct {
	config         AntiSharingConfig
	now            time.Time
	subscriptionID string
	userID         string
	active         []SessionRecord
	ids            *signalIDs
	logger         *zerolog.Logger
}

type concurrentSessionsEvidence struct {
	ActiveSessions int      `json:"active_sessions"`
	Limit          int      `json:"limit"`
	Excess         int      `json:"excess"`
	SessionIDs     []string `json:"session_ids"`
}

type deviceDiversityEvidence struct {
	UniqueDevices     int      `json:"unique_devices"`
	Limit             int      `json:"limit"`
	Excess            int      `json:"excess"`
	Window            string   `json:"window"`
	AverageSimilarity float64  `json:"average_similarity"`
	Fingerprints      []string `json:"fingerprints"`
}

type ipDiversityEvidence struct {
	DistinctIPs int      `json:"distinct_ips"`
	Limit       int      `json:"limit"`
	Excess      int      `json:"excess"`
	Window      string   `json:"window"`
	IPAddresses []string `json:"ip_addresses"`
}

type geoImpossibilityEvidence struct {
	Anomaly              GeographicAnomaly `json:"anomaly"`
	MaxPlausibleSpeedKmh float64           `json:"max_plausible_speed_kmh"`
}

func (c *sharingCheck) signal(indicator IndicatorType, risk RiskLevel, confidence float64, description string, evidence any) *AbuseSignal {
	raw, err := encodeEvidence(evidence)
	if err != nil {
		c.logger.Warn().Err(err).Str("indicator", string(indicator)).Msg("dropping signal evidence")
	}
	return &AbuseSignal{
		ID:             c.ids.next(c.now),
		Category:       CategorySharing,
		IndicatorType:  indicator,
		RiskLevel:      risk,
		Confidence:     confidence,
		Description:    description,
		AccountID:      c.userID,
		SubscriptionID: c.subscriptionID,
		DetectedAt:     c.now,
		Evidence:       raw,
	}
}

// concurrentSessions fires when more sessions are active than allowed.
func (c *sharingCheck) concurrentSessions() *AbuseSignal {
	count := len(c.active)
	excess := count - c.config.MaxConcurrentSessions
	if excess <= 0 {
		return nil
	}

	confidence := confidenceFor(0.5, excess, 0.15, 1.0)
	if confidence < c.config.MinConfidence {
		return nil
	}

	risk := RiskMedium
	if excess >= 3 {
		risk = RiskHigh
	}

	ids := make([]string, len(c.active))
	for i, s := range c.active {
		ids[i] = s.SessionID
	}

	return c.signal(IndicatorConcurrentSessions, risk, confidence,
		fmt.Sprintf("%d concurrent sessions exceed the limit of %d", count, c.config.MaxConcurrentSessions),
		concurrentSessionsEvidence{
			ActiveSessions: count,
			Limit:          c.config.MaxConcurrentSessions,
			Excess:         excess,
			SessionIDs:     ids,
		})
}

// within returns the active sessions seen during the last window.
func (c *sharingCheck) within(window time.Duration) []SessionRecord {
	cutoff := c.now.Add(-window)
	var out []SessionRecord
	for _, s := range c.active {
		if !s.LastActiveAt.Before(cutoff) {
			out = append(out, s)
		}
	}
	return out
}

// deviceDiversity fires when too many distinct fingerprints were active in
// the device window. Low similarity across every windowed session's
// fingerprint means distinct real devices and raises the risk. Repeat
// sessions on one device count toward the similarity.
func (c *sharingCheck) deviceDiversity() (*AbuseSignal, int) {
	seen := make(map[string]bool)
	var all, unique []DeviceFingerprint
	for _, s := range c.within(c.config.DeviceWindow) {
		fp := s.DeviceFingerprint.withHash()
		all = append(all, fp)
		if seen[fp.Hash] {
			continue
		}
		seen[fp.Hash] = true
		unique = append(unique, fp)
	}

	count := len(unique)
	excess := count - c.config.MaxUniqueDevices
	if excess <= 0 {
		return nil, count
	}

	similarity := averagePairwiseSimilarity(all)
	risk := RiskMedium
	if similarity < 0.3 {
		risk = RiskHigh
	}

	hashes := make([]string, len(unique))
	for i, fp := range unique {
		hashes[i] = fp.Hash
	}

	return c.signal(IndicatorDeviceDiversity, risk, confidenceFor(0.5, excess, 0.1, 1.0),
		fmt.Sprintf("%d unique devices in the last %s exceed the limit of %d",
			count, formatWindow(c.config.DeviceWindow), c.config.MaxUniqueDevices),
		deviceDiversityEvidence{
			UniqueDevices:     count,
			Limit:             c.config.MaxUniqueDevices,
			Excess:            excess,
			Window:            formatWindow(c.config.DeviceWindow),
			AverageSimilarity: roundTo2Decimals(similarity),
			Fingerprints:      hashes,
		}), count
}

// ipDiversity fires when too many distinct IP addresses were active in the
// IP window.
func (c *sharingCheck) ipDiversity() (*AbuseSignal, int) {
	seen := make(map[string]bool)
	var ips []string
	for _, s := range c.within(c.config.IPWindow) {
		if seen[s.IPAddress] {
			continue
		}
		seen[s.IPAddress] = true
		ips = append(ips, s.IPAddress)
	}

	count := len(ips)
	excess := count - c.config.MaxDistinctIPs
	if excess <= 0 {
		return nil, count
	}

	risk := RiskMedium
	if excess >= 5 {
		risk = RiskHigh
	}

	return c.signal(IndicatorIPDiversity, risk, confidenceFor(0.4, excess, 0.1, 0.95),
		fmt.Sprintf("%d distinct IP addresses in the last %s exceed the limit of %d",
			count, formatWindow(c.config.IPWindow), c.config.MaxDistinctIPs),
		ipDiversityEvidence{
			DistinctIPs: count,
			Limit:       c.config.MaxDistinctIPs,
			Excess:      excess,
			Window:      formatWindow(c.config.IPWindow),
			IPAddresses: ips,
		}), count
}

// geoImpossibility compares every pair of active sessions with coordinates.
// All pairs are returned; each impossible pair also yields a signal.
//
// The pairwise loop is quadratic in the number of located sessions, which
// is fine for tens of sessions per subscription but not for thousands.
func (c *sharingCheck) geoImpossibility() ([]AbuseSignal, []GeographicAnomaly) {
	var located []SessionRecord
	for _, s := range c.active {
		if s.hasCoordinates() {
			located = append(located, s)
		}
	}

	var (
		signals   []AbuseSignal
		anomalies = []GeographicAnomaly{}
	)
	for i := 0; i < len(located); i++ {
		for j := i + 1; j < len(located); j++ {
			anomaly := compareLocations(located[i], located[j], c.config.MaxPlausibleSpeedKmh)
			anomalies = append(anomalies, anomaly)
			if !anomaly.IsImpossible {
				continue
			}

			description := fmt.Sprintf("Impossible travel: %.0f km between %s and %s in %.1f minutes",
				anomaly.DistanceKm, describeLocation(anomaly.LocationA, anomaly.SessionA),
				describeLocation(anomaly.LocationB, anomaly.SessionB), anomaly.TimeDeltaMinutes)
			signals = append(signals, *c.signal(IndicatorGeoImpossibility, RiskHigh, geoImpossibilityConfidence,
				description, geoImpossibilityEvidence{
					Anomaly:              anomaly,
					MaxPlausibleSpeedKmh: c.config.MaxPlausibleSpeedKmh,
				}))
		}
	}
	return signals, anomalies
}

// compareLocations measures the travel implied between two located sessions.
func compareLocations(a, b SessionRecord, maxSpeedKmh float64) GeographicAnomaly {
	distance := HaversineDistanceKm(*a.Latitude, *a.Longitude, *b.Latitude, *b.Longitude)
	delta := a.LastActiveAt.Sub(b.LastActiveAt)
	if delta < 0 {
		delta = -delta
	}

	anomaly := GeographicAnomaly{
		SessionA:         a.SessionID,
		SessionB:         b.SessionID,
		LocationA:        formatLocation(a.City, a.Country),
		LocationB:        formatLocation(b.City, b.Country),
		DistanceKm:       roundTo2Decimals(distance),
		TimeDeltaMinutes: roundTo2Decimals(delta.Minutes()),
	}

	if delta == 0 {
		if distance > sameInstantToleranceKm {
			anomaly.RequiredSpeedKmh = math.Inf(1)
			anomaly.IsImpossible = true
		}
		return anomaly
	}

	speed := distance / delta.Hours()
	anomaly.RequiredSpeedKmh = roundTo2Decimals(speed)
	anomaly.IsImpossible = speed > maxSpeedKmh && distance > minImpossibleDistanceKm
	return anomaly
}

func describeLocation(label, sessionID string) string {
	if label != "" {
		return label
	}
	return "session " + sessionID
}

// formatWindow renders whole days or hours compactly.
func formatWindow(d time.Duration) string {
	switch {
	case d > 0 && d%day == 0:
		return fmt.Sprintf("%dd", d/day)
	case d > 0 && d%time.Hour == 0:
		return fmt.Sprintf("%dh", d/time.Hour)
	default:
		return d.String()
	}
}
