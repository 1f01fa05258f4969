package seatguard

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
)

// SignalCategory groups signals by the kind of abuse they indicate.
type SignalCategory string

const (
	CategorySharing     SignalCategory = "sharing"
	CategoryGhostSeat   SignalCategory = "ghost_seat"
	CategorySeatSharing SignalCategory = "seat_sharing"
	CategorySeatHopping SignalCategory = "seat_hopping"
)

// IndicatorType names the check that produced a signal.
type IndicatorType string

const (
	IndicatorConcurrentSessions IndicatorType = "concurrent_sessions"
	IndicatorDeviceDiversity    IndicatorType = "device_diversity"
	IndicatorIPDiversity        IndicatorType = "ip_diversity"
	IndicatorGeoImpossibility   IndicatorType = "geo_impossibility"
	IndicatorGhostSeats         IndicatorType = "ghost_seats"
	IndicatorSeatSharing        IndicatorType = "seat_sharing"
	IndicatorSeatHopping        IndicatorType = "seat_hopping"
)

// AbuseSignal is a single piece of evidence produced by a check.
// Signals are never modified after creation.
type AbuseSignal struct {
	ID             string         `json:"id"`
	Category       SignalCategory `json:"category"`
	IndicatorType  IndicatorType  `json:"indicator_type"`
	RiskLevel      RiskLevel      `json:"risk_level"`
	Confidence     float64        `json:"confidence"`
	Description    string         `json:"description"`
	AccountID      string         `json:"account_id"`
	WorkspaceID    string         `json:"workspace_id,omitempty"`
	SubscriptionID string         `json:"subscription_id"`
	DetectedAt     time.Time      `json:"detected_at"`

	// Evidence is the check-specific payload, JSON encoded.
	Evidence        json.RawMessage `json:"evidence,omitempty"`
	IsFalsePositive bool            `json:"is_false_positive"`
}

// signalIDs hands out signal IDs from a counter and the detection time.
// IDs are unique within one detector; across detectors the prefix separates them.
type signalIDs struct {
	prefix  string
	counter atomic.Uint64
}

func (g *signalIDs) next(at time.Time) string {
	return fmt.Sprintf("%s_%d_%d", g.prefix, g.counter.Add(1), at.UnixMilli())
}

// encodeEvidence marshals an evidence struct. Values JSON cannot represent
// (NaN from unvalidated coordinates) drop the payload rather than the signal.
func encodeEvidence(v any) (json.RawMessage, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("seatguard: failed to encode evidence: %w", err)
	}
	return b, nil
}

// confidenceFor returns base + excess*step, capped at limit.
func confidenceFor(base float64, excess int, step, limit float64) float64 {
	return min(base+float64(excess)*step, limit)
}
