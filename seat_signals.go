package seatguard

import (
	"cmp"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/rs/zerolog"
)

const (
	day = 24 * time.Hour

	sharedDevicePenalty = 20
	sharedIPPenalty     = 10

	seatHoppingConfidence = 0.85
)

// seatCheck holds one seat analysis run.
type seatCheck struct {
	config         SeatAbuseConfig
	now            time.Time
	subscriptionID string
	workspaceID    string
	seats          []SeatAssignment
	ids            *signalIDs
	logger         *zerolog.Logger
}

type ghostSeatsEvidence struct {
	GhostSeats    []string `json:"ghost_seats"`
	TotalSeats    int      `json:"total_seats"`
	GhostRatio    float64  `json:"ghost_ratio"`
	ThresholdDays int      `json:"threshold_days"`
}

type sharedSeat struct {
	SeatID        string `json:"seat_id"`
	UserID        string `json:"user_id"`
	DeviceCount   int    `json:"device_count"`
	IPCount       int    `json:"ip_count"`
	LocationCount int    `json:"location_count"`
}

type seatSharingEvidence struct {
	Seats        []sharedSeat `json:"seats"`
	MaxDevices   int          `json:"max_devices"`
	MaxIPs       int          `json:"max_ips"`
	MaxLocations int          `json:"max_locations"`
}

type hoppingSeat struct {
	SeatID        string `json:"seat_id"`
	Reassignments int    `json:"reassignments"`
}

type seatHoppingEvidence struct {
	Seats  []hoppingSeat `json:"seats"`
	Limit  int           `json:"limit"`
	Window string        `json:"window"`
}

func (c *seatCheck) signal(category SignalCategory, indicator IndicatorType, risk RiskLevel, confidence float64, description string, evidence any) *AbuseSignal {
	raw, err := encodeEvidence(evidence)
	if err != nil {
		c.logger.Warn().Err(err).Str("indicator", string(indicator)).Msg("dropping signal evidence")
	}
	return &AbuseSignal{
		ID:             c.ids.next(c.now),
		Category:       category,
		IndicatorType:  indicator,
		RiskLevel:      risk,
		Confidence:     confidence,
		Description:    description,
		AccountID:      c.subscriptionID,
		WorkspaceID:    c.workspaceID,
		SubscriptionID: c.subscriptionID,
		DetectedAt:     c.now,
		Evidence:       raw,
	}
}

// wholeDaysSince returns the number of full days from t to now.
func wholeDaysSince(now, t time.Time) int {
	return int(math.Floor(float64(now.Sub(t)) / float64(day)))
}

// utilization scores a seat from 0 to 100 over a window of
// GhostSeatThresholdDays days ending now.
func (c *seatCheck) utilization(seat SeatAssignment) SeatUtilization {
	window := c.config.GhostSeatThresholdDays
	daysSince := wholeDaysSince(c.now, seat.LastActiveAt)

	var activeDays int
	switch {
	case daysSince < 1:
		activeDays = min(wholeDaysSince(c.now, seat.AssignedAt), window)
	case daysSince < window:
		activeDays = max(window-daysSince, 0)
	}

	score := max(float64(activeDays)/float64(window)*100, 0)

	tooManyDevices := len(seat.Devices) > c.config.MaxDevicesPerSeat
	tooManyIPs := len(seat.IPAddresses) > c.config.MaxIPsPerSeat
	if tooManyDevices {
		score = max(score-sharedDevicePenalty, 0)
	}
	if tooManyIPs {
		score = max(score-sharedIPPenalty, 0)
	}

	var class SeatClassification
	switch {
	case daysSince >= window:
		class = SeatGhost
		score = 0
	case tooManyDevices || tooManyIPs:
		class = SeatShared
	case score < c.config.LowUtilizationThreshold:
		class = SeatLowUsage
	default:
		class = SeatActive
	}

	return SeatUtilization{
		SeatID:              seat.SeatID,
		UserID:              seat.UserID,
		Score:               roundTo2Decimals(score),
		Classification:      class,
		DaysSinceLastActive: daysSince,
		DeviceCount:         len(seat.Devices),
		IPCount:             len(seat.IPAddresses),
		LocationCount:       len(seat.Locations),
	}
}

// ghostSeats fires when any seat is a ghost.
func (c *seatCheck) ghostSeats(utilization []SeatUtilization) *AbuseSignal {
	var ghosts []string
	for _, u := range utilization {
		if u.Classification == SeatGhost {
			ghosts = append(ghosts, u.SeatID)
		}
	}
	if len(ghosts) == 0 {
		return nil
	}

	ratio := float64(len(ghosts)) / float64(len(utilization))
	risk := RiskLow
	if ratio > 0.5 {
		risk = RiskMedium
	}

	return c.signal(CategoryGhostSeat, IndicatorGhostSeats, risk, min(0.5+ratio*0.5, 1.0),
		fmt.Sprintf("%d of %d seats inactive for %d days or more",
			len(ghosts), len(utilization), c.config.GhostSeatThresholdDays),
		ghostSeatsEvidence{
			GhostSeats:    ghosts,
			TotalSeats:    len(utilization),
			GhostRatio:    roundTo2Decimals(ratio),
			ThresholdDays: c.config.GhostSeatThresholdDays,
		})
}

// seatSharing fires when any seat exceeds its device, IP or location limit.
func (c *seatCheck) seatSharing() *AbuseSignal {
	var shared []sharedSeat
	for _, seat := range c.seats {
		if len(seat.Devices) > c.config.MaxDevicesPerSeat ||
			len(seat.IPAddresses) > c.config.MaxIPsPerSeat ||
			len(seat.Locations) > c.config.MaxLocationsPerSeat {
			shared = append(shared, sharedSeat{
				SeatID:        seat.SeatID,
				UserID:        seat.UserID,
				DeviceCount:   len(seat.Devices),
				IPCount:       len(seat.IPAddresses),
				LocationCount: len(seat.Locations),
			})
		}
	}
	if len(shared) == 0 {
		return nil
	}

	risk := RiskMedium
	if len(shared) >= 3 {
		risk = RiskHigh
	}

	return c.signal(CategorySeatSharing, IndicatorSeatSharing, risk, confidenceFor(0.6, len(shared), 0.1, 1.0),
		fmt.Sprintf("%d seats used from more devices, IP addresses or locations than allowed", len(shared)),
		seatSharingEvidence{
			Seats:        shared,
			MaxDevices:   c.config.MaxDevicesPerSeat,
			MaxIPs:       c.config.MaxIPsPerSeat,
			MaxLocations: c.config.MaxLocationsPerSeat,
		})
}

// seatHopping counts reassignments per seat over the window ending now and
// fires when any seat exceeds the limit. It also returns the flagged count.
func (c *seatCheck) seatHopping(reassignments []SeatReassignment) (*AbuseSignal, int) {
	cutoff := c.now.Add(-c.config.ReassignmentWindow)
	counts := make(map[string]int)
	var order []string
	for _, r := range reassignments {
		if r.ReassignedAt.Before(cutoff) {
			continue
		}
		if counts[r.SeatID] == 0 {
			order = append(order, r.SeatID)
		}
		counts[r.SeatID]++
	}

	var flagged []hoppingSeat
	for _, seatID := range order {
		if counts[seatID] > c.config.MaxReassignmentsPerWindow {
			flagged = append(flagged, hoppingSeat{SeatID: seatID, Reassignments: counts[seatID]})
		}
	}
	if len(flagged) == 0 {
		return nil, 0
	}

	window := formatWindow(c.config.ReassignmentWindow)
	return c.signal(CategorySeatHopping, IndicatorSeatHopping, RiskHigh, seatHoppingConfidence,
		fmt.Sprintf("%d seats reassigned more than %d times in the last %s",
			len(flagged), c.config.MaxReassignmentsPerWindow, window),
		seatHoppingEvidence{
			Seats:  flagged,
			Limit:  c.config.MaxReassignmentsPerWindow,
			Window: window,
		}), len(flagged)
}

// deprovisioning recommends releasing ghost and low-usage seats, worst first.
// Seats with equal scores keep registration order.
func (c *seatCheck) deprovisioning(utilization []SeatUtilization) []DeprovisioningRecommendation {
	recs := []DeprovisioningRecommendation{}
	for _, u := range utilization {
		var reason string
		switch {
		case u.Classification == SeatGhost:
			reason = fmt.Sprintf("No activity for %d days", u.DaysSinceLastActive)
		case u.Classification == SeatLowUsage && u.Score < c.config.LowUtilizationThreshold:
			reason = fmt.Sprintf("Utilization score %.0f is below the %.0f threshold",
				u.Score, c.config.LowUtilizationThreshold)
		default:
			continue
		}
		recs = append(recs, DeprovisioningRecommendation{
			SeatID:                   u.SeatID,
			UserID:                   u.UserID,
			UtilizationScore:         u.Score,
			Classification:           u.Classification,
			Reason:                   reason,
			EstimatedSavingsPerMonth: c.config.CostPerSeatCents,
		})
	}

	slices.SortStableFunc(recs, func(a, b DeprovisioningRecommendation) int {
		return cmp.Compare(a.UtilizationScore, b.UtilizationScore)
	})
	return recs
}
