package seatguard

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aadithya-v/seatguard/store"
)

// SeatAssignment is a licensed seat of a subscription and the usage
// observed on it.
type SeatAssignment struct {
	SubscriptionID string    `json:"subscription_id"`
	SeatID         string    `json:"seat_id"`
	UserID         string    `json:"user_id"`
	AssignedAt     time.Time `json:"assigned_at"`
	LastActiveAt   time.Time `json:"last_active_at"`
	Devices        []string  `json:"devices"`
	IPAddresses    []string  `json:"ip_addresses"`

	// Locations holds free-form "City, Country" labels.
	Locations []string `json:"locations"`
	IsActive  bool     `json:"is_active"`
}

// SeatReassignment records a seat moving between users.
type SeatReassignment struct {
	SeatID       string    `json:"seat_id"`
	FromUserID   string    `json:"from_user_id"`
	ToUserID     string    `json:"to_user_id"`
	ReassignedAt time.Time `json:"reassigned_at"`
}

// SeatClassification is the usage class of a seat.
type SeatClassification string

const (
	SeatActive   SeatClassification = "active"
	SeatLowUsage SeatClassification = "low_usage"
	SeatGhost    SeatClassification = "ghost"
	SeatShared   SeatClassification = "shared"
)

// SeatUtilization is the usage score of one seat.
type SeatUtilization struct {
	SeatID              string             `json:"seat_id"`
	UserID              string             `json:"user_id"`
	Score               float64            `json:"score"`
	Classification      SeatClassification `json:"classification"`
	DaysSinceLastActive int                `json:"days_since_last_active"`
	DeviceCount         int                `json:"device_count"`
	IPCount             int                `json:"ip_count"`
	LocationCount       int                `json:"location_count"`
}

// DeprovisioningRecommendation suggests releasing an underused seat.
type DeprovisioningRecommendation struct {
	SeatID                   string             `json:"seat_id"`
	UserID                   string             `json:"user_id"`
	UtilizationScore         float64            `json:"utilization_score"`
	Classification           SeatClassification `json:"classification"`
	Reason                   string             `json:"reason"`
	EstimatedSavingsPerMonth int64              `json:"estimated_savings_per_month"`
}

// SeatAbuseAnalysis is the seat verdict for one subscription.
type SeatAbuseAnalysis struct {
	SubscriptionID string `json:"subscription_id"`
	WorkspaceID    string `json:"workspace_id"`

	Signals []AbuseSignal `json:"signals"`

	TotalSeats    int `json:"total_seats"`
	ActiveSeats   int `json:"active_seats"`
	LowUsageSeats int `json:"low_usage_seats"`
	GhostSeats    int `json:"ghost_seats"`
	SharedSeats   int `json:"shared_seats"`
	HoppingSeats  int `json:"hopping_seats"`

	// Utilization holds one entry per seat in registration order.
	Utilization []SeatUtilization `json:"utilization"`

	// Deprovisioning is sorted by utilization score, worst first.
	Deprovisioning []DeprovisioningRecommendation `json:"deprovisioning"`

	// PotentialSavingsPerMonth sums the deprovisioning estimates, in cents.
	PotentialSavingsPerMonth int64 `json:"potential_savings_per_month"`

	OverallRisk       RiskLevel         `json:"overall_risk"`
	RecommendedAction EnforcementAction `json:"recommended_action"`
	AnalyzedAt        time.Time         `json:"analyzed_at"`
}

// SeatAbuseDetector detects ghost seats, seat sharing and seat hopping.
type SeatAbuseDetector struct {
	mu      sync.RWMutex
	config  SeatAbuseConfig
	seats   store.SeatStore
	ids     signalIDs
	now     func() time.Time
	logger  *zerolog.Logger
	metrics *detectorMetrics
}

// NewSeatAbuseDetector creates a detector with the given thresholds.
// Seats live in memory unless a store is supplied.
func NewSeatAbuseDetector(cfg SeatAbuseConfig, opts ...Option) (*SeatAbuseDetector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := buildOptions(opts)
	if o.seats == nil {
		o.seats = store.NewMemorySeatStore()
	}

	metrics, err := newDetectorMetrics(o.registerer)
	if err != nil {
		return nil, fmt.Errorf("seatguard: failed to register metrics: %w", err)
	}

	logger := o.logger.With().Str("detector", "seats").Logger()
	return &SeatAbuseDetector{
		config:  cfg,
		seats:   o.seats,
		ids:     signalIDs{prefix: "sig_seat"},
		now:     o.now,
		logger:  &logger,
		metrics: metrics,
	}, nil
}

// RegisterSeat inserts or replaces a seat assignment.
func (d *SeatAbuseDetector) RegisterSeat(seat SeatAssignment) error {
	if seat.SubscriptionID == "" || seat.SeatID == "" {
		return fmt.Errorf("%w: subscription and seat IDs are required", ErrInvalidSeat)
	}
	if err := d.seats.SaveSeat(seatToStore(seat)); err != nil {
		d.logger.Warn().Err(err).Str("subscription_id", seat.SubscriptionID).Msg("failed to save seat")
		return fmt.Errorf("seatguard: failed to register seat: %w", err)
	}
	return nil
}

// RecordReassignment appends to the history of the subscription owning the
// seat. A seat no subscription has registered is ignored.
func (d *SeatAbuseDetector) RecordReassignment(r SeatReassignment) error {
	if r.SeatID == "" {
		return fmt.Errorf("%w: seat ID is required", ErrInvalidSeat)
	}

	subscriptionID, ok, err := d.seats.FindSubscription(r.SeatID)
	if err != nil {
		return fmt.Errorf("seatguard: failed to resolve seat: %w", err)
	}
	if !ok {
		d.logger.Debug().Str("seat_id", r.SeatID).Msg("ignoring reassignment of unknown seat")
		return nil
	}

	err = d.seats.AppendReassignment(&store.Reassignment{
		SubscriptionID: subscriptionID,
		SeatID:         r.SeatID,
		FromUserID:     r.FromUserID,
		ToUserID:       r.ToUserID,
		ReassignedAt:   r.ReassignedAt,
	})
	if err != nil {
		d.logger.Warn().Err(err).Str("subscription_id", subscriptionID).Msg("failed to save reassignment")
		return fmt.Errorf("seatguard: failed to record reassignment: %w", err)
	}
	return nil
}

// Seats returns every seat of a subscription in registration order.
func (d *SeatAbuseDetector) Seats(subscriptionID string) ([]SeatAssignment, error) {
	stored, err := d.seats.ListSeats(subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("seatguard: failed to list seats: %w", err)
	}
	seats := make([]SeatAssignment, len(stored))
	for i, s := range stored {
		seats[i] = storeToSeat(s)
	}
	return seats, nil
}

// Reassignments returns the reassignment history of a subscription, oldest first.
func (d *SeatAbuseDetector) Reassignments(subscriptionID string) ([]SeatReassignment, error) {
	stored, err := d.seats.ListReassignments(subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("seatguard: failed to list reassignments: %w", err)
	}
	out := make([]SeatReassignment, len(stored))
	for i, r := range stored {
		out[i] = SeatReassignment{
			SeatID:       r.SeatID,
			FromUserID:   r.FromUserID,
			ToUserID:     r.ToUserID,
			ReassignedAt: r.ReassignedAt,
		}
	}
	return out, nil
}

// Analyze scores every seat of a subscription and runs the seat checks.
// workspaceID is reported on the resulting signals.
func (d *SeatAbuseDetector) Analyze(subscriptionID, workspaceID string) (*SeatAbuseAnalysis, error) {
	start := time.Now()
	config := d.Config()
	now := d.now()

	seats, err := d.Seats(subscriptionID)
	if err != nil {
		return nil, err
	}
	reassignments, err := d.Reassignments(subscriptionID)
	if err != nil {
		return nil, err
	}

	c := seatCheck{
		config:         config,
		now:            now,
		subscriptionID: subscriptionID,
		workspaceID:    workspaceID,
		seats:          seats,
		ids:            &d.ids,
		logger:         d.logger,
	}

	analysis := &SeatAbuseAnalysis{
		SubscriptionID: subscriptionID,
		WorkspaceID:    workspaceID,
		Signals:        []AbuseSignal{},
		TotalSeats:     len(seats),
		Utilization:    make([]SeatUtilization, len(seats)),
		AnalyzedAt:     now,
	}
	for i, seat := range seats {
		u := c.utilization(seat)
		analysis.Utilization[i] = u
		switch u.Classification {
		case SeatActive:
			analysis.ActiveSeats++
		case SeatLowUsage:
			analysis.LowUsageSeats++
		case SeatGhost:
			analysis.GhostSeats++
		case SeatShared:
			analysis.SharedSeats++
		}
	}

	if s := c.ghostSeats(analysis.Utilization); s != nil {
		analysis.Signals = append(analysis.Signals, *s)
	}
	if s := c.seatSharing(); s != nil {
		analysis.Signals = append(analysis.Signals, *s)
	}
	hopping, hoppingSeats := c.seatHopping(reassignments)
	analysis.HoppingSeats = hoppingSeats
	if hopping != nil {
		analysis.Signals = append(analysis.Signals, *hopping)
	}

	analysis.Deprovisioning = c.deprovisioning(analysis.Utilization)
	for _, rec := range analysis.Deprovisioning {
		analysis.PotentialSavingsPerMonth += rec.EstimatedSavingsPerMonth
	}

	analysis.OverallRisk = AggregateRisk(analysis.Signals)
	analysis.RecommendedAction = ActionForRisk(analysis.OverallRisk)

	d.metrics.observe("seats", analysis.OverallRisk, analysis.Signals, time.Since(start))

	event := d.logger.Debug()
	if analysis.OverallRisk.Rank() >= RiskHigh.Rank() {
		event = d.logger.Info()
	}
	event.
		Str("subscription_id", subscriptionID).
		Str("workspace_id", workspaceID).
		Int("seats", analysis.TotalSeats).
		Int("ghost_seats", analysis.GhostSeats).
		Int("signals", len(analysis.Signals)).
		Str("risk", string(analysis.OverallRisk)).
		Str("action", string(analysis.RecommendedAction)).
		Msg("seat analysis complete")

	return analysis, nil
}

// Config returns a copy of the current thresholds.
func (d *SeatAbuseDetector) Config() SeatAbuseConfig {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.config
}

// UpdateConfig merges u over the current thresholds. An invalid result is
// rejected with ErrInvalidConfig and the current thresholds stay in effect.
func (d *SeatAbuseDetector) UpdateConfig(u SeatAbuseConfigUpdate) (SeatAbuseConfig, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	merged := u.apply(d.config)
	if err := merged.Validate(); err != nil {
		return d.config, err
	}
	d.config = merged
	return merged, nil
}

// Clear removes every seat and reassignment.
func (d *SeatAbuseDetector) Clear() error {
	if err := d.seats.ClearSeats(); err != nil {
		return fmt.Errorf("seatguard: failed to clear seats: %w", err)
	}
	return nil
}

func seatToStore(s SeatAssignment) *store.Seat {
	return &store.Seat{
		SubscriptionID: s.SubscriptionID,
		SeatID:         s.SeatID,
		UserID:         s.UserID,
		AssignedAt:     s.AssignedAt,
		LastActiveAt:   s.LastActiveAt,
		Devices:        s.Devices,
		IPAddresses:    s.IPAddresses,
		Locations:      s.Locations,
		IsActive:       s.IsActive,
	}
}

func storeToSeat(s *store.Seat) SeatAssignment {
	return SeatAssignment{
		SubscriptionID: s.SubscriptionID,
		SeatID:         s.SeatID,
		UserID:         s.UserID,
		AssignedAt:     s.AssignedAt,
		LastActiveAt:   s.LastActiveAt,
		Devices:        s.Devices,
		IPAddresses:    s.IPAddresses,
		Locations:      s.Locations,
		IsActive:       s.IsActive,
	}
}
