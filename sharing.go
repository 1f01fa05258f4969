package seatguard

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aadithya-v/seatguard/store"
)

// AntiSharingDetector detects credential sharing from the sessions
// registered for a subscription.
type AntiSharingDetector struct {
	mu       sync.RWMutex
	config   AntiSharingConfig
	sessions store.SessionStore
	grace    graceTracker
	ids      signalIDs
	now      func() time.Time
	logger   *zerolog.Logger
	metrics  *detectorMetrics
}

// NewAntiSharingDetector creates a detector with the given thresholds.
// Sessions and grace periods live in memory unless stores are supplied.
func NewAntiSharingDetector(cfg AntiSharingConfig, opts ...Option) (*AntiSharingDetector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := buildOptions(opts)
	if o.sessions == nil {
		o.sessions = store.NewMemorySessionStore()
	}
	if o.grace == nil {
		o.grace = store.NewMemoryGraceStore()
	}

	metrics, err := newDetectorMetrics(o.registerer)
	if err != nil {
		return nil, fmt.Errorf("seatguard: failed to register metrics: %w", err)
	}

	logger := o.logger.With().Str("detector", "sharing").Logger()
	return &AntiSharingDetector{
		config:   cfg,
		sessions: o.sessions,
		grace:    graceTracker{store: o.grace, now: o.now},
		ids:      signalIDs{prefix: "sig_share"},
		now:      o.now,
		logger:   &logger,
		metrics:  metrics,
	}, nil
}

// RegisterSession inserts or replaces a session. A replaced session keeps
// its position in the registry. The fingerprint hash is computed when empty.
func (d *AntiSharingDetector) RegisterSession(record SessionRecord) error {
	if record.SubscriptionID == "" || record.SessionID == "" {
		return fmt.Errorf("%w: subscription and session IDs are required", ErrInvalidSession)
	}
	record.DeviceFingerprint = record.DeviceFingerprint.withHash()

	if err := d.sessions.Save(sessionToStore(record)); err != nil {
		d.logger.Warn().Err(err).Str("subscription_id", record.SubscriptionID).Msg("failed to save session")
		return fmt.Errorf("seatguard: failed to register session: %w", err)
	}
	return nil
}

// RemoveSession deletes a session. Removing an unknown session is a no-op.
func (d *AntiSharingDetector) RemoveSession(subscriptionID, sessionID string) error {
	if err := d.sessions.Delete(subscriptionID, sessionID); err != nil {
		d.logger.Warn().Err(err).Str("subscription_id", subscriptionID).Msg("failed to remove session")
		return fmt.Errorf("seatguard: failed to remove session: %w", err)
	}
	return nil
}

// Sessions returns every session of a subscription, active or not, in
// registration order.
func (d *AntiSharingDetector) Sessions(subscriptionID string) ([]SessionRecord, error) {
	stored, err := d.sessions.ListBySubscription(subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("seatguard: failed to list sessions: %w", err)
	}
	sessions := make([]SessionRecord, len(stored))
	for i, s := range stored {
		sessions[i] = storeToSession(s)
	}
	return sessions, nil
}

// ActiveSessions returns the active sessions of a subscription.
func (d *AntiSharingDetector) ActiveSessions(subscriptionID string) ([]SessionRecord, error) {
	sessions, err := d.Sessions(subscriptionID)
	if err != nil {
		return nil, err
	}
	return filterActive(sessions), nil
}

func filterActive(sessions []SessionRecord) []SessionRecord {
	active := make([]SessionRecord, 0, len(sessions))
	for _, s := range sessions {
		if s.IsActive {
			active = append(active, s)
		}
	}
	return active
}

// Analyze runs every sharing check over the active sessions of a subscription.
// userID is reported as the account of the resulting signals.
//
// Analyze does not start a grace period; callers decide that from the
// returned risk.
func (d *AntiSharingDetector) Analyze(subscriptionID, userID string) (*SharingAnalysis, error) {
	start := time.Now()
	config := d.Config()
	now := d.now()

	active, err := d.ActiveSessions(subscriptionID)
	if err != nil {
		return nil, err
	}

	inGrace, err := d.grace.active(subscriptionID, config.GracePeriod)
	if err != nil {
		return nil, err
	}

	c := sharingCheck{
		config:         config,
		now:            now,
		subscriptionID: subscriptionID,
		userID:         userID,
		active:         active,
		ids:            &d.ids,
		logger:         d.logger,
	}

	analysis := &SharingAnalysis{
		SubscriptionID:     subscriptionID,
		UserID:             userID,
		Signals:            []AbuseSignal{},
		ActiveSessionCount: len(active),
		InGracePeriod:      inGrace,
		AnalyzedAt:         now,
	}

	if s := c.concurrentSessions(); s != nil {
		analysis.Signals = append(analysis.Signals, *s)
	}

	deviceSignal, uniqueDevices := c.deviceDiversity()
	analysis.UniqueDeviceCount = uniqueDevices
	if deviceSignal != nil {
		analysis.Signals = append(analysis.Signals, *deviceSignal)
	}

	ipSignal, distinctIPs := c.ipDiversity()
	analysis.DistinctIPCount = distinctIPs
	if ipSignal != nil {
		analysis.Signals = append(analysis.Signals, *ipSignal)
	}

	geoSignals, anomalies := c.geoImpossibility()
	analysis.GeographicAnomalies = anomalies
	analysis.Signals = append(analysis.Signals, geoSignals...)

	analysis.OverallRisk = AggregateRisk(analysis.Signals)
	analysis.RecommendedAction = RecommendAction(analysis.OverallRisk, inGrace)

	d.metrics.observe("sharing", analysis.OverallRisk, analysis.Signals, time.Since(start))
	d.logVerdict(analysis)

	return analysis, nil
}

func (d *AntiSharingDetector) logVerdict(a *SharingAnalysis) {
	event := d.logger.Debug()
	if a.OverallRisk.Rank() >= RiskHigh.Rank() {
		event = d.logger.Info()
	}
	event.
		Str("subscription_id", a.SubscriptionID).
		Str("user_id", a.UserID).
		Int("active_sessions", a.ActiveSessionCount).
		Int("signals", len(a.Signals)).
		Str("risk", string(a.OverallRisk)).
		Str("action", string(a.RecommendedAction)).
		Bool("in_grace_period", a.InGracePeriod).
		Msg("sharing analysis complete")
}

// StartGracePeriod records the first violation of a subscription. Calling it
// again during a running grace period does not extend it.
func (d *AntiSharingDetector) StartGracePeriod(subscriptionID string) error {
	return d.grace.start(subscriptionID)
}

// IsInGracePeriod reports whether the subscription's grace period is running.
func (d *AntiSharingDetector) IsInGracePeriod(subscriptionID string) (bool, error) {
	return d.grace.active(subscriptionID, d.Config().GracePeriod)
}

// ClearGracePeriod forgets the subscription's first violation.
func (d *AntiSharingDetector) ClearGracePeriod(subscriptionID string) error {
	return d.grace.clear(subscriptionID)
}

// RecommendedAction maps a risk level to an action for a subscription,
// honoring its grace period.
func (d *AntiSharingDetector) RecommendedAction(subscriptionID string, risk RiskLevel) (EnforcementAction, error) {
	inGrace, err := d.IsInGracePeriod(subscriptionID)
	if err != nil {
		return ActionNone, err
	}
	return RecommendAction(risk, inGrace), nil
}

// Config returns a copy of the current thresholds.
func (d *AntiSharingDetector) Config() AntiSharingConfig {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.config
}

// UpdateConfig merges u over the current thresholds. An invalid result is
// rejected with ErrInvalidConfig and the current thresholds stay in effect.
func (d *AntiSharingDetector) UpdateConfig(u AntiSharingConfigUpdate) (AntiSharingConfig, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	merged := u.apply(d.config)
	if err := merged.Validate(); err != nil {
		return d.config, err
	}
	d.config = merged
	return merged, nil
}

// Clear removes every session and grace period.
func (d *AntiSharingDetector) Clear() error {
	if err := d.sessions.ClearSessions(); err != nil {
		return fmt.Errorf("seatguard: failed to clear sessions: %w", err)
	}
	if err := d.grace.store.ClearGrace(); err != nil {
		return fmt.Errorf("seatguard: failed to clear grace periods: %w", err)
	}
	return nil
}
