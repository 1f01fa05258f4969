package seatguard

import (
	"fmt"
	"time"

	"github.com/aadithya-v/seatguard/store"
)

// graceTracker decides whether a subscription is inside its grace period.
// The period is passed per call so config updates apply immediately.
type graceTracker struct {
	store store.GraceStore
	now   func() time.Time
}

// start records the first violation. An existing record is kept, so a
// running grace period is never extended.
func (g *graceTracker) start(subscriptionID string) error {
	if err := g.store.StartGrace(subscriptionID, g.now()); err != nil {
		return fmt.Errorf("seatguard: failed to start grace period: %w", err)
	}
	return nil
}

func (g *graceTracker) active(subscriptionID string, period time.Duration) (bool, error) {
	first, ok, err := g.store.FirstViolation(subscriptionID)
	if err != nil {
		return false, fmt.Errorf("seatguard: failed to read grace period: %w", err)
	}
	if !ok {
		return false, nil
	}
	return g.now().Sub(first) < period, nil
}

func (g *graceTracker) clear(subscriptionID string) error {
	if err := g.store.DeleteGrace(subscriptionID); err != nil {
		return fmt.Errorf("seatguard: failed to clear grace period: %w", err)
	}
	return nil
}
