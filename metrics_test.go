package seatguard

import (
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestDetectorMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	clock := newTestClock()

	d, err := NewAntiSharingDetector(DefaultAntiSharingConfig(), WithClock(clock.Now), WithRegisterer(reg))
	if err != nil {
		t.Fatalf("NewAntiSharingDetector() error = %v", err)
	}
	for i := 0; i < 4; i++ {
		if err := d.RegisterSession(activeSession("sub-1", fmt.Sprintf("s%d", i), clock.Now())); err != nil {
			t.Fatalf("RegisterSession() error = %v", err)
		}
	}
	if _, err := d.Analyze("sub-1", "user-1"); err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}

	signals := d.metrics.signals.WithLabelValues(string(CategorySharing), string(IndicatorConcurrentSessions), string(RiskMedium))
	if got := testutil.ToFloat64(signals); got != 1 {
		t.Errorf("Expected 1 concurrent-sessions signal counted, got %v", got)
	}
	if got := testutil.ToFloat64(d.metrics.analyses.WithLabelValues("sharing", string(RiskMedium))); got != 1 {
		t.Errorf("Expected 1 sharing analysis counted, got %v", got)
	}
}

func TestDetectorMetricsReuseRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()

	first, err := newDetectorMetrics(reg)
	if err != nil {
		t.Fatalf("newDetectorMetrics() error = %v", err)
	}
	second, err := newDetectorMetrics(reg)
	if err != nil {
		t.Fatalf("Registering twice should reuse collectors, got %v", err)
	}
	if first.signals != second.signals || first.analyses != second.analyses || first.duration != second.duration {
		t.Error("Expected the second registration to share the first one's collectors")
	}

	first.observe("seats", RiskLow, nil, 0)
	if got := testutil.ToFloat64(second.analyses.WithLabelValues("seats", string(RiskLow))); got != 1 {
		t.Errorf("Expected shared counter to read 1, got %v", got)
	}
}

func TestDetectorMetricsDisabled(t *testing.T) {
	m, err := newDetectorMetrics(nil)
	if err != nil || m != nil {
		t.Fatalf("Expected nil metrics without a registerer, got %v, %v", m, err)
	}
	// Must not panic.
	m.observe("sharing", RiskHigh, []AbuseSignal{{RiskLevel: RiskHigh}}, 0)
}
