package seatguard

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "seatguard"

// detectorMetrics records analysis outcomes. A nil *detectorMetrics is a
// valid no-op recorder.
type detectorMetrics struct {
	signals  *prometheus.CounterVec
	analyses *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// newDetectorMetrics registers the collectors with reg, reusing collectors a
// previous Guard already registered there. A nil reg disables metrics.
func newDetectorMetrics(reg prometheus.Registerer) (*detectorMetrics, error) {
	if reg == nil {
		return nil, nil
	}

	signals, err := register(reg, prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "signals_total",
			Help:      "Abuse signals raised, by category, indicator and risk level",
		},
		[]string{"category", "indicator", "risk"},
	))
	if err != nil {
		return nil, err
	}

	analyses, err := register(reg, prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "analyses_total",
			Help:      "Analyses run, by detector and overall risk",
		},
		[]string{"detector", "risk"},
	))
	if err != nil {
		return nil, err
	}

	duration, err := register(reg, prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "analysis_duration_seconds",
			Help:      "Time spent analyzing one subscription",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		},
		[]string{"detector"},
	))
	if err != nil {
		return nil, err
	}

	return &detectorMetrics{signals: signals, analyses: analyses, duration: duration}, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func (m *detectorMetrics) observe(detector string, risk RiskLevel, signals []AbuseSignal, elapsed time.Duration) {
	if m == nil {
		return
	}
	for _, s := range signals {
		m.signals.WithLabelValues(string(s.Category), string(s.IndicatorType), string(s.RiskLevel)).Inc()
	}
	m.analyses.WithLabelValues(detector, string(risk)).Inc()
	m.duration.WithLabelValues(detector).Observe(elapsed.Seconds())
}
