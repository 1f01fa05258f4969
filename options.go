package seatguard

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/aadithya-v/seatguard/store"
)

// Option configures a detector.
type Option func(*detectorOptions)

type detectorOptions struct {
	logger     *zerolog.Logger
	now        func() time.Time
	registerer prometheus.Registerer
	sessions   store.SessionStore
	seats      store.SeatStore
	grace      store.GraceStore
}

func buildOptions(opts []Option) detectorOptions {
	nop := zerolog.Nop()
	o := detectorOptions{
		logger: &nop,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithLogger sets the logger. A nil logger keeps logging disabled.
func WithLogger(logger *zerolog.Logger) Option {
	return func(o *detectorOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(o *detectorOptions) {
		if now != nil {
			o.now = now
		}
	}
}

// WithRegisterer registers the detector metrics with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *detectorOptions) {
		o.registerer = reg
	}
}

// WithSessionStore sets the session registry of an AntiSharingDetector.
// Default: in-memory.
func WithSessionStore(s store.SessionStore) Option {
	return func(o *detectorOptions) {
		o.sessions = s
	}
}

// WithGraceStore sets the grace-period store of an AntiSharingDetector.
// Default: in-memory.
func WithGraceStore(s store.GraceStore) Option {
	return func(o *detectorOptions) {
		o.grace = s
	}
}

// WithSeatStore sets the seat registry of a SeatAbuseDetector.
// Default: in-memory.
func WithSeatStore(s store.SeatStore) Option {
	return func(o *detectorOptions) {
		o.seats = s
	}
}
