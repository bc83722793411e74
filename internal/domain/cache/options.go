package cache

import (
	"time"

	"github.com/okian/pulse/pkg/logger"
)

// TTLs holds the default lifetime of each category.
type TTLs struct {
	Diagnostic time.Duration
	Algorithm  time.Duration
	Metrics    time.Duration
	Benchmark  time.Duration
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(log logger.Logger) Option {
	return func(m *Manager) {
		if log != nil {
			m.log = log
		}
	}
}

// WithTTLs overrides category TTLs. Zero fields keep their defaults.
func WithTTLs(t TTLs) Option {
	return func(m *Manager) {
		if t.Diagnostic > 0 {
			m.ttls.Diagnostic = t.Diagnostic
		}
		if t.Algorithm > 0 {
			m.ttls.Algorithm = t.Algorithm
		}
		if t.Metrics > 0 {
			m.ttls.Metrics = t.Metrics
		}
		if t.Benchmark > 0 {
			m.ttls.Benchmark = t.Benchmark
		}
	}
}

// WithSlowThreshold sets the compute time above which a warning is logged.
func WithSlowThreshold(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.slowThreshold = d
		}
	}
}

// WithLock tunes the stampede lock wait.
func WithLock(timeout, poll time.Duration) Option {
	return func(m *Manager) {
		if timeout > 0 {
			m.lockTimeout = timeout
		}
		if poll > 0 {
			m.lockPoll = poll
		}
	}
}

// WithClock overrides the time source used for tag index expiry.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}
