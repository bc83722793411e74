package ratelimit

import (
	"time"

	"github.com/okian/pulse/pkg/logger"
)

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// WithLogger sets the logger used for fail-open warnings.
func WithLogger(log logger.Logger) Option {
	return func(l *Limiter) {
		if log != nil {
			l.log = log
		}
	}
}

// WithMaxRetryWait caps a single RetryOnLimit sleep.
func WithMaxRetryWait(d time.Duration) Option {
	return func(l *Limiter) {
		if d > 0 {
			l.maxRetryWait = d
		}
	}
}
