package jobs

import (
	"time"

	"github.com/okian/pulse/internal/adapters/mq/queue"
	"github.com/okian/pulse/internal/domain/dedupe"
	"github.com/okian/pulse/pkg/logger"
)

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithStatusTTL sets how long status records live after each transition.
func WithStatusTTL(ttl time.Duration) Option {
	return func(o *Orchestrator) {
		if ttl > 0 {
			o.statusTTL = ttl
		}
	}
}

// WithResultTTL sets how long result payloads live.
func WithResultTTL(ttl time.Duration) Option {
	return func(o *Orchestrator) {
		if ttl > 0 {
			o.resultTTL = ttl
		}
	}
}

// WithPolling sets the WaitForResult defaults.
func WithPolling(poll, maxWait time.Duration) Option {
	return func(o *Orchestrator) {
		if poll > 0 {
			o.poll = poll
		}
		if maxWait > 0 {
			o.maxWait = maxWait
		}
	}
}

// WithInflight enables coalescing of submissions that carry a fingerprint.
func WithInflight(idx dedupe.Index) Option {
	return func(o *Orchestrator) {
		o.inflight = idx
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// WithIDGenerator overrides job id generation.
func WithIDGenerator(gen func() string) Option {
	return func(o *Orchestrator) {
		if gen != nil {
			o.newID = gen
		}
	}
}

// WithLogger sets the orchestrator logger.
func WithLogger(log logger.Logger) Option {
	return func(o *Orchestrator) {
		if log != nil {
			o.log = log
		}
	}
}

// SubmitOption decorates the queued message.
type SubmitOption func(*queue.Message)

// WithFingerprint lets identical in-flight submissions share one job.
func WithFingerprint(fp string) SubmitOption {
	return func(m *queue.Message) { m.Fingerprint = fp }
}

// WithForceRefresh bypasses caches and coalescing.
func WithForceRefresh() SubmitOption {
	return func(m *queue.Message) { m.ForceRefresh = true }
}
