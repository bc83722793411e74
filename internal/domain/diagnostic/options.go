package diagnostic

import (
	"time"

	"github.com/okian/pulse/internal/domain/jobs"
	"github.com/okian/pulse/pkg/logger"
)

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithJobs enables the async path.
func WithJobs(j *jobs.Orchestrator) Option {
	return func(o *Orchestrator) {
		o.jobs = j
	}
}

// WithBenchmarks attaches industry benchmarks to the data of subjects that
// name an industry.
func WithBenchmarks(src BenchmarkSource) Option {
	return func(o *Orchestrator) {
		o.benchmarks = src
	}
}

// WithTiers sets the status tier thresholds.
func WithTiers(t Tiers) Option {
	return func(o *Orchestrator) {
		if t.Excellent > t.Good && t.Good > t.Average {
			o.tiers = t
		}
	}
}

// WithBatchKey sets the limiter key batch calls are counted under.
func WithBatchKey(key string) Option {
	return func(o *Orchestrator) {
		if key != "" {
			o.batchKey = key
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

// WithClock overrides the time source used for computed_at.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}
