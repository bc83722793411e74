package runner

import (
	"time"

	"github.com/okian/pulse/pkg/logger"
)

// Option configures a Runner.
type Option func(*Runner)

// WithMaxConcurrency bounds how many tasks run at once.
func WithMaxConcurrency(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.maxConcurrency = n
		}
	}
}

// WithTaskTimeout sets the deadline of each task. Zero disables it.
func WithTaskTimeout(d time.Duration) Option {
	return func(r *Runner) {
		if d >= 0 {
			r.taskTimeout = d
		}
	}
}

// WithPriority sets the static cheapest-first ordering table.
// Names not listed run after listed ones, alphabetically.
func WithPriority(names []string) Option {
	return func(r *Runner) {
		r.priority = make(map[string]int, len(names))
		for i, n := range names {
			r.priority[n] = i
		}
	}
}

// WithBatch sets the default chunk size and the pause between chunks.
func WithBatch(size int, delay time.Duration) Option {
	return func(r *Runner) {
		if size > 0 {
			r.batchSize = size
		}
		if delay >= 0 {
			r.batchDelay = delay
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log logger.Logger) Option {
	return func(r *Runner) {
		if log != nil {
			r.log = log
		}
	}
}
