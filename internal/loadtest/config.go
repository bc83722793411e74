// Package loadtest drives concurrent diagnostic bursts against a running
// service and reports how each call was answered.
package loadtest

import (
	"time"

	"github.com/okian/pulse/pkg/logger"
)

// Config holds configuration for a burst run.
type Config struct {
	BaseURL  string        // Base URL of the service
	Subjects int           // Number of subjects to seed
	Requests int           // Diagnose calls per subject
	Workers  int           // Number of concurrent workers
	Timeout  time.Duration // HTTP request timeout

	// Async submits jobs and waits for their results instead of calling inline.
	Async bool
	// Priority is the queue used in async mode.
	Priority string
	// MutateEvery rewrites a subject after every n calls to it. Zero never mutates.
	MutateEvery int
	// ResultWait bounds each async result wait.
	ResultWait time.Duration
	// Rate caps dispatched calls per second. Zero is unpaced.
	Rate float64

	Logger logger.Logger
}

func (c *Config) withDefaults() *Config {
	out := *c
	if out.BaseURL == "" {
		out.BaseURL = defaultBaseURL
	}
	if out.Subjects <= 0 {
		out.Subjects = 1
	}
	if out.Requests <= 0 {
		out.Requests = 1
	}
	if out.Workers <= 0 {
		out.Workers = 1
	}
	if out.Timeout <= 0 {
		out.Timeout = defaultTimeout
	}
	if out.ResultWait <= 0 {
		out.ResultWait = defaultResultWait
	}
	if out.Logger == nil {
		out.Logger = logger.Nop()
	}
	return &out
}

// Outcome classifies how one call was answered.
type Outcome string

const (
	OutcomeFresh       Outcome = "fresh"
	OutcomeCached      Outcome = "cached"
	OutcomeRateLimited Outcome = "rate_limited"
	OutcomeFailed      Outcome = "failed"
	OutcomePending     Outcome = "pending"
)

// Report holds burst statistics.
type Report struct {
	Subjects    int `json:"subjects"`
	Requests    int `json:"requests"`
	Fresh       int `json:"fresh"`
	Cached      int `json:"cached"`
	RateLimited int `json:"rate_limited"`
	Failed      int `json:"failed"`
	Pending     int `json:"pending"`
	Mutations   int `json:"mutations"`

	// Async reports were answered by job results, which coalesced callers share.
	Async bool `json:"async"`

	// FreshBySubject counts computed answers per subject.
	FreshBySubject map[string]int `json:"fresh_by_subject"`

	P50        time.Duration `json:"p50"`
	P99        time.Duration `json:"p99"`
	StartTime  time.Time     `json:"start_time"`
	Duration   time.Duration `json:"duration"`
	Throughput float64       `json:"throughput"`
}

// Answered is the number of calls that produced a result.
func (r *Report) Answered() int { return r.Fresh + r.Cached }

// CacheHitRate is the share of answered calls served from cache, in percent.
func (r *Report) CacheHitRate() float64 {
	if r.Answered() == 0 {
		return 0
	}
	return float64(r.Cached) / float64(r.Answered()) * percentageMultiplier
}
