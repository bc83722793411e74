// Package scoring defines the typed algorithm registration table and the
// reference metric algorithm used when no host-specific scorer is plugged in.
package scoring

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/okian/pulse/internal/domain/model"
)

// Default scoring configuration constants.
const (
	defaultRandomSeed = 42
	maxScoreValue     = 100
	parScore          = 50
)

// Sentinel errors.
var (
	ErrMissingMetric = errors.New("metric missing from subject data")
	ErrDuplicate     = errors.New("algorithm already registered")
	ErrUnknown       = errors.New("unknown algorithm")
)

// Algorithm is one named scoring function with its weight and fallback.
// Score must be safe for concurrent use.
type Algorithm interface {
	Name() string
	// Weight is the share of the overall score. Zero means informational only.
	Weight() float64
	// Fallback is the score substituted when Score fails.
	Fallback() float64
	Score(ctx context.Context, subject model.Subject, data model.Data) (float64, error)
}

// Option applies a configuration option to the MetricAlgorithm.
type Option func(*MetricAlgorithm)

// WithLatencyRange sets the simulated latency range.
func WithLatencyRange(minLatency, maxLatency time.Duration) Option {
	return func(a *MetricAlgorithm) {
		if minLatency >= 0 && maxLatency >= minLatency {
			a.minLatency = minLatency
			a.maxLatency = maxLatency
		}
	}
}

// WithBaseline scores the metric against the industry baseline when the
// data carries one: at par scores 50, double the baseline scores 100.
func WithBaseline() Option {
	return func(a *MetricAlgorithm) {
		a.relative = true
	}
}

// WithSeed sets the latency jitter seed.
func WithSeed(seed int64) Option {
	return func(a *MetricAlgorithm) {
		a.rng = rand.New(rand.NewSource(seed)) //nolint:gosec // jitter only
	}
}

// MetricAlgorithm scores one metric of the subject data: metric × scale,
// clamped to 0..100, after a simulated latency.
type MetricAlgorithm struct {
	name     string
	metric   string
	scale    float64
	weight   float64
	fallback float64
	relative bool

	minLatency time.Duration
	maxLatency time.Duration

	mu  sync.Mutex
	rng *rand.Rand
}

// NewMetricAlgorithm creates a metric algorithm.
func NewMetricAlgorithm(name, metric string, scale, weight, fallback float64, opts ...Option) *MetricAlgorithm {
	a := &MetricAlgorithm{
		name:     name,
		metric:   metric,
		scale:    scale,
		weight:   weight,
		fallback: fallback,
		rng:      rand.New(rand.NewSource(defaultRandomSeed)), //nolint:gosec // deterministic seed for reproducible testing
	}
	if a.scale == 0 {
		a.scale = 1
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *MetricAlgorithm) Name() string      { return a.name }
func (a *MetricAlgorithm) Weight() float64   { return a.weight }
func (a *MetricAlgorithm) Fallback() float64 { return a.fallback }

func (a *MetricAlgorithm) latency() time.Duration {
	span := a.maxLatency - a.minLatency
	if span <= 0 {
		return a.minLatency
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.minLatency + time.Duration(a.rng.Int63n(int64(span)))
}

// Score computes the score for the subject data.
func (a *MetricAlgorithm) Score(ctx context.Context, _ model.Subject, data model.Data) (float64, error) {
	if d := a.latency(); d > 0 {
		timer := time.NewTimer(d)
		select {
		case <-ctx.Done():
			timer.Stop()
			return 0, fmt.Errorf("context cancelled: %w", ctx.Err())
		case <-timer.C:
		}
	}

	v, ok := data.Metric(a.metric)
	if !ok {
		return 0, fmt.Errorf("%s: %w: %s", a.name, ErrMissingMetric, a.metric)
	}
	if b, ok := data.Baseline(a.metric); a.relative && ok && b > 0 {
		v = v / b * parScore
	}
	return math.Max(0, math.Min(maxScoreValue, v*a.scale)), nil
}

// Func adapts a plain function into an Algorithm.
type Func struct {
	name     string
	weight   float64
	fallback float64
	fn       func(ctx context.Context, subject model.Subject, data model.Data) (float64, error)
}

// NewFunc builds a function-backed algorithm.
func NewFunc(name string, weight, fallback float64, fn func(context.Context, model.Subject, model.Data) (float64, error)) *Func {
	return &Func{name: name, weight: weight, fallback: fallback, fn: fn}
}

func (f *Func) Name() string      { return f.name }
func (f *Func) Weight() float64   { return f.weight }
func (f *Func) Fallback() float64 { return f.fallback }

func (f *Func) Score(ctx context.Context, s model.Subject, d model.Data) (float64, error) {
	return f.fn(ctx, s, d)
}
