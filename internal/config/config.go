// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New() initializer to build a Config with defaults.
// - Load layers a YAML file and environment variables over the defaults.
// - External errors are wrapped with this package's sentinel kinds.
package config

import (
	"runtime"
	"time"
)

// Store backends.
const (
	BackendMemory = "memory"
	BackendBadger = "badger"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects the log handler: text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	Store      StoreConfig                `koanf:"store"`
	RateLimits map[string]RateLimitConfig `koanf:"rate_limits"`
	Cache      CacheConfig                `koanf:"cache"`
	Queue      QueueConfig                `koanf:"queue"`
	Runner     RunnerConfig               `koanf:"runner"`
	Tiers      TierConfig                 `koanf:"tiers"`

	// Algorithms maps algorithm names to their scoring parameters.
	Algorithms map[string]AlgorithmConfig `koanf:"algorithms"`
}

// StoreConfig selects the shared key/value backend.
type StoreConfig struct {
	Backend string `koanf:"backend"`

	// Path is the badger data directory. Ignored for the memory backend.
	Path string `koanf:"path"`

	// InMemory runs badger without touching disk.
	InMemory bool `koanf:"in_memory"`

	// GCInterval controls expired-entry sweeps (memory janitor, badger value log GC).
	GCInterval time.Duration `koanf:"gc_interval"`

	// Shards is the number of lock shards in the memory backend.
	Shards int `koanf:"shards"`
}

// RateLimitConfig is one operation class of the sliding window limiter.
type RateLimitConfig struct {
	Requests      int `koanf:"requests"`
	WindowSeconds int `koanf:"window_seconds"`
}

// CacheConfig holds per-category TTLs and stampede lock tuning.
type CacheConfig struct {
	DiagnosticTTL    time.Duration `koanf:"diagnostic_ttl"`
	AlgorithmTTL     time.Duration `koanf:"algorithm_ttl"`
	MetricsTTL       time.Duration `koanf:"metrics_ttl"`
	BenchmarkTTL     time.Duration `koanf:"benchmark_ttl"`
	SlowThreshold    time.Duration `koanf:"slow_threshold"`
	LockTimeout      time.Duration `koanf:"lock_timeout"`
	LockPollInterval time.Duration `koanf:"lock_poll_interval"`
}

// QueueConfig tunes the async job path.
type QueueConfig struct {
	Priorities   []string      `koanf:"priorities"`
	Capacity     int           `koanf:"capacity"`
	StatusTTL    time.Duration `koanf:"status_ttl"`
	WorkerCount  int           `koanf:"worker_count"`
	PollInterval time.Duration `koanf:"poll_interval"`
	MaxWait      time.Duration `koanf:"max_wait"`
	InflightSize int           `koanf:"inflight_size"`
}

// RunnerConfig tunes the algorithm runner.
type RunnerConfig struct {
	MaxConcurrency   int           `koanf:"max_concurrency"`
	AlgorithmTimeout time.Duration `koanf:"algorithm_timeout"`
	BatchSize        int           `koanf:"batch_size"`
	BatchDelay       time.Duration `koanf:"batch_delay"`

	// Priority lists algorithm names cheapest first.
	Priority []string `koanf:"priority"`
}

// TierConfig holds the lower bounds of each status tier. Anything below Average is weak.
type TierConfig struct {
	Excellent int `koanf:"excellent"`
	Good      int `koanf:"good"`
	Average   int `koanf:"average"`
}

// AlgorithmConfig parameterises the reference metric algorithm.
type AlgorithmConfig struct {
	// Metric is the subject data key the algorithm reads.
	Metric string `koanf:"metric"`
	// Scale multiplies the metric before clamping to 0..100.
	Scale float64 `koanf:"scale"`
	// Weight is the contribution to the overall score. Zero keeps the result informational.
	Weight float64 `koanf:"weight"`
	// Fallback is the score substituted when the algorithm fails.
	Fallback     float64 `koanf:"fallback"`
	MinLatencyMS int     `koanf:"min_latency_ms"`
	MaxLatencyMS int     `koanf:"max_latency_ms"`
	// Relative scores the metric against the subject's industry benchmark when one exists.
	Relative bool `koanf:"relative"`
}

// New creates a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "text",
		Addr:      ":9080",
		Store: StoreConfig{
			Backend:    BackendMemory,
			Path:       "data/pulse",
			GCInterval: time.Minute,
			Shards:     16,
		},
		RateLimits: map[string]RateLimitConfig{
			"diagnostic": {Requests: 600, WindowSeconds: 60},
			"algorithm":  {Requests: 2000, WindowSeconds: 60},
			"batch":      {Requests: 50, WindowSeconds: 60},
			"global":     {Requests: 3000, WindowSeconds: 60},
		},
		Cache: CacheConfig{
			DiagnosticTTL:    30 * time.Minute,
			AlgorithmTTL:     30 * time.Minute,
			MetricsTTL:       time.Hour,
			BenchmarkTTL:     24 * time.Hour,
			SlowThreshold:    500 * time.Millisecond,
			LockTimeout:      10 * time.Second,
			LockPollInterval: 100 * time.Millisecond,
		},
		Queue: QueueConfig{
			Priorities:   []string{"high", "default", "low"},
			Capacity:     10_000,
			StatusTTL:    time.Hour,
			WorkerCount:  runtime.NumCPU() * 2,
			PollInterval: 500 * time.Millisecond,
			MaxWait:      30 * time.Second,
			InflightSize: 50_000,
		},
		Runner: RunnerConfig{
			MaxConcurrency:   runtime.NumCPU() * 4,
			AlgorithmTimeout: 5 * time.Second,
			BatchSize:        10,
			BatchDelay:       100 * time.Millisecond,
			Priority: []string{
				"engagement_metrics",
				"content_optimization",
				"offer_strength",
				"dream_buyer_analysis",
				"health_score",
				"funnel_analysis",
				"churn_risk",
				"money_loss",
				"competitor_benchmark",
				"revenue_forecast",
			},
		},
		Tiers: TierConfig{Excellent: 80, Good: 60, Average: 40},
		Algorithms: map[string]AlgorithmConfig{
			"health_score":         {Metric: "health", Scale: 1, Weight: 0.25, Fallback: 50, MinLatencyMS: 20, MaxLatencyMS: 60},
			"dream_buyer_analysis": {Metric: "dream_buyer", Scale: 1, Weight: 0.20, Fallback: 50, MinLatencyMS: 10, MaxLatencyMS: 40},
			"offer_strength":       {Metric: "offer", Scale: 1, Weight: 0.15, Fallback: 50, MinLatencyMS: 5, MaxLatencyMS: 20},
			"funnel_analysis":      {Metric: "conversion_rate", Scale: 10, Weight: 0.20, Fallback: 50, MinLatencyMS: 20, MaxLatencyMS: 80},
			"engagement_metrics":   {Metric: "engagement", Scale: 1, Weight: 0.10, Fallback: 50, MinLatencyMS: 2, MaxLatencyMS: 10},
			"content_optimization": {Metric: "content", Scale: 1, Weight: 0.10, Fallback: 50, MinLatencyMS: 2, MaxLatencyMS: 10},
			"money_loss":           {Metric: "money_loss", Scale: 1, Fallback: 0, MinLatencyMS: 30, MaxLatencyMS: 90},
			"churn_risk":           {Metric: "churn", Scale: 1, Fallback: 0, MinLatencyMS: 20, MaxLatencyMS: 80},
			"revenue_forecast":     {Metric: "revenue_growth", Scale: 1, Fallback: 0, MinLatencyMS: 50, MaxLatencyMS: 150},
			"competitor_benchmark": {Metric: "benchmark", Scale: 1, Fallback: 0, MinLatencyMS: 40, MaxLatencyMS: 120, Relative: true},
		},
	}
}

// Window returns the class window as a duration.
func (r RateLimitConfig) Window() time.Duration {
	return time.Duration(r.WindowSeconds) * time.Second
}
