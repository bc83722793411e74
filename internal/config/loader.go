package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Environment knobs.
const (
	EnvPrefix = "PULSE_"
	EnvConfig = "PULSE_CONFIG"
)

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New())
//  2. file (YAML) if PULSE_CONFIG is set
//  3. env (prefix PULSE_, "__" separates nested keys)
func Load(_ context.Context) (*Config, error) {
	base := New()

	k := koanf.New(".")

	if path := os.Getenv(EnvConfig); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrLoadConfig, path, err)
		}
	}

	// PULSE_CACHE__DIAGNOSTIC_TTL -> cache.diagnostic_ttl
	envProvider := env.Provider(EnvPrefix, ".", func(s string) string {
		if s == EnvConfig {
			return ""
		}
		s = strings.TrimPrefix(s, EnvPrefix)
		s = strings.ToLower(s)
		return strings.ReplaceAll(s, "__", ".")
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: env: %w", ErrLoadConfig, err)
	}

	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	}
	switch c.Store.Backend {
	case BackendMemory, BackendBadger:
	default:
		return fmt.Errorf("%w: unknown store backend %q", ErrInvalidConfig, c.Store.Backend)
	}
	for class, rl := range c.RateLimits {
		if rl.Requests <= 0 || rl.WindowSeconds <= 0 {
			return fmt.Errorf("%w: rate limit %q needs positive requests and window", ErrInvalidConfig, class)
		}
	}
	if _, ok := c.RateLimits["diagnostic"]; !ok {
		return fmt.Errorf("%w: rate limit class \"diagnostic\" is required", ErrInvalidConfig)
	}
	t := c.Tiers
	if t.Excellent > 100 || t.Excellent <= t.Good || t.Good <= t.Average || t.Average < 0 {
		return fmt.Errorf("%w: tier thresholds must be strictly descending within 0..100", ErrInvalidConfig)
	}
	if len(c.Queue.Priorities) == 0 {
		return fmt.Errorf("%w: at least one queue priority is required", ErrInvalidConfig)
	}
	if len(c.Algorithms) == 0 {
		return fmt.Errorf("%w: no algorithms configured", ErrInvalidConfig)
	}
	for name, a := range c.Algorithms {
		if a.Weight < 0 {
			return fmt.Errorf("%w: algorithm %q has negative weight", ErrInvalidConfig, name)
		}
		if a.MaxLatencyMS < a.MinLatencyMS {
			return fmt.Errorf("%w: algorithm %q latency bounds inverted", ErrInvalidConfig, name)
		}
	}
	return nil
}
