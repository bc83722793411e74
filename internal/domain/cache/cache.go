// Package cache implements the three-tier lookup used by the diagnostic core:
// request scope, then the shared store, then compute. Store failures are
// logged and treated as misses.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/okian/pulse/internal/adapters/repository"
	"github.com/okian/pulse/internal/domain/model"
	"github.com/okian/pulse/pkg/logger"
	"github.com/okian/pulse/pkg/metrics"
)

// Tier reports where a value was served from.
type Tier string

const (
	TierScope    Tier = "scope"
	TierShared   Tier = "shared"
	TierComputed Tier = "computed"
)

// Cached reports whether the value was served without computing.
func (t Tier) Cached() bool { return t == TierScope || t == TierShared }

// ComputeFunc produces the bytes for a missing key.
type ComputeFunc func(ctx context.Context) ([]byte, error)

// Stats is a snapshot of manager counters.
type Stats struct {
	Backend         string  `json:"backend"`
	NativeTags      bool    `json:"native_tags"`
	ScopeHits       int64   `json:"scope_hits"`
	SharedHits      int64   `json:"shared_hits"`
	Misses          int64   `json:"misses"`
	StoreErrors     int64   `json:"store_errors"`
	SlowComputes    int64   `json:"slow_computes"`
	LockWaits       int64   `json:"lock_waits"`
	LockTimeouts    int64   `json:"lock_timeouts"`
	HitRate         float64 `json:"hit_rate"`
	SlowThresholdMS int64   `json:"slow_threshold_ms"`
	TTLs            TTLs    `json:"-"`
}

// Manager is safe for concurrent use.
type Manager struct {
	store repository.Store
	tags  repository.TagStore // nil when the backend has no native tagging
	caps  repository.Capabilities
	log   logger.Logger
	now   func() time.Time

	ttls          TTLs
	slowThreshold time.Duration
	lockTimeout   time.Duration
	lockPoll      time.Duration

	flight singleflight.Group

	scopeHits, sharedHits, misses atomic.Int64
	storeErrors, slowComputes     atomic.Int64
	lockWaits, lockTimeouts       atomic.Int64
}

// New builds a Manager over store. Native tagging is used only when the
// store advertises it and implements repository.TagStore.
func New(store repository.Store, opts ...Option) *Manager {
	m := &Manager{
		store: store,
		caps:  store.Capabilities(),
		log:   logger.Nop(),
		now:   time.Now,
		ttls: TTLs{
			Diagnostic: 30 * time.Minute,
			Algorithm:  30 * time.Minute,
			Metrics:    time.Hour,
			Benchmark:  24 * time.Hour,
		},
		slowThreshold: 500 * time.Millisecond,
		lockTimeout:   10 * time.Second,
		lockPoll:      100 * time.Millisecond,
	}
	if m.caps.NativeTags {
		if ts, ok := store.(repository.TagStore); ok {
			m.tags = ts
		}
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// NativeTags reports whether invalidation uses the backend's tag support.
func (m *Manager) NativeTags() bool { return m.tags != nil }

// TTLs returns the configured category TTLs.
func (m *Manager) TTLs() TTLs { return m.ttls }

func (m *Manager) storeError(ctx context.Context, op, key string, err error) {
	m.storeErrors.Add(1)
	metrics.RecordCacheError(op)
	m.log.Warn(ctx, "cache store error, treating as miss",
		logger.String("op", op),
		logger.String("key", key),
		logger.Error(err),
	)
}

// lookup checks the scope then the shared store.
func (m *Manager) lookup(ctx context.Context, scope *Scope, key string) ([]byte, Tier, bool) {
	if v, ok := scope.Get(key); ok {
		m.scopeHits.Add(1)
		metrics.RecordCacheHit(metrics.TierScope)
		return v, TierScope, true
	}
	v, err := m.store.Get(ctx, key)
	switch {
	case err == nil:
		m.sharedHits.Add(1)
		metrics.RecordCacheHit(metrics.TierShared)
		scope.Put(key, v)
		return v, TierShared, true
	case !errors.Is(err, repository.ErrNotFound):
		m.storeError(ctx, "get", key, err)
	}
	return nil, "", false
}

// measure runs compute and reports slow computations.
func (m *Manager) measure(ctx context.Context, key string, compute ComputeFunc) ([]byte, error) {
	start := time.Now()
	v, err := compute(ctx)
	elapsed := time.Since(start)
	slow := elapsed > m.slowThreshold
	metrics.RecordCacheCompute(float64(elapsed.Milliseconds()), slow)
	if slow {
		m.slowComputes.Add(1)
		m.log.Warn(ctx, "slow cache computation",
			logger.String("key", key),
			logger.Int64("elapsed_ms", elapsed.Milliseconds()),
			logger.Int64("threshold_ms", m.slowThreshold.Milliseconds()),
		)
	}
	return v, err
}

// write stores v in the shared tier with its tags. Failures are logged only.
func (m *Manager) write(ctx context.Context, key string, v []byte, ttl time.Duration, tags []string) {
	var err error
	if m.tags != nil && len(tags) > 0 {
		err = m.tags.SetTagged(ctx, key, v, ttl, tags)
	} else {
		err = m.store.Set(ctx, key, v, ttl)
		if err == nil && len(tags) > 0 {
			m.registerTags(ctx, key, ttl, tags)
		}
	}
	if err != nil {
		m.storeError(ctx, "set", key, err)
	}
}

// Remember returns the value of key from the first tier that has it, or
// computes it and writes it through both tiers. Compute errors are returned
// and nothing is cached.
func (m *Manager) Remember(ctx context.Context, scope *Scope, key string, ttl time.Duration, tags []string, compute ComputeFunc) ([]byte, Tier, error) {
	if v, tier, ok := m.lookup(ctx, scope, key); ok {
		return v, tier, nil
	}
	m.misses.Add(1)
	metrics.RecordCacheMiss()

	v, err := m.measure(ctx, key, compute)
	if err != nil {
		return nil, TierComputed, err
	}
	scope.Put(key, v)
	m.write(ctx, key, v, ttl, tags)
	return v, TierComputed, nil
}

// RememberLocked is Remember with stampede protection on the miss path.
// Callers that waited for another holder get TierShared.
func (m *Manager) RememberLocked(ctx context.Context, scope *Scope, key string, ttl time.Duration, tags []string, compute ComputeFunc) ([]byte, Tier, error) {
	if v, tier, ok := m.lookup(ctx, scope, key); ok {
		return v, tier, nil
	}
	m.misses.Add(1)
	metrics.RecordCacheMiss()

	v, computed, err := m.atomicLock(ctx, key, m.lockTimeout, func(ctx context.Context) ([]byte, error) {
		v, err := m.measure(ctx, key, compute)
		if err != nil {
			return nil, err
		}
		m.write(ctx, key, v, ttl, tags)
		return v, nil
	})
	if err != nil {
		return nil, TierComputed, err
	}
	scope.Put(key, v)
	if computed {
		return v, TierComputed, nil
	}
	return v, TierShared, nil
}

// Forget removes key from both tiers.
func (m *Manager) Forget(ctx context.Context, scope *Scope, key string) error {
	scope.Forget(key)
	metrics.RecordCacheInvalidation("key")
	return m.store.Delete(ctx, key)
}

// RememberJSON is Remember for JSON-encoded values. A cached value that no
// longer decodes is dropped and recomputed once.
func RememberJSON[T any](ctx context.Context, m *Manager, scope *Scope, key string, ttl time.Duration, tags []string, locked bool, compute func(ctx context.Context) (T, error)) (T, Tier, error) {
	encode := func(ctx context.Context) ([]byte, error) {
		v, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(v)
	}
	remember := m.Remember
	if locked {
		remember = m.RememberLocked
	}

	var out T
	for attempt := 0; attempt < 2; attempt++ {
		b, tier, err := remember(ctx, scope, key, ttl, tags, encode)
		if err != nil {
			return out, tier, err
		}
		if err := json.Unmarshal(b, &out); err != nil {
			if tier == TierComputed {
				return out, tier, fmt.Errorf("decode %s: %w", key, err)
			}
			m.log.Warn(ctx, "cached value no longer decodes, recomputing", logger.String("key", key), logger.Error(err))
			_ = m.Forget(ctx, scope, key)
			continue
		}
		return out, tier, nil
	}
	return out, TierComputed, fmt.Errorf("decode %s: %w", key, ErrCorrupt)
}

// Entry locates a category value: its key, TTL, and tags.
type Entry struct {
	Key  string
	TTL  time.Duration
	Tags []string
}

// DiagnosticEntry is where a subject's aggregated result lives.
func (m *Manager) DiagnosticEntry(subject model.Subject) Entry {
	return Entry{
		Key:  DiagnosticKey(subject.ID, subject.Fingerprint()),
		TTL:  m.ttls.Diagnostic,
		Tags: []string{TagDiagnostic, SubjectTag(subject.ID)},
	}
}

// AlgorithmEntry is where one algorithm's result for a subject state lives.
func (m *Manager) AlgorithmEntry(name string, subject model.Subject) Entry {
	return Entry{
		Key:  AlgorithmKey(name, subject.ID, subject.Fingerprint()),
		TTL:  m.ttls.Algorithm,
		Tags: []string{TagAlgorithm, SubjectTag(subject.ID)},
	}
}

// Diagnostic caches a subject's aggregated result under its fingerprint key.
func (m *Manager) Diagnostic(ctx context.Context, scope *Scope, subject model.Subject, compute ComputeFunc) ([]byte, Tier, error) {
	e := m.DiagnosticEntry(subject)
	return m.RememberLocked(ctx, scope, e.Key, e.TTL, e.Tags, compute)
}

// Algorithm caches one algorithm's result for a subject state.
func (m *Manager) Algorithm(ctx context.Context, scope *Scope, name string, subject model.Subject, compute ComputeFunc) ([]byte, Tier, error) {
	e := m.AlgorithmEntry(name, subject)
	return m.RememberLocked(ctx, scope, e.Key, e.TTL, e.Tags, compute)
}

// Metrics caches a derived metrics block of a subject.
func (m *Manager) Metrics(ctx context.Context, scope *Scope, subjectID, typ string, compute ComputeFunc) ([]byte, Tier, error) {
	return m.Remember(ctx, scope, MetricsKey(subjectID, typ), m.ttls.Metrics, []string{TagMetrics, SubjectTag(subjectID)}, compute)
}

// Benchmark caches industry benchmark data. It carries no subject tag, so
// subject invalidation leaves it alone.
func (m *Manager) Benchmark(ctx context.Context, scope *Scope, industry string, compute ComputeFunc) ([]byte, Tier, error) {
	return m.Remember(ctx, scope, BenchmarkKey(industry), m.ttls.Benchmark, []string{TagBenchmark}, compute)
}

// Warm drops a subject's entries then recomputes its diagnostic.
func (m *Manager) Warm(ctx context.Context, subject model.Subject, compute ComputeFunc) error {
	if _, err := m.InvalidateSubject(ctx, subject.ID); err != nil {
		m.storeError(ctx, "warm", subject.ID, err)
	}
	scope := NewScope()
	defer scope.Clear()
	_, _, err := m.Diagnostic(ctx, scope, subject, compute)
	return err
}

// Stats returns a snapshot of the manager counters.
func (m *Manager) Stats() Stats {
	s := Stats{
		Backend:         m.caps.Backend,
		NativeTags:      m.NativeTags(),
		ScopeHits:       m.scopeHits.Load(),
		SharedHits:      m.sharedHits.Load(),
		Misses:          m.misses.Load(),
		StoreErrors:     m.storeErrors.Load(),
		SlowComputes:    m.slowComputes.Load(),
		LockWaits:       m.lockWaits.Load(),
		LockTimeouts:    m.lockTimeouts.Load(),
		SlowThresholdMS: m.slowThreshold.Milliseconds(),
		TTLs:            m.ttls,
	}
	if total := s.ScopeHits + s.SharedHits + s.Misses; total > 0 {
		s.HitRate = float64(s.ScopeHits+s.SharedHits) / float64(total)
	}
	return s
}
