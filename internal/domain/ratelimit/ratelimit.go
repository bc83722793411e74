// Package ratelimit implements sliding-window admission control per
// (subject key, operation class) on top of the shared store.
package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/okian/pulse/internal/adapters/repository"
	"github.com/okian/pulse/pkg/logger"
	"github.com/okian/pulse/pkg/metrics"
)

// Operation classes.
const (
	ClassDiagnostic = "diagnostic"
	ClassAlgorithm  = "algorithm"
	ClassBatch      = "batch"
	ClassGlobal     = "global"
)

// KeyPrefix namespaces limiter windows in the shared store.
const KeyPrefix = "rate_limit:"

// Class is the (maxRequests, window) pair of one operation class.
type Class struct {
	Requests int
	Window   time.Duration
}

// Stats is a point-in-time view of one window.
type Stats struct {
	Key                string `json:"key"`
	Class              string `json:"class"`
	Limit              int    `json:"limit"`
	WindowSeconds      int    `json:"window_seconds"`
	Current            int    `json:"current"`
	Remaining          int    `json:"remaining"`
	AvailableInSeconds int    `json:"available_in_seconds"`
}

// Limiter is safe for concurrent use. Every read-prune-append runs inside a
// single Store.Update so concurrent attempts on one key never double count.
type Limiter struct {
	store        repository.Store
	now          func() time.Time
	log          logger.Logger
	maxRetryWait time.Duration

	mu      sync.RWMutex
	classes map[string]Class
}

// New builds a Limiter. classes must contain ClassDiagnostic, which is the
// fallback for unknown classes.
func New(store repository.Store, classes map[string]Class, opts ...Option) *Limiter {
	l := &Limiter{
		store:        store,
		now:          time.Now,
		log:          logger.Nop(),
		maxRetryWait: 10 * time.Second,
		classes:      make(map[string]Class, len(classes)),
	}
	for name, c := range classes {
		l.classes[name] = c
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Key builds the store key of a window.
func Key(class, subjectKey string) string {
	return KeyPrefix + class + ":" + subjectKey
}

// SubjectKey scopes a limiter key to a subject.
func SubjectKey(subjectID string) string {
	return "subject:" + subjectID
}

// ClientKey scopes a limiter key to a calling client.
func ClientKey(client string) string {
	return "client:" + client
}

// resolve returns the effective class name and limits.
func (l *Limiter) resolve(class string) (string, Class) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if c, ok := l.classes[class]; ok {
		return class, c
	}
	return ClassDiagnostic, l.classes[ClassDiagnostic]
}

// Configure replaces the limits of a class. Zero fields inherit from the
// current class or, for a new class, from the diagnostic class.
func (l *Limiter) Configure(class string, c Class) {
	l.mu.Lock()
	defer l.mu.Unlock()
	base, ok := l.classes[class]
	if !ok {
		base = l.classes[ClassDiagnostic]
	}
	if c.Requests > 0 {
		base.Requests = c.Requests
	}
	if c.Window > 0 {
		base.Window = c.Window
	}
	l.classes[class] = base
}

func decode(b []byte) []int64 {
	if len(b) == 0 {
		return nil
	}
	var ts []int64
	if err := json.Unmarshal(b, &ts); err != nil {
		// A corrupt window is dropped rather than blocking the key forever.
		return nil
	}
	return ts
}

// prune keeps timestamps strictly inside (now-window, now].
func prune(ts []int64, now time.Time, window time.Duration) []int64 {
	cutoff := now.Add(-window).UnixNano()
	out := ts[:0]
	for _, t := range ts {
		if t > cutoff {
			out = append(out, t)
		}
	}
	return out
}

func (l *Limiter) failOpen(ctx context.Context, op, class, subjectKey string, err error) {
	metrics.RecordRateLimitFailOpen(class)
	l.log.Warn(ctx, "rate limiter backend failed, allowing request",
		logger.String("op", op),
		logger.String("class", class),
		logger.String("key", subjectKey),
		logger.Error(err),
	)
}

// Attempt admits one call, recording it when allowed. Rejected calls are not recorded.
func (l *Limiter) Attempt(ctx context.Context, subjectKey, class string) bool {
	name, c := l.resolve(class)
	now := l.now()
	allowed := false
	current := 0

	err := l.store.Update(ctx, Key(name, subjectKey), func(cur []byte, _ bool) ([]byte, time.Duration, error) {
		ts := prune(decode(cur), now, c.Window)
		current = len(ts)
		if current >= c.Requests {
			allowed = false
			return nil, 0, nil
		}
		allowed = true
		b, err := json.Marshal(append(ts, now.UnixNano()))
		if err != nil {
			return nil, 0, err
		}
		return b, 2 * c.Window, nil
	})
	if err != nil {
		l.failOpen(ctx, "attempt", name, subjectKey, err)
		metrics.RecordRateLimitDecision(name, true)
		return true
	}

	metrics.RecordRateLimitDecision(name, allowed)
	if !allowed {
		l.log.Warn(ctx, "rate limit exceeded",
			logger.String("key", subjectKey),
			logger.String("class", name),
			logger.Int("current", current),
			logger.Int("limit", c.Requests),
		)
	}
	return allowed
}

// window reads the pruned timestamps without mutating the store.
func (l *Limiter) window(ctx context.Context, subjectKey, class string) (string, Class, []int64, error) {
	name, c := l.resolve(class)
	b, err := l.store.Get(ctx, Key(name, subjectKey))
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return name, c, nil, err
	}
	return name, c, prune(decode(b), l.now(), c.Window), nil
}

// Check reports whether a call would be admitted, without recording it.
func (l *Limiter) Check(ctx context.Context, subjectKey, class string) bool {
	name, c, ts, err := l.window(ctx, subjectKey, class)
	if err != nil {
		l.failOpen(ctx, "check", name, subjectKey, err)
		return true
	}
	return len(ts) < c.Requests
}

// Remaining returns how many calls are still admitted in the current window.
func (l *Limiter) Remaining(ctx context.Context, subjectKey, class string) int {
	name, c, ts, err := l.window(ctx, subjectKey, class)
	if err != nil {
		l.failOpen(ctx, "remaining", name, subjectKey, err)
		return c.Requests
	}
	return max(0, c.Requests-len(ts))
}

// AvailableIn returns when the oldest surviving timestamp leaves the window.
// An empty window yields zero.
func (l *Limiter) AvailableIn(ctx context.Context, subjectKey, class string) time.Duration {
	name, c, ts, err := l.window(ctx, subjectKey, class)
	if err != nil {
		l.failOpen(ctx, "available_in", name, subjectKey, err)
		return 0
	}
	return availableIn(ts, l.now(), c.Window)
}

func availableIn(ts []int64, now time.Time, window time.Duration) time.Duration {
	if len(ts) == 0 {
		return 0
	}
	oldest := ts[0]
	for _, t := range ts[1:] {
		if t < oldest {
			oldest = t
		}
	}
	d := time.Unix(0, oldest).Add(window).Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// Throttle runs fn only when the call is admitted. A rejected call returns a
// *LimitError carrying the retry hint.
func (l *Limiter) Throttle(ctx context.Context, subjectKey, class string, fn func(context.Context) error) error {
	if !l.Attempt(ctx, subjectKey, class) {
		name, _ := l.resolve(class)
		return &LimitError{Class: name, Key: subjectKey, RetryAfter: l.AvailableIn(ctx, subjectKey, class)}
	}
	return fn(ctx)
}

// RetryOnLimit attempts up to maxRetries times, sleeping min(availableIn+1s, maxRetryWait)
// between rejections. It returns ctx.Err() if the context ends while waiting.
func (l *Limiter) RetryOnLimit(ctx context.Context, subjectKey, class string, maxRetries int, fn func(context.Context) error) error {
	if maxRetries <= 0 {
		maxRetries = 1
	}
	name, _ := l.resolve(class)
	for retries := 1; ; retries++ {
		if l.Attempt(ctx, subjectKey, class) {
			return fn(ctx)
		}
		if retries >= maxRetries {
			return &LimitError{Class: name, Key: subjectKey, RetryAfter: l.AvailableIn(ctx, subjectKey, class), Retries: retries}
		}

		wait := min(l.AvailableIn(ctx, subjectKey, class)+time.Second, l.maxRetryWait)
		l.log.Info(ctx, "rate limited, waiting to retry",
			logger.String("key", subjectKey),
			logger.String("class", name),
			logger.Int("retry", retries),
			logger.Duration("wait", wait),
		)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Reset clears the window of one key.
func (l *Limiter) Reset(ctx context.Context, subjectKey, class string) error {
	name, _ := l.resolve(class)
	return l.store.Delete(ctx, Key(name, subjectKey))
}

// ResetAll clears every window of a class and returns how many were removed.
func (l *Limiter) ResetAll(ctx context.Context, class string) (int, error) {
	name, _ := l.resolve(class)
	keys, err := l.store.Keys(ctx, KeyPrefix+name+":")
	if err != nil {
		return 0, err
	}
	if err := l.store.Delete(ctx, keys...); err != nil {
		return 0, err
	}
	return len(keys), nil
}

// Stats reports the window of one key.
func (l *Limiter) Stats(ctx context.Context, subjectKey, class string) Stats {
	name, c, ts, err := l.window(ctx, subjectKey, class)
	if err != nil {
		l.failOpen(ctx, "stats", name, subjectKey, err)
		ts = nil
	}
	return Stats{
		Key:                subjectKey,
		Class:              name,
		Limit:              c.Requests,
		WindowSeconds:      int(c.Window / time.Second),
		Current:            len(ts),
		Remaining:          max(0, c.Requests-len(ts)),
		AvailableInSeconds: ceilSeconds(availableIn(ts, l.now(), c.Window)),
	}
}

func ceilSeconds(d time.Duration) int {
	return int(math.Ceil(d.Seconds()))
}
