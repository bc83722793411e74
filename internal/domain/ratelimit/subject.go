package ratelimit

import (
	"context"
	"time"
)

// Admit records an attempt and returns a *LimitError when it is rejected.
func (l *Limiter) Admit(ctx context.Context, subjectKey, class string) error {
	if l.Attempt(ctx, subjectKey, class) {
		return nil
	}
	name, _ := l.resolve(class)
	return &LimitError{Class: name, Key: subjectKey, RetryAfter: l.AvailableIn(ctx, subjectKey, class)}
}

// Subject is a limiter bound to one subject key.
type Subject struct {
	l   *Limiter
	key string
}

// ForSubject binds the limiter to a subject id.
func (l *Limiter) ForSubject(subjectID string) Subject {
	return Subject{l: l, key: SubjectKey(subjectID)}
}

// Key returns the bound subject key.
func (s Subject) Key() string { return s.key }

func (s Subject) Attempt(ctx context.Context, class string) bool {
	return s.l.Attempt(ctx, s.key, class)
}

func (s Subject) Admit(ctx context.Context, class string) error {
	return s.l.Admit(ctx, s.key, class)
}

func (s Subject) Remaining(ctx context.Context, class string) int {
	return s.l.Remaining(ctx, s.key, class)
}

func (s Subject) AvailableIn(ctx context.Context, class string) time.Duration {
	return s.l.AvailableIn(ctx, s.key, class)
}

func (s Subject) Reset(ctx context.Context, class string) error {
	return s.l.Reset(ctx, s.key, class)
}

func (s Subject) Stats(ctx context.Context, class string) Stats {
	return s.l.Stats(ctx, s.key, class)
}
