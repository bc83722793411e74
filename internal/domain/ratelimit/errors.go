package ratelimit

import (
	"errors"
	"fmt"
	"time"
)

// ErrRateLimited is the kind every admission rejection unwraps to.
var ErrRateLimited = errors.New("rate limit exceeded")

// LimitError carries the retry hint for a rejected call.
type LimitError struct {
	Class      string
	Key        string
	RetryAfter time.Duration
	// Retries is set by RetryOnLimit when it gave up.
	Retries int
}

func (e *LimitError) Error() string {
	if e.Retries > 0 {
		return fmt.Sprintf("rate limit exceeded for %s after %d retries", e.Class, e.Retries)
	}
	return fmt.Sprintf("rate limit exceeded for %s, try again in %d seconds", e.Class, e.RetryAfterSeconds())
}

// Unwrap lets errors.Is(err, ErrRateLimited) match.
func (e *LimitError) Unwrap() error { return ErrRateLimited }

// RetryAfterSeconds rounds the hint up to whole seconds.
func (e *LimitError) RetryAfterSeconds() int {
	return ceilSeconds(e.RetryAfter)
}
