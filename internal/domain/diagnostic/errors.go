package diagnostic

import (
	"errors"
	"fmt"

	"github.com/okian/pulse/internal/domain/ratelimit"
)

var (
	// ErrRateLimited is the kind every RateLimitError unwraps to.
	ErrRateLimited      = ratelimit.ErrRateLimited
	ErrSubjectNotFound  = errors.New("subject not found")
	ErrUnknownAlgorithm = errors.New("unknown algorithm")
	ErrCalculation      = errors.New("diagnostic calculation failed")
	ErrAsyncDisabled    = errors.New("async diagnostics are not configured")
)

// RateLimitError is the structured rejection returned instead of a result.
type RateLimitError struct {
	Class             string `json:"class"`
	RetryAfterSeconds int    `json:"retry_after"`
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s, retry after %ds", e.Class, e.RetryAfterSeconds)
}

// Unwrap lets errors.Is(err, ErrRateLimited) match.
func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// fromLimit converts a limiter rejection, passing other errors through.
func fromLimit(err error) error {
	var le *ratelimit.LimitError
	if errors.As(err, &le) {
		return &RateLimitError{Class: le.Class, RetryAfterSeconds: max(1, le.RetryAfterSeconds())}
	}
	return err
}
