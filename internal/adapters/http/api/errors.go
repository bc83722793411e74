package api

import (
	"errors"
	"net/http"

	"github.com/okian/pulse/internal/domain/diagnostic"
	"github.com/okian/pulse/internal/domain/jobs"
)

// Sentinel kinds for API errors.
var (
	ErrBadRequest   = errors.New("bad request")
	ErrBackpressure = errors.New("backpressure")
	ErrNotFound     = errors.New("not found")
)

// Error carries the operation that failed, its kind and the underlying cause.
type Error struct {
	Op   string
	Kind error
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil && e.Kind != nil:
		return e.Op + ": " + e.Kind.Error() + ": " + e.Err.Error()
	case e.Err != nil:
		return e.Op + ": " + e.Err.Error()
	case e.Kind != nil:
		return e.Op + ": " + e.Kind.Error()
	default:
		return e.Op
	}
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.Kind != nil {
		out = append(out, e.Kind)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// Wrap annotates err with op. Nil stays nil.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}

// NewKind returns an error of kind for op.
func NewKind(op string, kind error) error {
	return &Error{Op: op, Kind: kind}
}

// WrapKind annotates err with op and classifies it as kind.
func WrapKind(op string, kind, err error) error {
	return &Error{Op: op, Kind: kind, Err: err}
}

// classify maps an error to its HTTP status and response code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, diagnostic.ErrRateLimited):
		return http.StatusTooManyRequests, "rate_limited"
	case errors.Is(err, ErrBadRequest), errors.Is(err, jobs.ErrInvalidSubject):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, ErrNotFound),
		errors.Is(err, diagnostic.ErrSubjectNotFound),
		errors.Is(err, diagnostic.ErrUnknownAlgorithm),
		errors.Is(err, jobs.ErrJobNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, jobs.ErrJobFailed):
		return http.StatusConflict, "job_failed"
	case errors.Is(err, ErrBackpressure), errors.Is(err, jobs.ErrQueueFull):
		return http.StatusServiceUnavailable, "backpressure"
	case errors.Is(err, diagnostic.ErrAsyncDisabled):
		return http.StatusServiceUnavailable, "unavailable"
	case errors.Is(err, diagnostic.ErrCalculation):
		return http.StatusInternalServerError, "calculation_error"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
