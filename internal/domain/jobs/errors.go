package jobs

import "errors"

var (
	ErrJobNotFound       = errors.New("job not found")
	ErrTerminal          = errors.New("job already finished")
	ErrInvalidTransition = errors.New("invalid job transition")
	ErrResultNotReady    = errors.New("job result not ready")
	ErrJobFailed         = errors.New("job failed")
	ErrQueueFull         = errors.New("job queue full")
	ErrInvalidSubject    = errors.New("subject id is required")
)
