package runner

import (
	"errors"
	"fmt"
)

// Sentinel kinds for runner errors.
var (
	ErrTimeout = errors.New("computation timed out")
	ErrPanic   = errors.New("computation panicked")
)

func panicError(r any) error {
	return fmt.Errorf("%w: %v", ErrPanic, r)
}
