package loadtest

import (
	"errors"
	"fmt"
)

// Verify checks the report against the system's guarantees. limit is the
// per-subject admission limit of the diagnostic class in the burst window.
func Verify(rep *Report, limit int) error {
	var errs []error

	if got := rep.Fresh + rep.Cached + rep.RateLimited + rep.Failed + rep.Pending; got != rep.Requests {
		errs = append(errs, fmt.Errorf("outcomes add up to %d, want %d", got, rep.Requests))
	}
	if limit > 0 && rep.Subjects > 0 {
		perSubject := rep.Requests / rep.Subjects
		if want := max(0, perSubject-limit) * rep.Subjects; rep.RateLimited < want {
			errs = append(errs, fmt.Errorf("rate limited %d calls, want at least %d", rep.RateLimited, want))
		}
	}
	// Without mutations each subject state is computed once; concurrent
	// callers wait on the lock instead of recomputing.
	if rep.Mutations == 0 && !rep.Async {
		for id, n := range rep.FreshBySubject {
			if n > 1 {
				errs = append(errs, fmt.Errorf("subject %s computed %d times for one state", id, n))
			}
		}
	}
	if rep.Failed > 0 {
		errs = append(errs, fmt.Errorf("%d calls failed", rep.Failed))
	}
	return errors.Join(errs...)
}
