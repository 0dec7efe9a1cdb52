package matching

import (
	"errors"
	"fmt"
)

var (
	// ErrScoringUnavailable is returned when the external scoring capability
	// failed, timed out or produced unusable output. Callers fall back.
	ErrScoringUnavailable = errors.New("scoring unavailable")
	// ErrProfileNotFound is fatal for a single search or scoring run.
	ErrProfileNotFound = errors.New("candidate profile not found")
	// ErrJobNotFound is returned when a job is missing.
	ErrJobNotFound = errors.New("job not found")
	// ErrApplicationNotFound is returned when an application is missing.
	ErrApplicationNotFound = errors.New("application not found")
	// ErrTaskTerminal marks a task that exhausted its attempt budget.
	ErrTaskTerminal = errors.New("task failed terminally")
)

// RetryableError wraps a transient failure that is worth another attempt.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("retryable: %v", e.Err)
}

func (e *RetryableError) Unwrap() error { return e.Err }

// Retryable wraps err so that IsRetryable reports true. A nil err stays nil.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

// IsRetryable reports whether err carries a RetryableError.
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}
