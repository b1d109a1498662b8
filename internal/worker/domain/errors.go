package domain

import "errors"

var (
	// ErrJobNotFound is returned when a job cannot be found in the database
	ErrJobNotFound = errors.New("job not found")

	// ErrJobAlreadyClaimed is returned when another worker already owns the job
	// or the job has already reached a terminal state
	ErrJobAlreadyClaimed = errors.New("job already claimed or not processing")

	// ErrInvalidStatus is returned when a status value outside the closed set
	// reaches the storage boundary
	ErrInvalidStatus = errors.New("invalid job status")
)

// RetryableError wraps transient errors that should trigger a requeue.
// Pipeline failures are terminal and are never wrapped in it.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return "retryable error: " + e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a new retryable error
func NewRetryableError(err error) error {
	return &RetryableError{Err: err}
}
