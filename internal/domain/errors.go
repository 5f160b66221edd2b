package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrJobNotFound is returned when a job cannot be found in the database
	ErrJobNotFound = errors.New("job not found")

	// ErrTransitionConflict is returned when a conditional update affected no rows
	// because the job is no longer in the expected status
	ErrTransitionConflict = errors.New("job not in expected status")

	// ErrInvalidTransition is returned for a transition missing from the table
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrDuplicateAdmission is returned when a non-failed job already exists for the
	// same subject, type and content window
	ErrDuplicateAdmission = errors.New("job already admitted for this window")

	// ErrQuotaExceeded is returned when a metered subject reached its monthly limit
	ErrQuotaExceeded = errors.New("monthly quota exceeded")

	// ErrInvalidMessage is returned when a queue message is malformed
	ErrInvalidMessage = errors.New("invalid queue message")

	// ErrNoContent is returned when the assembled bundle has nothing to narrate
	ErrNoContent = errors.New("no content for window")

	// ErrJobFailed is returned by a stage after it moved the job to failed.
	// The message that carried the job is settled and must not be requeued.
	ErrJobFailed = errors.New("job failed")

	// ErrNotRegenerable is returned when regeneration is requested for a job
	// that has not failed
	ErrNotRegenerable = errors.New("only failed jobs can be regenerated")
)

// RetryableError wraps transient errors that are worth another attempt
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

// IsRetryable reports whether err, or anything it wraps, is a RetryableError.
func IsRetryable(err error) bool {
	var retryable *RetryableError
	return errors.As(err, &retryable)
}

// GenerationError marks malformed or empty output from a generation capability.
// It is never retried.
type GenerationError struct {
	Capability string
	Reason     string
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("%s generation: %s", e.Capability, e.Reason)
}

// NewGenerationError creates a new generation error
func NewGenerationError(capability, format string, args ...any) error {
	return &GenerationError{Capability: capability, Reason: fmt.Sprintf(format, args...)}
}
