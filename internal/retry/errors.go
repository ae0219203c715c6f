package retry

import (
	"errors"
	"fmt"
)

// RetryableError wraps a failure that the job target considers transient.
// Only errors wrapped with Transient will be routed through the retry
// policy; any other error is treated as permanent.
//
// Use for: network timeouts, connection loss, temporary locks, rate
// limits. Don't use for: validation errors, business-logic failures.
type RetryableError struct {
	Err error
}

func (e RetryableError) Error() string { return e.Err.Error() }
func (e RetryableError) Unwrap() error { return e.Err }

// Transient wraps err to signal it should be retried per the job's
// RetryBehavior.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return RetryableError{Err: err}
}

// IsRetryable reports whether err was wrapped with Transient.
func IsRetryable(err error) bool {
	var retryable RetryableError
	return errors.As(err, &retryable)
}

// PanicError records a panic recovered during job invocation. Panics are
// always treated as permanent failures, regardless of the job's
// RetryBehavior.
type PanicError struct {
	Value      any
	StackTrace string
}

func (e PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// IsPanic reports whether err was produced by a recovered panic.
func IsPanic(err error) bool {
	var panicErr PanicError
	return errors.As(err, &panicErr)
}

// JobCancelled signals that a job should be permanently failed without
// consuming a retry, because a target determined the work is no longer
// meaningful (e.g. its dependency was removed).
type JobCancelled struct {
	Reason string
}

func (e JobCancelled) Error() string {
	return fmt.Sprintf("job cancelled: %s", e.Reason)
}

// IsJobCancelled reports whether err indicates intentional cancellation.
func IsJobCancelled(err error) bool {
	var cancelled JobCancelled
	return errors.As(err, &cancelled)
}

// SerializationError marks an invocation descriptor that could not be
// deserialized. Always terminal: the bytes are broken and a retry cannot
// help.
type SerializationError struct {
	Err error
}

func (e SerializationError) Error() string { return "deserialize invocation: " + e.Err.Error() }
func (e SerializationError) Unwrap() error { return e.Err }
