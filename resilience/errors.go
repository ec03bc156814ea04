package resilience

import (
	"errors"
	"fmt"
)

// Sentinel errors for resilience operations.
var (
	// ErrCanceled is matched by every error returned when the caller's
	// context ends before the operation settles.
	ErrCanceled = errors.New("resilience: operation canceled")

	// ErrTimeout is returned when an attempt exceeds its time limit.
	ErrTimeout = errors.New("resilience: operation timed out")

	// ErrRateLimitExceeded is returned when the rate limit is exceeded.
	ErrRateLimitExceeded = errors.New("resilience: rate limit exceeded")
)

// CanceledError reports that the caller's context ended during an attempt or
// a backoff wait. It matches ErrCanceled and the context cause.
type CanceledError struct {
	// Attempts is the number of times the operation had been invoked.
	Attempts int
	// Cause is the context cause, usually context.Canceled or
	// context.DeadlineExceeded.
	Cause error
}

func (e *CanceledError) Error() string {
	return fmt.Sprintf("resilience: canceled after %d attempt(s): %v", e.Attempts, e.Cause)
}

func (e *CanceledError) Unwrap() []error {
	return []error{ErrCanceled, e.Cause}
}

// TransientError marks an error as retryable regardless of its message.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// FatalError marks an error as not retryable regardless of its message.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string { return e.Err.Error() }
func (e *FatalError) Unwrap() error { return e.Err }

// MarkTransient wraps err so the default classifier retries it.
// A nil err stays nil.
func MarkTransient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// MarkFatal wraps err so the default classifier never retries it.
// A nil err stays nil.
func MarkFatal(err error) error {
	if err == nil {
		return nil
	}
	return &FatalError{Err: err}
}

// Describe formats err as "<type>: <message>" for event fields.
// Classification markers are looked through.
func Describe(err error) string {
	if err == nil {
		return ""
	}
	inner := err
	for {
		if t, ok := inner.(*TransientError); ok {
			inner = t.Err
		} else if f, ok := inner.(*FatalError); ok {
			inner = f.Err
		} else {
			break
		}
	}
	return fmt.Sprintf("%T: %s", inner, err.Error())
}
