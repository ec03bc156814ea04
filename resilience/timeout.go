package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultTimeout is used by NewTimeout when d is not positive.
const DefaultTimeout = 30 * time.Second

// Timeout bounds a single attempt of a remote call.
type Timeout struct {
	d time.Duration
}

// NewTimeout creates a new timeout wrapper.
func NewTimeout(d time.Duration) *Timeout {
	if d <= 0 {
		d = DefaultTimeout
	}
	return &Timeout{d: d}
}

// Duration returns the configured limit.
func (t *Timeout) Duration() time.Duration { return t.d }

// Execute runs op with a deadline. When the deadline passes first the result
// wraps ErrTimeout, which the default classifier treats as transient. An op
// that ignores its context keeps running in the background.
func (t *Timeout) Execute(ctx context.Context, op func(context.Context) error) error {
	ctx, cancel := context.WithTimeoutCause(ctx, t.d, ErrTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- op(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		cause := context.Cause(ctx)
		if errors.Is(cause, ErrTimeout) {
			return fmt.Errorf("%w after %s", ErrTimeout, t.d)
		}
		return cause
	}
}

// Wrap returns op bounded by t.
func (t *Timeout) Wrap(op func(context.Context) error) func(context.Context) error {
	return func(ctx context.Context) error {
		return t.Execute(ctx, op)
	}
}

// ExecuteWithTimeout is a convenience function to run an operation with timeout.
func ExecuteWithTimeout(ctx context.Context, d time.Duration, op func(context.Context) error) error {
	return NewTimeout(d).Execute(ctx, op)
}
