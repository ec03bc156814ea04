package resilience

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/jonwraymond/fetchcache/observe"
)

// Outcome describes how an execution settled.
type Outcome struct {
	// Attempts is the number of times the operation was invoked.
	Attempts int
	// Exhausted is set when every attempt failed transiently. The error
	// returned alongside an exhausted Outcome is nil.
	Exhausted bool
	// LastErr is the error from the final attempt, nil on success.
	LastErr error
	// Delays are the backoff waits that were started, in order.
	Delays []time.Duration
}

// Executor runs operations under a retry Policy.
//
// Contract:
// - Concurrency: safe for concurrent use; a wait blocks only its caller.
// - Errors: fatal errors are returned unmodified; cancellation returns a
// *CanceledError; exhaustion is reported through Outcome, not an error.
type Executor struct {
	logger  observe.Logger
	metrics *retryMetrics
	wait    Waiter
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// NewExecutor creates a new retry executor.
func NewExecutor(opts ...ExecutorOption) *Executor {
	e := &Executor{
		logger: observe.NopLogger(),
		wait:   sleep,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.metrics == nil {
		e.metrics = newRetryMetrics(nil)
	}
	return e
}

// WithLogger sets the sink for attempt, backoff and failure events.
func WithLogger(l observe.Logger) ExecutorOption {
	return func(e *Executor) {
		if l != nil {
			e.logger = l.With(observe.Field{Key: "component", Value: "retry"})
		}
	}
}

// WithMeter records retry metrics on the given meter.
func WithMeter(m metric.Meter) ExecutorOption {
	return func(e *Executor) {
		e.metrics = newRetryMetrics(m)
	}
}

// WithWaiter replaces the timer-based wait between attempts.
func WithWaiter(w Waiter) ExecutorOption {
	return func(e *Executor) {
		if w != nil {
			e.wait = w
		}
	}
}

// Execute runs op until it succeeds, fails fatally, runs out of attempts or
// ctx ends. The context is checked before each attempt and during each wait.
func (e *Executor) Execute(ctx context.Context, policy Policy, op func(context.Context) error) (Outcome, error) {
	p := policy.withDefaults()
	var out Outcome

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return out, e.canceled(ctx, out, context.Cause(ctx))
		}

		out.Attempts = attempt
		e.metrics.inc(ctx, e.metrics.attempts)
		e.logger.Debug(ctx, "attempt started",
			observe.Field{Key: "attempt", Value: attempt},
			observe.Field{Key: "max_attempts", Value: p.MaxAttempts},
		)

		err := op(ctx)
		out.LastErr = err
		if err == nil {
			return out, nil
		}

		if ctx.Err() != nil {
			return out, e.canceled(ctx, out, context.Cause(ctx))
		}

		if !p.IsTransient(err) {
			e.metrics.inc(ctx, e.metrics.fatal)
			e.logger.Error(ctx, "operation failed",
				observe.Field{Key: "attempt", Value: attempt},
				observe.Field{Key: "error", Value: Describe(err)},
			)
			return out, err
		}

		e.logger.Warn(ctx, "transient failure",
			observe.Field{Key: "attempt", Value: attempt},
			observe.Field{Key: "max_attempts", Value: p.MaxAttempts},
			observe.Field{Key: "error", Value: Describe(err)},
		)
		if attempt == p.MaxAttempts {
			break
		}

		delay := p.backoff(attempt)
		out.Delays = append(out.Delays, delay)
		e.metrics.inc(ctx, e.metrics.retries)
		e.logger.Info(ctx, "backing off",
			observe.Field{Key: "attempt", Value: attempt},
			observe.Field{Key: "delay", Value: delay.String()},
			observe.Field{Key: "error", Value: Describe(err)},
		)

		if werr := e.wait(ctx, delay); werr != nil {
			return out, e.canceled(ctx, out, werr)
		}
	}

	out.Exhausted = true
	e.metrics.inc(ctx, e.metrics.exhausted)
	e.logger.Error(ctx, "retries exhausted",
		observe.Field{Key: "attempts", Value: out.Attempts},
		observe.Field{Key: "error", Value: Describe(out.LastErr)},
	)
	return out, nil
}

func (e *Executor) canceled(ctx context.Context, out Outcome, cause error) error {
	err := &CanceledError{Attempts: out.Attempts, Cause: cause}
	e.logger.Warn(context.WithoutCancel(ctx), "execution canceled",
		observe.Field{Key: "attempts", Value: out.Attempts},
		observe.Field{Key: "error", Value: cause},
	)
	return err
}

// Call runs op like Execute and returns its value. The zero value is
// returned when the outcome is exhausted or an error is returned.
func Call[T any](ctx context.Context, e *Executor, policy Policy, op func(context.Context) (T, error)) (T, Outcome, error) {
	if e == nil {
		e = NewExecutor()
	}

	var result T
	out, err := e.Execute(ctx, policy, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	if err != nil || out.Exhausted {
		var zero T
		return zero, out, err
	}
	return result, out, nil
}
