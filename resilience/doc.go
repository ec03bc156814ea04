// Package resilience runs remote calls under a bounded retry policy.
//
// An Executor invokes an operation, classifies each failure as transient or
// fatal and waits with exponential backoff between transient failures. Fatal
// errors are returned unmodified after a single attempt. When every attempt
// fails transiently the Executor reports an exhausted Outcome instead of an
// error, so callers must check Outcome.Exhausted.
//
// # Classification
//
// IsTransient is the default classifier. Callers can force a decision with
// MarkTransient and MarkFatal, or supply their own predicate on the Policy.
//
// # Backoff
//
// The wait after failed attempt n is BaseDelay * 2^(n-1): with the default
// one second base delay the waits are 1s, 2s, 4s. MaxDelay caps a wait and
// Jitter adds up to a quarter of it.
//
// # Cancellation
//
// The caller's context is checked before every attempt and during every
// wait. A canceled execution returns a *CanceledError that matches both
// ErrCanceled and the context cause.
//
// # Usage
//
//	exec := resilience.NewExecutor(resilience.WithLogger(logger))
//
//	rows, out, err := resilience.Call(ctx, exec, resilience.DefaultPolicy(),
//	    func(ctx context.Context) ([]Row, error) {
//	        return client.Daily(ctx, "000001.SZ")
//	    })
//	if err != nil {
//	    return err // fatal or canceled
//	}
//	if out.Exhausted {
//	    return fallback()
//	}
//
// Timeout and RateLimiter bound and pace individual attempts and compose with
// the Executor through their Wrap methods.
package resilience
