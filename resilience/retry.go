package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// Default retry settings.
const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = time.Second
)

// Policy configures the retry behavior of an Executor.
type Policy struct {
	// MaxAttempts is the maximum number of attempts (including initial).
	// Default: 3
	MaxAttempts int

	// BaseDelay is the wait after the first failed attempt. It doubles
	// after every further failure.
	// Default: 1s
	BaseDelay time.Duration

	// MaxDelay caps a single wait. Zero leaves waits uncapped.
	MaxDelay time.Duration

	// Jitter adds up to 25% random time to each wait, still within MaxDelay.
	Jitter bool

	// IsTransient decides whether a failure is retried.
	// Default: IsTransient
	IsTransient func(err error) bool
}

// DefaultPolicy returns three attempts with a one second base delay and the
// default classifier.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
		IsTransient: IsTransient,
	}
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultBaseDelay
	}
	if p.MaxDelay < 0 {
		p.MaxDelay = 0
	}
	if p.IsTransient == nil {
		p.IsTransient = IsTransient
	}
	return p
}

// Delay returns the wait that follows failed attempt n (1-indexed), before
// jitter: BaseDelay * 2^(n-1), capped by MaxDelay when set.
func (p Policy) Delay(n int) time.Duration {
	p = p.withDefaults()
	if n < 1 {
		n = 1
	}

	delay := p.BaseDelay
	for i := 1; i < n; i++ {
		if delay > math.MaxInt64/2 {
			delay = math.MaxInt64
			break
		}
		delay *= 2
	}

	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay
}

func (p Policy) backoff(n int) time.Duration {
	delay := p.Delay(n)
	if p.Jitter && delay >= 4 && delay <= math.MaxInt64/5*4 {
		// #nosec G404 -- jitter is non-cryptographic timing variance.
		delay += time.Duration(rand.Int64N(int64(delay / 4)))
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay
}

// Waiter blocks for d or until ctx is done, returning the context cause in
// the latter case.
type Waiter func(ctx context.Context, d time.Duration) error

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return context.Cause(ctx)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return context.Cause(ctx)
	case <-timer.C:
		return nil
	}
}
