package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/jonwraymond/fetchcache/cache"
	"github.com/jonwraymond/fetchcache/observe"
	"github.com/jonwraymond/fetchcache/resilience"
	"github.com/jonwraymond/fetchcache/validate"
)

var (
	// ErrInvalidParams is returned when a request is missing required
	// parameters or its signature cannot be keyed. No remote call is made.
	ErrInvalidParams = errors.New("fetch: invalid parameters")

	// ErrExhausted is returned when every attempt failed transiently.
	// It wraps the last attempt's error.
	ErrExhausted = errors.New("fetch: retries exhausted")
)

// Request describes one remote call.
type Request struct {
	// Operation is the logical operation name, e.g. "daily".
	Operation string
	// Source optionally names the remote system for telemetry.
	Source string
	// Params are the call parameters. They form the cache key together
	// with Operation.
	Params map[string]any
	// Required lists the parameters that must be present.
	Required []string
	// Load performs the remote call.
	Load observe.LoadFunc
}

// Fetcher serves requests from a cache.Store and fills it on a miss.
//
// Contract:
// - Concurrency: safe for concurrent use.
// - Errors: cache failures are absorbed by the store; only invalid
// requests, fatal load errors, cancellation and exhaustion are returned.
// - Cancellation: concurrent misses for one key share a single load, but
// each caller waits under its own context. A caller whose shared load was
// canceled by another caller starts over.
type Fetcher struct {
	store     cache.Store
	keyer     cache.Keyer
	executor  *resilience.Executor
	policy    resilience.Policy
	limiter   *resilience.RateLimiter
	timeout   *resilience.Timeout
	validator *validate.Validator
	mw        *observe.Middleware
	logger    observe.Logger

	group singleflight.Group
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// New creates a Fetcher backed by store.
func New(store cache.Store, opts ...Option) *Fetcher {
	f := &Fetcher{
		store:  store,
		keyer:  cache.NewDefaultKeyer(),
		policy: resilience.DefaultPolicy(),
		logger: observe.NopLogger(),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.executor == nil {
		f.executor = resilience.NewExecutor(resilience.WithLogger(f.logger))
	}
	if f.validator == nil {
		f.validator = validate.NewValidator(f.logger)
	}
	if f.mw == nil {
		f.mw = observe.NewMiddleware(nil, nil, f.logger)
	}
	return f
}

// WithLogger sets the event sink for the fetcher and the default executor
// and validator.
func WithLogger(l observe.Logger) Option {
	return func(f *Fetcher) {
		if l != nil {
			f.logger = l
		}
	}
}

// WithKeyer sets the keyer used to collapse concurrent misses. It should
// match the store's keyer.
func WithKeyer(k cache.Keyer) Option {
	return func(f *Fetcher) {
		if k != nil {
			f.keyer = k
		}
	}
}

// WithExecutor replaces the default retry executor.
func WithExecutor(e *resilience.Executor) Option {
	return func(f *Fetcher) { f.executor = e }
}

// WithPolicy sets the retry policy applied to every load.
func WithPolicy(p resilience.Policy) Option {
	return func(f *Fetcher) { f.policy = p }
}

// WithRateLimiter paces every attempt through rl.
func WithRateLimiter(rl *resilience.RateLimiter) Option {
	return func(f *Fetcher) { f.limiter = rl }
}

// WithAttemptTimeout bounds each attempt. Zero disables the bound.
func WithAttemptTimeout(d time.Duration) Option {
	return func(f *Fetcher) {
		if d > 0 {
			f.timeout = resilience.NewTimeout(d)
		} else {
			f.timeout = nil
		}
	}
}

// WithValidator replaces the default parameter validator.
func WithValidator(v *validate.Validator) Option {
	return func(f *Fetcher) { f.validator = v }
}

// WithMiddleware instruments every attempt with tracing and metrics.
func WithMiddleware(m *observe.Middleware) Option {
	return func(f *Fetcher) { f.mw = m }
}

// Fetch returns the payload for req, from the cache when fresh.
func (f *Fetcher) Fetch(ctx context.Context, req Request) ([]byte, error) {
	if req.Load == nil {
		return nil, fmt.Errorf("%w: %s: no load function", ErrInvalidParams, req.Operation)
	}
	if !f.validator.Validate(ctx, req.Params, req.Required...) {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidParams, req.Operation,
			validate.Required(req.Params, req.Required...))
	}

	key, err := f.keyer.Key(req.Operation, req.Params)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidParams, err)
	}

	if data, ok := f.store.Get(ctx, req.Operation, req.Params); ok {
		f.logger.Debug(ctx, "cache hit", observe.Field{Key: "operation", Value: req.Operation})
		return data, nil
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, &resilience.CanceledError{Cause: context.Cause(ctx)}
		}

		ch := f.group.DoChan(key, func() (any, error) {
			// A flight that finished just before this one started may have
			// filled the entry.
			if data, ok := f.store.Get(ctx, req.Operation, req.Params); ok {
				return data, nil
			}
			return f.load(ctx, req, key)
		})

		var res singleflight.Result
		select {
		case <-ctx.Done():
			return nil, &resilience.CanceledError{Cause: context.Cause(ctx)}
		case res = <-ch:
		}

		if res.Err != nil {
			// The flight ran under another caller's context and that caller
			// went away. This caller is still live, so it joins or starts the
			// next flight.
			if res.Shared && errors.Is(res.Err, resilience.ErrCanceled) && ctx.Err() == nil {
				f.logger.Debug(ctx, "shared load canceled, rejoining",
					observe.Field{Key: "operation", Value: req.Operation})
				continue
			}
			return nil, res.Err
		}

		data := res.Val.([]byte)
		if res.Shared {
			data = bytes.Clone(data)
		}
		return data, nil
	}
}

func (f *Fetcher) load(ctx context.Context, req Request, key string) ([]byte, error) {
	call := f.mw.Wrap(observe.Operation{Name: req.Operation, Source: req.Source, Key: key}, req.Load)

	data, out, err := resilience.Call(ctx, f.executor, f.policy, func(ctx context.Context) ([]byte, error) {
		var data []byte
		attempt := func(ctx context.Context) error {
			d, err := call(ctx)
			data = d
			return err
		}
		if f.timeout != nil {
			attempt = f.timeout.Wrap(attempt)
		}
		if f.limiter != nil {
			attempt = f.limiter.Wrap(attempt)
		}
		if err := attempt(ctx); err != nil {
			return nil, err
		}
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	if out.Exhausted {
		return nil, fmt.Errorf("%w: %s after %d attempts: %w", ErrExhausted, req.Operation, out.Attempts, out.LastErr)
	}

	if data == nil {
		data = []byte{}
	}
	f.store.Set(ctx, req.Operation, req.Params, data)
	return data, nil
}

// Invalidate drops the cached payload for the signature.
func (f *Fetcher) Invalidate(ctx context.Context, operation string, params map[string]any) bool {
	return f.store.Delete(ctx, operation, params)
}

// FetchValue fetches req and JSON-decodes the payload into T. A cached
// payload that does not decode is dropped before the error is returned.
func FetchValue[T any](ctx context.Context, f *Fetcher, req Request) (T, error) {
	var v T

	data, err := f.Fetch(ctx, req)
	if err != nil {
		return v, err
	}
	if err := json.Unmarshal(data, &v); err != nil {
		f.store.Delete(ctx, req.Operation, req.Params)
		var zero T
		return zero, fmt.Errorf("fetch: decode %s: %w", req.Operation, err)
	}
	return v, nil
}

// LoadJSON adapts a typed remote call to a LoadFunc by JSON-encoding its
// result.
func LoadJSON[T any](fn func(ctx context.Context) (T, error)) observe.LoadFunc {
	return func(ctx context.Context) ([]byte, error) {
		v, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(v)
		if err != nil {
			return nil, resilience.MarkFatal(fmt.Errorf("fetch: encode result: %w", err))
		}
		return data, nil
	}
}
