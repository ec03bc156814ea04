package observe

import (
	"context"
	"time"
)

// LoadFunc is the signature of a remote load.
type LoadFunc func(ctx context.Context) ([]byte, error)

// Middleware wraps remote loads with tracing, metrics and logging.
//
// Contract:
//   - Concurrency: Wrap returns a LoadFunc safe for concurrent use.
//   - Errors: errors from the wrapped function are recorded and returned unchanged.
type Middleware struct {
	tracer  Tracer
	metrics Metrics
	logger  Logger
}

// NewMiddleware creates a Middleware. Nil components are replaced by no-ops.
func NewMiddleware(tracer Tracer, metrics Metrics, logger Logger) *Middleware {
	if tracer == nil {
		tracer = NewTracer(nil)
	}
	if metrics == nil {
		metrics = NopMetrics()
	}
	if logger == nil {
		logger = NopLogger()
	}
	return &Middleware{tracer: tracer, metrics: metrics, logger: logger}
}

// MiddlewareFromObserver builds a Middleware from an Observer.
func MiddlewareFromObserver(obs Observer) (*Middleware, error) {
	metrics, err := NewMetrics(obs.Meter())
	if err != nil {
		return nil, err
	}
	return NewMiddleware(NewTracer(obs.Tracer()), metrics, obs.Logger()), nil
}

// Wrap instruments fn as one remote call of op.
func (m *Middleware) Wrap(op Operation, fn LoadFunc) LoadFunc {
	return func(ctx context.Context) ([]byte, error) {
		ctx, span := m.tracer.StartSpan(ctx, op)
		start := time.Now()

		data, err := fn(ctx)

		duration := time.Since(start)
		m.tracer.EndSpan(span, err)
		m.metrics.RecordOperation(ctx, op, duration, err)

		fields := []Field{
			{Key: "operation", Value: op.Name},
			{Key: "duration_ms", Value: float64(duration.Milliseconds())},
		}
		if err != nil {
			fields = append(fields, Field{Key: "error", Value: err.Error()})
			m.logger.Debug(ctx, "remote call failed", fields...)
		} else {
			fields = append(fields, Field{Key: "bytes", Value: len(data)})
			m.logger.Debug(ctx, "remote call completed", fields...)
		}

		return data, err
	}
}
