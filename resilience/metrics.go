package resilience

import (
	"context"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

type retryMetrics struct {
	attempts  metric.Int64Counter
	retries   metric.Int64Counter
	exhausted metric.Int64Counter
	fatal     metric.Int64Counter
}

func newRetryMetrics(meter metric.Meter) *retryMetrics {
	if meter == nil {
		meter = noop.NewMeterProvider().Meter("noop")
	}

	m, err := buildRetryMetrics(meter)
	if err != nil {
		m, _ = buildRetryMetrics(noop.NewMeterProvider().Meter("noop"))
	}
	return m
}

func buildRetryMetrics(meter metric.Meter) (*retryMetrics, error) {
	m := &retryMetrics{}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.attempts, "retry.attempts", "Operation invocations"},
		{&m.retries, "retry.retries", "Backoff waits scheduled after a transient failure"},
		{&m.exhausted, "retry.exhausted", "Executions that ran out of attempts"},
		{&m.fatal, "retry.fatal", "Executions stopped by a fatal error"},
	}
	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name, metric.WithDescription(c.desc), metric.WithUnit("{call}"))
		if err != nil {
			return nil, err
		}
		*c.dst = counter
	}
	return m, nil
}

func (m *retryMetrics) inc(ctx context.Context, c metric.Int64Counter) {
	c.Add(ctx, 1)
}
