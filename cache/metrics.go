package cache

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

type storeMetrics struct {
	attrs       metric.MeasurementOption
	hits        metric.Int64Counter
	misses      metric.Int64Counter
	expired     metric.Int64Counter
	corrupt     metric.Int64Counter
	writes      metric.Int64Counter
	writeErrors metric.Int64Counter
	removed     metric.Int64Counter
}

func newStoreMetrics(meter metric.Meter, store string) *storeMetrics {
	if meter == nil {
		meter = noop.NewMeterProvider().Meter("noop")
	}

	m, err := buildStoreMetrics(meter, store)
	if err != nil {
		// Instrument registration only fails on invalid names; fall back to no-ops.
		m, _ = buildStoreMetrics(noop.NewMeterProvider().Meter("noop"), store)
	}
	return m
}

func buildStoreMetrics(meter metric.Meter, store string) (*storeMetrics, error) {
	m := &storeMetrics{
		attrs: metric.WithAttributes(attribute.String("cache.store", store)),
	}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.hits, "cache.hits", "Cache lookups that returned a payload"},
		{&m.misses, "cache.misses", "Cache lookups that returned nothing"},
		{&m.expired, "cache.expired", "Entries found expired on read"},
		{&m.corrupt, "cache.corrupt", "Entries that failed to decode"},
		{&m.writes, "cache.writes", "Successful cache writes"},
		{&m.writeErrors, "cache.write_errors", "Cache writes that failed and were absorbed"},
		{&m.removed, "cache.removed", "Entries removed by Clear, ClearExpired or Delete"},
	}
	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name, metric.WithDescription(c.desc), metric.WithUnit("{entry}"))
		if err != nil {
			return nil, err
		}
		*c.dst = counter
	}
	return m, nil
}

func (m *storeMetrics) add(ctx context.Context, c metric.Int64Counter, n int) {
	if n > 0 {
		c.Add(ctx, int64(n), m.attrs)
	}
}
