package cache

import (
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/jonwraymond/fetchcache/observe"
)

// Option configures a DiskStore or MemoryStore.
type Option func(*options)

type options struct {
	logger        observe.Logger
	meter         metric.Meter
	keyer         Keyer
	now           func() time.Time
	compressAbove int
}

func defaultOptions() options {
	return options{
		logger:        observe.NopLogger(),
		keyer:         NewDefaultKeyer(),
		now:           time.Now,
		compressAbove: DefaultCompressAbove,
	}
}

// WithLogger sets the event sink. Warnings about absorbed storage and decode
// failures are emitted here.
func WithLogger(l observe.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMeter records cache metrics on the given meter.
func WithMeter(m metric.Meter) Option {
	return func(o *options) { o.meter = m }
}

// WithKeyer replaces the default SHA-256 keyer.
func WithKeyer(k Keyer) Option {
	return func(o *options) {
		if k != nil {
			o.keyer = k
		}
	}
}

// WithClock replaces time.Now for creation stamps and freshness checks.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithCompressAbove sets the payload size above which records are
// zstd-compressed. A negative value disables compression. DiskStore only.
func WithCompressAbove(n int) Option {
	return func(o *options) { o.compressAbove = n }
}
