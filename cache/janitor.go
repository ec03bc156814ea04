package cache

import (
	"context"
	"time"

	"github.com/jonwraymond/fetchcache/observe"
)

// DefaultSweepInterval is used by NewJanitor when every is not positive.
const DefaultSweepInterval = time.Hour

// Janitor periodically removes expired entries from a Store.
type Janitor struct {
	store  Store
	every  time.Duration
	logger observe.Logger
}

// NewJanitor creates a janitor sweeping store every interval.
func NewJanitor(store Store, every time.Duration, logger observe.Logger) *Janitor {
	if every <= 0 {
		every = DefaultSweepInterval
	}
	if logger == nil {
		logger = observe.NopLogger()
	}
	return &Janitor{store: store, every: every, logger: logger}
}

// Run sweeps once immediately and then on every tick until ctx is done.
// It returns the total number of entries removed.
func (j *Janitor) Run(ctx context.Context) int {
	total := j.store.ClearExpired(ctx)

	ticker := time.NewTicker(j.every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.logger.Debug(context.WithoutCancel(ctx), "janitor stopped",
				observe.Field{Key: "removed_total", Value: total},
			)
			return total
		case <-ticker.C:
			total += j.store.ClearExpired(ctx)
		}
	}
}
