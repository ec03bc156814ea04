package health

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jonwraymond/fetchcache/cache"
)

// ProbeOperation is the reserved operation name used by store probes.
const ProbeOperation = "fetchcache.health.probe"

// NewStoreChecker returns a checker that writes, reads back and deletes a
// probe entry. Cache writes are best-effort, so a failed write only shows up
// as a missing read.
func NewStoreChecker(name string, store cache.Store) Checker {
	return NewCheckerFunc(name, func(ctx context.Context) Result {
		nonce := strconv.FormatInt(time.Now().UnixNano(), 36)
		params := map[string]any{"nonce": nonce}
		payload := []byte("probe:" + nonce)

		store.Set(ctx, ProbeOperation, params, payload)
		got, ok := store.Get(ctx, ProbeOperation, params)
		store.Delete(ctx, ProbeOperation, params)

		switch {
		case !ok:
			return Result{Status: StatusUnhealthy, Message: "probe entry was not readable after write"}
		case !bytes.Equal(got, payload):
			return Result{Status: StatusUnhealthy, Message: "probe entry came back changed", Err: ErrProbeMismatch}
		}
		return Result{Status: StatusHealthy, Message: "write, read and delete succeeded"}
	})
}

// NewExpiryChecker returns a checker that reports degraded when more than
// maxExpiredRatio of the entries are expired.
func NewExpiryChecker(name string, store cache.Store, maxExpiredRatio float64) Checker {
	return NewCheckerFunc(name, func(ctx context.Context) Result {
		st, err := store.Stats(ctx)
		if err != nil {
			return Result{Status: StatusUnhealthy, Message: "stats unavailable", Err: err}
		}

		msg := fmt.Sprintf("%d entries, %d expired", st.Entries, st.Expired)
		if st.Entries > 0 && float64(st.Expired)/float64(st.Entries) > maxExpiredRatio {
			return Result{Status: StatusDegraded, Message: msg + ", sweep is overdue"}
		}
		return Result{Status: StatusHealthy, Message: msg}
	})
}
