package fetch

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/jonwraymond/fetchcache/cache"
	"github.com/jonwraymond/fetchcache/observe"
	"github.com/jonwraymond/fetchcache/resilience"
)

func noWait(context.Context, time.Duration) error { return nil }

func newTestFetcher(t *testing.T, opts ...Option) (*Fetcher, cache.Store) {
	t.Helper()
	store := cache.NewMemoryStore(time.Hour)
	base := []Option{WithExecutor(resilience.NewExecutor(resilience.WithWaiter(noWait)))}
	return New(store, append(base, opts...)...), store
}

func countingLoad(calls *atomic.Int32, payload string, errs ...error) observe.LoadFunc {
	return func(ctx context.Context) ([]byte, error) {
		n := int(calls.Add(1))
		if n <= len(errs) {
			return nil, errs[n-1]
		}
		return []byte(payload), nil
	}
}

func TestFetch_MissThenHit(t *testing.T) {
	f, store := newTestFetcher(t)
	ctx := context.Background()

	var calls atomic.Int32
	req := Request{
		Operation: "fetch",
		Params:    map[string]any{"sym": "X"},
		Required:  []string{"sym"},
		Load:      countingLoad(&calls, "[1,2,3]"),
	}

	data, err := f.Fetch(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "[1,2,3]", string(data))

	data, err = f.Fetch(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "[1,2,3]", string(data))
	assert.Equal(t, int32(1), calls.Load(), "second fetch should be served from cache")

	cached, ok := store.Get(ctx, "fetch", map[string]any{"sym": "X"})
	require.True(t, ok)
	assert.Equal(t, "[1,2,3]", string(cached))

	_, ok = store.Get(ctx, "fetch", map[string]any{"sym": "Y"})
	assert.False(t, ok)
}

func TestFetch_InvalidParams(t *testing.T) {
	f, _ := newTestFetcher(t)
	ctx := context.Background()

	var calls atomic.Int32
	_, err := f.Fetch(ctx, Request{
		Operation: "daily",
		Params:    map[string]any{"ts_code": "000001.SZ", "trade_date": nil},
		Required:  []string{"ts_code", "trade_date"},
		Load:      countingLoad(&calls, "{}"),
	})

	require.ErrorIs(t, err, ErrInvalidParams)
	assert.Contains(t, err.Error(), "trade_date")
	assert.Zero(t, calls.Load(), "no remote call for invalid params")

	_, err = f.Fetch(ctx, Request{Operation: "daily"})
	assert.ErrorIs(t, err, ErrInvalidParams, "missing load function")

	_, err = f.Fetch(ctx, Request{
		Operation: "daily",
		Params:    map[string]any{"bad": make(chan int)},
		Load:      countingLoad(&calls, "{}"),
	})
	require.ErrorIs(t, err, ErrInvalidParams)
	assert.ErrorIs(t, err, cache.ErrInvalidParameter)
}

func TestFetch_RetriesTransientThenCaches(t *testing.T) {
	f, store := newTestFetcher(t)
	ctx := context.Background()

	var calls atomic.Int32
	req := Request{
		Operation: "daily",
		Params:    map[string]any{"ts_code": "000001.SZ"},
		Load:      countingLoad(&calls, `{"close":9.42}`, errors.New("network error")),
	}

	data, err := f.Fetch(ctx, req)
	require.NoError(t, err)
	assert.JSONEq(t, `{"close":9.42}`, string(data))
	assert.Equal(t, int32(2), calls.Load())

	_, ok := store.Get(ctx, req.Operation, req.Params)
	assert.True(t, ok)
}

func TestFetch_Exhausted(t *testing.T) {
	f, store := newTestFetcher(t)
	ctx := context.Background()

	lastErr := errors.New("request timeout")
	var calls atomic.Int32
	req := Request{
		Operation: "daily",
		Params:    map[string]any{"ts_code": "000001.SZ"},
		Load:      countingLoad(&calls, "{}", errors.New("network error"), errors.New("timeout"), lastErr),
	}

	_, err := f.Fetch(ctx, req)
	require.ErrorIs(t, err, ErrExhausted)
	assert.ErrorIs(t, err, lastErr)
	assert.Equal(t, int32(3), calls.Load())

	_, ok := store.Get(ctx, req.Operation, req.Params)
	assert.False(t, ok, "errors are never cached")
}

func TestFetch_FatalPropagates(t *testing.T) {
	f, _ := newTestFetcher(t)

	fatal := errors.New("permission denied")
	var calls atomic.Int32
	_, err := f.Fetch(context.Background(), Request{
		Operation: "daily",
		Load:      countingLoad(&calls, "{}", fatal),
	})

	assert.Equal(t, fatal, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetch_Canceled(t *testing.T) {
	f, _ := newTestFetcher(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls atomic.Int32
	_, err := f.Fetch(ctx, Request{Operation: "daily", Load: countingLoad(&calls, "{}")})

	require.ErrorIs(t, err, resilience.ErrCanceled)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls.Load())
}

func TestFetch_AttemptTimeout(t *testing.T) {
	f, _ := newTestFetcher(t, WithAttemptTimeout(10*time.Millisecond))

	var calls atomic.Int32
	data, err := f.Fetch(context.Background(), Request{
		Operation: "slow",
		Load: func(ctx context.Context) ([]byte, error) {
			if calls.Add(1) == 1 {
				<-ctx.Done()
				return nil, ctx.Err()
			}
			return []byte("ok"), nil
		},
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", string(data))
	assert.Equal(t, int32(2), calls.Load())
}

func TestFetch_RateLimited(t *testing.T) {
	rl := resilience.NewRateLimiter(resilience.RateLimiterConfig{Rate: 1, Burst: 1})
	f, _ := newTestFetcher(t,
		WithRateLimiter(rl),
		WithPolicy(resilience.Policy{MaxAttempts: 1}),
	)
	ctx := context.Background()

	var calls atomic.Int32
	_, err := f.Fetch(ctx, Request{Operation: "a", Load: countingLoad(&calls, "1")})
	require.NoError(t, err)

	_, err = f.Fetch(ctx, Request{Operation: "b", Load: countingLoad(&calls, "2")})
	require.ErrorIs(t, err, ErrExhausted)
	assert.ErrorIs(t, err, resilience.ErrRateLimitExceeded)
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetch_CollapsesConcurrentMisses(t *testing.T) {
	f, _ := newTestFetcher(t)
	ctx := context.Background()

	release := make(chan struct{})
	var calls atomic.Int32
	req := Request{
		Operation: "daily",
		Params:    map[string]any{"ts_code": "000001.SZ"},
		Load: func(ctx context.Context) ([]byte, error) {
			calls.Add(1)
			<-release
			return []byte("rows"), nil
		},
	}

	const workers = 10
	var wg sync.WaitGroup
	results := make([][]byte, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			data, err := f.Fetch(ctx, req)
			assert.NoError(t, err)
			results[i] = data
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, r := range results {
		assert.Equal(t, "rows", string(r))
	}
}

func TestFetch_WaiterHonorsOwnDeadline(t *testing.T) {
	f, _ := newTestFetcher(t)

	started := make(chan struct{})
	release := make(chan struct{})
	defer close(release)
	req := Request{
		Operation: "daily",
		Params:    map[string]any{"ts_code": "000001.SZ"},
		Load: func(ctx context.Context) ([]byte, error) {
			close(started)
			<-release
			return []byte("rows"), nil
		},
	}

	leaderDone := make(chan error, 1)
	go func() {
		_, err := f.Fetch(context.Background(), req)
		leaderDone <- err
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	begin := time.Now()
	_, err := f.Fetch(ctx, req)

	require.ErrorIs(t, err, resilience.ErrCanceled)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	var ce *resilience.CanceledError
	require.ErrorAs(t, err, &ce)
	assert.Less(t, time.Since(begin), 250*time.Millisecond, "waiter should return at its own deadline")

	select {
	case err := <-leaderDone:
		t.Fatalf("leader returned early: %v", err)
	default:
	}
}

func TestFetch_WaiterSurvivesLeaderCancellation(t *testing.T) {
	f, _ := newTestFetcher(t)

	var calls atomic.Int32
	started := make(chan struct{})
	req := Request{
		Operation: "daily",
		Params:    map[string]any{"ts_code": "000001.SZ"},
		Load: func(ctx context.Context) ([]byte, error) {
			if calls.Add(1) == 1 {
				close(started)
				<-ctx.Done()
				return nil, ctx.Err()
			}
			return []byte("rows"), nil
		},
	}

	leaderCtx, cancelLeader := context.WithCancel(context.Background())
	leaderDone := make(chan error, 1)
	go func() {
		_, err := f.Fetch(leaderCtx, req)
		leaderDone <- err
	}()
	<-started

	waiterDone := make(chan struct{})
	var data []byte
	var err error
	go func() {
		defer close(waiterDone)
		data, err = f.Fetch(context.Background(), req)
	}()

	time.Sleep(20 * time.Millisecond)
	cancelLeader()

	assert.ErrorIs(t, <-leaderDone, resilience.ErrCanceled)
	select {
	case <-waiterDone:
	case <-time.After(2 * time.Second):
		t.Fatal("waiter did not finish")
	}
	require.NoError(t, err)
	assert.Equal(t, "rows", string(data))
	assert.Equal(t, int32(2), calls.Load())
}

func TestFetch_SharedResultsAreIndependent(t *testing.T) {
	f, _ := newTestFetcher(t)
	ctx := context.Background()

	data, err := f.Fetch(ctx, Request{Operation: "x", Load: countingLoad(new(atomic.Int32), "abc")})
	require.NoError(t, err)
	data[0] = 'z'

	again, err := f.Fetch(ctx, Request{Operation: "x", Load: countingLoad(new(atomic.Int32), "abc")})
	require.NoError(t, err)
	assert.Equal(t, "abc", string(again))
}

func TestFetch_DiskStore(t *testing.T) {
	store, err := cache.NewDiskStore(t.TempDir(), time.Hour)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	f := New(store, WithExecutor(resilience.NewExecutor(resilience.WithWaiter(noWait))))
	ctx := context.Background()
	payload := bytes.Repeat([]byte(`{"close":9.42},`), 200)

	var calls atomic.Int32
	req := Request{Operation: "daily", Params: map[string]any{"ts_code": "000001.SZ"}, Load: countingLoad(&calls, string(payload))}

	first, err := f.Fetch(ctx, req)
	require.NoError(t, err)
	second, err := f.Fetch(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, payload, first)
	assert.Equal(t, payload, second)
	assert.Equal(t, int32(1), calls.Load())

	assert.True(t, f.Invalidate(ctx, req.Operation, req.Params))
	_, err = f.Fetch(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestFetch_RecordsMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	metrics, err := observe.NewMetrics(provider.Meter("test"))
	require.NoError(t, err)

	f, _ := newTestFetcher(t, WithMiddleware(observe.NewMiddleware(nil, metrics, nil)))

	var calls atomic.Int32
	_, err = f.Fetch(context.Background(), Request{
		Operation: "daily",
		Load:      countingLoad(&calls, "{}", errors.New("network error")),
	})
	require.NoError(t, err)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	var total, failed int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				switch m.Name {
				case "fetch.op.total":
					total += dp.Value
				case "fetch.op.errors":
					failed += dp.Value
				}
			}
		}
	}
	assert.Equal(t, int64(2), total, "one record per attempt")
	assert.Equal(t, int64(1), failed)
}

type quote struct {
	Code  string  `json:"ts_code"`
	Close float64 `json:"close"`
}

func TestFetchValue(t *testing.T) {
	f, store := newTestFetcher(t)
	ctx := context.Background()

	req := Request{
		Operation: "daily",
		Params:    map[string]any{"ts_code": "000001.SZ"},
		Load: LoadJSON(func(ctx context.Context) ([]quote, error) {
			return []quote{{Code: "000001.SZ", Close: 9.42}}, nil
		}),
	}

	got, err := FetchValue[[]quote](ctx, f, req)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 9.42, got[0].Close)

	store.Set(ctx, "daily", map[string]any{"ts_code": "bad"}, []byte("not json"))
	_, err = FetchValue[[]quote](ctx, f, Request{
		Operation: "daily",
		Params:    map[string]any{"ts_code": "bad"},
		Load:      req.Load,
	})
	require.Error(t, err)

	_, ok := store.Get(ctx, "daily", map[string]any{"ts_code": "bad"})
	assert.False(t, ok, "undecodable payload should be dropped")
}

func TestLoadJSON_EncodeFailureIsFatal(t *testing.T) {
	load := LoadJSON(func(ctx context.Context) (chan int, error) { return make(chan int), nil })

	_, err := load(context.Background())
	require.Error(t, err)
	assert.False(t, resilience.IsTransient(err))
}
