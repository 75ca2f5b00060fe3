package ratecache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/solar-finance-core/internal/circuitbreaker"
	"github.com/yourorg/solar-finance-core/internal/config"
	"github.com/yourorg/solar-finance-core/internal/fetch"
	"github.com/yourorg/solar-finance-core/internal/model"
	"github.com/yourorg/solar-finance-core/internal/types"
)

// fakeClock is a mutable time source for cache tests.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// fakeSeriesClient serves canned observations and counts upstream calls.
type fakeSeriesClient struct {
	mu     sync.Mutex
	calls  map[string]int
	values map[string]float64
	fail   bool
	delay  time.Duration
}

func newFakeSeriesClient() *fakeSeriesClient {
	return &fakeSeriesClient{calls: make(map[string]int), values: make(map[string]float64)}
}

func (f *fakeSeriesClient) FetchSeries(ctx context.Context, code string, lastNDays int) ([]model.RateSeriesPoint, error) {
	f.mu.Lock()
	f.calls[code]++
	fail := f.fail
	delay := f.delay
	value, ok := f.values[code]
	f.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if fail {
		return nil, fmt.Errorf("%w: series %s: connection refused", fetch.ErrDataSourceUnavailable, code)
	}
	if !ok {
		value = 1.0
	}
	return []model.RateSeriesPoint{
		{Date: time.Date(2024, 5, 30, 0, 0, 0, 0, time.UTC), Value: value},
		{Date: time.Date(2024, 5, 31, 0, 0, 0, 0, time.UTC), Value: value},
	}, nil
}

func (f *fakeSeriesClient) callCount(code string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[code]
}

func (f *fakeSeriesClient) setFail(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = v
}

func testSeriesTable() config.SeriesTable {
	return config.SeriesTable{
		BaseRate:   config.SeriesSpec{Code: "432", LastDays: 30},
		PriceIndex: config.SeriesSpec{Code: "433", LastDays: 60, Accumulate: 2},
		Modalities: []config.ModalitySpec{
			{Modality: "credito_pessoal_nao_consignado", Segment: types.SegmentPF, Code: "25464", LastDays: 60},
		},
	}
}

func newTestCache(client fetch.SeriesClient, clock *fakeClock, mutate func(*Config)) *Cache {
	cfg := Config{
		TTL:             30 * time.Minute,
		MaxStaleTime:    24 * time.Hour,
		MaxSize:         128,
		UseStaleOnError: true,
		MaxRequests:     1000,
		Window:          time.Second,
		Series:          testSeriesTable(),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return New(cfg, client, WithClock(clock.Now))
}

func TestSnapshotServedFromCacheWhileFresh(t *testing.T) {
	client := newFakeSeriesClient()
	client.values["432"] = 10.5
	clock := newFakeClock()
	cache := newTestCache(client, clock, nil)

	first, err := cache.GetMarketSnapshot(context.Background())
	require.NoError(t, err)
	require.NotNil(t, first)

	clock.Advance(10 * time.Minute)
	second, err := cache.GetMarketSnapshot(context.Background())
	require.NoError(t, err)

	// Identical snapshot, no second round of upstream calls.
	assert.Same(t, first, second)
	assert.Equal(t, 1, client.callCount("432"))
	assert.Equal(t, 1, client.callCount("433"))
	assert.Equal(t, 1, client.callCount("25464"))

	assert.Equal(t, 10.5, first.BaseRate)
	assert.Equal(t, types.ProvenanceLive, first.Provenance)
	assert.InDelta(t, 0.0201, first.PriceIndexMonthly, 1e-6)
	require.Len(t, first.ConsumerRates, 1)
	assert.InDelta(t, 0.126825, first.ConsumerRates[0].AnnualRate, 1e-6)
}

func TestSnapshotRefreshAfterTTL(t *testing.T) {
	client := newFakeSeriesClient()
	clock := newFakeClock()
	cache := newTestCache(client, clock, nil)

	first, err := cache.GetMarketSnapshot(context.Background())
	require.NoError(t, err)

	clock.Advance(31 * time.Minute)
	second, err := cache.GetMarketSnapshot(context.Background())
	require.NoError(t, err)

	assert.NotSame(t, first, second)
	assert.Equal(t, 2, client.callCount("432"))
}

func TestLeastRecentlyWrittenEviction(t *testing.T) {
	client := newFakeSeriesClient()
	clock := newFakeClock()
	cache := newTestCache(client, clock, func(cfg *Config) { cfg.MaxSize = 2 })

	ctx := context.Background()
	for _, code := range []string{"100", "200", "300"} {
		_, err := cache.FetchSeries(ctx, code, 30)
		require.NoError(t, err)
		clock.Advance(time.Second)
	}

	// Expire everything, then fail the upstream: only entries still in the
	// cache can be served stale.
	clock.Advance(time.Hour)
	client.setFail(true)

	_, err := cache.FetchSeries(ctx, "100", 30)
	assert.Error(t, err, "oldest-written entry must have been evicted")

	_, err = cache.FetchSeries(ctx, "200", 30)
	assert.NoError(t, err)
	_, err = cache.FetchSeries(ctx, "300", 30)
	assert.NoError(t, err)
}

func TestStaleFallbackWindow(t *testing.T) {
	client := newFakeSeriesClient()
	clock := newFakeClock()
	cache := newTestCache(client, clock, func(cfg *Config) {
		cfg.TTL = 30 * time.Minute
		cfg.MaxStaleTime = 2 * time.Hour
	})

	ctx := context.Background()
	points, prov, err := cache.fetchSeries(ctx, "432", 30)
	require.NoError(t, err)
	require.NotEmpty(t, points)
	assert.Equal(t, types.ProvenanceLive, prov)

	// Expired but inside MaxStaleTime: served stale on upstream failure.
	clock.Advance(time.Hour)
	client.setFail(true)

	points, prov, err = cache.fetchSeries(ctx, "432", 30)
	require.NoError(t, err)
	require.NotEmpty(t, points)
	assert.Equal(t, types.ProvenanceStale, prov)

	// Beyond MaxStaleTime the entry is unusable and the failure surfaces.
	clock.Advance(2 * time.Hour)
	_, _, err = cache.fetchSeries(ctx, "432", 30)
	require.Error(t, err)
	assert.True(t, errors.Is(err, fetch.ErrDataSourceUnavailable))
}

func TestStaleFallbackDisabled(t *testing.T) {
	client := newFakeSeriesClient()
	clock := newFakeClock()
	cache := newTestCache(client, clock, func(cfg *Config) { cfg.UseStaleOnError = false })

	ctx := context.Background()
	_, err := cache.FetchSeries(ctx, "432", 30)
	require.NoError(t, err)

	clock.Advance(time.Hour)
	client.setFail(true)

	_, err = cache.FetchSeries(ctx, "432", 30)
	assert.Error(t, err)
}

func TestSnapshotCompositionFailsFast(t *testing.T) {
	client := newFakeSeriesClient()
	client.setFail(true)
	clock := newFakeClock()
	cache := newTestCache(client, clock, nil)

	// No prior snapshot to fall back on: one failed series fails the call.
	_, err := cache.GetMarketSnapshot(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, fetch.ErrDataSourceUnavailable))
}

func TestSnapshotStaleFallback(t *testing.T) {
	client := newFakeSeriesClient()
	client.values["432"] = 11.25
	clock := newFakeClock()
	cache := newTestCache(client, clock, nil)

	first, err := cache.GetMarketSnapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.ProvenanceLive, first.Provenance)

	clock.Advance(time.Hour)
	client.setFail(true)

	stale, err := cache.GetMarketSnapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.ProvenanceStale, stale.Provenance)
	assert.Equal(t, 11.25, stale.BaseRate)
	for _, r := range stale.ConsumerRates {
		assert.Equal(t, types.ProvenanceStale, r.Source)
	}

	// The cached snapshot itself must not have been reflagged.
	assert.Equal(t, types.ProvenanceLive, first.Provenance)
}

func TestSnapshotSingleFlight(t *testing.T) {
	client := newFakeSeriesClient()
	client.delay = 30 * time.Millisecond
	clock := newFakeClock()
	cache := newTestCache(client, clock, nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := cache.GetMarketSnapshot(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// All ten callers share the single in-flight composition.
	assert.Equal(t, 1, client.callCount("432"))
	assert.Equal(t, 1, client.callCount("433"))
	assert.Equal(t, 1, client.callCount("25464"))
}

func TestBreakerOpenFallsBackToStale(t *testing.T) {
	client := newFakeSeriesClient()
	clock := newFakeClock()
	breaker := circuitbreaker.New(circuitbreaker.Options{FailureThreshold: 1, Cooldown: time.Hour})

	cfg := Config{
		TTL:             30 * time.Minute,
		MaxStaleTime:    24 * time.Hour,
		MaxSize:         128,
		UseStaleOnError: true,
		MaxRequests:     1000,
		Window:          time.Second,
		Series:          testSeriesTable(),
	}
	cache := New(cfg, client, WithClock(clock.Now), WithBreaker(breaker))

	ctx := context.Background()
	_, _, err := cache.fetchSeries(ctx, "432", 30)
	require.NoError(t, err)

	breaker.RecordFailure("authority down")
	require.Equal(t, circuitbreaker.StateOpen, breaker.GetState())

	clock.Advance(time.Hour)
	points, prov, err := cache.fetchSeries(ctx, "432", 30)
	require.NoError(t, err)
	require.NotEmpty(t, points)
	assert.Equal(t, types.ProvenanceStale, prov)

	// The breaker rejected the fetch before it went out.
	assert.Equal(t, 1, client.callCount("432"))
}

func TestGetRateByModality(t *testing.T) {
	client := newFakeSeriesClient()
	clock := newFakeClock()
	cache := newTestCache(client, clock, nil)

	ctx := context.Background()
	rate, err := cache.GetRateByModality(ctx, "credito_pessoal_nao_consignado", types.SegmentPF)
	require.NoError(t, err)
	assert.Equal(t, "credito_pessoal_nao_consignado", rate.Modality)
	assert.Equal(t, types.SegmentPF, rate.Segment)

	_, err = cache.GetRateByModality(ctx, "credito_rural", types.SegmentPF)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrModalityNotFound))
}

func TestGetBulkRatesAllOrNothing(t *testing.T) {
	client := newFakeSeriesClient()
	clock := newFakeClock()
	cache := newTestCache(client, clock, nil)

	ctx := context.Background()
	rates, err := cache.GetBulkRates(ctx, []model.RateRequest{
		{Modality: "credito_pessoal_nao_consignado", Segment: types.SegmentPF},
	})
	require.NoError(t, err)
	require.Len(t, rates, 1)

	_, err = cache.GetBulkRates(ctx, []model.RateRequest{
		{Modality: "credito_pessoal_nao_consignado", Segment: types.SegmentPF},
		{Modality: "missing", Segment: types.SegmentPJ},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrModalityNotFound))
}

func TestMetricsNilReceiver(t *testing.T) {
	var m *Metrics
	m.hit()
	m.miss()
	m.staleServe()
	m.eviction()
	m.fetchError("432")
}

func TestNewMetricsRegisters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	require.NotNil(t, m)

	m.hit()
	m.fetchError("432")

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}
