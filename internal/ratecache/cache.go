// Package ratecache fetches, caches and exposes the macro-economic rate
// series the financial analyzer depends on. One Cache instance owns its
// in-memory state exclusively; construct isolated instances in tests
// instead of sharing anything process-wide.
package ratecache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/yourorg/solar-finance-core/internal/circuitbreaker"
	"github.com/yourorg/solar-finance-core/internal/config"
	"github.com/yourorg/solar-finance-core/internal/fetch"
	"github.com/yourorg/solar-finance-core/internal/model"
	"github.com/yourorg/solar-finance-core/internal/types"
)

// ErrModalityNotFound is returned when a requested modality/segment pair
// is absent from the current snapshot.
var ErrModalityNotFound = errors.New("modality not found in market snapshot")

// Config holds the cache policy and the series to track.
type Config struct {
	// TTL is the freshness window of every cache entry and of the snapshot
	TTL time.Duration

	// MaxStaleTime bounds how old an expired entry may be and still be
	// served under the stale-fallback policy
	MaxStaleTime time.Duration

	// MaxSize caps the number of series entries; beyond it the
	// least-recently-written entries are evicted
	MaxSize int

	// UseStaleOnError enables serving expired-but-recent entries when a
	// fetch fails
	UseStaleOnError bool

	// MaxRequests per Window enforced on every outbound fetch
	MaxRequests int
	Window      time.Duration

	// Series names the snapshot's composition
	Series config.SeriesTable
}

// seriesEntry is one cached series fetch result.
type seriesEntry struct {
	points    []model.RateSeriesPoint
	fetchedAt time.Time
}

// Cache is the rate cache. All exported methods are safe for concurrent use.
type Cache struct {
	cfg     Config
	client  fetch.SeriesClient
	breaker *circuitbreaker.CircuitBreaker
	limiter *rate.Limiter
	metrics *Metrics

	// group collapses concurrent fetches of the same key into one
	// in-flight call
	group singleflight.Group

	mu       sync.RWMutex
	entries  map[string]seriesEntry
	snapshot *model.MarketSnapshot
	// snapshotFetchedAt tracks the live fetch time, which keeps stale
	// eligibility independent from ValidUntil
	snapshotFetchedAt time.Time

	now func() time.Time
}

// Option customizes a Cache.
type Option func(*Cache)

// WithBreaker guards outbound fetches with a circuit breaker.
func WithBreaker(cb *circuitbreaker.CircuitBreaker) Option {
	return func(c *Cache) { c.breaker = cb }
}

// WithMetrics attaches Prometheus instrumentation.
func WithMetrics(m *Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

// WithClock swaps the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New creates a Cache over the given series client.
func New(cfg Config, client fetch.SeriesClient, opts ...Option) *Cache {
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Minute
	}
	if cfg.MaxStaleTime <= 0 {
		cfg.MaxStaleTime = 24 * time.Hour
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 128
	}
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = 60
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}

	c := &Cache{
		cfg:     cfg,
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(float64(cfg.MaxRequests)/cfg.Window.Seconds()), cfg.MaxRequests),
		entries: make(map[string]seriesEntry),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchSeries returns the observations for one series code, serving the
// cached copy while fresh. Results are independently cached and
// independently eligible for stale fallback.
func (c *Cache) FetchSeries(ctx context.Context, code string, lastNDays int) ([]model.RateSeriesPoint, error) {
	points, _, err := c.fetchSeries(ctx, code, lastNDays)
	return points, err
}

func (c *Cache) fetchSeries(ctx context.Context, code string, lastNDays int) ([]model.RateSeriesPoint, types.Provenance, error) {
	key := code + ":" + strconv.Itoa(lastNDays)

	if points, ok := c.lookupFresh(key); ok {
		c.metrics.hit()
		return points, types.ProvenanceLive, nil
	}
	c.metrics.miss()

	type result struct {
		points     []model.RateSeriesPoint
		provenance types.Provenance
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		// A waiter that lost the race may find the entry fresh by now.
		if points, ok := c.lookupFresh(key); ok {
			return result{points, types.ProvenanceLive}, nil
		}

		points, err := c.fetchUpstream(ctx, code, lastNDays)
		if err != nil {
			c.metrics.fetchError(code)
			if stale, ok := c.lookupStale(key); ok && c.cfg.UseStaleOnError {
				logrus.WithFields(logrus.Fields{"series": code, "error": err}).
					Warn("Serving stale series data after fetch failure")
				c.metrics.staleServe()
				return result{stale, types.ProvenanceStale}, nil
			}
			return nil, err
		}

		c.store(key, points)
		return result{points, types.ProvenanceLive}, nil
	})
	if err != nil {
		return nil, "", err
	}

	r := v.(result)
	return r.points, r.provenance, nil
}

// fetchUpstream runs one outbound request through the limiter and breaker.
func (c *Cache) fetchUpstream(ctx context.Context, code string, lastNDays int) ([]model.RateSeriesPoint, error) {
	if c.breaker != nil {
		if err := c.breaker.Allow(); err != nil {
			return nil, fmt.Errorf("%w: %v", fetch.ErrDataSourceUnavailable, err)
		}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: rate limiter: %v", fetch.ErrDataSourceUnavailable, err)
	}

	points, err := c.client.FetchSeries(ctx, code, lastNDays)
	if c.breaker != nil {
		if err != nil {
			c.breaker.RecordFailure(err.Error())
		} else {
			c.breaker.RecordSuccess()
		}
	}
	return points, err
}

func (c *Cache) lookupFresh(key string) ([]model.RateSeriesPoint, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok || c.now().After(e.fetchedAt.Add(c.cfg.TTL)) {
		return nil, false
	}
	return e.points, true
}

func (c *Cache) lookupStale(key string) ([]model.RateSeriesPoint, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok || c.now().After(e.fetchedAt.Add(c.cfg.MaxStaleTime)) {
		return nil, false
	}
	return e.points, true
}

// store writes an entry and evicts least-recently-written entries over
// MaxSize.
func (c *Cache) store(key string, points []model.RateSeriesPoint) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = seriesEntry{points: points, fetchedAt: c.now()}

	if len(c.entries) <= c.cfg.MaxSize {
		return
	}

	type aged struct {
		key       string
		fetchedAt time.Time
	}
	all := make([]aged, 0, len(c.entries))
	for k, e := range c.entries {
		all = append(all, aged{k, e.fetchedAt})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].fetchedAt.Before(all[j].fetchedAt) })

	for _, a := range all[:len(c.entries)-c.cfg.MaxSize] {
		delete(c.entries, a.key)
		c.metrics.eviction()
		logrus.WithField("key", a.key).Debug("Evicted least-recently-written cache entry")
	}
}

// GetMarketSnapshot returns the cached snapshot while fresh; otherwise it
// fetches every configured series concurrently and composes a new one.
// Composition is all-or-nothing: one failed series fails the snapshot,
// unless a recent-enough stale snapshot exists and the fallback policy
// allows serving it.
func (c *Cache) GetMarketSnapshot(ctx context.Context) (*model.MarketSnapshot, error) {
	c.mu.RLock()
	snap := c.snapshot
	c.mu.RUnlock()
	if snap.Fresh(c.now()) {
		c.metrics.hit()
		return snap, nil
	}
	c.metrics.miss()

	v, err, _ := c.group.Do("snapshot", func() (interface{}, error) {
		c.mu.RLock()
		snap := c.snapshot
		c.mu.RUnlock()
		if snap.Fresh(c.now()) {
			return snap, nil
		}

		fresh, err := c.composeSnapshot(ctx)
		if err != nil {
			if stale := c.staleSnapshot(); stale != nil && c.cfg.UseStaleOnError {
				logrus.WithError(err).Warn("Serving stale market snapshot after composition failure")
				c.metrics.staleServe()
				return stale, nil
			}
			return nil, err
		}

		c.mu.Lock()
		c.snapshot = fresh
		c.snapshotFetchedAt = fresh.Timestamp
		c.mu.Unlock()
		return fresh, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.MarketSnapshot), nil
}

// composeSnapshot fans out all series fetches in parallel and fails fast
// on the first error.
func (c *Cache) composeSnapshot(ctx context.Context) (*model.MarketSnapshot, error) {
	s := c.cfg.Series

	var (
		mu          sync.Mutex
		base        []model.RateSeriesPoint
		index       []model.RateSeriesPoint
		indexAlt    []model.RateSeriesPoint
		modalityPts = make([][]model.RateSeriesPoint, len(s.Modalities))
		anyStale    bool
	)

	g, gctx := errgroup.WithContext(ctx)

	collect := func(dst *[]model.RateSeriesPoint, spec config.SeriesSpec) func() error {
		return func() error {
			points, prov, err := c.fetchSeries(gctx, spec.Code, spec.LastDays)
			if err != nil {
				return err
			}
			mu.Lock()
			*dst = points
			anyStale = anyStale || prov == types.ProvenanceStale
			mu.Unlock()
			return nil
		}
	}

	g.Go(collect(&base, s.BaseRate))
	if s.PriceIndex.Code != "" {
		g.Go(collect(&index, s.PriceIndex))
	}
	if s.PriceIndexAlt.Code != "" {
		g.Go(collect(&indexAlt, s.PriceIndexAlt))
	}
	for i, m := range s.Modalities {
		i, m := i, m
		g.Go(func() error {
			points, prov, err := c.fetchSeries(gctx, m.Code, m.LastDays)
			if err != nil {
				return err
			}
			mu.Lock()
			modalityPts[i] = points
			anyStale = anyStale || prov == types.ProvenanceStale
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	now := c.now()
	baseRate := latestValue(base)

	snap := &model.MarketSnapshot{
		Timestamp:  now,
		BaseRate:   baseRate,
		ValidUntil: now.Add(c.cfg.TTL),
		Provenance: types.ProvenanceLive,
	}
	if anyStale {
		snap.Provenance = types.ProvenanceStale
	}

	if len(index) > 0 {
		snap.PriceIndexMonthly = accumulated(index, s.PriceIndex)
	}
	if len(indexAlt) > 0 {
		snap.PriceIndexAlt = accumulated(indexAlt, s.PriceIndexAlt)
	}

	rates := make([]model.RealtimeRate, 0, len(s.Modalities))
	for i, m := range s.Modalities {
		r := model.NewRealtimeRate(m.Modality, m.Segment, latestValue(modalityPts[i]), baseRate, now)
		if anyStale {
			r.Source = types.ProvenanceStale
		}
		rates = append(rates, r)
	}
	snap.ConsumerRates = rates

	logrus.WithFields(logrus.Fields{
		"base_rate":  snap.BaseRate,
		"modalities": len(rates),
		"provenance": snap.Provenance,
	}).Info("Composed market snapshot")
	return snap, nil
}

// staleSnapshot returns the expired snapshot flagged as stale when it is
// still within MaxStaleTime, or nil.
func (c *Cache) staleSnapshot() *model.MarketSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.snapshot == nil || c.now().After(c.snapshotFetchedAt.Add(c.cfg.MaxStaleTime)) {
		return nil
	}
	// Copy before reflagging so the cached snapshot stays immutable.
	stale := *c.snapshot
	stale.Provenance = types.ProvenanceStale
	rates := make([]model.RealtimeRate, len(stale.ConsumerRates))
	copy(rates, stale.ConsumerRates)
	for i := range rates {
		rates[i].Source = types.ProvenanceStale
	}
	stale.ConsumerRates = rates
	return &stale
}

// GetRateByModality resolves one consumer rate from the current snapshot.
func (c *Cache) GetRateByModality(ctx context.Context, modality string, segment types.Segment) (*model.RealtimeRate, error) {
	snap, err := c.GetMarketSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	for i := range snap.ConsumerRates {
		r := snap.ConsumerRates[i]
		if r.Modality == modality && r.Segment == segment {
			return &r, nil
		}
	}
	return nil, fmt.Errorf("%w: %s/%s", ErrModalityNotFound, modality, segment)
}

// GetBulkRates resolves many modality lookups against one snapshot fetch.
// The whole call fails if any requested modality is missing.
func (c *Cache) GetBulkRates(ctx context.Context, reqs []model.RateRequest) ([]model.RealtimeRate, error) {
	snap, err := c.GetMarketSnapshot(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]model.RealtimeRate, 0, len(reqs))
	for _, req := range reqs {
		found := false
		for _, r := range snap.ConsumerRates {
			if r.Modality == req.Modality && r.Segment == req.Segment {
				out = append(out, r)
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("%w: %s/%s", ErrModalityNotFound, req.Modality, req.Segment)
		}
	}
	return out, nil
}

func latestValue(points []model.RateSeriesPoint) float64 {
	if len(points) == 0 {
		return 0
	}
	return points[len(points)-1].Value
}

func accumulated(points []model.RateSeriesPoint, spec config.SeriesSpec) float64 {
	if spec.Accumulate > 0 {
		return model.AccumulateSeries(points, spec.Accumulate)
	}
	return latestValue(points)
}
