package ratecache

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus instruments for one cache instance. All
// methods tolerate a nil receiver so instrumentation stays optional.
type Metrics struct {
	hits        prometheus.Counter
	misses      prometheus.Counter
	staleServes prometheus.Counter
	evictions   prometheus.Counter
	fetchErrors *prometheus.CounterVec
}

// NewMetrics registers the cache instruments on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ratecache_hits_total",
			Help: "Cache reads served from a fresh entry",
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ratecache_misses_total",
			Help: "Cache reads that required an upstream fetch",
		}),
		staleServes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ratecache_stale_serves_total",
			Help: "Reads served from an expired entry under the stale-fallback policy",
		}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ratecache_evictions_total",
			Help: "Entries evicted by the least-recently-written policy",
		}),
		fetchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ratecache_fetch_errors_total",
			Help: "Failed upstream series fetches",
		}, []string{"series"}),
	}

	reg.MustRegister(m.hits, m.misses, m.staleServes, m.evictions, m.fetchErrors)
	return m
}

func (m *Metrics) hit() {
	if m != nil {
		m.hits.Inc()
	}
}

func (m *Metrics) miss() {
	if m != nil {
		m.misses.Inc()
	}
}

func (m *Metrics) staleServe() {
	if m != nil {
		m.staleServes.Inc()
	}
}

func (m *Metrics) eviction() {
	if m != nil {
		m.evictions.Inc()
	}
}

func (m *Metrics) fetchError(series string) {
	if m != nil {
		m.fetchErrors.WithLabelValues(series).Inc()
	}
}
