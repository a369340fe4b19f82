package observability

import (
	"net/http"

	"github.com/aretw0/stash/pkg/persistence/caching"
	"github.com/aretw0/stash/pkg/sweep"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "stash"

// Metrics holds the Prometheus collectors for session stores.
type Metrics struct {
	registry *prometheus.Registry

	CacheHits      prometheus.Counter
	CacheMisses    prometheus.Counter
	BackingLoads   prometheus.Counter
	CoalescedLoads prometheus.Counter
	CacheErrors    *prometheus.CounterVec
	Sweeps         *prometheus.CounterVec
}

var (
	_ caching.Observer = (*Metrics)(nil)
	_ sweep.Observer   = (*Metrics)(nil)
)

// NewMetrics creates the collectors and registers them on registry.
// A nil registry gets a fresh one.
func NewMetrics(registry *prometheus.Registry) (*Metrics, error) {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	m := &Metrics{
		registry: registry,

		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Loads served by the cache tier",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Loads the cache tier could not serve",
		}),
		BackingLoads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backing_loads_total",
			Help:      "Loads that reached the backing store",
		}),
		CoalescedLoads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "coalesced_loads_total",
			Help:      "Loads that waited on another caller's backing load",
		}),
		CacheErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_errors_total",
				Help:      "Cache tier failures that were swallowed",
			},
			[]string{"op"},
		),
		Sweeps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sweeps_total",
				Help:      "Expired session sweeps per store and outcome",
			},
			[]string{"store", "result"},
		),
	}

	for _, c := range []prometheus.Collector{
		m.CacheHits, m.CacheMisses, m.BackingLoads, m.CoalescedLoads, m.CacheErrors, m.Sweeps,
	} {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) CacheHit()      { m.CacheHits.Inc() }
func (m *Metrics) CacheMiss()     { m.CacheMisses.Inc() }
func (m *Metrics) BackingLoad()   { m.BackingLoads.Inc() }
func (m *Metrics) CoalescedWait() { m.CoalescedLoads.Inc() }

func (m *Metrics) CacheError(op string, _ error) {
	m.CacheErrors.WithLabelValues(op).Inc()
}

func (m *Metrics) SweepCompleted(store, result string) {
	m.Sweeps.WithLabelValues(store, result).Inc()
}
