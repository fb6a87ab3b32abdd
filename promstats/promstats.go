// Package promstats provides a Prometheus implementation of the cache's
// metrics hook.
package promstats

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/taskhive/tiercache/types"
)

// Collector implements types.Metrics on Prometheus counters, plus gauges
// fed from periodic Stats snapshots.
type Collector struct {
	hits       prometheus.Counter
	misses     prometheus.Counter
	evictions  prometheus.Counter
	expired    prometheus.Counter
	promotions prometheus.Counter

	entries   prometheus.Gauge
	sizeBytes *prometheus.GaugeVec
}

// New registers the cache metrics with the given registerer.
func New(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		hits: factory.NewCounter(prometheus.CounterOpts{
			Name: "tiercache_hits_total",
			Help: "Total number of cache hits",
		}),
		misses: factory.NewCounter(prometheus.CounterOpts{
			Name: "tiercache_misses_total",
			Help: "Total number of cache misses",
		}),
		evictions: factory.NewCounter(prometheus.CounterOpts{
			Name: "tiercache_evictions_total",
			Help: "Total number of capacity evictions",
		}),
		expired: factory.NewCounter(prometheus.CounterOpts{
			Name: "tiercache_expired_total",
			Help: "Total number of entries removed by the expiry sweep",
		}),
		promotions: factory.NewCounter(prometheus.CounterOpts{
			Name: "tiercache_promotions_total",
			Help: "Total number of entries promoted into faster tiers",
		}),
		entries: factory.NewGauge(prometheus.GaugeOpts{
			Name: "tiercache_entries",
			Help: "Current number of cached entries across all tiers",
		}),
		sizeBytes: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tiercache_size_bytes",
			Help: "Current cached bytes per tier",
		}, []string{"tier"}),
	}
}

func (c *Collector) Hit()       { c.hits.Inc() }
func (c *Collector) Miss()      { c.misses.Inc() }
func (c *Collector) Eviction()  { c.evictions.Inc() }
func (c *Collector) Expire()    { c.expired.Inc() }
func (c *Collector) Promotion() { c.promotions.Inc() }

// Observe updates the gauges from a statistics snapshot. Call it on a
// scrape or a timer; the counters above update on their own.
func (c *Collector) Observe(stats types.Statistics) {
	c.entries.Set(float64(stats.TotalEntries))
	for name, size := range stats.TierSizes {
		c.sizeBytes.WithLabelValues(name).Set(float64(size))
	}
}
