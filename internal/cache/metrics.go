package cache

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricsOnce  sync.Once
	hitsVec      *prometheus.CounterVec
	missesVec    *prometheus.CounterVec
	evictionsVec *prometheus.CounterVec
	sizeVec      *prometheus.GaugeVec
)

// Metrics is a per-cache handle onto the shared Prometheus metric
// family, curried with the cache name label.
type Metrics struct {
	hits      prometheus.Counter
	misses    prometheus.Counter
	evictions prometheus.Counter
	size      prometheus.Gauge
}

// NewMetrics registers the cache metric family with the default
// registry and returns a handle labeled with name. Registration happens
// once globally so multiple caches can coexist.
func NewMetrics(name string) *Metrics {
	metricsOnce.Do(func() {
		hitsVec = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "loom_cache_hits_total",
			Help: "Total number of cache hits",
		}, []string{"cache"})

		missesVec = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "loom_cache_misses_total",
			Help: "Total number of cache misses",
		}, []string{"cache"})

		evictionsVec = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "loom_cache_evictions_total",
			Help: "Total number of cache entries evicted by LRU",
		}, []string{"cache"})

		sizeVec = promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "loom_cache_entries",
			Help: "Current number of cached entries",
		}, []string{"cache"})
	})

	return &Metrics{
		hits:      hitsVec.WithLabelValues(name),
		misses:    missesVec.WithLabelValues(name),
		evictions: evictionsVec.WithLabelValues(name),
		size:      sizeVec.WithLabelValues(name),
	}
}

func (m *Metrics) recordHit()      { m.hits.Inc() }
func (m *Metrics) recordMiss()     { m.misses.Inc() }
func (m *Metrics) recordEviction() { m.evictions.Inc() }
func (m *Metrics) setSize(n int)   { m.size.Set(float64(n)) }
