package metrics

import "github.com/prometheus/client_golang/prometheus"

// CacheMetrics exposes counters/histograms for the edge cache router.
type CacheMetrics struct {
	requestsTotal   *prometheus.CounterVec
	upstreamLatency *prometheus.HistogramVec
	storageErrors   *prometheus.CounterVec
	precacheTotal   *prometheus.CounterVec
	gcDeletedTotal  prometheus.Counter
}

func NewCacheMetrics(reg prometheus.Registerer) *CacheMetrics {
	m := &CacheMetrics{
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sxrx",
			Subsystem: "edge_cache",
			Name:      "requests_total",
			Help:      "Requests handled by the cache router",
		}, []string{"category", "outcome"}),
		upstreamLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "sxrx",
			Subsystem: "edge_cache",
			Name:      "upstream_latency_seconds",
			Help:      "Latency of upstream fetches issued by the cache router",
			Buckets:   prometheus.DefBuckets,
		}, []string{"category", "status"}),
		storageErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sxrx",
			Subsystem: "edge_cache",
			Name:      "storage_errors_total",
			Help:      "Cache storage failures downgraded to misses",
		}, []string{"op"}),
		precacheTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sxrx",
			Subsystem: "edge_cache",
			Name:      "precache_assets_total",
			Help:      "Manifest assets processed at install",
		}, []string{"status"}),
		gcDeletedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sxrx",
			Subsystem: "edge_cache",
			Name:      "namespaces_deleted_total",
			Help:      "Outdated cache namespaces deleted at activation or clear",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.requestsTotal, m.upstreamLatency, m.storageErrors, m.precacheTotal, m.gcDeletedTotal)
	return m
}

// ObserveRequest counts a routed request by category and outcome
// (hit, network, stale, offline, bypass).
func (m *CacheMetrics) ObserveRequest(category, outcome string) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(category, outcome).Inc()
}

func (m *CacheMetrics) ObserveUpstream(category string, failed bool, seconds float64) {
	if m == nil {
		return
	}
	status := "ok"
	if failed {
		status = "error"
	}
	m.upstreamLatency.WithLabelValues(category, status).Observe(seconds)
}

func (m *CacheMetrics) ObserveStorageError(op string) {
	if m == nil {
		return
	}
	m.storageErrors.WithLabelValues(op).Inc()
}

func (m *CacheMetrics) ObservePrecache(cached bool) {
	if m == nil {
		return
	}
	label := "failed"
	if cached {
		label = "cached"
	}
	m.precacheTotal.WithLabelValues(label).Inc()
}

func (m *CacheMetrics) ObserveNamespacesDeleted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.gcDeletedTotal.Add(float64(n))
}
