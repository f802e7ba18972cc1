package observability

import (
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. It satisfies the pool cache and
// access resolver observer interfaces.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Tenant pool cache
	PoolCacheHitsTotal      prometheus.Counter
	PoolCacheMissesTotal    prometheus.Counter
	PoolCacheEvictionsTotal *prometheus.CounterVec
	PoolBuildDuration       *prometheus.HistogramVec
	PoolCacheSize           prometheus.Gauge

	// Access decisions
	AccessDecisionsTotal *prometheus.CounterVec

	// Control-plane database
	DBConnectionsOpen         prometheus.Gauge
	DBConnectionsInUse        prometheus.Gauge
	DBConnectionsIdle         prometheus.Gauge
	DBConnectionsWaitCount    prometheus.Gauge
	DBConnectionsWaitDuration prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vm_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vm_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		HTTPResponseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vm_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 6),
			},
			[]string{"method", "route"},
		),

		PoolCacheHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vm_pool_cache_hits_total",
			Help: "Tenant pool lookups served from the cache",
		}),
		PoolCacheMissesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vm_pool_cache_misses_total",
			Help: "Tenant pool lookups that required a new pool",
		}),
		PoolCacheEvictionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vm_pool_cache_evictions_total",
				Help: "Tenant pools closed, by reason",
			},
			[]string{"reason"},
		),
		PoolBuildDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vm_pool_build_duration_seconds",
				Help:    "Time to open and verify a tenant pool",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"status"},
		),
		PoolCacheSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vm_pool_cache_size",
			Help: "Number of live tenant pools",
		}),

		AccessDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vm_access_decisions_total",
				Help: "Access checks by outcome",
			},
			[]string{"outcome"},
		),

		DBConnectionsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vm_db_connections_open",
			Help: "Open control-plane connections",
		}),
		DBConnectionsInUse: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vm_db_connections_in_use",
			Help: "Control-plane connections in use",
		}),
		DBConnectionsIdle: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vm_db_connections_idle",
			Help: "Idle control-plane connections",
		}),
		DBConnectionsWaitCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vm_db_connections_wait_count",
			Help: "Total waits for a control-plane connection",
		}),
		DBConnectionsWaitDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vm_db_connections_wait_seconds",
			Help: "Total time spent waiting for a control-plane connection",
		}),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPResponseSize,
		m.PoolCacheHitsTotal,
		m.PoolCacheMissesTotal,
		m.PoolCacheEvictionsTotal,
		m.PoolBuildDuration,
		m.PoolCacheSize,
		m.AccessDecisionsTotal,
		m.DBConnectionsOpen,
		m.DBConnectionsInUse,
		m.DBConnectionsIdle,
		m.DBConnectionsWaitCount,
		m.DBConnectionsWaitDuration,
	)

	return m
}

func (m *Metrics) PoolHit()  { m.PoolCacheHitsTotal.Inc() }
func (m *Metrics) PoolMiss() { m.PoolCacheMissesTotal.Inc() }

func (m *Metrics) PoolEvicted(reason string) {
	m.PoolCacheEvictionsTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) PoolBuilt(d time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.PoolBuildDuration.WithLabelValues(status).Observe(d.Seconds())
}

func (m *Metrics) PoolCount(n int) { m.PoolCacheSize.Set(float64(n)) }

// AccessDecision counts one resolver outcome (granted, denied, error)
func (m *Metrics) AccessDecision(outcome string) {
	m.AccessDecisionsTotal.WithLabelValues(outcome).Inc()
}

// UpdateDBStats copies control-plane pool statistics into the gauges
func (m *Metrics) UpdateDBStats(stats sql.DBStats) {
	m.DBConnectionsOpen.Set(float64(stats.OpenConnections))
	m.DBConnectionsInUse.Set(float64(stats.InUse))
	m.DBConnectionsIdle.Set(float64(stats.Idle))
	m.DBConnectionsWaitCount.Set(float64(stats.WaitCount))
	m.DBConnectionsWaitDuration.Set(stats.WaitDuration.Seconds())
}

// responseWriter wraps http.ResponseWriter to capture status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
}

// routeLabel uses the mux path template so ids do not explode cardinality
func routeLabel(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return "unmatched"
}

// HTTPMetricsMiddleware instruments HTTP requests. Install it with
// Router.Use so the matched route is known.
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			route := routeLabel(r)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
			metrics.HTTPResponseSize.WithLabelValues(r.Method, route).Observe(float64(rw.bytesWritten))
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(mux *http.ServeMux, gatherer prometheus.Gatherer) {
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
}
