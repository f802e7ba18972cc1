package observability

import (
	"database/sql"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_PoolObserver(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.PoolHit()
	m.PoolHit()
	m.PoolMiss()
	m.PoolEvicted("capacity")
	m.PoolEvicted("settings_changed")
	m.PoolEvicted("capacity")
	m.PoolBuilt(20*time.Millisecond, nil)
	m.PoolBuilt(time.Second, errors.New("refused"))
	m.PoolCount(4)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.PoolCacheHitsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PoolCacheMissesTotal))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.PoolCacheEvictionsTotal.WithLabelValues("capacity")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.PoolCacheSize))
	assert.Equal(t, 2, testutil.CollectAndCount(m.PoolBuildDuration))
}

func TestMetrics_AccessAndDBStats(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.AccessDecision("granted")
	m.AccessDecision("denied")
	m.AccessDecision("denied")
	m.UpdateDBStats(sql.DBStats{OpenConnections: 5, InUse: 2, Idle: 3, WaitCount: 9, WaitDuration: 2 * time.Second})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.AccessDecisionsTotal.WithLabelValues("denied")))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.DBConnectionsOpen))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.DBConnectionsIdle))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.DBConnectionsWaitDuration))
}

func TestHTTPMetricsMiddleware_UsesRouteTemplate(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	router := mux.NewRouter()
	router.Use(HTTPMetricsMiddleware(m))
	router.HandleFunc("/api/instances/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":"no"}`))
	})

	for _, id := range []string{"a", "b", "c"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/instances/"+id, nil))
		require.Equal(t, http.StatusForbidden, rec.Code)
	}

	assert.Equal(t, 3.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/api/instances/{id}", "403")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.HTTPRequestsTotal))
}

func TestRegisterMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.PoolHit()

	sm := http.NewServeMux()
	RegisterMetricsEndpoint(sm, reg)
	rec := httptest.NewRecorder()
	sm.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "vm_pool_cache_hits_total 1")
}
