package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics(t *testing.T) {
	t.Run("Should be safe to use when nil", func(t *testing.T) {
		var m *Metrics
		assert.NotPanics(t, func() {
			m.RecordHTTP("GET", "/proxy", 200, time.Millisecond)
			m.RecordCacheLookup(CacheHit)
			m.RecordCacheWrite(CacheStored)
			m.RecordUpstream(0, time.Millisecond)
			m.SetBreakerState("upstream", 2)
			m.TaskStarted()
			m.TaskFinished()
		})
		assert.Nil(t, m.Registry())
	})

	t.Run("Should record proxy outcomes", func(t *testing.T) {
		m := NewMetrics("test")
		m.RecordCacheLookup(CacheMiss)
		m.RecordCacheLookup(CacheMiss)
		m.RecordCacheWrite(CacheSkipped)
		m.RecordUpstream(404, 10*time.Millisecond)
		m.RecordUpstream(0, time.Millisecond)
		m.SetBreakerState("upstream", 2)
		m.TaskStarted()

		assert.Equal(t, float64(2), testutil.ToFloat64(m.CacheLookups.WithLabelValues(CacheMiss)))
		assert.Equal(t, float64(1), testutil.ToFloat64(m.CacheWrites.WithLabelValues(CacheSkipped)))
		assert.Equal(t, float64(1), testutil.ToFloat64(m.UpstreamRequests.WithLabelValues("404")))
		assert.Equal(t, float64(1), testutil.ToFloat64(m.UpstreamRequests.WithLabelValues("error")))
		assert.Equal(t, float64(2), testutil.ToFloat64(m.BreakerState.WithLabelValues("upstream")))
		assert.Equal(t, float64(1), testutil.ToFloat64(m.BackgroundTasks))
	})

	t.Run("Should expose the registry over HTTP", func(t *testing.T) {
		m := NewMetrics("test")
		m.RecordHTTP("GET", "/proxy", 200, time.Millisecond)

		rec := httptest.NewRecorder()
		m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "test_http_requests_total")
	})
}
