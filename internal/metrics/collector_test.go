package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/hrmflow/tools"
)

var _ tools.Recorder = (*Collector)(nil)

func newTestCollector(t *testing.T) *Collector {
	t.Helper()
	return NewCollectorWithRegistry("hrm", prometheus.NewRegistry(), nil)
}

// =============================================================================
// 🧪 Collector 测试
// =============================================================================

func TestCollector_RecordHTTPRequest(t *testing.T) {
	c := newTestCollector(t)

	c.RecordHTTPRequest("GET", "/api/v1/status", 200, 10*time.Millisecond, 512)
	c.RecordHTTPRequest("GET", "/api/v1/status", 204, 10*time.Millisecond, 0)
	c.RecordHTTPRequest("POST", "/api/v1/query", 503, 10*time.Millisecond, 64)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.httpRequestsTotal.WithLabelValues("GET", "/api/v1/status", "2xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.httpRequestsTotal.WithLabelValues("POST", "/api/v1/query", "5xx")))
}

func TestCollector_RecordExecution(t *testing.T) {
	c := newTestCollector(t)

	c.RecordExecution("medium", true, true, 2, 0.82, time.Second)
	c.RecordExecution("medium", false, false, 3, 0.41, 2*time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.executionsTotal.WithLabelValues("medium", "success", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.executionsTotal.WithLabelValues("medium", "failure", "false")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.iterations))
}

func TestCollector_RecordToolCall(t *testing.T) {
	c := newTestCollector(t)

	c.RecordToolCall("web_search", true, 1, 5*time.Millisecond)
	c.RecordToolCall("web_search", false, 3, 5*time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.toolCallsTotal.WithLabelValues("web_search", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.toolCallsTotal.WithLabelValues("web_search", "failure")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.toolRetries.WithLabelValues("web_search")))

	c.RecordBreakerState("web_search", 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.breakerState.WithLabelValues("web_search")))
}

func TestCollector_CacheAndDB(t *testing.T) {
	c := newTestCollector(t)

	c.RecordCacheHit("result")
	c.RecordCacheHit("result")
	c.RecordCacheMiss("result")
	c.RecordDBConnections("postgres", 7, 3)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.cacheHits.WithLabelValues("result")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.cacheMisses.WithLabelValues("result")))
	assert.Equal(t, 7.0, testutil.ToFloat64(c.dbConnectionsOpen.WithLabelValues("postgres")))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.dbConnectionsIdle.WithLabelValues("postgres")))
}

func TestCollector_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewCollectorWithRegistry("dup", reg, nil)
	require.Panics(t, func() { NewCollectorWithRegistry("dup", reg, nil) })
}

func TestStatusCode(t *testing.T) {
	for code, want := range map[int]string{200: "2xx", 302: "3xx", 404: "4xx", 500: "5xx", 100: "unknown"} {
		assert.Equal(t, want, statusCode(code))
	}
}
