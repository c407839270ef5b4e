package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec

	// 流水线指标
	executionsTotal   *prometheus.CounterVec
	executionDuration *prometheus.HistogramVec
	iterations        *prometheus.HistogramVec
	convergenceScore  *prometheus.HistogramVec

	// 工具指标
	toolCallsTotal   *prometheus.CounterVec
	toolCallDuration *prometheus.HistogramVec
	toolRetries      *prometheus.CounterVec
	breakerState     *prometheus.GaugeVec

	// 缓存指标
	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	// 数据库指标
	dbConnectionsOpen *prometheus.GaugeVec
	dbConnectionsIdle *prometheus.GaugeVec

	logger *zap.Logger
}

// NewCollector registers collectors on the default registry.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	return NewCollectorWithRegistry(namespace, prometheus.DefaultRegisterer, logger)
}

// NewCollectorWithRegistry registers collectors on reg.
func NewCollectorWithRegistry(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	f := promauto.With(reg)
	c := &Collector{logger: logger.With(zap.String("component", "metrics"))}

	c.httpRequestsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	c.httpRequestDuration = f.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path"})

	c.httpResponseSize = f.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_response_size_bytes",
		Help:      "HTTP response size in bytes",
		Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
	}, []string{"method", "path"})

	c.executionsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "executions_total",
		Help:      "Total number of pipeline executions",
	}, []string{"tier", "status", "converged"})

	c.executionDuration = f.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "execution_duration_seconds",
		Help:      "Pipeline execution duration in seconds",
		Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"tier"})

	c.iterations = f.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "execution_iterations",
		Help:      "Orchestration iterations per execution",
		Buckets:   []float64{1, 2, 3, 4, 5},
	}, []string{"tier"})

	c.convergenceScore = f.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "convergence_score",
		Help:      "Final loop detector score per execution",
		Buckets:   prometheus.LinearBuckets(0.1, 0.1, 10),
	}, []string{"tier"})

	c.toolCallsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tool_calls_total",
		Help:      "Total number of tool calls",
	}, []string{"tool", "status"})

	c.toolCallDuration = f.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "tool_call_duration_seconds",
		Help:      "Tool call duration in seconds, retries included",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"tool"})

	c.toolRetries = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tool_retries_total",
		Help:      "Total number of tool call retries",
	}, []string{"tool"})

	c.breakerState = f.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "circuit_breaker_state",
		Help:      "Circuit breaker state per tool (0 closed, 1 open, 2 half-open)",
	}, []string{"tool"})

	c.cacheHits = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_hits_total",
		Help:      "Total number of cache hits",
	}, []string{"cache_type"})

	c.cacheMisses = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_misses_total",
		Help:      "Total number of cache misses",
	}, []string{"cache_type"})

	c.dbConnectionsOpen = f.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "db_connections_open",
		Help:      "Number of open database connections",
	}, []string{"database"})

	c.dbConnectionsIdle = f.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "db_connections_idle",
		Help:      "Number of idle database connections",
	}, []string{"database"})

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))
	return c
}

// =============================================================================
// 🎯 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, responseSize int64) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	c.httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// =============================================================================
// 🧠 流水线指标记录
// =============================================================================

// RecordExecution 记录一次流水线执行
func (c *Collector) RecordExecution(tier string, success, converged bool, iterations int, score float64, duration time.Duration) {
	c.executionsTotal.WithLabelValues(tier, status(success), boolLabel(converged)).Inc()
	c.executionDuration.WithLabelValues(tier).Observe(duration.Seconds())
	c.iterations.WithLabelValues(tier).Observe(float64(iterations))
	c.convergenceScore.WithLabelValues(tier).Observe(score)
}

// =============================================================================
// 🔧 工具指标记录
// =============================================================================

// RecordToolCall 记录工具调用（attempts 含首次调用）
func (c *Collector) RecordToolCall(tool string, success bool, attempts int, duration time.Duration) {
	c.toolCallsTotal.WithLabelValues(tool, status(success)).Inc()
	c.toolCallDuration.WithLabelValues(tool).Observe(duration.Seconds())
	if attempts > 1 {
		c.toolRetries.WithLabelValues(tool).Add(float64(attempts - 1))
	}
}

// RecordBreakerState 记录熔断器状态
func (c *Collector) RecordBreakerState(tool string, state int) {
	c.breakerState.WithLabelValues(tool).Set(float64(state))
}

// =============================================================================
// 💾 缓存 / 数据库
// =============================================================================

// RecordCacheHit 记录缓存命中
func (c *Collector) RecordCacheHit(cacheType string) {
	c.cacheHits.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss 记录缓存未命中
func (c *Collector) RecordCacheMiss(cacheType string) {
	c.cacheMisses.WithLabelValues(cacheType).Inc()
}

// RecordDBConnections 记录数据库连接数
func (c *Collector) RecordDBConnections(database string, open, idle int) {
	c.dbConnectionsOpen.WithLabelValues(database).Set(float64(open))
	c.dbConnectionsIdle.WithLabelValues(database).Set(float64(idle))
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}

func status(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
