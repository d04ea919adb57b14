// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器. 所有 Record 方法对 nil 接收者安全，未启用指标时可以直接传 nil.
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpRequestSize     *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec

	// 会话指标
	sessionsActive prometheus.Gauge

	// 对话轮次指标
	exchangesTotal       *prometheus.CounterVec
	exchangeDuration     *prometheus.HistogramVec
	promptTokens         *prometheus.HistogramVec
	requestContextTokens *prometheus.HistogramVec
	historyTrimmed       *prometheus.CounterVec

	// 流事件指标
	streamEventsTotal *prometheus.CounterVec

	logger *zap.Logger
}

var tokenBuckets = prometheus.ExponentialBuckets(64, 2, 12)

// NewCollector 创建指标收集器
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// HTTP 指标
	c.httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.httpRequestSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_size_bytes",
			Help:      "HTTP request size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	c.httpResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	// 会话指标
	c.sessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of live conversation sessions",
		},
	)

	// 对话轮次指标
	c.exchangesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exchanges_total",
			Help:      "Total number of prompt/answer exchanges",
		},
		[]string{"transport", "model", "outcome"},
	)

	c.exchangeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "exchange_duration_seconds",
			Help:      "Exchange duration in seconds, from prompt to completion marker",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"transport", "model"},
	)

	c.promptTokens = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "prompt_tokens",
			Help:      "Token count of the serialized history per exchange",
			Buckets:   tokenBuckets,
		},
		[]string{"model"},
	)

	c.requestContextTokens = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_context_tokens",
			Help:      "Context window requested from the backend per exchange",
			Buckets:   tokenBuckets,
		},
		[]string{"model"},
	)

	c.historyTrimmed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "history_trimmed_messages_total",
			Help:      "Messages dropped from session history by the character budget",
		},
		[]string{"model"},
	)

	// 流事件指标
	c.streamEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_events_total",
			Help:      "Backend stream events relayed to clients",
		},
		[]string{"kind"},
	)

	return c
}

// =============================================================================
// 🎯 记录方法
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, requestSize, responseSize int64) {
	if c == nil {
		return
	}
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	if requestSize > 0 {
		c.httpRequestSize.WithLabelValues(method, path).Observe(float64(requestSize))
	}
	if responseSize > 0 {
		c.httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
	}
}

// SetActiveSessions 设置活跃会话数
func (c *Collector) SetActiveSessions(n int) {
	if c == nil {
		return
	}
	c.sessionsActive.Set(float64(n))
}

// RecordExchange 记录一轮对话的结果与耗时
func (c *Collector) RecordExchange(transport, model, outcome string, duration time.Duration) {
	if c == nil {
		return
	}
	c.exchangesTotal.WithLabelValues(transport, model, outcome).Inc()
	c.exchangeDuration.WithLabelValues(transport, model).Observe(duration.Seconds())
}

// RecordBudget 记录预算计算结果与被裁剪的消息数
func (c *Collector) RecordBudget(model string, promptTokens, requestContext, trimmed int) {
	if c == nil {
		return
	}
	c.promptTokens.WithLabelValues(model).Observe(float64(promptTokens))
	c.requestContextTokens.WithLabelValues(model).Observe(float64(requestContext))
	if trimmed > 0 {
		c.historyTrimmed.WithLabelValues(model).Add(float64(trimmed))
	}
}

// RecordStreamEvent 记录转发的流事件
func (c *Collector) RecordStreamEvent(kind string) {
	if c == nil {
		return
	}
	c.streamEventsTotal.WithLabelValues(kind).Inc()
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// statusCode 把状态码归并为 2xx/3xx/4xx/5xx
func statusCode(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	case code >= 200:
		return "2xx"
	default:
		return strconv.Itoa(code)
	}
}
