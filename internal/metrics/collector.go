// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
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

// Collector 指标收集器. A nil *Collector is valid and records nothing, so
// components can take one optionally.
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// 步骤指标
	stepTransitions  *prometheus.CounterVec
	dispatchDuration *prometheus.HistogramVec
	classifications  *prometheus.CounterVec
	recoveries       *prometheus.CounterVec
	droppedEdges     prometheus.Counter

	// 工作产物指标
	workProducts *prometheus.CounterVec
	fileUploads  *prometheus.CounterVec

	// 冲突指标
	conflicts *prometheus.CounterVec
	votes     prometheus.Counter

	logger *zap.Logger
}

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

	// 步骤指标
	c.stepTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "step_transitions_total",
			Help:      "Total number of step state transitions",
		},
		[]string{"agent_id", "from_state", "to_state"},
	)

	c.dispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "plugin_dispatch_duration_seconds",
			Help:      "Plugin execution call duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"operation", "outcome"},
	)

	c.classifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "error_classifications_total",
			Help:      "Total number of classified step failures",
		},
		[]string{"category", "fault"},
	)

	c.recoveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recoveries_total",
			Help:      "Total number of recovery attempts",
		},
		[]string{"strategy", "outcome"},
	)

	c.droppedEdges = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dependency_edges_dropped_total",
			Help:      "Total number of dependency edges dropped to break cycles",
		},
	)

	// 工作产物指标
	c.workProducts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "work_products_total",
			Help:      "Total number of persisted work products",
		},
		[]string{"type", "scope"},
	)

	c.fileUploads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "shared_file_uploads_total",
			Help:      "Total number of shared file uploads",
		},
		[]string{"status"},
	)

	// 冲突指标
	c.conflicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conflicts_total",
			Help:      "Total number of conflict lifecycle events",
		},
		[]string{"status"},
	)

	c.votes = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conflict_votes_total",
			Help:      "Total number of conflict votes received",
		},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🎯 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	if c == nil {
		return
	}
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// =============================================================================
// 🪜 步骤指标记录
// =============================================================================

// RecordStepTransition 记录步骤状态转换
func (c *Collector) RecordStepTransition(agentID, fromState, toState string) {
	if c == nil {
		return
	}
	c.stepTransitions.WithLabelValues(agentID, fromState, toState).Inc()
}

// RecordDispatch 记录插件调用耗时
func (c *Collector) RecordDispatch(operation, outcome string, duration time.Duration) {
	if c == nil {
		return
	}
	c.dispatchDuration.WithLabelValues(operation, outcome).Observe(duration.Seconds())
}

// RecordClassification 记录错误分类
func (c *Collector) RecordClassification(category, fault string) {
	if c == nil {
		return
	}
	c.classifications.WithLabelValues(category, fault).Inc()
}

// RecordRecovery 记录恢复策略结果
func (c *Collector) RecordRecovery(strategy string, recovered bool) {
	if c == nil {
		return
	}
	outcome := "failed"
	if recovered {
		outcome = "recovered"
	}
	c.recoveries.WithLabelValues(strategy, outcome).Inc()
}

// RecordDroppedEdge 记录为打破循环而删除的依赖边
func (c *Collector) RecordDroppedEdge() {
	if c == nil {
		return
	}
	c.droppedEdges.Inc()
}

// =============================================================================
// 📦 工作产物指标记录
// =============================================================================

// RecordWorkProduct 记录工作产物持久化
func (c *Collector) RecordWorkProduct(typ, scope string) {
	if c == nil {
		return
	}
	c.workProducts.WithLabelValues(typ, scope).Inc()
}

// RecordUpload 记录共享文件上传
func (c *Collector) RecordUpload(ok bool) {
	if c == nil {
		return
	}
	status := "success"
	if !ok {
		status = "failure"
	}
	c.fileUploads.WithLabelValues(status).Inc()
}

// =============================================================================
// 🗳️ 冲突指标记录
// =============================================================================

// RecordConflict 记录冲突状态变化 (created / resolved / escalated)
func (c *Collector) RecordConflict(status string) {
	if c == nil {
		return
	}
	c.conflicts.WithLabelValues(status).Inc()
}

// RecordVote 记录一次投票
func (c *Collector) RecordVote() {
	if c == nil {
		return
	}
	c.votes.Inc()
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// statusCode 将 HTTP 状态码转换为字符串
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
