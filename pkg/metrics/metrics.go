// Package metrics 提供 Prometheus helper，包含服务通用指标与事件流指标
package metrics

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/wyfcoding/orderstream/pkg/logger"
)

// Metrics 指标集合
type Metrics struct {
	// HTTP 请求计数
	HTTPRequestsTotal prometheus.Counter
	// HTTP 请求耗时
	HTTPRequestDuration prometheus.Histogram

	// 数据库查询计数
	DBQueriesTotal prometheus.Counter
	// 数据库查询耗时
	DBQueryDuration prometheus.Histogram

	// 当前连接的会话数
	SessionsConnected prometheus.Gauge
	// 被强制关闭的会话数
	SessionsForceClosed prometheus.Counter
	// 已分发的事件数
	EventsDispatched prometheus.Counter
	// 因队列满被丢弃的出站消息数
	MessagesDropped prometheus.Counter

	// 已应用的执行事实数
	FactsApplied prometheus.Counter
	// 被拒绝的执行事实数（非法状态迁移/超额成交）
	FactsRejected prometheus.Counter
	// 事实应用耗时
	FactApplyDuration prometheus.Histogram
}

// New 创建指标实例
func New(serviceName string) *Metrics {
	return &Metrics{
		HTTPRequestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "trading",
			Subsystem: serviceName,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests",
		}),
		HTTPRequestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "trading",
			Subsystem: serviceName,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		DBQueriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "trading",
			Subsystem: serviceName,
			Name:      "db_queries_total",
			Help:      "Total database queries",
		}),
		DBQueryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "trading",
			Subsystem: serviceName,
			Name:      "db_query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		SessionsConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "trading",
			Subsystem: serviceName,
			Name:      "sessions_connected",
			Help:      "Number of currently connected client sessions",
		}),
		SessionsForceClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "trading",
			Subsystem: serviceName,
			Name:      "sessions_force_closed_total",
			Help:      "Sessions force-closed because a critical message could not be queued",
		}),
		EventsDispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "trading",
			Subsystem: serviceName,
			Name:      "events_dispatched_total",
			Help:      "Events enqueued to session outbound queues",
		}),
		MessagesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "trading",
			Subsystem: serviceName,
			Name:      "messages_dropped_total",
			Help:      "Outbound messages dropped due to full session queues",
		}),
		FactsApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "trading",
			Subsystem: serviceName,
			Name:      "facts_applied_total",
			Help:      "Execution facts applied to the order state machine",
		}),
		FactsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "trading",
			Subsystem: serviceName,
			Name:      "facts_rejected_total",
			Help:      "Execution facts rejected (invalid transition or overfill)",
		}),
		FactApplyDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "trading",
			Subsystem: serviceName,
			Name:      "fact_apply_duration_seconds",
			Help:      "Fact application duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

// Register 注册所有指标
func (m *Metrics) Register() error {
	collectors := []prometheus.Collector{
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.DBQueriesTotal,
		m.DBQueryDuration,
		m.SessionsConnected,
		m.SessionsForceClosed,
		m.EventsDispatched,
		m.MessagesDropped,
		m.FactsApplied,
		m.FactsRejected,
		m.FactApplyDuration,
	}

	for _, c := range collectors {
		if err := prometheus.Register(c); err != nil {
			return fmt.Errorf("failed to register collector: %w", err)
		}
	}
	return nil
}

// StartHTTPServer 启动指标 HTTP 服务
func StartHTTPServer(port int, path string) error {
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.Handler())

	go func() {
		addr := fmt.Sprintf(":%d", port)
		logger.Info(context.Background(), "Metrics server listening", "addr", addr, "path", path)
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error(context.Background(), "Metrics server error", "error", err)
		}
	}()
	return nil
}
