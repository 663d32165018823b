// Package metrics 提供节点的 Prometheus 指标
//
// 每个节点持有独立的 Registry，同一进程内的多个模拟节点互不干扰。
// 所有方法对 nil 接收者安全，组件可以在未注入指标时直接调用。
//
//	m := metrics.New()
//	m.ObserveOperation("put", "ok", time.Since(start))
//	http.Handle("/metrics", promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{}))
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dep2p/go-kvdht/pkg/types"
)

const namespace = "kvdht"

// Metrics 节点指标集合
type Metrics struct {
	registry *prometheus.Registry

	operations  *prometheus.CounterVec
	opDuration  *prometheus.HistogramVec
	requests    *prometheus.CounterVec
	served      *prometheus.CounterVec
	divergent   *prometheus.CounterVec
	transitions *prometheus.CounterVec
	routingSize prometheus.Gauge
}

// New 创建指标集合并注册到新的 Registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Replicated operations by type and outcome.",
		}, []string{"op", "outcome"}),
		opDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Time until the aggregation gate was reached.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
		}, []string{"op"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Outbound per-peer requests by message type and status.",
		}, []string{"type", "status"}),
		served: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "served_total",
			Help:      "Inbound requests served by message type.",
		}, []string{"type"}),
		divergent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "divergent_reads_total",
			Help:      "Reads whose replicas returned different values.",
		}, []string{"op"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "peer_transitions_total",
			Help:      "Churn state transitions.",
		}, []string{"from", "to"}),
		routingSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "routing_table_peers",
			Help:      "Peers currently in the routing table.",
		}),
	}

	m.registry.MustRegister(
		m.operations,
		m.opDuration,
		m.requests,
		m.served,
		m.divergent,
		m.transitions,
		m.routingSize,
	)
	return m
}

// Registry 返回指标注册表
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveOperation 记录一次副本操作
func (m *Metrics) ObserveOperation(op, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(op, outcome).Inc()
	m.opDuration.WithLabelValues(op).Observe(d.Seconds())
}

// ObserveRequest 记录一次出站请求
func (m *Metrics) ObserveRequest(msgType string, err error) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(msgType, StatusLabel(err)).Inc()
}

// ObserveServed 记录一次入站请求
func (m *Metrics) ObserveServed(msgType string) {
	if m == nil {
		return
	}
	m.served.WithLabelValues(msgType).Inc()
}

// ObserveDivergence 记录一次副本分歧
func (m *Metrics) ObserveDivergence(op string) {
	if m == nil {
		return
	}
	m.divergent.WithLabelValues(op).Inc()
}

// ObserveTransition 记录一次节点状态迁移
func (m *Metrics) ObserveTransition(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

// SetRoutingSize 设置路由表大小
func (m *Metrics) SetRoutingSize(n int) {
	if m == nil {
		return
	}
	m.routingSize.Set(float64(n))
}

// StatusLabel 将请求错误映射为低基数标签
func StatusLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, types.ErrNotFound):
		return "not_found"
	case errors.Is(err, types.ErrConflict):
		return "conflict"
	case errors.Is(err, types.ErrTimeout):
		return "timeout"
	case errors.Is(err, types.ErrUnreachable):
		return "unreachable"
	default:
		return "error"
	}
}
