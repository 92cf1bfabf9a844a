package metrics

import (
	"net/http"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dep2p/go-btpnips/internal/propagation"
)

const namespace = "btpnips"

// Metrics 节点 Prometheus 指标
//
// 使用独立的 Registry，不污染全局默认注册表。
type Metrics struct {
	registry  *prometheus.Registry
	bandwidth *BandwidthCounter

	packetsIn      *prometheus.CounterVec
	packetsDropped *prometheus.CounterVec
	authFailures   *prometheus.CounterVec
	claims         *prometheus.CounterVec
	acks           *prometheus.CounterVec

	propagations *prometheus.CounterVec
	deliveries   *prometheus.CounterVec

	transitions *prometheus.CounterVec
	connections *prometheus.GaugeVec

	settlements *prometheus.CounterVec
}

var _ propagation.Observer = (*Metrics)(nil)

// New 创建指标集合
func New(clk clock.Clock) *Metrics {
	m := &Metrics{
		registry:  prometheus.NewRegistry(),
		bandwidth: NewBandwidthCounter(clk),

		packetsIn: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_inbound_total",
			Help:      "Decoded inbound packets by message kind.",
		}, []string{"kind"}),
		packetsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_dropped_total",
			Help:      "Inbound packets rejected before processing, by reason.",
		}, []string{"reason"}),
		authFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_failures_total",
			Help:      "Events rejected by signature verification, by reason.",
		}, []string{"reason"}),
		claims: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "claims_total",
			Help:      "Payment claim verifications by result.",
		}, []string{"result"}),
		acks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "acks_total",
			Help:      "Acknowledgements sent, by acceptance.",
		}, []string{"accepted"}),
		propagations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "propagations_total",
			Help:      "Propagation runs by outcome.",
		}, []string{"outcome"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "propagation_deliveries_total",
			Help:      "Per-peer propagation results.",
		}, []string{"result"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lifecycle_transitions_total",
			Help:      "Peer connection state transitions by target state.",
		}, []string{"to"}),
		connections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections",
			Help:      "Peer connections by state.",
		}, []string{"state"}),
		settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlements_total",
			Help:      "Settlement attempts by result.",
		}, []string{"result"}),
	}

	bw := m.bandwidth
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.packetsIn,
		m.packetsDropped,
		m.authFailures,
		m.claims,
		m.acks,
		m.propagations,
		m.deliveries,
		m.transitions,
		m.connections,
		m.settlements,
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transport_bytes_received_total",
			Help:      "Bytes received over the transport.",
		}, func() float64 { return float64(bw.Totals().TotalIn) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transport_bytes_sent_total",
			Help:      "Bytes sent over the transport.",
		}, func() float64 { return float64(bw.Totals().TotalOut) }),
	)
	return m
}

// Registry 返回指标注册表
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Bandwidth 返回带宽计数器
func (m *Metrics) Bandwidth() *BandwidthCounter {
	return m.bandwidth
}

// Handler 返回 /metrics HTTP 处理器
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// PacketReceived 记录解码成功的入站包
func (m *Metrics) PacketReceived(kind string) {
	m.packetsIn.WithLabelValues(kind).Inc()
}

// PacketDropped 记录被丢弃的入站包
func (m *Metrics) PacketDropped(reason string) {
	m.packetsDropped.WithLabelValues(reason).Inc()
}

// AuthFailed 记录认证失败
func (m *Metrics) AuthFailed(reason string) {
	m.authFailures.WithLabelValues(reason).Inc()
}

// ClaimVerified 记录声明校验结果，valid 时 reason 为空
func (m *Metrics) ClaimVerified(valid bool, reason string) {
	if valid {
		m.claims.WithLabelValues("valid").Inc()
		return
	}
	m.claims.WithLabelValues(reason).Inc()
}

// AckSent 记录发出的 ACK
func (m *Metrics) AckSent(accepted bool) {
	label := "false"
	if accepted {
		label = "true"
	}
	m.acks.WithLabelValues(label).Inc()
}

// ObservePropagation 实现 propagation.Observer
func (m *Metrics) ObservePropagation(s propagation.Summary) {
	switch {
	case s.Duplicate:
		m.propagations.WithLabelValues("duplicate").Inc()
		return
	case s.TTLExhausted:
		m.propagations.WithLabelValues("ttl_exhausted").Inc()
		return
	}
	m.propagations.WithLabelValues("forwarded").Inc()
	m.deliveries.WithLabelValues("sent").Add(float64(s.Sent))
	m.deliveries.WithLabelValues("skipped_source").Add(float64(s.SkippedSource))
	m.deliveries.WithLabelValues("skipped_duplicate").Add(float64(s.SkippedDuplicate))
	m.deliveries.WithLabelValues("rate_limited").Add(float64(s.SkippedRateLimited))
	m.deliveries.WithLabelValues("failed").Add(float64(s.Failed))
}

// ConnectionTransition 记录连接状态变化
//
// from 为空表示新出现的连接；removed 表示记录被删除（此时 from 为删除时的状态）。
func (m *Metrics) ConnectionTransition(from, to string, removed bool) {
	if from != "" {
		m.connections.WithLabelValues(from).Dec()
	}
	if removed {
		return
	}
	m.connections.WithLabelValues(to).Inc()
	m.transitions.WithLabelValues(to).Inc()
}

// SettlementResult 记录结算结果：settled / skipped / error
func (m *Metrics) SettlementResult(result string) {
	m.settlements.WithLabelValues(result).Inc()
}
