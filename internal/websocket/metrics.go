package websocket

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the chat collectors. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	sessionsActive prometheus.Gauge
	sessionsTotal  prometheus.Counter
	rejections     *prometheus.CounterVec
	messages       prometheus.Counter
	frameErrors    *prometheus.CounterVec
	deliveries     *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tunechat_ws_sessions_active",
			Help: "Current number of joined chat sessions.",
		}),
		sessionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tunechat_ws_sessions_total",
			Help: "Total number of chat sessions joined since start.",
		}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tunechat_ws_rejections_total",
			Help: "Connections closed before joining a room, by reason.",
		}, []string{"reason"}),
		messages: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tunechat_chat_messages_total",
			Help: "Chat messages persisted and published.",
		}),
		frameErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tunechat_ws_frame_errors_total",
			Help: "Inbound frames answered with an error frame, by reason.",
		}, []string{"reason"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tunechat_fanout_deliveries_total",
			Help: "Per-recipient fan-out deliveries, by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(
		m.sessionsActive,
		m.sessionsTotal,
		m.rejections,
		m.messages,
		m.frameErrors,
		m.deliveries,
	)
	return m
}

func (m *Metrics) incSession() {
	if m == nil {
		return
	}
	m.sessionsActive.Inc()
	m.sessionsTotal.Inc()
}

func (m *Metrics) decSession() {
	if m == nil {
		return
	}
	m.sessionsActive.Dec()
}

// RecordRejection counts a connection refused before it joined a room.
func (m *Metrics) RecordRejection(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unknown"
	}
	m.rejections.WithLabelValues(reason).Inc()
}

func (m *Metrics) recordMessage() {
	if m == nil {
		return
	}
	m.messages.Inc()
}

func (m *Metrics) recordFrameError(reason string) {
	if m == nil {
		return
	}
	m.frameErrors.WithLabelValues(reason).Inc()
}

func (m *Metrics) recordDelivery(result string) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(result).Inc()
}
