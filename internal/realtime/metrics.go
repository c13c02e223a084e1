package realtime

import "github.com/prometheus/client_golang/prometheus"

// Metrics of one edge. A nil *Metrics records nothing.
type Metrics struct {
	activeSessions    prometheus.Gauge
	connects          prometheus.Counter
	joins             *prometheus.CounterVec
	sent              prometheus.Counter
	publishFailures   prometheus.Counter
	delivered         prometheus.Counter
	deliveriesDropped prometheus.Counter
	outboxDropped     prometheus.Counter
	malformedFrames   prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "edgechat_edge_sessions",
			Help: "Sessions currently registered on this edge.",
		}),
		connects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "edgechat_edge_connects_total",
			Help: "Connections accepted and assigned an id.",
		}),
		joins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "edgechat_edge_joins_total",
			Help: "Join requests by outcome.",
		}, []string{"result"}),
		sent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "edgechat_edge_messages_sent_total",
			Help: "Chat messages published to the outbound topic.",
		}),
		publishFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "edgechat_edge_publish_failures_total",
			Help: "Chat messages that could not be published.",
		}),
		delivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "edgechat_edge_messages_delivered_total",
			Help: "Chat messages handed to a local session.",
		}),
		deliveriesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "edgechat_edge_deliveries_dropped_total",
			Help: "Inbound chat messages whose recipient is not on this edge.",
		}),
		outboxDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "edgechat_edge_outbox_dropped_total",
			Help: "Responses dropped because a session outbox was full.",
		}),
		malformedFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "edgechat_edge_malformed_frames_total",
			Help: "Sessions closed because of a malformed frame.",
		}),
	}

	reg.MustRegister(
		m.activeSessions,
		m.connects,
		m.joins,
		m.sent,
		m.publishFailures,
		m.delivered,
		m.deliveriesDropped,
		m.outboxDropped,
		m.malformedFrames,
	)
	return m
}

func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.activeSessions.Set(float64(n))
}

func (m *Metrics) RecordConnect() {
	if m == nil {
		return
	}
	m.connects.Inc()
}

func (m *Metrics) RecordJoin(result string) {
	if m == nil {
		return
	}
	m.joins.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordSent() {
	if m == nil {
		return
	}
	m.sent.Inc()
}

func (m *Metrics) RecordPublishFailure() {
	if m == nil {
		return
	}
	m.publishFailures.Inc()
}

func (m *Metrics) RecordDelivered() {
	if m == nil {
		return
	}
	m.delivered.Inc()
}

func (m *Metrics) RecordDeliveryDropped() {
	if m == nil {
		return
	}
	m.deliveriesDropped.Inc()
}

func (m *Metrics) RecordOutboxDropped() {
	if m == nil {
		return
	}
	m.outboxDropped.Inc()
}

func (m *Metrics) RecordMalformedFrame() {
	if m == nil {
		return
	}
	m.malformedFrames.Inc()
}
