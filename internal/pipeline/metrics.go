package pipeline

import "github.com/prometheus/client_golang/prometheus"

// Metrics of the bus-facing stages. A nil *Metrics records nothing.
type Metrics struct {
	routed      prometheus.Counter
	fanout      prometheus.Histogram
	undecodable prometheus.Counter
	noRecipient prometheus.Counter
	retried     *prometheus.CounterVec
	inbound     prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		routed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "edgechat_router_messages_routed_total",
			Help: "Outbound messages published to at least one edge.",
		}),
		fanout: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "edgechat_router_fanout_edges",
			Help:    "Edges a routed message was copied to.",
			Buckets: []float64{1, 2, 3, 5, 8},
		}),
		undecodable: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "edgechat_bus_undecodable_total",
			Help: "Bus payloads dropped because they could not be decoded.",
		}),
		noRecipient: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "edgechat_router_no_recipient_total",
			Help: "Outbound messages dropped because the recipient is not present.",
		}),
		retried: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "edgechat_router_retried_total",
			Help: "Outbound messages handed back to the bus for redelivery, by cause.",
		}, []string{"cause"}),
		inbound: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "edgechat_edge_inbound_messages_total",
			Help: "Messages taken from this edge's inbound topic.",
		}),
	}

	reg.MustRegister(
		m.routed,
		m.fanout,
		m.undecodable,
		m.noRecipient,
		m.retried,
		m.inbound,
	)
	return m
}

func (m *Metrics) RecordRouted(edges int) {
	if m == nil {
		return
	}
	m.routed.Inc()
	m.fanout.Observe(float64(edges))
}

func (m *Metrics) RecordUndecodable() {
	if m == nil {
		return
	}
	m.undecodable.Inc()
}

func (m *Metrics) RecordNoRecipient() {
	if m == nil {
		return
	}
	m.noRecipient.Inc()
}

func (m *Metrics) RecordRetry(cause string) {
	if m == nil {
		return
	}
	m.retried.WithLabelValues(cause).Inc()
}

func (m *Metrics) RecordInbound() {
	if m == nil {
		return
	}
	m.inbound.Inc()
}
