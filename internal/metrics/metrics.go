// Package metrics exposes Prometheus instruments for the realtime layer.
// All methods are safe to call on a nil *Metrics.
package metrics

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	connections    prometheus.Gauge
	online         prometheus.Gauge
	messagesSaved  *prometheus.CounterVec
	deliveries     *prometheus.CounterVec
	signals        *prometheus.CounterVec
	sendFailures   *prometheus.CounterVec
	emitFailures   prometheus.Counter
	droppedInbound prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "marketchat_connections",
			Help: "Live socket connections, announced or not.",
		}),
		online: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "marketchat_online_identities",
			Help: "Identities currently mapped to a live connection.",
		}),
		messagesSaved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketchat_messages_persisted_total",
			Help: "Messages persisted, by message type.",
		}, []string{"type"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketchat_deliveries_total",
			Help: "Live message emits by target (receiver, sender) and outcome (delivered, offline).",
		}, []string{"target", "outcome"}),
		signals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketchat_signals_total",
			Help: "Call-signaling events by event name and outcome (forwarded, dropped).",
		}, []string{"event", "outcome"}),
		sendFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketchat_send_failures_total",
			Help: "Rejected or failed sends by reason.",
		}, []string{"reason"}),
		emitFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "marketchat_emit_failures_total",
			Help: "Events that could not be handed to a connection.",
		}),
		droppedInbound: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "marketchat_inbound_dropped_total",
			Help: "Inbound socket events dropped by the per-connection rate limit.",
		}),
	}

	reg.MustRegister(
		m.connections,
		m.online,
		m.messagesSaved,
		m.deliveries,
		m.signals,
		m.sendFailures,
		m.emitFailures,
		m.droppedInbound,
	)
	return m
}

func (m *Metrics) SetConnections(n int) {
	if m == nil {
		return
	}
	m.connections.Set(float64(n))
}

func (m *Metrics) SetOnline(n int) {
	if m == nil {
		return
	}
	m.online.Set(float64(n))
}

func (m *Metrics) RecordPersisted(msgType string) {
	if m == nil {
		return
	}
	m.messagesSaved.WithLabelValues(msgType).Inc()
}

// RecordDelivery counts one live emit attempt; target is "receiver" or "sender".
func (m *Metrics) RecordDelivery(target string, delivered bool) {
	if m == nil {
		return
	}
	outcome := "offline"
	if delivered {
		outcome = "delivered"
	}
	m.deliveries.WithLabelValues(target, outcome).Inc()
}

func (m *Metrics) RecordSignal(event string, forwarded bool) {
	if m == nil {
		return
	}
	outcome := "dropped"
	if forwarded {
		outcome = "forwarded"
	}
	m.signals.WithLabelValues(event, outcome).Inc()
}

func (m *Metrics) RecordSendFailure(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unknown"
	}
	m.sendFailures.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordEmitFailure() {
	if m == nil {
		return
	}
	m.emitFailures.Inc()
}

func (m *Metrics) RecordInboundDropped() {
	if m == nil {
		return
	}
	m.droppedInbound.Inc()
}
