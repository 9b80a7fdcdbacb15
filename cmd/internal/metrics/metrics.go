// Package metrics holds the Prometheus instruments shared by the broker and its transports.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "comet"

// Transport label values.
const (
	TransportLongPoll = "longpoll"
	TransportStream   = "stream"
	TransportSocket   = "socket"
)

// Metrics is the set of broker instruments.
type Metrics struct {
	published  prometheus.Counter
	trimmed    prometheus.Counter
	deliveries *prometheus.CounterVec
	dropped    *prometheus.CounterVec

	channels    prometheus.Gauge
	waiters     prometheus.Gauge
	subscribers prometheus.Gauge
	sockets     prometheus.Gauge
}

// New registers all instruments on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		published: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_published_total",
			Help:      "Messages appended to channel logs.",
		}),
		trimmed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_trimmed_total",
			Help:      "Messages discarded by retention trimming.",
		}),
		deliveries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Deliveries handed to transport sinks.",
		}, []string{"transport", "reason"}),
		dropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_dropped_total",
			Help:      "Deliveries a sink could not accept.",
		}, []string{"transport"}),
		channels: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "channels",
			Help:      "Channels known to the registry.",
		}),
		waiters: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "longpoll_waiters",
			Help:      "Outstanding long-poll waiters.",
		}),
		subscribers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stream_subscribers",
			Help:      "Connected stream subscribers.",
		}),
		sockets: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "socket_sessions",
			Help:      "Open socket sessions.",
		}),
	}
}

func (m *Metrics) Published() {
	if m == nil {
		return
	}
	m.published.Inc()
}

func (m *Metrics) Trimmed(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.trimmed.Add(float64(n))
}

// Delivered counts one sink delivery; ok=false counts it as dropped instead.
func (m *Metrics) Delivered(transport, reason string, ok bool) {
	if m == nil {
		return
	}
	if !ok {
		m.dropped.WithLabelValues(transport).Inc()
		return
	}
	m.deliveries.WithLabelValues(transport, reason).Inc()
}

func (m *Metrics) ChannelCreated() {
	if m == nil {
		return
	}
	m.channels.Inc()
}

func (m *Metrics) WaiterAdded(delta int) {
	if m == nil {
		return
	}
	m.waiters.Add(float64(delta))
}

func (m *Metrics) SubscriberAdded(delta int) {
	if m == nil {
		return
	}
	m.subscribers.Add(float64(delta))
}

func (m *Metrics) SocketAdded(delta int) {
	if m == nil {
		return
	}
	m.sockets.Add(float64(delta))
}
