// Package metrics holds the Prometheus collectors for one notifyd instance.
//
// Every collector is registered on a per-instance registry rather than the
// global default, so several instances can live in one test process. All
// methods are safe on a nil *Metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tasknotify"

// Metrics is the set of collectors exported on /metrics.
type Metrics struct {
	registry *prometheus.Registry

	Connections        prometheus.Gauge
	OnlineUsers        prometheus.Gauge
	RelayState         prometheus.Gauge
	AuthFailures       *prometheus.CounterVec
	RelayMessages      *prometheus.CounterVec
	LocalFallbacks     prometheus.Counter
	SubscriberFailures *prometheus.CounterVec
	DroppedSends       prometheus.Counter
	EventsPublished    *prometheus.CounterVec
}

// New creates the collectors on a fresh registry, including the Go runtime
// and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		// Connection metrics
		Connections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections",
			Help:      "Open authenticated websocket connections on this instance",
		}),
		OnlineUsers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "online_users",
			Help:      "Users with at least one open connection on this instance",
		}),
		AuthFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_failures_total",
			Help:      "Rejected connection attempts",
		}, []string{"reason"}),
		DroppedSends: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_sends_total",
			Help:      "Messages dropped because a connection's send buffer was full",
		}),

		// Relay metrics
		RelayState: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "relay_state",
			Help:      "Relay connection state (0 disconnected, 1 connecting, 2 ready, 3 degraded, 4 reconnecting)",
		}),
		RelayMessages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_messages_total",
			Help:      "Relay messages by outcome",
		}, []string{"outcome"}), // published, unconfirmed, received, malformed
		LocalFallbacks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_local_fallbacks_total",
			Help:      "Broadcasts delivered to this instance only because the relay was unavailable",
		}),

		// Event bus metrics
		SubscriberFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscriber_failures_total",
			Help:      "Event bus subscriber failures",
		}, []string{"type", "subscriber"}),
		EventsPublished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Domain events published on the bus",
		}, []string{"type"}),
	}
}

// Registry returns the instance registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) SetConnections(n int) {
	if m != nil {
		m.Connections.Set(float64(n))
	}
}

func (m *Metrics) SetOnlineUsers(n int) {
	if m != nil {
		m.OnlineUsers.Set(float64(n))
	}
}

func (m *Metrics) SetRelayState(state int) {
	if m != nil {
		m.RelayState.Set(float64(state))
	}
}

func (m *Metrics) AuthFailed(reason string) {
	if m != nil {
		m.AuthFailures.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) RelayMessage(outcome string) {
	if m != nil {
		m.RelayMessages.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) LocalFallback() {
	if m != nil {
		m.LocalFallbacks.Inc()
	}
}

func (m *Metrics) SubscriberFailed(eventType, subscriber string) {
	if m != nil {
		m.SubscriberFailures.WithLabelValues(eventType, subscriber).Inc()
	}
}

func (m *Metrics) SendDropped() {
	if m != nil {
		m.DroppedSends.Inc()
	}
}

func (m *Metrics) EventPublished(eventType string) {
	if m != nil {
		m.EventsPublished.WithLabelValues(eventType).Inc()
	}
}
