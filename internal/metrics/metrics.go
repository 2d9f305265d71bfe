// Package metrics holds the relay's Prometheus instruments.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "relay"

// Drop reasons.
const (
	DropNoSession = "no_session"
	DropDecrypt   = "decrypt"
	DropSend      = "send"
	DropEncrypt   = "encrypt"
)

// Metrics groups the relay counters.
type Metrics struct {
	Connections       prometheus.Counter
	Clients           prometheus.Gauge
	Routed            *prometheus.CounterVec
	Dropped           *prometheus.CounterVec
	HandshakeFailures *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New creates the instruments and registers them with reg.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		Connections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Accepted transport connections.",
		}),
		Clients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "clients",
			Help:      "Identities with a completed handshake.",
		}),
		Routed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "envelopes_routed_total",
			Help:      "Envelopes delivered to a recipient, by type.",
		}, []string{"type"}),
		Dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "envelopes_dropped_total",
			Help:      "Envelopes dropped without delivery, by reason.",
		}, []string{"reason"}),
		HandshakeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handshake_failures_total",
			Help:      "Rejected handshakes, by error code.",
		}, []string{"code"}),
		gatherer: reg,
	}
	reg.MustRegister(m.Connections, m.Clients, m.Routed, m.Dropped, m.HandshakeFailures)
	return m
}

// NewUnregistered returns instruments on a private registry.
func NewUnregistered() *Metrics { return New(prometheus.NewRegistry()) }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
