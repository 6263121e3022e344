package relay

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics are the relay's Prometheus collectors. Each Metrics value owns its
// own registry so several relays can live in one process.
type Metrics struct {
	registry *prometheus.Registry

	sessions   prometheus.Gauge
	rooms      prometheus.Gauge
	relayed    *prometheus.CounterVec
	dropped    *prometheus.CounterVec
	joinErrors *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "roomdrop",
			Subsystem: "relay",
			Name:      "sessions",
			Help:      "Connected sessions.",
		}),
		rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "roomdrop",
			Subsystem: "relay",
			Name:      "rooms",
			Help:      "Open rooms.",
		}),
		relayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "roomdrop",
			Subsystem: "relay",
			Name:      "signals_relayed_total",
			Help:      "Negotiation messages forwarded to the other room member.",
		}, []string{"kind"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "roomdrop",
			Subsystem: "relay",
			Name:      "signals_dropped_total",
			Help:      "Negotiation messages dropped because the sender had no full room.",
		}, []string{"kind"}),
		joinErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "roomdrop",
			Subsystem: "relay",
			Name:      "join_errors_total",
			Help:      "Rejected join requests.",
		}, []string{"code"}),
	}

	m.registry.MustRegister(m.sessions, m.rooms, m.relayed, m.dropped, m.joinErrors)
	return m
}

// Handler serves the metrics in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests and embedding.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
