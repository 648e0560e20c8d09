package transport

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the broker's prometheus collectors. Each Metrics has its own
// registry so several brokers can live in one process.
type Metrics struct {
	Registry *prometheus.Registry

	connections prometheus.Gauge
	commands    *prometheus.CounterVec
	published   prometheus.Counter
	dropped     prometheus.Counter
}

func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
	}

	m.connections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "pubsub",
		Subsystem: "broker",
		Name:      "connections",
		Help:      "Number of open client connections",
	})

	m.commands = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pubsub",
			Subsystem: "broker",
			Name:      "commands_total",
			Help:      "Total number of commands received",
		},
		[]string{"command"},
	)

	m.published = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "pubsub",
		Subsystem: "broker",
		Name:      "published_total",
		Help:      "Total number of PUBLISH commands handled",
	})

	m.dropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "pubsub",
		Subsystem: "broker",
		Name:      "pushes_dropped_total",
		Help:      "Pushes dropped because a subscriber was not keeping up",
	})

	m.Registry.MustRegister(m.connections, m.commands, m.published, m.dropped)

	return m
}
