package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the server's Prometheus instruments.
type Metrics struct {
	FramesRead        prometheus.Counter
	FramesDropped     prometheus.Counter
	Mutations         *prometheus.CounterVec
	ConflictsRecorded prometheus.Counter
	PushesSent        prometheus.Counter
	PushFailures      prometheus.Counter
	ActiveSessions    prometheus.Gauge
}

// NewMetrics builds the instrument set. A nil registerer produces working
// instruments that are simply not registered, which is what tests use.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	factory := promauto.With(registry)
	return &Metrics{
		FramesRead: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "vmm",
			Subsystem: "server",
			Name:      "frames_read_total",
			Help:      "Frames read from request channels.",
		}),
		FramesDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "vmm",
			Subsystem: "server",
			Name:      "frames_dropped_total",
			Help:      "Frames dropped for unknown tags or unauthenticated sessions.",
		}),
		Mutations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vmm",
			Subsystem: "server",
			Name:      "mutations_total",
			Help:      "Meeting mutations applied, by operation.",
		}, []string{"operation"}),
		ConflictsRecorded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "vmm",
			Subsystem: "server",
			Name:      "conflicts_recorded_total",
			Help:      "Conflict groups recorded against an employee.",
		}),
		PushesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "vmm",
			Subsystem: "server",
			Name:      "pushes_sent_total",
			Help:      "Notification frames written to push channels.",
		}),
		PushFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "vmm",
			Subsystem: "server",
			Name:      "push_failures_total",
			Help:      "Notification frames that could not be delivered.",
		}),
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "vmm",
			Subsystem: "server",
			Name:      "active_sessions",
			Help:      "Sessions currently bound to an identity.",
		}),
	}
}
