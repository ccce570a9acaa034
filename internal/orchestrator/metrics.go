package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	spawns        prometheus.Counter
	exits         prometheus.Counter
	freezes       prometheus.Counter
	requests      *prometheus.CounterVec
	requestTime   *prometheus.HistogramVec
	pending       prometheus.Gauge
	live          prometheus.Gauge
	eventsDropped prometheus.Counter
}

// NewMetrics registers the orchestrator metrics on reg. A nil reg yields
// working but unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		spawns: f.NewCounter(prometheus.CounterOpts{
			Name: "workbench_backend_spawns_total",
			Help: "Backend processes started",
		}),
		exits: f.NewCounter(prometheus.CounterOpts{
			Name: "workbench_backend_exits_total",
			Help: "Backend processes that exited, including frozen ones",
		}),
		freezes: f.NewCounter(prometheus.CounterOpts{
			Name: "workbench_backend_freezes_total",
			Help: "Backends frozen explicitly or after the idle grace",
		}),
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "workbench_requests_total",
			Help: "Requests sent to backends by type and outcome",
		}, []string{"type", "outcome"}),
		requestTime: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "workbench_request_duration_seconds",
			Help:    "Backend request round trip time",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 9),
		}, []string{"type"}),
		pending: f.NewGauge(prometheus.GaugeOpts{
			Name: "workbench_requests_pending",
			Help: "Requests awaiting a backend reply",
		}),
		live: f.NewGauge(prometheus.GaugeOpts{
			Name: "workbench_backends_live",
			Help: "Running backend processes",
		}),
		eventsDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "workbench_events_dropped_total",
			Help: "Events dropped because a subscriber was full",
		}),
	}
}
