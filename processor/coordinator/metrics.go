package coordinator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus counters for the /metrics endpoint. The atomic fields on
// Component back the platform health surface; these back operators'
// dashboards.
var (
	metricEventsProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "taskpilot",
		Subsystem: "coordinator",
		Name:      "events_processed_total",
		Help:      "Task lifecycle events handled successfully.",
	})
	metricEventsRequeued = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "taskpilot",
		Subsystem: "coordinator",
		Name:      "events_requeued_total",
		Help:      "Events NAKed back to the stream for redelivery.",
	})
	metricEventsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "taskpilot",
		Subsystem: "coordinator",
		Name:      "events_failed_total",
		Help:      "Events that could not be decoded or handled.",
	})
)
