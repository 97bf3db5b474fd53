// Package metrics exposes Prometheus collectors for backend traffic,
// stale responses, alerts, and mutations.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels requests that returned a usable payload.
	OutcomeSuccess = "success"
	// OutcomeError labels transport and semantic failures.
	OutcomeError = "error"
	// OutcomeCanceled labels requests abandoned by their caller.
	OutcomeCanceled = "canceled"
)

var (
	backendRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "adminsync",
			Name:      "backend_requests_total",
			Help:      "Backend requests issued, partitioned by operation and outcome.",
		},
		[]string{"op", "outcome"},
	)

	backendRequestSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "adminsync",
			Name:      "backend_request_seconds",
			Help:      "Backend request latency in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20},
		},
		[]string{"op"},
	)

	staleResponsesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "adminsync",
			Name:      "stale_responses_total",
			Help:      "List responses discarded because a newer request superseded them.",
		},
		[]string{"resource"},
	)

	alertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "adminsync",
			Name:      "alerts_total",
			Help:      "Counter increases that raised or restarted an alert.",
		},
		[]string{"resource", "counter"},
	)

	mutationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "adminsync",
			Name:      "mutations_total",
			Help:      "Mutation attempts, partitioned by resource, kind, and outcome.",
		},
		[]string{"resource", "kind", "outcome"},
	)
)

// Register attaches the adminsync collectors to the supplied registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		backendRequestsTotal,
		backendRequestSeconds,
		staleResponsesTotal,
		alertsTotal,
		mutationsTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveBackendRequest records one backend call.
func ObserveBackendRequest(op string, duration time.Duration, outcome string) {
	switch outcome {
	case OutcomeSuccess, OutcomeCanceled:
	default:
		outcome = OutcomeError
	}
	backendRequestsTotal.WithLabelValues(op, outcome).Inc()
	if duration < 0 {
		duration = 0
	}
	backendRequestSeconds.WithLabelValues(op).Observe(duration.Seconds())
}

// IncStaleResponse counts a discarded list response.
func IncStaleResponse(resource string) {
	staleResponsesTotal.WithLabelValues(resource).Inc()
}

// IncAlert counts an alert activation or restart.
func IncAlert(resource, counter string) {
	alertsTotal.WithLabelValues(resource, counter).Inc()
}

// IncMutation counts a mutation outcome.
func IncMutation(resource, kind, outcome string) {
	mutationsTotal.WithLabelValues(resource, kind, outcome).Inc()
}
