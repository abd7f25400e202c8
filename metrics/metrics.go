package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "digitanimal"

var (
	ReadingsFetched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readings_fetched_total",
			Help:      "Device readings returned by the vendor API.",
		},
		[]string{"integration", "action"},
	)

	ReadingsFiltered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readings_filtered_total",
			Help:      "Device readings dropped because they were not newer than the stored watermark.",
		},
		[]string{"integration", "action"},
	)

	BatchesDispatched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_dispatched_total",
			Help:      "Observation batches sent to the ingestion sink.",
		},
		[]string{"integration"},
	)

	ObservationsAccepted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "observations_accepted_total",
			Help:      "Observations the ingestion sink reported as accepted.",
		},
		[]string{"integration"},
	)

	ActionRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "action_runs_total",
			Help:      "Action executions by outcome.",
		},
		[]string{"integration", "action", "outcome"},
	)

	ActionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "action_duration_seconds",
			Help:      "Action execution time.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"integration", "action"},
	)

	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Requests served by the trigger API, by route, method and status.",
		},
		[]string{"route", "method", "status"},
	)
)

func init() {
	prometheus.MustRegister(
		ReadingsFetched,
		ReadingsFiltered,
		BatchesDispatched,
		ObservationsAccepted,
		ActionRuns,
		ActionDuration,
		HTTPRequests,
	)
}

// Handler exposes the default registry
func Handler() http.Handler {
	return promhttp.Handler()
}
