package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels classifications that produced a verdict.
	OutcomeSuccess = "success"
	// OutcomeError labels classifications that failed (validation, policy, or storage).
	OutcomeError = "error"
)

var (
	verdictsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "verdict_engine",
			Name:      "verdicts_total",
			Help:      "Total number of classification calls handled, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	classificationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "verdict_engine",
			Name:      "classification_seconds",
			Help:      "Classification latency in seconds.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
	)

	verdictsByClass = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "verdict_engine",
			Name:      "verdicts_by_class_total",
			Help:      "Verdicts recorded, partitioned by error class and proposed action.",
		},
		[]string{"error_class", "action"},
	)

	historyAppendFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "verdict_engine",
			Name:      "history_append_failures_total",
			Help:      "Fingerprint history appends that failed and were swallowed.",
		},
	)

	snapshotsCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "verdict_engine",
			Name:      "snapshots_created_total",
			Help:      "Policy snapshots captured for first-seen executions.",
		},
	)

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "verdict_engine",
			Name:      "http_requests_total",
			Help:      "HTTP requests served, partitioned by method, route, and status code.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "verdict_engine",
			Name:      "http_request_seconds",
			Help:      "HTTP request latency in seconds.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
	)
)

// Register attaches verdict-engine collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		verdictsTotal,
		classificationSeconds,
		verdictsByClass,
		historyAppendFailures,
		snapshotsCreated,
		httpRequestsTotal,
		httpRequestSeconds,
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

// ObserveClassification records a classification duration and outcome label.
func ObserveClassification(duration time.Duration, outcome string) {
	label := outcome
	if label != OutcomeError {
		label = OutcomeSuccess
	}
	verdictsTotal.WithLabelValues(label).Inc()
	if duration < 0 {
		duration = 0
	}
	classificationSeconds.Observe(duration.Seconds())
}

// IncVerdict counts one recorded verdict by class and action.
func IncVerdict(errorClass, action string) {
	verdictsByClass.WithLabelValues(errorClass, action).Inc()
}

// IncHistoryAppendFailure counts one swallowed history append failure.
func IncHistoryAppendFailure() {
	historyAppendFailures.Inc()
}

// IncSnapshotCreated counts one freshly captured policy snapshot.
func IncSnapshotCreated() {
	snapshotsCreated.Inc()
}

// ObserveHTTPRequest records one served HTTP request.
func ObserveHTTPRequest(method, route, status string, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, status).Inc()
	if duration < 0 {
		duration = 0
	}
	httpRequestSeconds.Observe(duration.Seconds())
}
