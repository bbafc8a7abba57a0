// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Assignment metrics
	AssignmentsTotal      *prometheus.CounterVec
	EligibilityRejections *prometheus.CounterVec
	ForcedAssignments     prometheus.Counter
	DispatchLatency       prometheus.Histogram
	DispatchErrors        prometheus.Counter

	// Tracking metrics
	ConversionsRecorded   *prometheus.CounterVec
	CustomSamplesRecorded *prometheus.CounterVec

	// Significance metrics
	SignificanceRunsTotal *prometheus.CounterVec
	AutoConclusions       prometheus.Counter

	// Persistence metrics
	PersistenceErrors *prometheus.CounterVec

	// Analytics sink metrics
	EventsEmitted *prometheus.CounterVec
	SinkErrors    *prometheus.CounterVec

	// Health metrics
	LastSnapshotTimestamp prometheus.Gauge
	ExperimentsByStatus   *prometheus.GaugeVec
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "abtest_engine"
	}

	return &Metrics{
		// Assignment metrics
		AssignmentsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "assignment",
			Name:      "assignments_total",
			Help:      "Total number of variant assignments by experiment",
		}, []string{"experiment"}),
		EligibilityRejections: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "assignment",
			Name:      "eligibility_rejections_total",
			Help:      "Total number of visitors rejected by segment targeting",
		}, []string{"experiment"}),
		ForcedAssignments: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "assignment",
			Name:      "forced_assignments_total",
			Help:      "Total number of debug variant overrides",
		}),
		DispatchLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "assignment",
			Name:      "dispatch_latency_seconds",
			Help:      "Treatment dispatch latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		DispatchErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "assignment",
			Name:      "dispatch_errors_total",
			Help:      "Total number of treatment render failures",
		}),

		// Tracking metrics
		ConversionsRecorded: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tracking",
			Name:      "conversions_recorded_total",
			Help:      "Total number of conversion events recorded by metric",
		}, []string{"metric"}),
		CustomSamplesRecorded: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tracking",
			Name:      "custom_samples_recorded_total",
			Help:      "Total number of custom metric samples recorded by metric",
		}, []string{"metric"}),

		// Significance metrics
		SignificanceRunsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stats",
			Name:      "significance_runs_total",
			Help:      "Total number of significance evaluations by outcome",
		}, []string{"outcome"}),
		AutoConclusions: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stats",
			Name:      "auto_conclusions_total",
			Help:      "Total number of experiments auto-concluded on significance",
		}),

		// Persistence metrics
		PersistenceErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "persistence_errors_total",
			Help:      "Total number of registry persistence errors by operation",
		}, []string{"operation"}),

		// Analytics sink metrics
		EventsEmitted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "analytics",
			Name:      "events_emitted_total",
			Help:      "Total number of analytics events emitted by type",
		}, []string{"event_type"}),
		SinkErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "analytics",
			Name:      "sink_errors_total",
			Help:      "Total number of analytics sink delivery errors by sink",
		}, []string{"sink"}),

		// Health metrics
		LastSnapshotTimestamp: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_snapshot_timestamp",
			Help:      "Unix timestamp of last registry snapshot",
		}),
		ExperimentsByStatus: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "experiments",
			Help:      "Number of experiments by status",
		}, []string{"status"}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordAssignment increments the assignments counter for an experiment.
func RecordAssignment(experimentID string) {
	DefaultMetrics.AssignmentsTotal.WithLabelValues(experimentID).Inc()
}

// RecordEligibilityRejection increments the segment rejection counter.
func RecordEligibilityRejection(experimentID string) {
	DefaultMetrics.EligibilityRejections.WithLabelValues(experimentID).Inc()
}

// RecordForcedAssignment increments the debug override counter.
func RecordForcedAssignment() {
	DefaultMetrics.ForcedAssignments.Inc()
}

// RecordDispatch records treatment dispatch latency and outcome.
func RecordDispatch(seconds float64, err error) {
	DefaultMetrics.DispatchLatency.Observe(seconds)
	if err != nil {
		DefaultMetrics.DispatchErrors.Inc()
	}
}

// RecordConversion increments the conversion counter for a metric.
func RecordConversion(metric string) {
	DefaultMetrics.ConversionsRecorded.WithLabelValues(metric).Inc()
}

// RecordCustomSample increments the custom sample counter for a metric.
func RecordCustomSample(metric string) {
	DefaultMetrics.CustomSamplesRecorded.WithLabelValues(metric).Inc()
}

// RecordSignificanceRun records a significance evaluation outcome.
func RecordSignificanceRun(outcome string) {
	DefaultMetrics.SignificanceRunsTotal.WithLabelValues(outcome).Inc()
}

// RecordAutoConclusion increments the auto-conclusion counter.
func RecordAutoConclusion() {
	DefaultMetrics.AutoConclusions.Inc()
}

// RecordPersistenceError records a registry persistence error.
func RecordPersistenceError(operation string) {
	DefaultMetrics.PersistenceErrors.WithLabelValues(operation).Inc()
}

// RecordEventEmitted increments the analytics event counter.
func RecordEventEmitted(eventType string) {
	DefaultMetrics.EventsEmitted.WithLabelValues(eventType).Inc()
}

// RecordSinkError records an analytics sink delivery error.
func RecordSinkError(sink string) {
	DefaultMetrics.SinkErrors.WithLabelValues(sink).Inc()
}

// UpdateSnapshotTimestamp updates the last snapshot gauge.
func UpdateSnapshotTimestamp(unixSeconds int64) {
	DefaultMetrics.LastSnapshotTimestamp.Set(float64(unixSeconds))
}

// UpdateExperimentCounts updates the experiments-by-status gauges.
func UpdateExperimentCounts(counts map[string]int) {
	for status, n := range counts {
		DefaultMetrics.ExperimentsByStatus.WithLabelValues(status).Set(float64(n))
	}
}
