package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce         sync.Once
	transitionsTotal     *prometheus.CounterVec
	agreementOutcomes    *prometheus.CounterVec
	sweepRunsTotal       *prometheus.CounterVec
	sweepDurationSeconds prometheus.Histogram
	publishedSubmissions prometheus.Counter
	eventPublishFailures *prometheus.CounterVec
)

// RegisterMetrics initialises the Prometheus collectors used by the workflow engine.
func RegisterMetrics() {
	registerOnce.Do(func() {
		transitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coursework_transitions_total",
			Help: "Workflow transitions attempted, by transition and outcome.",
		}, []string{"transition", "outcome"})

		agreementOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coursework_auto_agreement_total",
			Help: "Automatic agreement attempts, by strategy and outcome.",
		}, []string{"strategy", "outcome"})

		sweepRunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coursework_sweep_runs_total",
			Help: "Periodic sweep runs, by outcome.",
		}, []string{"outcome"})

		sweepDurationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "coursework_sweep_duration_seconds",
			Help:    "Duration of periodic sweep runs.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		})

		publishedSubmissions = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coursework_published_submissions_total",
			Help: "Submissions whose grades were released.",
		})

		eventPublishFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coursework_event_publish_failures_total",
			Help: "Workflow events that could not be delivered, by broker.",
		}, []string{"broker"})

		prometheus.MustRegister(transitionsTotal, agreementOutcomes, sweepRunsTotal, sweepDurationSeconds, publishedSubmissions, eventPublishFailures)
	})
}

// Transitions exposes the workflow transition counter.
func Transitions() *prometheus.CounterVec {
	RegisterMetrics()
	return transitionsTotal
}

// AgreementOutcomes exposes the automatic agreement counter.
func AgreementOutcomes() *prometheus.CounterVec {
	RegisterMetrics()
	return agreementOutcomes
}

// SweepRuns exposes the sweep run counter.
func SweepRuns() *prometheus.CounterVec {
	RegisterMetrics()
	return sweepRunsTotal
}

// SweepDuration exposes the sweep duration histogram.
func SweepDuration() prometheus.Histogram {
	RegisterMetrics()
	return sweepDurationSeconds
}

// PublishedSubmissions exposes the publication counter.
func PublishedSubmissions() prometheus.Counter {
	RegisterMetrics()
	return publishedSubmissions
}

// EventPublishFailures exposes the event delivery failure counter.
func EventPublishFailures() *prometheus.CounterVec {
	RegisterMetrics()
	return eventPublishFailures
}
