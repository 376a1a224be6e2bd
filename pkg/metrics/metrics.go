package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all application metrics
type Metrics struct {
	// Ingestion metrics
	EventsReceived  *prometheus.CounterVec
	EventsProcessed *prometheus.CounterVec
	EventsFailed    *prometheus.CounterVec
	EventsDuplicate prometheus.Counter

	// Verification metrics
	VerificationAttempts *prometheus.CounterVec
	VerificationLatency  prometheus.Histogram

	// Dispatch / retry metrics
	DispatchLatency  *prometheus.HistogramVec
	RetryAttempts    *prometheus.CounterVec
	RetriesExhausted prometheus.Counter

	// Sweep metrics
	SweepLatency   prometheus.Histogram
	SweepBatchSize prometheus.Gauge

	// Database metrics
	DatabaseOperations *prometheus.CounterVec
}

// NewMetrics creates and registers all application metrics
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		EventsReceived: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_received_total",
			Help:      "Total number of webhook events accepted into the ledger",
		}, []string{"event_type"}),
		EventsProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_processed_total",
			Help:      "Total number of webhook events processed successfully",
		}, []string{"event_type"}),
		EventsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_failed_total",
			Help:      "Total number of webhook events whose handler failed",
		}, []string{"event_type"}),
		EventsDuplicate: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_duplicate_total",
			Help:      "Total number of duplicate deliveries short-circuited",
		}),
		VerificationAttempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verification_attempts_total",
			Help:      "Total number of signature verification attempts",
		}, []string{"outcome"}),
		VerificationLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "verification_duration_seconds",
			Help:      "Time spent verifying webhook signatures",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1},
		}),
		DispatchLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Time spent in handler dispatch",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"event_type"}),
		RetryAttempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retry_attempts_total",
			Help:      "Total number of retry attempts",
		}, []string{"event_type"}),
		RetriesExhausted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_exhausted_total",
			Help:      "Total number of events that hit the retry ceiling",
		}),
		SweepLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Time spent per retry sweep pass",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		SweepBatchSize: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sweep_batch_size",
			Help:      "Number of due events claimed by the last sweep",
		}),
		DatabaseOperations: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "database_operations_total",
			Help:      "Total number of database operations",
		}, []string{"operation", "status"}),
	}
}
