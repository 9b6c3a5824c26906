package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "laoweather"

// Metrics holds the Prometheus collectors for the forecast and alert pipelines.
type Metrics struct {
	ForecastPointsInserted prometheus.Counter
	ForecastSourceErrors   prometheus.Counter

	AlertsCreated    *prometheus.CounterVec // labels: type
	AlertsSuppressed prometheus.Counter
	AlertsPublished  *prometheus.CounterVec // labels: outcome={success,error}
	AlertBufferSize  prometheus.Gauge

	JobRuns     *prometheus.CounterVec   // labels: job, outcome={success,error,skipped}
	JobDuration *prometheus.HistogramVec // labels: job
}

var jobBuckets = []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := NewMetricsForTesting()
	prometheus.MustRegister(
		m.ForecastPointsInserted,
		m.ForecastSourceErrors,
		m.AlertsCreated,
		m.AlertsSuppressed,
		m.AlertsPublished,
		m.AlertBufferSize,
		m.JobRuns,
		m.JobDuration,
	)
	return m
}

// NewMetricsForTesting creates unregistered Metrics so tests can build as many
// as they like without "already registered" panics.
func NewMetricsForTesting() *Metrics {
	return &Metrics{
		ForecastPointsInserted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "forecast_points_inserted_total",
			Help:      "Forecast points written by the ingestion job.",
		}),
		ForecastSourceErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "forecast_source_errors_total",
			Help:      "Failed calls to the forecast service.",
		}),
		AlertsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_created_total",
			Help:      "Alerts persisted by the dispatcher, by type.",
		}, []string{"type"}),
		AlertsSuppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_suppressed_total",
			Help:      "Alert drafts dropped because an equivalent alert exists within the dedup window.",
		}),
		AlertsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_published_total",
			Help:      "Alert events sent to the event stream, by outcome.",
		}, []string{"outcome"}),
		AlertBufferSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "alert_buffer_entries",
			Help:      "Entries currently held in the in-process alert buffer.",
		}),
		JobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_runs_total",
			Help:      "Scheduled job executions by job and outcome.",
		}, []string{"job", "outcome"}),
		JobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Duration of scheduled job executions.",
			Buckets:   jobBuckets,
		}, []string{"job"}),
	}
}
