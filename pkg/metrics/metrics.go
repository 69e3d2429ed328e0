package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments for the job pipeline.
type Metrics struct {
	JobsSubmitted prometheus.Counter
	JobsSucceeded prometheus.Counter
	JobsFailed    prometheus.Counter
	JobsDeleted   prometheus.Counter

	PipelineDuration prometheus.Histogram
	ScoringRetries   prometheus.Counter
	QueueDepth       prometheus.Gauge
}

func New() *Metrics {
	return &Metrics{
		JobsSubmitted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "phamdb_jobs_submitted_total",
			Help: "Total number of jobs submitted",
		}),
		JobsSucceeded: promauto.NewCounter(prometheus.CounterOpts{
			Name: "phamdb_jobs_succeeded_total",
			Help: "Total number of jobs that succeeded",
		}),
		JobsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "phamdb_jobs_failed_total",
			Help: "Total number of jobs that failed",
		}),
		JobsDeleted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "phamdb_jobs_deleted_total",
			Help: "Total number of queued jobs cancelled before running",
		}),
		PipelineDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "phamdb_pipeline_duration_seconds",
			Help:    "Pipeline execution duration in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		ScoringRetries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "phamdb_scoring_retries_total",
			Help: "Total number of retried scoring calls",
		}),
		QueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "phamdb_queue_depth",
			Help: "Jobs currently queued across all collections",
		}),
	}
}

// Nop returns metrics backed by unregistered collectors, for tests.
func Nop() *Metrics {
	counter := func() prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{Name: "nop", Help: "nop"})
	}
	return &Metrics{
		JobsSubmitted: counter(),
		JobsSucceeded: counter(),
		JobsFailed:    counter(),
		JobsDeleted:   counter(),
		PipelineDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "nop_hist", Help: "nop",
		}),
		ScoringRetries: counter(),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nop_gauge", Help: "nop",
		}),
	}
}
