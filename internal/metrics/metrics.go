package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Counters
	JobsSubmittedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "procio_jobs_submitted_total",
			Help: "Total number of jobs submitted",
		},
		[]string{"task_type"},
	)

	JobsCompletedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "procio_jobs_completed_total",
			Help: "Total number of jobs that reached COMPLETED",
		},
		[]string{"task_type"},
	)

	JobsFailedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "procio_jobs_failed_total",
			Help: "Total number of jobs that reached FAILED, by error kind",
		},
		[]string{"task_type", "kind"},
	)

	JobRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "procio_job_retries_total",
			Help: "Total number of retry attempts scheduled",
		},
	)

	JobsSweptTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "procio_jobs_swept_total",
			Help: "Total number of jobs reclaimed by the retention sweeper",
		},
		[]string{"status"},
	)

	// Gauges
	JobsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "procio_jobs_in_flight",
			Help: "Current number of jobs being executed",
		},
	)

	// Histogram for job execution duration
	JobDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "procio_job_duration_seconds",
			Help:    "Job execution duration in seconds, per attempt",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 15), // 10ms to ~163s
		},
		[]string{"task_type"},
	)
)
