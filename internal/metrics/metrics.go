package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsSubmittedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dronesim_jobs_submitted_total",
		Help: "Total number of simulation jobs submitted",
	})

	JobsCompletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dronesim_jobs_completed_total",
		Help: "Total number of simulation jobs completed successfully",
	})

	JobsFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dronesim_jobs_failed_total",
		Help: "Total number of simulation jobs that failed",
	})

	JobsSkippedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dronesim_jobs_skipped_total",
		Help: "Total number of claimed jobs dropped before processing, e.g. deleted between enqueue and claim",
	})

	SimulationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dronesim_simulation_duration_seconds",
		Help:    "Time taken to run one simulation job in seconds",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	})

	WorkerActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dronesim_worker_active",
		Help: "Whether the worker loop is running (1) or stopped (0)",
	})

	WakeupsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dronesim_worker_wakeups_total",
		Help: "Total number of job-ready notifications received by the worker",
	})
)
