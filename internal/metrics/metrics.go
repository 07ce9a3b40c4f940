package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codearena_executions_total",
			Help: "Total number of execution requests by outcome status",
		},
		[]string{"language", "status"},
	)

	ExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "codearena_execution_duration_ms",
			Help:    "Execution duration in milliseconds",
			Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		},
		[]string{"language", "phase"}, // phase: "compile", "run", "total"
	)

	TestResultsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codearena_test_results_total",
			Help: "Per test case verdicts",
		},
		[]string{"language", "verdict"}, // verdict: passed, failed, error, timeout
	)

	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "codearena_queue_depth",
			Help: "Current number of jobs in the queue",
		},
	)

	QueueRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "codearena_queue_rejections_total",
			Help: "Jobs rejected because the queue was full",
		},
	)

	ActiveWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "codearena_active_workers",
			Help: "Number of workers currently processing jobs",
		},
	)

	ContainerCreationTime = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "codearena_container_creation_ms",
			Help:    "Time to create and start a container",
			Buckets: []float64{50, 100, 200, 500, 1000, 2000},
		},
	)

	ContainerKills = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codearena_container_kills_total",
			Help: "Containers killed before exiting on their own",
		},
		[]string{"reason"}, // reason: deadline, output_limit, stream_error, attach
	)

	ContainerRemoveFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "codearena_container_remove_failures_total",
			Help: "Failed forced container removals",
		},
	)

	WorkspaceCleanupFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "codearena_workspace_cleanup_failures_total",
			Help: "Failed workspace removals",
		},
	)

	RateLimitHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "codearena_rate_limit_hits_total",
			Help: "Total number of requests rejected by rate limiter",
		},
	)
)
