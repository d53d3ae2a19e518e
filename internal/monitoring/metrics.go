package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	OperationsSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "operations_submitted_total",
			Help: "Operations accepted by the idempotency guard.",
		},
		[]string{"kind"},
	)

	OperationsDeduplicated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "operations_deduplicated_total",
			Help: "Submissions resolved to an existing operation by idempotency key.",
		},
	)

	OperationsFinalized = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "operations_finalized_total",
			Help: "Operations driven to a terminal state, by state and by which component finalized.",
		},
		[]string{"state", "source"},
	)

	SyncCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_sync_calls_total",
			Help: "Calls against the external scheduling service.",
		},
		[]string{"action", "result"},
	)

	SyncCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scheduler_sync_call_duration_seconds",
			Help:    "Duration of external scheduler sync calls.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"action"},
	)

	FinalizerSwept = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "finalizer_operations_swept_total",
			Help: "Operations processed by the finalizer sweep.",
		},
	)

	ReaperSwept = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reaper_operations_swept_total",
			Help: "Operations processed by the reaper sweep.",
		},
	)

	RetentionDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "retention_operations_deleted_total",
			Help: "Terminal operation rows removed by the retention sweep.",
		},
	)

	CrawlTasksPublished = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "crawl_tasks_published_total",
			Help: "Crawl tasks pushed to the work queue.",
		},
	)

	CrawlFetchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawl_fetches_total",
			Help: "Crawl fetch attempts by result.",
		},
		[]string{"result"},
	)

	CrawlFetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "crawl_fetch_duration_seconds",
			Help:    "Duration of crawl fetches.",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"host"},
	)

	CrawlQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "crawl_queue_depth",
			Help: "Current number of tasks in the crawl queue.",
		},
	)
)
