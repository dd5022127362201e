package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Pipeline state
	GroupsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "digest_groups_total",
			Help: "Total number of configured groups",
		},
	)

	ScheduledJobs = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "digest_scheduled_jobs",
			Help: "Number of summary jobs registered in the scheduler",
		},
	)

	SchedulerRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "digest_scheduler_running",
			Help: "Whether the job scheduler is running (1 = running, 0 = stopped)",
		},
	)

	QueueSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "digest_queue_size",
			Help: "Number of summary tasks waiting in the queue",
		},
	)

	// Consumer supervision
	ConsumerActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "digest_consumer_active",
			Help: "Whether a queue consumer instance is running (1 = active, 0 = none)",
		},
	)

	ConsumerRestartsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "digest_consumer_restarts_total",
			Help: "Total number of consumer restarts by outcome",
		},
		[]string{"outcome"},
	)

	ConsumerAbandonedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "digest_consumer_abandoned_total",
			Help: "Consumer instances that did not stop within the grace period",
		},
	)

	// Queue processing
	TasksEnqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "digest_tasks_enqueued_total",
			Help: "Total number of summary tasks offered to the queue by result",
		},
		[]string{"result"},
	)

	TasksProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "digest_tasks_processed_total",
			Help: "Total number of summary tasks processed by status",
		},
		[]string{"status"},
	)

	TaskDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "digest_task_duration_seconds",
			Help:    "Time taken to process a summary task in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Repair and reconciliation
	RepairRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "digest_repair_runs_total",
			Help: "Total number of repair runs by result status",
		},
		[]string{"status"},
	)

	RepairStageFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "digest_repair_stage_failures_total",
			Help: "Total number of failed repair stages or stage items by stage",
		},
		[]string{"stage"},
	)

	RepairDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "digest_repair_duration_seconds",
			Help:    "Repair run duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	JobsReconciledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "digest_jobs_reconciled_total",
			Help: "Total number of jobs corrected by reconciliation by action",
		},
		[]string{"action"},
	)

	HealthChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "digest_health_checks_total",
			Help: "Total number of health checks by verdict",
		},
		[]string{"verdict"},
	)

	HealthCheckDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "digest_health_check_duration_seconds",
			Help:    "Health check duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Events
	EventsDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "digest_events_dropped_total",
			Help: "Pipeline events discarded because the broker buffer was full",
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "digest_api_requests_total",
			Help: "Total number of API requests by route and status",
		},
		[]string{"route", "status"},
	)
)

func init() {
	prometheus.MustRegister(GroupsTotal)
	prometheus.MustRegister(ScheduledJobs)
	prometheus.MustRegister(SchedulerRunning)
	prometheus.MustRegister(QueueSize)
	prometheus.MustRegister(ConsumerActive)
	prometheus.MustRegister(ConsumerRestartsTotal)
	prometheus.MustRegister(ConsumerAbandonedTotal)
	prometheus.MustRegister(TasksEnqueuedTotal)
	prometheus.MustRegister(TasksProcessedTotal)
	prometheus.MustRegister(TaskDuration)
	prometheus.MustRegister(RepairRunsTotal)
	prometheus.MustRegister(RepairStageFailuresTotal)
	prometheus.MustRegister(RepairDuration)
	prometheus.MustRegister(JobsReconciledTotal)
	prometheus.MustRegister(HealthChecksTotal)
	prometheus.MustRegister(HealthCheckDuration)
	prometheus.MustRegister(EventsDroppedTotal)
	prometheus.MustRegister(APIRequestsTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// BoolGauge converts a flag into a gauge value
func BoolGauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
