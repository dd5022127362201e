/*
Package metrics provides Prometheus metrics and component readiness for digest.

All metrics are registered on the default Prometheus registry at package init and
exposed through Handler (mounted at /metrics by the API server). A Collector
refreshes the state gauges from a Snapshot on a fixed interval; counters and
histograms are updated inline by the components that own the events.

# Metrics Catalog

Pipeline state (gauges, refreshed by Collector):

	digest_groups_total              configured groups
	digest_scheduled_jobs            summary jobs registered in the scheduler
	digest_scheduler_running         1 when the scheduler is running
	digest_queue_size                tasks waiting in the queue
	digest_consumer_active           1 when a consumer instance is running

Supervision and processing:

	digest_consumer_restarts_total{outcome}     restarts by success/failure
	digest_consumer_abandoned_total             instances that missed the grace period
	digest_tasks_enqueued_total{result}         accepted/dropped tasks
	digest_tasks_processed_total{status}        processed tasks by status
	digest_task_duration_seconds                processing latency

Repair and health:

	digest_repair_runs_total{status}            nothing_to_repair/success/partial
	digest_repair_stage_failures_total{stage}   failed stages and stage items
	digest_repair_duration_seconds              run latency
	digest_jobs_reconciled_total{action}        recreated/removed jobs
	digest_health_checks_total{verdict}         healthy/unhealthy
	digest_health_check_duration_seconds        check latency

# Readiness

UpdateComponent records the state of the store, scheduler and consumer. The
process is ready once all three are registered and healthy; ReadyHandler
answers 503 otherwise. LivenessHandler always answers 200 while the process
runs.

# Usage

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.RepairDuration)

	metrics.RepairStageFailuresTotal.WithLabelValues("cleanup").Inc()
	metrics.UpdateComponent(metrics.ComponentScheduler, running, "")
*/
package metrics
