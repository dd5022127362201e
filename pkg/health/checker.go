package health

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/digest/pkg/events"
	"github.com/cuemby/digest/pkg/log"
	"github.com/cuemby/digest/pkg/metrics"
	"github.com/cuemby/digest/pkg/reconciler"
	"github.com/cuemby/digest/pkg/supervisor"
)

// Scheduler is the part of the job scheduler the checker inspects
type Scheduler interface {
	IsRunning() bool
	Start() error
	JobNames() []string
	RemoveJob(name string) error
}

// Consumer is the supervised queue consumer
type Consumer interface {
	IsRunning() bool
	Count() int
	Status() supervisor.Status
	EnsureRunning() supervisor.Outcome
}

// QueueSizer reports the number of waiting tasks
type QueueSizer interface {
	Len() int
}

// Auditor finds missing and orphaned jobs
type Auditor interface {
	Audit(ctx context.Context) (reconciler.AuditResult, error)
}

// SchedulerStatus is the scheduler part of a report
type SchedulerStatus struct {
	Running   bool `json:"running"`
	JobsCount int  `json:"jobs_count"`
}

// QueueStatus is the queue part of a report
type QueueStatus struct {
	ProcessorActive bool `json:"processor_active"`
	ProcessorCount  int  `json:"processor_count"`
	QueueSize       int  `json:"queue_size"`
}

// DependencyStatus is the last known state of a probed dependency
type DependencyStatus struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}

// Report is a health snapshot of the pipeline
type Report struct {
	Healthy        bool               `json:"healthy"`
	CheckedAt      time.Time          `json:"checked_at"`
	Scheduler      SchedulerStatus    `json:"scheduler"`
	Queue          QueueStatus        `json:"task_queue"`
	Dependencies   []DependencyStatus `json:"dependencies,omitempty"`
	Warnings       []string           `json:"warnings"`
	Errors         []string           `json:"errors"`
	RepairsApplied []string           `json:"repairs_applied"`
}

// Options configures a Checker
type Options struct {
	// AutoRepair lets a check start the scheduler, respawn a dead consumer
	// and remove orphaned jobs
	AutoRepair bool

	// Publisher receives health.degraded events (optional)
	Publisher events.Publisher
}

type probeEntry struct {
	name   string
	probe  Probe
	config Config
	state  *probeState
}

// Checker builds health reports
type Checker struct {
	scheduler Scheduler
	consumer  Consumer
	queue     QueueSizer
	auditor   Auditor
	opts      Options

	mu     sync.Mutex
	probes []*probeEntry

	logger zerolog.Logger
}

// NewChecker creates a checker
func NewChecker(sched Scheduler, consumer Consumer, queue QueueSizer, auditor Auditor, opts Options) *Checker {
	return &Checker{
		scheduler: sched,
		consumer:  consumer,
		queue:     queue,
		auditor:   auditor,
		opts:      opts,
		logger:    log.WithComponent("health"),
	}
}

// AddProbe registers a dependency probe
func (c *Checker) AddProbe(name string, probe Probe, cfg Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.probes = append(c.probes, &probeEntry{name: name, probe: probe, config: cfg, state: newProbeState(time.Now())})
}

// Check inspects the pipeline and, with AutoRepair, fixes what it safely can.
// Problems are reported in the snapshot; only a cancelled context is
// returned as an error.
func (c *Checker) Check(ctx context.Context) (*Report, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	timer := metrics.NewTimer()
	r := &Report{
		CheckedAt:      time.Now(),
		Warnings:       []string{},
		Errors:         []string{},
		RepairsApplied: []string{},
	}

	c.checkScheduler(r)
	c.checkConsumer(r)
	c.checkJobs(ctx, r)
	c.checkDependencies(ctx, r)

	r.Scheduler.Running = c.scheduler.IsRunning()
	r.Scheduler.JobsCount = len(c.scheduler.JobNames())
	r.Queue.ProcessorActive = c.consumer.IsRunning()
	r.Queue.ProcessorCount = c.consumer.Count()
	r.Queue.QueueSize = c.queue.Len()

	r.Healthy = len(r.Errors) == 0 &&
		len(r.Warnings) == 0 &&
		r.Scheduler.Running &&
		r.Queue.ProcessorActive

	c.record(r, timer)
	return r, nil
}

func (c *Checker) checkScheduler(r *Report) {
	if c.scheduler.IsRunning() {
		return
	}
	r.Warnings = append(r.Warnings, "scheduler not running")
	if !c.opts.AutoRepair {
		return
	}
	if err := c.scheduler.Start(); err != nil {
		r.Errors = append(r.Errors, fmt.Sprintf("failed to start scheduler: %v", err))
		return
	}
	r.RepairsApplied = append(r.RepairsApplied, "scheduler started")
}

func (c *Checker) checkConsumer(r *Report) {
	if c.consumer.IsRunning() {
		return
	}

	st := c.consumer.Status()
	if st.InstanceID == "" {
		r.Warnings = append(r.Warnings, "queue processor task not found")
	} else {
		r.Warnings = append(r.Warnings, "queue processor task has exited")
		if st.LastError != "" {
			r.Warnings = append(r.Warnings, fmt.Sprintf("queue processor error: %s", st.LastError))
		}
	}

	if !c.opts.AutoRepair {
		return
	}
	out := c.consumer.EnsureRunning()
	if !out.Success {
		r.Errors = append(r.Errors, fmt.Sprintf("failed to restart queue processor: %s", out.Message))
		return
	}
	r.RepairsApplied = append(r.RepairsApplied, "queue processor restarted")
}

func (c *Checker) checkJobs(ctx context.Context, r *Report) {
	result, err := c.auditor.Audit(ctx)
	if err != nil {
		r.Errors = append(r.Errors, fmt.Sprintf("job consistency check failed: %v", err))
		metrics.UpdateComponent(metrics.ComponentStore, false, err.Error())
		return
	}
	metrics.UpdateComponent(metrics.ComponentStore, true, "")

	if n := len(result.Missing); n > 0 {
		r.Warnings = append(r.Warnings, fmt.Sprintf("found %d unscheduled groups", n))
	}
	if len(result.Orphaned) == 0 {
		return
	}
	r.Warnings = append(r.Warnings, fmt.Sprintf("found %d orphaned jobs", len(result.Orphaned)))
	if !c.opts.AutoRepair {
		return
	}

	removed := 0
	for _, name := range result.Orphaned {
		if err := c.scheduler.RemoveJob(name); err != nil {
			c.logger.Warn().Err(err).Str("job", name).Msg("Failed to remove orphaned job")
			continue
		}
		removed++
	}
	if removed > 0 {
		metrics.JobsReconciledTotal.WithLabelValues("removed").Add(float64(removed))
		r.RepairsApplied = append(r.RepairsApplied, fmt.Sprintf("removed %d orphaned jobs", removed))
	}
}

func (c *Checker) checkDependencies(ctx context.Context, r *Report) {
	for _, p := range c.probes {
		if p.state.warmingUp(p.config, time.Now()) {
			continue
		}

		probeCtx := ctx
		var cancel context.CancelFunc
		if p.config.Timeout > 0 {
			probeCtx, cancel = context.WithTimeout(ctx, p.config.Timeout)
		}
		result := p.probe.Check(probeCtx)
		if cancel != nil {
			cancel()
		}

		p.state.observe(result, p.config)
		r.Dependencies = append(r.Dependencies, DependencyStatus{
			Name:    p.name,
			Healthy: p.state.healthy,
			Message: result.Message,
		})
		if !p.state.healthy {
			r.Warnings = append(r.Warnings, fmt.Sprintf("%s unreachable: %s", p.name, result.Message))
		}
	}
	sort.Slice(r.Dependencies, func(i, j int) bool { return r.Dependencies[i].Name < r.Dependencies[j].Name })
}

func (c *Checker) record(r *Report, timer *metrics.Timer) {
	timer.ObserveDuration(metrics.HealthCheckDuration)

	verdict := "healthy"
	if !r.Healthy {
		verdict = "unhealthy"
	}
	metrics.HealthChecksTotal.WithLabelValues(verdict).Inc()
	metrics.SchedulerRunning.Set(metrics.BoolGauge(r.Scheduler.Running))
	metrics.ConsumerActive.Set(metrics.BoolGauge(r.Queue.ProcessorActive))
	metrics.QueueSize.Set(float64(r.Queue.QueueSize))
	metrics.UpdateComponent(metrics.ComponentScheduler, r.Scheduler.Running, statusMessage(r.Scheduler.Running, "scheduler stopped"))
	metrics.UpdateComponent(metrics.ComponentConsumer, r.Queue.ProcessorActive, statusMessage(r.Queue.ProcessorActive, "queue processor inactive"))

	event := c.logger.Debug()
	if !r.Healthy {
		event = c.logger.Warn()
	}
	event.
		Bool("healthy", r.Healthy).
		Bool("scheduler_running", r.Scheduler.Running).
		Int("jobs", r.Scheduler.JobsCount).
		Bool("processor_active", r.Queue.ProcessorActive).
		Int("queue_size", r.Queue.QueueSize).
		Strs("warnings", r.Warnings).
		Strs("errors", r.Errors).
		Strs("repairs", r.RepairsApplied).
		Dur("duration", timer.Duration()).
		Msg("Health check completed")

	if !r.Healthy && c.opts.Publisher != nil {
		c.opts.Publisher.Publish(events.NewEvent(events.EventHealthDegraded, "health check reported problems", map[string]string{
			"warnings": fmt.Sprintf("%d", len(r.Warnings)),
			"errors":   fmt.Sprintf("%d", len(r.Errors)),
			"repairs":  fmt.Sprintf("%d", len(r.RepairsApplied)),
		}))
	}
}

func statusMessage(ok bool, problem string) string {
	if ok {
		return ""
	}
	return problem
}
