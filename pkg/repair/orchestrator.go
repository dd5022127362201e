package repair

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cuemby/digest/pkg/events"
	"github.com/cuemby/digest/pkg/health"
	"github.com/cuemby/digest/pkg/log"
	"github.com/cuemby/digest/pkg/metrics"
	"github.com/cuemby/digest/pkg/reconciler"
	"github.com/cuemby/digest/pkg/storage"
	"github.com/cuemby/digest/pkg/supervisor"
	"github.com/cuemby/digest/pkg/types"
)

// ErrOrchestratorUnavailable is returned when a repair run cannot begin at all
var ErrOrchestratorUnavailable = errors.New("repair orchestrator unavailable")

// Stage names used in logs, metrics and error entries
const (
	StageConsumer  = "consumer"
	StageScheduler = "scheduler"
	StageStore     = "store"
	StageJobs      = "jobs"
	StageHealth    = "health"
)

// ConsumerRestarter replaces the queue consumer
type ConsumerRestarter interface {
	Restart() supervisor.Outcome
}

// Scheduler is the job scheduler control surface used by repairs
type Scheduler interface {
	IsRunning() bool
	Start() error
	UpsertGroupJob(ctx context.Context, id types.GroupID, cfg *types.GroupConfig) (types.Job, error)
	RemoveJob(name string) error
}

// Store is the configuration store surface used by repairs
type Store interface {
	GetGroup(id types.GroupID) (*types.GroupConfig, error)
	CleanupInvalidGroups() (int, error)
}

// Auditor finds missing and orphaned jobs
type Auditor interface {
	Audit(ctx context.Context) (reconciler.AuditResult, error)
}

// HealthChecker produces the final health snapshot
type HealthChecker interface {
	Check(ctx context.Context) (*health.Report, error)
}

// Deps wires an Orchestrator to the pipeline
type Deps struct {
	Consumer  ConsumerRestarter
	Scheduler Scheduler
	Store     Store
	Auditor   Auditor
	Health    HealthChecker

	// Publisher receives repair and job events (optional)
	Publisher events.Publisher
}

func (d Deps) validate() error {
	var missing []string
	if d.Consumer == nil {
		missing = append(missing, "consumer")
	}
	if d.Scheduler == nil {
		missing = append(missing, "scheduler")
	}
	if d.Store == nil {
		missing = append(missing, "store")
	}
	if d.Auditor == nil {
		missing = append(missing, "auditor")
	}
	if d.Health == nil {
		missing = append(missing, "health")
	}
	if len(missing) > 0 {
		return errors.Newf("missing dependencies: %v", missing)
	}
	return nil
}

// Orchestrator runs the five repair stages. Runs are serialized.
type Orchestrator struct {
	deps   Deps
	mu     sync.Mutex
	closed bool
	logger zerolog.Logger
}

// New creates an orchestrator
func New(deps Deps) *Orchestrator {
	return &Orchestrator{
		deps:   deps,
		logger: log.WithComponent("repair"),
	}
}

// Close makes every later Run fail with ErrOrchestratorUnavailable. It waits
// for an in-progress run.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
}

type stage struct {
	name string
	fn   func(ctx context.Context, r *run) error
	// errPrefix describes a failed stage in the report
	errPrefix string
}

// run carries the state of one repair run
type run struct {
	report *Report
	logger zerolog.Logger
}

func (r *run) repaired(msg string) {
	r.report.Repairs = append(r.report.Repairs, msg)
}

func (r *run) failed(stage, msg string, err error) {
	entry := msg
	if err != nil {
		entry = fmt.Sprintf("%s: %v", msg, err)
	}
	r.report.Errors = append(r.report.Errors, entry)
	metrics.RepairStageFailuresTotal.WithLabelValues(stage).Inc()
	r.logger.Error().Err(err).Str("stage", stage).Msg(msg)
}

// Run executes one repair. Stage failures end up in the report; the only
// returned error is ErrOrchestratorUnavailable, before any stage has run.
func (o *Orchestrator) Run(ctx context.Context) (*Report, error) {
	if o == nil {
		return nil, errors.Wrap(ErrOrchestratorUnavailable, "orchestrator is nil")
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return nil, errors.Wrap(ErrOrchestratorUnavailable, "orchestrator is closed")
	}
	if err := o.deps.validate(); err != nil {
		return nil, errors.Wrap(ErrOrchestratorUnavailable, err.Error())
	}

	timer := metrics.NewTimer()
	r := &run{
		report: &Report{
			RunID:     uuid.NewString(),
			StartedAt: time.Now(),
			Repairs:   []string{},
			Errors:    []string{},
		},
	}
	r.logger = log.WithRunID(r.report.RunID).With().Str("component", "repair").Logger()
	r.logger.Info().Msg("Repair started")
	o.publish(events.EventRepairStarted, "repair started", map[string]string{"run_id": r.report.RunID})

	stages := []stage{
		{name: StageConsumer, fn: o.restartConsumer, errPrefix: "failed to restart queue processor"},
		{name: StageScheduler, fn: o.ensureScheduler, errPrefix: "failed to start scheduler"},
		{name: StageStore, fn: o.cleanupStore, errPrefix: "failed to clean up store"},
		{name: StageJobs, fn: o.reconcileJobs, errPrefix: "failed to repair job scheduling"},
		{name: StageHealth, fn: o.finalHealth, errPrefix: "failed to run health check"},
	}
	for _, st := range stages {
		o.runStage(ctx, r, st)
	}

	rep := r.report
	rep.FinishedAt = time.Now()
	rep.Status = deriveStatus(rep)

	timer.ObserveDuration(metrics.RepairDuration)
	metrics.RepairRunsTotal.WithLabelValues(string(rep.Status)).Inc()

	r.logger.Info().
		Str("status", string(rep.Status)).
		Int("repairs", len(rep.Repairs)).
		Int("errors", len(rep.Errors)).
		Dur("duration", timer.Duration()).
		Msg("Repair completed")
	o.publish(events.EventRepairCompleted, "repair completed", map[string]string{
		"run_id":  rep.RunID,
		"status":  string(rep.Status),
		"repairs": fmt.Sprintf("%d", len(rep.Repairs)),
		"errors":  fmt.Sprintf("%d", len(rep.Errors)),
	})

	return rep, nil
}

// runStage isolates a stage: an error or a panic becomes one error entry
func (o *Orchestrator) runStage(ctx context.Context, r *run, st stage) {
	defer func() {
		if p := recover(); p != nil {
			r.failed(st.name, st.errPrefix, errors.Newf("%s stage panicked: %v", st.name, p))
		}
	}()

	if err := st.fn(ctx, r); err != nil {
		r.failed(st.name, st.errPrefix, err)
	}
}

// restartConsumer always replaces the consumer. The restart is only listed
// as a repair when it fixed something: no live instance before, or an old
// instance that had to be abandoned.
func (o *Orchestrator) restartConsumer(ctx context.Context, r *run) error {
	out := o.deps.Consumer.Restart()
	if !out.Success {
		if out.Err != nil {
			return out.Err
		}
		return errors.New(out.Message)
	}

	switch {
	case out.Abandoned:
		r.repaired("queue processor restarted (previous instance did not stop in time)")
	case !out.PreviouslyRunning:
		r.repaired("queue processor restarted")
	default:
		r.logger.Debug().Str("instance_id", out.InstanceID).Msg("Queue processor refreshed")
	}
	return nil
}

func (o *Orchestrator) ensureScheduler(ctx context.Context, r *run) error {
	if o.deps.Scheduler.IsRunning() {
		return nil
	}
	if err := o.deps.Scheduler.Start(); err != nil {
		return err
	}
	r.repaired("scheduler started")
	return nil
}

func (o *Orchestrator) cleanupStore(ctx context.Context, r *run) error {
	n, err := o.deps.Store.CleanupInvalidGroups()
	if err != nil {
		return err
	}
	if n > 0 {
		r.repaired(fmt.Sprintf("cleaned up %d invalid group configs", n))
		o.publish(events.EventGroupsCleaned, "invalid group configs removed", map[string]string{
			"count": fmt.Sprintf("%d", n),
		})
	}
	return nil
}

func (o *Orchestrator) reconcileJobs(ctx context.Context, r *run) error {
	result, err := o.deps.Auditor.Audit(ctx)
	if err != nil {
		return err
	}

	recreated := 0
	for _, key := range result.Missing {
		ok, err := o.recreateJob(ctx, key)
		if err != nil {
			r.failed(StageJobs, fmt.Sprintf("failed to recreate job for group %s", key), err)
			continue
		}
		if ok {
			recreated++
		}
	}

	removed := 0
	for _, name := range result.Orphaned {
		if err := o.deps.Scheduler.RemoveJob(name); err != nil {
			r.failed(StageJobs, fmt.Sprintf("failed to remove orphaned job %s", name), err)
			continue
		}
		removed++
		o.publish(events.EventJobRemoved, "orphaned job removed", map[string]string{"job": name})
	}

	if recreated > 0 {
		metrics.JobsReconciledTotal.WithLabelValues("recreated").Add(float64(recreated))
		r.repaired(fmt.Sprintf("recreated %d jobs", recreated))
	}
	if removed > 0 {
		metrics.JobsReconciledTotal.WithLabelValues("removed").Add(float64(removed))
		r.repaired(fmt.Sprintf("removed %d jobs", removed))
	}
	return nil
}

// recreateJob returns false without error when the group vanished after the audit
func (o *Orchestrator) recreateJob(ctx context.Context, key string) (bool, error) {
	id, err := types.ParseGroupID(key)
	if err != nil {
		return false, err
	}

	cfg, err := o.deps.Store.GetGroup(id)
	if storage.IsNotFound(err) {
		o.logger.Debug().Str("group", key).Msg("Group removed before its job could be recreated")
		return false, nil
	}
	if err != nil {
		return false, err
	}

	job, err := o.deps.Scheduler.UpsertGroupJob(ctx, id, cfg)
	if err != nil {
		return false, err
	}
	o.publish(events.EventJobCreated, "missing job recreated", map[string]string{"job": job.Name})
	return true, nil
}

func (o *Orchestrator) finalHealth(ctx context.Context, r *run) error {
	snapshot, err := o.deps.Health.Check(ctx)
	if err != nil {
		return err
	}
	if snapshot == nil {
		return errors.New("health check returned no report")
	}
	r.report.Health = snapshot
	for _, applied := range snapshot.RepairsApplied {
		r.repaired(applied)
	}
	return nil
}

func (o *Orchestrator) publish(t events.EventType, msg string, meta map[string]string) {
	if o.deps.Publisher == nil {
		return
	}
	o.deps.Publisher.Publish(events.NewEvent(t, msg, meta))
}
