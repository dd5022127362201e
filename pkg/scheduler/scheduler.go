package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/cuemby/digest/pkg/log"
	"github.com/cuemby/digest/pkg/metrics"
	"github.com/cuemby/digest/pkg/types"
)

// ErrJobNotFound is returned when a named job is not registered
var ErrJobNotFound = errors.New("job not found")

// Enqueuer accepts summary tasks produced by firing jobs
type Enqueuer interface {
	Enqueue(task types.SummaryTask) error
}

// GroupSource lists the configured groups to schedule
type GroupSource interface {
	ListGroups() (map[types.GroupID]*types.GroupConfig, error)
}

// parser accepts six fields with a leading seconds field
var parser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

type entry struct {
	id      cron.EntryID
	groupID types.GroupID
	spec    string
}

// Scheduler keeps named recurring jobs on a cron runner
type Scheduler struct {
	cron    *cron.Cron
	queue   Enqueuer
	entries map[string]entry
	running bool
	mu      sync.RWMutex
	logger  zerolog.Logger
}

// NewScheduler creates a stopped scheduler that fires jobs in loc.
// A nil loc means the local time zone.
func NewScheduler(queue Enqueuer, loc *time.Location) *Scheduler {
	if loc == nil {
		loc = time.Local
	}
	logger := log.WithComponent("scheduler")
	cronLogger := cronLogger{logger: logger}

	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithParser(parser),
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.Recover(cronLogger)),
		),
		queue:   queue,
		entries: make(map[string]entry),
		logger:  logger,
	}
}

// Start begins firing jobs. Starting a running scheduler is a no-op.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}
	s.cron.Start()
	s.running = true
	metrics.SchedulerRunning.Set(1)
	s.logger.Info().Int("jobs", len(s.entries)).Msg("Scheduler started")
	return nil
}

// Stop halts the scheduler and waits for running jobs to return.
// Registered jobs are kept and resume on the next Start.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	ctx := s.cron.Stop()
	s.mu.Unlock()

	<-ctx.Done()
	metrics.SchedulerRunning.Set(0)
	s.logger.Info().Msg("Scheduler stopped")
}

// IsRunning reports whether jobs are being fired
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// GroupSpec returns the six-field cron expression for a group's daily job
func GroupSpec(id types.GroupID, cfg *types.GroupConfig) string {
	return fmt.Sprintf("%d %d %d * * *", id.Second(), cfg.Minute, cfg.Hour)
}

// UpsertGroupJob registers the summary job for a group, replacing any
// existing job with the same name.
func (s *Scheduler) UpsertGroupJob(ctx context.Context, id types.GroupID, cfg *types.GroupConfig) (types.Job, error) {
	if err := ctx.Err(); err != nil {
		return types.Job{}, err
	}
	if err := cfg.Validate(); err != nil {
		return types.Job{}, errors.Wrapf(err, "invalid config for group %s", id)
	}

	spec := GroupSpec(id, cfg)
	schedule, err := parser.Parse(spec)
	if err != nil {
		return types.Job{}, errors.Wrapf(err, "failed to parse schedule %q", spec)
	}

	name := types.GroupJobName(id)
	job := s.summaryJob(id, *cfg)

	s.mu.Lock()
	if existing, ok := s.entries[name]; ok {
		s.cron.Remove(existing.id)
	}
	entryID := s.cron.Schedule(schedule, job)
	e := entry{id: entryID, groupID: id, spec: spec}
	s.entries[name] = e
	metrics.ScheduledJobs.Set(float64(len(s.entries)))
	s.mu.Unlock()

	s.logger.Debug().
		Str("job", name).
		Str("spec", spec).
		Msg("Summary job registered")

	return s.describe(name, e), nil
}

// AddFunc registers a named job with an arbitrary six-field spec
func (s *Scheduler) AddFunc(name, spec string, fn func()) error {
	schedule, err := parser.Parse(spec)
	if err != nil {
		return errors.Wrapf(err, "failed to parse schedule %q", spec)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.entries[name]; ok {
		s.cron.Remove(existing.id)
	}
	s.entries[name] = entry{id: s.cron.Schedule(schedule, cron.FuncJob(fn)), spec: spec}
	metrics.ScheduledJobs.Set(float64(len(s.entries)))
	return nil
}

// RemoveJob unregisters a job by name
func (s *Scheduler) RemoveJob(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[name]
	if !ok {
		return errors.Wrapf(ErrJobNotFound, "%s", name)
	}
	s.cron.Remove(e.id)
	delete(s.entries, name)
	metrics.ScheduledJobs.Set(float64(len(s.entries)))

	s.logger.Debug().Str("job", name).Msg("Job removed")
	return nil
}

// RemoveGroupJob unregisters the summary job of a group
func (s *Scheduler) RemoveGroupJob(id types.GroupID) error {
	return s.RemoveJob(types.GroupJobName(id))
}

// JobNames returns the names of all registered jobs, sorted
func (s *Scheduler) JobNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.entries))
	for name := range s.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Jobs returns all registered jobs with their next and previous fire times
func (s *Scheduler) Jobs() []types.Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := make([]types.Job, 0, len(s.entries))
	for name, e := range s.entries {
		jobs = append(jobs, s.describe(name, e))
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].Name < jobs[j].Name })
	return jobs
}

// Job returns a single registered job
func (s *Scheduler) Job(name string) (types.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[name]
	if !ok {
		return types.Job{}, errors.Wrapf(ErrJobNotFound, "%s", name)
	}
	return s.describe(name, e), nil
}

// LoadGroups registers a job for every configured group. It keeps going past
// individual failures and returns how many jobs were registered along with
// the combined error.
func (s *Scheduler) LoadGroups(ctx context.Context, src GroupSource) (int, error) {
	groups, err := src.ListGroups()
	if err != nil {
		return 0, errors.Wrap(err, "failed to list groups")
	}

	ids := make([]types.GroupID, 0, len(groups))
	for id := range groups {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	loaded := 0
	var errs error
	for _, id := range ids {
		if _, err := s.UpsertGroupJob(ctx, id, groups[id]); err != nil {
			s.logger.Error().Err(err).Int64("group_id", int64(id)).Msg("Failed to load summary job")
			errs = errors.CombineErrors(errs, err)
			continue
		}
		loaded++
	}

	s.logger.Info().Int("loaded", loaded).Int("groups", len(groups)).Msg("Summary jobs loaded")
	return loaded, errs
}

func (s *Scheduler) describe(name string, e entry) types.Job {
	ce := s.cron.Entry(e.id)
	return types.Job{
		Name:    name,
		GroupID: e.groupID,
		Spec:    e.spec,
		Next:    ce.Next,
		Prev:    ce.Prev,
	}
}

func (s *Scheduler) summaryJob(id types.GroupID, cfg types.GroupConfig) cron.Job {
	return cron.FuncJob(func() {
		task := types.SummaryTask{
			ID:                uuid.NewString(),
			GroupID:           id,
			LeastMessageCount: cfg.LeastMessageCount,
			Style:             cfg.Style,
			ScheduledAt:       time.Now(),
		}
		if err := s.queue.Enqueue(task); err != nil {
			logger := log.WithGroupID(id)
			logger.Error().Err(err).Str("component", "scheduler").Msg("Failed to enqueue summary task")
			return
		}
		s.logger.Debug().Int64("group_id", int64(id)).Str("task_id", task.ID).Msg("Summary task enqueued")
	})
}

// cronLogger routes cron's internal logging through zerolog
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
