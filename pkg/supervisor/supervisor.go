package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cuemby/digest/pkg/events"
	"github.com/cuemby/digest/pkg/log"
	"github.com/cuemby/digest/pkg/metrics"
	"github.com/cuemby/digest/pkg/types"
)

var (
	// ErrStopped is returned once the supervisor has been shut down
	ErrStopped = errors.New("supervisor stopped")

	// ErrNoRunFunc is returned when the supervisor has nothing to run
	ErrNoRunFunc = errors.New("supervisor has no run function")
)

// DefaultGracePeriod bounds the wait for a cancelled instance to exit
const DefaultGracePeriod = 2 * time.Second

// RunFunc is the long-running task being supervised. It must return once ctx
// is cancelled.
type RunFunc func(ctx context.Context) error

// Config holds supervisor configuration
type Config struct {
	// Name identifies the supervised task in logs and status
	Name string

	// GracePeriod bounds how long Restart waits for the old instance
	GracePeriod time.Duration

	// Publisher receives consumer.restarted and consumer.failed events (optional)
	Publisher events.Publisher
}

// Outcome is the result of a Restart or EnsureRunning call
type Outcome struct {
	Success    bool
	Message    string
	Err        error
	InstanceID string

	// PreviouslyRunning is set when a live instance was replaced
	PreviouslyRunning bool

	// Abandoned is set when the previous instance did not exit within the
	// grace period. The restart still counts as a success.
	Abandoned bool
}

// Status describes the supervised task
type Status struct {
	Name       string    `json:"name"`
	InstanceID string    `json:"instance_id,omitempty"`
	Running    bool      `json:"running"`
	StartedAt  time.Time `json:"started_at,omitempty"`
	LastError  string    `json:"last_error,omitempty"`
	Restarts   int       `json:"restarts"`
}

// handle is the supervisor's only way to reach a running instance
type handle struct {
	id        string
	cancel    context.CancelFunc
	done      chan struct{}
	startedAt time.Time
	err       error // written before done is closed
}

func (h *handle) running() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// Supervisor owns at most one running instance of a RunFunc
type Supervisor struct {
	name      string
	run       RunFunc
	grace     time.Duration
	publisher events.Publisher

	base       context.Context
	baseCancel context.CancelFunc

	mu       sync.Mutex
	current  *handle
	restarts int
	lastErr  error
	stopped  bool

	logger zerolog.Logger
}

// New creates a supervisor. Nothing runs until Restart or EnsureRunning.
func New(run RunFunc, cfg Config) *Supervisor {
	if cfg.Name == "" {
		cfg.Name = types.ConsumerName
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = DefaultGracePeriod
	}
	base, cancel := context.WithCancel(context.Background())

	return &Supervisor{
		name:       cfg.Name,
		run:        run,
		grace:      cfg.GracePeriod,
		publisher:  cfg.Publisher,
		base:       base,
		baseCancel: cancel,
		logger:     log.WithComponent("supervisor").With().Str("task", cfg.Name).Logger(),
	}
}

// Restart cancels the current instance, waits up to the grace period for it
// to exit and spawns exactly one replacement. A missing current instance is
// not an error.
func (s *Supervisor) Restart() (out Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			out = s.failed(errors.Newf("restart panicked: %v", r))
		}
	}()

	if s.stopped {
		return s.failed(ErrStopped)
	}

	abandoned := false
	previouslyRunning := s.current != nil && s.current.running()
	if s.current != nil {
		abandoned = !s.cancelAndWait(s.current)
		s.current = nil
		metrics.ConsumerActive.Set(0)
	} else {
		s.logger.Info().Msg("No running instance, starting a new one")
	}

	h, err := s.spawn()
	if err != nil {
		return s.failed(err)
	}
	s.restarts++

	metrics.ConsumerRestartsTotal.WithLabelValues("success").Inc()
	s.publish(events.EventConsumerRestarted, fmt.Sprintf("%s restarted", s.name), map[string]string{
		"instance_id": h.id,
		"abandoned":   fmt.Sprintf("%t", abandoned),
	})

	return Outcome{
		Success:           true,
		Message:           fmt.Sprintf("%s restarted", s.name),
		InstanceID:        h.id,
		PreviouslyRunning: previouslyRunning,
		Abandoned:         abandoned,
	}
}

// EnsureRunning spawns an instance only if none is running
func (s *Supervisor) EnsureRunning() Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return Outcome{Err: ErrStopped, Message: ErrStopped.Error()}
	}
	if s.current != nil && s.current.running() {
		return Outcome{
			Success:    true,
			Message:    fmt.Sprintf("%s already running", s.name),
			InstanceID: s.current.id,
		}
	}

	if s.current != nil {
		s.lastErr = s.current.err
		s.current = nil
	}

	h, err := s.spawn()
	if err != nil {
		metrics.ConsumerRestartsTotal.WithLabelValues("failed").Inc()
		return Outcome{Err: err, Message: err.Error()}
	}

	metrics.ConsumerRestartsTotal.WithLabelValues("started").Inc()
	return Outcome{
		Success:    true,
		Message:    fmt.Sprintf("%s started", s.name),
		InstanceID: h.id,
	}
}

// IsRunning reports whether an instance is currently alive
func (s *Supervisor) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil && s.current.running()
}

// Count returns the number of live instances (0 or 1)
func (s *Supervisor) Count() int {
	if s.IsRunning() {
		return 1
	}
	return 0
}

// Status returns a snapshot of the supervised task
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{Name: s.name, Restarts: s.restarts}
	lastErr := s.lastErr
	if h := s.current; h != nil {
		st.InstanceID = h.id
		st.StartedAt = h.startedAt
		st.Running = h.running()
		if !st.Running && h.err != nil {
			lastErr = h.err
		}
	}
	if lastErr != nil {
		st.LastError = lastErr.Error()
	}
	return st
}

// Stop cancels the current instance and waits for it until ctx is done.
// After Stop, Restart and EnsureRunning fail with ErrStopped.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return nil
	}
	s.stopped = true
	s.baseCancel()
	metrics.ConsumerActive.Set(0)

	h := s.current
	if h == nil {
		return nil
	}

	select {
	case <-h.done:
		s.logger.Info().Str("instance_id", h.id).Msg("Supervised task stopped")
		return nil
	case <-ctx.Done():
		return errors.Wrapf(ctx.Err(), "%s did not stop", s.name)
	}
}

// cancelAndWait reports whether the instance exited within the grace period
func (s *Supervisor) cancelAndWait(h *handle) bool {
	h.cancel()

	timer := time.NewTimer(s.grace)
	defer timer.Stop()

	select {
	case <-h.done:
		if h.err != nil && !errors.Is(h.err, context.Canceled) {
			s.lastErr = h.err
		}
		s.logger.Debug().Str("instance_id", h.id).Msg("Previous instance stopped")
		return true
	case <-timer.C:
		metrics.ConsumerAbandonedTotal.Inc()
		s.logger.Warn().
			Str("instance_id", h.id).
			Dur("grace_period", s.grace).
			Msg("Previous instance did not stop within grace period, abandoning it")
		return false
	}
}

// spawn starts a new instance on the base context. Caller holds s.mu.
func (s *Supervisor) spawn() (*handle, error) {
	if s.run == nil {
		return nil, ErrNoRunFunc
	}

	ctx, cancel := context.WithCancel(s.base)
	h := &handle{
		id:        uuid.NewString(),
		cancel:    cancel,
		done:      make(chan struct{}),
		startedAt: time.Now(),
	}

	go s.runInstance(ctx, h)

	s.current = h
	metrics.ConsumerActive.Set(1)
	s.logger.Info().Str("instance_id", h.id).Msg("Supervised task started")
	return h, nil
}

func (s *Supervisor) runInstance(ctx context.Context, h *handle) {
	defer close(h.done)
	defer func() {
		if r := recover(); r != nil {
			h.err = errors.Newf("%s panicked: %v", s.name, r)
			s.logger.Error().Str("instance_id", h.id).Interface("panic", r).Msg("Supervised task panicked")
		}
	}()

	h.err = s.run(ctx)
	if h.err != nil && !errors.Is(h.err, context.Canceled) {
		s.logger.Error().Err(h.err).Str("instance_id", h.id).Msg("Supervised task exited with error")
	}
}

func (s *Supervisor) failed(err error) Outcome {
	metrics.ConsumerRestartsTotal.WithLabelValues("failed").Inc()
	s.logger.Error().Err(err).Msg("Restart failed")
	s.publish(events.EventConsumerFailed, fmt.Sprintf("%s restart failed", s.name), map[string]string{
		"error": err.Error(),
	})
	return Outcome{Err: err, Message: err.Error()}
}

func (s *Supervisor) publish(t events.EventType, msg string, meta map[string]string) {
	if s.publisher == nil {
		return
	}
	s.publisher.Publish(events.NewEvent(t, msg, meta))
}
