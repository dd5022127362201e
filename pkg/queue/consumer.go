package queue

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"

	"github.com/cuemby/digest/pkg/log"
	"github.com/cuemby/digest/pkg/metrics"
	"github.com/cuemby/digest/pkg/types"
)

// Task statuses recorded in digest_tasks_processed_total
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusPanic   = "panic"
	StatusTimeout = "timeout"
)

// ConsumerConfig controls how the consumer drains the queue
type ConsumerConfig struct {
	// Concurrency is the number of tasks processed at the same time
	Concurrency int

	// TaskTimeout bounds a single Process call
	TaskTimeout time.Duration
}

// DefaultConsumerConfig returns the defaults used by the daemon
func DefaultConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		Concurrency: 2,
		TaskTimeout: 5 * time.Minute,
	}
}

// Consumer drains a Queue and hands tasks to a Processor
type Consumer struct {
	queue     *Queue
	processor Processor
	cfg       ConsumerConfig
	logger    zerolog.Logger
}

// NewConsumer creates a consumer
func NewConsumer(q *Queue, p Processor, cfg ConsumerConfig) *Consumer {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = DefaultConsumerConfig().TaskTimeout
	}
	return &Consumer{
		queue:     q,
		processor: p,
		cfg:       cfg,
		logger:    log.WithComponent("queue"),
	}
}

// Run consumes tasks until ctx is cancelled and always returns ctx.Err().
// In-flight tasks see the cancelled context; Run waits for them before
// returning. A task taken off the queue but not yet started is put back.
func (c *Consumer) Run(ctx context.Context) error {
	sem := make(chan struct{}, c.cfg.Concurrency)
	var wg sync.WaitGroup
	defer wg.Wait()

	c.logger.Debug().Int("concurrency", c.cfg.Concurrency).Msg("Summary queue consumer started")

	for {
		select {
		case <-ctx.Done():
			c.logger.Debug().Msg("Summary queue consumer stopping")
			return ctx.Err()

		case task := <-c.queue.ch:
			if ctx.Err() != nil {
				c.requeue(task)
				return ctx.Err()
			}
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				c.requeue(task)
				return ctx.Err()
			}

			wg.Add(1)
			go func(task types.SummaryTask) {
				defer wg.Done()
				defer func() { <-sem }()
				c.process(ctx, task)
			}(task)
		}
	}
}

func (c *Consumer) requeue(task types.SummaryTask) {
	if err := c.queue.Enqueue(task); err != nil {
		c.logger.Error().Err(err).Str("task_id", task.ID).Msg("Failed to return task to queue on shutdown")
	}
}

func (c *Consumer) process(ctx context.Context, task types.SummaryTask) {
	timer := metrics.NewTimer()
	logger := c.logger.With().Str("task_id", task.ID).Int64("group_id", int64(task.GroupID)).Logger()

	taskCtx, cancel := context.WithTimeout(ctx, c.cfg.TaskTimeout)
	defer cancel()

	status := StatusSuccess
	err := c.safeProcess(taskCtx, task)
	switch {
	case err == nil:
	case errors.Is(err, errPanic):
		status = StatusPanic
	case errors.Is(err, context.DeadlineExceeded):
		status = StatusTimeout
	default:
		status = StatusFailed
	}

	timer.ObserveDuration(metrics.TaskDuration)
	metrics.TasksProcessedTotal.WithLabelValues(status).Inc()

	if err != nil {
		logger.Error().Err(err).Str("status", status).Dur("duration", timer.Duration()).Msg("Summary task failed")
		return
	}
	logger.Debug().Dur("duration", timer.Duration()).Msg("Summary task processed")
}

var errPanic = errors.New("processor panicked")

func (c *Consumer) safeProcess(ctx context.Context, task types.SummaryTask) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Wrapf(errPanic, "%v", r)
		}
	}()
	return c.processor.Process(ctx, task)
}
