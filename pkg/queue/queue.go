package queue

import (
	"github.com/cockroachdb/errors"

	"github.com/cuemby/digest/pkg/metrics"
	"github.com/cuemby/digest/pkg/types"
)

// ErrQueueFull is returned when the queue is at capacity
var ErrQueueFull = errors.New("summary queue is full")

// DefaultCapacity is used when New is given a non-positive capacity
const DefaultCapacity = 1024

// Queue is a bounded FIFO of summary tasks shared by the scheduler (producer)
// and the supervised consumer. It outlives any single consumer instance.
type Queue struct {
	ch chan types.SummaryTask
}

// New creates a queue holding at most capacity tasks
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{ch: make(chan types.SummaryTask, capacity)}
}

// Enqueue adds a task without blocking
func (q *Queue) Enqueue(task types.SummaryTask) error {
	select {
	case q.ch <- task:
		metrics.TasksEnqueuedTotal.WithLabelValues("accepted").Inc()
		return nil
	default:
		metrics.TasksEnqueuedTotal.WithLabelValues("dropped").Inc()
		return errors.Wrapf(ErrQueueFull, "group %s", task.GroupID)
	}
}

// Len returns the number of waiting tasks
func (q *Queue) Len() int {
	return len(q.ch)
}

// Cap returns the queue capacity
func (q *Queue) Cap() int {
	return cap(q.ch)
}
