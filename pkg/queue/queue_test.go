package queue

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/digest/pkg/types"
)

func task(id string, group types.GroupID) types.SummaryTask {
	return types.SummaryTask{ID: id, GroupID: group, LeastMessageCount: 10}
}

func TestQueueEnqueueFull(t *testing.T) {
	q := New(2)
	assert.Equal(t, 2, q.Cap())

	require.NoError(t, q.Enqueue(task("a", 1)))
	require.NoError(t, q.Enqueue(task("b", 2)))
	assert.Equal(t, 2, q.Len())

	err := q.Enqueue(task("c", 3))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrQueueFull))
	assert.Equal(t, 2, q.Len())
}

func TestQueueDefaultCapacity(t *testing.T) {
	assert.Equal(t, DefaultCapacity, New(0).Cap())
}

func TestConsumerProcessesTasks(t *testing.T) {
	q := New(10)
	var mu sync.Mutex
	var seen []string
	done := make(chan struct{}, 3)

	c := NewConsumer(q, ProcessorFunc(func(ctx context.Context, task types.SummaryTask) error {
		mu.Lock()
		seen = append(seen, task.ID)
		mu.Unlock()
		done <- struct{}{}
		return nil
	}), ConsumerConfig{Concurrency: 1, TaskTimeout: time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- c.Run(ctx) }()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, q.Enqueue(task(id, 1)))
	}
	for i := 0; i < 3; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("task not processed")
		}
	}

	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"a", "b", "c"}, seen)
}

func TestConsumerBoundedConcurrency(t *testing.T) {
	q := New(10)
	var active, peak int32
	release := make(chan struct{})
	started := make(chan struct{}, 4)

	c := NewConsumer(q, ProcessorFunc(func(ctx context.Context, task types.SummaryTask) error {
		n := atomic.AddInt32(&active, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		started <- struct{}{}
		<-release
		atomic.AddInt32(&active, -1)
		return nil
	}), ConsumerConfig{Concurrency: 2, TaskTimeout: 5 * time.Second})

	for i := 0; i < 4; i++ {
		require.NoError(t, q.Enqueue(task("t", types.GroupID(i))))
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- c.Run(ctx) }()

	<-started
	<-started
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(2), atomic.LoadInt32(&peak))

	cancel()
	close(release)
	select {
	case <-errCh:
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop")
	}
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestConsumerRecoversFromPanic(t *testing.T) {
	q := New(10)
	processed := make(chan string, 2)

	c := NewConsumer(q, ProcessorFunc(func(ctx context.Context, task types.SummaryTask) error {
		if task.ID == "boom" {
			panic("processor exploded")
		}
		processed <- task.ID
		return nil
	}), ConsumerConfig{Concurrency: 1, TaskTimeout: time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = c.Run(ctx) }()

	require.NoError(t, q.Enqueue(task("boom", 1)))
	require.NoError(t, q.Enqueue(task("ok", 2)))

	select {
	case id := <-processed:
		assert.Equal(t, "ok", id)
	case <-time.After(2 * time.Second):
		t.Fatal("consumer stopped after panic")
	}
}

func TestConsumerLeavesQueuedTasksOnCancel(t *testing.T) {
	q := New(10)
	started := make(chan struct{})
	var once sync.Once

	c := NewConsumer(q, ProcessorFunc(func(ctx context.Context, task types.SummaryTask) error {
		once.Do(func() { close(started) })
		<-ctx.Done()
		return ctx.Err()
	}), ConsumerConfig{Concurrency: 1, TaskTimeout: 5 * time.Second})

	require.NoError(t, q.Enqueue(task("first", 1)))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- c.Run(ctx) }()

	<-started
	require.NoError(t, q.Enqueue(task("second", 2)))
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop")
	}
	assert.Equal(t, 1, q.Len())
}

func TestWebhookProcessor(t *testing.T) {
	var got atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.Store(r.Header.Get("X-Digest-Task-ID"))
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	p := NewWebhookProcessor(server.URL, time.Second)
	require.NoError(t, p.Process(context.Background(), task("abc", 42)))
	assert.Equal(t, "abc", got.Load())
}

func TestWebhookProcessorRejectsErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	p := NewWebhookProcessor(server.URL, time.Second)
	err := p.Process(context.Background(), task("abc", 42))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}
