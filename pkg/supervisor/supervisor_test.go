package supervisor

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/digest/pkg/events"
	"github.com/cuemby/digest/pkg/metrics"
)

// cooperative returns a RunFunc that exits on cancellation and tracks how
// many instances are alive
func cooperative(active *int32) RunFunc {
	return func(ctx context.Context) error {
		atomic.AddInt32(active, 1)
		defer atomic.AddInt32(active, -1)
		<-ctx.Done()
		return ctx.Err()
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 10*time.Millisecond)
}

type capturePublisher struct {
	mu     sync.Mutex
	events []*events.Event
}

func (p *capturePublisher) Publish(ev *events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *capturePublisher) types() []events.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.EventType, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Type)
	}
	return out
}

// TestRestartWithoutInstance tests that a restart with nothing running still spawns one
func TestRestartWithoutInstance(t *testing.T) {
	var active int32
	pub := &capturePublisher{}
	s := New(cooperative(&active), Config{GracePeriod: time.Second, Publisher: pub})
	defer func() { _ = s.Stop(context.Background()) }()

	assert.False(t, s.IsRunning())

	out := s.Restart()
	require.True(t, out.Success, out.Message)
	assert.NoError(t, out.Err)
	assert.NotEmpty(t, out.InstanceID)
	assert.False(t, out.Abandoned)
	assert.False(t, out.PreviouslyRunning)

	waitFor(t, func() bool { return atomic.LoadInt32(&active) == 1 })
	assert.True(t, s.IsRunning())
	assert.Equal(t, 1, s.Count())
	assert.Equal(t, []events.EventType{events.EventConsumerRestarted}, pub.types())
}

// TestRestartReplacesInstance tests that the old instance is cancelled and one new instance runs
func TestRestartReplacesInstance(t *testing.T) {
	var active int32
	s := New(cooperative(&active), Config{GracePeriod: time.Second})
	defer func() { _ = s.Stop(context.Background()) }()

	first := s.Restart()
	require.True(t, first.Success)
	waitFor(t, func() bool { return atomic.LoadInt32(&active) == 1 })

	second := s.Restart()
	require.True(t, second.Success)
	assert.NotEqual(t, first.InstanceID, second.InstanceID)
	assert.False(t, second.Abandoned)
	assert.True(t, second.PreviouslyRunning)

	waitFor(t, func() bool { return atomic.LoadInt32(&active) == 1 })
	st := s.Status()
	assert.Equal(t, second.InstanceID, st.InstanceID)
	assert.True(t, st.Running)
	assert.Equal(t, 2, st.Restarts)
	assert.Empty(t, st.LastError)
}

// TestRestartBoundedByGracePeriod tests that an instance ignoring cancellation
// does not block the restart past the grace period
func TestRestartBoundedByGracePeriod(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	var spawned int32
	s := New(func(ctx context.Context) error {
		if atomic.AddInt32(&spawned, 1) == 1 {
			<-release
			return nil
		}
		<-ctx.Done()
		return ctx.Err()
	}, Config{GracePeriod: 100 * time.Millisecond})
	defer func() { _ = s.Stop(context.Background()) }()

	require.True(t, s.Restart().Success)
	waitFor(t, func() bool { return atomic.LoadInt32(&spawned) == 1 })

	before := testutil.ToFloat64(metrics.ConsumerAbandonedTotal)
	start := time.Now()
	out := s.Restart()
	elapsed := time.Since(start)

	require.True(t, out.Success, out.Message)
	assert.True(t, out.Abandoned)
	assert.GreaterOrEqual(t, elapsed, 100*time.Millisecond)
	assert.Less(t, elapsed, time.Second)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.ConsumerAbandonedTotal))

	waitFor(t, func() bool { return atomic.LoadInt32(&spawned) == 2 })
}

// TestConcurrentRestarts tests that concurrent restarts leave exactly one live instance
func TestConcurrentRestarts(t *testing.T) {
	var active int32
	s := New(cooperative(&active), Config{GracePeriod: time.Second})
	defer func() { _ = s.Stop(context.Background()) }()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.True(t, s.Restart().Success)
		}()
	}
	wg.Wait()

	waitFor(t, func() bool { return atomic.LoadInt32(&active) == 1 })
	assert.Equal(t, 10, s.Status().Restarts)
}

func TestEnsureRunning(t *testing.T) {
	var active int32
	s := New(cooperative(&active), Config{})
	defer func() { _ = s.Stop(context.Background()) }()

	first := s.EnsureRunning()
	require.True(t, first.Success)
	waitFor(t, func() bool { return atomic.LoadInt32(&active) == 1 })

	second := s.EnsureRunning()
	require.True(t, second.Success)
	assert.Equal(t, first.InstanceID, second.InstanceID)
	assert.Equal(t, int32(1), atomic.LoadInt32(&active))
}

func TestEnsureRunningAfterCrash(t *testing.T) {
	var calls int32
	s := New(func(ctx context.Context) error {
		if atomic.AddInt32(&calls, 1) == 1 {
			panic("consumer crashed")
		}
		<-ctx.Done()
		return ctx.Err()
	}, Config{})
	defer func() { _ = s.Stop(context.Background()) }()

	require.True(t, s.EnsureRunning().Success)
	waitFor(t, func() bool { return !s.IsRunning() })

	st := s.Status()
	assert.False(t, st.Running)
	assert.Contains(t, st.LastError, "consumer crashed")

	out := s.EnsureRunning()
	require.True(t, out.Success)
	waitFor(t, s.IsRunning)
	assert.Contains(t, s.Status().LastError, "consumer crashed")
}

func TestStop(t *testing.T) {
	var active int32
	pub := &capturePublisher{}
	s := New(cooperative(&active), Config{Publisher: pub})

	require.True(t, s.Restart().Success)
	waitFor(t, func() bool { return atomic.LoadInt32(&active) == 1 })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	assert.Equal(t, int32(0), atomic.LoadInt32(&active))
	require.NoError(t, s.Stop(ctx))

	out := s.Restart()
	assert.False(t, out.Success)
	assert.True(t, errors.Is(out.Err, ErrStopped))

	out = s.EnsureRunning()
	assert.False(t, out.Success)
	assert.True(t, errors.Is(out.Err, ErrStopped))

	assert.Contains(t, pub.types(), events.EventConsumerFailed)
}

func TestRestartWithoutRunFunc(t *testing.T) {
	s := New(nil, Config{})
	out := s.Restart()
	assert.False(t, out.Success)
	assert.True(t, errors.Is(out.Err, ErrNoRunFunc))
}
