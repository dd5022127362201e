package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/cuemby/digest/pkg/health"
	"github.com/cuemby/digest/pkg/repair"
	"github.com/cuemby/digest/pkg/scheduler"
	"github.com/cuemby/digest/pkg/storage"
	"github.com/cuemby/digest/pkg/types"
)

type fakeStore struct {
	mu     sync.Mutex
	groups map[types.GroupID]*types.GroupConfig
	err    error
}

func newFakeStore() *fakeStore {
	return &fakeStore{groups: make(map[types.GroupID]*types.GroupConfig)}
}

func (f *fakeStore) GetGroup(id types.GroupID) (*types.GroupConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	cfg, ok := f.groups[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cfg, nil
}

func (f *fakeStore) PutGroup(id types.GroupID, cfg *types.GroupConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.groups[id] = cfg
	return nil
}

func (f *fakeStore) DeleteGroup(id types.GroupID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.groups, id)
	return nil
}

func (f *fakeStore) ListGroups() (map[types.GroupID]*types.GroupConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[types.GroupID]*types.GroupConfig, len(f.groups))
	for id, cfg := range f.groups {
		out[id] = cfg
	}
	return out, nil
}

type fakeScheduler struct {
	mu   sync.Mutex
	jobs map[string]types.Job
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{jobs: make(map[string]types.Job)}
}

func (f *fakeScheduler) UpsertGroupJob(ctx context.Context, id types.GroupID, cfg *types.GroupConfig) (types.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job := types.Job{Name: types.GroupJobName(id), GroupID: id, Spec: scheduler.GroupSpec(id, cfg)}
	f.jobs[job.Name] = job
	return job, nil
}

func (f *fakeScheduler) RemoveGroupJob(id types.GroupID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := types.GroupJobName(id)
	if _, ok := f.jobs[name]; !ok {
		return scheduler.ErrJobNotFound
	}
	delete(f.jobs, name)
	return nil
}

func (f *fakeScheduler) Jobs() []types.Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]types.Job, 0, len(f.jobs))
	for _, j := range f.jobs {
		out = append(out, j)
	}
	return out
}

func (f *fakeScheduler) Job(name string) (types.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[name]
	if !ok {
		return types.Job{}, errors.Wrapf(scheduler.ErrJobNotFound, "%s", name)
	}
	return j, nil
}

type fakeHealth struct {
	report *health.Report
	err    error
}

func (f *fakeHealth) Check(ctx context.Context) (*health.Report, error) {
	if f.err != nil {
		return nil, f.err
	}
	cp := *f.report
	return &cp, nil
}

type fakeRepair struct {
	report *repair.Report
	err    error
}

func (f *fakeRepair) Run(ctx context.Context) (*repair.Report, error) {
	return f.report, f.err
}

func healthyReport() *health.Report {
	return &health.Report{
		Healthy:        true,
		Scheduler:      health.SchedulerStatus{Running: true, JobsCount: 1},
		Queue:          health.QueueStatus{ProcessorActive: true, ProcessorCount: 1},
		Warnings:       []string{},
		Errors:         []string{},
		RepairsApplied: []string{},
	}
}

type testEnv struct {
	store  *fakeStore
	sched  *fakeScheduler
	health *fakeHealth
	repair *fakeRepair
	server *Server
}

func newTestEnv() *testEnv {
	env := &testEnv{
		store:  newFakeStore(),
		sched:  newFakeScheduler(),
		health: &fakeHealth{report: healthyReport()},
		repair: &fakeRepair{report: &repair.Report{Status: repair.StatusNothingToRepair, Repairs: []string{}, Errors: []string{}}},
	}
	env.server = NewServer(Deps{
		Store:     env.store,
		Scheduler: env.sched,
		Health:    env.health,
		Repair:    env.repair,
	})
	return env
}

func (env *testEnv) do(method, path string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	w := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv()

	w := env.do(http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var got health.Report
	require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
	assert.True(t, got.Healthy)
	assert.True(t, got.Queue.ProcessorActive)

	env.health.report.Healthy = false
	env.health.report.Warnings = []string{"scheduler not running"}
	w = env.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "scheduler not running")
}

func TestHealthEndpointNotifiesVerdict(t *testing.T) {
	env := newTestEnv()
	var verdicts []bool
	env.server = NewServer(Deps{
		Store:     env.store,
		Scheduler: env.sched,
		Health:    env.health,
		Repair:    env.repair,
		OnHealth:  func(r *health.Report) { verdicts = append(verdicts, r.Healthy) },
	})

	env.do(http.MethodGet, "/health", nil)
	env.health.report.Healthy = false
	env.do(http.MethodGet, "/health", nil)
	assert.Equal(t, []bool{true, false}, verdicts)
}

func TestHealthEndpointCancelled(t *testing.T) {
	env := newTestEnv()
	env.health.err = context.Canceled

	w := env.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "health check aborted")
}

func TestHealthTextEndpoint(t *testing.T) {
	env := newTestEnv()
	env.store.groups[1] = &types.GroupConfig{Hour: 8, Minute: 0, LeastMessageCount: 5}

	w := env.do(http.MethodGet, "/health/text", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.HasPrefix(w.Body.String(), "[Summary system health]"))
	assert.Contains(t, w.Body.String(), "Configured groups: 1")
}

func TestRepairEndpoint(t *testing.T) {
	env := newTestEnv()
	env.repair.report = &repair.Report{
		Status:  repair.StatusPartial,
		Repairs: []string{"scheduler started"},
		Errors:  []string{"failed to clean up store: disk full"},
	}

	w := env.do(http.MethodPost, "/repair", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var got repair.Report
	require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
	assert.Equal(t, repair.StatusPartial, got.Status)
	assert.Equal(t, []string{"scheduler started"}, got.Repairs)
}

func TestRepairEndpointUnavailable(t *testing.T) {
	env := newTestEnv()
	env.repair.report = nil
	env.repair.err = errors.Wrap(repair.ErrOrchestratorUnavailable, "orchestrator is closed")

	w := env.do(http.MethodPost, "/repair", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	var got ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
	assert.Contains(t, got.Error, "repair orchestrator unavailable")
}

func TestRepairEndpointMethod(t *testing.T) {
	env := newTestEnv()
	w := env.do(http.MethodGet, "/repair", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestGroupLifecycle(t *testing.T) {
	env := newTestEnv()

	body := []byte(`{"hour":21,"minute":30,"least_message_count":10,"style":"brief"}`)
	w := env.do(http.MethodPut, "/groups/123", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var put PutGroupResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&put))
	assert.Equal(t, types.GroupID(123), put.ID)
	assert.Equal(t, "summary_group_123", put.Job.Name)
	assert.Equal(t, "3 30 21 * * *", put.Job.Spec)

	w = env.do(http.MethodGet, "/groups/123", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got GroupResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
	assert.Equal(t, 10, got.Config.LeastMessageCount)
	assert.Equal(t, "brief", got.Config.Style)

	w = env.do(http.MethodGet, "/groups", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list []GroupResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&list))
	require.Len(t, list, 1)
	assert.Equal(t, "summary_group_123", list[0].Job)

	w = env.do(http.MethodGet, "/jobs", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "summary_group_123")

	w = env.do(http.MethodGet, "/jobs/summary_group_123", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var job types.Job
	require.NoError(t, json.NewDecoder(w.Body).Decode(&job))
	assert.Equal(t, "3 30 21 * * *", job.Spec)

	w = env.do(http.MethodGet, "/jobs/summary_group_999", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(http.MethodDelete, "/groups/123", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, env.sched.Jobs())

	w = env.do(http.MethodGet, "/groups/123", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGroupErrors(t *testing.T) {
	env := newTestEnv()

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
	}{
		{"invalid id", http.MethodGet, "/groups/abc", "", http.StatusBadRequest},
		{"unknown group", http.MethodGet, "/groups/42", "", http.StatusNotFound},
		{"delete unknown group", http.MethodDelete, "/groups/42", "", http.StatusNotFound},
		{"malformed body", http.MethodPut, "/groups/42", "{", http.StatusBadRequest},
		{"hour out of range", http.MethodPut, "/groups/42", `{"hour":24,"minute":0,"least_message_count":1}`, http.StatusBadRequest},
		{"zero message count", http.MethodPut, "/groups/42", `{"hour":1,"minute":0,"least_message_count":0}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(tt.method, tt.path, []byte(tt.body))
			assert.Equal(t, tt.status, w.Code)

			var got ErrorResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
			assert.NotEmpty(t, got.Error)
		})
	}
	assert.Empty(t, env.sched.Jobs())
}

func TestListGroupsStoreError(t *testing.T) {
	env := newTestEnv()
	env.store.err = errors.New("database closed")

	w := env.do(http.MethodGet, "/groups", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "database closed")
}

func TestLivenessEndpoint(t *testing.T) {
	env := newTestEnv()
	w := env.do(http.MethodGet, "/livez", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

// TestServerServeAndShutdown tests that Shutdown from another goroutine stops a running server
func TestServerServeAndShutdown(t *testing.T) {
	env := newTestEnv()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	url := "http://" + lis.Addr().String() + "/livez"

	errCh := make(chan error, 1)
	go func() { errCh <- env.server.Serve(lis) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, env.server.Shutdown(ctx))

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop after shutdown")
	}
}

// TestServerShutdownBeforeStart tests that a server shut down early never starts serving
func TestServerShutdownBeforeStart(t *testing.T) {
	env := newTestEnv()
	require.NoError(t, env.server.Shutdown(context.Background()))

	errCh := make(chan error, 1)
	go func() { errCh <- env.server.Start("127.0.0.1:0") }()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server kept serving after shutdown")
	}
}

func TestGRPCHealthFollowsVerdict(t *testing.T) {
	g := NewGRPCHealth()
	defer g.Stop()

	req := &healthpb.HealthCheckRequest{Service: ServiceName}

	resp, err := g.health.Check(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.Status)

	g.SetServing(true)
	resp, err = g.health.Check(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)

	g.SetServing(false)
	resp, err = g.health.Check(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.Status)
}
