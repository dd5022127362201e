package api

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/cuemby/digest/pkg/health"
	"github.com/cuemby/digest/pkg/log"
	"github.com/cuemby/digest/pkg/metrics"
	"github.com/cuemby/digest/pkg/repair"
	"github.com/cuemby/digest/pkg/types"
)

// maxRequestBodySize is the maximum accepted request body (1 MB)
const maxRequestBodySize = 1 << 20

// GroupStore is the configuration store surface served by the API
type GroupStore interface {
	GetGroup(id types.GroupID) (*types.GroupConfig, error)
	PutGroup(id types.GroupID, cfg *types.GroupConfig) error
	DeleteGroup(id types.GroupID) error
	ListGroups() (map[types.GroupID]*types.GroupConfig, error)
}

// JobScheduler is the scheduler surface served by the API
type JobScheduler interface {
	UpsertGroupJob(ctx context.Context, id types.GroupID, cfg *types.GroupConfig) (types.Job, error)
	RemoveGroupJob(id types.GroupID) error
	Jobs() []types.Job
	Job(name string) (types.Job, error)
}

// HealthChecker produces health snapshots
type HealthChecker interface {
	Check(ctx context.Context) (*health.Report, error)
}

// Repairer runs a repair
type Repairer interface {
	Run(ctx context.Context) (*repair.Report, error)
}

// Deps wires a Server to the pipeline
type Deps struct {
	Store     GroupStore
	Scheduler JobScheduler
	Health    HealthChecker
	Repair    Repairer

	// OnHealth is called with every snapshot served by /health (optional)
	OnHealth func(*health.Report)
}

// Server is the HTTP admin API
type Server struct {
	deps   Deps
	router chi.Router
	srv    *http.Server
	logger zerolog.Logger
}

// NewServer creates the admin API and registers its routes
func NewServer(deps Deps) *Server {
	s := &Server{
		deps:   deps,
		logger: log.WithComponent("api"),
	}

	r := chi.NewRouter()
	r.Use(s.requestLogger)
	r.Use(limitBody)

	r.Get("/health", s.handleHealth)
	r.Get("/health/text", s.handleHealthText)
	r.Post("/repair", s.handleRepair)

	r.Get("/ready", metrics.ReadyHandler())
	r.Get("/livez", metrics.LivenessHandler())
	r.Handle("/metrics", metrics.Handler())

	r.Route("/groups", func(r chi.Router) {
		r.Get("/", s.handleListGroups)
		r.Get("/{id}", s.handleGetGroup)
		r.Put("/{id}", s.handlePutGroup)
		r.Delete("/{id}", s.handleDeleteGroup)
	})
	r.Get("/jobs", s.handleListJobs)
	r.Get("/jobs/{name}", s.handleGetJob)

	s.router = r
	s.srv = &http.Server{
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: time.Minute,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the HTTP handler for embedding in other servers
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves the API on addr until Shutdown is called. A Start after
// Shutdown returns immediately.
func (s *Server) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		metrics.UpdateComponent(metrics.ComponentAPI, false, err.Error())
		return errors.Wrapf(err, "failed to listen on %s", addr)
	}
	return s.Serve(lis)
}

// Serve serves the API on lis until Shutdown is called
func (s *Server) Serve(lis net.Listener) error {
	addr := lis.Addr().String()
	metrics.UpdateComponent(metrics.ComponentAPI, true, "listening on "+addr)
	s.logger.Info().Str("addr", addr).Msg("Admin API listening")

	if err := s.srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		metrics.UpdateComponent(metrics.ComponentAPI, false, err.Error())
		return errors.Wrap(err, "admin API server failed")
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones
func (s *Server) Shutdown(ctx context.Context) error {
	metrics.UpdateComponent(metrics.ComponentAPI, false, "shutting down")
	return s.srv.Shutdown(ctx)
}
