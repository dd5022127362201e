package api

import (
	"encoding/json"
	"net/http"
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"

	"github.com/cuemby/digest/pkg/health"
	"github.com/cuemby/digest/pkg/repair"
	"github.com/cuemby/digest/pkg/scheduler"
	"github.com/cuemby/digest/pkg/storage"
	"github.com/cuemby/digest/pkg/types"
)

// ErrorResponse is the body of every non-2xx JSON response
type ErrorResponse struct {
	Error string `json:"error"`
}

// GroupResponse is a stored group together with its job
type GroupResponse struct {
	ID     types.GroupID      `json:"id"`
	Config *types.GroupConfig `json:"config"`
	Job    string             `json:"job"`
}

// GroupRequest is the body of PUT /groups/{id}
type GroupRequest struct {
	Hour              int    `json:"hour"`
	Minute            int    `json:"minute"`
	LeastMessageCount int    `json:"least_message_count"`
	Style             string `json:"style,omitempty"`
}

// PutGroupResponse reports the stored group and its (re)scheduled job
type PutGroupResponse struct {
	ID     types.GroupID      `json:"id"`
	Config *types.GroupConfig `json:"config"`
	Job    types.Job          `json:"job"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, ErrorResponse{Error: err.Error()})
}

func (s *Server) check(w http.ResponseWriter, r *http.Request) (*health.Report, bool) {
	report, err := s.deps.Health.Check(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, errors.Wrap(err, "health check aborted"))
		return nil, false
	}
	if s.deps.OnHealth != nil {
		s.deps.OnHealth(report)
	}
	return report, true
}

// handleHealth serves the JSON snapshot, 503 when unhealthy
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report, ok := s.check(w, r)
	if !ok {
		return
	}
	status := http.StatusOK
	if !report.Healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

func (s *Server) handleHealthText(w http.ResponseWriter, r *http.Request) {
	report, ok := s.check(w, r)
	if !ok {
		return
	}
	groups, err := s.deps.Store.ListGroups()
	if err != nil {
		report.Errors = append(report.Errors, "failed to count groups: "+err.Error())
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(health.Format(report, len(groups))))
}

// handleRepair runs a repair. Partial repairs are still 200: the report
// carries the errors. Only an orchestrator that cannot run at all is a 500.
func (s *Server) handleRepair(w http.ResponseWriter, r *http.Request) {
	report, err := s.deps.Repair.Run(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Bool("unavailable", errors.Is(err, repair.ErrOrchestratorUnavailable)).Msg("Repair could not run")
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleListGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := s.deps.Store.ListGroups()
	if err != nil {
		writeError(w, http.StatusInternalServerError, errors.Wrap(err, "failed to list groups"))
		return
	}

	out := make([]GroupResponse, 0, len(groups))
	for id, cfg := range groups {
		out = append(out, GroupResponse{ID: id, Config: cfg, Job: types.GroupJobName(id)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	writeJSON(w, http.StatusOK, out)
}

func groupIDParam(r *http.Request) (types.GroupID, error) {
	return types.ParseGroupID(chi.URLParam(r, "id"))
}

func (s *Server) handleGetGroup(w http.ResponseWriter, r *http.Request) {
	id, err := groupIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	cfg, err := s.deps.Store.GetGroup(id)
	if storage.IsNotFound(err) {
		writeError(w, http.StatusNotFound, errors.Newf("group %s not found", id))
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, errors.Wrapf(err, "failed to get group %s", id))
		return
	}
	writeJSON(w, http.StatusOK, GroupResponse{ID: id, Config: cfg, Job: types.GroupJobName(id)})
}

// handlePutGroup stores the config and schedules its job
func (s *Server) handlePutGroup(w http.ResponseWriter, r *http.Request) {
	id, err := groupIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var req GroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errors.Wrap(err, "invalid request body"))
		return
	}
	cfg := &types.GroupConfig{
		Hour:              req.Hour,
		Minute:            req.Minute,
		LeastMessageCount: req.LeastMessageCount,
		Style:             req.Style,
	}
	if err := cfg.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := s.deps.Store.PutGroup(id, cfg); err != nil {
		writeError(w, http.StatusInternalServerError, errors.Wrapf(err, "failed to store group %s", id))
		return
	}
	stored, err := s.deps.Store.GetGroup(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, errors.Wrapf(err, "failed to read back group %s", id))
		return
	}
	job, err := s.deps.Scheduler.UpsertGroupJob(r.Context(), id, stored)
	if err != nil {
		writeError(w, http.StatusInternalServerError, errors.Wrapf(err, "failed to schedule group %s", id))
		return
	}

	s.logger.Info().Str("group_id", id.String()).Str("job", job.Name).Msg("Group configured")
	writeJSON(w, http.StatusOK, PutGroupResponse{ID: id, Config: stored, Job: job})
}

// handleDeleteGroup removes the config and its job. A missing job is not an error.
func (s *Server) handleDeleteGroup(w http.ResponseWriter, r *http.Request) {
	id, err := groupIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if _, err := s.deps.Store.GetGroup(id); err != nil {
		if storage.IsNotFound(err) {
			writeError(w, http.StatusNotFound, errors.Newf("group %s not found", id))
			return
		}
		writeError(w, http.StatusInternalServerError, errors.Wrapf(err, "failed to get group %s", id))
		return
	}
	if err := s.deps.Store.DeleteGroup(id); err != nil {
		writeError(w, http.StatusInternalServerError, errors.Wrapf(err, "failed to delete group %s", id))
		return
	}
	if err := s.deps.Scheduler.RemoveGroupJob(id); err != nil {
		s.logger.Debug().Err(err).Str("group_id", id.String()).Msg("No job to remove for deleted group")
	}

	s.logger.Info().Str("group_id", id.String()).Msg("Group removed")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Scheduler.Jobs())
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.deps.Scheduler.Job(chi.URLParam(r, "name"))
	if errors.Is(err, scheduler.ErrJobNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}
