package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/render"

	"github.com/steveyegge/autoprog/internal/coordinator"
	"github.com/steveyegge/autoprog/internal/storage"
	"github.com/steveyegge/autoprog/internal/types"
)

// RunRequest is the optional body of POST /runs.
type RunRequest struct {
	MaxConcurrency int      `json:"max_concurrency"`
	Exclude        []string `json:"exclude"`
}

// RollbackRequest is the body of POST /rollback.
type RollbackRequest struct {
	Path string `json:"path"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func respondError(w http.ResponseWriter, r *http.Request, status int, err error) {
	render.Status(r, status)
	render.JSON(w, r, errorResponse{Error: err.Error()})
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, coordinator.ErrOutsideWorkspace):
		return http.StatusBadRequest
	case errors.Is(err, types.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, coordinator.ErrBatchInProgress),
		errors.Is(err, storage.ErrWorkspaceLocked),
		errors.Is(err, types.ErrLedgerIntegrity):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]string{
		"status":    "ok",
		"workspace": s.coord.Root(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.coord.Status(r.Context(), r.URL.Query()["exclude"])
	if err != nil {
		respondError(w, r, statusFor(err), err)
		return
	}
	render.JSON(w, r, st)
}

func (s *Server) handleLatestReport(w http.ResponseWriter, r *http.Request) {
	report, err := s.coord.Store().GetLatestReport(r.Context())
	if err != nil {
		respondError(w, r, statusFor(err), err)
		return
	}
	render.JSON(w, r, report)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			respondError(w, r, http.StatusBadRequest, errors.New("limit must be a non-negative integer"))
			return
		}
		limit = n
	}
	runs, err := s.coord.Store().ListRuns(r.Context(), limit)
	if err != nil {
		respondError(w, r, statusFor(err), err)
		return
	}
	if runs == nil {
		runs = []*types.RunRecord{}
	}
	render.JSON(w, r, runs)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := types.ChangeFilter{
		Path:    q.Get("path"),
		TaskID:  q.Get("task"),
		RunID:   q.Get("run"),
		Outcome: types.Outcome(q.Get("outcome")),
	}
	if filter.Outcome != "" && !filter.Outcome.IsValid() {
		respondError(w, r, http.StatusBadRequest, errors.New("invalid outcome: "+q.Get("outcome")))
		return
	}
	if v := q.Get("since"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			respondError(w, r, http.StatusBadRequest, errors.New("since must be a duration like 24h"))
			return
		}
		filter.Since = time.Now().Add(-d)
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			respondError(w, r, http.StatusBadRequest, errors.New("limit must be a non-negative integer"))
			return
		}
		filter.Limit = n
	}

	records, err := s.coord.History(r.Context(), filter)
	if err != nil {
		respondError(w, r, statusFor(err), err)
		return
	}
	if records == nil {
		records = []*types.ChangeRecord{}
	}
	render.JSON(w, r, records)
}

// handleStartRun starts a batch. By default the batch runs in the background
// and the response is 202; with ?wait=true the response is the Report.
func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, r, http.StatusBadRequest, errors.New("invalid json"))
		return
	}
	if req.MaxConcurrency < 0 {
		respondError(w, r, http.StatusBadRequest, errors.New("max_concurrency cannot be negative"))
		return
	}

	if !s.claim() {
		respondError(w, r, http.StatusConflict, coordinator.ErrBatchInProgress)
		return
	}

	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); wait {
		defer s.release()
		report, err := s.coord.RunBatch(r.Context(), req.MaxConcurrency, req.Exclude)
		if err != nil {
			respondError(w, r, statusFor(err), err)
			return
		}
		render.JSON(w, r, report)
		return
	}

	s.batches.Add(1)
	go func() {
		defer s.batches.Done()
		defer s.release()
		report, err := s.coord.RunBatch(s.ctx, req.MaxConcurrency, req.Exclude)
		if err != nil {
			s.logger.Error("background batch failed", "error", err)
			return
		}
		s.logger.Info("background batch finished", "run", report.RunID, "cancelled", report.Cancelled)
	}()

	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, map[string]string{"status": "started"})
}

func (s *Server) handleStopRun(w http.ResponseWriter, r *http.Request) {
	s.coord.Stop()
	render.JSON(w, r, map[string]string{"status": "stopping"})
}

func (s *Server) handleRollback(w http.ResponseWriter, r *http.Request) {
	var req RollbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, r, http.StatusBadRequest, errors.New("invalid json"))
		return
	}
	if req.Path == "" {
		respondError(w, r, http.StatusBadRequest, errors.New("path is required"))
		return
	}
	rec, err := s.coord.RollbackLast(r.Context(), req.Path)
	if err != nil {
		respondError(w, r, statusFor(err), err)
		return
	}
	render.JSON(w, r, rec)
}
