package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/gwlsn/restreamer/internal/ffmpeg"
	"github.com/gwlsn/restreamer/internal/jobs"
	"github.com/gwlsn/restreamer/internal/logger"
)

// JobService is the subset of *jobs.Manager the handlers use.
type JobService interface {
	List() ([]*jobs.Job, error)
	Get(id string) (*jobs.Job, error)
	Add(in jobs.Input) (*jobs.Job, error)
	Start(id string) error
	Stop(id string) error
	Delete(id string) error
}

// Handler provides HTTP API handlers
type Handler struct {
	jobs     JobService
	bus      *jobs.Bus
	encoders []ffmpeg.Variant
}

// NewHandler creates a new API handler. encoders is the variant order the
// launcher will try on this host.
func NewHandler(svc JobService, bus *jobs.Bus, encoders []ffmpeg.Variant) *Handler {
	return &Handler{
		jobs:     svc,
		bus:      bus,
		encoders: encoders,
	}
}

// response helpers

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// classify maps manager errors to an HTTP status code and a short kind.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, jobs.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, jobs.ErrAlreadyRunning):
		return http.StatusConflict, "already_running"
	case errors.Is(err, jobs.ErrDuplicateKey):
		return http.StatusConflict, "duplicate_key"
	case errors.Is(err, jobs.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_input"
	case errors.Is(err, jobs.ErrProcess):
		return http.StatusBadGateway, "process"
	case errors.Is(err, jobs.ErrNotInitialized):
		return http.StatusServiceUnavailable, "not_initialized"
	case errors.Is(err, jobs.ErrPersistence):
		return http.StatusInternalServerError, "persistence"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func writeManagerError(w http.ResponseWriter, r *http.Request, err error) {
	status, kind := classify(err)
	if status >= http.StatusInternalServerError {
		logger.Error("Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error(), "kind": kind})
}

// ListJobs handles GET /api/jobs
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	list, err := h.jobs.List()
	if err != nil {
		writeManagerError(w, r, err)
		return
	}
	if list == nil {
		list = []*jobs.Job{}
	}
	writeJSON(w, http.StatusOK, list)
}

// CreateJob handles POST /api/jobs
func (h *Handler) CreateJob(w http.ResponseWriter, r *http.Request) {
	var in jobs.Input
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	job, err := h.jobs.Add(in)
	if err != nil {
		writeManagerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

// GetJob handles GET /api/jobs/{id}
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.jobs.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeManagerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// StartJob handles POST /api/jobs/{id}/start
func (h *Handler) StartJob(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.jobs.Start)
}

// StopJob handles POST /api/jobs/{id}/stop
func (h *Handler) StopJob(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.jobs.Stop)
}

// transition runs op and answers with the job's resulting record.
func (h *Handler) transition(w http.ResponseWriter, r *http.Request, op func(string) error) {
	id := chi.URLParam(r, "id")
	if err := op(id); err != nil {
		writeManagerError(w, r, err)
		return
	}
	job, err := h.jobs.Get(id)
	if err != nil {
		writeManagerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// DeleteJob handles DELETE /api/jobs/{id}
func (h *Handler) DeleteJob(w http.ResponseWriter, r *http.Request) {
	if err := h.jobs.Delete(chi.URLParam(r, "id")); err != nil {
		writeManagerError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Encoders handles GET /api/encoders
func (h *Handler) Encoders(w http.ResponseWriter, r *http.Request) {
	list := h.encoders
	if list == nil {
		list = []ffmpeg.Variant{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"encoders": list})
}
