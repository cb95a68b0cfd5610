// Package httpx provides the HTTP read and admin API for the transcode engine.
package httpx

import (
	"errors"
	"net/http"

	"github.com/mediaforge/transcoder/internal/domain/model"
	"github.com/mediaforge/transcoder/internal/service"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// JobHandlers provides HTTP handlers for job-related operations.
type JobHandlers struct {
	Svc *service.JobService
}

// ListJobs handles HTTP requests to list jobs with optional filters.
func (h *JobHandlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	opts := &model.JobListOptions{}
	opts.Limit, opts.Offset = ParseLimitOffset(r, defaultListLimit, maxListLimit)

	if raw := r.URL.Query().Get("status"); raw != "" {
		var status model.JobStatus
		if err := status.UnmarshalText([]byte(raw)); err != nil {
			WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_status", Err: err})
			return
		}
		opts.Status = &status
	}
	if videoID := r.URL.Query().Get("video_id"); videoID != "" {
		opts.VideoID = &videoID
	}

	jobs, err := h.Svc.List(r.Context(), opts)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

// GetJob handles HTTP requests to fetch one job with its renditions.
func (h *JobHandlers) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if jobID == "" {
		WriteError(
			w,
			ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_path", Err: errors.New("job id is required")},
		)
		return
	}

	job, err := h.Svc.Get(r.Context(), jobID)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, job)
}

// LookupJob handles HTTP requests to find a job by tenant and video id.
func (h *JobHandlers) LookupJob(w http.ResponseWriter, r *http.Request) {
	key := model.JobKey{
		TenantID: r.URL.Query().Get("tenant_id"),
		VideoID:  r.URL.Query().Get("video_id"),
	}

	job, err := h.Svc.Lookup(r.Context(), key)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, job)
}

// AbortJob handles HTTP requests to abort a non-terminal job.
func (h *JobHandlers) AbortJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if jobID == "" {
		WriteError(
			w,
			ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_path", Err: errors.New("job id is required")},
		)
		return
	}

	job, err := h.Svc.Abort(r.Context(), jobID)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, job)
}

// JobStats handles HTTP requests for per-status job counts.
func (h *JobHandlers) JobStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Svc.Stats(r.Context())
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, stats)
}

func registerJobRoutes(mux *http.ServeMux, h *JobHandlers) {
	mux.HandleFunc("GET /api/jobs", h.ListJobs)
	mux.HandleFunc("GET /api/jobs/stats", h.JobStats)
	mux.HandleFunc("GET /api/jobs/lookup", h.LookupJob)
	mux.HandleFunc("GET /api/jobs/{id}", h.GetJob)
	mux.HandleFunc("POST /api/jobs/{id}/abort", h.AbortJob)
}
