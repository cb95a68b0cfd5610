// Package service provides the business logic of the transcode engine: job
// creation, intake claiming, the per-job transcoding pipeline, completion
// announcement, and failure recording.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/mediaforge/transcoder/internal/core"
	"github.com/mediaforge/transcoder/internal/domain/model"
	apperrors "github.com/mediaforge/transcoder/internal/errors"
	"github.com/mediaforge/transcoder/internal/observability/metrics"
	"github.com/mediaforge/transcoder/internal/observability/statsd"
)

// CreationService registers transcode jobs from upload-received events.
// Creation is idempotent per (tenant, video): a duplicate delivery while a
// non-terminal job exists is a no-op returning the existing job.
type CreationService struct {
	jobs    core.JobRepository
	logger  *slog.Logger
	metrics statsd.Sink
}

// CreationServiceOptions holds the dependencies for creating a CreationService.
type CreationServiceOptions struct {
	Jobs    core.JobRepository
	Logger  *slog.Logger
	Metrics statsd.Sink
}

// NewCreationService creates a new CreationService.
func NewCreationService(opts CreationServiceOptions) *CreationService {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &CreationService{
		jobs:    opts.Jobs,
		logger:  logger.With("component", "creation_service"),
		metrics: opts.Metrics,
	}
}

// Create registers a job for the request, or returns the existing
// non-terminal job for the same key. created reports whether a row was
// inserted.
func (s *CreationService) Create(ctx context.Context, req *model.CreateJobRequest) (*model.Job, bool, error) {
	if err := req.Validate(); err != nil {
		return nil, false, apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid job request")
	}

	job, created, err := s.jobs.CreateIdempotent(ctx, req)
	if err != nil {
		return nil, false, apperrors.Transient(err, "create job")
	}

	result := metrics.ResultNoop
	if created {
		result = metrics.ResultSuccess
		s.logger.InfoContext(ctx, "job created",
			"job_id", job.ID,
			"tenant_id", job.TenantID,
			"video_id", job.VideoID,
		)
	} else {
		s.logger.InfoContext(ctx, "duplicate upload event, returning existing job",
			"job_id", job.ID,
			"tenant_id", job.TenantID,
			"video_id", job.VideoID,
			"status", job.Status,
		)
	}
	metrics.EmitJobLifecycle(s.metrics, metrics.JobMetric{
		TenantID:   job.TenantID,
		Transition: "create",
		Result:     result,
	})

	return job, created, nil
}

// HandleUploadReceived is the event bus handler for upload-received events.
// Validation failures are logged and acked (redelivery cannot fix a bad
// payload); store failures propagate so the bus redelivers.
func (s *CreationService) HandleUploadReceived(ctx context.Context, payload []byte) error {
	var event model.UploadReceivedEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		s.logger.WarnContext(ctx, "malformed upload event, dropping", "error", err)
		return nil
	}
	if err := event.Validate(); err != nil {
		s.logger.WarnContext(ctx, "invalid upload event, dropping",
			"error", err,
			"tenant_id", event.TenantID,
			"video_id", event.VideoID,
		)
		return nil
	}

	req := &model.CreateJobRequest{
		TenantID:      event.TenantID,
		VideoID:       event.VideoID,
		InputLocation: event.InputLocation,
	}
	if _, _, err := s.Create(ctx, req); err != nil {
		return fmt.Errorf("handle upload event for %s: %w", req.Key(), err)
	}
	return nil
}
