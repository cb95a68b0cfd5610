package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mediaforge/transcoder/internal/core"
	"github.com/mediaforge/transcoder/internal/data"
	"github.com/mediaforge/transcoder/internal/domain/model"
	"github.com/mediaforge/transcoder/internal/observability/metrics"
	"github.com/mediaforge/transcoder/internal/observability/statsd"
)

// FailureService records externally-reported processing failures against the
// matching job.
type FailureService struct {
	jobs    core.JobRepository
	logger  *slog.Logger
	metrics statsd.Sink
}

// FailureServiceOptions holds the dependencies for creating a FailureService.
type FailureServiceOptions struct {
	Jobs    core.JobRepository
	Logger  *slog.Logger
	Metrics statsd.Sink
}

// NewFailureService creates a new FailureService.
func NewFailureService(opts FailureServiceOptions) *FailureService {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &FailureService{
		jobs:    opts.Jobs,
		logger:  logger.With("component", "failure_service"),
		metrics: opts.Metrics,
	}
}

// HandleProcessingFailed is the event bus handler for processing-failed
// events. A missing job or an already-terminal job is logged and acked;
// store failures propagate so the bus redelivers.
func (s *FailureService) HandleProcessingFailed(ctx context.Context, payload []byte) error {
	var event model.ProcessingFailedEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		s.logger.WarnContext(ctx, "malformed failure event, dropping", "error", err)
		return nil
	}
	if err := event.Validate(); err != nil {
		s.logger.WarnContext(ctx, "invalid failure event, dropping", "error", err)
		return nil
	}

	key := model.JobKey{TenantID: event.TenantID, VideoID: event.VideoID}
	job, err := s.jobs.GetByKey(ctx, key)
	if err != nil {
		if errors.Is(err, data.ErrJobNotFound) {
			s.logger.InfoContext(ctx, "failure event for unknown video, ignoring", "key", key.String())
			return nil
		}
		return fmt.Errorf("lookup job for %s: %w", key, err)
	}

	if job.Status.Terminal() {
		s.logger.InfoContext(ctx, "failure event for terminal job, ignoring",
			"job_id", job.ID,
			"status", job.Status,
		)
		return nil
	}

	detail := event.ComposeFailureDetail()
	updated, err := s.jobs.MarkFailed(ctx, job.ID, detail, job.Status)
	if err != nil {
		return fmt.Errorf("mark job %s failed: %w", job.ID, err)
	}
	if !updated {
		// The job moved concurrently. Redelivery will re-evaluate its status.
		return fmt.Errorf("job %s changed state while recording failure", job.ID)
	}

	s.logger.WarnContext(ctx, "job failed by external report",
		"job_id", job.ID,
		"tenant_id", job.TenantID,
		"video_id", job.VideoID,
		"error_message", detail,
	)
	metrics.EmitJobLifecycle(s.metrics, metrics.JobMetric{
		TenantID:   job.TenantID,
		Transition: "external_failure",
		Result:     metrics.ResultSuccess,
	})
	return nil
}
