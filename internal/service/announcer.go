package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mediaforge/transcoder/internal/core"
	"github.com/mediaforge/transcoder/internal/data"
	"github.com/mediaforge/transcoder/internal/domain/model"
	"github.com/mediaforge/transcoder/internal/observability/metrics"
	"github.com/mediaforge/transcoder/internal/observability/statsd"
)

// AnnouncerService publishes the transcoded event for completed jobs and
// marks them notified. Publish failure only bumps the delivery counter; the
// processing outcome is never changed by a delivery problem.
type AnnouncerService struct {
	jobs       core.JobRepository
	renditions core.RenditionRepository
	publisher  core.EventPublisher

	batchSize    int
	quiescence   time.Duration
	retryCeiling int

	timeProvider data.TimeProvider
	logger       *slog.Logger
	metrics      statsd.Sink
}

// AnnouncerServiceOptions holds the dependencies for creating an AnnouncerService.
type AnnouncerServiceOptions struct {
	Jobs       core.JobRepository
	Renditions core.RenditionRepository
	Publisher  core.EventPublisher

	BatchSize int
	// Quiescence is how long a job must sit completed before it is announced.
	// The window reduces races with a just-finished pipeline; downstream
	// consumers still dedup on the event's job id.
	Quiescence time.Duration
	// RetryCeiling caps silent delivery retries: attempts exceeding it are
	// surfaced as an alert condition.
	RetryCeiling int

	TimeProvider data.TimeProvider
	Logger       *slog.Logger
	Metrics      statsd.Sink
}

// NewAnnouncerService creates a new AnnouncerService.
func NewAnnouncerService(opts AnnouncerServiceOptions) *AnnouncerService {
	if opts.TimeProvider == nil {
		opts.TimeProvider = &data.RealTimeProvider{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = 20
	}
	quiescence := opts.Quiescence
	if quiescence <= 0 {
		quiescence = 30 * time.Second
	}
	retryCeiling := opts.RetryCeiling
	if retryCeiling <= 0 {
		retryCeiling = 10
	}

	return &AnnouncerService{
		jobs:         opts.Jobs,
		renditions:   opts.Renditions,
		publisher:    opts.Publisher,
		batchSize:    batchSize,
		quiescence:   quiescence,
		retryCeiling: retryCeiling,
		timeProvider: opts.TimeProvider,
		logger:       logger.With("component", "announcer_service"),
		metrics:      opts.Metrics,
	}
}

// Tick announces completed jobs past the quiescence window. Returns the
// number of jobs moved to notified. Per-job failures are logged and counted,
// never propagated, so one bad job cannot halt the scan.
func (s *AnnouncerService) Tick(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.Add(-s.quiescence)
	jobs, err := s.jobs.ListCompletedBefore(ctx, cutoff, s.batchSize)
	if err != nil {
		return 0, fmt.Errorf("list completed jobs: %w", err)
	}

	notified := 0
	for _, job := range jobs {
		if ctx.Err() != nil {
			return notified, ctx.Err()
		}
		if s.announce(ctx, job) {
			notified++
		}
	}
	return notified, nil
}

// announce publishes one job's event and flips it to notified. Returns true
// only when the notified transition was recorded.
func (s *AnnouncerService) announce(ctx context.Context, job *model.Job) bool {
	event, err := s.buildEvent(ctx, job)
	if err != nil {
		s.logger.ErrorContext(ctx, "build transcoded event failed", "job_id", job.ID, "error", err)
		return false
	}

	if pubErr := s.publisher.PublishTranscoded(ctx, event); pubErr != nil {
		s.recordDeliveryFailure(ctx, job, pubErr)
		return false
	}

	updated, err := s.jobs.MarkNotified(ctx, job.ID)
	if err != nil {
		s.logger.ErrorContext(ctx, "mark notified failed", "job_id", job.ID, "error", err)
		return false
	}
	if !updated {
		// Another announcer got there first. The duplicate publish is
		// absorbed by downstream dedup on job id.
		s.logger.InfoContext(ctx, "job already notified by another announcer", "job_id", job.ID)
		return false
	}

	metrics.EmitNotification(s.metrics, metrics.ResultSuccess, job.NotificationAttempts)
	s.logger.InfoContext(ctx, "job notified",
		"job_id", job.ID,
		"tenant_id", job.TenantID,
		"video_id", job.VideoID,
	)
	return true
}

func (s *AnnouncerService) buildEvent(ctx context.Context, job *model.Job) (*model.TranscodedEvent, error) {
	rows, err := s.renditions.ListByJob(ctx, job.ID)
	if err != nil {
		return nil, fmt.Errorf("list renditions: %w", err)
	}

	summary := make(map[string]string, len(rows))
	for _, r := range rows {
		if r.Status == model.RenditionStatusCompleted && r.OutputPath != nil {
			summary[r.ProfileName] = *r.OutputPath
		}
	}

	manifest := ""
	if job.OutputManifestLocation != nil {
		manifest = *job.OutputManifestLocation
	}

	return &model.TranscodedEvent{
		VideoID:          job.VideoID,
		JobID:            job.ID,
		TenantID:         job.TenantID,
		ManifestLocation: manifest,
		Success:          true,
		OutputSummary:    summary,
	}, nil
}

// recordDeliveryFailure bumps the attempt counter and alerts past the
// ceiling. The job stays completed so the next cycle retries.
func (s *AnnouncerService) recordDeliveryFailure(ctx context.Context, job *model.Job, pubErr error) {
	attempts, err := s.jobs.IncrementNotificationAttempts(ctx, job.ID)
	if err != nil {
		s.logger.ErrorContext(ctx, "increment notification attempts failed",
			"job_id", job.ID,
			"error", err,
		)
		return
	}

	metrics.EmitNotification(s.metrics, metrics.ResultError, attempts)
	if attempts > s.retryCeiling {
		s.logger.ErrorContext(ctx, "notification attempts exceeded ceiling",
			"job_id", job.ID,
			"attempts", attempts,
			"ceiling", s.retryCeiling,
			"error", pubErr,
		)
		if s.metrics != nil {
			s.metrics.Count("notification.ceiling_breach", 1, map[string]string{"tenant_id": job.TenantID})
		}
		return
	}

	s.logger.WarnContext(ctx, "publish failed, will retry next cycle",
		"job_id", job.ID,
		"attempts", attempts,
		"error", pubErr,
	)
}
