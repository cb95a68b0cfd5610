package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mediaforge/transcoder/internal/core"
	"github.com/mediaforge/transcoder/internal/data"
	"github.com/mediaforge/transcoder/internal/domain/model"
	"github.com/mediaforge/transcoder/internal/observability/statsd"
)

// ReaperService recovers jobs stranded by crashed workers. A processing job
// whose lock no longer exists after the stale age is returned to received so
// the intake poller can claim it again. Jobs are never deleted here;
// retention is an external concern.
type ReaperService struct {
	jobs  core.JobRepository
	locks core.LockService

	staleAge            time.Duration
	batchSize           int
	notificationCeiling int

	timeProvider data.TimeProvider
	logger       *slog.Logger
	metrics      statsd.Sink
}

// ReaperServiceOptions holds the dependencies for creating a ReaperService.
type ReaperServiceOptions struct {
	Jobs  core.JobRepository
	Locks core.LockService

	// StaleAge is how long a processing job may go without an updated_at
	// bump before it is checked for a missing lock.
	StaleAge  time.Duration
	BatchSize int
	// NotificationCeiling mirrors the announcer's alert threshold so stuck
	// deliveries surface even when no announcer is running in this process.
	NotificationCeiling int

	TimeProvider data.TimeProvider
	Logger       *slog.Logger
	Metrics      statsd.Sink
}

// NewReaperService creates a new ReaperService.
func NewReaperService(opts ReaperServiceOptions) *ReaperService {
	if opts.TimeProvider == nil {
		opts.TimeProvider = &data.RealTimeProvider{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	staleAge := opts.StaleAge
	if staleAge <= 0 {
		staleAge = 15 * time.Minute
	}
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = 50
	}
	ceiling := opts.NotificationCeiling
	if ceiling <= 0 {
		ceiling = 10
	}

	return &ReaperService{
		jobs:                opts.Jobs,
		locks:               opts.Locks,
		staleAge:            staleAge,
		batchSize:           batchSize,
		notificationCeiling: ceiling,
		timeProvider:        opts.TimeProvider,
		logger:              logger.With("component", "reaper_service"),
		metrics:             opts.Metrics,
	}
}

// Tick runs one recovery pass. Returns the number of jobs reclaimed.
func (s *ReaperService) Tick(ctx context.Context, now time.Time) (int, error) {
	reclaimed, err := s.reclaimStale(ctx, now)
	if err != nil {
		return reclaimed, err
	}

	if alertErr := s.alertStuckNotifications(ctx); alertErr != nil {
		s.logger.ErrorContext(ctx, "stuck notification scan failed", "error", alertErr)
	}
	return reclaimed, nil
}

// reclaimStale returns orphaned processing jobs to received. A job is
// orphaned when its lock expired and no worker renewed it; a live pipeline
// keeps both the lock and updated_at fresh.
func (s *ReaperService) reclaimStale(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.Add(-s.staleAge)
	jobs, err := s.jobs.ListProcessingOlderThan(ctx, cutoff, s.batchSize)
	if err != nil {
		return 0, fmt.Errorf("list stale processing jobs: %w", err)
	}

	reclaimed := 0
	for _, job := range jobs {
		if ctx.Err() != nil {
			return reclaimed, ctx.Err()
		}

		lockKey := model.JobKey{TenantID: job.TenantID, VideoID: job.VideoID}.String()
		held, lockErr := s.locks.Exists(ctx, lockKey)
		if lockErr != nil {
			s.logger.ErrorContext(ctx, "lock check failed", "job_id", job.ID, "error", lockErr)
			continue
		}
		if held {
			continue // a worker still owns it, just slow
		}

		updated, markErr := s.jobs.MarkReceived(ctx, job.ID)
		if markErr != nil {
			s.logger.ErrorContext(ctx, "reclaim failed", "job_id", job.ID, "error", markErr)
			continue
		}
		if !updated {
			continue // the job moved on concurrently
		}

		reclaimed++
		s.logger.WarnContext(ctx, "reclaimed orphaned job",
			"job_id", job.ID,
			"tenant_id", job.TenantID,
			"video_id", job.VideoID,
			"stale_age", s.staleAge.String(),
		)
		if s.metrics != nil {
			s.metrics.Count("reaper.reclaimed", 1, map[string]string{"tenant_id": job.TenantID})
		}
	}
	return reclaimed, nil
}

// alertStuckNotifications surfaces completed jobs whose delivery attempts
// passed the ceiling. Alert only; the announcer keeps retrying.
func (s *ReaperService) alertStuckNotifications(ctx context.Context) error {
	status := model.JobStatusCompleted
	jobs, err := s.jobs.List(ctx, &model.JobListOptions{Status: &status, Limit: s.batchSize})
	if err != nil {
		return fmt.Errorf("list completed jobs: %w", err)
	}

	stuck := 0
	for _, job := range jobs {
		if job.NotificationAttempts <= s.notificationCeiling {
			continue
		}
		stuck++
		s.logger.ErrorContext(ctx, "job stuck past notification ceiling",
			"job_id", job.ID,
			"attempts", job.NotificationAttempts,
			"ceiling", s.notificationCeiling,
		)
	}
	if stuck > 0 && s.metrics != nil {
		s.metrics.Gauge("reaper.stuck_notifications", float64(stuck), nil)
	}
	return nil
}
