package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mediaforge/transcoder/internal/core"
	"github.com/mediaforge/transcoder/internal/data"
	"github.com/mediaforge/transcoder/internal/domain/model"
	apperrors "github.com/mediaforge/transcoder/internal/errors"
)

// JobService is the read and admin surface over the job store.
type JobService struct {
	jobs       core.JobRepository
	renditions core.RenditionRepository
	aborts     core.AbortSignaler
	logger     *slog.Logger
}

// JobServiceOptions holds the dependencies for creating a JobService.
type JobServiceOptions struct {
	Jobs       core.JobRepository
	Renditions core.RenditionRepository
	Aborts     core.AbortSignaler
	Logger     *slog.Logger
}

// NewJobService creates a new JobService.
func NewJobService(opts JobServiceOptions) *JobService {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &JobService{
		jobs:       opts.Jobs,
		renditions: opts.Renditions,
		aborts:     opts.Aborts,
		logger:     logger.With("component", "job_service"),
	}
}

// List returns jobs matching the filters, newest first.
func (s *JobService) List(ctx context.Context, opts *model.JobListOptions) ([]*model.Job, error) {
	if opts == nil {
		opts = &model.JobListOptions{}
	}
	jobs, err := s.jobs.List(ctx, opts)
	if err != nil {
		return nil, apperrors.Transient(err, "list jobs")
	}
	return jobs, nil
}

// Get returns one job with its renditions.
func (s *JobService) Get(ctx context.Context, id string) (*model.JobWithRenditions, error) {
	job, err := s.getJob(ctx, id)
	if err != nil {
		return nil, err
	}

	renditions, err := s.renditions.ListByJob(ctx, id)
	if err != nil {
		return nil, apperrors.Transient(err, "list renditions")
	}
	return &model.JobWithRenditions{Job: job, Renditions: renditions}, nil
}

// Lookup returns the most recent job for a (tenant, video) pair.
func (s *JobService) Lookup(ctx context.Context, key model.JobKey) (*model.Job, error) {
	if err := key.Validate(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid lookup key")
	}
	job, err := s.jobs.GetByKey(ctx, key)
	if err != nil {
		if errors.Is(err, data.ErrJobNotFound) {
			return nil, apperrors.NotFoundf("no job for %s", key)
		}
		return nil, apperrors.Transient(err, "lookup job")
	}
	return job, nil
}

// Stats returns job counts by status.
func (s *JobService) Stats(ctx context.Context) (*model.JobStats, error) {
	stats, err := s.jobs.Stats(ctx)
	if err != nil {
		return nil, apperrors.Transient(err, "job stats")
	}
	return stats, nil
}

// Abort cancels a job. A received job fails immediately; a processing job is
// signalled if this process runs it, and failed through the conditional
// update either way so a remote pipeline's next optimistic check loses.
// Aborting a terminal job is rejected.
func (s *JobService) Abort(ctx context.Context, id string) (*model.Job, error) {
	job, err := s.getJob(ctx, id)
	if err != nil {
		return nil, err
	}

	switch job.Status {
	case model.JobStatusReceived, model.JobStatusProcessing:
	default:
		return nil, apperrors.Conflictf("cannot abort job in status %s", job.Status)
	}

	if job.Status == model.JobStatusProcessing && s.aborts != nil {
		if s.aborts.Signal(id) {
			// The local pipeline records the terminal state itself.
			s.logger.InfoContext(ctx, "abort signalled to running pipeline", "job_id", id)
			return s.getJob(ctx, id)
		}
	}

	updated, err := s.jobs.MarkFailed(ctx, id, "aborted", job.Status)
	if err != nil {
		return nil, apperrors.Transient(err, "abort job")
	}
	if !updated {
		return nil, apperrors.Conflictf("job %s changed state during abort", id)
	}

	s.logger.InfoContext(ctx, "job aborted",
		"job_id", id,
		"tenant_id", job.TenantID,
		"video_id", job.VideoID,
		"prior_status", job.Status,
	)
	return s.getJob(ctx, id)
}

func (s *JobService) getJob(ctx context.Context, id string) (*model.Job, error) {
	job, err := s.jobs.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, data.ErrJobNotFound) {
			return nil, apperrors.NotFoundf("job %s not found", id)
		}
		return nil, apperrors.Transient(err, fmt.Sprintf("get job %s", id))
	}
	return job, nil
}
