package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mediaforge/transcoder/internal/core"
	"github.com/mediaforge/transcoder/internal/domain/model"
	"github.com/mediaforge/transcoder/internal/observability/metrics"
	"github.com/mediaforge/transcoder/internal/observability/statsd"
)

// JobProcessor runs the pipeline for one claimed job.
type JobProcessor interface {
	Process(ctx context.Context, job *model.Job) error
}

// IntakeService claims received jobs and dispatches them to the processor.
// Safe under concurrent replicas: the lock service plus the conditional
// received-to-processing update guarantee one winner per job.
type IntakeService struct {
	jobs      core.JobRepository
	locks     core.LockService
	processor JobProcessor

	batchSize int
	lockTTL   time.Duration

	inflight *errgroup.Group

	logger  *slog.Logger
	metrics statsd.Sink
}

// IntakeServiceOptions holds the dependencies for creating an IntakeService.
type IntakeServiceOptions struct {
	Jobs      core.JobRepository
	Locks     core.LockService
	Processor JobProcessor

	BatchSize int
	LockTTL   time.Duration
	// MaxConcurrentJobs bounds in-flight pipelines in this process. A full
	// worker skips claiming until a slot frees.
	MaxConcurrentJobs int

	Logger  *slog.Logger
	Metrics statsd.Sink
}

// NewIntakeService creates a new IntakeService.
func NewIntakeService(opts IntakeServiceOptions) *IntakeService {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = 10
	}
	lockTTL := opts.LockTTL
	if lockTTL <= 0 {
		lockTTL = 10 * time.Minute
	}
	maxJobs := opts.MaxConcurrentJobs
	if maxJobs <= 0 {
		maxJobs = 4
	}

	inflight := &errgroup.Group{}
	inflight.SetLimit(maxJobs)

	return &IntakeService{
		jobs:      opts.Jobs,
		locks:     opts.Locks,
		processor: opts.Processor,
		batchSize: batchSize,
		lockTTL:   lockTTL,
		inflight:  inflight,
		logger:    logger.With("component", "intake_service"),
		metrics:   opts.Metrics,
	}
}

// Wait blocks until every dispatched pipeline has finished.
func (s *IntakeService) Wait() {
	_ = s.inflight.Wait()
}

// Tick scans for received jobs and claims as many as capacity allows.
// Returns the number of jobs dispatched.
//
// Per job: skip when the lock is already held, acquire the lock, then flip
// received to processing through the optimistic update. Losing the optimistic
// race releases the just-acquired lock. The scan never blocks on pipeline
// completion.
func (s *IntakeService) Tick(ctx context.Context) (int, error) {
	jobs, err := s.jobs.ListReceived(ctx, s.batchSize)
	if err != nil {
		return 0, fmt.Errorf("list received jobs: %w", err)
	}

	dispatched := 0
	for _, job := range jobs {
		if ctx.Err() != nil {
			return dispatched, ctx.Err()
		}
		claimed, claimErr := s.claim(ctx, job)
		if claimErr != nil {
			s.logger.ErrorContext(ctx, "claim failed",
				"job_id", job.ID,
				"error", claimErr,
			)
			continue
		}
		if claimed {
			dispatched++
		}
	}
	return dispatched, nil
}

// claim attempts to take ownership of one job and dispatch it. Returns true
// only when this worker won both the lock and the optimistic update and the
// pipeline was handed off.
func (s *IntakeService) claim(ctx context.Context, job *model.Job) (bool, error) {
	lockKey := model.JobKey{TenantID: job.TenantID, VideoID: job.VideoID}.String()

	held, err := s.locks.Exists(ctx, lockKey)
	if err != nil {
		return false, fmt.Errorf("check lock: %w", err)
	}
	if held {
		return false, nil // another worker owns it
	}

	acquired, err := s.locks.Acquire(ctx, lockKey, s.lockTTL)
	if err != nil {
		return false, fmt.Errorf("acquire lock: %w", err)
	}
	if !acquired {
		return false, nil // lost the acquire race, retry next cycle
	}

	won, err := s.jobs.MarkProcessing(ctx, job.ID)
	if err != nil {
		s.releaseLock(ctx, lockKey)
		return false, fmt.Errorf("mark processing: %w", err)
	}
	if !won {
		// Another poller flipped the row first, or the job was aborted.
		s.releaseLock(ctx, lockKey)
		return false, nil
	}

	// The pipeline inherits the tick's context; the runner hands Tick its
	// loop context, so shutdown cancels in-flight pipelines.
	started := s.inflight.TryGo(func() error {
		if procErr := s.processor.Process(ctx, job); procErr != nil {
			s.logger.ErrorContext(ctx, "pipeline finished with error",
				"job_id", job.ID,
				"error", procErr,
			)
		}
		return nil
	})
	if !started {
		// Worker saturated. Undo the claim so another worker can take it.
		if _, revertErr := s.jobs.MarkReceived(ctx, job.ID); revertErr != nil {
			s.logger.ErrorContext(ctx, "revert claim failed", "job_id", job.ID, "error", revertErr)
		}
		s.releaseLock(ctx, lockKey)
		return false, nil
	}

	metrics.EmitJobLifecycle(s.metrics, metrics.JobMetric{
		TenantID:   job.TenantID,
		Transition: "claim",
		Result:     metrics.ResultSuccess,
	})
	s.logger.InfoContext(ctx, "job claimed",
		"job_id", job.ID,
		"tenant_id", job.TenantID,
		"video_id", job.VideoID,
	)
	return true, nil
}

func (s *IntakeService) releaseLock(ctx context.Context, lockKey string) {
	if _, err := s.locks.Release(ctx, lockKey); err != nil {
		s.logger.ErrorContext(ctx, "lock release errored", "lock_key", lockKey, "error", err)
	}
}
