package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mediaforge/transcoder/internal/core"
	"github.com/mediaforge/transcoder/internal/data"
	"github.com/mediaforge/transcoder/internal/domain/model"
	"github.com/mediaforge/transcoder/internal/observability/metrics"
	"github.com/mediaforge/transcoder/internal/observability/statsd"
)

// errAborted marks a pipeline run cancelled through the abort registry.
var errAborted = errors.New("job aborted")

// Orchestrator drives one Processing job through download, per-rendition
// encoding with bounded parallelism, manifest build, and the terminal status
// transition. The intake poller acquires the job's lock before dispatch; the
// orchestrator renews it while working and releases it on every terminal
// outcome except a lost lock.
type Orchestrator struct {
	jobs       core.JobRepository
	renditions core.RenditionRepository
	locks      core.LockService
	store      core.ObjectStore
	encoder    core.Encoder
	aborts     *AbortRegistry

	profiles      []model.RenditionProfile
	maxRenditions int
	lockTTL       time.Duration
	lockRenewal   time.Duration
	retry         RetryConfig
	workDir       string

	timeProvider data.TimeProvider
	logger       *slog.Logger
	metrics      statsd.Sink
}

// OrchestratorOptions holds the dependencies for creating an Orchestrator.
type OrchestratorOptions struct {
	Jobs       core.JobRepository
	Renditions core.RenditionRepository
	Locks      core.LockService
	Store      core.ObjectStore
	Encoder    core.Encoder
	Aborts     *AbortRegistry

	Profiles []model.RenditionProfile
	// MaxConcurrentRenditions bounds encode parallelism within one job.
	MaxConcurrentRenditions int
	LockTTL                 time.Duration
	LockRenewalInterval     time.Duration
	Retry                   RetryConfig
	// WorkDir is the scratch directory for downloads and encode outputs.
	WorkDir string

	TimeProvider data.TimeProvider
	Logger       *slog.Logger
	Metrics      statsd.Sink
}

// NewOrchestrator creates a new Orchestrator.
func NewOrchestrator(opts OrchestratorOptions) *Orchestrator {
	if opts.TimeProvider == nil {
		opts.TimeProvider = &data.RealTimeProvider{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Aborts == nil {
		opts.Aborts = NewAbortRegistry()
	}
	maxRenditions := opts.MaxConcurrentRenditions
	if maxRenditions <= 0 {
		maxRenditions = 2
	}
	lockTTL := opts.LockTTL
	if lockTTL <= 0 {
		lockTTL = 10 * time.Minute
	}
	renewal := opts.LockRenewalInterval
	if renewal <= 0 || renewal >= lockTTL {
		renewal = lockTTL / 3
	}
	workDir := opts.WorkDir
	if workDir == "" {
		workDir = os.TempDir()
	}

	return &Orchestrator{
		jobs:          opts.Jobs,
		renditions:    opts.Renditions,
		locks:         opts.Locks,
		store:         opts.Store,
		encoder:       opts.Encoder,
		aborts:        opts.Aborts,
		profiles:      opts.Profiles,
		maxRenditions: maxRenditions,
		lockTTL:       lockTTL,
		lockRenewal:   renewal,
		retry:         opts.Retry,
		workDir:       workDir,
		timeProvider:  opts.TimeProvider,
		logger:        opts.Logger.With("component", "orchestrator"),
		metrics:       opts.Metrics,
	}
}

// Aborts exposes the registry so the admin surface can signal running jobs.
func (o *Orchestrator) Aborts() *AbortRegistry {
	return o.aborts
}

// Process runs the full pipeline for one Processing job. It never panics the
// caller's loop: every failure is converted into job state. The returned
// error is informational for the dispatching runner's log.
func (o *Orchestrator) Process(ctx context.Context, job *model.Job) error {
	logger := o.logger.With("job_id", job.ID, "tenant_id", job.TenantID, "video_id", job.VideoID)
	lockKey := model.JobKey{TenantID: job.TenantID, VideoID: job.VideoID}.String()
	started := o.timeProvider.Now()

	// Job-scoped context so abort and lock loss cancel in-flight encodes.
	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var aborted, lockLost atomic.Bool
	o.aborts.Register(job.ID, func() {
		aborted.Store(true)
		cancel()
	})
	defer o.aborts.Unregister(job.ID)

	renewDone := o.startLockRenewal(jobCtx, lockKey, &lockLost, cancel, logger)
	defer func() {
		cancel()
		<-renewDone
	}()

	scratch := filepath.Join(o.workDir, job.ID)
	defer os.RemoveAll(scratch)

	runErr := o.run(jobCtx, job, scratch, logger)

	switch {
	case runErr == nil:
		o.finishLocked(ctx, lockKey, logger)
		metrics.EmitJobLifecycle(o.metrics, metrics.JobMetric{
			TenantID:   job.TenantID,
			Transition: "complete",
			Result:     metrics.ResultSuccess,
			Duration:   o.timeProvider.Now().Sub(started),
		})
		logger.InfoContext(ctx, "job completed", "duration", o.timeProvider.Now().Sub(started).String())
		return nil

	case lockLost.Load():
		// The lock expired under us. Another worker may already own the job,
		// so no state update is safe. The reaper returns it to received if
		// nobody picked it up.
		logger.WarnContext(ctx, "lock lost mid-processing, abandoning attempt")
		metrics.EmitJobLifecycle(o.metrics, metrics.JobMetric{
			TenantID:   job.TenantID,
			Transition: "lock_lost",
			Result:     metrics.ResultError,
			Err:        runErr,
		})
		return fmt.Errorf("job %s: lock lost: %w", job.ID, runErr)

	case aborted.Load():
		o.failJob(ctx, job, "aborted", logger)
		o.finishLocked(ctx, lockKey, logger)
		metrics.EmitJobLifecycle(o.metrics, metrics.JobMetric{
			TenantID:   job.TenantID,
			Transition: "abort",
			Result:     metrics.ResultSuccess,
		})
		return fmt.Errorf("job %s: %w", job.ID, errAborted)

	case ctx.Err() != nil:
		// Worker shutdown cancelled the attempt. No terminal write: the job
		// stays processing and the reaper returns it to received once this
		// released lock is gone and the row goes stale.
		o.finishLocked(ctx, lockKey, logger)
		logger.WarnContext(ctx, "shutdown mid-processing, abandoning attempt")
		metrics.EmitJobLifecycle(o.metrics, metrics.JobMetric{
			TenantID:   job.TenantID,
			Transition: "shutdown",
			Result:     metrics.ResultNoop,
		})
		return fmt.Errorf("job %s: shutdown: %w", job.ID, runErr)

	default:
		o.failJob(ctx, job, runErr.Error(), logger)
		o.finishLocked(ctx, lockKey, logger)
		metrics.EmitJobLifecycle(o.metrics, metrics.JobMetric{
			TenantID:   job.TenantID,
			Transition: "fail",
			Result:     metrics.ResultError,
			Duration:   o.timeProvider.Now().Sub(started),
			Err:        runErr,
		})
		return fmt.Errorf("job %s: %w", job.ID, runErr)
	}
}

// run executes the pipeline stages and returns the first failure.
func (o *Orchestrator) run(ctx context.Context, job *model.Job, scratch string, logger *slog.Logger) error {
	sourcePath := filepath.Join(scratch, "source")
	downloadErr := withRetry(ctx, o.retry, func(ctx context.Context) error {
		return o.store.Download(ctx, job.InputLocation, sourcePath)
	})
	if downloadErr != nil {
		return fmt.Errorf("download source %s: %w", job.InputLocation, downloadErr)
	}

	rows, err := o.renditions.CreateForJob(ctx, job.ID, o.profiles)
	if err != nil {
		return fmt.Errorf("create renditions: %w", err)
	}

	if encodeErr := o.encodeAll(ctx, job, rows, sourcePath, scratch, logger); encodeErr != nil {
		return encodeErr
	}

	return o.publishManifest(ctx, job)
}

// encodeAll runs every rendition with bounded parallelism. The first failure
// cancels the remaining renditions; already-completed rows keep their state.
func (o *Orchestrator) encodeAll(
	ctx context.Context,
	job *model.Job,
	rows []*model.Rendition,
	sourcePath string,
	scratch string,
	logger *slog.Logger,
) error {
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(o.maxRenditions)

	for _, row := range rows {
		if row.Status == model.RenditionStatusCompleted {
			// Kept from an abandoned earlier attempt; its output is reused.
			continue
		}
		group.Go(func() error {
			if err := o.encodeOne(groupCtx, job, row, sourcePath, scratch); err != nil {
				logger.ErrorContext(groupCtx, "rendition failed",
					"profile", row.ProfileName,
					"error", err,
				)
				return fmt.Errorf("rendition %s: %w", row.ProfileName, err)
			}
			return nil
		})
	}
	return group.Wait()
}

// encodeOne encodes, uploads, and records one rendition. The row is marked
// failed on any error, including cancellation.
func (o *Orchestrator) encodeOne(
	ctx context.Context,
	job *model.Job,
	row *model.Rendition,
	sourcePath string,
	scratch string,
) error {
	started := o.timeProvider.Now()
	profile := model.RenditionProfile{Name: row.ProfileName, Resolution: row.Resolution, Bitrate: row.Bitrate}

	err := o.runEncode(ctx, row, profile, sourcePath, scratch, job.ID)
	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
		// Best effort; the job-level failure is what gates the outcome. Use a
		// fresh context so a cancelled encode still records its row state.
		markCtx, markCancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer markCancel()
		if _, markErr := o.renditions.MarkFailed(markCtx, row.ID); markErr != nil {
			o.logger.ErrorContext(markCtx, "mark rendition failed errored",
				"rendition_id", row.ID,
				"error", markErr,
			)
		}
	}
	metrics.EmitEncode(o.metrics, metrics.EncodeMetric{
		Profile:  row.ProfileName,
		Result:   result,
		Duration: o.timeProvider.Now().Sub(started),
		Err:      err,
	})
	return err
}

func (o *Orchestrator) runEncode(
	ctx context.Context,
	row *model.Rendition,
	profile model.RenditionProfile,
	sourcePath string,
	scratch string,
	jobID string,
) error {
	claimed, err := o.renditions.MarkProcessing(ctx, row.ID)
	if err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}
	if !claimed {
		return fmt.Errorf("rendition not pending")
	}

	outputPath := filepath.Join(scratch, profile.Name+".mp4")
	if err := o.encoder.Encode(ctx, core.EncodeRequest{
		InputPath:  sourcePath,
		OutputPath: outputPath,
		Profile:    profile,
	}); err != nil {
		return fmt.Errorf("encode: %w", err)
	}

	key := RenditionObjectKey(jobID, profile.Name)
	var location string
	uploadErr := withRetry(ctx, o.retry, func(ctx context.Context) error {
		var opErr error
		location, opErr = o.store.Upload(ctx, key, outputPath, "video/mp4")
		return opErr
	})
	if uploadErr != nil {
		return fmt.Errorf("upload output: %w", uploadErr)
	}

	recorded, err := o.renditions.MarkCompleted(ctx, row.ID, location)
	if err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	if !recorded {
		return fmt.Errorf("rendition no longer processing")
	}
	return nil
}

// publishManifest builds and uploads the manifest, then moves the job to
// completed through the optimistic check.
func (o *Orchestrator) publishManifest(ctx context.Context, job *model.Job) error {
	rows, err := o.renditions.ListByJob(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("list renditions: %w", err)
	}

	doc, err := BuildManifest(job, rows, o.timeProvider.Now())
	if err != nil {
		return fmt.Errorf("build manifest: %w", err)
	}

	key := ManifestObjectKey(job.ID)
	var location string
	uploadErr := withRetry(ctx, o.retry, func(ctx context.Context) error {
		var opErr error
		location, opErr = o.store.Put(ctx, key, doc, "application/json")
		return opErr
	})
	if uploadErr != nil {
		return fmt.Errorf("upload manifest: %w", uploadErr)
	}

	completed, err := o.jobs.MarkCompleted(ctx, job.ID, location)
	if err != nil {
		return fmt.Errorf("mark job completed: %w", err)
	}
	if !completed {
		// Abort or external failure won the race. The manifest object stays
		// but will never be announced.
		return fmt.Errorf("job no longer processing at completion")
	}
	return nil
}

// startLockRenewal extends the lock at the renewal interval until the job
// context ends. A failed extension flags the lock lost and cancels the run.
func (o *Orchestrator) startLockRenewal(
	ctx context.Context,
	lockKey string,
	lockLost *atomic.Bool,
	cancel context.CancelFunc,
	logger *slog.Logger,
) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(o.lockRenewal)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				extended, err := o.locks.Extend(ctx, lockKey, o.lockTTL)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					logger.ErrorContext(ctx, "lock extension errored", "error", err)
					continue
				}
				if !extended {
					lockLost.Store(true)
					cancel()
					return
				}
			}
		}
	}()
	return done
}

// failJob records a terminal failure through the optimistic check. A false
// result means abort or an external failure report got there first.
func (o *Orchestrator) failJob(ctx context.Context, job *model.Job, msg string, logger *slog.Logger) {
	markCtx, markCancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer markCancel()

	updated, err := o.jobs.MarkFailed(markCtx, job.ID, msg, model.JobStatusProcessing)
	if err != nil {
		logger.ErrorContext(markCtx, "mark job failed errored", "error", err)
		return
	}
	if !updated {
		logger.WarnContext(markCtx, "job changed state before failure could be recorded")
	}
}

func (o *Orchestrator) finishLocked(ctx context.Context, lockKey string, logger *slog.Logger) {
	releaseCtx, releaseCancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer releaseCancel()
	if _, err := o.locks.Release(releaseCtx, lockKey); err != nil {
		logger.ErrorContext(releaseCtx, "lock release errored", "lock_key", lockKey, "error", err)
	}
}
