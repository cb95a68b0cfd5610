// Package core defines the ports between the transcode engine's services and
// the adapters that back them. Services depend on these interfaces only;
// concrete implementations live under internal/data and internal/adapters.
package core

import (
	"context"
	"time"

	"github.com/mediaforge/transcoder/internal/domain/model"
)

// JobRepository provides durable storage for transcode jobs.
//
// Every transition method is a conditional update: it succeeds only when the
// row is still in the expected prior status, and reports whether the row was
// changed. Concurrent pollers rely on this to decide races.
type JobRepository interface {
	// CreateIdempotent inserts a new received job unless a non-terminal job
	// already exists for the request's (tenant, video) key, in which case the
	// existing job is returned with created=false.
	CreateIdempotent(ctx context.Context, req *model.CreateJobRequest) (job *model.Job, created bool, err error)

	GetByID(ctx context.Context, id string) (*model.Job, error)
	// GetByKey returns the most recently created job for the key.
	GetByKey(ctx context.Context, key model.JobKey) (*model.Job, error)

	// ListReceived returns up to limit received jobs, oldest first.
	ListReceived(ctx context.Context, limit int) ([]*model.Job, error)
	// ListCompletedBefore returns up to limit completed jobs whose updated_at
	// is older than cutoff, oldest first.
	ListCompletedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*model.Job, error)
	// ListProcessingOlderThan returns up to limit processing jobs whose
	// updated_at is older than cutoff, oldest first.
	ListProcessingOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]*model.Job, error)

	// MarkProcessing transitions received -> processing.
	MarkProcessing(ctx context.Context, id string) (bool, error)
	// MarkCompleted transitions processing -> completed and records the manifest location.
	MarkCompleted(ctx context.Context, id, manifestLocation string) (bool, error)
	// MarkFailed transitions from the expected prior status to failed and records the error.
	MarkFailed(ctx context.Context, id, errMsg string, from model.JobStatus) (bool, error)
	// MarkNotified transitions completed -> notified.
	MarkNotified(ctx context.Context, id string) (bool, error)
	// MarkReceived transitions processing -> received (crash reclaim).
	MarkReceived(ctx context.Context, id string) (bool, error)

	// IncrementNotificationAttempts bumps the delivery counter for a still
	// completed job and returns the new count.
	IncrementNotificationAttempts(ctx context.Context, id string) (int, error)

	List(ctx context.Context, opts *model.JobListOptions) ([]*model.Job, error)
	Stats(ctx context.Context) (*model.JobStats, error)
}

// RenditionRepository provides durable storage for per-job rendition rows.
type RenditionRepository interface {
	// CreateForJob inserts pending rendition rows for each profile. The set of
	// renditions for a job is fixed at processing start.
	CreateForJob(ctx context.Context, jobID string, profiles []model.RenditionProfile) ([]*model.Rendition, error)
	ListByJob(ctx context.Context, jobID string) ([]*model.Rendition, error)
	MarkProcessing(ctx context.Context, id string) (bool, error)
	MarkCompleted(ctx context.Context, id, outputPath string) (bool, error)
	MarkFailed(ctx context.Context, id string) (bool, error)
}

// LockService is the cross-process mutual exclusion primitive keyed by the
// job key. Locks expire on their own; holders must extend them while working.
type LockService interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) (bool, error)
	// Extend refreshes the TTL of a lock this process still holds. It returns
	// false when the lock no longer exists or is owned by someone else.
	Extend(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Exists(ctx context.Context, key string) (bool, error)
}

// ObjectStore moves media bytes between the engine and durable object storage.
type ObjectStore interface {
	// Download fetches the object at key into destPath on local disk.
	Download(ctx context.Context, key, destPath string) error
	// Upload stores the file at srcPath under key and returns the object location.
	Upload(ctx context.Context, key, srcPath, contentType string) (string, error)
	// Put stores an in-memory payload under key and returns the object location.
	Put(ctx context.Context, key string, body []byte, contentType string) (string, error)
}

// EncodeRequest describes one rendition encode invocation.
type EncodeRequest struct {
	InputPath  string
	OutputPath string
	Profile    model.RenditionProfile
}

// Encoder invokes the external media encoding tool for one rendition profile.
type Encoder interface {
	Encode(ctx context.Context, req EncodeRequest) error
}

// EventPublisher publishes outbound engine events to the bus.
type EventPublisher interface {
	PublishTranscoded(ctx context.Context, event *model.TranscodedEvent) error
}

// AbortSignaler cancels in-flight processing for a job within this process.
type AbortSignaler interface {
	// Signal cancels the job's in-flight work if any; returns true when a
	// running pipeline observed the signal.
	Signal(jobID string) bool
}
