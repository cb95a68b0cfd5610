// Package model defines the core data types used throughout the transcode engine.
package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// JobStatus represents the current status of a transcode job.
type JobStatus string

const (
	// JobStatusReceived indicates an upload was registered and is waiting for a worker.
	JobStatusReceived JobStatus = "received"
	// JobStatusProcessing indicates a worker owns the job and is transcoding it.
	JobStatusProcessing JobStatus = "processing"
	// JobStatusCompleted indicates all renditions finished and the manifest was written.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusNotified indicates the completion event was published downstream.
	JobStatusNotified JobStatus = "notified"
	// JobStatusFailed indicates the job terminally failed.
	JobStatusFailed JobStatus = "failed"
)

// Valid returns true if the JobStatus is one of the known states.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusReceived, JobStatusProcessing, JobStatusCompleted, JobStatusNotified, JobStatusFailed:
		return true
	}
	return false
}

// Terminal reports whether a job in this status will never be picked up again.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusNotified || s == JobStatusFailed
}

// UnmarshalText implements encoding.TextUnmarshaler so statuses parse from env/query strings.
func (s *JobStatus) UnmarshalText(text []byte) error {
	v := JobStatus(strings.ToLower(strings.TrimSpace(string(text))))
	if !v.Valid() {
		return fmt.Errorf("invalid JobStatus: %q", string(text))
	}
	*s = v
	return nil
}

// ErrNoJobsAvailable is returned when a poller cycle finds no eligible jobs.
var ErrNoJobsAvailable = errors.New("no jobs available")

// Job represents one transcode attempt for an uploaded video.
//
// At most one non-terminal job may exist per (TenantID, VideoID); creation is
// idempotent against that pair.
type Job struct {
	ID                     string    `json:"id"                                 db:"id"`
	TenantID               string    `json:"tenant_id"                          db:"tenant_id"`
	VideoID                string    `json:"video_id"                           db:"video_id"`
	Status                 JobStatus `json:"status"                             db:"status"`
	InputLocation          string    `json:"input_location"                     db:"input_location"`
	OutputManifestLocation *string   `json:"output_manifest_location,omitempty" db:"output_manifest_location"`
	ErrorMessage           *string   `json:"error_message,omitempty"            db:"error_message"`
	RetryCount             int       `json:"retry_count"                        db:"retry_count"`
	NotificationAttempts   int       `json:"notification_attempts"              db:"notification_attempts"`
	CreatedAt              time.Time `json:"created_at"                         db:"created_at"`
	UpdatedAt              time.Time `json:"updated_at"                         db:"updated_at"`
}

// JobKey is the idempotency key for job creation and the lock key for processing.
type JobKey struct {
	TenantID string
	VideoID  string
}

// String renders the key in the form used for lock names and log fields.
func (k JobKey) String() string {
	return k.TenantID + ":" + k.VideoID
}

// Validate validates the key fields.
func (k JobKey) Validate() error {
	if strings.TrimSpace(k.TenantID) == "" {
		return errors.New("tenant id is required")
	}
	if strings.TrimSpace(k.VideoID) == "" {
		return errors.New("video id is required")
	}
	return nil
}

// CreateJobRequest represents a request to register a new transcode job.
type CreateJobRequest struct {
	TenantID      string `json:"tenant_id"`
	VideoID       string `json:"video_id"`
	InputLocation string `json:"input_location"`
}

// Validate validates the CreateJobRequest fields.
func (r *CreateJobRequest) Validate() error {
	if err := (JobKey{TenantID: r.TenantID, VideoID: r.VideoID}).Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(r.InputLocation) == "" {
		return errors.New("input location is required")
	}
	return nil
}

// Key returns the idempotency key for the request.
func (r *CreateJobRequest) Key() JobKey {
	return JobKey{TenantID: r.TenantID, VideoID: r.VideoID}
}

// JobStats represents counts of jobs per status.
type JobStats struct {
	Received   int `json:"received"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Notified   int `json:"notified"`
	Failed     int `json:"failed"`
}

// JobListOptions carries the optional filters for listing jobs.
type JobListOptions struct {
	Status  *JobStatus
	VideoID *string
	Limit   int
	Offset  int
}

// JobWithRenditions bundles a job with its rendition rows for read endpoints.
type JobWithRenditions struct {
	Job        *Job         `json:"job"`
	Renditions []*Rendition `json:"renditions"`
}
