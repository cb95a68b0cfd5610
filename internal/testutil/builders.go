package testutil

import (
	"time"

	"github.com/google/uuid"

	"github.com/mediaforge/transcoder/internal/domain/model"
)

// JobBuilder provides a fluent interface for building Job rows for testing.
type JobBuilder struct {
	job *model.Job
}

// NewJob creates a new JobBuilder with sensible defaults.
func NewJob() *JobBuilder {
	now := TestTime()
	return &JobBuilder{
		job: &model.Job{
			ID:            uuid.NewString(),
			TenantID:      "tenant-1",
			VideoID:       "video-1",
			Status:        model.JobStatusReceived,
			InputLocation: "s3://transcoder-media/inputs/video-1.mp4",
			CreatedAt:     now,
			UpdatedAt:     now,
		},
	}
}

// WithID sets the job id.
func (b *JobBuilder) WithID(id string) *JobBuilder {
	b.job.ID = id
	return b
}

// WithKey sets tenant and video id.
func (b *JobBuilder) WithKey(tenantID, videoID string) *JobBuilder {
	b.job.TenantID = tenantID
	b.job.VideoID = videoID
	return b
}

// WithStatus sets the job status.
func (b *JobBuilder) WithStatus(status model.JobStatus) *JobBuilder {
	b.job.Status = status
	return b
}

// WithInputLocation sets the source object location.
func (b *JobBuilder) WithInputLocation(location string) *JobBuilder {
	b.job.InputLocation = location
	return b
}

// WithManifestLocation sets the output manifest location.
func (b *JobBuilder) WithManifestLocation(location string) *JobBuilder {
	b.job.OutputManifestLocation = &location
	return b
}

// WithNotificationAttempts sets the delivery attempt counter.
func (b *JobBuilder) WithNotificationAttempts(n int) *JobBuilder {
	b.job.NotificationAttempts = n
	return b
}

// WithUpdatedAt sets the updated timestamp.
func (b *JobBuilder) WithUpdatedAt(t time.Time) *JobBuilder {
	b.job.UpdatedAt = t
	return b
}

// Build returns the constructed job.
func (b *JobBuilder) Build() *model.Job {
	cp := *b.job
	return &cp
}

// RenditionBuilder provides a fluent interface for building Rendition rows for testing.
type RenditionBuilder struct {
	rendition *model.Rendition
}

// NewRendition creates a new RenditionBuilder with sensible defaults.
func NewRendition(jobID string) *RenditionBuilder {
	return &RenditionBuilder{
		rendition: &model.Rendition{
			ID:          uuid.NewString(),
			JobID:       jobID,
			ProfileName: "480p",
			Resolution:  "854x480",
			Bitrate:     800,
			Status:      model.RenditionStatusPending,
			CreatedAt:   TestTime(),
		},
	}
}

// WithProfile sets the profile name, resolution, and bitrate.
func (b *RenditionBuilder) WithProfile(name, resolution string, bitrate int) *RenditionBuilder {
	b.rendition.ProfileName = name
	b.rendition.Resolution = resolution
	b.rendition.Bitrate = bitrate
	return b
}

// WithStatus sets the rendition status.
func (b *RenditionBuilder) WithStatus(status model.RenditionStatus) *RenditionBuilder {
	b.rendition.Status = status
	return b
}

// WithOutputPath sets the uploaded output location.
func (b *RenditionBuilder) WithOutputPath(path string) *RenditionBuilder {
	b.rendition.OutputPath = &path
	return b
}

// Build returns the constructed rendition.
func (b *RenditionBuilder) Build() *model.Rendition {
	cp := *b.rendition
	return &cp
}

// UploadEventBuilder builds inbound upload-received events for testing.
type UploadEventBuilder struct {
	event model.UploadReceivedEvent
}

// NewUploadEvent creates a new UploadEventBuilder with sensible defaults.
func NewUploadEvent() *UploadEventBuilder {
	return &UploadEventBuilder{
		event: model.UploadReceivedEvent{
			VideoID:       "video-1",
			TenantID:      "tenant-1",
			InputLocation: "s3://transcoder-media/inputs/video-1.mp4",
		},
	}
}

// WithKey sets tenant and video id.
func (b *UploadEventBuilder) WithKey(tenantID, videoID string) *UploadEventBuilder {
	b.event.TenantID = tenantID
	b.event.VideoID = videoID
	return b
}

// WithInputLocation sets the source object location.
func (b *UploadEventBuilder) WithInputLocation(location string) *UploadEventBuilder {
	b.event.InputLocation = location
	return b
}

// Build returns the constructed event.
func (b *UploadEventBuilder) Build() model.UploadReceivedEvent {
	return b.event
}
