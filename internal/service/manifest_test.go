package service

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediaforge/transcoder/internal/domain/model"
	"github.com/mediaforge/transcoder/internal/testutil"
)

func completedRendition(jobID, profile, resolution string, bitrate int, outputPath string) *model.Rendition {
	return testutil.NewRendition(jobID).
		WithProfile(profile, resolution, bitrate).
		WithStatus(model.RenditionStatusCompleted).
		WithOutputPath(outputPath).
		Build()
}

func TestBuildManifestOrdersVariantsByProfile(t *testing.T) {
	job := testutil.NewJob().Build()
	now := testutil.TestTime()
	renditions := []*model.Rendition{
		completedRendition(job.ID, "720p", "1280x720", 2500, "s3://b/outputs/j/720p.mp4"),
		completedRendition(job.ID, "1080p", "1920x1080", 5000, "s3://b/outputs/j/1080p.mp4"),
		completedRendition(job.ID, "480p", "854x480", 800, "s3://b/outputs/j/480p.mp4"),
	}

	doc, err := BuildManifest(job, renditions, now)
	require.NoError(t, err)

	var parsed struct {
		VideoID     string    `json:"video_id"`
		JobID       string    `json:"job_id"`
		TenantID    string    `json:"tenant_id"`
		GeneratedAt time.Time `json:"generated_at"`
		Variants    []struct {
			Profile    string `json:"profile"`
			Resolution string `json:"resolution"`
			Bitrate    int    `json:"bitrate"`
			Path       string `json:"path"`
		} `json:"variants"`
	}
	require.NoError(t, json.Unmarshal(doc, &parsed))

	assert.Equal(t, job.VideoID, parsed.VideoID)
	assert.Equal(t, job.ID, parsed.JobID)
	assert.Equal(t, job.TenantID, parsed.TenantID)
	assert.True(t, parsed.GeneratedAt.Equal(now))

	require.Len(t, parsed.Variants, 3)
	assert.Equal(t, "1080p", parsed.Variants[0].Profile)
	assert.Equal(t, "480p", parsed.Variants[1].Profile)
	assert.Equal(t, "720p", parsed.Variants[2].Profile)
	assert.Equal(t, "s3://b/outputs/j/480p.mp4", parsed.Variants[1].Path)
	assert.Equal(t, 800, parsed.Variants[1].Bitrate)
}

func TestBuildManifestRejectsIncompleteRendition(t *testing.T) {
	job := testutil.NewJob().Build()
	renditions := []*model.Rendition{
		completedRendition(job.ID, "480p", "854x480", 800, "s3://b/480p.mp4"),
		testutil.NewRendition(job.ID).
			WithProfile("720p", "1280x720", 2500).
			WithStatus(model.RenditionStatusFailed).
			Build(),
	}

	_, err := BuildManifest(job, renditions, testutil.TestTime())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rendition 720p is failed, not completed")
}

func TestBuildManifestRejectsMissingOutputPath(t *testing.T) {
	job := testutil.NewJob().Build()
	renditions := []*model.Rendition{
		testutil.NewRendition(job.ID).
			WithStatus(model.RenditionStatusCompleted).
			Build(),
	}

	_, err := BuildManifest(job, renditions, testutil.TestTime())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "has no output path")
}

func TestBuildManifestRejectsEmptyRenditionSet(t *testing.T) {
	job := testutil.NewJob().Build()

	_, err := BuildManifest(job, nil, testutil.TestTime())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no renditions to index")
}

func TestObjectKeys(t *testing.T) {
	assert.Equal(t, "outputs/job-1/720p.mp4", RenditionObjectKey("job-1", "720p"))
	assert.Equal(t, "outputs/job-1/manifest.json", ManifestObjectKey("job-1"))
}
