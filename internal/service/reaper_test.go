package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediaforge/transcoder/internal/domain/model"
	"github.com/mediaforge/transcoder/internal/testutil"
)

func TestReaperReclaimsOrphanedJob(t *testing.T) {
	job := testutil.NewJob().
		WithStatus(model.JobStatusProcessing).
		WithUpdatedAt(testutil.TestTime()).
		Build()
	jobs := newMemJobRepo(job)
	locks := newMemLockService()

	svc := NewReaperService(ReaperServiceOptions{
		Jobs:     jobs,
		Locks:    locks,
		StaleAge: 15 * time.Minute,
	})

	reclaimed, err := svc.Tick(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, reclaimed)
	assert.Equal(t, model.JobStatusReceived, jobs.snapshot(job.ID).Status)
}

func TestReaperSkipsJobWithLiveLock(t *testing.T) {
	job := testutil.NewJob().
		WithKey("acme", "vid-1").
		WithStatus(model.JobStatusProcessing).
		WithUpdatedAt(testutil.TestTime()).
		Build()
	jobs := newMemJobRepo(job)
	locks := newMemLockService()

	acquired, err := locks.Acquire(context.Background(), "acme:vid-1", time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)

	svc := NewReaperService(ReaperServiceOptions{
		Jobs:     jobs,
		Locks:    locks,
		StaleAge: 15 * time.Minute,
	})

	reclaimed, err := svc.Tick(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, reclaimed)
	assert.Equal(t, model.JobStatusProcessing, jobs.snapshot(job.ID).Status, "a slow worker keeps its job")
}

func TestReaperIgnoresFreshProcessingJob(t *testing.T) {
	now := time.Now()
	job := testutil.NewJob().
		WithStatus(model.JobStatusProcessing).
		WithUpdatedAt(now.Add(-time.Minute)).
		Build()
	jobs := newMemJobRepo(job)

	svc := NewReaperService(ReaperServiceOptions{
		Jobs:     jobs,
		Locks:    newMemLockService(),
		StaleAge: 15 * time.Minute,
	})

	reclaimed, err := svc.Tick(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 0, reclaimed)
	assert.Equal(t, model.JobStatusProcessing, jobs.snapshot(job.ID).Status)
}

func TestReaperSurveysStuckNotifications(t *testing.T) {
	stuck := testutil.NewJob().
		WithKey("acme", "vid-1").
		WithStatus(model.JobStatusCompleted).
		WithNotificationAttempts(12).
		WithUpdatedAt(testutil.TestTime()).
		Build()
	healthy := testutil.NewJob().
		WithKey("acme", "vid-2").
		WithStatus(model.JobStatusCompleted).
		WithNotificationAttempts(1).
		WithUpdatedAt(testutil.TestTime()).
		Build()
	jobs := newMemJobRepo(stuck, healthy)

	svc := NewReaperService(ReaperServiceOptions{
		Jobs:                jobs,
		Locks:               newMemLockService(),
		NotificationCeiling: 10,
	})

	reclaimed, err := svc.Tick(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, reclaimed)

	// Alert only: both jobs stay completed for the announcer to retry.
	assert.Equal(t, model.JobStatusCompleted, jobs.snapshot(stuck.ID).Status)
	assert.Equal(t, model.JobStatusCompleted, jobs.snapshot(healthy.ID).Status)
}
