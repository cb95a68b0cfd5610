package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/mediaforge/transcoder/internal/domain/model"
	apperrors "github.com/mediaforge/transcoder/internal/errors"
	"github.com/mediaforge/transcoder/internal/mocks"
	"github.com/mediaforge/transcoder/internal/testutil"
)

// stubSignaler reports a fixed Signal outcome and records the signalled ids.
type stubSignaler struct {
	result bool
	ids    []string
}

func (s *stubSignaler) Signal(jobID string) bool {
	s.ids = append(s.ids, jobID)
	return s.result
}

func TestJobServiceGet(t *testing.T) {
	job := testutil.NewJob().Build()
	jobs := newMemJobRepo(job)
	renditions := newMemRenditionRepo()
	renditions.add(testutil.NewRendition(job.ID).Build())
	svc := NewJobService(JobServiceOptions{Jobs: jobs, Renditions: renditions})

	got, err := svc.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.Job.ID)
	require.Len(t, got.Renditions, 1)
	assert.Equal(t, job.ID, got.Renditions[0].JobID)
}

func TestJobServiceGetNotFound(t *testing.T) {
	svc := NewJobService(JobServiceOptions{Jobs: newMemJobRepo(), Renditions: newMemRenditionRepo()})

	_, err := svc.Get(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestJobServiceList(t *testing.T) {
	received := testutil.NewJob().WithKey("acme", "vid-1").Build()
	failed := testutil.NewJob().WithKey("acme", "vid-2").WithStatus(model.JobStatusFailed).Build()
	svc := NewJobService(JobServiceOptions{Jobs: newMemJobRepo(received, failed)})

	all, err := svc.List(context.Background(), nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	status := model.JobStatusFailed
	only, err := svc.List(context.Background(), &model.JobListOptions{Status: &status})
	require.NoError(t, err)
	require.Len(t, only, 1)
	assert.Equal(t, failed.ID, only[0].ID)
}

func TestJobServiceLookup(t *testing.T) {
	job := testutil.NewJob().WithKey("acme", "vid-1").Build()
	svc := NewJobService(JobServiceOptions{Jobs: newMemJobRepo(job)})

	got, err := svc.Lookup(context.Background(), model.JobKey{TenantID: "acme", VideoID: "vid-1"})
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)

	_, err = svc.Lookup(context.Background(), model.JobKey{TenantID: "acme", VideoID: "vid-9"})
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))

	_, err = svc.Lookup(context.Background(), model.JobKey{TenantID: "acme"})
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
}

func TestJobServiceStats(t *testing.T) {
	svc := NewJobService(JobServiceOptions{Jobs: newMemJobRepo(
		testutil.NewJob().WithKey("acme", "vid-1").Build(),
		testutil.NewJob().WithKey("acme", "vid-2").WithStatus(model.JobStatusCompleted).Build(),
	)})

	stats, err := svc.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Received)
	assert.Equal(t, 1, stats.Completed)
}

func TestJobServiceAbortReceivedJob(t *testing.T) {
	job := testutil.NewJob().Build()
	jobs := newMemJobRepo(job)
	signaler := &stubSignaler{}
	svc := NewJobService(JobServiceOptions{Jobs: jobs, Renditions: newMemRenditionRepo(), Aborts: signaler})

	got, err := svc.Abort(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, "aborted", *got.ErrorMessage)
	assert.Empty(t, signaler.ids, "a received job has no pipeline to signal")
}

func TestJobServiceAbortSignalsLocalPipeline(t *testing.T) {
	job := testutil.NewJob().WithStatus(model.JobStatusProcessing).Build()
	jobs := newMemJobRepo(job)
	signaler := &stubSignaler{result: true}
	svc := NewJobService(JobServiceOptions{Jobs: jobs, Renditions: newMemRenditionRepo(), Aborts: signaler})

	got, err := svc.Abort(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{job.ID}, signaler.ids)
	// The pipeline owns the terminal transition.
	assert.Equal(t, model.JobStatusProcessing, got.Status)
}

func TestJobServiceAbortRemoteProcessingJob(t *testing.T) {
	job := testutil.NewJob().WithStatus(model.JobStatusProcessing).Build()
	jobs := newMemJobRepo(job)
	signaler := &stubSignaler{result: false}
	svc := NewJobService(JobServiceOptions{Jobs: jobs, Renditions: newMemRenditionRepo(), Aborts: signaler})

	got, err := svc.Abort(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, "aborted", *got.ErrorMessage)
}

func TestJobServiceAbortTerminalJobConflicts(t *testing.T) {
	job := testutil.NewJob().WithStatus(model.JobStatusNotified).Build()
	svc := NewJobService(JobServiceOptions{Jobs: newMemJobRepo(job), Renditions: newMemRenditionRepo()})

	_, err := svc.Abort(context.Background(), job.ID)
	require.Error(t, err)
	assert.True(t, apperrors.IsConflict(err))
}

func TestJobServiceAbortLostRaceConflicts(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockJobRepository(ctrl)
	svc := NewJobService(JobServiceOptions{Jobs: repo})

	job := testutil.NewJob().Build()
	repo.EXPECT().GetByID(gomock.Any(), job.ID).Return(job, nil)
	repo.EXPECT().MarkFailed(gomock.Any(), job.ID, "aborted", model.JobStatusReceived).Return(false, nil)

	_, err := svc.Abort(context.Background(), job.ID)
	require.Error(t, err)
	assert.True(t, apperrors.IsConflict(err))
	assert.Contains(t, err.Error(), "changed state during abort")
}
