package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobStatusValid(t *testing.T) {
	t.Parallel()

	valid := []JobStatus{
		JobStatusReceived,
		JobStatusProcessing,
		JobStatusCompleted,
		JobStatusNotified,
		JobStatusFailed,
	}
	for _, s := range valid {
		assert.True(t, s.Valid(), "expected %q to be valid", s)
	}

	assert.False(t, JobStatus("").Valid())
	assert.False(t, JobStatus("queued").Valid())
}

func TestJobStatusTerminal(t *testing.T) {
	t.Parallel()

	tests := map[JobStatus]bool{
		JobStatusReceived:   false,
		JobStatusProcessing: false,
		JobStatusCompleted:  true,
		JobStatusNotified:   true,
		JobStatusFailed:     true,
	}
	for status, want := range tests {
		assert.Equal(t, want, status.Terminal(), "status %q", status)
	}
}

func TestJobStatusUnmarshalText(t *testing.T) {
	t.Parallel()

	var s JobStatus
	require.NoError(t, s.UnmarshalText([]byte("  Processing ")))
	assert.Equal(t, JobStatusProcessing, s)

	err := s.UnmarshalText([]byte("bogus"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid JobStatus")
}

func TestJobKeyString(t *testing.T) {
	t.Parallel()

	key := JobKey{TenantID: "acme", VideoID: "vid-42"}
	assert.Equal(t, "acme:vid-42", key.String())
}

func TestJobKeyValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		key     JobKey
		wantErr string
	}{
		{name: "valid", key: JobKey{TenantID: "t", VideoID: "v"}},
		{name: "missing tenant", key: JobKey{VideoID: "v"}, wantErr: "tenant id is required"},
		{name: "missing video", key: JobKey{TenantID: "t"}, wantErr: "video id is required"},
		{name: "whitespace tenant", key: JobKey{TenantID: "  ", VideoID: "v"}, wantErr: "tenant id is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.key.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestCreateJobRequestValidate(t *testing.T) {
	t.Parallel()

	req := &CreateJobRequest{TenantID: "t", VideoID: "v", InputLocation: "s3://bucket/in.mp4"}
	require.NoError(t, req.Validate())
	assert.Equal(t, JobKey{TenantID: "t", VideoID: "v"}, req.Key())

	missing := &CreateJobRequest{TenantID: "t", VideoID: "v"}
	err := missing.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "input location is required")
}
