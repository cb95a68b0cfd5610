package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseServices(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    map[ServiceMode]bool
		wantErr string
	}{
		{
			name:  "single service",
			input: "http",
			want:  map[ServiceMode]bool{ServiceModeHTTP: true},
		},
		{
			name:  "full worker set",
			input: "intake,announcer,reaper,consumers",
			want: map[ServiceMode]bool{
				ServiceModeIntake:    true,
				ServiceModeAnnouncer: true,
				ServiceModeReaper:    true,
				ServiceModeConsumers: true,
			},
		},
		{
			name:  "whitespace and empty segments tolerated",
			input: " http , intake ,,",
			want:  map[ServiceMode]bool{ServiceModeHTTP: true, ServiceModeIntake: true},
		},
		{
			name:    "empty string",
			input:   "",
			wantErr: "at least one service",
		},
		{
			name:    "only separators",
			input:   ",, ,",
			wantErr: "at least one valid service",
		},
		{
			name:    "unknown service",
			input:   "http,webhooks",
			wantErr: `invalid service name: "webhooks"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseServices(tt.input)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIntakeConfigSanitize(t *testing.T) {
	cfg := IntakeConfig{Interval: time.Millisecond, BatchSize: 0, MaxConcurrentJobs: -1}
	cfg.Sanitize()

	assert.Equal(t, time.Second, cfg.Interval)
	assert.Equal(t, 1, cfg.BatchSize)
	assert.Equal(t, 1, cfg.MaxConcurrentJobs)
}

func TestOrchestratorConfigSanitize(t *testing.T) {
	cfg := OrchestratorConfig{
		MaxConcurrentRenditions: 0,
		LockTTL:                 time.Second,
		LockRenewalInterval:     time.Hour,
		RetryMaxAttempts:        0,
		RetryInitialBackoff:     -time.Second,
		RetryMaxBackoff:         time.Millisecond,
	}
	cfg.Sanitize()

	assert.Equal(t, 1, cfg.MaxConcurrentRenditions)
	assert.Equal(t, time.Minute, cfg.LockTTL)
	assert.Equal(t, cfg.LockTTL/3, cfg.LockRenewalInterval, "renewal must undercut the TTL")
	assert.Equal(t, 1, cfg.RetryMaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.RetryInitialBackoff)
	assert.Equal(t, cfg.RetryInitialBackoff, cfg.RetryMaxBackoff)
}

func TestAnnouncerConfigSanitize(t *testing.T) {
	cfg := AnnouncerConfig{Interval: 0, BatchSize: -5, Quiescence: -time.Minute, RetryCeiling: 0}
	cfg.Sanitize()

	assert.Equal(t, time.Second, cfg.Interval)
	assert.Equal(t, 1, cfg.BatchSize)
	assert.Equal(t, time.Duration(0), cfg.Quiescence)
	assert.Equal(t, 1, cfg.RetryCeiling)
}

func TestReaperConfigSanitize(t *testing.T) {
	cfg := ReaperConfig{Interval: time.Second, StaleAge: time.Second, BatchSize: 5000}
	cfg.Sanitize()

	assert.Equal(t, 30*time.Second, cfg.Interval)
	assert.Equal(t, time.Minute, cfg.StaleAge)
	assert.Equal(t, 1000, cfg.BatchSize)
}
