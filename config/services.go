package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ServiceMode represents the available service modes.
type ServiceMode string

const (
	// ServiceModeHTTP runs the read/admin HTTP server.
	ServiceModeHTTP ServiceMode = "http"
	// ServiceModeIntake runs the job intake poller and its pipelines.
	ServiceModeIntake ServiceMode = "intake"
	// ServiceModeAnnouncer runs the completion announcer.
	ServiceModeAnnouncer ServiceMode = "announcer"
	// ServiceModeReaper runs the stale-job reaper.
	ServiceModeReaper ServiceMode = "reaper"
	// ServiceModeConsumers runs the inbound event consumers.
	ServiceModeConsumers ServiceMode = "consumers"
)

// ValidServiceModes returns all valid service mode names.
func ValidServiceModes() []ServiceMode {
	return []ServiceMode{
		ServiceModeHTTP,
		ServiceModeIntake,
		ServiceModeAnnouncer,
		ServiceModeReaper,
		ServiceModeConsumers,
	}
}

// ParseServices parses a comma-delimited string of service names and returns the enabled services.
// It validates that all service names are valid and returns an error if any are invalid.
func ParseServices(servicesStr string) (map[ServiceMode]bool, error) {
	services := make(map[ServiceMode]bool)

	if servicesStr == "" {
		return services, errors.New("at least one service must be specified")
	}

	parts := strings.Split(servicesStr, ",")
	for _, part := range parts {
		serviceName := strings.TrimSpace(part)
		if serviceName == "" {
			continue
		}

		mode := ServiceMode(serviceName)
		switch mode {
		case ServiceModeHTTP,
			ServiceModeIntake,
			ServiceModeAnnouncer,
			ServiceModeReaper,
			ServiceModeConsumers:
			services[mode] = true
		default:
			return nil, fmt.Errorf(
				"invalid service name: %q (valid options: http, intake, announcer, reaper, consumers)",
				serviceName,
			)
		}
	}

	if len(services) == 0 {
		return nil, errors.New("at least one valid service must be specified")
	}

	return services, nil
}

// IntakeConfig contains intake poller configuration.
type IntakeConfig struct {
	// Interval is the intake tick interval.
	Interval time.Duration `env:"INTAKE_INTERVAL" envDefault:"5s"`

	// BatchSize is the number of received jobs fetched per tick.
	BatchSize int `env:"INTAKE_BATCH_SIZE" envDefault:"10"`

	// MaxConcurrentJobs bounds in-flight pipelines per worker process.
	MaxConcurrentJobs int `env:"INTAKE_MAX_CONCURRENT_JOBS" envDefault:"4"`
}

// Sanitize applies guardrails to intake configuration values.
func (c *IntakeConfig) Sanitize() {
	if c.Interval < time.Second {
		c.Interval = time.Second
	}
	if c.BatchSize < 1 {
		c.BatchSize = 1
	}
	if c.MaxConcurrentJobs < 1 {
		c.MaxConcurrentJobs = 1
	}
}

// OrchestratorConfig contains transcoding pipeline configuration.
type OrchestratorConfig struct {
	// Profiles is the configured rendition set, a comma-separated list of
	// name:WxH:bitrateKbps entries.
	Profiles string `env:"PROFILES" envDefault:"480p:854x480:800,720p:1280x720:2500,1080p:1920x1080:5000"`

	// MaxConcurrentRenditions bounds encode parallelism within one job.
	MaxConcurrentRenditions int `env:"MAX_CONCURRENT_RENDITIONS" envDefault:"2"`

	// LockTTL must exceed the worst-case processing time between renewals.
	LockTTL time.Duration `env:"LOCK_TTL" envDefault:"10m"`

	// LockRenewalInterval is how often the pipeline extends its lock.
	LockRenewalInterval time.Duration `env:"LOCK_RENEWAL_INTERVAL" envDefault:"2m"`

	// WorkDir is the scratch directory for downloads and encode outputs.
	WorkDir string `env:"WORK_DIR" envDefault:"/tmp/transcoder"`

	// FFmpegBinary is the encoder executable.
	FFmpegBinary string `env:"FFMPEG_BINARY" envDefault:"ffmpeg"`

	// EncodeTimeout bounds a single rendition encode. Zero disables the bound.
	EncodeTimeout time.Duration `env:"ENCODE_TIMEOUT" envDefault:"30m"`

	// Retry parameters for transient object store errors.
	RetryMaxAttempts    int           `env:"RETRY_MAX_ATTEMPTS"    envDefault:"3"`
	RetryInitialBackoff time.Duration `env:"RETRY_INITIAL_BACKOFF" envDefault:"500ms"`
	RetryMaxBackoff     time.Duration `env:"RETRY_MAX_BACKOFF"     envDefault:"10s"`
}

// Sanitize applies guardrails to orchestrator configuration values.
func (c *OrchestratorConfig) Sanitize() {
	if c.MaxConcurrentRenditions < 1 {
		c.MaxConcurrentRenditions = 1
	}
	if c.LockTTL < time.Minute {
		c.LockTTL = time.Minute
	}
	if c.LockRenewalInterval <= 0 || c.LockRenewalInterval >= c.LockTTL {
		c.LockRenewalInterval = c.LockTTL / 3
	}
	if c.RetryMaxAttempts < 1 {
		c.RetryMaxAttempts = 1
	}
	if c.RetryInitialBackoff <= 0 {
		c.RetryInitialBackoff = 500 * time.Millisecond
	}
	if c.RetryMaxBackoff < c.RetryInitialBackoff {
		c.RetryMaxBackoff = c.RetryInitialBackoff
	}
}

// AnnouncerConfig contains completion announcer configuration.
type AnnouncerConfig struct {
	// Interval is the announcer tick interval.
	Interval time.Duration `env:"ANNOUNCER_INTERVAL" envDefault:"10s"`

	// BatchSize is the number of completed jobs fetched per tick.
	BatchSize int `env:"ANNOUNCER_BATCH_SIZE" envDefault:"20"`

	// Quiescence is how long a job must sit completed before announcement.
	// Tunable race-avoidance, not a correctness mechanism; downstream
	// consumers dedup on the event's job id.
	Quiescence time.Duration `env:"ANNOUNCER_QUIESCENCE" envDefault:"30s"`

	// RetryCeiling is the attempt count past which alerting trips.
	RetryCeiling int `env:"ANNOUNCER_RETRY_CEILING" envDefault:"10"`
}

// Sanitize applies guardrails to announcer configuration values.
func (c *AnnouncerConfig) Sanitize() {
	if c.Interval < time.Second {
		c.Interval = time.Second
	}
	if c.BatchSize < 1 {
		c.BatchSize = 1
	}
	if c.Quiescence < 0 {
		c.Quiescence = 0
	}
	if c.RetryCeiling < 1 {
		c.RetryCeiling = 1
	}
}

// ReaperConfig contains stale-job reaper configuration.
type ReaperConfig struct {
	// Interval is the reaper tick interval.
	Interval time.Duration `env:"REAPER_INTERVAL" envDefault:"1m"`

	// StaleAge is how long a processing job may sit unrefreshed before its
	// lock is checked. Must exceed the lock renewal interval with margin.
	StaleAge time.Duration `env:"REAPER_STALE_AGE" envDefault:"15m"`

	// BatchSize is the maximum number of rows checked per tick.
	BatchSize int `env:"REAPER_BATCH_SIZE" envDefault:"50"`
}

// Sanitize applies guardrails to reaper configuration values.
func (c *ReaperConfig) Sanitize() {
	if c.Interval < 30*time.Second {
		c.Interval = 30 * time.Second
	}
	if c.StaleAge < time.Minute {
		c.StaleAge = time.Minute
	}
	if c.BatchSize < 1 {
		c.BatchSize = 1
	}
	if c.BatchSize > 1000 {
		c.BatchSize = 1000
	}
}
