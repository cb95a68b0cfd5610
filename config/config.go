package config

import (
	"os"
	"strings"
)

// AppConfig is the main application configuration struct that composes
// domain-specific configuration from separate files.
//
// Configuration is loaded from environment variables using the
// github.com/caarlos0/env library. See individual domain config
// files for details on available environment variables:
//   - database.go: Database and Redis configuration
//   - services.go: Service mode and worker configuration
//   - storage.go: Object store configuration
//   - eventbus.go: Event stream configuration
type AppConfig struct {
	// IsDev controls development mode behavior.
	// Set DEV=true or APP_ENV=development for development mode.
	IsDev bool `env:"DEV" envDefault:"false"`

	// Database configuration
	Postgres DBConfig    `envPrefix:"DB_"`
	Redis    RedisConfig `envPrefix:"REDIS_"`

	// HTTP server configuration
	HTTP HTTPConfig

	// Service mode configuration
	Services string `env:"SERVICES" envDefault:"http"`

	// Worker configuration
	Intake       IntakeConfig
	Orchestrator OrchestratorConfig
	Announcer    AnnouncerConfig
	Reaper       ReaperConfig

	// Event stream configuration
	EventBus EventBusConfig `envPrefix:"EVENTBUS_"`

	// Object store configuration
	Storage StorageConfig `envPrefix:"STORAGE_"`

	// Observability configuration
	Observability ObservabilityConfig
}

// Sanitize applies guardrails to configuration values loaded from env.
// This should be called after loading configuration from environment variables.
func (c *AppConfig) Sanitize() {
	c.HTTP.Sanitize()
	c.Intake.Sanitize()
	c.Orchestrator.Sanitize()
	c.Announcer.Sanitize()
	c.Reaper.Sanitize()
	c.EventBus.Sanitize()
	c.Observability.Sanitize()
	c.detectDevMode()
}

// detectDevMode checks both DEV and APP_ENV environment variables.
func (c *AppConfig) detectDevMode() {
	if !c.IsDev {
		appEnv := strings.ToLower(os.Getenv("APP_ENV"))
		c.IsDev = appEnv == "development" || appEnv == "dev"
	}
}

// GetEnabledServices returns the enabled services based on the Services field.
func (c *AppConfig) GetEnabledServices() (map[ServiceMode]bool, error) {
	return ParseServices(c.Services)
}

// IsHTTPServerEnabled returns true if the HTTP server service is enabled.
func (c *AppConfig) IsHTTPServerEnabled() bool {
	return c.isEnabled(ServiceModeHTTP)
}

// IsIntakeEnabled returns true if the intake poller service is enabled.
func (c *AppConfig) IsIntakeEnabled() bool {
	return c.isEnabled(ServiceModeIntake)
}

// IsAnnouncerEnabled returns true if the completion announcer service is enabled.
func (c *AppConfig) IsAnnouncerEnabled() bool {
	return c.isEnabled(ServiceModeAnnouncer)
}

// IsReaperEnabled returns true if the reaper service is enabled.
func (c *AppConfig) IsReaperEnabled() bool {
	return c.isEnabled(ServiceModeReaper)
}

// IsConsumersEnabled returns true if the event consumers are enabled.
func (c *AppConfig) IsConsumersEnabled() bool {
	return c.isEnabled(ServiceModeConsumers)
}

func (c *AppConfig) isEnabled(mode ServiceMode) bool {
	services, err := c.GetEnabledServices()
	if err != nil {
		return false
	}
	return services[mode]
}
