package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mediaforge/transcoder/config"
	"github.com/mediaforge/transcoder/internal/adapters/announcer"
	"github.com/mediaforge/transcoder/internal/adapters/encoder"
	"github.com/mediaforge/transcoder/internal/adapters/intake"
	"github.com/mediaforge/transcoder/internal/adapters/objectstore"
	"github.com/mediaforge/transcoder/internal/adapters/reaper"
	"github.com/mediaforge/transcoder/internal/data"
	"github.com/mediaforge/transcoder/internal/domain/model"
	"github.com/mediaforge/transcoder/internal/eventbus"
	"github.com/mediaforge/transcoder/internal/observability/statsd"
	"github.com/mediaforge/transcoder/internal/service"
)

const shutdownWaitTimeout = 30 * time.Second

// ServiceContainer holds all application services.
type ServiceContainer struct {
	Creation      *service.CreationService
	Failure       *service.FailureService
	Orchestrator  *service.Orchestrator
	Intake        *service.IntakeService
	Announcer     *service.AnnouncerService
	Reaper        *service.ReaperService
	Jobs          *service.JobService
	Observability ObservabilityContainer
}

// ObservabilityContainer groups shared observability dependencies.
type ObservabilityContainer struct {
	MetricsSink   *statsd.Client
	MetricsConfig config.ObservabilityMetricsConfig
}

// ServiceDeps groups dependencies for service initialization.
type ServiceDeps struct {
	Config      *config.AppConfig
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

// serviceRepositories groups data adapters backing service ports.
type serviceRepositories struct {
	DB            *sql.DB
	Redis         redis.UniversalClient
	JobRepo       *data.JobRepo
	RenditionRepo *data.RenditionRepo
	LockRepo      *data.RedisLockRepo
}

// buildObservability configures the metrics sink.
func buildObservability(logger *slog.Logger, cfg config.ObservabilityConfig) ObservabilityContainer {
	obsLogger := logger
	if obsLogger == nil {
		obsLogger = slog.Default()
	}

	var metricsSink *statsd.Client
	if cfg.Metrics.IsEnabled() {
		client, err := statsd.NewClient(statsd.Config{
			Enabled: true,
			Address: cfg.Metrics.StatsdAddress,
			Prefix:  cfg.Metrics.Prefix,
			Logger:  obsLogger,
		})
		if err != nil {
			obsLogger.Error("failed to initialise statsd client", "error", err)
		} else {
			metricsSink = client
		}
	}

	return ObservabilityContainer{
		MetricsSink:   metricsSink,
		MetricsConfig: cfg.Metrics,
	}
}

// buildRepositories builds repositories backing service ports; no business rules here.
func buildRepositories(db *sql.DB, redisClient redis.UniversalClient, logger *slog.Logger) *serviceRepositories {
	return &serviceRepositories{
		DB:            db,
		Redis:         redisClient,
		JobRepo:       data.NewJobRepo(db, data.RepoConfig{Logger: logger}),
		RenditionRepo: data.NewRenditionRepo(db, data.RepoConfig{Logger: logger}),
		LockRepo:      data.NewRedisLockRepo(redisClient),
	}
}

// metricsSink flattens the optional statsd client into the Sink interface so
// services receive an untyped nil when metrics are disabled.
func metricsSink(obs ObservabilityContainer) statsd.Sink {
	if obs.MetricsSink == nil {
		return nil
	}
	return obs.MetricsSink
}

// BuildServices wires repositories, adapters, and services from configuration.
func BuildServices(ctx context.Context, deps ServiceDeps) (ServiceContainer, error) {
	if deps.Config == nil {
		return ServiceContainer{}, errors.New("config is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	observability := buildObservability(logger, deps.Config.Observability)
	sink := metricsSink(observability)
	repos := buildRepositories(deps.DB, deps.RedisClient, logger)

	storageCfg := deps.Config.Storage
	store, err := objectstore.NewS3Store(ctx, objectstore.Options{
		Endpoint:        storageCfg.Endpoint,
		Region:          storageCfg.Region,
		Bucket:          storageCfg.Bucket,
		AccessKeyID:     storageCfg.AccessKeyID,
		SecretAccessKey: storageCfg.SecretAccessKey,
		UsePathStyle:    storageCfg.UsePathStyle,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("build object store: %w", err)
	}

	orchCfg := deps.Config.Orchestrator
	profiles, err := model.ParseProfiles(orchCfg.Profiles)
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("parse rendition profiles: %w", err)
	}

	ffmpeg := encoder.NewFFmpeg(encoder.Options{
		Binary:  orchCfg.FFmpegBinary,
		Timeout: orchCfg.EncodeTimeout,
		Logger:  logger,
	})

	publisher, err := eventbus.NewTranscodedPublisher(eventbus.PublisherOptions{
		Client: deps.RedisClient,
		Stream: deps.Config.EventBus.TranscodedStream,
		MaxLen: deps.Config.EventBus.MaxLen,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("build transcoded publisher: %w", err)
	}

	aborts := service.NewAbortRegistry()

	orchestrator := service.NewOrchestrator(service.OrchestratorOptions{
		Jobs:       repos.JobRepo,
		Renditions: repos.RenditionRepo,
		Locks:      repos.LockRepo,
		Store:      store,
		Encoder:    ffmpeg,
		Aborts:     aborts,

		Profiles:                profiles,
		MaxConcurrentRenditions: orchCfg.MaxConcurrentRenditions,
		LockTTL:                 orchCfg.LockTTL,
		LockRenewalInterval:     orchCfg.LockRenewalInterval,
		Retry: service.RetryConfig{
			MaxAttempts:    orchCfg.RetryMaxAttempts,
			InitialBackoff: orchCfg.RetryInitialBackoff,
			MaxBackoff:     orchCfg.RetryMaxBackoff,
		},
		WorkDir: orchCfg.WorkDir,

		Logger:  logger,
		Metrics: sink,
	})

	intakeCfg := deps.Config.Intake
	intakeSvc := service.NewIntakeService(service.IntakeServiceOptions{
		Jobs:              repos.JobRepo,
		Locks:             repos.LockRepo,
		Processor:         orchestrator,
		BatchSize:         intakeCfg.BatchSize,
		LockTTL:           orchCfg.LockTTL,
		MaxConcurrentJobs: intakeCfg.MaxConcurrentJobs,
		Logger:            logger,
		Metrics:           sink,
	})

	announcerCfg := deps.Config.Announcer
	announcerSvc := service.NewAnnouncerService(service.AnnouncerServiceOptions{
		Jobs:         repos.JobRepo,
		Renditions:   repos.RenditionRepo,
		Publisher:    publisher,
		BatchSize:    announcerCfg.BatchSize,
		Quiescence:   announcerCfg.Quiescence,
		RetryCeiling: announcerCfg.RetryCeiling,
		Logger:       logger,
		Metrics:      sink,
	})

	reaperCfg := deps.Config.Reaper
	reaperSvc := service.NewReaperService(service.ReaperServiceOptions{
		Jobs:                repos.JobRepo,
		Locks:               repos.LockRepo,
		StaleAge:            reaperCfg.StaleAge,
		BatchSize:           reaperCfg.BatchSize,
		NotificationCeiling: announcerCfg.RetryCeiling,
		Logger:              logger,
		Metrics:             sink,
	})

	return ServiceContainer{
		Creation: service.NewCreationService(service.CreationServiceOptions{
			Jobs:    repos.JobRepo,
			Logger:  logger,
			Metrics: sink,
		}),
		Failure: service.NewFailureService(service.FailureServiceOptions{
			Jobs:    repos.JobRepo,
			Logger:  logger,
			Metrics: sink,
		}),
		Orchestrator: orchestrator,
		Intake:       intakeSvc,
		Announcer:    announcerSvc,
		Reaper:       reaperSvc,
		Jobs: service.NewJobService(service.JobServiceOptions{
			Jobs:       repos.JobRepo,
			Renditions: repos.RenditionRepo,
			Aborts:     orchestrator.Aborts(),
			Logger:     logger,
		}),
		Observability: observability,
	}, nil
}

// ServiceOrchestrationConfig contains everything needed to run the enabled
// service modes in one process.
type ServiceOrchestrationConfig struct {
	Config      *config.AppConfig
	Services    ServiceContainer
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

// serviceStartupDeps groups shared state for service startup.
type serviceStartupDeps struct {
	ctx             context.Context
	cfg             *ServiceOrchestrationConfig
	logger          *slog.Logger
	enabledServices map[config.ServiceMode]bool
	errCh           chan error
}

// backgroundService describes a startable background component.
type backgroundService struct {
	mode  config.ServiceMode
	name  string
	start func(context.Context) error
}

// backgroundServiceHandle tracks a running background service.
type backgroundServiceHandle struct {
	mode config.ServiceMode
	name string
	done <-chan struct{}
}

// startHTTPServerIfEnabled starts the HTTP server if enabled.
func startHTTPServerIfEnabled(deps *serviceStartupDeps) *http.Server {
	if deps == nil || deps.cfg == nil || !deps.enabledServices[config.ServiceModeHTTP] {
		return nil
	}
	return StartHTTPServer(&HTTPServerConfig{
		Config:      deps.cfg.Config,
		Services:    deps.cfg.Services,
		DB:          deps.cfg.DB,
		RedisClient: deps.cfg.RedisClient,
		Logger:      deps.logger,
	})
}

func launchBackground(ctx context.Context, deps *serviceStartupDeps, descriptor backgroundService) <-chan struct{} {
	if deps == nil || !deps.enabledServices[descriptor.mode] {
		return nil
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := descriptor.start(ctx); err != nil {
			errMsg := fmt.Errorf("%s failed: %w", descriptor.name, err)
			select {
			case deps.errCh <- errMsg:
			case <-ctx.Done():
			default:
				deps.logger.WarnContext(ctx, "dropping background service error", "service", descriptor.name, "error", errMsg)
			}
		}
	}()

	deps.logger.InfoContext(ctx, "background service started", "service", descriptor.name, "mode", descriptor.mode)

	return done
}

func startBackgroundServices(deps *serviceStartupDeps, services []backgroundService) []backgroundServiceHandle {
	if deps == nil {
		return nil
	}
	handles := make([]backgroundServiceHandle, 0, len(services))

	for _, svc := range services {
		done := launchBackground(deps.ctx, deps, svc)
		if done == nil {
			continue
		}

		handles = append(handles, backgroundServiceHandle{
			mode: svc.mode,
			name: svc.name,
			done: done,
		})
	}

	return handles
}

func newIntakeBackgroundService(deps *serviceStartupDeps) backgroundService {
	return backgroundService{
		mode: config.ServiceModeIntake,
		name: "intake poller",
		start: func(ctx context.Context) error {
			if deps == nil || deps.cfg == nil {
				return nil
			}
			runner, err := intake.NewRunner(intake.RunnerOptions{
				Intake:   deps.cfg.Services.Intake,
				Interval: deps.cfg.Config.Intake.Interval,
				Logger:   deps.logger,
				Metrics:  metricsSink(deps.cfg.Services.Observability),
			})
			if err != nil {
				return err
			}
			return runner.Run(ctx)
		},
	}
}

func newAnnouncerBackgroundService(deps *serviceStartupDeps) backgroundService {
	return backgroundService{
		mode: config.ServiceModeAnnouncer,
		name: "completion announcer",
		start: func(ctx context.Context) error {
			if deps == nil || deps.cfg == nil {
				return nil
			}
			runner, err := announcer.NewRunner(announcer.RunnerOptions{
				Announcer: deps.cfg.Services.Announcer,
				Interval:  deps.cfg.Config.Announcer.Interval,
				Logger:    deps.logger,
				Metrics:   metricsSink(deps.cfg.Services.Observability),
			})
			if err != nil {
				return err
			}
			return runner.Run(ctx)
		},
	}
}

func newReaperBackgroundService(deps *serviceStartupDeps) backgroundService {
	return backgroundService{
		mode: config.ServiceModeReaper,
		name: "reaper",
		start: func(ctx context.Context) error {
			if deps == nil || deps.cfg == nil {
				return nil
			}
			runner, err := reaper.NewRunner(reaper.RunnerOptions{
				Reaper:   deps.cfg.Services.Reaper,
				Interval: deps.cfg.Config.Reaper.Interval,
				Logger:   deps.logger,
				Metrics:  metricsSink(deps.cfg.Services.Observability),
			})
			if err != nil {
				return err
			}
			return runner.Run(ctx)
		},
	}
}

func newUploadConsumerBackgroundService(deps *serviceStartupDeps) backgroundService {
	return backgroundService{
		mode: config.ServiceModeConsumers,
		name: "upload consumer",
		start: func(ctx context.Context) error {
			if deps == nil || deps.cfg == nil {
				return nil
			}
			busCfg := deps.cfg.Config.EventBus
			consumer, err := eventbus.NewConsumer(eventbus.ConsumerOptions{
				Client:        deps.cfg.RedisClient,
				Stream:        busCfg.UploadStream,
				Group:         busCfg.ConsumerGroup,
				Consumer:      busCfg.ConsumerName,
				Handler:       deps.cfg.Services.Creation.HandleUploadReceived,
				Logger:        deps.logger,
				Block:         busCfg.Block,
				Batch:         busCfg.Batch,
				MaxDeliveries: busCfg.MaxDeliveries,
				ClaimMinIdle:  busCfg.ClaimMinIdle,
			})
			if err != nil {
				return err
			}
			return consumer.Run(ctx)
		},
	}
}

func newFailureConsumerBackgroundService(deps *serviceStartupDeps) backgroundService {
	return backgroundService{
		mode: config.ServiceModeConsumers,
		name: "failure consumer",
		start: func(ctx context.Context) error {
			if deps == nil || deps.cfg == nil {
				return nil
			}
			busCfg := deps.cfg.Config.EventBus
			consumer, err := eventbus.NewConsumer(eventbus.ConsumerOptions{
				Client:        deps.cfg.RedisClient,
				Stream:        busCfg.FailureStream,
				Group:         busCfg.ConsumerGroup,
				Consumer:      busCfg.ConsumerName,
				Handler:       deps.cfg.Services.Failure.HandleProcessingFailed,
				Logger:        deps.logger,
				Block:         busCfg.Block,
				Batch:         busCfg.Batch,
				MaxDeliveries: busCfg.MaxDeliveries,
				ClaimMinIdle:  busCfg.ClaimMinIdle,
			})
			if err != nil {
				return err
			}
			return consumer.Run(ctx)
		},
	}
}

func buildBackgroundServices(deps *serviceStartupDeps) []backgroundService {
	if deps == nil {
		return nil
	}
	return []backgroundService{
		newIntakeBackgroundService(deps),
		newAnnouncerBackgroundService(deps),
		newReaperBackgroundService(deps),
		newUploadConsumerBackgroundService(deps),
		newFailureConsumerBackgroundService(deps),
	}
}

// ServiceStartupResult holds the results of starting all services.
type ServiceStartupResult struct {
	HTTPServer *http.Server
	Background []backgroundServiceHandle
}

// startServices starts all enabled services and returns their completion channels.
func startServices(deps *serviceStartupDeps) ServiceStartupResult {
	return ServiceStartupResult{
		HTTPServer: startHTTPServerIfEnabled(deps),
		Background: startBackgroundServices(deps, buildBackgroundServices(deps)),
	}
}

// RunServicesWithShutdown starts all enabled services and manages their lifecycle.
// This function blocks until a shutdown signal is received or a service fails.
func RunServicesWithShutdown(cfg *ServiceOrchestrationConfig) error {
	if cfg == nil {
		return errors.New("service orchestration config is required")
	}
	ctx := context.Background()
	serviceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.Config == nil {
		return errors.New("service orchestration config missing AppConfig")
	}

	// Determine which services are enabled
	enabledServices, err := cfg.Config.GetEnabledServices()
	if err != nil {
		return fmt.Errorf("determine enabled services: %w", err)
	}
	errCh := make(chan error, errorChannelBufferSize(enabledServices))

	// Start all enabled services
	result := startServices(&serviceStartupDeps{
		ctx:             serviceCtx,
		cfg:             cfg,
		logger:          logger,
		enabledServices: enabledServices,
		errCh:           errCh,
	})

	// Wait for shutdown signal or error
	return waitForShutdown(shutdownConfig{
		ctx:         serviceCtx,
		cancel:      cancel,
		errCh:       errCh,
		httpServer:  result.HTTPServer,
		intake:      cfg.Services.Intake,
		logger:      logger,
		backgrounds: result.Background,
	})
}

func errorChannelCapacity(enabled map[config.ServiceMode]bool) int {
	modes := []config.ServiceMode{
		config.ServiceModeHTTP,
		config.ServiceModeIntake,
		config.ServiceModeAnnouncer,
		config.ServiceModeReaper,
		config.ServiceModeConsumers,
	}

	count := 0
	for _, mode := range modes {
		if enabled[mode] {
			count++
		}
	}
	// The consumers mode launches two background services.
	if enabled[config.ServiceModeConsumers] {
		count++
	}
	return count
}

func errorChannelBufferSize(enabled map[config.ServiceMode]bool) int {
	size := errorChannelCapacity(enabled) + 1
	if size < 1 {
		return 1
	}
	return size
}

// shutdownConfig contains dependencies for graceful shutdown.
type shutdownConfig struct {
	ctx         context.Context
	cancel      context.CancelFunc
	errCh       <-chan error
	httpServer  *http.Server
	intake      *service.IntakeService
	logger      *slog.Logger
	backgrounds []backgroundServiceHandle
}

// waitForShutdown waits for shutdown signal or service error.
func waitForShutdown(cfg shutdownConfig) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case <-quit:
		cfg.logger.Info("shutting down services...")
		cfg.cancel() // Cancel service context before waiting
		return gracefulStop(cfg)
	case err := <-cfg.errCh:
		cfg.logger.Error("service error", "error", err)
		cfg.cancel() // Cancel service context before waiting
		if stopErr := gracefulStop(cfg); stopErr != nil {
			cfg.logger.Error("graceful stop failed", "error", stopErr)
		}
		return err
	}
}

// gracefulStop attempts to gracefully stop all services.
func gracefulStop(cfg shutdownConfig) error {
	// Gracefully stop HTTP server if running
	if cfg.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownWaitTimeout)
		defer cancel()

		if err := ShutdownHTTPServer(ShutdownConfig{
			Context: shutdownCtx,
			Server:  cfg.httpServer,
			Logger:  cfg.logger,
		}); err != nil {
			return err
		}
	}

	// Let in-flight pipelines drain before reporting services stopped. The
	// intake runner already waits on its own group; this covers the case
	// where intake was never enabled but a pipeline is mid-flight in tests.
	if cfg.intake != nil {
		cfg.intake.Wait()
	}

	// Wait for background services to finish
	for _, svc := range cfg.backgrounds {
		waitForService(svc.done, svc.name, cfg.logger)
	}

	return nil
}

// waitForService waits for a service to finish with timeout.
func waitForService(done <-chan struct{}, name string, logger *slog.Logger) {
	if done == nil {
		return
	}
	select {
	case <-done:
		logger.Info(name + " stopped")
	case <-time.After(shutdownWaitTimeout):
		logger.Warn("timeout waiting for " + name + " to stop")
	}
}
