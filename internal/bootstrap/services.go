package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/signalhouse/domain-intel/config"
	"github.com/signalhouse/domain-intel/internal/adapters/enrichrunner"
	"github.com/signalhouse/domain-intel/internal/data"
	"github.com/signalhouse/domain-intel/internal/enrich"
	apperrors "github.com/signalhouse/domain-intel/internal/errors"
	"github.com/signalhouse/domain-intel/internal/observability/statsd"
	"github.com/signalhouse/domain-intel/internal/service"
)

// ServiceContainer holds all application services.
type ServiceContainer struct {
	Jobs          *service.JobService
	Versioning    *service.VersioningService
	Changes       *service.ChangeDetectionService
	Orchestrator  *service.Orchestrator
	Sweeper       *service.SweeperService
	Runner        *enrichrunner.Runner
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
	SnapshotRepo    *data.SnapshotRepo
	ChangeEventRepo *data.ChangeEventRepo
	JobRepo         *data.JobRepo
	CacheRepo       *data.RedisCacheRepo
}

// Sink returns the configured metrics sink, nil when metrics are disabled.
//
//nolint:ireturn // statsd.Sink keeps call sites sink-agnostic.
func (o ObservabilityContainer) Sink() statsd.Sink {
	if o.MetricsSink == nil {
		return nil
	}
	return o.MetricsSink
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
			Prefix:  cfg.Metrics.StatsdPrefix,
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
func buildRepositories(db *sql.DB, redisClient redis.UniversalClient) *serviceRepositories {
	return &serviceRepositories{
		SnapshotRepo:    data.NewSnapshotRepo(db),
		ChangeEventRepo: data.NewChangeEventRepo(db),
		JobRepo:         data.NewJobRepo(db),
		CacheRepo:       data.NewRedisCacheRepo(redisClient),
	}
}

// unconfiguredProvider stands in for a provider with no endpoint configured.
// The registry resolves every declared provider name at startup, so missing
// configuration surfaces per-fetch as a provider error instead of taking the
// whole process down.
type unconfiguredProvider struct {
	name string
}

func (p unconfiguredProvider) Name() string { return p.name }

func (p unconfiguredProvider) Fetch(context.Context, string, map[string]string) (map[string]any, string, error) {
	return nil, "", apperrors.Providerf("%s: provider not configured", p.name)
}

// buildProviderCatalog constructs provider clients from configuration.
func buildProviderCatalog(cfg config.ProvidersConfig, logger *slog.Logger) (enrich.ProviderCatalog, error) {
	entries := []struct {
		name string
		cfg  config.ProviderConfig
	}{
		{enrich.ProviderTechnographics, cfg.Technographics},
		{enrich.ProviderTrafficAnalytics, cfg.TrafficAnalytics},
		{enrich.ProviderFinancialData, cfg.FinancialData},
		{enrich.ProviderWebSearch, cfg.WebSearch},
	}

	catalog := make(enrich.ProviderCatalog, len(entries))
	for _, entry := range entries {
		if !entry.cfg.Configured() {
			if logger != nil {
				logger.Warn("provider not configured, modules depending on it will degrade",
					"provider", entry.name)
			}
			catalog[entry.name] = unconfiguredProvider{name: entry.name}
			continue
		}
		client, err := enrich.NewHTTPProvider(enrich.HTTPProviderOptions{
			Name:    entry.name,
			BaseURL: entry.cfg.BaseURL,
			APIKey:  entry.cfg.APIKey,
			Timeout: entry.cfg.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("build provider %s: %w", entry.name, err)
		}
		catalog[entry.name] = client
	}
	return catalog, nil
}

// NewServices wires repositories, the enrichment pipeline, and all domain
// services from infrastructure connections.
func NewServices(deps *ServiceDeps) (ServiceContainer, error) {
	if deps == nil {
		return ServiceContainer{}, errors.New("service deps are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	appCfg := deps.Config
	if appCfg == nil {
		appCfg = &config.AppConfig{}
	}

	observability := buildObservability(logger, appCfg.Observability)
	repos := buildRepositories(deps.DB, deps.RedisClient)

	catalog, err := buildProviderCatalog(appCfg.Providers, logger)
	if err != nil {
		return ServiceContainer{}, err
	}
	registry, err := enrich.NewDefaultRegistry(catalog)
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("build module registry: %w", err)
	}
	enricher, err := enrich.NewEnricher(enrich.EnricherOptions{
		Registry: registry,
		Cache:    repos.CacheRepo,
		Logger:   logger,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("build enricher: %w", err)
	}

	versioning, err := service.NewVersioningService(service.VersioningServiceOptions{
		Repo:    repos.SnapshotRepo,
		Logger:  logger,
		Metrics: observability.Sink(),
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("build versioning service: %w", err)
	}

	changes, err := service.NewChangeDetectionService(service.ChangeDetectionServiceOptions{
		Repo:   repos.ChangeEventRepo,
		Logger: logger,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("build change detection service: %w", err)
	}

	orchestrator, err := service.NewOrchestrator(service.OrchestratorOptions{
		Deps: service.OrchestratorDeps{
			Registry:   registry,
			Enricher:   enricher,
			Jobs:       repos.JobRepo,
			Versioning: versioning,
			Changes:    changes,
		},
		Config: service.OrchestratorConfig{
			WaveWorkers: appCfg.Enrichment.WaveWorkers,
			WaveTimeout: appCfg.Enrichment.WaveTimeout,
		},
		Logger:  logger,
		Metrics: observability.Sink(),
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("build orchestrator: %w", err)
	}

	jobs, err := service.NewJobService(service.JobServiceOptions{
		Repo:     repos.JobRepo,
		Registry: registry,
		Logger:   logger,
		Metrics:  observability.Sink(),
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("build job service: %w", err)
	}

	sweeper, err := service.NewSweeperService(service.SweeperServiceOptions{
		Repo:    repos.JobRepo,
		Config:  appCfg.Sweeper,
		Logger:  logger,
		Metrics: observability.Sink(),
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("build sweeper service: %w", err)
	}

	runner, err := enrichrunner.NewRunner(enrichrunner.RunnerOptions{
		Jobs:         repos.JobRepo,
		Cache:        repos.CacheRepo,
		Orchestrator: orchestrator,
		Config:       appCfg.Runner,
		LockTTL:      appCfg.Enrichment.LockTTL,
		Logger:       logger,
		Metrics:      observability.Sink(),
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("build enrichment runner: %w", err)
	}

	return ServiceContainer{
		Jobs:          jobs,
		Versioning:    versioning,
		Changes:       changes,
		Orchestrator:  orchestrator,
		Sweeper:       sweeper,
		Runner:        runner,
		Observability: observability,
	}, nil
}

// ServiceOrchestrationConfig contains configuration for service orchestration.
type ServiceOrchestrationConfig struct {
	Config   *config.AppConfig
	Services ServiceContainer
	Logger   *slog.Logger
}

// RunServicesWithShutdown starts all enabled services and blocks until a
// shutdown signal is received or a service fails.
func RunServicesWithShutdown(cfg *ServiceOrchestrationConfig) error {
	if cfg == nil {
		return errors.New("service orchestration config is required")
	}
	if cfg.Config == nil {
		return errors.New("service orchestration config missing AppConfig")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	enabled, err := cfg.Config.GetEnabledServices()
	if err != nil {
		return fmt.Errorf("determine enabled services: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)
	started := 0

	if enabled[config.ServiceModeRunner] {
		logger.Info("starting service", "service", config.ServiceModeRunner)
		group.Go(func() error {
			if runErr := cfg.Services.Runner.Run(groupCtx); runErr != nil {
				return fmt.Errorf("enrichment runner failed: %w", runErr)
			}
			return nil
		})
		started++
	}

	if enabled[config.ServiceModeSweeper] {
		logger.Info("starting service", "service", config.ServiceModeSweeper)
		group.Go(func() error {
			if runErr := cfg.Services.Sweeper.Run(groupCtx); runErr != nil {
				return fmt.Errorf("sweeper failed: %w", runErr)
			}
			return nil
		})
		started++
	}

	if started == 0 {
		return errors.New("no services enabled")
	}

	if waitErr := group.Wait(); waitErr != nil {
		return waitErr
	}

	logger.Info("all services stopped")
	return nil
}
