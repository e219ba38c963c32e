package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/kenhaesler/ai-portainer-dashboard-sub011/internal/cache"
	"github.com/kenhaesler/ai-portainer-dashboard-sub011/internal/config"
	"github.com/kenhaesler/ai-portainer-dashboard-sub011/internal/engine"
	"github.com/kenhaesler/ai-portainer-dashboard-sub011/internal/repo"
	"github.com/kenhaesler/ai-portainer-dashboard-sub011/internal/services"
	"github.com/kenhaesler/ai-portainer-dashboard-sub011/internal/utils"
)

// app holds every wired component; close releases stores and cache connections.
type app struct {
	cfg        *config.Config
	logger     *slog.Logger
	store      *repo.SQLiteStore
	incidents  repo.IncidentRepository
	cache      cache.Provider
	detector   *engine.Detector
	correlator *engine.Correlator
	forecaster *engine.Forecaster
	rules      *engine.RuleEngine
	monitor    *services.Monitor
	service    *services.IntelligenceService
}

func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config %q: %w", configPath, err)
	}
	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	return cfg, logger, nil
}

func buildApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	dbPath := cfg.Storage.MetricsDBPath
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}
	store, err := repo.OpenSQLiteStore(ctx, dbPath, logger)
	if err != nil {
		return nil, err
	}
	a.store = store

	if cfg.Storage.IncidentsDSN != "" {
		incidents, err := repo.OpenPostgresIncidentStore(ctx, cfg.Storage.IncidentsDSN, logger)
		if err != nil {
			a.close()
			return nil, err
		}
		a.incidents = incidents
	} else {
		logger.Warn("no incidents DSN configured, incidents are kept in memory")
		a.incidents = repo.NewMemoryIncidentStore()
	}

	a.cache = newCacheProvider(ctx, cfg.Cache, logger)

	rules, err := engine.NewRuleEngine(cfg.Rules.Path, logger)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("load rule pack: %w", err)
	}
	a.rules = rules

	var summarizer engine.Summarizer
	if cfg.LLM.BaseURL != "" {
		client := repo.NewOllamaClient(cfg.LLM.BaseURL, cfg.LLM.Model, cfg.LLM.Timeout)
		summarizer = engine.NewLLMSummarizer(client, cfg.Correlation.SummaryTimeout, logger)
	} else if cfg.Correlation.SummaryEnabled {
		logger.Warn("incident summaries enabled without llm.baseURL, using deterministic summaries")
	}

	a.detector = engine.NewDetector(store, engine.DetectorConfig{
		WindowSize:      cfg.Monitoring.WindowSize,
		MinSamples:      cfg.Monitoring.MinSamples,
		ZScoreThreshold: cfg.Monitoring.ZScoreThreshold,
	}, logger)
	a.correlator = engine.NewCorrelator(a.incidents, summarizer, engine.CorrelatorConfig{
		SummaryEnabled: cfg.Correlation.SummaryEnabled && summarizer != nil,
	}, logger)
	a.forecaster = engine.NewForecaster(store,
		engine.NewProviderForecastCache(a.cache, cfg.Forecast.CacheTTL, logger),
		engine.ForecasterConfig{
			Threshold:          cfg.Forecast.Threshold,
			HoursForward:       cfg.Forecast.HoursForward,
			OverviewHoursBack:  cfg.Forecast.OverviewHoursBack,
			MaxPointsPerSeries: cfg.Forecast.MaxPointsPerSeries,
			MaxContainers:      cfg.Forecast.MaxContainers,
			Concurrency:        cfg.Monitoring.Concurrency,
		}, logger)

	a.monitor = services.NewMonitor(store, store, a.detector, a.correlator, rules, services.MonitorConfig{
		Interval:      cfg.Monitoring.Interval,
		CycleTimeout:  cfg.Monitoring.CycleTimeout,
		SampleMaxAge:  cfg.Monitoring.SampleMaxAge,
		Retention:     cfg.Monitoring.Retention,
		Concurrency:   cfg.Monitoring.Concurrency,
		EndpointNames: cfg.Monitoring.EndpointNames,
	}, logger)

	a.service = services.NewIntelligenceService(logger, a.detector, a.correlator, a.forecaster, store, a.incidents, a.monitor, services.IntelligenceConfig{
		RelatedThreshold:  cfg.Correlation.RelatedThreshold,
		ForecastThreshold: cfg.Forecast.Threshold,
		HoursBack:         cfg.Forecast.HoursBack,
		HoursForward:      cfg.Forecast.HoursForward,
	})
	return a, nil
}

// newCacheProvider prefers Valkey when configured and reachable, otherwise an
// in-process TTL cache.
func newCacheProvider(ctx context.Context, cfg config.CacheConfig, logger *slog.Logger) cache.Provider {
	if cfg.Enabled && cfg.Addr != "" {
		provider, err := cache.NewValkeyProvider(ctx, cache.ValkeyConfig{
			Addr:         cfg.Addr,
			Username:     cfg.Username,
			Password:     cfg.Password,
			DB:           cfg.DB,
			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			MaxRetries:   cfg.MaxRetries,
			TLS:          cfg.TLS,
		})
		if err == nil {
			logger.Info("forecast cache backed by valkey", slog.String("addr", cfg.Addr))
			return cache.Prefixed(provider, cfg.KeyPrefix)
		}
		logger.Warn("valkey cache unavailable, falling back to in-process cache", slog.Any("error", err))
	}
	return cache.NewMemoryProvider()
}

func (a *app) close() {
	var errs []error
	if a.cache != nil {
		errs = append(errs, a.cache.Close())
	}
	if a.incidents != nil {
		errs = append(errs, a.incidents.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("failed to release resources", slog.Any("error", err))
	}
}
