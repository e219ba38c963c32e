package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config captures every setting the insights engine needs to boot.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Logging     LoggingConfig     `yaml:"logging"`
	Monitoring  MonitoringConfig  `yaml:"monitoring"`
	Correlation CorrelationConfig `yaml:"correlation"`
	Forecast    ForecastConfig    `yaml:"forecast"`
	Storage     StorageConfig     `yaml:"storage"`
	LLM         LLMConfig         `yaml:"llm"`
	Rules       RulesConfig       `yaml:"rules"`
	Cache       CacheConfig       `yaml:"cache"`
}

// ServerConfig controls gRPC listener behaviour.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// MonitoringConfig drives the periodic detection cycle.
type MonitoringConfig struct {
	Enabled         bool           `yaml:"enabled"`
	Interval        time.Duration  `yaml:"interval"`
	CycleTimeout    time.Duration  `yaml:"cycleTimeout"`
	WindowSize      int            `yaml:"windowSize"`
	MinSamples      int            `yaml:"minSamples"`
	ZScoreThreshold float64        `yaml:"zScoreThreshold"`
	Concurrency     int            `yaml:"concurrency"`
	SampleMaxAge    time.Duration  `yaml:"sampleMaxAge"`
	Retention       time.Duration  `yaml:"retention"`
	EndpointNames   map[int]string `yaml:"endpointNames"`
}

// CorrelationConfig toggles incident summarisation.
type CorrelationConfig struct {
	SummaryEnabled   bool          `yaml:"summaryEnabled"`
	SummaryTimeout   time.Duration `yaml:"summaryTimeout"`
	RelatedThreshold float64       `yaml:"relatedThreshold"`
}

// ForecastConfig tunes capacity forecasting and the fleet overview cache.
type ForecastConfig struct {
	Threshold          float64       `yaml:"threshold"`
	HoursBack          float64       `yaml:"hoursBack"`
	HoursForward       float64       `yaml:"hoursForward"`
	OverviewHoursBack  float64       `yaml:"overviewHoursBack"`
	MaxPointsPerSeries int           `yaml:"maxPointsPerSeries"`
	MaxContainers      int           `yaml:"maxContainers"`
	CacheTTL           time.Duration `yaml:"cacheTTL"`
}

// StorageConfig locates the metric/insight database and the incident database.
type StorageConfig struct {
	MetricsDBPath string `yaml:"metricsDBPath"`
	IncidentsDSN  string `yaml:"incidentsDSN"`
}

// LLMConfig configures the optional text-generation backend.
type LLMConfig struct {
	BaseURL string        `yaml:"baseURL"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
}

// RulesConfig controls rule-pack loading for suggested actions.
type RulesConfig struct {
	Path string `yaml:"path"`
}

// CacheConfig selects the forecast cache backend. Without Valkey the cache is in-process.
type CacheConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	MaxRetries   int           `yaml:"maxRetries"`
	TLS          bool          `yaml:"tls"`
	KeyPrefix    string        `yaml:"keyPrefix"`
}

// Load initialises Config from a YAML file, an optional .env file, and environment overrides.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	if path == "" {
		path = os.Getenv("INSIGHTS_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects numeric settings the engine cannot work with.
func (c *Config) Validate() error {
	var errs []error
	m := c.Monitoring
	if m.WindowSize <= 0 {
		errs = append(errs, fmt.Errorf("monitoring.windowSize must be positive, got %d", m.WindowSize))
	}
	if m.MinSamples <= 0 {
		errs = append(errs, fmt.Errorf("monitoring.minSamples must be positive, got %d", m.MinSamples))
	}
	if m.MinSamples > m.WindowSize {
		errs = append(errs, fmt.Errorf("monitoring.minSamples (%d) exceeds windowSize (%d)", m.MinSamples, m.WindowSize))
	}
	if m.ZScoreThreshold <= 0 {
		errs = append(errs, fmt.Errorf("monitoring.zScoreThreshold must be positive, got %g", m.ZScoreThreshold))
	}
	if m.Interval <= 0 {
		errs = append(errs, fmt.Errorf("monitoring.interval must be positive"))
	}
	if m.Concurrency <= 0 {
		errs = append(errs, fmt.Errorf("monitoring.concurrency must be positive, got %d", m.Concurrency))
	}
	if t := c.Correlation.RelatedThreshold; t <= 0 || t > 1 {
		errs = append(errs, fmt.Errorf("correlation.relatedThreshold must be in (0,1], got %g", t))
	}
	f := c.Forecast
	if f.Threshold <= 0 {
		errs = append(errs, fmt.Errorf("forecast.threshold must be positive, got %g", f.Threshold))
	}
	if f.HoursBack <= 0 || f.HoursForward <= 0 || f.OverviewHoursBack <= 0 {
		errs = append(errs, fmt.Errorf("forecast hour windows must be positive"))
	}
	if f.MaxPointsPerSeries < 5 {
		errs = append(errs, fmt.Errorf("forecast.maxPointsPerSeries must be at least 5, got %d", f.MaxPointsPerSeries))
	}
	if f.CacheTTL < 0 {
		errs = append(errs, fmt.Errorf("forecast.cacheTTL cannot be negative"))
	}
	return errors.Join(errs...)
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":50061",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
		Monitoring: MonitoringConfig{
			Enabled:         true,
			Interval:        5 * time.Minute,
			CycleTimeout:    2 * time.Minute,
			WindowSize:      30,
			MinSamples:      10,
			ZScoreThreshold: 2.5,
			Concurrency:     8,
			SampleMaxAge:    10 * time.Minute,
			Retention:       7 * 24 * time.Hour,
		},
		Correlation: CorrelationConfig{
			SummaryEnabled:   false,
			SummaryTimeout:   20 * time.Second,
			RelatedThreshold: 0.3,
		},
		Forecast: ForecastConfig{
			Threshold:          90,
			HoursBack:          24,
			HoursForward:       24,
			OverviewHoursBack:  6,
			MaxPointsPerSeries: 60,
			MaxContainers:      50,
			CacheTTL:           2 * time.Minute,
		},
		Storage: StorageConfig{MetricsDBPath: "data/metrics.db"},
		LLM:     LLMConfig{Model: "llama3.2", Timeout: 30 * time.Second},
		Rules:   RulesConfig{Path: "configs/rules/default.yaml"},
		Cache: CacheConfig{
			Enabled:      false,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
			MaxRetries:   2,
			KeyPrefix:    "insights:",
		},
	}
}

func applyEnvOverrides(cfg *Config) {
	setString("INSIGHTS_SERVER_ADDRESS", &cfg.Server.Address)
	setString("INSIGHTS_METRICS_ADDRESS", &cfg.Server.MetricsAddress)
	setString("INSIGHTS_LOG_LEVEL", &cfg.Logging.Level)
	if v := os.Getenv("INSIGHTS_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}

	setBool("INSIGHTS_MONITORING_ENABLED", &cfg.Monitoring.Enabled)
	setDuration("INSIGHTS_MONITORING_INTERVAL", &cfg.Monitoring.Interval)
	setDuration("INSIGHTS_MONITORING_CYCLE_TIMEOUT", &cfg.Monitoring.CycleTimeout)
	setInt("INSIGHTS_ANOMALY_WINDOW_SIZE", &cfg.Monitoring.WindowSize)
	setInt("INSIGHTS_ANOMALY_MIN_SAMPLES", &cfg.Monitoring.MinSamples)
	setFloat("INSIGHTS_ANOMALY_ZSCORE_THRESHOLD", &cfg.Monitoring.ZScoreThreshold)
	setInt("INSIGHTS_MONITORING_CONCURRENCY", &cfg.Monitoring.Concurrency)

	setBool("INSIGHTS_SUMMARY_ENABLED", &cfg.Correlation.SummaryEnabled)
	setFloat("INSIGHTS_RELATED_THRESHOLD", &cfg.Correlation.RelatedThreshold)

	setFloat("INSIGHTS_FORECAST_THRESHOLD", &cfg.Forecast.Threshold)
	setDuration("INSIGHTS_FORECAST_CACHE_TTL", &cfg.Forecast.CacheTTL)

	setString("INSIGHTS_METRICS_DB_PATH", &cfg.Storage.MetricsDBPath)
	setString("INSIGHTS_INCIDENTS_DSN", &cfg.Storage.IncidentsDSN)

	setString("INSIGHTS_LLM_BASE_URL", &cfg.LLM.BaseURL)
	setString("INSIGHTS_LLM_MODEL", &cfg.LLM.Model)
	setDuration("INSIGHTS_LLM_TIMEOUT", &cfg.LLM.Timeout)

	setString("INSIGHTS_RULES_PATH", &cfg.Rules.Path)

	setBool("INSIGHTS_CACHE_ENABLED", &cfg.Cache.Enabled)
	setString("INSIGHTS_CACHE_ADDR", &cfg.Cache.Addr)
	setString("INSIGHTS_CACHE_USERNAME", &cfg.Cache.Username)
	setString("INSIGHTS_CACHE_PASSWORD", &cfg.Cache.Password)
	setInt("INSIGHTS_CACHE_DB", &cfg.Cache.DB)
	setBool("INSIGHTS_CACHE_TLS", &cfg.Cache.TLS)
	setDuration("INSIGHTS_CACHE_DIAL_TIMEOUT", &cfg.Cache.DialTimeout)
	setDuration("INSIGHTS_CACHE_READ_TIMEOUT", &cfg.Cache.ReadTimeout)
	setDuration("INSIGHTS_CACHE_WRITE_TIMEOUT", &cfg.Cache.WriteTimeout)
	setInt("INSIGHTS_CACHE_MAX_RETRIES", &cfg.Cache.MaxRetries)
}

func setString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		*dst = strings.EqualFold(v, "true") || v == "1"
	}
}

func setInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat(key string, dst *float64) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setDuration(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
