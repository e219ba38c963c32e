package engine

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/kenhaesler/ai-portainer-dashboard-sub011/internal/cache"
	"github.com/kenhaesler/ai-portainer-dashboard-sub011/internal/models"
	"github.com/kenhaesler/ai-portainer-dashboard-sub011/internal/utils"
)

const (
	forecastCacheKey = "forecast:top"

	// DefaultForecastCacheTTL bounds how stale the fleet overview may be.
	DefaultForecastCacheTTL = 2 * time.Minute
)

// ForecastCache holds the most recent fleet overview.
type ForecastCache interface {
	// Get returns up to limit cached forecasts when the slot is fresh and was
	// computed for at least limit entries.
	Get(ctx context.Context, limit int) ([]models.CapacityForecast, bool)
	Set(ctx context.Context, limit int, data []models.CapacityForecast)
}

type forecastSlot struct {
	Data     []models.CapacityForecast `json:"data"`
	Limit    int                       `json:"limit"`
	StoredAt time.Time                 `json:"stored_at"`
}

// ProviderForecastCache stores a single overview slot in a cache.Provider.
type ProviderForecastCache struct {
	provider cache.Provider
	ttl      time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// NewProviderForecastCache wraps provider; a non-positive ttl uses the default.
func NewProviderForecastCache(provider cache.Provider, ttl time.Duration, logger *slog.Logger) *ProviderForecastCache {
	if provider == nil {
		provider = cache.NoopProvider{}
	}
	if ttl <= 0 {
		ttl = DefaultForecastCacheTTL
	}
	return &ProviderForecastCache{
		provider: provider,
		ttl:      ttl,
		logger:   utils.Component(logger, "forecast-cache"),
		now:      time.Now,
	}
}

func (c *ProviderForecastCache) Get(ctx context.Context, limit int) ([]models.CapacityForecast, bool) {
	payload, err := c.provider.Get(ctx, forecastCacheKey)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			c.logger.Warn("forecast cache read failed", "error", err)
		}
		return nil, false
	}

	var slot forecastSlot
	if err := json.Unmarshal(payload, &slot); err != nil {
		c.logger.Warn("forecast cache entry unreadable", "error", err)
		return nil, false
	}
	if slot.Limit < limit || c.now().Sub(slot.StoredAt) >= c.ttl {
		return nil, false
	}

	data := slot.Data
	if len(data) > limit {
		data = data[:limit]
	}
	return data, true
}

func (c *ProviderForecastCache) Set(ctx context.Context, limit int, data []models.CapacityForecast) {
	payload, err := json.Marshal(forecastSlot{Data: data, Limit: limit, StoredAt: c.now()})
	if err != nil {
		c.logger.Warn("forecast cache encode failed", "error", err)
		return
	}
	if err := c.provider.Set(ctx, forecastCacheKey, payload, c.ttl); err != nil {
		c.logger.Warn("forecast cache write failed", "error", err)
	}
}

type noopForecastCache struct{}

func (noopForecastCache) Get(context.Context, int) ([]models.CapacityForecast, bool) {
	return nil, false
}

func (noopForecastCache) Set(context.Context, int, []models.CapacityForecast) {}
