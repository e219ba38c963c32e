package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/kenhaesler/ai-portainer-dashboard-sub011/internal/metrics"
	"github.com/kenhaesler/ai-portainer-dashboard-sub011/internal/models"
	"github.com/kenhaesler/ai-portainer-dashboard-sub011/internal/utils"
)

const (
	minForecastPoints     = 5
	actualForecastPoints  = 5
	projectedPointCount   = 12
	stableSlope           = 0.1
	maxThresholdHorizonHr = 168.0
	forecastCeiling       = 100.0
	overviewTimeout       = 30 * time.Second
)

// Defaults applied to zero-valued forecast requests.
const (
	DefaultForecastThreshold    = 90.0
	DefaultForecastHoursBack    = 24.0
	DefaultForecastHoursForward = 24.0
)

// overviewMetrics are the metric types covered by the fleet overview.
var overviewMetrics = []models.MetricType{models.MetricCPU, models.MetricMemory}

// SeriesReader exposes the time-series queries the forecaster needs.
type SeriesReader interface {
	RecentSamples(ctx context.Context, containerID string, metricType models.MetricType, hoursBack float64) ([]models.MetricPoint, error)
	ContainersWithRecentActivity(ctx context.Context, metricType models.MetricType, hoursBack float64, minSamples, limit int) ([]models.ContainerRef, error)
}

// ForecastRequest selects one container metric to project. Zero numeric
// fields take the package defaults.
type ForecastRequest struct {
	ContainerID   string
	ContainerName string
	MetricType    models.MetricType
	Threshold     float64
	HoursBack     float64
	HoursForward  float64
}

func (r ForecastRequest) withDefaults() ForecastRequest {
	if r.Threshold <= 0 {
		r.Threshold = DefaultForecastThreshold
	}
	if r.HoursBack <= 0 {
		r.HoursBack = DefaultForecastHoursBack
	}
	if r.HoursForward <= 0 {
		r.HoursForward = DefaultForecastHoursForward
	}
	return r
}

// ForecasterConfig bounds the fleet overview computation.
type ForecasterConfig struct {
	Threshold          float64
	HoursForward       float64
	OverviewHoursBack  float64
	MaxPointsPerSeries int
	MaxContainers      int
	Concurrency        int
}

// Forecaster fits linear trends to container metrics.
type Forecaster struct {
	store  SeriesReader
	cache  ForecastCache
	cfg    ForecasterConfig
	logger *slog.Logger
	group  singleflight.Group
}

// NewForecaster wires a forecaster; a nil cache disables overview caching.
func NewForecaster(store SeriesReader, cache ForecastCache, cfg ForecasterConfig, logger *slog.Logger) *Forecaster {
	if cache == nil {
		cache = noopForecastCache{}
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.OverviewHoursBack <= 0 {
		cfg.OverviewHoursBack = 6
	}
	if cfg.MaxContainers <= 0 {
		cfg.MaxContainers = 50
	}
	return &Forecaster{
		store:  store,
		cache:  cache,
		cfg:    cfg,
		logger: utils.Component(logger, "forecaster"),
	}
}

// Forecast projects one container metric. It returns nil, nil when fewer than
// five samples fall inside the lookback window.
func (f *Forecaster) Forecast(ctx context.Context, req ForecastRequest) (*models.CapacityForecast, error) {
	req = req.withDefaults()
	points, err := f.store.RecentSamples(ctx, req.ContainerID, req.MetricType, req.HoursBack)
	if err != nil {
		return nil, fmt.Errorf("recent samples for %s/%s: %w", req.ContainerID, req.MetricType, err)
	}
	forecast := BuildForecast(req, points)
	if forecast == nil {
		f.logger.Debug("insufficient history for forecast",
			"container_id", req.ContainerID,
			"metric_type", req.MetricType,
			"samples", len(points),
		)
	}
	return forecast, nil
}

// TopForecasts returns up to limit forecasts across the fleet, rising trends
// first and nearest threshold crossing next. Results are cached briefly and
// concurrent callers share one computation. The shared computation is
// detached from any single caller's cancellation.
func (f *Forecaster) TopForecasts(ctx context.Context, limit int) ([]models.CapacityForecast, error) {
	if limit <= 0 {
		limit = 10
	}
	if cached, ok := f.cache.Get(ctx, limit); ok {
		metrics.ObserveForecastCache(true)
		f.logger.Debug("forecast overview served from cache", "limit", limit)
		return cached, nil
	}
	metrics.ObserveForecastCache(false)

	ch := f.group.DoChan(fmt.Sprintf("top:%d", limit), func() (any, error) {
		detached, cancel := context.WithTimeout(context.WithoutCancel(ctx), overviewTimeout)
		defer cancel()
		results, err := f.computeOverview(detached, limit)
		if err != nil {
			return nil, err
		}
		f.cache.Set(detached, limit, results)
		return results, nil
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-ch:
	}
	if res.Err != nil {
		return nil, res.Err
	}
	shared := res.Val.([]models.CapacityForecast)
	out := make([]models.CapacityForecast, len(shared))
	copy(out, shared)
	return out, nil
}

type seriesTask struct {
	ref    models.ContainerRef
	metric models.MetricType
}

func (f *Forecaster) computeOverview(ctx context.Context, limit int) ([]models.CapacityForecast, error) {
	tasks := make([]seriesTask, 0)
	for _, metric := range overviewMetrics {
		refs, err := f.store.ContainersWithRecentActivity(ctx, metric, f.cfg.OverviewHoursBack, minForecastPoints, f.cfg.MaxContainers)
		if err != nil {
			return nil, fmt.Errorf("active containers for %s: %w", metric, err)
		}
		for _, ref := range refs {
			tasks = append(tasks, seriesTask{ref: ref, metric: metric})
		}
	}

	forecasts := make([]*models.CapacityForecast, len(tasks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.cfg.Concurrency)
	for i, task := range tasks {
		g.Go(func() error {
			points, err := f.store.RecentSamples(gctx, task.ref.ContainerID, task.metric, f.cfg.OverviewHoursBack)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				f.logger.Warn("forecast series fetch failed",
					"container_id", task.ref.ContainerID,
					"metric_type", task.metric,
					"error", err,
				)
				return nil
			}
			forecasts[i] = BuildForecast(ForecastRequest{
				ContainerID:   task.ref.ContainerID,
				ContainerName: task.ref.ContainerName,
				MetricType:    task.metric,
				Threshold:     f.cfg.Threshold,
				HoursBack:     f.cfg.OverviewHoursBack,
				HoursForward:  f.cfg.HoursForward,
			}, Downsample(points, f.cfg.MaxPointsPerSeries))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	results := make([]models.CapacityForecast, 0, len(forecasts))
	for _, forecast := range forecasts {
		if forecast != nil {
			results = append(results, *forecast)
		}
	}
	SortForecasts(results)
	if len(results) > limit {
		results = results[:limit]
	}
	f.logger.Info("forecast overview computed", "series", len(tasks), "forecasts", len(results), "limit", limit)
	return results, nil
}

// SortForecasts orders increasing trends first, then by ascending time to
// threshold with unknown crossings last. Ties keep their input order.
func SortForecasts(forecasts []models.CapacityForecast) {
	sort.SliceStable(forecasts, func(i, j int) bool {
		a, b := forecasts[i], forecasts[j]
		aUp, bUp := a.Trend == models.TrendIncreasing, b.Trend == models.TrendIncreasing
		if aUp != bUp {
			return aUp
		}
		switch {
		case a.TimeToThresholdHours == nil:
			return false
		case b.TimeToThresholdHours == nil:
			return true
		default:
			return *a.TimeToThresholdHours < *b.TimeToThresholdHours
		}
	})
}

// BuildForecast fits ordinary least squares over points (ascending by time)
// and projects the fitted line forward. It returns nil for fewer than five points.
func BuildForecast(req ForecastRequest, points []models.MetricPoint) *models.CapacityForecast {
	req = req.withDefaults()
	n := len(points)
	if n < minForecastPoints {
		return nil
	}

	base := points[0].Timestamp
	xs := make([]float64, n)
	ys := make([]float64, n)
	for i, p := range points {
		xs[i] = utils.HoursSince(base, p.Timestamp)
		ys[i] = p.Value
	}
	fit := fitLine(xs, ys)

	last := points[n-1]
	current := last.Value

	forecast := &models.CapacityForecast{
		ContainerID:   req.ContainerID,
		ContainerName: req.ContainerName,
		MetricType:    req.MetricType,
		CurrentValue:  utils.Round(current, 2),
		Trend:         trendFor(fit.slope),
		Slope:         utils.Round(fit.slope, 4),
		RSquared:      utils.Round(fit.rSquared, 3),
		Confidence:    confidenceFor(fit.rSquared, n),
	}

	actual := points
	if len(actual) > actualForecastPoints {
		actual = actual[len(actual)-actualForecastPoints:]
	}
	forecast.ForecastPoints = make([]models.ForecastPoint, 0, len(actual)+projectedPointCount)
	for _, p := range actual {
		forecast.ForecastPoints = append(forecast.ForecastPoints, models.ForecastPoint{
			Timestamp: p.Timestamp,
			Value:     utils.Round(p.Value, 2),
		})
	}
	lastX := xs[n-1]
	for i := 1; i <= projectedPointCount; i++ {
		offset := req.HoursForward * float64(i) / projectedPointCount
		value := fit.intercept + fit.slope*(lastX+offset)
		forecast.ForecastPoints = append(forecast.ForecastPoints, models.ForecastPoint{
			Timestamp: utils.AddHours(last.Timestamp, offset),
			Value:     utils.Round(clamp(value, 0, forecastCeiling), 2),
			Projected: true,
		})
	}

	if fit.slope > 0 && current < req.Threshold {
		hours := (req.Threshold - current) / fit.slope
		if hours <= maxThresholdHorizonHr {
			rounded := utils.Round(hours, 1)
			forecast.TimeToThresholdHours = &rounded
		}
	}
	return forecast
}

// Downsample keeps at most maxPoints points chosen at a fixed stride, always
// including the first and last. maxPoints <= 0 disables downsampling.
func Downsample(points []models.MetricPoint, maxPoints int) []models.MetricPoint {
	if maxPoints <= 0 || len(points) <= maxPoints {
		return points
	}
	if maxPoints == 1 {
		return []models.MetricPoint{points[len(points)-1]}
	}
	stride := float64(len(points)-1) / float64(maxPoints-1)
	out := make([]models.MetricPoint, 0, maxPoints)
	for i := 0; i < maxPoints; i++ {
		out = append(out, points[int(math.Round(float64(i)*stride))])
	}
	return out
}

type lineFit struct {
	slope     float64
	intercept float64
	rSquared  float64
}

func fitLine(xs, ys []float64) lineFit {
	n := float64(len(xs))
	var sumX, sumY float64
	for i := range xs {
		sumX += xs[i]
		sumY += ys[i]
	}
	meanX, meanY := sumX/n, sumY/n

	var sxx, sxy float64
	for i := range xs {
		dx := xs[i] - meanX
		sxx += dx * dx
		sxy += dx * (ys[i] - meanY)
	}
	var slope float64
	if sxx != 0 {
		slope = sxy / sxx
	}
	intercept := meanY - slope*meanX

	var ssTot, ssRes float64
	for i := range xs {
		dy := ys[i] - meanY
		ssTot += dy * dy
		residual := ys[i] - (intercept + slope*xs[i])
		ssRes += residual * residual
	}
	var r2 float64
	if ssTot != 0 {
		r2 = math.Max(0, 1-ssRes/ssTot)
	}
	return lineFit{slope: slope, intercept: intercept, rSquared: r2}
}

func trendFor(slope float64) models.Trend {
	switch {
	case math.Abs(slope) < stableSlope:
		return models.TrendStable
	case slope > 0:
		return models.TrendIncreasing
	default:
		return models.TrendDecreasing
	}
}

func confidenceFor(r2 float64, samples int) models.Confidence {
	switch {
	case r2 > 0.7 && samples > 20:
		return models.ConfidenceHigh
	case r2 > 0.4 && samples > 10:
		return models.ConfidenceMedium
	default:
		return models.ConfidenceLow
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, v))
}
