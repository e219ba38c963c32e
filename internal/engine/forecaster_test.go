package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kenhaesler/ai-portainer-dashboard-sub011/internal/cache"
	"github.com/kenhaesler/ai-portainer-dashboard-sub011/internal/models"
)

var forecastStart = time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)

func hourlyPoints(values ...float64) []models.MetricPoint {
	points := make([]models.MetricPoint, len(values))
	for i, v := range values {
		points[i] = models.MetricPoint{Timestamp: forecastStart.Add(time.Duration(i) * time.Hour), Value: v}
	}
	return points
}

func linearPoints(n int, start, step float64) []models.MetricPoint {
	values := make([]float64, n)
	for i := range values {
		values[i] = start + step*float64(i)
	}
	return hourlyPoints(values...)
}

func TestBuildForecastNeedsFivePoints(t *testing.T) {
	assert.Nil(t, BuildForecast(ForecastRequest{ContainerID: "c1"}, hourlyPoints(1, 2, 3, 4)))
	assert.NotNil(t, BuildForecast(ForecastRequest{ContainerID: "c1"}, hourlyPoints(1, 2, 3, 4, 5)))
}

func TestBuildForecastIncreasing(t *testing.T) {
	f := BuildForecast(ForecastRequest{ContainerID: "c1", ContainerName: "api", MetricType: models.MetricCPU}, linearPoints(6, 10, 2))
	require.NotNil(t, f)

	assert.Equal(t, models.TrendIncreasing, f.Trend)
	assert.InDelta(t, 2.0, f.Slope, 1e-9)
	assert.InDelta(t, 1.0, f.RSquared, 1e-9)
	assert.Equal(t, 20.0, f.CurrentValue)
	// Perfect fit but only six samples.
	assert.Equal(t, models.ConfidenceLow, f.Confidence)

	require.Len(t, f.ForecastPoints, 5+12)
	for i, p := range f.ForecastPoints {
		assert.Equal(t, i >= 5, p.Projected, "point %d", i)
	}
	assert.Equal(t, 12.0, f.ForecastPoints[0].Value)
	last := f.ForecastPoints[len(f.ForecastPoints)-1]
	assert.Equal(t, forecastStart.Add(5*time.Hour+24*time.Hour), last.Timestamp)
	assert.Equal(t, 68.0, last.Value)
	assert.Equal(t, 24.0, f.ForecastPoints[5].Value)

	require.NotNil(t, f.TimeToThresholdHours)
	assert.Equal(t, 35.0, *f.TimeToThresholdHours)
}

func TestBuildForecastClampsProjection(t *testing.T) {
	f := BuildForecast(ForecastRequest{Threshold: 99}, linearPoints(6, 60, 8))
	require.NotNil(t, f)
	for _, p := range f.ForecastPoints {
		if p.Projected {
			assert.LessOrEqual(t, p.Value, 100.0)
			assert.GreaterOrEqual(t, p.Value, 0.0)
		}
	}
	assert.Equal(t, 100.0, f.ForecastPoints[len(f.ForecastPoints)-1].Value)

	down := BuildForecast(ForecastRequest{}, linearPoints(6, 20, -4))
	require.NotNil(t, down)
	assert.Equal(t, models.TrendDecreasing, down.Trend)
	assert.Nil(t, down.TimeToThresholdHours)
	assert.Equal(t, 0.0, down.ForecastPoints[len(down.ForecastPoints)-1].Value)
}

func TestBuildForecastThresholdHorizon(t *testing.T) {
	// 0.2/h from 51.8 needs 191h to reach 90, beyond a week.
	far := BuildForecast(ForecastRequest{}, linearPoints(10, 50, 0.2))
	require.NotNil(t, far)
	assert.Equal(t, models.TrendIncreasing, far.Trend)
	assert.Nil(t, far.TimeToThresholdHours)

	above := BuildForecast(ForecastRequest{Threshold: 50}, linearPoints(10, 50, 1))
	require.NotNil(t, above)
	assert.Nil(t, above.TimeToThresholdHours)
}

func TestBuildForecastStableAndConfidence(t *testing.T) {
	flat := BuildForecast(ForecastRequest{}, hourlyPoints(40, 40, 40, 40, 40, 40))
	require.NotNil(t, flat)
	assert.Equal(t, models.TrendStable, flat.Trend)
	assert.Equal(t, 0.0, flat.RSquared)
	assert.Nil(t, flat.TimeToThresholdHours)

	high := BuildForecast(ForecastRequest{}, linearPoints(24, 10, 1))
	require.NotNil(t, high)
	assert.Equal(t, models.ConfidenceHigh, high.Confidence)

	medium := BuildForecast(ForecastRequest{}, linearPoints(12, 10, 1))
	require.NotNil(t, medium)
	assert.Equal(t, models.ConfidenceMedium, medium.Confidence)
}

func TestDownsampleKeepsEndpoints(t *testing.T) {
	points := linearPoints(100, 0, 1)
	sampled := Downsample(points, 10)
	require.Len(t, sampled, 10)
	assert.Equal(t, points[0], sampled[0])
	assert.Equal(t, points[99], sampled[9])
	for i := 1; i < len(sampled); i++ {
		assert.True(t, sampled[i].Timestamp.After(sampled[i-1].Timestamp))
	}
	assert.Equal(t, sampled, Downsample(points, 10))
	assert.Len(t, Downsample(points, 0), 100)
	assert.Len(t, Downsample(points[:3], 10), 3)
}

func TestForecastReadsStore(t *testing.T) {
	store := newFakeMetricStore()
	for _, p := range linearPoints(8, 30, 3) {
		store.add("c1", "api", models.MetricMemory, p.Timestamp, p.Value)
	}
	forecaster := NewForecaster(store, nil, ForecasterConfig{}, nil)

	f, err := forecaster.Forecast(context.Background(), ForecastRequest{ContainerID: "c1", ContainerName: "api", MetricType: models.MetricMemory})
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.Equal(t, models.TrendIncreasing, f.Trend)

	none, err := forecaster.Forecast(context.Background(), ForecastRequest{ContainerID: "c2", MetricType: models.MetricMemory})
	require.NoError(t, err)
	assert.Nil(t, none)

	store.err = errors.New("db down")
	_, err = forecaster.Forecast(context.Background(), ForecastRequest{ContainerID: "c1", MetricType: models.MetricMemory})
	assert.Error(t, err)
}

func seedFleet(store *fakeMetricStore) {
	// api: cpu rising fast, db: memory rising slowly, cache: flat cpu.
	for i, p := range linearPoints(8, 40, 5) {
		store.add("c-api", "api", models.MetricCPU, p.Timestamp, p.Value)
		store.add("c-db", "db", models.MetricMemory, p.Timestamp, 20+float64(i))
		store.add("c-cache", "cache", models.MetricCPU, p.Timestamp, 15)
	}
	store.add("c-new", "new", models.MetricCPU, forecastStart, 5)
}

func TestTopForecastsOrdering(t *testing.T) {
	store := newFakeMetricStore()
	seedFleet(store)
	forecaster := NewForecaster(store, nil, ForecasterConfig{Threshold: 90, HoursForward: 24, MaxPointsPerSeries: 60}, nil)

	top, err := forecaster.TopForecasts(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, top, 3)

	assert.Equal(t, "api", top[0].ContainerName)
	assert.Equal(t, models.TrendIncreasing, top[0].Trend)
	assert.Equal(t, "db", top[1].ContainerName)
	assert.Equal(t, models.TrendIncreasing, top[1].Trend)
	assert.Equal(t, "cache", top[2].ContainerName)
	assert.Equal(t, models.TrendStable, top[2].Trend)

	limited, err := forecaster.TopForecasts(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "api", limited[0].ContainerName)
}

func TestSortForecastsNilLast(t *testing.T) {
	ten, five := 10.0, 5.0
	forecasts := []models.CapacityForecast{
		{ContainerID: "stable", Trend: models.TrendStable},
		{ContainerID: "up-nil", Trend: models.TrendIncreasing},
		{ContainerID: "up-10", Trend: models.TrendIncreasing, TimeToThresholdHours: &ten},
		{ContainerID: "down", Trend: models.TrendDecreasing},
		{ContainerID: "up-5", Trend: models.TrendIncreasing, TimeToThresholdHours: &five},
	}
	SortForecasts(forecasts)

	ids := make([]string, 0, len(forecasts))
	for _, f := range forecasts {
		ids = append(ids, f.ContainerID)
	}
	assert.Equal(t, []string{"up-5", "up-10", "up-nil", "stable", "down"}, ids)
}

func TestTopForecastsUsesCache(t *testing.T) {
	store := newFakeMetricStore()
	seedFleet(store)
	provider := cache.NewMemoryProvider()
	t.Cleanup(func() { _ = provider.Close() })

	fc := NewProviderForecastCache(provider, time.Minute, nil)
	forecaster := NewForecaster(store, fc, ForecasterConfig{Threshold: 90, HoursForward: 24}, nil)
	ctx := context.Background()

	_, err := forecaster.TopForecasts(ctx, 5)
	require.NoError(t, err)
	fetches := store.fetches

	// A smaller limit is served from the slot computed for five.
	top, err := forecaster.TopForecasts(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, top, 2)
	assert.Equal(t, fetches, store.fetches)

	// A larger limit cannot be served from a slot computed for fewer entries.
	_, err = forecaster.TopForecasts(ctx, 6)
	require.NoError(t, err)
	assert.Greater(t, store.fetches, fetches)
}

func TestTopForecastsConcurrentCallers(t *testing.T) {
	store := newFakeMetricStore()
	seedFleet(store)
	forecaster := NewForecaster(store, nil, ForecasterConfig{Threshold: 90, HoursForward: 24}, nil)

	var wg sync.WaitGroup
	results := make([][]models.CapacityForecast, 8)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			top, err := forecaster.TopForecasts(context.Background(), 10)
			assert.NoError(t, err)
			results[i] = top
		}()
	}
	wg.Wait()
	for _, r := range results {
		assert.Equal(t, results[0], r)
	}
}

// gatedReader blocks the activity query until released or until the
// computation's own context ends.
type gatedReader struct {
	*fakeMetricStore
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedReader) ContainersWithRecentActivity(ctx context.Context, metric models.MetricType, hoursBack float64, minSamples, limit int) ([]models.ContainerRef, error) {
	g.once.Do(func() { close(g.started) })
	select {
	case <-g.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return g.fakeMetricStore.ContainersWithRecentActivity(ctx, metric, hoursBack, minSamples, limit)
}

func TestTopForecastsSurvivesCancelledFirstCaller(t *testing.T) {
	store := newFakeMetricStore()
	seedFleet(store)
	reader := &gatedReader{fakeMetricStore: store, started: make(chan struct{}), release: make(chan struct{})}
	forecaster := NewForecaster(reader, nil, ForecasterConfig{Threshold: 90, HoursForward: 24}, nil)

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := forecaster.TopForecasts(firstCtx, 10)
		firstErr <- err
	}()
	<-reader.started

	type outcome struct {
		top []models.CapacityForecast
		err error
	}
	second := make(chan outcome, 1)
	go func() {
		top, err := forecaster.TopForecasts(context.Background(), 10)
		second <- outcome{top, err}
	}()
	time.Sleep(50 * time.Millisecond)

	cancelFirst()
	select {
	case err := <-firstErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled caller did not return")
	}

	close(reader.release)
	select {
	case got := <-second:
		require.NoError(t, got.err)
		assert.NotEmpty(t, got.top)
	case <-time.After(2 * time.Second):
		t.Fatal("second caller did not return")
	}
}

func TestTopForecastsPropagatesActivityErrors(t *testing.T) {
	store := newFakeMetricStore()
	store.err = errors.New("db down")
	forecaster := NewForecaster(store, nil, ForecasterConfig{}, nil)

	_, err := forecaster.TopForecasts(context.Background(), 5)
	assert.Error(t, err)
}
