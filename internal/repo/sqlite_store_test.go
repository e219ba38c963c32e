package repo

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kenhaesler/ai-portainer-dashboard-sub011/internal/models"
)

var storeNow = time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := OpenSQLiteStore(context.Background(), ":memory:", nil)
	require.NoError(t, err)
	store.now = func() time.Time { return storeNow }
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func sample(containerID string, metric models.MetricType, ago time.Duration, value float64) models.MetricSample {
	return models.MetricSample{
		EndpointID:    1,
		ContainerID:   containerID,
		ContainerName: containerID + "-name",
		MetricType:    metric,
		Value:         value,
		Timestamp:     storeNow.Add(-ago),
	}
}

func TestSQLiteMovingAverage(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	stats, err := store.MovingAverage(ctx, "c1", models.MetricCPU, 20)
	require.NoError(t, err)
	assert.Nil(t, stats)

	samples := []models.MetricSample{
		sample("c1", models.MetricCPU, 5*time.Minute, 100), // outside the window of 4
		sample("c1", models.MetricCPU, 4*time.Minute, 8),
		sample("c1", models.MetricCPU, 3*time.Minute, 12),
		sample("c1", models.MetricCPU, 2*time.Minute, 8),
		sample("c1", models.MetricCPU, 1*time.Minute, 12),
		sample("c1", models.MetricMemory, time.Minute, 999),
	}
	require.NoError(t, store.WriteSamples(ctx, samples))

	stats, err = store.MovingAverage(ctx, "c1", models.MetricCPU, 4)
	require.NoError(t, err)
	require.NotNil(t, stats)
	assert.Equal(t, 4, stats.SampleCount)
	assert.InDelta(t, 10.0, stats.Mean, 1e-9)
	assert.InDelta(t, 2.0, stats.StdDev, 1e-9)
}

func TestSQLiteRecentSamplesAndActivity(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	var samples []models.MetricSample
	for i := 0; i < 6; i++ {
		samples = append(samples, sample("busy", models.MetricCPU, time.Duration(i)*time.Hour, float64(i)))
		samples = append(samples, sample("busy", models.MetricMemory, time.Duration(i)*time.Minute, 50))
	}
	samples = append(samples,
		sample("quiet", models.MetricCPU, time.Minute, 1),
		sample("stale", models.MetricCPU, 48*time.Hour, 1),
	)
	require.NoError(t, store.WriteSamples(ctx, samples))

	points, err := store.RecentSamples(ctx, "busy", models.MetricCPU, 3.5)
	require.NoError(t, err)
	require.Len(t, points, 4)
	assert.True(t, points[0].Timestamp.Before(points[3].Timestamp))
	assert.Equal(t, 0.0, points[3].Value)
	assert.Equal(t, storeNow, points[3].Timestamp)

	refs, err := store.ContainersWithRecentActivity(ctx, models.MetricCPU, 24, 5, 10)
	require.NoError(t, err)
	assert.Equal(t, []models.ContainerRef{{ContainerID: "busy", ContainerName: "busy-name"}}, refs)

	refs, err = store.ContainersWithRecentActivity(ctx, models.MetricCPU, 72, 1, 0)
	require.NoError(t, err)
	assert.Len(t, refs, 3)

	refs, err = store.ContainersWithRecentActivity(ctx, models.MetricNetworkRxBytes, 24, 1, 10)
	require.NoError(t, err)
	assert.NotNil(t, refs)
	assert.Empty(t, refs)
}

func TestSQLiteLatestSamplesAndPrune(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, store.WriteSamples(ctx, []models.MetricSample{
		sample("c1", models.MetricCPU, 3*time.Minute, 10),
		sample("c1", models.MetricCPU, time.Minute, 20),
		sample("c1", models.MetricMemory, 2*time.Minute, 30),
		sample("c2", models.MetricCPU, time.Hour, 40),
	}))

	latest, err := store.LatestSamples(ctx, 10*time.Minute)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, models.MetricCPU, latest[0].MetricType)
	assert.Equal(t, 20.0, latest[0].Value)
	assert.Equal(t, models.MetricMemory, latest[1].MetricType)

	removed, err := store.PruneSamples(ctx, storeNow.Add(-30*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)
}

func TestSQLiteInsights(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	insights := []models.Insight{
		{
			ID: "i1", EndpointID: 1, EndpointName: "local", ContainerID: "c1", ContainerName: "api",
			MetricType: models.MetricCPU, Severity: models.SeverityCritical, Category: models.CategoryAnomaly,
			Title: "Anomalous cpu usage on api", Description: "z=4.2", SuggestedAction: "Scale out",
			CreatedAt: storeNow.Add(-2 * time.Minute),
		},
		{
			ID: "i2", EndpointID: 2, EndpointName: "edge", ContainerID: "c9", ContainerName: "db",
			Severity: models.SeverityWarning, Category: "security", Title: "Exposed port",
			CreatedAt: storeNow.Add(-time.Minute),
		},
	}
	require.NoError(t, store.InsertInsights(ctx, insights))
	// Re-inserting the same IDs is a no-op.
	require.NoError(t, store.InsertInsights(ctx, insights[:1]))

	all, err := store.ListInsights(ctx, InsightFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "i2", all[0].ID)
	assert.Equal(t, insights[0], all[1])

	anomalies, err := store.ListInsights(ctx, InsightFilter{Category: models.CategoryAnomaly, EndpointID: 1})
	require.NoError(t, err)
	require.Len(t, anomalies, 1)

	require.NoError(t, store.AcknowledgeInsight(ctx, "i1"))
	got, err := store.GetInsight(ctx, "i1")
	require.NoError(t, err)
	assert.True(t, got.IsAcknowledged)

	open, err := store.ListInsights(ctx, InsightFilter{UnacknowledgedOnly: true, Since: storeNow.Add(-time.Hour)})
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "i2", open[0].ID)

	_, err = store.GetInsight(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, store.AcknowledgeInsight(ctx, "missing"), ErrNotFound)

	assert.Error(t, store.InsertInsights(ctx, []models.Insight{{Title: "no id"}}))
}

func TestOpenSQLiteStoreOnDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "metrics.db")
	store, err := OpenSQLiteStore(context.Background(), path, nil)
	require.NoError(t, err)
	require.NoError(t, store.Ping(context.Background()))
	require.NoError(t, store.Close())
	assert.FileExists(t, path)
}
