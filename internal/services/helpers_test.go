package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kenhaesler/ai-portainer-dashboard-sub011/internal/engine"
	"github.com/kenhaesler/ai-portainer-dashboard-sub011/internal/models"
	"github.com/kenhaesler/ai-portainer-dashboard-sub011/internal/repo"
)

type testStack struct {
	store      *repo.SQLiteStore
	incidents  *repo.MemoryIncidentStore
	detector   *engine.Detector
	correlator *engine.Correlator
	forecaster *engine.Forecaster
}

func newTestStack(t *testing.T) *testStack {
	t.Helper()

	store, err := repo.OpenSQLiteStore(context.Background(), ":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	incidents := repo.NewMemoryIncidentStore()
	return &testStack{
		store:     store,
		incidents: incidents,
		detector: engine.NewDetector(store, engine.DetectorConfig{
			WindowSize:      30,
			MinSamples:      5,
			ZScoreThreshold: 2.5,
		}, nil),
		correlator: engine.NewCorrelator(incidents, nil, engine.CorrelatorConfig{}, nil),
		forecaster: engine.NewForecaster(store, nil, engine.ForecasterConfig{
			Threshold:          90,
			HoursForward:       24,
			OverviewHoursBack:  6,
			MaxPointsPerSeries: 60,
		}, nil),
	}
}

// writeSeries stores values one minute apart, ending one minute before now.
func writeSeries(t *testing.T, store *repo.SQLiteStore, endpointID int, containerID, name string, metric models.MetricType, values ...float64) {
	t.Helper()

	start := time.Now().Add(-time.Duration(len(values)+1) * time.Minute)
	samples := make([]models.MetricSample, 0, len(values))
	for i, v := range values {
		samples = append(samples, models.MetricSample{
			EndpointID:    endpointID,
			ContainerID:   containerID,
			ContainerName: name,
			MetricType:    metric,
			Value:         v,
			Timestamp:     start.Add(time.Duration(i) * time.Minute),
		})
	}
	require.NoError(t, store.WriteSamples(context.Background(), samples))
}

// alternating returns n values cycling between 10 and 12 followed by tail.
func alternating(n int, tail ...float64) []float64 {
	values := make([]float64, 0, n+len(tail))
	for i := 0; i < n; i++ {
		if i%2 == 0 {
			values = append(values, 10)
		} else {
			values = append(values, 12)
		}
	}
	return append(values, tail...)
}

func sequentialIDs(prefix string) func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("%s-%d", prefix, n)
	}
}
