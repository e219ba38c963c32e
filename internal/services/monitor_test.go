package services

import (
	"bytes"
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kenhaesler/ai-portainer-dashboard-sub011/internal/engine"
	"github.com/kenhaesler/ai-portainer-dashboard-sub011/internal/models"
	"github.com/kenhaesler/ai-portainer-dashboard-sub011/internal/repo"
	"github.com/kenhaesler/ai-portainer-dashboard-sub011/internal/utils"
)

const testRules = `rules:
  - id: cpu-critical
    match:
      metric_type: cpu
      severity: critical
    recommendations:
      - Check for runaway processes in the container
  - id: memory
    match:
      metric_type: memory
    recommendations:
      - Review the container memory limit
`

func loadTestRules(t *testing.T) *engine.RuleEngine {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testRules), 0o600))
	rules, err := engine.NewRuleEngine(path, nil)
	require.NoError(t, err)
	return rules
}

func TestMonitorRunCycleDetectsPersistsAndCorrelates(t *testing.T) {
	stack := newTestStack(t)
	writeSeries(t, stack.store, 1, "c1", "web", models.MetricCPU, alternating(29, 100)...)
	writeSeries(t, stack.store, 1, "c1", "web", models.MetricMemory, alternating(10, 100)...)
	writeSeries(t, stack.store, 1, "c2", "db", models.MetricCPU, alternating(10, 11)...)
	writeSeries(t, stack.store, 1, "c3", "cache", models.MetricCPU, 10, 11, 12)

	monitor := NewMonitor(stack.store, stack.store, stack.detector, stack.correlator, loadTestRules(t), MonitorConfig{
		SampleMaxAge:  time.Hour,
		Concurrency:   2,
		EndpointNames: map[int]string{1: "production"},
	}, nil)
	monitor.newID = sequentialIDs("ins")

	report, err := monitor.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, report.Samples)
	assert.Equal(t, 3, report.Scored)
	assert.Equal(t, 2, report.Anomalies)
	assert.True(t, report.Persisted)
	assert.Equal(t, 1, report.Correlation.IncidentsCreated)
	assert.Equal(t, 2, report.Correlation.InsightsGrouped)

	insights, err := stack.store.ListInsights(context.Background(), repo.InsightFilter{})
	require.NoError(t, err)
	require.Len(t, insights, 2)

	byMetric := map[models.MetricType]models.Insight{}
	for _, insight := range insights {
		byMetric[insight.MetricType] = insight
	}
	cpu := byMetric[models.MetricCPU]
	assert.Equal(t, models.SeverityCritical, cpu.Severity)
	assert.Equal(t, "Anomalous cpu usage on web", cpu.Title)
	assert.Equal(t, "production", cpu.EndpointName)
	assert.Equal(t, models.CategoryAnomaly, cpu.Category)
	assert.Equal(t, "Check for runaway processes in the container", cpu.SuggestedAction)
	assert.Contains(t, cpu.Description, "z-score 5.")

	mem := byMetric[models.MetricMemory]
	assert.Equal(t, models.SeverityWarning, mem.Severity)
	assert.Equal(t, "Review the container memory limit", mem.SuggestedAction)

	incidents, err := stack.incidents.ListIncidents(context.Background(), models.IncidentActive, 0)
	require.NoError(t, err)
	require.Len(t, incidents, 1)
	assert.Equal(t, models.CorrelationDedup, incidents[0].CorrelationType)
	assert.Equal(t, models.SeverityCritical, incidents[0].Severity)
	assert.Equal(t, []string{"c1"}, incidents[0].AffectedContainerIDs)
}

func TestMonitorRunCycleExtendsActiveIncident(t *testing.T) {
	stack := newTestStack(t)
	writeSeries(t, stack.store, 1, "c1", "web", models.MetricCPU, alternating(29, 100)...)
	writeSeries(t, stack.store, 1, "c1", "web", models.MetricMemory, alternating(10, 100)...)

	monitor := NewMonitor(stack.store, stack.store, stack.detector, stack.correlator, nil, MonitorConfig{SampleMaxAge: time.Hour}, nil)
	monitor.newID = sequentialIDs("ins")

	_, err := monitor.RunCycle(context.Background())
	require.NoError(t, err)

	writeSeries(t, stack.store, 1, "c1", "web", models.MetricCPU, 400)
	report, err := monitor.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.Correlation.IncidentsCreated)

	incidents, err := stack.incidents.ListIncidents(context.Background(), "", 0)
	require.NoError(t, err)
	require.Len(t, incidents, 1)
	assert.GreaterOrEqual(t, incidents[0].InsightCount, 2)
}

func TestMonitorRunCycleNoSamples(t *testing.T) {
	stack := newTestStack(t)
	monitor := NewMonitor(stack.store, stack.store, stack.detector, stack.correlator, nil, MonitorConfig{SampleMaxAge: time.Hour}, nil)

	report, err := monitor.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Samples)
	assert.Zero(t, report.Anomalies)
}

type failingSamples struct{}

func (failingSamples) LatestSamples(context.Context, time.Duration) ([]models.MetricSample, error) {
	return nil, errors.New("disk gone")
}

func (failingSamples) PruneSamples(context.Context, time.Time) (int64, error) {
	return 0, errors.New("disk gone")
}

func TestMonitorRunCycleSourceFailure(t *testing.T) {
	stack := newTestStack(t)
	monitor := NewMonitor(failingSamples{}, stack.store, stack.detector, stack.correlator, nil, MonitorConfig{}, nil)

	_, err := monitor.RunCycle(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk gone")
}

type failingInsights struct{}

func (failingInsights) InsertInsights(context.Context, []models.Insight) error {
	return errors.New("insert failed")
}

func TestMonitorRunCycleCorrelatesWhenPersistFails(t *testing.T) {
	stack := newTestStack(t)
	writeSeries(t, stack.store, 1, "c1", "web", models.MetricCPU, alternating(29, 100)...)
	writeSeries(t, stack.store, 1, "c1", "web", models.MetricMemory, alternating(10, 100)...)

	monitor := NewMonitor(stack.store, failingInsights{}, stack.detector, stack.correlator, nil, MonitorConfig{SampleMaxAge: time.Hour}, nil)

	report, err := monitor.RunCycle(context.Background())
	require.NoError(t, err)
	assert.False(t, report.Persisted)
	assert.Equal(t, 1, report.Correlation.IncidentsCreated)
}

func TestMonitorRunCycleCancelled(t *testing.T) {
	stack := newTestStack(t)
	writeSeries(t, stack.store, 1, "c1", "web", models.MetricCPU, alternating(29, 100)...)
	monitor := NewMonitor(stack.store, stack.store, stack.detector, stack.correlator, nil, MonitorConfig{SampleMaxAge: time.Hour}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := monitor.RunCycle(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBuildInsightSeverity(t *testing.T) {
	monitor := NewMonitor(nil, nil, nil, nil, nil, MonitorConfig{}, nil)
	monitor.newID = sequentialIDs("ins")
	sample := models.MetricSample{EndpointID: 7, ContainerID: "c9", MetricType: models.MetricMemory, Value: 80}

	cases := []struct {
		name string
		z    float64
		want models.Severity
	}{
		{name: "above threshold", z: 3.5, want: models.SeverityWarning},
		{name: "double threshold", z: -6, want: models.SeverityCritical},
		{name: "step change", z: math.Inf(1), want: models.SeverityCritical},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			insight := monitor.buildInsight(sample, models.AnomalyResult{ZScore: tc.z, Threshold: 3, IsAnomalous: true, CurrentValue: 80})
			assert.Equal(t, tc.want, insight.Severity)
			assert.Equal(t, "c9", insight.ContainerName)
			assert.Equal(t, "endpoint-7", insight.EndpointName)
			assert.NotContains(t, insight.Description, "Inf")
		})
	}
}

type countingPruner struct {
	failingSamples
	calls int
}

func (c *countingPruner) PruneSamples(context.Context, time.Time) (int64, error) {
	c.calls++
	return 3, nil
}

func TestMonitorPruneIsThrottled(t *testing.T) {
	source := &countingPruner{}
	monitor := NewMonitor(source, nil, nil, nil, nil, MonitorConfig{Retention: time.Hour}, nil)
	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	monitor.now = func() time.Time { return now }

	monitor.prune(context.Background())
	monitor.prune(context.Background())
	assert.Equal(t, 1, source.calls)

	now = now.Add(2 * time.Hour)
	monitor.prune(context.Background())
	assert.Equal(t, 2, source.calls)
}

type emptySamples struct{}

func (emptySamples) LatestSamples(context.Context, time.Duration) ([]models.MetricSample, error) {
	return nil, nil
}

func (emptySamples) PruneSamples(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func TestMonitorLatencyLogKeepsCadence(t *testing.T) {
	var buf bytes.Buffer
	logger := utils.NewLoggerTo(&buf, "info", false)
	monitor := NewMonitor(emptySamples{}, nil, nil, nil, nil, MonitorConfig{}, logger)

	for range 1000 {
		_, err := monitor.RunCycle(context.Background())
		require.NoError(t, err)
	}

	assert.Equal(t, 50, strings.Count(buf.String(), "monitoring cycle latency"))
	assert.Contains(t, buf.String(), "cycles=1000")
}
