package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kenhaesler/ai-portainer-dashboard-sub011/internal/engine"
	"github.com/kenhaesler/ai-portainer-dashboard-sub011/internal/metrics"
	"github.com/kenhaesler/ai-portainer-dashboard-sub011/internal/models"
	"github.com/kenhaesler/ai-portainer-dashboard-sub011/internal/utils"
)

const (
	pruneEvery      = time.Hour
	latencyLogEvery = 20
)

// SampleSource supplies the newest sample per container metric and handles retention.
type SampleSource interface {
	LatestSamples(ctx context.Context, maxAge time.Duration) ([]models.MetricSample, error)
	PruneSamples(ctx context.Context, olderThan time.Time) (int64, error)
}

// InsightWriter persists insights produced by a cycle.
type InsightWriter interface {
	InsertInsights(ctx context.Context, insights []models.Insight) error
}

// MonitorConfig tunes the periodic detection cycle.
type MonitorConfig struct {
	Interval      time.Duration
	CycleTimeout  time.Duration
	SampleMaxAge  time.Duration
	Retention     time.Duration
	Concurrency   int
	EndpointNames map[int]string
}

// CycleReport summarises one monitoring cycle.
type CycleReport struct {
	Samples     int                      `json:"samples"`
	Scored      int                      `json:"scored"`
	Anomalies   int                      `json:"anomalies"`
	Persisted   bool                     `json:"persisted"`
	Correlation engine.CorrelationResult `json:"correlation"`
	Duration    time.Duration            `json:"duration"`
}

// Monitor runs detection over the latest samples and feeds anomalies into the correlator.
type Monitor struct {
	samples    SampleSource
	insights   InsightWriter
	detector   *engine.Detector
	correlator *engine.Correlator
	rules      *engine.RuleEngine
	cfg        MonitorConfig
	logger     *slog.Logger
	latencies  *utils.LatencyTracker
	now        func() time.Time
	newID      func() string
	lastPrune  time.Time
	cycles     atomic.Int64
}

// NewMonitor wires the scheduler. rules may be nil.
func NewMonitor(samples SampleSource, insights InsightWriter, detector *engine.Detector, correlator *engine.Correlator, rules *engine.RuleEngine, cfg MonitorConfig, logger *slog.Logger) *Monitor {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	return &Monitor{
		samples:    samples,
		insights:   insights,
		detector:   detector,
		correlator: correlator,
		rules:      rules,
		cfg:        cfg,
		logger:     utils.Component(logger, "monitor"),
		latencies:  utils.NewLatencyTracker(256),
		now:        time.Now,
		newID:      uuid.NewString,
	}
}

// Run executes a cycle immediately and then on every interval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.Info("monitoring loop started", "interval", m.cfg.Interval, "cycle_timeout", m.cfg.CycleTimeout)
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		m.tick(ctx)
		select {
		case <-ctx.Done():
			m.logger.Info("monitoring loop stopped")
			return nil
		case <-ticker.C:
		}
	}
}

func (m *Monitor) tick(ctx context.Context) {
	cycleCtx := ctx
	if m.cfg.CycleTimeout > 0 {
		var cancel context.CancelFunc
		cycleCtx, cancel = context.WithTimeout(ctx, m.cfg.CycleTimeout)
		defer cancel()
	}

	report, err := m.RunCycle(cycleCtx)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		m.logger.Warn("monitoring cycle overran its deadline", "timeout", m.cfg.CycleTimeout, "scored", report.Scored, "anomalies", report.Anomalies)
	case err != nil && ctx.Err() == nil:
		m.logger.Error("monitoring cycle failed", "error", err)
	}

	m.prune(ctx)
}

// RunCycle scores every fresh sample, persists the anomalies as insights and
// correlates them. A context deadline stops the remaining work and is returned.
func (m *Monitor) RunCycle(ctx context.Context) (CycleReport, error) {
	start := m.now()
	report, err := m.runCycle(ctx)
	report.Duration = m.now().Sub(start)

	outcome := metrics.OutcomeSuccess
	if err != nil {
		outcome = metrics.OutcomeError
	}
	metrics.ObserveCycle(report.Duration, outcome)

	m.latencies.Observe(report.Duration)
	if n := m.cycles.Add(1); n%latencyLogEvery == 0 {
		m.logger.Info("monitoring cycle latency", "p95", m.latencies.Percentile(95), "cycles", n, "samples", m.latencies.Count())
	}

	if err == nil {
		m.logger.Info("monitoring cycle complete",
			"samples", report.Samples,
			"anomalies", report.Anomalies,
			"incidents_created", report.Correlation.IncidentsCreated,
			"duration", report.Duration,
		)
	}
	return report, err
}

func (m *Monitor) runCycle(ctx context.Context) (CycleReport, error) {
	var report CycleReport

	samples, err := m.samples.LatestSamples(ctx, m.cfg.SampleMaxAge)
	if err != nil {
		return report, fmt.Errorf("latest samples: %w", err)
	}
	report.Samples = len(samples)
	if len(samples) == 0 {
		return report, nil
	}

	results, err := m.detectAll(ctx, samples)
	for _, r := range results {
		if r != nil {
			report.Scored++
		}
	}
	if err != nil {
		return report, err
	}

	insights := make([]models.Insight, 0)
	for i, result := range results {
		if result == nil || !result.IsAnomalous {
			continue
		}
		insights = append(insights, m.buildInsight(samples[i], *result))
	}
	report.Anomalies = len(insights)
	if len(insights) == 0 {
		return report, nil
	}

	if err := m.insights.InsertInsights(ctx, insights); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return report, ctxErr
		}
		m.logger.Error("failed to persist insights", "count", len(insights), "error", err)
	} else {
		report.Persisted = true
	}

	if err := ctx.Err(); err != nil {
		return report, err
	}
	report.Correlation = m.correlator.CorrelateInsights(ctx, insights)
	return report, nil
}

// detectAll scores samples concurrently. Results are index-aligned with samples;
// a failed or skipped detection leaves a nil slot.
func (m *Monitor) detectAll(ctx context.Context, samples []models.MetricSample) ([]*models.AnomalyResult, error) {
	results := make([]*models.AnomalyResult, len(samples))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.Concurrency)
	for i, sample := range samples {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			result, err := m.detector.Detect(gctx, sample.ContainerID, sample.ContainerName, sample.MetricType, sample.Value)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				m.logger.Warn("detection failed", "container_id", sample.ContainerID, "metric_type", sample.MetricType, "error", err)
				return nil
			}
			results[i] = result
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, ctx.Err()
}

func (m *Monitor) buildInsight(sample models.MetricSample, result models.AnomalyResult) models.Insight {
	name := sample.ContainerName
	if name == "" {
		name = sample.ContainerID
	}

	severity := models.SeverityWarning
	if result.StepChange() || math.Abs(result.ZScore) >= 2*result.Threshold {
		severity = models.SeverityCritical
	}

	insight := models.Insight{
		ID:            m.newID(),
		EndpointID:    sample.EndpointID,
		EndpointName:  m.endpointName(sample.EndpointID),
		ContainerID:   sample.ContainerID,
		ContainerName: name,
		MetricType:    sample.MetricType,
		Severity:      severity,
		Category:      models.CategoryAnomaly,
		Title:         fmt.Sprintf("Anomalous %s usage on %s", sample.MetricType, name),
		Description: fmt.Sprintf(
			"Current %s value %.2f deviates from the recent mean %.2f (std dev %.2f, z-score %s, threshold %.1f).",
			sample.MetricType, result.CurrentValue, result.Mean, result.StdDev, engine.FormatZScore(result.ZScore), result.Threshold,
		),
		CreatedAt: m.now().UTC(),
	}
	insight.SuggestedAction = m.rules.SuggestedAction(insight)
	return insight
}

func (m *Monitor) endpointName(id int) string {
	if name, ok := m.cfg.EndpointNames[id]; ok && name != "" {
		return name
	}
	return fmt.Sprintf("endpoint-%d", id)
}

func (m *Monitor) prune(ctx context.Context) {
	if m.cfg.Retention <= 0 || ctx.Err() != nil {
		return
	}
	now := m.now()
	if !m.lastPrune.IsZero() && now.Sub(m.lastPrune) < pruneEvery {
		return
	}
	m.lastPrune = now

	if _, err := m.samples.PruneSamples(ctx, now.Add(-m.cfg.Retention)); err != nil {
		m.logger.Warn("sample retention failed", "error", err)
	}
}

// LatencyP95 returns the current p95 cycle latency.
func (m *Monitor) LatencyP95() time.Duration {
	if m.latencies == nil {
		return 0
	}
	return m.latencies.Percentile(95)
}
