package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/kenhaesler/ai-portainer-dashboard-sub011/internal/metrics"
	"github.com/kenhaesler/ai-portainer-dashboard-sub011/internal/models"
	"github.com/kenhaesler/ai-portainer-dashboard-sub011/internal/utils"
)

// zeroVarianceEpsilon is the smallest deviation from a constant baseline that counts as a step change.
const zeroVarianceEpsilon = 1e-6

// MethodZScore labels results produced by the z-score detector.
const MethodZScore = "zscore"

// BaselineReader exposes the windowed statistics the detector needs.
type BaselineReader interface {
	MovingAverage(ctx context.Context, containerID string, metricType models.MetricType, windowSize int) (*models.BaselineStats, error)
}

// DetectorConfig tunes the anomaly detector.
type DetectorConfig struct {
	WindowSize      int
	MinSamples      int
	ZScoreThreshold float64
}

// Detector flags samples that deviate from their recent baseline.
type Detector struct {
	store  BaselineReader
	cfg    DetectorConfig
	logger *slog.Logger
	now    func() time.Time
}

// NewDetector wires a detector to its baseline source.
func NewDetector(store BaselineReader, cfg DetectorConfig, logger *slog.Logger) *Detector {
	return &Detector{
		store:  store,
		cfg:    cfg,
		logger: utils.Component(logger, "detector"),
		now:    time.Now,
	}
}

// Threshold returns the configured z-score threshold.
func (d *Detector) Threshold() float64 { return d.cfg.ZScoreThreshold }

// Detect scores currentValue against the latest window of history. It returns
// nil, nil when there is not enough history yet.
func (d *Detector) Detect(ctx context.Context, containerID, containerName string, metricType models.MetricType, currentValue float64) (*models.AnomalyResult, error) {
	stats, err := d.store.MovingAverage(ctx, containerID, metricType, d.cfg.WindowSize)
	if err != nil {
		return nil, fmt.Errorf("baseline for %s/%s: %w", containerID, metricType, err)
	}
	if stats == nil || stats.SampleCount < d.cfg.MinSamples {
		count := 0
		if stats != nil {
			count = stats.SampleCount
		}
		d.logger.Debug("insufficient history for detection",
			"container_id", containerID,
			"metric_type", metricType,
			"samples", count,
			"min_samples", d.cfg.MinSamples,
		)
		metrics.ObserveDetectionSkipped("insufficient_history")
		return nil, nil
	}

	zScore, anomalous := Score(*stats, currentValue, d.cfg.ZScoreThreshold)
	result := &models.AnomalyResult{
		ContainerID:   containerID,
		ContainerName: containerName,
		MetricType:    metricType,
		CurrentValue:  currentValue,
		Mean:          stats.Mean,
		StdDev:        stats.StdDev,
		ZScore:        utils.Round(zScore, 2),
		IsAnomalous:   anomalous,
		Threshold:     d.cfg.ZScoreThreshold,
		Timestamp:     d.now().UTC(),
		Method:        MethodZScore,
	}

	if anomalous {
		d.logger.Warn("anomaly detected",
			"container_id", containerID,
			"container_name", containerName,
			"metric_type", metricType,
			"value", currentValue,
			"mean", stats.Mean,
			"z_score", FormatZScore(result.ZScore),
		)
		metrics.ObserveAnomaly(string(metricType))
	}
	return result, nil
}

// Score computes the z-score of value against stats. A zero-variance baseline
// yields a signed infinity when the value moved by more than epsilon and 0 otherwise.
func Score(stats models.BaselineStats, value, threshold float64) (float64, bool) {
	delta := value - stats.Mean
	if stats.StdDev == 0 {
		if math.Abs(delta) > zeroVarianceEpsilon {
			return math.Inf(sign(delta)), true
		}
		return 0, false
	}
	z := delta / stats.StdDev
	return z, math.Abs(z) > threshold
}

// FormatZScore renders a z-score for persisted text, spelling out infinities.
func FormatZScore(z float64) string {
	switch {
	case math.IsInf(z, 1):
		return "+inf"
	case math.IsInf(z, -1):
		return "-inf"
	default:
		return fmt.Sprintf("%.2f", z)
	}
}

func sign(v float64) int {
	if v < 0 {
		return -1
	}
	return 1
}
