package models

import (
	"math"
	"time"
)

// Severity captures the impact level of an insight or incident.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Rank orders severities: critical > warning > info. Unknown values rank lowest.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityWarning:
		return 2
	case SeverityInfo:
		return 1
	default:
		return 0
	}
}

// MaxSeverity returns the more severe of a and b.
func MaxSeverity(a, b Severity) Severity {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// CategoryAnomaly marks insights produced by statistical anomaly detection.
const CategoryAnomaly = "anomaly"

// Insight is a single detected condition about one container.
type Insight struct {
	ID              string     `json:"id"`
	EndpointID      int        `json:"endpoint_id"`
	EndpointName    string     `json:"endpoint_name"`
	ContainerID     string     `json:"container_id"`
	ContainerName   string     `json:"container_name"`
	MetricType      MetricType `json:"metric_type,omitempty"`
	Severity        Severity   `json:"severity"`
	Category        string     `json:"category"`
	Title           string     `json:"title"`
	Description     string     `json:"description"`
	SuggestedAction string     `json:"suggested_action,omitempty"`
	IsAcknowledged  bool       `json:"is_acknowledged"`
	CreatedAt       time.Time  `json:"created_at"`
}

// AnomalyResult is the ephemeral output of one detection call.
// ZScore is +/-Inf when the baseline has zero variance and the value moved;
// it must be formatted before it reaches persisted text.
type AnomalyResult struct {
	ContainerID   string     `json:"container_id"`
	ContainerName string     `json:"container_name"`
	MetricType    MetricType `json:"metric_type"`
	CurrentValue  float64    `json:"current_value"`
	Mean          float64    `json:"mean"`
	StdDev        float64    `json:"std_dev"`
	ZScore        float64    `json:"z_score"`
	IsAnomalous   bool       `json:"is_anomalous"`
	Threshold     float64    `json:"threshold"`
	Timestamp     time.Time  `json:"timestamp"`
	Method        string     `json:"method"`
}

// StepChange reports whether the result came from a zero-variance baseline.
func (r AnomalyResult) StepChange() bool {
	return math.IsInf(r.ZScore, 0)
}
