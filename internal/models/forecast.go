package models

import "time"

// Trend is the direction of a fitted linear trend.
type Trend string

const (
	TrendIncreasing Trend = "increasing"
	TrendDecreasing Trend = "decreasing"
	TrendStable     Trend = "stable"
)

// ForecastPoint is either an observed sample or a projected value.
type ForecastPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
	Projected bool      `json:"projected"`
}

// CapacityForecast projects a container metric forward from its recent linear trend.
type CapacityForecast struct {
	ContainerID          string          `json:"container_id"`
	ContainerName        string          `json:"container_name"`
	MetricType           MetricType      `json:"metric_type"`
	CurrentValue         float64         `json:"current_value"`
	Trend                Trend           `json:"trend"`
	Slope                float64         `json:"slope"`
	RSquared             float64         `json:"r_squared"`
	ForecastPoints       []ForecastPoint `json:"forecast_points"`
	TimeToThresholdHours *float64        `json:"time_to_threshold_hours"`
	Confidence           Confidence      `json:"confidence"`
}
