package api

import (
	"encoding/json"
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/kenhaesler/ai-portainer-dashboard-sub011/internal/engine"
	"github.com/kenhaesler/ai-portainer-dashboard-sub011/internal/models"
	"github.com/kenhaesler/ai-portainer-dashboard-sub011/internal/patterns"
)

// Encode converts a JSON-tagged value into a Struct message. A nil value yields an empty Struct.
func Encode(v any) (*structpb.Struct, error) {
	out := &structpb.Struct{Fields: map[string]*structpb.Value{}}
	if v == nil {
		return out, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	if err := protojson.Unmarshal(raw, out); err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return out, nil
}

// Decode fills out from a Struct message. A nil message leaves out untouched.
func Decode(in *structpb.Struct, out any) error {
	if in == nil {
		return nil
	}
	raw, err := protojson.Marshal(in)
	if err != nil {
		return fmt.Errorf("decode message: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode message: %w", err)
	}
	return nil
}

// CorrelateRequest carries a batch of insights to correlate.
type CorrelateRequest struct {
	Insights []models.Insight `json:"insights"`
}

// DetectRequest scores one value against its container's baseline.
type DetectRequest struct {
	ContainerID   string            `json:"container_id"`
	ContainerName string            `json:"container_name"`
	MetricType    models.MetricType `json:"metric_type"`
	Value         float64           `json:"value"`
}

// AnomalyView is the wire form of an AnomalyResult. Struct numbers cannot carry
// infinities, so a step change sets StepChange and leaves ZScore nil.
type AnomalyView struct {
	ContainerID   string            `json:"container_id"`
	ContainerName string            `json:"container_name"`
	MetricType    models.MetricType `json:"metric_type"`
	CurrentValue  float64           `json:"current_value"`
	Mean          float64           `json:"mean"`
	StdDev        float64           `json:"std_dev"`
	ZScore        *float64          `json:"z_score"`
	ZScoreText    string            `json:"z_score_text"`
	StepChange    bool              `json:"step_change"`
	IsAnomalous   bool              `json:"is_anomalous"`
	Threshold     float64           `json:"threshold"`
	Timestamp     time.Time         `json:"timestamp"`
	Method        string            `json:"method"`
}

// NewAnomalyView maps a detection result to its wire form.
func NewAnomalyView(r models.AnomalyResult) AnomalyView {
	view := AnomalyView{
		ContainerID:   r.ContainerID,
		ContainerName: r.ContainerName,
		MetricType:    r.MetricType,
		CurrentValue:  r.CurrentValue,
		Mean:          r.Mean,
		StdDev:        r.StdDev,
		ZScoreText:    engine.FormatZScore(r.ZScore),
		StepChange:    r.StepChange(),
		IsAnomalous:   r.IsAnomalous,
		Threshold:     r.Threshold,
		Timestamp:     r.Timestamp,
		Method:        r.Method,
	}
	if !view.StepChange {
		z := r.ZScore
		view.ZScore = &z
	}
	return view
}

// DetectResponse is empty with InsufficientHistory set when the baseline is too short.
type DetectResponse struct {
	Result              *AnomalyView `json:"result,omitempty"`
	InsufficientHistory bool         `json:"insufficient_history"`
}

// ForecastRequest asks for a single container forecast. Zero values take server defaults.
type ForecastRequest struct {
	ContainerID   string            `json:"container_id"`
	ContainerName string            `json:"container_name"`
	MetricType    models.MetricType `json:"metric_type"`
	Threshold     float64           `json:"threshold"`
	HoursBack     float64           `json:"hours_back"`
	HoursForward  float64           `json:"hours_forward"`
}

// ForecastResponse wraps one forecast.
type ForecastResponse struct {
	Forecast            *models.CapacityForecast `json:"forecast,omitempty"`
	InsufficientHistory bool                     `json:"insufficient_history"`
}

// TopForecastsRequest asks for the fleet overview.
type TopForecastsRequest struct {
	Limit int `json:"limit"`
}

// TopForecastsResponse lists the most urgent forecasts.
type TopForecastsResponse struct {
	Forecasts []models.CapacityForecast `json:"forecasts"`
}

// RelatedInsightsRequest looks up insights similar to InsightID.
type RelatedInsightsRequest struct {
	InsightID string  `json:"insight_id"`
	Threshold float64 `json:"threshold"`
	Limit     int     `json:"limit"`
}

// RelatedInsightsResponse lists scored matches, most similar first.
type RelatedInsightsResponse struct {
	Insights []patterns.ScoredInsight `json:"insights"`
}

// SimilarGroupsRequest groups recent insights by text similarity.
type SimilarGroupsRequest struct {
	EndpointID int     `json:"endpoint_id"`
	SinceHours float64 `json:"since_hours"`
	Threshold  float64 `json:"threshold"`
	Limit      int     `json:"limit"`
}

// SimilarGroupsResponse holds the groups found.
type SimilarGroupsResponse struct {
	Groups []patterns.InsightGroup `json:"groups"`
}

// InsightRequest identifies one insight.
type InsightRequest struct {
	ID string `json:"id"`
}

// AcknowledgeResponse confirms an acknowledgement.
type AcknowledgeResponse struct {
	ID           string `json:"id"`
	Acknowledged bool   `json:"acknowledged"`
}

// ListIncidentsRequest filters incidents by status.
type ListIncidentsRequest struct {
	Status models.IncidentStatus `json:"status"`
	Limit  int                   `json:"limit"`
}

// ListIncidentsResponse lists incidents newest first.
type ListIncidentsResponse struct {
	Incidents []models.Incident `json:"incidents"`
}

// IncidentRequest identifies one incident.
type IncidentRequest struct {
	ID string `json:"id"`
}

// IncidentResponse wraps one incident.
type IncidentResponse struct {
	Incident *models.Incident `json:"incident"`
}

// HealthResponse reports service readiness.
type HealthResponse struct {
	Status     string  `json:"status"`
	CycleP95Ms float64 `json:"cycle_p95_ms"`
}
