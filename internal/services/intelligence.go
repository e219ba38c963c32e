package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/kenhaesler/ai-portainer-dashboard-sub011/internal/api"
	"github.com/kenhaesler/ai-portainer-dashboard-sub011/internal/engine"
	"github.com/kenhaesler/ai-portainer-dashboard-sub011/internal/models"
	"github.com/kenhaesler/ai-portainer-dashboard-sub011/internal/patterns"
	"github.com/kenhaesler/ai-portainer-dashboard-sub011/internal/repo"
	"github.com/kenhaesler/ai-portainer-dashboard-sub011/internal/utils"
)

const (
	defaultRelatedLimit  = 10
	maxRelatedLimit      = 50
	maxTopForecasts      = 100
	similarityCandidates = 500
	// hours of history scanned by related and similar lookups
	defaultSimilarWindow = 24.0
)

// InsightReader is the insight store surface used by the API.
type InsightReader interface {
	ListInsights(ctx context.Context, filter repo.InsightFilter) ([]models.Insight, error)
	GetInsight(ctx context.Context, id string) (*models.Insight, error)
	AcknowledgeInsight(ctx context.Context, id string) error
}

// IncidentReader is the incident store surface used by the API.
type IncidentReader interface {
	ListIncidents(ctx context.Context, status models.IncidentStatus, limit int) ([]models.Incident, error)
	ResolveIncident(ctx context.Context, id string) (*models.Incident, error)
}

// IntelligenceConfig carries request defaults.
type IntelligenceConfig struct {
	RelatedThreshold  float64
	ForecastThreshold float64
	HoursBack         float64
	HoursForward      float64
}

// IntelligenceService implements the insights.v1.Intelligence gRPC service.
type IntelligenceService struct {
	api.UnimplementedIntelligenceServer

	logger     *slog.Logger
	detector   *engine.Detector
	correlator *engine.Correlator
	forecaster *engine.Forecaster
	insights   InsightReader
	incidents  IncidentReader
	monitor    *Monitor
	cfg        IntelligenceConfig
	now        func() time.Time
}

// NewIntelligenceService constructs the service facade. monitor may be nil when
// the periodic loop is disabled.
func NewIntelligenceService(
	logger *slog.Logger,
	detector *engine.Detector,
	correlator *engine.Correlator,
	forecaster *engine.Forecaster,
	insights InsightReader,
	incidents IncidentReader,
	monitor *Monitor,
	cfg IntelligenceConfig,
) *IntelligenceService {
	if cfg.RelatedThreshold <= 0 {
		cfg.RelatedThreshold = 0.3
	}
	return &IntelligenceService{
		logger:     utils.Component(logger, "intelligence"),
		detector:   detector,
		correlator: correlator,
		forecaster: forecaster,
		insights:   insights,
		incidents:  incidents,
		monitor:    monitor,
		cfg:        cfg,
		now:        time.Now,
	}
}

// CorrelateInsights groups a batch of insights into incidents.
func (s *IntelligenceService) CorrelateInsights(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if s.correlator == nil {
		return nil, status.Error(codes.FailedPrecondition, "correlator not configured")
	}
	var req api.CorrelateRequest
	if err := api.Decode(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	for i, insight := range req.Insights {
		if insight.ID == "" {
			return nil, status.Errorf(codes.InvalidArgument, "insights[%d]: id is required", i)
		}
	}

	s.logger.Debug("CorrelateInsights called", slog.Int("insights", len(req.Insights)))
	result := s.correlator.CorrelateInsights(ctx, req.Insights)
	return encode(result)
}

// Detect scores one value against its container baseline.
func (s *IntelligenceService) Detect(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if s.detector == nil {
		return nil, status.Error(codes.FailedPrecondition, "detector not configured")
	}
	var req api.DetectRequest
	if err := api.Decode(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if req.ContainerID == "" {
		return nil, status.Error(codes.InvalidArgument, "container_id is required")
	}
	if !req.MetricType.Valid() {
		return nil, status.Errorf(codes.InvalidArgument, "unknown metric_type %q", req.MetricType)
	}

	result, err := s.detector.Detect(ctx, req.ContainerID, req.ContainerName, req.MetricType, req.Value)
	if err != nil {
		return nil, s.statusFor("detect", err)
	}
	if result == nil {
		return encode(api.DetectResponse{InsufficientHistory: true})
	}
	view := api.NewAnomalyView(*result)
	return encode(api.DetectResponse{Result: &view})
}

// Forecast projects one container metric.
func (s *IntelligenceService) Forecast(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if s.forecaster == nil {
		return nil, status.Error(codes.FailedPrecondition, "forecaster not configured")
	}
	var req api.ForecastRequest
	if err := api.Decode(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if req.ContainerID == "" {
		return nil, status.Error(codes.InvalidArgument, "container_id is required")
	}
	if !req.MetricType.Valid() {
		return nil, status.Errorf(codes.InvalidArgument, "unknown metric_type %q", req.MetricType)
	}
	if req.Threshold <= 0 {
		req.Threshold = s.cfg.ForecastThreshold
	}
	if req.HoursBack <= 0 {
		req.HoursBack = s.cfg.HoursBack
	}
	if req.HoursForward <= 0 {
		req.HoursForward = s.cfg.HoursForward
	}

	forecast, err := s.forecaster.Forecast(ctx, engine.ForecastRequest{
		ContainerID:   req.ContainerID,
		ContainerName: req.ContainerName,
		MetricType:    req.MetricType,
		Threshold:     req.Threshold,
		HoursBack:     req.HoursBack,
		HoursForward:  req.HoursForward,
	})
	if err != nil {
		return nil, s.statusFor("forecast", err)
	}
	return encode(api.ForecastResponse{Forecast: forecast, InsufficientHistory: forecast == nil})
}

// TopForecasts returns the fleet capacity overview.
func (s *IntelligenceService) TopForecasts(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if s.forecaster == nil {
		return nil, status.Error(codes.FailedPrecondition, "forecaster not configured")
	}
	var req api.TopForecastsRequest
	if err := api.Decode(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if req.Limit < 0 || req.Limit > maxTopForecasts {
		return nil, status.Errorf(codes.InvalidArgument, "limit must be between 0 and %d", maxTopForecasts)
	}

	forecasts, err := s.forecaster.TopForecasts(ctx, req.Limit)
	if err != nil {
		return nil, s.statusFor("top forecasts", err)
	}
	return encode(api.TopForecastsResponse{Forecasts: forecasts})
}

// RelatedInsights ranks recent insights on the same endpoint by text similarity.
func (s *IntelligenceService) RelatedInsights(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if s.insights == nil {
		return nil, status.Error(codes.FailedPrecondition, "insight store not configured")
	}
	var req api.RelatedInsightsRequest
	if err := api.Decode(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if req.InsightID == "" {
		return nil, status.Error(codes.InvalidArgument, "insight_id is required")
	}
	threshold, err := s.threshold(req.Threshold)
	if err != nil {
		return nil, err
	}
	limit := req.Limit
	if limit <= 0 {
		limit = defaultRelatedLimit
	}
	if limit > maxRelatedLimit {
		limit = maxRelatedLimit
	}

	target, err := s.insights.GetInsight(ctx, req.InsightID)
	if err != nil {
		return nil, s.statusFor("get insight", err)
	}
	candidates, err := s.insights.ListInsights(ctx, repo.InsightFilter{
		EndpointID: target.EndpointID,
		Since:      utils.AddHours(target.CreatedAt, -defaultSimilarWindow),
		Limit:      similarityCandidates,
	})
	if err != nil {
		return nil, s.statusFor("list insights", err)
	}

	related := patterns.RelatedInsights(*target, candidates, threshold, limit)
	return encode(api.RelatedInsightsResponse{Insights: related})
}

// SimilarInsightGroups clusters recent insights whose text overlaps.
func (s *IntelligenceService) SimilarInsightGroups(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if s.insights == nil {
		return nil, status.Error(codes.FailedPrecondition, "insight store not configured")
	}
	var req api.SimilarGroupsRequest
	if err := api.Decode(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	threshold, err := s.threshold(req.Threshold)
	if err != nil {
		return nil, err
	}
	hours := req.SinceHours
	if hours <= 0 {
		hours = defaultSimilarWindow
	}
	limit := req.Limit
	if limit <= 0 || limit > similarityCandidates {
		limit = similarityCandidates
	}

	insights, err := s.insights.ListInsights(ctx, repo.InsightFilter{
		EndpointID: req.EndpointID,
		Since:      utils.AddHours(s.now(), -hours),
		Limit:      limit,
	})
	if err != nil {
		return nil, s.statusFor("list insights", err)
	}

	groups := patterns.FindSimilarInsights(insights, threshold)
	return encode(api.SimilarGroupsResponse{Groups: groups})
}

// AcknowledgeInsight marks an insight as seen.
func (s *IntelligenceService) AcknowledgeInsight(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if s.insights == nil {
		return nil, status.Error(codes.FailedPrecondition, "insight store not configured")
	}
	var req api.InsightRequest
	if err := api.Decode(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if req.ID == "" {
		return nil, status.Error(codes.InvalidArgument, "id is required")
	}
	if err := s.insights.AcknowledgeInsight(ctx, req.ID); err != nil {
		return nil, s.statusFor("acknowledge insight", err)
	}
	return encode(api.AcknowledgeResponse{ID: req.ID, Acknowledged: true})
}

// ListIncidents returns incidents, optionally filtered by status.
func (s *IntelligenceService) ListIncidents(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if s.incidents == nil {
		return nil, status.Error(codes.FailedPrecondition, "incident store not configured")
	}
	var req api.ListIncidentsRequest
	if err := api.Decode(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	switch req.Status {
	case "", models.IncidentActive, models.IncidentResolved:
	default:
		return nil, status.Errorf(codes.InvalidArgument, "unknown status %q", req.Status)
	}

	incidents, err := s.incidents.ListIncidents(ctx, req.Status, req.Limit)
	if err != nil {
		return nil, s.statusFor("list incidents", err)
	}
	return encode(api.ListIncidentsResponse{Incidents: incidents})
}

// ResolveIncident closes an incident so new anomalies open a fresh one.
func (s *IntelligenceService) ResolveIncident(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if s.incidents == nil {
		return nil, status.Error(codes.FailedPrecondition, "incident store not configured")
	}
	var req api.IncidentRequest
	if err := api.Decode(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if req.ID == "" {
		return nil, status.Error(codes.InvalidArgument, "id is required")
	}

	incident, err := s.incidents.ResolveIncident(ctx, req.ID)
	if err != nil {
		return nil, s.statusFor("resolve incident", err)
	}
	s.logger.Info("incident resolved", slog.String("incident_id", incident.ID))
	return encode(api.IncidentResponse{Incident: incident})
}

// HealthCheck returns the current health state.
func (s *IntelligenceService) HealthCheck(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	resp := api.HealthResponse{Status: "SERVING"}
	if s.monitor != nil {
		resp.CycleP95Ms = float64(s.monitor.LatencyP95()) / float64(time.Millisecond)
	}
	return encode(resp)
}

func (s *IntelligenceService) threshold(requested float64) (float64, error) {
	if requested == 0 {
		return s.cfg.RelatedThreshold, nil
	}
	if requested < 0 || requested > 1 {
		return 0, status.Error(codes.InvalidArgument, "threshold must be in (0,1]")
	}
	return requested, nil
}

func (s *IntelligenceService) statusFor(op string, err error) error {
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, op+" timed out")
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, op+" cancelled")
	}
	s.logger.Error(op+" failed", slog.Any("error", err))
	return status.Errorf(codes.Internal, "%s failed", op)
}

func encode(v any) (*structpb.Struct, error) {
	out, err := api.Encode(v)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}
