package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kenhaesler/ai-portainer-dashboard-sub011/internal/metrics"
	"github.com/kenhaesler/ai-portainer-dashboard-sub011/internal/models"
	"github.com/kenhaesler/ai-portainer-dashboard-sub011/internal/utils"
)

const (
	minDedupInsights     = 2
	minCascadeContainers = 3
)

// IncidentStore is the persistence surface the correlator writes through.
type IncidentStore interface {
	InsertIncident(ctx context.Context, incident models.Incident) error
	FindActiveIncidentForContainer(ctx context.Context, endpointID int, containerID string) (*models.Incident, error)
	AddInsightToIncident(ctx context.Context, incidentID string, member models.IncidentMember) error
}

// CorrelatorConfig toggles optional correlator behaviour.
type CorrelatorConfig struct {
	SummaryEnabled bool
}

// CorrelationResult counts how a batch of insights was handled.
type CorrelationResult struct {
	IncidentsCreated  int `json:"incidents_created"`
	InsightsGrouped   int `json:"insights_grouped"`
	InsightsUngrouped int `json:"insights_ungrouped"`
}

// Correlator groups anomaly insights into incidents.
type Correlator struct {
	store      IncidentStore
	summarizer Summarizer
	cfg        CorrelatorConfig
	logger     *slog.Logger

	// mu serialises batches so the active-incident lookup and the following
	// insert cannot interleave with another batch for the same container.
	mu    sync.Mutex
	now   func() time.Time
	newID func() string
}

// NewCorrelator constructs a correlator; summarizer may be nil.
func NewCorrelator(store IncidentStore, summarizer Summarizer, cfg CorrelatorConfig, logger *slog.Logger) *Correlator {
	return &Correlator{
		store:      store,
		summarizer: summarizer,
		cfg:        cfg,
		logger:     utils.Component(logger, "correlator"),
		now:        time.Now,
		newID:      uuid.NewString,
	}
}

type containerBucket struct {
	containerID string
	insights    []models.Insight
}

type endpointPartition struct {
	endpointID   int
	endpointName string
	containers   []*containerBucket
}

// CorrelateInsights groups the batch into dedup and cascade incidents, extending
// active incidents where one already covers a container. Persistence failures are
// logged per group and leave that group's insights ungrouped.
func (c *Correlator) CorrelateInsights(ctx context.Context, insights []models.Insight) CorrelationResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	var result CorrelationResult
	partitions, skipped := partitionAnomalies(insights)
	result.InsightsUngrouped += skipped

	for i, partition := range partitions {
		if err := ctx.Err(); err != nil {
			c.logger.Warn("correlation cancelled", "error", err)
			result.InsightsUngrouped += countInsights(partitions[i:])
			break
		}
		c.correlateEndpoint(ctx, partition, &result)
	}

	c.logger.Info("correlation complete",
		"insights", len(insights),
		"incidents_created", result.IncidentsCreated,
		"grouped", result.InsightsGrouped,
		"ungrouped", result.InsightsUngrouped,
	)
	return result
}

func (c *Correlator) correlateEndpoint(ctx context.Context, partition *endpointPartition, result *CorrelationResult) {
	cascade := make([]*containerBucket, 0)

	for _, bucket := range partition.containers {
		existing, err := c.store.FindActiveIncidentForContainer(ctx, partition.endpointID, bucket.containerID)
		if err != nil {
			c.logger.Error("active incident lookup failed",
				"endpoint_id", partition.endpointID,
				"container_id", bucket.containerID,
				"error", err,
			)
			metrics.ObserveCorrelationFailure()
			result.InsightsUngrouped += len(bucket.insights)
			continue
		}
		if existing != nil {
			grouped := c.extendIncident(ctx, existing, bucket.insights)
			result.InsightsGrouped += grouped
			result.InsightsUngrouped += len(bucket.insights) - grouped
			continue
		}
		if len(bucket.insights) >= minDedupInsights {
			c.createIncident(ctx, partition, bucket.insights, models.CorrelationDedup, models.ConfidenceHigh, result)
			continue
		}
		cascade = append(cascade, bucket)
	}

	members := make([]models.Insight, 0, len(cascade))
	for _, bucket := range cascade {
		members = append(members, bucket.insights...)
	}
	if len(cascade) < minCascadeContainers || distinctMetricTypes(members) < 2 {
		result.InsightsUngrouped += len(members)
		return
	}

	confidence := models.ConfidenceMedium
	if len(members) >= 3 {
		confidence = models.ConfidenceHigh
	}
	c.createIncident(ctx, partition, members, models.CorrelationCascade, confidence, result)
}

func (c *Correlator) createIncident(ctx context.Context, partition *endpointPartition, insights []models.Insight, ct models.CorrelationType, confidence models.Confidence, result *CorrelationResult) {
	incident := c.buildIncident(ctx, partition, insights, ct, confidence)
	if err := c.store.InsertIncident(ctx, incident); err != nil {
		c.logger.Error("incident insert failed",
			"endpoint_id", partition.endpointID,
			"correlation_type", ct,
			"insights", len(insights),
			"error", err,
		)
		metrics.ObserveCorrelationFailure()
		result.InsightsUngrouped += len(insights)
		return
	}

	metrics.ObserveIncident(string(ct), metrics.ActionCreated)
	c.logger.Info("incident created",
		"incident_id", incident.ID,
		"correlation_type", ct,
		"confidence", confidence,
		"severity", incident.Severity,
		"containers", incident.AffectedContainers,
	)
	result.IncidentsCreated++
	result.InsightsGrouped += len(insights)
}

// extendIncident appends each insight to the existing incident and returns how
// many are now part of it.
func (c *Correlator) extendIncident(ctx context.Context, incident *models.Incident, insights []models.Insight) int {
	grouped := 0
	for _, insight := range insights {
		if incident.Covers(insight.ID) {
			grouped++
			continue
		}
		member := models.IncidentMember{
			InsightID:     insight.ID,
			ContainerID:   insight.ContainerID,
			ContainerName: insight.ContainerName,
			Severity:      insight.Severity,
		}
		if err := c.store.AddInsightToIncident(ctx, incident.ID, member); err != nil {
			c.logger.Error("incident extension failed",
				"incident_id", incident.ID,
				"insight_id", insight.ID,
				"error", err,
			)
			metrics.ObserveCorrelationFailure()
			continue
		}
		incident.Apply(member, c.now().UTC())
		metrics.ObserveIncident(string(incident.CorrelationType), metrics.ActionExtended)
		c.logger.Info("incident extended",
			"incident_id", incident.ID,
			"insight_id", insight.ID,
			"insight_count", incident.InsightCount,
		)
		grouped++
	}
	return grouped
}

func (c *Correlator) buildIncident(ctx context.Context, partition *endpointPartition, insights []models.Insight, ct models.CorrelationType, confidence models.Confidence) models.Incident {
	root := rootCause(insights)
	now := c.now().UTC()

	incident := models.Incident{
		ID:                    c.newID(),
		Status:                models.IncidentActive,
		RootCauseInsightID:    insights[root].ID,
		RelatedInsightIDs:     []string{},
		AffectedContainers:    []string{},
		AffectedContainerIDs:  []string{},
		EndpointID:            partition.endpointID,
		EndpointName:          partition.endpointName,
		CorrelationType:       ct,
		CorrelationConfidence: confidence,
		InsightCount:          len(insights),
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	for i, insight := range insights {
		incident.Severity = models.MaxSeverity(incident.Severity, insight.Severity)
		incident.AffectedContainers = models.AppendUnique(incident.AffectedContainers, insight.ContainerName)
		incident.AffectedContainerIDs = models.AppendUnique(incident.AffectedContainerIDs, insight.ContainerID)
		if i != root && insight.ID != incident.RootCauseInsightID {
			incident.RelatedInsightIDs = models.AppendUnique(incident.RelatedInsightIDs, insight.ID)
		}
	}

	incident.Title = incidentTitle(ct, insights[root].ContainerName, incident.AffectedContainers)
	incident.Summary = deterministicSummary(ct, insights, incident.AffectedContainers)
	if c.cfg.SummaryEnabled && c.summarizer != nil && len(insights) >= 2 {
		if summary, ok := c.summarizer.Summarize(ctx, insights, ct); ok {
			incident.Summary = summary
		}
	}
	return incident
}

// partitionAnomalies keeps anomaly insights, grouped by endpoint and then by
// container in first-appearance order. It returns the number of insights left out.
func partitionAnomalies(insights []models.Insight) ([]*endpointPartition, int) {
	skipped := 0
	partitions := make([]*endpointPartition, 0)
	byEndpoint := make(map[int]*endpointPartition)
	byContainer := make(map[int]map[string]*containerBucket)
	seen := make(map[string]struct{}, len(insights))

	for _, insight := range insights {
		if insight.Category != models.CategoryAnomaly {
			skipped++
			continue
		}
		if insight.ID == "" {
			skipped++
			continue
		}
		if _, dup := seen[insight.ID]; dup {
			skipped++
			continue
		}
		seen[insight.ID] = struct{}{}

		partition, ok := byEndpoint[insight.EndpointID]
		if !ok {
			partition = &endpointPartition{endpointID: insight.EndpointID, endpointName: insight.EndpointName}
			byEndpoint[insight.EndpointID] = partition
			byContainer[insight.EndpointID] = make(map[string]*containerBucket)
			partitions = append(partitions, partition)
		}
		if partition.endpointName == "" {
			partition.endpointName = insight.EndpointName
		}

		bucket, ok := byContainer[insight.EndpointID][insight.ContainerID]
		if !ok {
			bucket = &containerBucket{containerID: insight.ContainerID}
			byContainer[insight.EndpointID][insight.ContainerID] = bucket
			partition.containers = append(partition.containers, bucket)
		}
		bucket.insights = append(bucket.insights, insight)
	}
	return partitions, skipped
}

func countInsights(partitions []*endpointPartition) int {
	total := 0
	for _, partition := range partitions {
		for _, bucket := range partition.containers {
			total += len(bucket.insights)
		}
	}
	return total
}

// rootCause picks the most severe insight, then the earliest, then the first seen.
func rootCause(insights []models.Insight) int {
	best := 0
	for i := 1; i < len(insights); i++ {
		cand, cur := insights[i], insights[best]
		switch {
		case cand.Severity.Rank() > cur.Severity.Rank():
			best = i
		case cand.Severity.Rank() == cur.Severity.Rank() && cand.CreatedAt.Before(cur.CreatedAt):
			best = i
		}
	}
	return best
}

func distinctMetricTypes(insights []models.Insight) int {
	types := make(map[models.MetricType]struct{})
	for _, insight := range insights {
		if mt := InsightMetricType(insight); mt != "" {
			types[mt] = struct{}{}
		}
	}
	return len(types)
}

func incidentTitle(ct models.CorrelationType, rootContainer string, containers []string) string {
	if ct == models.CorrelationCascade {
		return "Cascading anomalies across " + strings.Join(containers, ", ")
	}
	if rootContainer == "" && len(containers) > 0 {
		rootContainer = containers[0]
	}
	return "Multiple anomalies on " + rootContainer
}

func deterministicSummary(ct models.CorrelationType, insights []models.Insight, containers []string) string {
	mix := severityMix(insights)
	if ct == models.CorrelationCascade {
		return fmt.Sprintf("%d related anomalies across %d containers (%s).", len(insights), len(containers), mix)
	}
	name := ""
	if len(containers) > 0 {
		name = containers[0]
	}
	return fmt.Sprintf("%d anomalies detected on %s (%s).", len(insights), name, mix)
}

func severityMix(insights []models.Insight) string {
	counts := make(map[models.Severity]int)
	for _, insight := range insights {
		counts[insight.Severity]++
	}
	parts := make([]string, 0, 3)
	for _, sev := range []models.Severity{models.SeverityCritical, models.SeverityWarning, models.SeverityInfo} {
		if counts[sev] > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", counts[sev], sev))
		}
	}
	if len(parts) == 0 {
		return "severity unknown"
	}
	return strings.Join(parts, ", ")
}
