package models

import "time"

// IncidentStatus is the lifecycle state of an incident.
type IncidentStatus string

const (
	IncidentActive   IncidentStatus = "active"
	IncidentResolved IncidentStatus = "resolved"
)

// CorrelationType names the rule that grouped an incident's insights.
type CorrelationType string

const (
	// CorrelationDedup groups several insights about the same container.
	CorrelationDedup CorrelationType = "dedup"
	// CorrelationCascade groups insights spread across containers with distinct metric types.
	CorrelationCascade CorrelationType = "cascade"
)

// Confidence grades how certain a correlation or forecast is.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Incident is a correlated group of insights believed to share a root cause.
type Incident struct {
	ID                    string          `json:"id" db:"id"`
	Title                 string          `json:"title" db:"title"`
	Severity              Severity        `json:"severity" db:"severity"`
	Status                IncidentStatus  `json:"status" db:"status"`
	RootCauseInsightID    string          `json:"root_cause_insight_id,omitempty" db:"root_cause_insight_id"`
	RelatedInsightIDs     []string        `json:"related_insight_ids" db:"related_insight_ids"`
	AffectedContainers    []string        `json:"affected_containers" db:"affected_containers"`
	AffectedContainerIDs  []string        `json:"affected_container_ids" db:"affected_container_ids"`
	EndpointID            int             `json:"endpoint_id" db:"endpoint_id"`
	EndpointName          string          `json:"endpoint_name" db:"endpoint_name"`
	CorrelationType       CorrelationType `json:"correlation_type" db:"correlation_type"`
	CorrelationConfidence Confidence      `json:"correlation_confidence" db:"correlation_confidence"`
	InsightCount          int             `json:"insight_count" db:"insight_count"`
	Summary               string          `json:"summary,omitempty" db:"summary"`
	CreatedAt             time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt             time.Time       `json:"updated_at" db:"updated_at"`
	ResolvedAt            *time.Time      `json:"resolved_at,omitempty" db:"resolved_at"`
}

// Covers reports whether the incident already references the insight.
func (i Incident) Covers(insightID string) bool {
	if insightID == "" {
		return false
	}
	if i.RootCauseInsightID == insightID {
		return true
	}
	for _, id := range i.RelatedInsightIDs {
		if id == insightID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so callers never share slices with a store.
func (i Incident) Clone() Incident {
	out := i
	out.RelatedInsightIDs = append([]string{}, i.RelatedInsightIDs...)
	out.AffectedContainers = append([]string{}, i.AffectedContainers...)
	out.AffectedContainerIDs = append([]string{}, i.AffectedContainerIDs...)
	if i.ResolvedAt != nil {
		resolved := *i.ResolvedAt
		out.ResolvedAt = &resolved
	}
	return out
}

// IncidentMember describes one insight being attached to an existing incident.
type IncidentMember struct {
	InsightID     string
	ContainerID   string
	ContainerName string
	Severity      Severity
}

// Apply folds the member into the incident, keeping ID and container sets unique.
// It returns false when the insight has no ID or was already part of the incident.
func (i *Incident) Apply(member IncidentMember, at time.Time) bool {
	if member.InsightID == "" || i.Covers(member.InsightID) {
		return false
	}
	i.RelatedInsightIDs = append(i.RelatedInsightIDs, member.InsightID)
	i.AffectedContainers = AppendUnique(i.AffectedContainers, member.ContainerName)
	i.AffectedContainerIDs = AppendUnique(i.AffectedContainerIDs, member.ContainerID)
	i.Severity = MaxSeverity(i.Severity, member.Severity)
	i.InsightCount++
	i.UpdatedAt = at
	return true
}

// AppendUnique appends non-empty values not already present in existing.
func AppendUnique(existing []string, additions ...string) []string {
	seen := make(map[string]struct{}, len(existing))
	for _, v := range existing {
		seen[v] = struct{}{}
	}
	for _, v := range additions {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		existing = append(existing, v)
	}
	return existing
}
