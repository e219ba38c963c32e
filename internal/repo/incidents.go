package repo

import (
	"context"

	"github.com/kenhaesler/ai-portainer-dashboard-sub011/internal/models"
)

// IncidentRepository is the full incident persistence surface: the writes the
// correlator needs plus the read and admin operations exposed over the API.
type IncidentRepository interface {
	InsertIncident(ctx context.Context, incident models.Incident) error
	FindActiveIncidentForContainer(ctx context.Context, endpointID int, containerID string) (*models.Incident, error)
	AddInsightToIncident(ctx context.Context, incidentID string, member models.IncidentMember) error
	GetIncident(ctx context.Context, id string) (*models.Incident, error)
	ListIncidents(ctx context.Context, status models.IncidentStatus, limit int) ([]models.Incident, error)
	ResolveIncident(ctx context.Context, id string) (*models.Incident, error)
	Close() error
}

const defaultIncidentListLimit = 50
