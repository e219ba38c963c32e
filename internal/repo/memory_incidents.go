package repo

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kenhaesler/ai-portainer-dashboard-sub011/internal/models"
)

// MemoryIncidentStore keeps incidents in process memory. Records are copied on
// every read and write so callers never share slices with the store.
type MemoryIncidentStore struct {
	mu        sync.RWMutex
	incidents map[string]models.Incident
	now       func() time.Time
}

// NewMemoryIncidentStore returns an empty store.
func NewMemoryIncidentStore() *MemoryIncidentStore {
	return &MemoryIncidentStore{
		incidents: make(map[string]models.Incident),
		now:       time.Now,
	}
}

func (s *MemoryIncidentStore) InsertIncident(_ context.Context, incident models.Incident) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.incidents[incident.ID]; exists {
		return fmt.Errorf("incident %s already exists", incident.ID)
	}
	s.incidents[incident.ID] = incident.Clone()
	return nil
}

func (s *MemoryIncidentStore) FindActiveIncidentForContainer(_ context.Context, endpointID int, containerID string) (*models.Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var found *models.Incident
	for _, incident := range s.incidents {
		if incident.Status != models.IncidentActive || incident.EndpointID != endpointID {
			continue
		}
		if !containsString(incident.AffectedContainerIDs, containerID) {
			continue
		}
		if found == nil || incident.CreatedAt.After(found.CreatedAt) {
			clone := incident.Clone()
			found = &clone
		}
	}
	return found, nil
}

func (s *MemoryIncidentStore) AddInsightToIncident(_ context.Context, incidentID string, member models.IncidentMember) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	incident, ok := s.incidents[incidentID]
	if !ok {
		return fmt.Errorf("incident %s: %w", incidentID, ErrNotFound)
	}
	incident = incident.Clone()
	if incident.Apply(member, s.now().UTC()) {
		s.incidents[incidentID] = incident
	}
	return nil
}

func (s *MemoryIncidentStore) GetIncident(_ context.Context, id string) (*models.Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	incident, ok := s.incidents[id]
	if !ok {
		return nil, fmt.Errorf("incident %s: %w", id, ErrNotFound)
	}
	clone := incident.Clone()
	return &clone, nil
}

// ListIncidents returns incidents newest first; an empty status lists all.
func (s *MemoryIncidentStore) ListIncidents(_ context.Context, status models.IncidentStatus, limit int) ([]models.Incident, error) {
	if limit <= 0 {
		limit = defaultIncidentListLimit
	}
	s.mu.RLock()
	out := make([]models.Incident, 0, len(s.incidents))
	for _, incident := range s.incidents {
		if status != "" && incident.Status != status {
			continue
		}
		out = append(out, incident.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ResolveIncident marks an incident resolved; resolving twice keeps the first resolution time.
func (s *MemoryIncidentStore) ResolveIncident(_ context.Context, id string) (*models.Incident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	incident, ok := s.incidents[id]
	if !ok {
		return nil, fmt.Errorf("incident %s: %w", id, ErrNotFound)
	}
	incident = incident.Clone()
	now := s.now().UTC()
	incident.Status = models.IncidentResolved
	incident.UpdatedAt = now
	if incident.ResolvedAt == nil {
		incident.ResolvedAt = &now
	}
	s.incidents[id] = incident
	clone := incident.Clone()
	return &clone, nil
}

func (s *MemoryIncidentStore) Close() error { return nil }

func containsString(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}
