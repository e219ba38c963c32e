package engine

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/kenhaesler/ai-portainer-dashboard-sub011/internal/models"
)

type seriesKey struct {
	containerID string
	metric      models.MetricType
}

// fakeMetricStore keeps samples in memory and serves both reader interfaces.
type fakeMetricStore struct {
	mu      sync.Mutex
	series  map[seriesKey][]models.MetricPoint
	names   map[string]string
	order   []string
	fetches int
	err     error
}

func newFakeMetricStore() *fakeMetricStore {
	return &fakeMetricStore{
		series: make(map[seriesKey][]models.MetricPoint),
		names:  make(map[string]string),
	}
}

func (f *fakeMetricStore) add(containerID, name string, metric models.MetricType, ts time.Time, value float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.names[containerID]; !ok {
		f.order = append(f.order, containerID)
	}
	f.names[containerID] = name
	key := seriesKey{containerID, metric}
	f.series[key] = append(f.series[key], models.MetricPoint{Timestamp: ts, Value: value})
}

func (f *fakeMetricStore) MovingAverage(_ context.Context, containerID string, metric models.MetricType, window int) (*models.BaselineStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	points := f.series[seriesKey{containerID, metric}]
	if len(points) == 0 {
		return nil, nil
	}
	if len(points) > window {
		points = points[len(points)-window:]
	}
	var sum float64
	for _, p := range points {
		sum += p.Value
	}
	mean := sum / float64(len(points))
	var sq float64
	for _, p := range points {
		sq += (p.Value - mean) * (p.Value - mean)
	}
	return &models.BaselineStats{
		Mean:        mean,
		StdDev:      math.Sqrt(sq / float64(len(points))),
		SampleCount: len(points),
	}, nil
}

func (f *fakeMetricStore) RecentSamples(_ context.Context, containerID string, metric models.MetricType, _ float64) ([]models.MetricPoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if f.err != nil {
		return nil, f.err
	}
	return append([]models.MetricPoint(nil), f.series[seriesKey{containerID, metric}]...), nil
}

func (f *fakeMetricStore) ContainersWithRecentActivity(_ context.Context, metric models.MetricType, _ float64, minSamples, limit int) ([]models.ContainerRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	refs := make([]models.ContainerRef, 0)
	for _, id := range f.order {
		if len(f.series[seriesKey{id, metric}]) < minSamples {
			continue
		}
		refs = append(refs, models.ContainerRef{ContainerID: id, ContainerName: f.names[id]})
		if limit > 0 && len(refs) == limit {
			break
		}
	}
	return refs, nil
}

// fakeIncidentStore records incidents and can fail inserts for chosen containers.
type fakeIncidentStore struct {
	mu         sync.Mutex
	incidents  []models.Incident
	failInsert map[string]bool
	lookupErr  error
}

func newFakeIncidentStore() *fakeIncidentStore {
	return &fakeIncidentStore{failInsert: make(map[string]bool)}
}

func (f *fakeIncidentStore) InsertIncident(_ context.Context, incident models.Incident) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range incident.AffectedContainerIDs {
		if f.failInsert[id] {
			return errors.New("insert failed")
		}
	}
	f.incidents = append(f.incidents, incident.Clone())
	return nil
}

func (f *fakeIncidentStore) FindActiveIncidentForContainer(_ context.Context, endpointID int, containerID string) (*models.Incident, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lookupErr != nil {
		return nil, f.lookupErr
	}
	for _, incident := range f.incidents {
		if incident.Status != models.IncidentActive || incident.EndpointID != endpointID {
			continue
		}
		for _, id := range incident.AffectedContainerIDs {
			if id == containerID {
				clone := incident.Clone()
				return &clone, nil
			}
		}
	}
	return nil, nil
}

func (f *fakeIncidentStore) AddInsightToIncident(_ context.Context, incidentID string, member models.IncidentMember) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.incidents {
		if f.incidents[i].ID == incidentID {
			f.incidents[i].Apply(member, time.Now().UTC())
			return nil
		}
	}
	return errors.New("incident not found")
}

func (f *fakeIncidentStore) all() []models.Incident {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Incident, 0, len(f.incidents))
	for _, incident := range f.incidents {
		out = append(out, incident.Clone())
	}
	return out
}

type fakeGenerator struct {
	text   string
	err    error
	panics bool
	calls  int
	prompt string
	system string
}

func (f *fakeGenerator) Generate(_ context.Context, prompt, systemPrompt string) (string, error) {
	f.calls++
	f.prompt = prompt
	f.system = systemPrompt
	if f.panics {
		panic("generator exploded")
	}
	return f.text, f.err
}
