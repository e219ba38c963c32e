package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/kenhaesler/ai-portainer-dashboard-sub011/internal/models"
	"github.com/kenhaesler/ai-portainer-dashboard-sub011/internal/utils"
)

const postgresIncidentSchema = `
CREATE TABLE IF NOT EXISTS incidents (
	id                     TEXT PRIMARY KEY,
	title                  TEXT        NOT NULL,
	severity               TEXT        NOT NULL,
	status                 TEXT        NOT NULL,
	root_cause_insight_id  TEXT,
	related_insight_ids    TEXT[]      NOT NULL DEFAULT '{}',
	affected_containers    TEXT[]      NOT NULL DEFAULT '{}',
	affected_container_ids TEXT[]      NOT NULL DEFAULT '{}',
	endpoint_id            INTEGER     NOT NULL,
	endpoint_name          TEXT        NOT NULL DEFAULT '',
	correlation_type       TEXT        NOT NULL,
	correlation_confidence TEXT        NOT NULL,
	insight_count          INTEGER     NOT NULL,
	summary                TEXT,
	created_at             TIMESTAMPTZ NOT NULL,
	updated_at             TIMESTAMPTZ NOT NULL,
	resolved_at            TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_incidents_endpoint_status ON incidents (endpoint_id, status);
CREATE INDEX IF NOT EXISTS idx_incidents_container_ids ON incidents USING GIN (affected_container_ids);
`

const incidentColumns = `id, title, severity, status, root_cause_insight_id, related_insight_ids,
	affected_containers, affected_container_ids, endpoint_id, endpoint_name, correlation_type,
	correlation_confidence, insight_count, summary, created_at, updated_at, resolved_at`

// PostgresIncidentStore persists incidents in PostgreSQL with native TEXT[] columns.
type PostgresIncidentStore struct {
	db     *sqlx.DB
	logger *slog.Logger
	now    func() time.Time
}

// OpenPostgresIncidentStore connects to dsn and ensures the schema exists.
func OpenPostgresIncidentStore(ctx context.Context, dsn string, logger *slog.Logger) (*PostgresIncidentStore, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, utils.NewAppError("postgres.Open", "connect", err)
	}
	if _, err := db.ExecContext(ctx, postgresIncidentSchema); err != nil {
		_ = db.Close()
		return nil, utils.NewAppError("postgres.Open", "apply schema", err)
	}
	return &PostgresIncidentStore{
		db:     db,
		logger: utils.Component(logger, "incident-store"),
		now:    time.Now,
	}, nil
}

func (s *PostgresIncidentStore) Close() error { return s.db.Close() }

type incidentRow struct {
	ID                    string         `db:"id"`
	Title                 string         `db:"title"`
	Severity              string         `db:"severity"`
	Status                string         `db:"status"`
	RootCauseInsightID    sql.NullString `db:"root_cause_insight_id"`
	RelatedInsightIDs     pq.StringArray `db:"related_insight_ids"`
	AffectedContainers    pq.StringArray `db:"affected_containers"`
	AffectedContainerIDs  pq.StringArray `db:"affected_container_ids"`
	EndpointID            int            `db:"endpoint_id"`
	EndpointName          string         `db:"endpoint_name"`
	CorrelationType       string         `db:"correlation_type"`
	CorrelationConfidence string         `db:"correlation_confidence"`
	InsightCount          int            `db:"insight_count"`
	Summary               sql.NullString `db:"summary"`
	CreatedAt             time.Time      `db:"created_at"`
	UpdatedAt             time.Time      `db:"updated_at"`
	ResolvedAt            pq.NullTime    `db:"resolved_at"`
}

func (r incidentRow) model() models.Incident {
	incident := models.Incident{
		ID:                    r.ID,
		Title:                 r.Title,
		Severity:              models.Severity(r.Severity),
		Status:                models.IncidentStatus(r.Status),
		RootCauseInsightID:    r.RootCauseInsightID.String,
		RelatedInsightIDs:     nonNil(r.RelatedInsightIDs),
		AffectedContainers:    nonNil(r.AffectedContainers),
		AffectedContainerIDs:  nonNil(r.AffectedContainerIDs),
		EndpointID:            r.EndpointID,
		EndpointName:          r.EndpointName,
		CorrelationType:       models.CorrelationType(r.CorrelationType),
		CorrelationConfidence: models.Confidence(r.CorrelationConfidence),
		InsightCount:          r.InsightCount,
		Summary:               r.Summary.String,
		CreatedAt:             r.CreatedAt.UTC(),
		UpdatedAt:             r.UpdatedAt.UTC(),
	}
	if r.ResolvedAt.Valid {
		resolved := r.ResolvedAt.Time.UTC()
		incident.ResolvedAt = &resolved
	}
	return incident
}

func (s *PostgresIncidentStore) InsertIncident(ctx context.Context, incident models.Incident) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO incidents (`+incidentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		incident.ID,
		incident.Title,
		string(incident.Severity),
		string(incident.Status),
		nullString(incident.RootCauseInsightID),
		pq.Array(nonNil(incident.RelatedInsightIDs)),
		pq.Array(nonNil(incident.AffectedContainers)),
		pq.Array(nonNil(incident.AffectedContainerIDs)),
		incident.EndpointID,
		incident.EndpointName,
		string(incident.CorrelationType),
		string(incident.CorrelationConfidence),
		incident.InsightCount,
		nullString(incident.Summary),
		incident.CreatedAt,
		incident.UpdatedAt,
		incident.ResolvedAt,
	)
	if err != nil {
		return utils.NewAppError("postgres.InsertIncident", "insert incident "+incident.ID, err)
	}
	return nil
}

func (s *PostgresIncidentStore) FindActiveIncidentForContainer(ctx context.Context, endpointID int, containerID string) (*models.Incident, error) {
	var row incidentRow
	err := s.db.GetContext(ctx, &row, `SELECT `+incidentColumns+` FROM incidents
		WHERE endpoint_id = $1 AND status = $2 AND $3 = ANY(affected_container_ids)
		ORDER BY created_at DESC
		LIMIT 1`, endpointID, string(models.IncidentActive), containerID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, utils.NewAppError("postgres.FindActiveIncidentForContainer", "query incident", err)
	}
	incident := row.model()
	return &incident, nil
}

// AddInsightToIncident locks the incident row, folds the member in and writes it back.
func (s *PostgresIncidentStore) AddInsightToIncident(ctx context.Context, incidentID string, member models.IncidentMember) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return utils.NewAppError("postgres.AddInsightToIncident", "begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	var row incidentRow
	err = tx.GetContext(ctx, &row, `SELECT `+incidentColumns+` FROM incidents WHERE id = $1 FOR UPDATE`, incidentID)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("incident %s: %w", incidentID, ErrNotFound)
	}
	if err != nil {
		return utils.NewAppError("postgres.AddInsightToIncident", "lock incident", err)
	}

	incident := row.model()
	if !incident.Apply(member, s.now().UTC()) {
		return nil
	}
	_, err = tx.ExecContext(ctx, `UPDATE incidents SET
			related_insight_ids = $2,
			affected_containers = $3,
			affected_container_ids = $4,
			severity = $5,
			insight_count = $6,
			updated_at = $7
		WHERE id = $1`,
		incidentID,
		pq.Array(incident.RelatedInsightIDs),
		pq.Array(incident.AffectedContainers),
		pq.Array(incident.AffectedContainerIDs),
		string(incident.Severity),
		incident.InsightCount,
		incident.UpdatedAt,
	)
	if err != nil {
		return utils.NewAppError("postgres.AddInsightToIncident", "update incident", err)
	}
	if err := tx.Commit(); err != nil {
		return utils.NewAppError("postgres.AddInsightToIncident", "commit", err)
	}
	return nil
}

func (s *PostgresIncidentStore) GetIncident(ctx context.Context, id string) (*models.Incident, error) {
	var row incidentRow
	err := s.db.GetContext(ctx, &row, `SELECT `+incidentColumns+` FROM incidents WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("incident %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, utils.NewAppError("postgres.GetIncident", "query incident", err)
	}
	incident := row.model()
	return &incident, nil
}

// ListIncidents returns incidents newest first; an empty status lists all.
func (s *PostgresIncidentStore) ListIncidents(ctx context.Context, status models.IncidentStatus, limit int) ([]models.Incident, error) {
	if limit <= 0 {
		limit = defaultIncidentListLimit
	}
	var rows []incidentRow
	err := s.db.SelectContext(ctx, &rows, `SELECT `+incidentColumns+` FROM incidents
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC, id
		LIMIT $2`, string(status), limit)
	if err != nil {
		return nil, utils.NewAppError("postgres.ListIncidents", "query incidents", err)
	}
	incidents := make([]models.Incident, 0, len(rows))
	for _, row := range rows {
		incidents = append(incidents, row.model())
	}
	return incidents, nil
}

// ResolveIncident marks an incident resolved; resolving twice keeps the first resolution time.
func (s *PostgresIncidentStore) ResolveIncident(ctx context.Context, id string) (*models.Incident, error) {
	var row incidentRow
	err := s.db.GetContext(ctx, &row, `UPDATE incidents SET
			status = $2,
			resolved_at = COALESCE(resolved_at, $3),
			updated_at = $3
		WHERE id = $1
		RETURNING `+incidentColumns, id, string(models.IncidentResolved), s.now().UTC())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("incident %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, utils.NewAppError("postgres.ResolveIncident", "update incident", err)
	}
	incident := row.model()
	s.logger.Info("incident resolved", "incident_id", id)
	return &incident, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
