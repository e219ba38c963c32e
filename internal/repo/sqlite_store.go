package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/kenhaesler/ai-portainer-dashboard-sub011/internal/models"
	"github.com/kenhaesler/ai-portainer-dashboard-sub011/internal/utils"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS metrics (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	endpoint_id    INTEGER NOT NULL,
	container_id   TEXT    NOT NULL,
	container_name TEXT    NOT NULL,
	metric_type    TEXT    NOT NULL,
	value          REAL    NOT NULL,
	timestamp      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_metrics_series ON metrics (container_id, metric_type, timestamp);
CREATE INDEX IF NOT EXISTS idx_metrics_timestamp ON metrics (timestamp);

CREATE TABLE IF NOT EXISTS insights (
	id               TEXT PRIMARY KEY,
	endpoint_id      INTEGER NOT NULL,
	endpoint_name    TEXT    NOT NULL DEFAULT '',
	container_id     TEXT    NOT NULL DEFAULT '',
	container_name   TEXT    NOT NULL DEFAULT '',
	metric_type      TEXT    NOT NULL DEFAULT '',
	severity         TEXT    NOT NULL,
	category         TEXT    NOT NULL,
	title            TEXT    NOT NULL,
	description      TEXT    NOT NULL DEFAULT '',
	suggested_action TEXT    NOT NULL DEFAULT '',
	is_acknowledged  INTEGER NOT NULL DEFAULT 0,
	created_at       INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_insights_created ON insights (created_at);
`

// SQLiteStore persists metric samples and insights in one SQLite database.
type SQLiteStore struct {
	db     *sqlx.DB
	logger *slog.Logger
	now    func() time.Time
}

// OpenSQLiteStore opens (creating if needed) the database at path and applies
// the schema. ":memory:" opens a private in-memory database.
func OpenSQLiteStore(ctx context.Context, path string, logger *slog.Logger) (*SQLiteStore, error) {
	dsn := ":memory:"
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, utils.NewAppError("sqlite.Open", "create data directory", err)
			}
		}
		dsn = "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}

	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, utils.NewAppError("sqlite.Open", "open database", err)
	}
	// A single connection keeps in-memory databases shared and serialises writers.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, utils.NewAppError("sqlite.Open", "apply schema", err)
	}

	return &SQLiteStore{
		db:     db,
		logger: utils.Component(logger, "sqlite-store"),
		now:    time.Now,
	}, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// WriteSamples appends samples in a single transaction.
func (s *SQLiteStore) WriteSamples(ctx context.Context, samples []models.MetricSample) error {
	if len(samples) == 0 {
		return nil
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return utils.NewAppError("sqlite.WriteSamples", "begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PreparexContext(ctx, `INSERT INTO metrics
		(endpoint_id, container_id, container_name, metric_type, value, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return utils.NewAppError("sqlite.WriteSamples", "prepare insert", err)
	}
	defer stmt.Close()

	for _, sample := range samples {
		if _, err := stmt.ExecContext(ctx,
			sample.EndpointID,
			sample.ContainerID,
			sample.ContainerName,
			string(sample.MetricType),
			sample.Value,
			sample.Timestamp.UnixMilli(),
		); err != nil {
			return utils.NewAppError("sqlite.WriteSamples", "insert sample", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return utils.NewAppError("sqlite.WriteSamples", "commit", err)
	}
	return nil
}

// MovingAverage returns the population mean and standard deviation of the
// latest windowSize samples, or nil when the series is empty.
func (s *SQLiteStore) MovingAverage(ctx context.Context, containerID string, metricType models.MetricType, windowSize int) (*models.BaselineStats, error) {
	if windowSize <= 0 {
		return nil, nil
	}
	var values []float64
	err := s.db.SelectContext(ctx, &values, `SELECT value FROM metrics
		WHERE container_id = ? AND metric_type = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?`, containerID, string(metricType), windowSize)
	if err != nil {
		return nil, utils.NewAppError("sqlite.MovingAverage", "query window", err)
	}
	if len(values) == 0 {
		return nil, nil
	}

	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	var sq float64
	for _, v := range values {
		sq += (v - mean) * (v - mean)
	}
	return &models.BaselineStats{
		Mean:        mean,
		StdDev:      math.Sqrt(sq / float64(len(values))),
		SampleCount: len(values),
	}, nil
}

type pointRow struct {
	Timestamp int64   `db:"timestamp"`
	Value     float64 `db:"value"`
}

// RecentSamples returns the samples of the last hoursBack hours, oldest first.
func (s *SQLiteStore) RecentSamples(ctx context.Context, containerID string, metricType models.MetricType, hoursBack float64) ([]models.MetricPoint, error) {
	var rows []pointRow
	err := s.db.SelectContext(ctx, &rows, `SELECT timestamp, value FROM metrics
		WHERE container_id = ? AND metric_type = ? AND timestamp >= ?
		ORDER BY timestamp ASC, id ASC`, containerID, string(metricType), s.cutoff(hoursBack))
	if err != nil {
		return nil, utils.NewAppError("sqlite.RecentSamples", "query series", err)
	}
	points := make([]models.MetricPoint, 0, len(rows))
	for _, row := range rows {
		points = append(points, models.MetricPoint{Timestamp: fromMillis(row.Timestamp), Value: row.Value})
	}
	return points, nil
}

type refRow struct {
	ContainerID   string `db:"container_id"`
	ContainerName string `db:"container_name"`
}

// ContainersWithRecentActivity lists containers with at least minSamples
// samples of metricType in the last hoursBack hours.
func (s *SQLiteStore) ContainersWithRecentActivity(ctx context.Context, metricType models.MetricType, hoursBack float64, minSamples, limit int) ([]models.ContainerRef, error) {
	if limit <= 0 {
		limit = -1
	}
	var rows []refRow
	err := s.db.SelectContext(ctx, &rows, `SELECT container_id, MAX(container_name) AS container_name
		FROM metrics
		WHERE metric_type = ? AND timestamp >= ?
		GROUP BY container_id
		HAVING COUNT(*) >= ?
		ORDER BY container_name, container_id
		LIMIT ?`, string(metricType), s.cutoff(hoursBack), minSamples, limit)
	if err != nil {
		return nil, utils.NewAppError("sqlite.ContainersWithRecentActivity", "query containers", err)
	}
	refs := make([]models.ContainerRef, 0, len(rows))
	for _, row := range rows {
		refs = append(refs, models.ContainerRef{ContainerID: row.ContainerID, ContainerName: row.ContainerName})
	}
	return refs, nil
}

type sampleRow struct {
	ID            int64   `db:"id"`
	EndpointID    int     `db:"endpoint_id"`
	ContainerID   string  `db:"container_id"`
	ContainerName string  `db:"container_name"`
	MetricType    string  `db:"metric_type"`
	Value         float64 `db:"value"`
	Timestamp     int64   `db:"timestamp"`
}

// LatestSamples returns the newest sample per container and metric type that
// is no older than maxAge.
func (s *SQLiteStore) LatestSamples(ctx context.Context, maxAge time.Duration) ([]models.MetricSample, error) {
	since := s.now().Add(-maxAge).UnixMilli()
	var rows []sampleRow
	err := s.db.SelectContext(ctx, &rows, `SELECT m.id, m.endpoint_id, m.container_id, m.container_name,
			m.metric_type, m.value, m.timestamp
		FROM metrics m
		JOIN (
			SELECT container_id, metric_type, MAX(timestamp) AS ts
			FROM metrics
			WHERE timestamp >= ?
			GROUP BY container_id, metric_type
		) latest
		ON m.container_id = latest.container_id
			AND m.metric_type = latest.metric_type
			AND m.timestamp = latest.ts
		ORDER BY m.endpoint_id, m.container_id, m.metric_type, m.id`, since)
	if err != nil {
		return nil, utils.NewAppError("sqlite.LatestSamples", "query latest samples", err)
	}

	samples := make([]models.MetricSample, 0, len(rows))
	index := make(map[string]int, len(rows))
	for _, row := range rows {
		sample := models.MetricSample{
			EndpointID:    row.EndpointID,
			ContainerID:   row.ContainerID,
			ContainerName: row.ContainerName,
			MetricType:    models.MetricType(row.MetricType),
			Value:         row.Value,
			Timestamp:     fromMillis(row.Timestamp),
		}
		key := row.ContainerID + "\x00" + row.MetricType
		if i, ok := index[key]; ok {
			// Same timestamp written twice: the later row wins.
			samples[i] = sample
			continue
		}
		index[key] = len(samples)
		samples = append(samples, sample)
	}
	return samples, nil
}

// PruneSamples deletes samples older than olderThan and reports how many were removed.
func (s *SQLiteStore) PruneSamples(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM metrics WHERE timestamp < ?`, olderThan.UnixMilli())
	if err != nil {
		return 0, utils.NewAppError("sqlite.PruneSamples", "delete samples", err)
	}
	removed, _ := res.RowsAffected()
	if removed > 0 {
		s.logger.Info("pruned metric samples", "removed", removed, "older_than", olderThan)
	}
	return removed, nil
}

type insightRow struct {
	ID              string `db:"id"`
	EndpointID      int    `db:"endpoint_id"`
	EndpointName    string `db:"endpoint_name"`
	ContainerID     string `db:"container_id"`
	ContainerName   string `db:"container_name"`
	MetricType      string `db:"metric_type"`
	Severity        string `db:"severity"`
	Category        string `db:"category"`
	Title           string `db:"title"`
	Description     string `db:"description"`
	SuggestedAction string `db:"suggested_action"`
	IsAcknowledged  bool   `db:"is_acknowledged"`
	CreatedAt       int64  `db:"created_at"`
}

func newInsightRow(insight models.Insight) insightRow {
	return insightRow{
		ID:              insight.ID,
		EndpointID:      insight.EndpointID,
		EndpointName:    insight.EndpointName,
		ContainerID:     insight.ContainerID,
		ContainerName:   insight.ContainerName,
		MetricType:      string(insight.MetricType),
		Severity:        string(insight.Severity),
		Category:        insight.Category,
		Title:           insight.Title,
		Description:     insight.Description,
		SuggestedAction: insight.SuggestedAction,
		IsAcknowledged:  insight.IsAcknowledged,
		CreatedAt:       insight.CreatedAt.UnixMilli(),
	}
}

func (r insightRow) model() models.Insight {
	return models.Insight{
		ID:              r.ID,
		EndpointID:      r.EndpointID,
		EndpointName:    r.EndpointName,
		ContainerID:     r.ContainerID,
		ContainerName:   r.ContainerName,
		MetricType:      models.MetricType(r.MetricType),
		Severity:        models.Severity(r.Severity),
		Category:        r.Category,
		Title:           r.Title,
		Description:     r.Description,
		SuggestedAction: r.SuggestedAction,
		IsAcknowledged:  r.IsAcknowledged,
		CreatedAt:       fromMillis(r.CreatedAt),
	}
}

const insightColumns = `id, endpoint_id, endpoint_name, container_id, container_name, metric_type,
	severity, category, title, description, suggested_action, is_acknowledged, created_at`

// InsertInsights stores insights in one transaction; IDs already present are left untouched.
func (s *SQLiteStore) InsertInsights(ctx context.Context, insights []models.Insight) error {
	if len(insights) == 0 {
		return nil
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return utils.NewAppError("sqlite.InsertInsights", "begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, insight := range insights {
		if insight.ID == "" {
			return utils.NewAppError("sqlite.InsertInsights", "insight id is required", nil)
		}
		if _, err := tx.NamedExecContext(ctx, `INSERT INTO insights (`+insightColumns+`)
			VALUES (:id, :endpoint_id, :endpoint_name, :container_id, :container_name, :metric_type,
				:severity, :category, :title, :description, :suggested_action, :is_acknowledged, :created_at)
			ON CONFLICT (id) DO NOTHING`, newInsightRow(insight)); err != nil {
			return utils.NewAppError("sqlite.InsertInsights", "insert insight", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return utils.NewAppError("sqlite.InsertInsights", "commit", err)
	}
	return nil
}

// InsightFilter narrows ListInsights. Zero values do not filter.
type InsightFilter struct {
	EndpointID         int
	Category           string
	UnacknowledgedOnly bool
	Since              time.Time
	Limit              int
}

// ListInsights returns matching insights, newest first.
func (s *SQLiteStore) ListInsights(ctx context.Context, filter InsightFilter) ([]models.Insight, error) {
	clauses := make([]string, 0, 4)
	args := make([]any, 0, 5)
	if filter.EndpointID != 0 {
		clauses = append(clauses, "endpoint_id = ?")
		args = append(args, filter.EndpointID)
	}
	if filter.Category != "" {
		clauses = append(clauses, "category = ?")
		args = append(args, filter.Category)
	}
	if filter.UnacknowledgedOnly {
		clauses = append(clauses, "is_acknowledged = 0")
	}
	if !filter.Since.IsZero() {
		clauses = append(clauses, "created_at >= ?")
		args = append(args, filter.Since.UnixMilli())
	}

	query := `SELECT ` + insightColumns + ` FROM insights`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC, id"
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " LIMIT ?"
	args = append(args, limit)

	var rows []insightRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, utils.NewAppError("sqlite.ListInsights", "query insights", err)
	}
	insights := make([]models.Insight, 0, len(rows))
	for _, row := range rows {
		insights = append(insights, row.model())
	}
	return insights, nil
}

// GetInsight returns one insight or ErrNotFound.
func (s *SQLiteStore) GetInsight(ctx context.Context, id string) (*models.Insight, error) {
	var row insightRow
	err := s.db.GetContext(ctx, &row, `SELECT `+insightColumns+` FROM insights WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("insight %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, utils.NewAppError("sqlite.GetInsight", "query insight", err)
	}
	insight := row.model()
	return &insight, nil
}

// AcknowledgeInsight marks an insight as acknowledged.
func (s *SQLiteStore) AcknowledgeInsight(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE insights SET is_acknowledged = 1 WHERE id = ?`, id)
	if err != nil {
		return utils.NewAppError("sqlite.AcknowledgeInsight", "update insight", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("insight %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) cutoff(hoursBack float64) int64 {
	return utils.AddHours(s.now(), -hoursBack).UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
