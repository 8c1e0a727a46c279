package repository

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"weather-archive/internal/archive"
	"weather-archive/internal/models"
	"weather-archive/internal/services"
	"weather-archive/pkg/database"
	"weather-archive/pkg/logging"
	"weather-archive/pkg/metrics"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Migrate applies the schema in direction "up" or "down"
func Migrate(ctx context.Context, db *database.DB, direction string) error {
	if direction != "up" && direction != "down" {
		return fmt.Errorf("unknown migration direction %q", direction)
	}
	content, err := migrations.ReadFile("migrations/001_create_schema." + direction + ".sql")
	if err != nil {
		return fmt.Errorf("failed to read migration: %w", err)
	}
	if _, err := db.ExecContext(ctx, "migrate_"+direction, string(content)); err != nil {
		return fmt.Errorf("failed to execute migration: %w", err)
	}
	return nil
}

// StationMapRepository persists resolved station maps and downloaded rows
type StationMapRepository interface {
	SaveAssignments(ctx context.Context, runID string, assignments []models.Assignment) error
	SaveDataset(ctx context.Context, runID string, key services.TableYear, t *archive.Table) error
	ListAssignments(ctx context.Context, runID string) ([]models.Assignment, error)
	CountDatasetRows(ctx context.Context, runID string, key services.TableYear) (int, error)
	HealthCheck(ctx context.Context) error
}

// stationMapRepository implements StationMapRepository
type stationMapRepository struct {
	db      *database.DB
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewStationMapRepository creates a new repository
func NewStationMapRepository(db *database.DB, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) StationMapRepository {
	return &stationMapRepository{
		db:      db,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// SaveAssignments upserts assignments for a run in a single transaction
func (r *stationMapRepository) SaveAssignments(ctx context.Context, runID string, assignments []models.Assignment) error {
	if len(assignments) == 0 {
		return nil
	}

	start := time.Now()
	tx, err := r.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, tx.Rebind(`
		INSERT INTO station_map (run_id, loc_id, year, table_name, src_id)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (run_id, loc_id, year, table_name) DO UPDATE SET
			src_id = excluded.src_id
	`))
	if err != nil {
		r.metrics.RecordDBError("prepare_error")
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, a := range assignments {
		if _, err := stmt.ExecContext(ctx, runID, a.PointID, a.Year, a.Table, a.StationID); err != nil {
			r.metrics.RecordDBError("insert_error")
			return fmt.Errorf("failed to insert assignment: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		r.metrics.RecordDBError("commit_error")
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	r.metrics.DBQueryDuration.WithLabelValues("save_assignments").Observe(time.Since(start).Seconds())
	r.logger.Debug(ctx, "[REPO_SAVE_ASSIGNMENTS] Assignments saved", logging.Fields{
		"run_id": runID,
		"count":  len(assignments),
	})
	return nil
}

// SaveDataset stores each row of a table-year dataset as a JSON payload
func (r *stationMapRepository) SaveDataset(ctx context.Context, runID string, key services.TableYear, t *archive.Table) error {
	if t.Empty() {
		return nil
	}

	start := time.Now()
	tx, err := r.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, tx.Rebind(`
		INSERT INTO station_year_rows (run_id, table_name, year, row_num, src_id, payload)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (run_id, table_name, year, row_num) DO UPDATE SET
			src_id = excluded.src_id,
			payload = excluded.payload
	`))
	if err != nil {
		r.metrics.RecordDBError("prepare_error")
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for i, row := range t.Rows {
		record := make(map[string]string, len(t.Columns))
		for c, col := range t.Columns {
			record[col] = row[c]
		}
		payload, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("failed to encode row %d: %w", i, err)
		}
		srcID, _ := strconv.Atoi(record[services.StationColumn])

		if _, err := stmt.ExecContext(ctx, runID, key.Table, key.Year, i, srcID, string(payload)); err != nil {
			r.metrics.RecordDBError("insert_error")
			return fmt.Errorf("failed to insert row %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		r.metrics.RecordDBError("commit_error")
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	r.metrics.DBQueryDuration.WithLabelValues("save_dataset").Observe(time.Since(start).Seconds())
	r.logger.Debug(ctx, "[REPO_SAVE_DATASET] Dataset rows saved", logging.Fields{
		"run_id": runID,
		"table":  key.Table,
		"year":   key.Year,
		"rows":   t.Len(),
	})
	return nil
}

// ListAssignments returns a run's assignments ordered by point, year and table
func (r *stationMapRepository) ListAssignments(ctx context.Context, runID string) ([]models.Assignment, error) {
	query := `
		SELECT loc_id, table_name, year, src_id
		FROM station_map
		WHERE run_id = ?
		ORDER BY loc_id, year, table_name
	`

	var assignments []models.Assignment
	if err := r.db.SelectContext(ctx, "list_assignments", &assignments, query, runID); err != nil {
		return nil, fmt.Errorf("failed to list assignments: %w", err)
	}
	return assignments, nil
}

// CountDatasetRows returns how many rows were stored for a run's table-year
func (r *stationMapRepository) CountDatasetRows(ctx context.Context, runID string, key services.TableYear) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM station_year_rows
		WHERE run_id = ? AND table_name = ? AND year = ?
	`

	var count int
	err := r.db.GetContext(ctx, "count_dataset_rows", &count, query, runID, key.Table, key.Year)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to count dataset rows: %w", err)
	}
	return count, nil
}

// HealthCheck performs a repository health check
func (r *stationMapRepository) HealthCheck(ctx context.Context) error {
	return r.db.HealthCheck(ctx)
}

// Sink stores one run's artifacts through a StationMapRepository
type Sink struct {
	repo  StationMapRepository
	runID string
}

// NewSink binds repo to runID
func NewSink(repo StationMapRepository, runID string) *Sink {
	return &Sink{repo: repo, runID: runID}
}

func (s *Sink) WriteDataset(ctx context.Context, key services.TableYear, t *archive.Table) error {
	return s.repo.SaveDataset(ctx, s.runID, key, t)
}

// WriteStationMap flattens the consolidated map back into assignments
func (s *Sink) WriteStationMap(ctx context.Context, m models.ConsolidatedMap) error {
	var assignments []models.Assignment
	for _, row := range m.Rows {
		for table, src := range row.Stations {
			assignments = append(assignments, models.Assignment{PointID: row.LocID, Table: table, Year: row.Year, StationID: src})
		}
	}
	return s.repo.SaveAssignments(ctx, s.runID, assignments)
}
