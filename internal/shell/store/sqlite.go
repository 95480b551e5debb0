package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/artpar/rollout/internal/core/domain"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// =============================================================================
// SQLiteStore
// =============================================================================

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore opens the database and runs migrations.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite3", dsn+"?_foreign_keys=on")
	if err != nil {
		return nil, NewStoreError("NewSQLiteStore", "", "failed to open database", ErrConnectionFailed)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", "failed to ping database", ErrConnectionFailed)
	}

	if err := runMigrations(db.DB); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", err.Error(), ErrMigrationFailed)
	}

	return &SQLiteStore{db: db}, nil
}

// runMigrations runs database migrations using embedded SQL files.
func runMigrations(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// =============================================================================
// Run Operations
// =============================================================================

// runRow represents a deployment row in the database.
type runRow struct {
	ID              string `db:"id"`
	Service         string `db:"service"`
	Environment     string `db:"environment"`
	Version         string `db:"version"`
	PreviousVersion string `db:"previous_version"`
	Overall         string `db:"overall"`
	Aborted         bool   `db:"aborted"`
	HostCount       int    `db:"host_count"`
	Report          string `db:"report"`
	StartedAt       string `db:"started_at"`
	FinishedAt      string `db:"finished_at"`
}

// SaveRun records a finished deployment run.
func (s *SQLiteStore) SaveRun(ctx context.Context, report *domain.DeploymentReport) error {
	blob, err := json.Marshal(report)
	if err != nil {
		return NewStoreError("SaveRun", report.ID, "failed to serialize report", ErrInvalidData)
	}

	row := runRow{
		ID:              report.ID,
		Service:         report.Descriptor.Service,
		Environment:     report.Descriptor.Environment,
		Version:         report.Descriptor.Version,
		PreviousVersion: report.Descriptor.PreviousVersion,
		Overall:         string(report.Overall),
		Aborted:         report.Aborted,
		HostCount:       len(report.Outcomes),
		Report:          string(blob),
		StartedAt:       report.StartedAt.UTC().Format(time.RFC3339Nano),
		FinishedAt:      report.FinishedAt.UTC().Format(time.RFC3339Nano),
	}

	_, err = s.db.NamedExecContext(ctx, `
		INSERT INTO deployments (
			id, service, environment, version, previous_version,
			overall, aborted, host_count, report, started_at, finished_at
		) VALUES (
			:id, :service, :environment, :version, :previous_version,
			:overall, :aborted, :host_count, :report, :started_at, :finished_at
		)`, row)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return NewStoreError("SaveRun", report.ID, "run already recorded", ErrDuplicateID)
		}
		return NewStoreError("SaveRun", report.ID, err.Error(), err)
	}
	return nil
}

// GetRun returns the full report for one run.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*domain.DeploymentReport, error) {
	var row runRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM deployments WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetRun", id, "run not found", ErrNotFound)
		}
		return nil, NewStoreError("GetRun", id, err.Error(), err)
	}
	return decodeReport(row)
}

// ListRuns returns recent runs, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, service, environment string, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `SELECT id, service, environment, version, overall, aborted, host_count, started_at, finished_at
		FROM deployments WHERE 1=1`
	args := []any{}
	if service != "" {
		query += " AND service = ?"
		args = append(args, service)
	}
	if environment != "" {
		query += " AND environment = ?"
		args = append(args, environment)
	}
	query += " ORDER BY started_at DESC LIMIT ?"
	args = append(args, limit)

	var rows []runRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, NewStoreError("ListRuns", "", err.Error(), err)
	}

	summaries := make([]RunSummary, len(rows))
	for i, row := range rows {
		summaries[i] = RunSummary{
			ID:          row.ID,
			Service:     row.Service,
			Environment: row.Environment,
			Version:     row.Version,
			Overall:     domain.OverallStatus(row.Overall),
			Aborted:     row.Aborted,
			HostCount:   row.HostCount,
			StartedAt:   parseTime(row.StartedAt),
			FinishedAt:  parseTime(row.FinishedAt),
		}
	}
	return summaries, nil
}

// LastRun returns the most recent run for a service in an environment.
func (s *SQLiteStore) LastRun(ctx context.Context, service, environment string) (*domain.DeploymentReport, error) {
	var row runRow
	err := s.db.GetContext(ctx, &row, `
		SELECT * FROM deployments
		WHERE service = ? AND environment = ?
		ORDER BY started_at DESC LIMIT 1`, service, environment)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("LastRun", "", "no runs recorded", ErrNotFound)
		}
		return nil, NewStoreError("LastRun", "", err.Error(), err)
	}
	return decodeReport(row)
}

func decodeReport(row runRow) (*domain.DeploymentReport, error) {
	var report domain.DeploymentReport
	if err := json.Unmarshal([]byte(row.Report), &report); err != nil {
		return nil, NewStoreError("decodeReport", row.ID, "failed to deserialize report", ErrInvalidData)
	}
	return &report, nil
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

var _ Store = (*SQLiteStore)(nil)
