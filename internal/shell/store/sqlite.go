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

	"github.com/daas8085/dashdeploy/internal/core/domain"
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

// NewSQLiteStore creates a new SQLite store and runs migrations.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite3", dsn+"?_foreign_keys=on")
	if err != nil {
		return nil, NewStoreError("NewSQLiteStore", "", "", "failed to open database", ErrConnectionFailed)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", "", "failed to ping database", ErrConnectionFailed)
	}

	if err := runMigrations(db.DB); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", "", err.Error(), ErrMigrationFailed)
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
// Release Operations
// =============================================================================

// releaseRow represents a release row in the database.
type releaseRow struct {
	ID           string  `db:"id"`
	Environment  string  `db:"environment"`
	Registry     string  `db:"registry"`
	Tag          string  `db:"tag"`
	ImageRef     string  `db:"image_ref"`
	Namespace    string  `db:"namespace"`
	Provider     string  `db:"provider"`
	Status       string  `db:"status"`
	Steps        *string `db:"steps"`
	Endpoint     string  `db:"endpoint"`
	ErrorMessage string  `db:"error_message"`
	CreatedAt    string  `db:"created_at"`
	UpdatedAt    string  `db:"updated_at"`
	StartedAt    *string `db:"started_at"`
	FinishedAt   *string `db:"finished_at"`
}

func (s *SQLiteStore) CreateRelease(ctx context.Context, release *domain.Release) error {
	stepsJSON, err := json.Marshal(release.Steps)
	if err != nil {
		return NewStoreError("CreateRelease", "release", release.ID, "failed to serialize steps", ErrInvalidData)
	}

	query := `
		INSERT INTO releases (
			id, environment, registry, tag, image_ref, namespace, provider,
			status, steps, endpoint, error_message,
			created_at, updated_at, started_at, finished_at
		) VALUES (
			:id, :environment, :registry, :tag, :image_ref, :namespace, :provider,
			:status, :steps, :endpoint, :error_message,
			:created_at, :updated_at, :started_at, :finished_at
		)`

	row := map[string]any{
		"id":            release.ID,
		"environment":   release.Environment,
		"registry":      release.Registry,
		"tag":           release.Tag,
		"image_ref":     release.ImageRef,
		"namespace":     release.Namespace,
		"provider":      release.Provider,
		"status":        string(release.Status),
		"steps":         string(stepsJSON),
		"endpoint":      release.Endpoint,
		"error_message": release.ErrorMessage,
		"created_at":    release.CreatedAt.Format(time.RFC3339),
		"updated_at":    release.UpdatedAt.Format(time.RFC3339),
		"started_at":    formatOptionalTime(release.StartedAt),
		"finished_at":   formatOptionalTime(release.FinishedAt),
	}

	_, err = s.db.NamedExecContext(ctx, query, row)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: releases.id") {
			return NewStoreError("CreateRelease", "release", release.ID, "release with this ID already exists", ErrDuplicateID)
		}
		return NewStoreError("CreateRelease", "release", release.ID, err.Error(), err)
	}

	return nil
}

func (s *SQLiteStore) FinishRelease(ctx context.Context, release *domain.Release) error {
	stepsJSON, err := json.Marshal(release.Steps)
	if err != nil {
		return NewStoreError("FinishRelease", "release", release.ID, "failed to serialize steps", ErrInvalidData)
	}

	query := `
		UPDATE releases SET
			status = :status,
			steps = :steps,
			endpoint = :endpoint,
			error_message = :error_message,
			updated_at = :updated_at,
			started_at = :started_at,
			finished_at = :finished_at
		WHERE id = :id`

	row := map[string]any{
		"id":            release.ID,
		"status":        string(release.Status),
		"steps":         string(stepsJSON),
		"endpoint":      release.Endpoint,
		"error_message": release.ErrorMessage,
		"updated_at":    release.UpdatedAt.Format(time.RFC3339),
		"started_at":    formatOptionalTime(release.StartedAt),
		"finished_at":   formatOptionalTime(release.FinishedAt),
	}

	result, err := s.db.NamedExecContext(ctx, query, row)
	if err != nil {
		return NewStoreError("FinishRelease", "release", release.ID, err.Error(), err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return NewStoreError("FinishRelease", "release", release.ID, "release not found", ErrNotFound)
	}

	return nil
}

func (s *SQLiteStore) GetRelease(ctx context.Context, id string) (*domain.Release, error) {
	query := `SELECT * FROM releases WHERE id = ?`

	var row releaseRow
	err := s.db.GetContext(ctx, &row, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetRelease", "release", id, "release not found", ErrNotFound)
		}
		return nil, NewStoreError("GetRelease", "release", id, err.Error(), err)
	}

	return rowToRelease(&row)
}

func (s *SQLiteStore) ListReleases(ctx context.Context, opts ListOptions) ([]domain.Release, error) {
	opts = opts.Normalize()
	query := `SELECT * FROM releases ORDER BY created_at DESC, id LIMIT ? OFFSET ?`

	var rows []releaseRow
	err := s.db.SelectContext(ctx, &rows, query, opts.Limit, opts.Offset)
	if err != nil {
		return nil, NewStoreError("ListReleases", "release", "", err.Error(), err)
	}

	return rowsToReleases(rows)
}

func (s *SQLiteStore) ListReleasesByEnvironment(ctx context.Context, environment string, opts ListOptions) ([]domain.Release, error) {
	opts = opts.Normalize()
	query := `SELECT * FROM releases WHERE environment = ? ORDER BY created_at DESC, id LIMIT ? OFFSET ?`

	var rows []releaseRow
	err := s.db.SelectContext(ctx, &rows, query, environment, opts.Limit, opts.Offset)
	if err != nil {
		return nil, NewStoreError("ListReleasesByEnvironment", "release", "", err.Error(), err)
	}

	return rowsToReleases(rows)
}

// =============================================================================
// Row Conversion Functions
// =============================================================================

// rowToRelease converts a database row to a domain.Release.
func rowToRelease(row *releaseRow) (*domain.Release, error) {
	createdAt, _ := time.Parse(time.RFC3339, row.CreatedAt)
	updatedAt, _ := time.Parse(time.RFC3339, row.UpdatedAt)

	var steps []domain.StepRecord
	if row.Steps != nil && *row.Steps != "" && *row.Steps != "null" {
		if err := json.Unmarshal([]byte(*row.Steps), &steps); err != nil {
			return nil, NewStoreError("rowToRelease", "release", row.ID, "failed to parse steps", ErrInvalidData)
		}
	}

	return &domain.Release{
		ID:           row.ID,
		Environment:  row.Environment,
		Registry:     row.Registry,
		Tag:          row.Tag,
		ImageRef:     row.ImageRef,
		Namespace:    row.Namespace,
		Provider:     row.Provider,
		Status:       domain.ReleaseStatus(row.Status),
		Steps:        steps,
		Endpoint:     row.Endpoint,
		ErrorMessage: row.ErrorMessage,
		CreatedAt:    createdAt,
		UpdatedAt:    updatedAt,
		StartedAt:    parseOptionalTime(row.StartedAt),
		FinishedAt:   parseOptionalTime(row.FinishedAt),
	}, nil
}

func rowsToReleases(rows []releaseRow) ([]domain.Release, error) {
	releases := make([]domain.Release, 0, len(rows))
	for _, row := range rows {
		release, err := rowToRelease(&row)
		if err != nil {
			return nil, err
		}
		releases = append(releases, *release)
	}
	return releases, nil
}

func formatOptionalTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}

func parseOptionalTime(s *string) *time.Time {
	if s == nil || *s == "" {
		return nil
	}
	t, _ := time.Parse(time.RFC3339, *s)
	return &t
}
