// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveAnalysis inserts or replaces an analysis record with tenant isolation.
func (r *SQLRepository) SaveAnalysis(ctx context.Context, tenantID string, rec *domain.AnalysisRecord) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if rec == nil || rec.ID == "" {
		return fmt.Errorf("%w: analysis id is required", ErrInvalidInput)
	}

	var summary string
	if rec.Summary != nil {
		data, err := json.Marshal(rec.Summary)
		if err != nil {
			return fmt.Errorf("failed to serialize summary: %w", err)
		}
		summary = string(data)
	}

	var completedAt any
	if !rec.CompletedAt.IsZero() {
		completedAt = rec.CompletedAt
	}

	query := `
		INSERT INTO analyses (
			id, tenant_id, status, error, summary, report, created_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id) DO UPDATE SET
			status = excluded.status,
			error = excluded.error,
			summary = excluded.summary,
			report = excluded.report,
			completed_at = excluded.completed_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rec.ID, tenantID, string(rec.Status), rec.Error,
		summary, rec.Report, rec.CreatedAt, completedAt,
	)
	return err
}

// GetAnalysis retrieves an analysis record by ID with tenant isolation.
func (r *SQLRepository) GetAnalysis(ctx context.Context, tenantID string, analysisID string) (*domain.AnalysisRecord, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, status, error, summary, report, created_at, completed_at
		FROM analyses
		WHERE tenant_id = ? AND id = ?
	`

	rec, err := scanRecord(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, analysisID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rec, err
}

// UpdateStatus mutates only the status and error fields of a record.
func (r *SQLRepository) UpdateStatus(ctx context.Context, tenantID string, analysisID string, status domain.AnalysisStatus, errMsg string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	var completedAt any
	if status == domain.StatusComplete || status == domain.StatusError {
		completedAt = time.Now().UTC()
	}

	query := `
		UPDATE analyses
		SET status = ?, error = ?, completed_at = ?
		WHERE tenant_id = ? AND id = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query),
		string(status), errMsg, completedAt, tenantID, analysisID,
	)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// ListRecent returns the newest records first, up to limit.
func (r *SQLRepository) ListRecent(ctx context.Context, tenantID string, limit int) ([]*domain.AnalysisRecord, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT id, tenant_id, status, error, summary, report, created_at, completed_at
		FROM analyses
		WHERE tenant_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*domain.AnalysisRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// CountAnalyses returns the number of analyses created since the cutoff.
func (r *SQLRepository) CountAnalyses(ctx context.Context, tenantID string, since time.Time) (int64, error) {
	if tenantID == "" {
		return 0, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT COUNT(*)
		FROM analyses
		WHERE tenant_id = ? AND created_at >= ?
	`

	var count int64
	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, since).Scan(&count)
	return count, err
}

// Stats aggregates counters across all persisted analyses for a tenant.
// Per-batch aggregates come from the stored summary documents, so the
// totals survive process restarts.
func (r *SQLRepository) Stats(ctx context.Context, tenantID string) (*domain.RepositoryStats, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT status, summary
		FROM analyses
		WHERE tenant_id = ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := &domain.RepositoryStats{}
	for rows.Next() {
		var status string
		var summary sql.NullString
		if err := rows.Scan(&status, &summary); err != nil {
			return nil, err
		}

		stats.TotalAnalyses++
		switch domain.AnalysisStatus(status) {
		case domain.StatusComplete:
			stats.CompletedAnalyses++
		case domain.StatusError:
			stats.FailedAnalyses++
		}

		if summary.Valid && summary.String != "" {
			var s domain.Summary
			if err := json.Unmarshal([]byte(summary.String), &s); err == nil {
				stats.AccountsAnalyzed += int64(s.TotalAccountsAnalyzed)
				stats.FraudRingsDetected += int64(s.FraudRingsDetected)
				stats.AmountAtRisk += s.TotalAmountAtRisk
			}
		}
	}
	return stats, rows.Err()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*domain.AnalysisRecord, error) {
	var rec domain.AnalysisRecord
	var status string
	var errMsg, summary sql.NullString
	var completedAt sql.NullTime

	if err := row.Scan(
		&rec.ID, &rec.TenantID, &status, &errMsg,
		&summary, &rec.Report, &rec.CreatedAt, &completedAt,
	); err != nil {
		return nil, err
	}

	rec.Status = domain.AnalysisStatus(status)
	rec.Error = errMsg.String
	if completedAt.Valid {
		rec.CompletedAt = completedAt.Time
	}
	if summary.Valid && summary.String != "" {
		var s domain.Summary
		if err := json.Unmarshal([]byte(summary.String), &s); err != nil {
			return nil, fmt.Errorf("failed to parse stored summary: %w", err)
		}
		rec.Summary = &s
	}
	return &rec, nil
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
