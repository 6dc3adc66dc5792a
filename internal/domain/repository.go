// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"context"
	"time"
)

// AnalysisRecord is the persisted row for one batch analysis.
// Report carries the rendered forensic document; Summary is stored
// separately so listings do not deserialize full reports.
type AnalysisRecord struct {
	ID          string
	TenantID    string
	Status      AnalysisStatus
	Error       string
	Summary     *Summary
	Report      []byte
	CreatedAt   time.Time
	CompletedAt time.Time
}

// RepositoryStats aggregates persisted analysis counters.
type RepositoryStats struct {
	TotalAnalyses      int64   `json:"total_analyses"`
	CompletedAnalyses  int64   `json:"completed_analyses"`
	FailedAnalyses     int64   `json:"failed_analyses"`
	AccountsAnalyzed   int64   `json:"accounts_analyzed"`
	FraudRingsDetected int64   `json:"fraud_rings_detected"`
	AmountAtRisk       float64 `json:"amount_at_risk"`
}

// Repository defines the interface for analysis persistence.
// All methods require tenantID for strict multi-tenancy isolation.
type Repository interface {
	// SaveAnalysis inserts or replaces the record for one analysis.
	SaveAnalysis(ctx context.Context, tenantID string, rec *AnalysisRecord) error

	// GetAnalysis returns the record or nil when absent.
	GetAnalysis(ctx context.Context, tenantID string, analysisID string) (*AnalysisRecord, error)

	// UpdateStatus mutates only the status and error fields.
	UpdateStatus(ctx context.Context, tenantID string, analysisID string, status AnalysisStatus, errMsg string) error

	// ListRecent returns the newest records first, up to limit.
	ListRecent(ctx context.Context, tenantID string, limit int) ([]*AnalysisRecord, error)

	// CountAnalyses returns the number of analyses created since the cutoff.
	CountAnalyses(ctx context.Context, tenantID string, since time.Time) (int64, error)

	// Stats aggregates counters across all persisted analyses.
	Stats(ctx context.Context, tenantID string) (*RepositoryStats, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
