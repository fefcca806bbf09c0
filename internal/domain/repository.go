// Package domain defines the core interfaces and types for Mulewatch.
package domain

import (
	"context"
	"time"
)

// BatchRecord is an uploaded batch as stored by the hosting layer.
// Records are kept as uploaded; normalization runs on every analysis.
type BatchRecord struct {
	ID               string           `json:"id"`
	TenantID         string           `json:"tenantId"`
	Filename         string           `json:"filename"`
	TransactionCount int              `json:"transactionCount"`
	Records          []RawTransaction `json:"records,omitempty"`
	CreatedAt        time.Time        `json:"createdAt"`
}

// Repository persists uploaded batches. Every call is scoped to one tenant;
// another tenant's batch reads as not found.
type Repository interface {
	SaveBatch(ctx context.Context, tenantID string, batch *BatchRecord) error
	GetBatch(ctx context.Context, tenantID string, batchID string) (*BatchRecord, error)

	// ListBatches returns batch headers (without records), newest first.
	ListBatches(ctx context.Context, tenantID string, limit int) ([]*BatchRecord, error)
	DeleteBatch(ctx context.Context, tenantID string, batchID string) error

	Ping(ctx context.Context) error
	Close() error
}

// RepositoryConfig selects the database. Driver is "sqlite" or "postgres".
type RepositoryConfig struct {
	Driver string

	// SQLitePath is a file path, or ":memory:" for a throwaway database.
	SQLitePath string

	// PostgreSQL specific. PostgresURL, when set, is used as-is and the
	// discrete fields are ignored.
	PostgresURL      string
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Pool limits; zero keeps the database/sql defaults.
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
