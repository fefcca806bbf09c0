// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/mulewatch/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository on database/sql for SQLite
// and PostgreSQL.
type SQLRepository struct {
	db *sql.DB
	dialect
}

// New opens the configured database and applies the schema.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	db, d, err := open(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if d == sqliteDialect && inMemory(cfg.SQLitePath) {
		// Every connection would open its own empty database.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
		db.SetConnMaxIdleTime(0)
	}

	repo := &SQLRepository{db: db, dialect: d}
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

// SaveBatch stores an uploaded batch with tenant isolation.
func (r *SQLRepository) SaveBatch(ctx context.Context, tenantID string, batch *domain.BatchRecord) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if batch == nil || batch.ID == "" {
		return fmt.Errorf("%w: batch id is required", ErrInvalidInput)
	}

	recs := batch.Records
	if recs == nil {
		recs = []domain.RawTransaction{}
	}
	records, err := json.Marshal(recs)
	if err != nil {
		return fmt.Errorf("failed to encode batch records: %w", err)
	}

	createdAt := batch.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	query := `
		INSERT INTO batches (
			id, tenant_id, filename, transaction_count, records, created_at
		) VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		batch.ID, tenantID, batch.Filename,
		len(recs), string(records), createdAt,
	)
	return err
}

// GetBatch retrieves a batch with its records by ID with tenant isolation.
func (r *SQLRepository) GetBatch(ctx context.Context, tenantID string, batchID string) (*domain.BatchRecord, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, filename, transaction_count, records, created_at
		FROM batches
		WHERE tenant_id = ? AND id = ?
	`

	var b domain.BatchRecord
	var records string

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, batchID).Scan(
		&b.ID, &b.TenantID, &b.Filename, &b.TransactionCount, &records, &b.CreatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	// Decoded the same way as an upload so amounts keep their exact text.
	b.Records, err = domain.ParseBatch([]byte(records))
	if err != nil {
		return nil, fmt.Errorf("failed to parse records of batch %s: %w", b.ID, err)
	}

	return &b, nil
}

// ListBatches returns batch headers for a tenant, newest first.
func (r *SQLRepository) ListBatches(ctx context.Context, tenantID string, limit int) ([]*domain.BatchRecord, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, tenant_id, filename, transaction_count, created_at
		FROM batches
		WHERE tenant_id = ?
		ORDER BY created_at DESC, id
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	batches := []*domain.BatchRecord{}
	for rows.Next() {
		var b domain.BatchRecord
		if err := rows.Scan(&b.ID, &b.TenantID, &b.Filename, &b.TransactionCount, &b.CreatedAt); err != nil {
			return nil, err
		}
		batches = append(batches, &b)
	}

	return batches, rows.Err()
}

// DeleteBatch removes a batch with tenant isolation.
func (r *SQLRepository) DeleteBatch(ctx context.Context, tenantID string, batchID string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `DELETE FROM batches WHERE tenant_id = ? AND id = ?`

	result, err := r.db.ExecContext(ctx, r.rebind(query), tenantID, batchID)
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

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}
