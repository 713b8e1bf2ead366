// Package archives provides the PostgreSQL-backed audit archive store.
package archives

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/docshare/internal/common"
	"github.com/dmitrijs2005/docshare/internal/dbx"
	"github.com/dmitrijs2005/docshare/internal/server/models"
)

// PostgresRepository implements Repository over a dbx.DBTX.
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts the archive row and fills in CreatedAt.
func (r *PostgresRepository) Create(ctx context.Context, a *models.AuditArchive) error {
	query := `
		INSERT INTO audit_archives (id, records, checksum, record_count, period_start, period_end)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`
	err := r.db.QueryRowContext(ctx, query,
		a.ID, a.Records, a.Checksum, a.RecordCount, a.PeriodStart, a.PeriodEnd).Scan(&a.CreatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// GetByID returns the archive or common.ErrorNotFound.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.AuditArchive, error) {
	query := `
		SELECT id, records, checksum, record_count, period_start, period_end, created_at
		FROM audit_archives WHERE id = $1
	`
	a := &models.AuditArchive{}
	err := r.db.QueryRowContext(ctx, query, id).
		Scan(&a.ID, &a.Records, &a.Checksum, &a.RecordCount, &a.PeriodStart, &a.PeriodEnd, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return a, nil
}

// Count returns the number of stored archives.
func (r *PostgresRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM audit_archives`).Scan(&n); err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}
