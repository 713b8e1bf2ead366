// Package auditlogs provides the PostgreSQL-backed audit record store.
package auditlogs

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

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

// Insert appends rec and fills in its ID and CreatedAt.
func (r *PostgresRepository) Insert(ctx context.Context, rec *models.AuditRecord) error {
	var metadata any
	if len(rec.Metadata) > 0 {
		b, err := json.Marshal(rec.Metadata)
		if err != nil {
			return fmt.Errorf("metadata encode error: %w", err)
		}
		metadata = b
	}

	query := `
		INSERT INTO audit_logs (account_id, action, document_id, success, error_message, metadata, ip_address, user_agent)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at
	`
	err := r.db.QueryRowContext(ctx, query,
		rec.AccountID, string(rec.Action), rec.DocumentID, rec.Success, rec.ErrorMessage,
		metadata, rec.IPAddress, rec.UserAgent).Scan(&rec.ID, &rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

const recordColumns = `id, account_id, action, document_id, success, error_message,
		       metadata, ip_address, user_agent, created_at, archived`

// LockUnarchivedBefore selects unarchived records created before cutoff
// with row locks held until the surrounding transaction ends.
func (r *PostgresRepository) LockUnarchivedBefore(ctx context.Context, cutoff time.Time) ([]models.AuditRecord, error) {
	query := `
		SELECT ` + recordColumns + `
		FROM audit_logs
		WHERE NOT archived AND created_at < $1
		ORDER BY created_at, id
		FOR UPDATE
	`
	return r.query(ctx, query, cutoff)
}

// MarkArchived flips the archived flag on unarchived records before cutoff
// with id up to maxID and returns the number of rows changed.
func (r *PostgresRepository) MarkArchived(ctx context.Context, cutoff time.Time, maxID int64) (int64, error) {
	query := `
		UPDATE audit_logs SET archived = true
		WHERE NOT archived AND created_at < $1 AND id <= $2
	`
	res, err := r.db.ExecContext(ctx, query, cutoff, maxID)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected error: %w", err)
	}
	return n, nil
}

// History returns up to limit of the account's most recent records in
// ascending (created_at, id) order.
func (r *PostgresRepository) History(ctx context.Context, accountID string, limit int) ([]models.AuditRecord, error) {
	query := `
		SELECT * FROM (
			SELECT ` + recordColumns + `
			FROM audit_logs
			WHERE account_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2
		) recent
		ORDER BY created_at, id
	`
	return r.query(ctx, query, accountID, limit)
}

// Stats aggregates the hot table. Read-only.
func (r *PostgresRepository) Stats(ctx context.Context, retentionCutoff time.Time) (*models.AuditStats, error) {
	stats := &models.AuditStats{ByAction: map[string]int64{}}

	query := `
		SELECT count(*),
		       count(*) FILTER (WHERE NOT success),
		       count(*) FILTER (WHERE created_at < $1),
		       count(*) FILTER (WHERE archived)
		FROM audit_logs
	`
	if err := r.db.QueryRowContext(ctx, query, retentionCutoff).
		Scan(&stats.Total, &stats.Failed, &stats.OlderThanRetention, &stats.Archived); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, `SELECT action, count(*) FROM audit_logs GROUP BY action`)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			action string
			n      int64
		)
		if err := rows.Scan(&action, &n); err != nil {
			return nil, err
		}
		stats.ByAction[action] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return stats, nil
}

func (r *PostgresRepository) query(ctx context.Context, query string, args ...any) ([]models.AuditRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select audit records: %w", err)
	}
	defer rows.Close()

	var result []models.AuditRecord
	for rows.Next() {
		var (
			rec      models.AuditRecord
			action   string
			docID    sql.NullString
			errMsg   sql.NullString
			metadata []byte
		)
		if err := rows.Scan(&rec.ID, &rec.AccountID, &action, &docID, &rec.Success, &errMsg,
			&metadata, &rec.IPAddress, &rec.UserAgent, &rec.CreatedAt, &rec.Archived); err != nil {
			return nil, err
		}
		rec.Action = models.AuditAction(action)
		if docID.Valid {
			rec.DocumentID = &docID.String
		}
		if errMsg.Valid {
			rec.ErrorMessage = &errMsg.String
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &rec.Metadata); err != nil {
				return nil, fmt.Errorf("metadata decode error: %w", err)
			}
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
