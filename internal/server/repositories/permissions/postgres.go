// Package permissions provides the PostgreSQL-backed document grant repository.
package permissions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

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

// Upsert creates the (document, user) grant or updates it in place.
// It reports true when a new row was inserted.
func (r *PostgresRepository) Upsert(ctx context.Context, p *models.DocumentPermission) (bool, error) {
	query := `
		INSERT INTO document_permissions (document_id, user_id, level, granted_by, granted_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (document_id, user_id)
		DO UPDATE SET
			level = EXCLUDED.level,
			granted_by = EXCLUDED.granted_by,
			granted_at = EXCLUDED.granted_at,
			expires_at = EXCLUDED.expires_at
		RETURNING (xmax = 0)
	`
	var inserted bool
	err := r.db.QueryRowContext(ctx, query,
		p.DocumentID, p.UserID, p.Level.String(), p.GrantedBy, p.GrantedAt, p.ExpiresAt).Scan(&inserted)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return inserted, nil
}

// Delete removes the grant in force at now and returns its level. A
// missing or already expired grant yields common.ErrGrantNotFound and an
// expired row is left for PurgeExpired.
func (r *PostgresRepository) Delete(ctx context.Context, documentID, userID string, now time.Time) (models.Level, error) {
	query := `
		DELETE FROM document_permissions
		WHERE document_id = $1 AND user_id = $2 AND (expires_at IS NULL OR expires_at > $3)
		RETURNING level
	`
	var level string
	err := r.db.QueryRowContext(ctx, query, documentID, userID, now).Scan(&level)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.LevelNone, common.ErrGrantNotFound
		}
		return models.LevelNone, fmt.Errorf("db error: %w", err)
	}
	l, err := models.ParseLevel(level)
	if err != nil {
		return models.LevelNone, fmt.Errorf("db error: %w", err)
	}
	return l, nil
}

// GetActive returns the grant in force at now, or common.ErrorNotFound.
func (r *PostgresRepository) GetActive(ctx context.Context, documentID, userID string, now time.Time) (*models.DocumentPermission, error) {
	query := `
		SELECT document_id, user_id, level, granted_by, granted_at, expires_at
		FROM document_permissions
		WHERE document_id = $1 AND user_id = $2 AND (expires_at IS NULL OR expires_at > $3)
	`
	p, err := scanPermission(r.db.QueryRowContext(ctx, query, documentID, userID, now), false)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return p, nil
}

// ListByDocument returns the active grants on a document with grantee emails.
func (r *PostgresRepository) ListByDocument(ctx context.Context, documentID string, now time.Time) ([]*models.DocumentPermission, error) {
	query := `
		SELECT p.document_id, p.user_id, p.level, p.granted_by, p.granted_at, p.expires_at, a.email
		FROM document_permissions p
		JOIN accounts a ON a.id = p.user_id
		WHERE p.document_id = $1 AND (p.expires_at IS NULL OR p.expires_at > $2)
		ORDER BY p.granted_at, p.user_id
	`
	rows, err := r.db.QueryContext(ctx, query, documentID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to select permissions: %w", err)
	}
	defer rows.Close()

	var result []*models.DocumentPermission
	for rows.Next() {
		p, err := scanPermission(rows, true)
		if err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// ListByUser returns documents shared with the user through active grants.
func (r *PostgresRepository) ListByUser(ctx context.Context, userID string, now time.Time) ([]*models.AccessibleDocument, error) {
	query := `
		SELECT d.id, d.owner_id, d.title, d.storage_key, d.content_type, d.size_bytes, d.created_at,
		       p.level, p.expires_at
		FROM document_permissions p
		JOIN documents d ON d.id = p.document_id
		WHERE p.user_id = $1 AND (p.expires_at IS NULL OR p.expires_at > $2)
		ORDER BY d.created_at DESC, d.id
	`
	rows, err := r.db.QueryContext(ctx, query, userID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to select shared documents: %w", err)
	}
	defer rows.Close()

	var result []*models.AccessibleDocument
	for rows.Next() {
		var (
			item    models.AccessibleDocument
			level   string
			expires sql.NullTime
		)
		if err := rows.Scan(&item.ID, &item.OwnerID, &item.Title, &item.StorageKey, &item.ContentType,
			&item.SizeBytes, &item.CreatedAt, &level, &expires); err != nil {
			return nil, err
		}
		if item.Level, err = models.ParseLevel(level); err != nil {
			return nil, err
		}
		if expires.Valid {
			t := expires.Time
			item.ExpiresAt = &t
		}
		result = append(result, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// PurgeExpired deletes grants expired at now and returns how many.
func (r *PostgresRepository) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	query := `DELETE FROM document_permissions WHERE expires_at IS NOT NULL AND expires_at <= $1`
	res, err := r.db.ExecContext(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected error: %w", err)
	}
	return n, nil
}

func scanPermission(row interface{ Scan(...any) error }, withEmail bool) (*models.DocumentPermission, error) {
	var (
		p       models.DocumentPermission
		level   string
		expires sql.NullTime
		err     error
	)
	dest := []any{&p.DocumentID, &p.UserID, &level, &p.GrantedBy, &p.GrantedAt, &expires}
	if withEmail {
		dest = append(dest, &p.Email)
	}
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	if p.Level, err = models.ParseLevel(level); err != nil {
		return nil, err
	}
	if expires.Valid {
		t := expires.Time
		p.ExpiresAt = &t
	}
	return &p, nil
}
