// Package backupcodes provides the PostgreSQL-backed store of hashed
// MFA backup codes.
package backupcodes

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/docshare/internal/dbx"
)

// PostgresRepository implements Repository over a dbx.DBTX.
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// ReplaceAll deletes every stored hash for the account and inserts hashes.
// Callers run it inside a transaction.
func (r *PostgresRepository) ReplaceAll(ctx context.Context, accountID string, hashes []string) error {
	if err := r.DeleteAll(ctx, accountID); err != nil {
		return err
	}
	query := `INSERT INTO mfa_backup_codes (account_id, code_hash) VALUES ($1, $2)`
	for _, h := range hashes {
		if _, err := r.db.ExecContext(ctx, query, accountID, h); err != nil {
			return fmt.Errorf("db error: %w", err)
		}
	}
	return nil
}

// Consume removes the matching hash. It reports true only for the single
// caller whose DELETE affected the row.
func (r *PostgresRepository) Consume(ctx context.Context, accountID, hash string) (bool, error) {
	query := `DELETE FROM mfa_backup_codes WHERE account_id = $1 AND code_hash = $2`
	res, err := r.db.ExecContext(ctx, query, accountID, hash)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected error: %w", err)
	}
	return n == 1, nil
}

// Count returns the number of unused codes.
func (r *PostgresRepository) Count(ctx context.Context, accountID string) (int, error) {
	query := `SELECT count(*) FROM mfa_backup_codes WHERE account_id = $1`
	var n int
	if err := r.db.QueryRowContext(ctx, query, accountID).Scan(&n); err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

// DeleteAll removes every code of the account.
func (r *PostgresRepository) DeleteAll(ctx context.Context, accountID string) error {
	query := `DELETE FROM mfa_backup_codes WHERE account_id = $1`
	if _, err := r.db.ExecContext(ctx, query, accountID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
