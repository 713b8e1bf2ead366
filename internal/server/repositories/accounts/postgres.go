// Package accounts provides the PostgreSQL-backed account repository.
package accounts

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

// PostgresRepository implements Repository over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const accountColumns = `id, email, password_hash, failed_attempts, lockout_until,
		        mfa_enabled, mfa_secret, mfa_secret_nonce, created_at`

func scanAccount(row interface{ Scan(...any) error }) (*models.Account, error) {
	a := &models.Account{}
	var lockout sql.NullTime
	if err := row.Scan(&a.ID, &a.Email, &a.PasswordHash, &a.FailedAttempts, &lockout,
		&a.MFAEnabled, &a.MFASecret, &a.MFASecretNonce, &a.CreatedAt); err != nil {
		return nil, err
	}
	if lockout.Valid {
		t := lockout.Time
		a.LockoutUntil = &t
	}
	return a, nil
}

// Create inserts a new account. A duplicate email (case-insensitive)
// yields common.ErrAlreadyExists.
func (r *PostgresRepository) Create(ctx context.Context, account *models.Account) (*models.Account, error) {
	query := `
		INSERT INTO accounts (email, password_hash)
		VALUES ($1, $2)
		ON CONFLICT ((lower(email))) DO NOTHING
		RETURNING id, created_at
	`
	err := r.db.QueryRowContext(ctx, query, account.Email, account.PasswordHash).
		Scan(&account.ID, &account.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrAlreadyExists
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return account, nil
}

// GetByID returns the account or common.ErrorNotFound.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	a, err := scanAccount(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return a, nil
}

// GetByEmail looks the account up by normalized email, or returns
// common.ErrorNotFound.
func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE lower(email) = lower($1)`
	a, err := scanAccount(r.db.QueryRowContext(ctx, query, email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return a, nil
}

// RecordFailedLogin atomically counts one failed attempt.
//
// If a previous lockout window has already expired the counter restarts
// at 1. When the new count reaches threshold and no lockout is active,
// lockout_until is set to now+lockout. An active lockout is never extended.
func (r *PostgresRepository) RecordFailedLogin(ctx context.Context, id string, now time.Time, threshold int, lockout time.Duration) (*models.FailedLogin, error) {
	query := `
		UPDATE accounts SET
			failed_attempts = CASE
				WHEN lockout_until IS NOT NULL AND lockout_until <= $2 THEN 1
				ELSE failed_attempts + 1
			END,
			lockout_until = CASE
				WHEN lockout_until IS NOT NULL AND lockout_until > $2 THEN lockout_until
				WHEN (CASE
						WHEN lockout_until IS NOT NULL AND lockout_until <= $2 THEN 1
						ELSE failed_attempts + 1
					END) >= $3 THEN $4::timestamptz
				ELSE NULL
			END
		WHERE id = $1
		RETURNING failed_attempts, lockout_until
	`
	res := &models.FailedLogin{}
	var until sql.NullTime
	err := r.db.QueryRowContext(ctx, query, id, now, threshold, now.Add(lockout)).
		Scan(&res.FailedAttempts, &until)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	if until.Valid {
		t := until.Time
		res.LockoutUntil = &t
	}
	return res, nil
}

// ResetFailedLogins clears the failed-attempt counter and any lapsed
// lockout. If a lockout is active at now, because a concurrent failure
// locked the account, nothing changes and common.ErrAccountLocked is
// returned.
func (r *PostgresRepository) ResetFailedLogins(ctx context.Context, id string, now time.Time) error {
	query := `
		UPDATE accounts SET failed_attempts = 0, lockout_until = NULL
		WHERE id = $1 AND (lockout_until IS NULL OR lockout_until <= $2)
	`
	res, err := r.db.ExecContext(ctx, query, id, now)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n != 1 {
		return common.ErrAccountLocked
	}
	return nil
}

// EnableMFA stores the sealed TOTP secret and flips mfa_enabled. It
// returns common.ErrMFAAlreadyEnabled if another request won the race.
func (r *PostgresRepository) EnableMFA(ctx context.Context, id string, secret, nonce []byte) error {
	query := `
		UPDATE accounts SET mfa_enabled = true, mfa_secret = $2, mfa_secret_nonce = $3
		WHERE id = $1 AND NOT mfa_enabled
	`
	res, err := r.db.ExecContext(ctx, query, id, secret, nonce)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n != 1 {
		return common.ErrMFAAlreadyEnabled
	}
	return nil
}

// DisableMFA clears the secret and the enabled flag.
func (r *PostgresRepository) DisableMFA(ctx context.Context, id string) error {
	query := `
		UPDATE accounts SET mfa_enabled = false, mfa_secret = NULL, mfa_secret_nonce = NULL
		WHERE id = $1
	`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
