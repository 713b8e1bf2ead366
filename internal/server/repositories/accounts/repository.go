package accounts

import (
	"context"
	"time"

	"github.com/dmitrijs2005/docshare/internal/server/models"
)

// Repository persists accounts and their lockout and MFA state.
type Repository interface {
	Create(ctx context.Context, account *models.Account) (*models.Account, error)
	GetByID(ctx context.Context, id string) (*models.Account, error)
	GetByEmail(ctx context.Context, email string) (*models.Account, error)
	RecordFailedLogin(ctx context.Context, id string, now time.Time, threshold int, lockout time.Duration) (*models.FailedLogin, error)
	ResetFailedLogins(ctx context.Context, id string, now time.Time) error
	EnableMFA(ctx context.Context, id string, secret, nonce []byte) error
	DisableMFA(ctx context.Context, id string) error
}
