package httpapi

import (
	"context"
	"io"
	"time"

	"github.com/dmitrijs2005/docshare/internal/server/auth"
	"github.com/dmitrijs2005/docshare/internal/server/models"
	"github.com/dmitrijs2005/docshare/internal/server/services"
)

type AccountService interface {
	Register(ctx context.Context, email, password string) (*models.Account, error)
}

type LoginService interface {
	Login(ctx context.Context, email, password string) (*services.LoginResult, error)
	CompleteMFA(ctx context.Context, pending auth.MFAPending, code string, useBackupCode bool) (*services.LoginResult, error)
	Logout(ctx context.Context, carrier string)
}

type SessionService interface {
	Decode(carrier string, now time.Time) auth.State
	Validate(ctx context.Context, sess auth.Session, now time.Time) error
	Touch(sess auth.Session, now time.Time) (string, auth.Session, error)
	Extend(ctx context.Context, sess auth.Session, now time.Time) (string, auth.Session, error)
	ExpiresAt(sess auth.Session) time.Time
	CookieMaxAge(sess auth.Session, now time.Time) time.Duration
}

type MFAService interface {
	Status(ctx context.Context, accountID string) (*services.MFAStatus, error)
	InitiateSetup(ctx context.Context, accountID string) (*services.MFASetup, error)
	CompleteSetup(ctx context.Context, accountID, secret, code string) ([]string, error)
	Disable(ctx context.Context, accountID, password string) error
	RegenerateBackupCodes(ctx context.Context, accountID, password string) ([]string, error)
}

type DocumentService interface {
	Upload(ctx context.Context, sess auth.Session, title, contentType string, body io.ReadSeeker, size int64) (*models.Document, error)
	Get(ctx context.Context, sess auth.Session, documentID string) (*models.Document, error)
	Download(ctx context.Context, sess auth.Session, documentID string) (*services.DownloadLink, error)
	Delete(ctx context.Context, sess auth.Session, documentID string) error
	ListOwned(ctx context.Context, sess auth.Session) ([]*models.Document, error)
	ListShared(ctx context.Context, sess auth.Session) ([]*models.AccessibleDocument, error)
	ListShares(ctx context.Context, sess auth.Session, documentID string) ([]*models.DocumentPermission, error)
}

type SharingService interface {
	Share(ctx context.Context, sess auth.Session, documentID, target string, level models.Level, expiresAt *time.Time) (*models.DocumentPermission, error)
	Revoke(ctx context.Context, sess auth.Session, documentID, targetID string) (models.Level, error)
}

type AuditHistory interface {
	History(ctx context.Context, accountID string, limit int) ([]models.AuditRecord, error)
}
