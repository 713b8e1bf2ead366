package permissions

import (
	"context"
	"time"

	"github.com/dmitrijs2005/docshare/internal/server/models"
)

// Repository persists per-document grants. Every read takes now and
// treats grants expired at now as absent.
type Repository interface {
	Upsert(ctx context.Context, p *models.DocumentPermission) (bool, error)
	Delete(ctx context.Context, documentID, userID string, now time.Time) (models.Level, error)
	GetActive(ctx context.Context, documentID, userID string, now time.Time) (*models.DocumentPermission, error)
	ListByDocument(ctx context.Context, documentID string, now time.Time) ([]*models.DocumentPermission, error)
	ListByUser(ctx context.Context, userID string, now time.Time) ([]*models.AccessibleDocument, error)
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}
