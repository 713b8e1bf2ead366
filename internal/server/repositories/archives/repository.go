package archives

import (
	"context"

	"github.com/dmitrijs2005/docshare/internal/server/models"
)

// Repository stores immutable audit archives. There is no update path.
type Repository interface {
	Create(ctx context.Context, a *models.AuditArchive) error
	GetByID(ctx context.Context, id string) (*models.AuditArchive, error)
	Count(ctx context.Context) (int64, error)
}
