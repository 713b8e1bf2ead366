package auditlogs

import (
	"context"
	"time"

	"github.com/dmitrijs2005/docshare/internal/server/models"
)

// Repository is the append-only store of audit records. The only update
// it offers is the archived flag flip.
type Repository interface {
	Insert(ctx context.Context, rec *models.AuditRecord) error
	LockUnarchivedBefore(ctx context.Context, cutoff time.Time) ([]models.AuditRecord, error)
	MarkArchived(ctx context.Context, cutoff time.Time, maxID int64) (int64, error)
	History(ctx context.Context, accountID string, limit int) ([]models.AuditRecord, error)
	Stats(ctx context.Context, retentionCutoff time.Time) (*models.AuditStats, error)
}
