// Package services contains the server-side business logic: the audit sink,
// credential checks with lockout, the MFA engine, sessions, document access
// control and the flows that combine them.
package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dmitrijs2005/docshare/internal/common"
	"github.com/dmitrijs2005/docshare/internal/cryptox"
	"github.com/dmitrijs2005/docshare/internal/dbx"
	"github.com/dmitrijs2005/docshare/internal/logging"
	"github.com/dmitrijs2005/docshare/internal/server/audit"
	"github.com/dmitrijs2005/docshare/internal/server/models"
	"github.com/dmitrijs2005/docshare/internal/server/repositories/repomanager"
	"github.com/google/uuid"
)

// Auditor is the write side of the audit sink.
type Auditor interface {
	Record(ctx context.Context, ev models.AuditEvent)
}

// IntegrityError reports an archive whose stored checksum does not match
// its content. It matches common.ErrIntegrityViolation.
type IntegrityError struct {
	ArchiveID string
	Expected  string
	Actual    string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("archive %s: checksum mismatch (stored %s, computed %s)", e.ArchiveID, e.Expected, e.Actual)
}

func (e *IntegrityError) Is(target error) bool {
	return target == common.ErrIntegrityViolation
}

// AuditService is the append-only sink for security events plus archival
// and read-back of compacted batches.
type AuditService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	logger      logging.Logger
	clock       Clock
	failures    atomic.Int64
}

func NewAuditService(db *sql.DB, m repomanager.RepositoryManager, logger logging.Logger, clock Clock) *AuditService {
	return &AuditService{
		db:          db,
		repomanager: m,
		logger:      logger.With("module", "audit"),
		clock:       clock,
	}
}

// Record persists ev. It never fails from the caller's point of view:
// store errors are logged and counted in Failures.
func (s *AuditService) Record(ctx context.Context, ev models.AuditEvent) {
	if !ev.Action.Valid() {
		s.failures.Add(1)
		s.logger.Error(ctx, "audit event with unknown action dropped", "action", string(ev.Action))
		return
	}

	info := audit.RequestInfoFrom(ctx)
	rec := &models.AuditRecord{
		AccountID: ev.AccountID,
		Action:    ev.Action,
		Success:   ev.Success,
		Metadata:  ev.Metadata,
		IPAddress: info.IP,
		UserAgent: info.UserAgent,
	}
	if rec.AccountID == "" {
		rec.AccountID = common.UnknownAccountID
	}
	if ev.DocumentID != "" {
		rec.DocumentID = &ev.DocumentID
	}
	if ev.ErrorMessage != "" {
		rec.ErrorMessage = &ev.ErrorMessage
	}

	// The write must survive a client hanging up mid-request.
	ctx = context.WithoutCancel(ctx)
	if err := s.repomanager.AuditLogs(s.db).Insert(ctx, rec); err != nil {
		n := s.failures.Add(1)
		s.logger.Error(ctx, "audit write failed",
			"error", err.Error(),
			"action", string(rec.Action),
			"account_id", rec.AccountID,
			"failures", n)
	}
}

// Failures returns how many audit writes have been lost since start.
func (s *AuditService) Failures() int64 {
	return s.failures.Load()
}

// Archive compacts unarchived records older than olderThanDays into one
// checksummed AuditArchive and flags the source rows as archived, all in
// one transaction. It returns nil, nil when nothing is eligible.
func (s *AuditService) Archive(ctx context.Context, olderThanDays int) (*models.AuditArchive, error) {
	if olderThanDays < 0 {
		return nil, fmt.Errorf("%w: olderThanDays must not be negative", common.ErrValidation)
	}
	cutoff := s.clock.Now().Add(-time.Duration(olderThanDays) * 24 * time.Hour)

	var archive *models.AuditArchive
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		records, err := s.repomanager.AuditLogs(tx).LockUnarchivedBefore(ctx, cutoff)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			return nil
		}

		batch, err := json.Marshal(records)
		if err != nil {
			return fmt.Errorf("archive encode error: %w", err)
		}

		a := &models.AuditArchive{
			ID:          uuid.NewString(),
			Records:     batch,
			Checksum:    cryptox.Checksum(batch),
			RecordCount: len(records),
			PeriodStart: records[0].CreatedAt,
			PeriodEnd:   records[len(records)-1].CreatedAt,
		}
		var maxID int64
		for _, r := range records {
			if r.ID > maxID {
				maxID = r.ID
			}
		}

		if err := s.repomanager.Archives(tx).Create(ctx, a); err != nil {
			return err
		}
		n, err := s.repomanager.AuditLogs(tx).MarkArchived(ctx, cutoff, maxID)
		if err != nil {
			return err
		}
		if n != int64(len(records)) {
			return fmt.Errorf("archive: flagged %d records, selected %d", n, len(records))
		}
		archive = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	if archive == nil {
		s.logger.Info(ctx, "nothing to archive", "cutoff", cutoff)
		return nil, nil
	}

	s.logger.Info(ctx, "audit records archived", "archive_id", archive.ID, "records", archive.RecordCount)
	s.Record(ctx, models.AuditEvent{
		AccountID: common.SystemAccountID,
		Action:    models.ActionAuditArchived,
		Success:   true,
		Metadata: map[string]any{
			"archiveId":   archive.ID,
			"recordCount": archive.RecordCount,
			"checksum":    archive.Checksum,
			"periodStart": archive.PeriodStart,
			"periodEnd":   archive.PeriodEnd,
		},
	})
	return archive, nil
}

// ReadArchive returns the records of an archive after re-verifying its
// checksum. A mismatch yields *IntegrityError.
func (s *AuditService) ReadArchive(ctx context.Context, id string) ([]models.AuditRecord, error) {
	a, err := s.repomanager.Archives(s.db).GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if !cryptox.VerifyChecksum(a.Records, a.Checksum) {
		ie := &IntegrityError{ArchiveID: a.ID, Expected: a.Checksum, Actual: cryptox.Checksum(a.Records)}
		s.logger.Error(ctx, "audit archive checksum mismatch",
			"integrity_violation", true,
			"archive_id", a.ID,
			"stored", ie.Expected,
			"computed", ie.Actual)
		s.Record(ctx, models.AuditEvent{
			AccountID:    common.SystemAccountID,
			Action:       models.ActionAuditIntegrityViolated,
			Success:      false,
			ErrorMessage: ie.Error(),
			Metadata:     map[string]any{"archiveId": a.ID},
		})
		return nil, ie
	}

	var records []models.AuditRecord
	if err := json.Unmarshal(a.Records, &records); err != nil {
		return nil, fmt.Errorf("archive decode error: %w", err)
	}
	if len(records) != a.RecordCount {
		return nil, fmt.Errorf("archive %s: holds %d records, header says %d", a.ID, len(records), a.RecordCount)
	}
	return records, nil
}

// Stats aggregates the hot table and counts stored archives.
func (s *AuditService) Stats(ctx context.Context, retentionDays int) (*models.AuditStats, error) {
	cutoff := s.clock.Now().Add(-time.Duration(retentionDays) * 24 * time.Hour)

	stats, err := s.repomanager.AuditLogs(s.db).Stats(ctx, cutoff)
	if err != nil {
		return nil, err
	}
	n, err := s.repomanager.Archives(s.db).Count(ctx)
	if err != nil {
		return nil, err
	}
	stats.Archives = n
	return stats, nil
}

// History returns up to limit of the account's latest records, oldest first.
func (s *AuditService) History(ctx context.Context, accountID string, limit int) ([]models.AuditRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	records, err := s.repomanager.AuditLogs(s.db).History(ctx, accountID, limit)
	if err != nil {
		return nil, err
	}
	return records, nil
}

// IsIntegrityViolation reports whether err stems from a tampered archive.
func IsIntegrityViolation(err error) bool {
	return errors.Is(err, common.ErrIntegrityViolation)
}
