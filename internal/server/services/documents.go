package services

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dmitrijs2005/docshare/internal/common"
	"github.com/dmitrijs2005/docshare/internal/logging"
	"github.com/dmitrijs2005/docshare/internal/server/auth"
	"github.com/dmitrijs2005/docshare/internal/server/models"
	"github.com/dmitrijs2005/docshare/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/docshare/internal/server/storage"
)

// DownloadLink is a time-limited URL for the document body.
type DownloadLink struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// DocumentService stores document metadata in Postgres and bodies in
// object storage. Every read and write goes through AccessService first.
type DocumentService struct {
	db           *sql.DB
	repomanager  repomanager.RepositoryManager
	store        storage.ObjectStore
	access       *AccessService
	audit        Auditor
	logger       logging.Logger
	clock        Clock
	signedURLTTL time.Duration
}

func NewDocumentService(db *sql.DB, m repomanager.RepositoryManager, store storage.ObjectStore, access *AccessService,
	a Auditor, logger logging.Logger, clock Clock, signedURLTTL time.Duration) *DocumentService {
	return &DocumentService{
		db:           db,
		repomanager:  m,
		store:        store,
		access:       access,
		audit:        a,
		logger:       logger.With("module", "documents"),
		clock:        clock,
		signedURLTTL: signedURLTTL,
	}
}

// Upload stores body and creates the metadata row with the session's
// account as owner.
func (s *DocumentService) Upload(ctx context.Context, sess auth.Session, title, contentType string, body io.ReadSeeker, size int64) (*models.Document, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", common.ErrValidation)
	}
	if size <= 0 {
		return nil, fmt.Errorf("%w: empty document", common.ErrValidation)
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if err := s.access.CheckMFAPolicy(ctx, sess, "", models.ActionUploadVersion); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	key := storage.NewStorageKey(sess.AccountID, now)
	if err := s.store.PutObject(ctx, key, body, size, contentType); err != nil {
		return nil, fmt.Errorf("error storing document: %w", err)
	}

	doc, err := s.repomanager.Documents(s.db).Create(ctx, &models.Document{
		OwnerID:     sess.AccountID,
		Title:       title,
		StorageKey:  key,
		ContentType: contentType,
		SizeBytes:   size,
		CreatedAt:   now,
	})
	if err != nil {
		if derr := s.store.DeleteObject(context.WithoutCancel(ctx), key); derr != nil {
			s.logger.Warn(ctx, "orphaned object after failed insert", "key", key, "error", derr.Error())
		}
		return nil, err
	}

	s.audit.Record(ctx, models.AuditEvent{
		AccountID:  sess.AccountID,
		Action:     models.ActionDocumentUploaded,
		DocumentID: doc.ID,
		Success:    true,
		Metadata:   map[string]any{"title": doc.Title, "sizeBytes": doc.SizeBytes, "contentType": doc.ContentType},
	})
	return doc, nil
}

// Get returns the document metadata when the session may view it.
func (s *DocumentService) Get(ctx context.Context, sess auth.Session, documentID string) (*models.Document, error) {
	if err := s.access.Authorize(ctx, sess, documentID, models.ActionView); err != nil {
		return nil, err
	}
	return s.repomanager.Documents(s.db).GetByID(ctx, documentID)
}

// Download authorizes the download and only then asks storage for a
// signed URL.
func (s *DocumentService) Download(ctx context.Context, sess auth.Session, documentID string) (*DownloadLink, error) {
	if err := s.access.Authorize(ctx, sess, documentID, models.ActionDownload); err != nil {
		return nil, err
	}
	doc, err := s.repomanager.Documents(s.db).GetByID(ctx, documentID)
	if err != nil {
		return nil, err
	}

	url, err := s.store.SignedURL(ctx, doc.StorageKey, s.signedURLTTL)
	if err != nil {
		return nil, fmt.Errorf("error signing url: %w", err)
	}
	return &DownloadLink{URL: url, ExpiresAt: s.clock.Now().Add(s.signedURLTTL)}, nil
}

// Delete removes the document, its grants and its body. Only the owner may
// delete.
func (s *DocumentService) Delete(ctx context.Context, sess auth.Session, documentID string) error {
	if err := s.access.Authorize(ctx, sess, documentID, models.ActionDelete); err != nil {
		return err
	}
	repo := s.repomanager.Documents(s.db)
	doc, err := repo.GetByID(ctx, documentID)
	if err != nil {
		return err
	}
	if err := repo.Delete(ctx, documentID); err != nil {
		return err
	}
	if err := s.store.DeleteObject(ctx, doc.StorageKey); err != nil {
		s.logger.Warn(ctx, "error deleting object", "key", doc.StorageKey, "error", err.Error())
	}

	s.audit.Record(ctx, models.AuditEvent{
		AccountID:  sess.AccountID,
		Action:     models.ActionDocumentDeleted,
		DocumentID: documentID,
		Success:    true,
		Metadata:   map[string]any{"title": doc.Title},
	})
	return nil
}

// ListOwned returns the documents owned by the session's account.
func (s *DocumentService) ListOwned(ctx context.Context, sess auth.Session) ([]*models.Document, error) {
	return s.repomanager.Documents(s.db).ListByOwner(ctx, sess.AccountID)
}

// ListShared returns documents shared with the session's account.
func (s *DocumentService) ListShared(ctx context.Context, sess auth.Session) ([]*models.AccessibleDocument, error) {
	return s.access.ListAccessibleBy(ctx, sess.AccountID)
}

// ListShares returns the active grants on a document the session owns.
func (s *DocumentService) ListShares(ctx context.Context, sess auth.Session, documentID string) ([]*models.DocumentPermission, error) {
	if err := s.access.Authorize(ctx, sess, documentID, models.ActionListShares); err != nil {
		return nil, err
	}
	return s.access.ListSharedWith(ctx, documentID)
}
