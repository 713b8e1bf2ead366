package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/docshare/internal/common"
	"github.com/dmitrijs2005/docshare/internal/server/auth"
	"github.com/dmitrijs2005/docshare/internal/server/models"
	"github.com/dmitrijs2005/docshare/internal/server/repositories/repomanager"
	"github.com/google/uuid"
)

// AccessService is the RBAC engine: owner > editor > viewer > none per
// document, with time-bounded grants. Every permission decision is audited.
type AccessService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	audit       Auditor
	clock       Clock
	requireMFA  bool
}

// NewAccessService constructs the engine. With requireMFA set, sessions
// that did not pass a second factor are denied every document action.
func NewAccessService(db *sql.DB, m repomanager.RepositoryManager, a Auditor, clock Clock, requireMFA bool) *AccessService {
	return &AccessService{
		db:          db,
		repomanager: m,
		audit:       a,
		clock:       clock,
		requireMFA:  requireMFA,
	}
}

// GetLevel returns the account's level on the document. Owners are
// derived from the document row; others from an unexpired grant. A missing
// or malformed document id yields LevelNone.
func (s *AccessService) GetLevel(ctx context.Context, accountID, documentID string) (models.Level, error) {
	if uuid.Validate(documentID) != nil {
		return models.LevelNone, nil
	}
	doc, err := s.repomanager.Documents(s.db).GetByID(ctx, documentID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return models.LevelNone, nil
		}
		return models.LevelNone, err
	}
	if doc.OwnerID == accountID {
		return models.LevelOwner, nil
	}

	p, err := s.repomanager.Permissions(s.db).GetActive(ctx, documentID, accountID, s.clock.Now())
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return models.LevelNone, nil
		}
		return models.LevelNone, err
	}
	return p.Level, nil
}

// CanAccess reports whether the account holds at least required.
func (s *AccessService) CanAccess(ctx context.Context, accountID, documentID string, required models.Level) (bool, error) {
	level, err := s.GetLevel(ctx, accountID, documentID)
	if err != nil {
		return false, err
	}
	return level >= required, nil
}

// CanPerform checks action against the account's level and audits the
// decision. A store failure denies and returns the error.
func (s *AccessService) CanPerform(ctx context.Context, accountID, documentID string, action models.Action) (bool, error) {
	required, known := action.RequiredLevel()
	if !known {
		s.recordDecision(ctx, accountID, documentID, false, map[string]any{
			"action": string(action),
			"reason": "unknown_action",
		}, "")
		return false, nil
	}

	level, err := s.GetLevel(ctx, accountID, documentID)
	if err != nil {
		s.recordDecision(ctx, accountID, documentID, false, map[string]any{
			"action":   string(action),
			"required": required.String(),
			"level":    "unknown",
		}, err.Error())
		return false, err
	}

	allowed := level >= required
	s.recordDecision(ctx, accountID, documentID, allowed, map[string]any{
		"action":   string(action),
		"required": required.String(),
		"level":    level.String(),
	}, "")
	return allowed, nil
}

// Authorize applies the MFA policy and then CanPerform. Denial yields
// common.ErrPermissionDenied.
func (s *AccessService) Authorize(ctx context.Context, sess auth.Session, documentID string, action models.Action) error {
	if err := s.CheckMFAPolicy(ctx, sess, documentID, action); err != nil {
		return err
	}

	ok, err := s.CanPerform(ctx, sess.AccountID, documentID, action)
	if err != nil {
		return fmt.Errorf("authorize %s: %w", action, err)
	}
	if !ok {
		return common.ErrPermissionDenied
	}
	return nil
}

// CheckMFAPolicy denies sessions without a verified second factor when
// MFA is required. It is also used for actions with no document yet.
func (s *AccessService) CheckMFAPolicy(ctx context.Context, sess auth.Session, documentID string, action models.Action) error {
	if !s.requireMFA || sess.MFAVerified {
		return nil
	}
	s.recordDecision(ctx, sess.AccountID, documentID, false, map[string]any{
		"action": string(action),
		"reason": "mfa_required",
	}, "")
	return common.ErrPermissionDenied
}

// Share grants target (an email or account id) level on the document, or
// updates the existing grant in place. The session must be allowed
// ActionShare under the MFA policy.
func (s *AccessService) Share(ctx context.Context, sess auth.Session, documentID, target string, level models.Level, expiresAt *time.Time) (*models.DocumentPermission, error) {
	if err := s.Authorize(ctx, sess, documentID, models.ActionShare); err != nil {
		return nil, err
	}

	ownerID := sess.AccountID
	now := s.clock.Now()
	fail := func(err error, meta map[string]any) (*models.DocumentPermission, error) {
		meta["target"] = target
		s.audit.Record(ctx, models.AuditEvent{
			AccountID:    ownerID,
			Action:       models.ActionAccessShared,
			DocumentID:   documentID,
			Success:      false,
			ErrorMessage: err.Error(),
			Metadata:     meta,
		})
		return nil, err
	}

	if !level.Grantable() {
		return fail(fmt.Errorf("%w: level must be viewer or editor", common.ErrValidation), map[string]any{"level": level.String()})
	}
	if expiresAt != nil && !expiresAt.After(now) {
		return fail(fmt.Errorf("%w: expiry must be in the future", common.ErrValidation), map[string]any{"expiresAt": expiresAt})
	}

	targetAcc, err := s.resolveAccount(ctx, target)
	if err != nil {
		return fail(err, map[string]any{})
	}
	if targetAcc.ID == ownerID {
		return fail(common.ErrSelfShare, map[string]any{})
	}

	p := &models.DocumentPermission{
		DocumentID: documentID,
		UserID:     targetAcc.ID,
		Email:      targetAcc.Email,
		Level:      level,
		GrantedBy:  ownerID,
		GrantedAt:  now,
		ExpiresAt:  expiresAt,
	}
	created, err := s.repomanager.Permissions(s.db).Upsert(ctx, p)
	if err != nil {
		return fail(err, map[string]any{"targetId": targetAcc.ID})
	}

	s.audit.Record(ctx, models.AuditEvent{
		AccountID:  ownerID,
		Action:     models.ActionAccessShared,
		DocumentID: documentID,
		Success:    true,
		Metadata: map[string]any{
			"targetId":  targetAcc.ID,
			"level":     level.String(),
			"expiresAt": expiresAt,
			"created":   created,
		},
	})
	return p, nil
}

// Revoke deletes the target's active grant and returns the level it had.
// An expired grant is left for PurgeExpiredGrants and reported as not found.
func (s *AccessService) Revoke(ctx context.Context, sess auth.Session, documentID, targetID string) (models.Level, error) {
	if err := s.Authorize(ctx, sess, documentID, models.ActionShare); err != nil {
		return models.LevelNone, err
	}

	ownerID := sess.AccountID
	var (
		prev models.Level
		err  error
	)
	if uuid.Validate(targetID) != nil {
		err = common.ErrGrantNotFound
	} else {
		prev, err = s.repomanager.Permissions(s.db).Delete(ctx, documentID, targetID, s.clock.Now())
	}
	if err != nil {
		s.audit.Record(ctx, models.AuditEvent{
			AccountID:    ownerID,
			Action:       models.ActionAccessRevoked,
			DocumentID:   documentID,
			Success:      false,
			ErrorMessage: err.Error(),
			Metadata:     map[string]any{"targetId": targetID},
		})
		return models.LevelNone, err
	}

	s.audit.Record(ctx, models.AuditEvent{
		AccountID:  ownerID,
		Action:     models.ActionAccessRevoked,
		DocumentID: documentID,
		Success:    true,
		Metadata:   map[string]any{"targetId": targetID, "previousLevel": prev.String()},
	})
	return prev, nil
}

// ListSharedWith returns the active grants on a document.
func (s *AccessService) ListSharedWith(ctx context.Context, documentID string) ([]*models.DocumentPermission, error) {
	return s.repomanager.Permissions(s.db).ListByDocument(ctx, documentID, s.clock.Now())
}

// ListAccessibleBy returns documents shared with the account through
// active grants.
func (s *AccessService) ListAccessibleBy(ctx context.Context, accountID string) ([]*models.AccessibleDocument, error) {
	return s.repomanager.Permissions(s.db).ListByUser(ctx, accountID, s.clock.Now())
}

// PurgeExpiredGrants physically deletes expired grants. Reads already
// ignore them, so this only reclaims space.
func (s *AccessService) PurgeExpiredGrants(ctx context.Context) (int64, error) {
	n, err := s.repomanager.Permissions(s.db).PurgeExpired(ctx, s.clock.Now())
	if err != nil {
		return 0, err
	}
	s.audit.Record(ctx, models.AuditEvent{
		AccountID: common.SystemAccountID,
		Action:    models.ActionGrantsPurged,
		Success:   true,
		Metadata:  map[string]any{"deleted": n},
	})
	return n, nil
}

func (s *AccessService) resolveAccount(ctx context.Context, target string) (*models.Account, error) {
	repo := s.repomanager.Accounts(s.db)

	var (
		acc *models.Account
		err error
	)
	switch {
	case strings.Contains(target, "@"):
		acc, err = repo.GetByEmail(ctx, NormalizeEmail(target))
	case uuid.Validate(target) == nil:
		acc, err = repo.GetByID(ctx, target)
	default:
		return nil, common.ErrAccountNotFound
	}
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrAccountNotFound
		}
		return nil, err
	}
	return acc, nil
}

func (s *AccessService) recordDecision(ctx context.Context, accountID, documentID string, allowed bool, meta map[string]any, errMsg string) {
	action := models.ActionAccessDenied
	if allowed {
		action = models.ActionAccessGranted
	}
	s.audit.Record(ctx, models.AuditEvent{
		AccountID:    accountID,
		Action:       action,
		DocumentID:   documentID,
		Success:      allowed,
		ErrorMessage: errMsg,
		Metadata:     meta,
	})
}
