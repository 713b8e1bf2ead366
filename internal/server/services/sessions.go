package services

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/docshare/internal/common"
	"github.com/dmitrijs2005/docshare/internal/server/auth"
	"github.com/dmitrijs2005/docshare/internal/server/config"
	"github.com/dmitrijs2005/docshare/internal/server/models"
)

// ExpiryReason tells which ceiling voided a session.
type ExpiryReason string

const (
	ExpiryInactivity  ExpiryReason = "inactivity"
	ExpiryMaxDuration ExpiryReason = "max_duration"
)

// SessionExpiredError is returned by Validate. Callers that only care that
// the session is gone match it with errors.Is(err, common.ErrSessionExpired).
type SessionExpiredError struct {
	Reason ExpiryReason
}

func (e *SessionExpiredError) Error() string {
	return fmt.Sprintf("session expired: %s", e.Reason)
}

func (e *SessionExpiredError) Is(target error) bool {
	return target == common.ErrSessionExpired
}

// carrierGrace keeps a signed session decodable for a while past its max
// duration so Validate can still name the reason it died.
const carrierGrace = time.Hour

// SessionService issues, validates and refreshes session carriers. No
// session state is kept on the server.
type SessionService struct {
	codec       *auth.Codec
	audit       Auditor
	inactivity  time.Duration
	maxDuration time.Duration
	pendingTTL  time.Duration
}

func NewSessionService(a Auditor, cfg *config.Config) *SessionService {
	return &SessionService{
		codec:       auth.NewCodec([]byte(cfg.SecretKey)),
		audit:       a,
		inactivity:  cfg.SessionInactivityTimeout,
		maxDuration: cfg.SessionMaxDuration,
		pendingTTL:  cfg.MFAPendingTTL,
	}
}

// Issue starts a session for acc at now. The login flow audits it.
func (s *SessionService) Issue(acc *models.Account, mfaVerified bool, now time.Time) (string, auth.Session, error) {
	sess := auth.Session{
		AccountID:    acc.ID,
		Email:        acc.Email,
		CreatedAt:    now,
		LastActivity: now,
		MFAVerified:  mfaVerified,
	}
	carrier, err := s.encode(sess)
	if err != nil {
		return "", auth.Session{}, err
	}
	return carrier, sess, nil
}

// IssuePending returns a short-lived carrier for a login awaiting its
// second factor.
func (s *SessionService) IssuePending(acc *models.Account, now time.Time) (string, auth.MFAPending, error) {
	p := auth.MFAPending{
		AccountID: acc.ID,
		Email:     acc.Email,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.pendingTTL),
	}
	carrier, err := s.codec.EncodePending(p)
	if err != nil {
		return "", auth.MFAPending{}, fmt.Errorf("error signing carrier: %w", err)
	}
	return carrier, p, nil
}

// Decode maps a carrier to its authentication state.
func (s *SessionService) Decode(carrier string, now time.Time) auth.State {
	return s.codec.Decode(carrier, now)
}

// Validate voids the session when either ceiling is exceeded. The two
// checks are independent: activity never extends past maxDuration.
func (s *SessionService) Validate(ctx context.Context, sess auth.Session, now time.Time) error {
	var reason ExpiryReason
	switch {
	case now.Sub(sess.CreatedAt) > s.maxDuration:
		reason = ExpiryMaxDuration
	case now.Sub(sess.LastActivity) > s.inactivity:
		reason = ExpiryInactivity
	default:
		return nil
	}

	s.audit.Record(ctx, models.AuditEvent{
		AccountID: sess.AccountID,
		Action:    models.ActionSessionExpired,
		Success:   true,
		Metadata: map[string]any{
			"reason":       string(reason),
			"createdAt":    sess.CreatedAt,
			"lastActivity": sess.LastActivity,
		},
	})
	return &SessionExpiredError{Reason: reason}
}

// Touch moves last activity to now and re-signs. It runs on every
// authorized request and writes no audit record.
func (s *SessionService) Touch(sess auth.Session, now time.Time) (string, auth.Session, error) {
	sess.LastActivity = now
	carrier, err := s.encode(sess)
	if err != nil {
		return "", auth.Session{}, err
	}
	return carrier, sess, nil
}

// Extend is an explicit keep-alive: it validates, then touches.
func (s *SessionService) Extend(ctx context.Context, sess auth.Session, now time.Time) (string, auth.Session, error) {
	if err := s.Validate(ctx, sess, now); err != nil {
		return "", auth.Session{}, err
	}
	return s.Touch(sess, now)
}

// Destroy audits a logout using a best-effort read of the carrier. The
// transport clears the cookie.
func (s *SessionService) Destroy(ctx context.Context, carrier string) {
	accountID := common.UnknownAccountID
	meta := map[string]any{}
	if claims, err := s.codec.Peek(carrier); err == nil {
		accountID = claims.Subject
		meta["phase"] = string(claims.Phase)
	} else {
		meta["reason"] = "no_valid_session"
	}

	s.audit.Record(ctx, models.AuditEvent{
		AccountID: accountID,
		Action:    models.ActionLogout,
		Success:   true,
		Metadata:  meta,
	})
}

// ExpiresAt is the absolute end of the session.
func (s *SessionService) ExpiresAt(sess auth.Session) time.Time {
	return sess.CreatedAt.Add(s.maxDuration)
}

// CookieMaxAge is how long the browser should keep the carrier.
func (s *SessionService) CookieMaxAge(sess auth.Session, now time.Time) time.Duration {
	return s.ExpiresAt(sess).Sub(now)
}

// PendingTTL is the lifetime of a pending-MFA carrier.
func (s *SessionService) PendingTTL() time.Duration {
	return s.pendingTTL
}

func (s *SessionService) encode(sess auth.Session) (string, error) {
	carrier, err := s.codec.EncodeSession(sess, s.ExpiresAt(sess).Add(carrierGrace))
	if err != nil {
		return "", fmt.Errorf("error signing carrier: %w", err)
	}
	return carrier, nil
}
