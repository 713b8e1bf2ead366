package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/docshare/internal/common"
	"github.com/dmitrijs2005/docshare/internal/server/auth"
	"github.com/dmitrijs2005/docshare/internal/server/models"
)

// LoginResult is what a login step hands back to the transport. Exactly
// one of Session and Pending is set.
type LoginResult struct {
	Carrier string
	MaxAge  time.Duration
	Session *auth.Session
	Pending *auth.MFAPending
}

// MFARequired reports whether the caller must still present a second factor.
func (r *LoginResult) MFARequired() bool {
	return r.Pending != nil
}

// LoginService drives the two-step login: password, then (if enrolled) a
// TOTP or backup code, then a session.
type LoginService struct {
	credentials *CredentialService
	mfa         *MFAService
	sessions    *SessionService
	audit       Auditor
	clock       Clock
}

func NewLoginService(creds *CredentialService, mfa *MFAService, sessions *SessionService, a Auditor, clock Clock) *LoginService {
	return &LoginService{
		credentials: creds,
		mfa:         mfa,
		sessions:    sessions,
		audit:       a,
		clock:       clock,
	}
}

// Login checks the password. Accounts with MFA get a pending carrier;
// others get a session straight away.
func (s *LoginService) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	res, err := s.credentials.Authenticate(ctx, email, password)
	if err != nil {
		return nil, err
	}

	switch res.Status {
	case AuthLocked:
		return nil, common.ErrAccountLocked
	case AuthInvalid:
		return nil, common.ErrInvalidCredentials
	}

	acc := res.Account
	now := s.clock.Now()

	if acc.MFAEnabled {
		carrier, pending, err := s.sessions.IssuePending(acc, now)
		if err != nil {
			return nil, err
		}
		return &LoginResult{Carrier: carrier, MaxAge: s.sessions.PendingTTL(), Pending: &pending}, nil
	}

	return s.startSession(ctx, acc, false, "password", now)
}

// CompleteMFA finishes a pending login. Wrong codes count towards the
// account lockout.
func (s *LoginService) CompleteMFA(ctx context.Context, pending auth.MFAPending, code string, useBackupCode bool) (*LoginResult, error) {
	acc, err := s.credentials.Account(ctx, pending.AccountID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrorUnauthorized
		}
		return nil, err
	}

	now := s.clock.Now()
	if acc.IsLocked(now) {
		return nil, common.ErrAccountLocked
	}

	factor := "totp"
	if useBackupCode {
		factor = "backup_code"
		err = s.mfa.VerifyBackupCode(ctx, acc.ID, code)
	} else {
		err = s.mfa.VerifyCode(ctx, acc.ID, code)
	}
	if err != nil {
		if !errors.Is(err, common.ErrInvalidMFACode) {
			return nil, err
		}
		res, ferr := s.credentials.RecordMFAFailure(ctx, acc)
		if ferr != nil {
			return nil, ferr
		}
		if res.Status == AuthLocked {
			return nil, common.ErrAccountLocked
		}
		return nil, common.ErrInvalidMFACode
	}

	if acc.FailedAttempts != 0 {
		if err := s.credentials.ResetFailures(ctx, acc.ID); err != nil {
			if errors.Is(err, common.ErrAccountLocked) {
				return nil, common.ErrAccountLocked
			}
			return nil, fmt.Errorf("error resetting failed attempts: %w", err)
		}
	}

	return s.startSession(ctx, acc, true, factor, now)
}

// Logout audits the end of the session carried by carrier.
func (s *LoginService) Logout(ctx context.Context, carrier string) {
	s.sessions.Destroy(ctx, carrier)
}

func (s *LoginService) startSession(ctx context.Context, acc *models.Account, mfaVerified bool, factor string, now time.Time) (*LoginResult, error) {
	carrier, sess, err := s.sessions.Issue(acc, mfaVerified, now)
	if err != nil {
		return nil, err
	}

	s.audit.Record(ctx, models.AuditEvent{
		AccountID: acc.ID,
		Action:    models.ActionLoginSuccess,
		Success:   true,
		Metadata:  map[string]any{"email": acc.Email, "factor": factor, "mfaVerified": mfaVerified},
	})

	return &LoginResult{Carrier: carrier, MaxAge: s.sessions.CookieMaxAge(sess, now), Session: &sess}, nil
}
