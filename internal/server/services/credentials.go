package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/dmitrijs2005/docshare/internal/common"
	"github.com/dmitrijs2005/docshare/internal/server/config"
	"github.com/dmitrijs2005/docshare/internal/server/models"
	"github.com/dmitrijs2005/docshare/internal/server/repositories/repomanager"
	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"
)

// AuthStatus is the outcome of a credential check.
type AuthStatus int

const (
	AuthInvalid AuthStatus = iota
	AuthOK
	AuthLocked
)

func (s AuthStatus) String() string {
	switch s {
	case AuthOK:
		return "ok"
	case AuthLocked:
		return "locked"
	default:
		return "invalid"
	}
}

// AuthResult carries the status and, for AuthOK, the account.
type AuthResult struct {
	Status         AuthStatus
	Account        *models.Account
	FailedAttempts int
	LockedUntil    *time.Time
}

// dummyHash is compared against when the email is unknown so both paths
// spend one bcrypt comparison.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("docshare-timing-equalizer"), bcrypt.DefaultCost)

// CredentialService verifies passwords and enforces attempt-count lockout.
type CredentialService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	audit       Auditor
	clock       Clock
	validate    *validator.Validate
	threshold   int
	lockout     time.Duration
	bcryptCost  int
}

// NewCredentialService constructs a CredentialService using lockout
// settings from cfg.
func NewCredentialService(db *sql.DB, m repomanager.RepositoryManager, a Auditor, cfg *config.Config, clock Clock) *CredentialService {
	return &CredentialService{
		db:          db,
		repomanager: m,
		audit:       a,
		clock:       clock,
		validate:    validator.New(),
		threshold:   cfg.LockoutThreshold,
		lockout:     cfg.LockoutDuration,
		bcryptCost:  bcrypt.DefaultCost,
	}
}

// NormalizeEmail trims and lower-cases an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidatePassword is the password-strength predicate: at least 8
// characters with at least one letter and one digit.
func ValidatePassword(password string) error {
	if len([]rune(password)) < 8 {
		return fmt.Errorf("%w: password must be at least 8 characters", common.ErrValidation)
	}
	var letter, digit bool
	for _, r := range password {
		switch {
		case unicode.IsLetter(r):
			letter = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	if !letter || !digit {
		return fmt.Errorf("%w: password must contain a letter and a digit", common.ErrValidation)
	}
	return nil
}

// Register creates an account. A taken email yields common.ErrAlreadyExists.
func (s *CredentialService) Register(ctx context.Context, email, password string) (*models.Account, error) {
	email = NormalizeEmail(email)
	if err := s.validate.Var(email, "required,email,max=254"); err != nil {
		return nil, fmt.Errorf("%w: invalid email", common.ErrValidation)
	}
	if err := ValidatePassword(password); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("error hashing password: %w", err)
	}

	acc, err := s.repomanager.Accounts(s.db).Create(ctx, &models.Account{Email: email, PasswordHash: string(hash)})
	if err != nil {
		return nil, err
	}

	s.audit.Record(ctx, models.AuditEvent{
		AccountID: acc.ID,
		Action:    models.ActionAccountCreated,
		Success:   true,
		Metadata:  map[string]any{"email": email},
	})
	return acc, nil
}

// Authenticate checks email and password. Unknown emails and wrong
// passwords both yield AuthInvalid. A store error is returned as an error
// and never as AuthOK.
func (s *CredentialService) Authenticate(ctx context.Context, email, password string) (*AuthResult, error) {
	email = NormalizeEmail(email)
	repo := s.repomanager.Accounts(s.db)

	acc, err := repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
			s.audit.Record(ctx, models.AuditEvent{
				AccountID: common.UnknownAccountID,
				Action:    models.ActionLoginFailed,
				Success:   false,
				Metadata:  map[string]any{"email": email, "reason": "unknown_email"},
			})
			return &AuthResult{Status: AuthInvalid}, nil
		}
		return nil, fmt.Errorf("error loading account: %w", err)
	}

	now := s.clock.Now()
	if acc.IsLocked(now) {
		s.audit.Record(ctx, models.AuditEvent{
			AccountID: acc.ID,
			Action:    models.ActionLoginFailed,
			Success:   false,
			Metadata: map[string]any{
				"email":       email,
				"reason":      "locked",
				"lockedUntil": acc.LockoutUntil,
			},
		})
		return &AuthResult{Status: AuthLocked, FailedAttempts: acc.FailedAttempts, LockedUntil: acc.LockoutUntil}, nil
	}

	if !s.VerifyPassword(acc, password) {
		return s.recordFailure(ctx, acc, now, "invalid_password")
	}

	if acc.FailedAttempts != 0 || acc.LockoutUntil != nil {
		if err := repo.ResetFailedLogins(ctx, acc.ID, now); err != nil {
			if errors.Is(err, common.ErrAccountLocked) {
				return s.lockedConcurrently(ctx, acc)
			}
			return nil, fmt.Errorf("error resetting failed attempts: %w", err)
		}
		acc.FailedAttempts = 0
		acc.LockoutUntil = nil
	}
	return &AuthResult{Status: AuthOK, Account: acc}, nil
}

// lockedConcurrently reports a lockout set by a parallel failure after the
// password check passed.
func (s *CredentialService) lockedConcurrently(ctx context.Context, acc *models.Account) (*AuthResult, error) {
	if cur, err := s.repomanager.Accounts(s.db).GetByID(ctx, acc.ID); err == nil {
		acc = cur
	}
	s.audit.Record(ctx, models.AuditEvent{
		AccountID: acc.ID,
		Action:    models.ActionLoginFailed,
		Success:   false,
		Metadata: map[string]any{
			"email":       acc.Email,
			"reason":      "locked",
			"lockedUntil": acc.LockoutUntil,
		},
	})
	return &AuthResult{Status: AuthLocked, FailedAttempts: acc.FailedAttempts, LockedUntil: acc.LockoutUntil}, nil
}

// RecordMFAFailure counts a failed second-factor attempt against the same
// lockout counter as wrong passwords.
func (s *CredentialService) RecordMFAFailure(ctx context.Context, acc *models.Account) (*AuthResult, error) {
	return s.recordFailure(ctx, acc, s.clock.Now(), "invalid_mfa_code")
}

// ResetFailures clears the counter after a completed login. It returns
// common.ErrAccountLocked if the account was locked in the meantime.
func (s *CredentialService) ResetFailures(ctx context.Context, accountID string) error {
	return s.repomanager.Accounts(s.db).ResetFailedLogins(ctx, accountID, s.clock.Now())
}

// Account loads an account by id.
func (s *CredentialService) Account(ctx context.Context, id string) (*models.Account, error) {
	return s.repomanager.Accounts(s.db).GetByID(ctx, id)
}

// VerifyPassword compares password against the stored bcrypt hash.
func (s *CredentialService) VerifyPassword(acc *models.Account, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(acc.PasswordHash), []byte(password)) == nil
}

func (s *CredentialService) recordFailure(ctx context.Context, acc *models.Account, now time.Time, reason string) (*AuthResult, error) {
	fl, err := s.repomanager.Accounts(s.db).RecordFailedLogin(ctx, acc.ID, now, s.threshold, s.lockout)
	if err != nil {
		s.audit.Record(ctx, models.AuditEvent{
			AccountID:    acc.ID,
			Action:       models.ActionLoginFailed,
			Success:      false,
			ErrorMessage: err.Error(),
			Metadata:     map[string]any{"email": acc.Email, "reason": reason},
		})
		return nil, fmt.Errorf("error recording failed attempt: %w", err)
	}

	s.audit.Record(ctx, models.AuditEvent{
		AccountID: acc.ID,
		Action:    models.ActionLoginFailed,
		Success:   false,
		Metadata: map[string]any{
			"email":          acc.Email,
			"reason":         reason,
			"failedAttempts": fl.FailedAttempts,
		},
	})

	res := &AuthResult{Status: AuthInvalid, FailedAttempts: fl.FailedAttempts, LockedUntil: fl.LockoutUntil}
	if fl.LockoutUntil != nil && fl.LockoutUntil.After(now) {
		res.Status = AuthLocked
		if fl.FailedAttempts == s.threshold {
			s.audit.Record(ctx, models.AuditEvent{
				AccountID: acc.ID,
				Action:    models.ActionAccountLocked,
				Success:   true,
				Metadata: map[string]any{
					"failedAttempts": fl.FailedAttempts,
					"lockedUntil":    fl.LockoutUntil,
				},
			})
		}
	}
	return res, nil
}
