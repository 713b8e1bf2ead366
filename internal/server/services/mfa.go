package services

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/base32"
	"encoding/base64"
	"fmt"
	"image/png"
	"strings"

	"github.com/dmitrijs2005/docshare/internal/common"
	"github.com/dmitrijs2005/docshare/internal/cryptox"
	"github.com/dmitrijs2005/docshare/internal/dbx"
	"github.com/dmitrijs2005/docshare/internal/server/config"
	"github.com/dmitrijs2005/docshare/internal/server/models"
	"github.com/dmitrijs2005/docshare/internal/server/repositories/repomanager"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	totpPeriod     = 30
	totpSkew       = 1
	totpSecretSize = 20
	qrSize         = 200

	backupCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	backupCodeLength   = 10
)

var totpValidateOpts = totp.ValidateOpts{
	Period:    totpPeriod,
	Skew:      totpSkew,
	Digits:    otp.DigitsSix,
	Algorithm: otp.AlgorithmSHA1,
}

var mfaKeySalt = []byte("docshare/mfa-secret/v1")

// MFASetup is returned when setup starts. Nothing is persisted until the
// caller proves possession with CompleteSetup.
type MFASetup struct {
	Secret string `json:"secret"`
	URL    string `json:"otpauthUrl"`
	QRCode string `json:"qrCode"`
}

// MFAStatus summarizes an account's second factor.
type MFAStatus struct {
	Enabled              bool `json:"enabled"`
	RemainingBackupCodes int  `json:"remainingBackupCodes"`
}

// MFAService implements TOTP enrollment and verification plus single-use
// backup codes. TOTP secrets are sealed with AES-GCM at rest and backup
// codes are stored only as peppered HMAC-SHA256 digests.
type MFAService struct {
	db              *sql.DB
	repomanager     repomanager.RepositoryManager
	audit           Auditor
	credentials     *CredentialService
	clock           Clock
	issuer          string
	backupCodeCount int
	secretKey       []byte
	codePepper      []byte
}

func NewMFAService(db *sql.DB, m repomanager.RepositoryManager, a Auditor, creds *CredentialService, cfg *config.Config, clock Clock) *MFAService {
	key := cryptox.DeriveKey([]byte(cfg.EncryptionKey), mfaKeySalt)
	return &MFAService{
		db:              db,
		repomanager:     m,
		audit:           a,
		credentials:     creds,
		clock:           clock,
		issuer:          cfg.MFAIssuer,
		backupCodeCount: cfg.BackupCodeCount,
		secretKey:       key,
		codePepper:      []byte(cryptox.HMACHex(key, "backup-code-pepper")),
	}
}

// InitiateSetup generates a fresh TOTP secret with its provisioning URL and
// QR code.
func (s *MFAService) InitiateSetup(ctx context.Context, accountID string) (*MFASetup, error) {
	acc, err := s.repomanager.Accounts(s.db).GetByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if acc.MFAEnabled {
		return nil, common.ErrMFAAlreadyEnabled
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.issuer,
		AccountName: acc.Email,
		Period:      totpPeriod,
		SecretSize:  totpSecretSize,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, fmt.Errorf("error generating totp key: %w", err)
	}

	img, err := key.Image(qrSize, qrSize)
	if err != nil {
		return nil, fmt.Errorf("error rendering qr code: %w", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("error encoding qr code: %w", err)
	}

	s.audit.Record(ctx, models.AuditEvent{
		AccountID: accountID,
		Action:    models.ActionMFASetupInitiated,
		Success:   true,
	})

	return &MFASetup{
		Secret: key.Secret(),
		URL:    key.URL(),
		QRCode: base64.StdEncoding.EncodeToString(buf.Bytes()),
	}, nil
}

// CompleteSetup enables MFA if code is valid for secret. It returns the
// plaintext backup codes, which are never retrievable again.
func (s *MFAService) CompleteSetup(ctx context.Context, accountID, secret, code string) ([]string, error) {
	acc, err := s.repomanager.Accounts(s.db).GetByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if acc.MFAEnabled {
		return nil, common.ErrMFAAlreadyEnabled
	}

	secret = strings.ToUpper(strings.TrimSpace(secret))
	if _, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(strings.TrimRight(secret, "=")); err != nil || secret == "" {
		return nil, fmt.Errorf("%w: malformed secret", common.ErrValidation)
	}

	if !s.validTOTP(secret, code) {
		s.audit.Record(ctx, models.AuditEvent{
			AccountID: accountID,
			Action:    models.ActionMFASetupFailed,
			Success:   false,
			Metadata:  map[string]any{"reason": "invalid_code"},
		})
		return nil, common.ErrInvalidMFACode
	}

	sealed, nonce, err := cryptox.Seal([]byte(secret), s.secretKey)
	if err != nil {
		return nil, fmt.Errorf("error sealing secret: %w", err)
	}
	codes, hashes, err := s.newBackupCodes()
	if err != nil {
		return nil, err
	}

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.repomanager.Accounts(tx).EnableMFA(ctx, accountID, sealed, nonce); err != nil {
			return err
		}
		return s.repomanager.BackupCodes(tx).ReplaceAll(ctx, accountID, hashes)
	})
	if err != nil {
		return nil, err
	}

	s.audit.Record(ctx, models.AuditEvent{
		AccountID: accountID,
		Action:    models.ActionMFASetupCompleted,
		Success:   true,
		Metadata:  map[string]any{"backupCodes": len(codes)},
	})
	return codes, nil
}

// VerifyCode checks a TOTP code with a tolerance of one step either side.
func (s *MFAService) VerifyCode(ctx context.Context, accountID, code string) error {
	acc, err := s.enabledAccount(ctx, accountID)
	if err != nil {
		return err
	}

	secret, err := cryptox.Open(acc.MFASecret, acc.MFASecretNonce, s.secretKey)
	if err != nil {
		return fmt.Errorf("error opening secret: %w", err)
	}

	ok := s.validTOTP(string(secret), code)
	common.WipeByteArray(secret)

	ev := models.AuditEvent{
		AccountID: accountID,
		Action:    models.ActionMFAVerifySuccess,
		Success:   true,
		Metadata:  map[string]any{"factor": "totp"},
	}
	if !ok {
		ev.Action = models.ActionMFAVerifyFailed
		ev.Success = false
	}
	s.audit.Record(ctx, ev)

	if !ok {
		return common.ErrInvalidMFACode
	}
	return nil
}

// VerifyBackupCode consumes a backup code. Verification and invalidation
// are one DELETE, so a code is accepted at most once.
func (s *MFAService) VerifyBackupCode(ctx context.Context, accountID, code string) error {
	if _, err := s.enabledAccount(ctx, accountID); err != nil {
		return err
	}

	repo := s.repomanager.BackupCodes(s.db)
	ok := false
	if normalized := normalizeBackupCode(code); normalized != "" {
		var err error
		ok, err = repo.Consume(ctx, accountID, s.hashBackupCode(normalized))
		if err != nil {
			s.audit.Record(ctx, models.AuditEvent{
				AccountID:    accountID,
				Action:       models.ActionMFAVerifyFailed,
				Success:      false,
				ErrorMessage: err.Error(),
				Metadata:     map[string]any{"factor": "backup_code"},
			})
			return err
		}
	}

	remaining, err := repo.Count(ctx, accountID)
	if err != nil {
		remaining = -1
	}

	ev := models.AuditEvent{
		AccountID: accountID,
		Action:    models.ActionMFAVerifySuccess,
		Success:   true,
		Metadata:  map[string]any{"factor": "backup_code", "remainingCodes": remaining},
	}
	if !ok {
		ev.Action = models.ActionMFAVerifyFailed
		ev.Success = false
	}
	s.audit.Record(ctx, ev)

	if !ok {
		return common.ErrInvalidMFACode
	}
	return nil
}

// Disable turns MFA off after re-checking the password. The secret and
// every backup code are removed together.
func (s *MFAService) Disable(ctx context.Context, accountID, password string) error {
	acc, err := s.enabledAccount(ctx, accountID)
	if err != nil {
		return err
	}

	if !s.credentials.VerifyPassword(acc, password) {
		s.audit.Record(ctx, models.AuditEvent{
			AccountID: accountID,
			Action:    models.ActionMFADisableFailed,
			Success:   false,
			Metadata:  map[string]any{"reason": "invalid_password"},
		})
		return common.ErrInvalidCredentials
	}

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.repomanager.Accounts(tx).DisableMFA(ctx, accountID); err != nil {
			return err
		}
		return s.repomanager.BackupCodes(tx).DeleteAll(ctx, accountID)
	})
	if err != nil {
		return err
	}

	s.audit.Record(ctx, models.AuditEvent{
		AccountID: accountID,
		Action:    models.ActionMFADisabled,
		Success:   true,
	})
	return nil
}

// RegenerateBackupCodes replaces the whole code set after re-checking the
// password.
func (s *MFAService) RegenerateBackupCodes(ctx context.Context, accountID, password string) ([]string, error) {
	acc, err := s.enabledAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if !s.credentials.VerifyPassword(acc, password) {
		s.audit.Record(ctx, models.AuditEvent{
			AccountID: accountID,
			Action:    models.ActionMFABackupCodesRegen,
			Success:   false,
			Metadata:  map[string]any{"reason": "invalid_password"},
		})
		return nil, common.ErrInvalidCredentials
	}

	codes, hashes, err := s.newBackupCodes()
	if err != nil {
		return nil, err
	}
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		return s.repomanager.BackupCodes(tx).ReplaceAll(ctx, accountID, hashes)
	})
	if err != nil {
		return nil, err
	}

	s.audit.Record(ctx, models.AuditEvent{
		AccountID: accountID,
		Action:    models.ActionMFABackupCodesRegen,
		Success:   true,
		Metadata:  map[string]any{"backupCodes": len(codes)},
	})
	return codes, nil
}

func (s *MFAService) Status(ctx context.Context, accountID string) (*MFAStatus, error) {
	acc, err := s.repomanager.Accounts(s.db).GetByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	st := &MFAStatus{Enabled: acc.MFAEnabled}
	if acc.MFAEnabled {
		if st.RemainingBackupCodes, err = s.repomanager.BackupCodes(s.db).Count(ctx, accountID); err != nil {
			return nil, err
		}
	}
	return st, nil
}

func (s *MFAService) enabledAccount(ctx context.Context, accountID string) (*models.Account, error) {
	acc, err := s.repomanager.Accounts(s.db).GetByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if !acc.MFAEnabled {
		return nil, common.ErrMFANotEnabled
	}
	return acc, nil
}

func (s *MFAService) validTOTP(secret, code string) bool {
	code = strings.TrimSpace(code)
	if len(code) != 6 {
		return false
	}
	ok, err := totp.ValidateCustom(code, secret, s.clock.Now().UTC(), totpValidateOpts)
	return err == nil && ok
}

func (s *MFAService) newBackupCodes() ([]string, []string, error) {
	codes := make([]string, 0, s.backupCodeCount)
	hashes := make([]string, 0, s.backupCodeCount)
	for len(codes) < s.backupCodeCount {
		raw, err := common.MakeRandString(backupCodeLength, backupCodeAlphabet)
		if err != nil {
			return nil, nil, fmt.Errorf("error generating backup code: %w", err)
		}
		codes = append(codes, raw[:5]+"-"+raw[5:])
		hashes = append(hashes, s.hashBackupCode(raw))
	}
	return codes, hashes, nil
}

func (s *MFAService) hashBackupCode(normalized string) string {
	return cryptox.HMACHex(s.codePepper, normalized)
}

// normalizeBackupCode upper-cases the code and drops separators.
func normalizeBackupCode(code string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(code) {
		if r == '-' || r == ' ' {
			continue
		}
		b.WriteRune(r)
	}
	if b.Len() != backupCodeLength {
		return ""
	}
	return b.String()
}
