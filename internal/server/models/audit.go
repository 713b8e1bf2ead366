package models

import "time"

// AuditAction is the closed set of audited event tags.
type AuditAction string

const (
	ActionAccountCreated         AuditAction = "account_created"
	ActionLoginSuccess           AuditAction = "login_success"
	ActionLoginFailed            AuditAction = "login_failed"
	ActionAccountLocked          AuditAction = "account_locked"
	ActionLogout                 AuditAction = "logout"
	ActionSessionExpired         AuditAction = "session_expired"
	ActionMFASetupInitiated      AuditAction = "mfa_setup_initiated"
	ActionMFASetupCompleted      AuditAction = "mfa_setup_completed"
	ActionMFASetupFailed         AuditAction = "mfa_setup_failed"
	ActionMFAVerifySuccess       AuditAction = "mfa_verify_success"
	ActionMFAVerifyFailed        AuditAction = "mfa_verify_failed"
	ActionMFADisabled            AuditAction = "mfa_disabled"
	ActionMFADisableFailed       AuditAction = "mfa_disable_failed"
	ActionMFABackupCodesRegen    AuditAction = "mfa_backup_codes_regenerated"
	ActionAccessGranted          AuditAction = "access_granted"
	ActionAccessDenied           AuditAction = "access_denied"
	ActionAccessShared           AuditAction = "share"
	ActionAccessRevoked          AuditAction = "revoke"
	ActionGrantsPurged           AuditAction = "grants_purged"
	ActionDocumentUploaded       AuditAction = "document_uploaded"
	ActionDocumentDeleted        AuditAction = "document_deleted"
	ActionAuditArchived          AuditAction = "audit_archived"
	ActionAuditIntegrityViolated AuditAction = "audit_integrity_violation"
)

var auditActions = map[AuditAction]struct{}{
	ActionAccountCreated: {}, ActionLoginSuccess: {}, ActionLoginFailed: {},
	ActionAccountLocked: {}, ActionLogout: {}, ActionSessionExpired: {},
	ActionMFASetupInitiated: {}, ActionMFASetupCompleted: {}, ActionMFASetupFailed: {},
	ActionMFAVerifySuccess: {}, ActionMFAVerifyFailed: {}, ActionMFADisabled: {},
	ActionMFADisableFailed: {}, ActionMFABackupCodesRegen: {},
	ActionAccessGranted: {}, ActionAccessDenied: {}, ActionAccessShared: {}, ActionAccessRevoked: {},
	ActionGrantsPurged: {}, ActionDocumentUploaded: {}, ActionDocumentDeleted: {},
	ActionAuditArchived: {}, ActionAuditIntegrityViolated: {},
}

// Valid reports whether a is a member of the enumeration.
func (a AuditAction) Valid() bool {
	_, ok := auditActions[a]
	return ok
}

// AuditEvent is what callers hand to the audit sink.
type AuditEvent struct {
	AccountID    string
	Action       AuditAction
	DocumentID   string
	Success      bool
	ErrorMessage string
	Metadata     map[string]any
}

// AuditRecord is a persisted audit event.
type AuditRecord struct {
	ID           int64          `json:"id"`
	AccountID    string         `json:"accountId"`
	Action       AuditAction    `json:"action"`
	DocumentID   *string        `json:"documentId,omitempty"`
	Success      bool           `json:"success"`
	ErrorMessage *string        `json:"errorMessage,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	IPAddress    string         `json:"ipAddress,omitempty"`
	UserAgent    string         `json:"userAgent,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
	Archived     bool           `json:"archived"`
}

// AuditArchive is an immutable, checksummed batch of archived records.
// Checksum is the hex SHA-256 of Records.
type AuditArchive struct {
	ID          string    `json:"id"`
	Records     []byte    `json:"-"`
	Checksum    string    `json:"checksum"`
	RecordCount int       `json:"recordCount"`
	PeriodStart time.Time `json:"periodStart"`
	PeriodEnd   time.Time `json:"periodEnd"`
	CreatedAt   time.Time `json:"createdAt"`
}

// AuditStats aggregates the hot audit table.
type AuditStats struct {
	Total              int64            `json:"total"`
	ByAction           map[string]int64 `json:"byAction"`
	Failed             int64            `json:"failed"`
	OlderThanRetention int64            `json:"olderThanRetention"`
	Archived           int64            `json:"archived"`
	Archives           int64            `json:"archives"`
}
