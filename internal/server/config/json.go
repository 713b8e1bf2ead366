package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/docshare/internal/flagx"
	"github.com/dmitrijs2005/docshare/internal/timex"
)

// JsonConfig is the on-disk shape of the configuration file. Durations use
// timex.Duration so both "15m" and integer nanoseconds are accepted.
// Pointer fields distinguish "absent" from an explicit zero/false.
type JsonConfig struct {
	HTTPAddr                 string         `json:"http_addr"`
	DatabaseDSN              string         `json:"database_dsn"`
	SecretKey                string         `json:"secret_key"`
	EncryptionKey            string         `json:"encryption_key"`
	LockoutThreshold         int            `json:"lockout_threshold"`
	LockoutDuration          timex.Duration `json:"lockout_duration"`
	SessionInactivityTimeout timex.Duration `json:"session_inactivity_timeout"`
	SessionMaxDuration       timex.Duration `json:"session_max_duration"`
	MFAPendingTTL            timex.Duration `json:"mfa_pending_ttl"`
	RequireMFA               *bool          `json:"require_mfa"`
	MFAIssuer                string         `json:"mfa_issuer"`
	BackupCodeCount          int            `json:"backup_code_count"`
	AuditRetentionDays       int            `json:"audit_retention_days"`
	ArchiveInterval          timex.Duration `json:"archive_interval"`
	SignedURLTTL             timex.Duration `json:"signed_url_ttl"`
	SecureCookies            *bool          `json:"secure_cookies"`
	LoginRateLimit           float64        `json:"login_rate_limit"`
	LogLevel                 string         `json:"log_level"`
	S3RootUser               string         `json:"s3_root_user"`
	S3RootPassword           string         `json:"s3_root_password"`
	S3Bucket                 string         `json:"s3_bucket"`
	S3Region                 string         `json:"s3_region"`
	S3BaseEndpoint           string         `json:"s3_base_endpoint"`
}

// parseJson loads configuration values from the JSON file named by the
// -c/-config flag. Without the flag nothing is loaded. Only keys present in
// the file override the current values. An unreadable file or invalid JSON
// panics.
func parseJson(config *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	overlayString(&config.HTTPAddr, c.HTTPAddr)
	overlayString(&config.DatabaseDSN, c.DatabaseDSN)
	overlayString(&config.SecretKey, c.SecretKey)
	overlayString(&config.EncryptionKey, c.EncryptionKey)
	overlayString(&config.MFAIssuer, c.MFAIssuer)
	overlayString(&config.LogLevel, c.LogLevel)
	overlayString(&config.S3RootUser, c.S3RootUser)
	overlayString(&config.S3RootPassword, c.S3RootPassword)
	overlayString(&config.S3Bucket, c.S3Bucket)
	overlayString(&config.S3Region, c.S3Region)
	overlayString(&config.S3BaseEndpoint, c.S3BaseEndpoint)

	if c.LockoutThreshold > 0 {
		config.LockoutThreshold = c.LockoutThreshold
	}
	if c.BackupCodeCount > 0 {
		config.BackupCodeCount = c.BackupCodeCount
	}
	if c.AuditRetentionDays > 0 {
		config.AuditRetentionDays = c.AuditRetentionDays
	}
	if c.LoginRateLimit > 0 {
		config.LoginRateLimit = c.LoginRateLimit
	}
	if c.LockoutDuration.Duration > 0 {
		config.LockoutDuration = c.LockoutDuration.Duration
	}
	if c.SessionInactivityTimeout.Duration > 0 {
		config.SessionInactivityTimeout = c.SessionInactivityTimeout.Duration
	}
	if c.SessionMaxDuration.Duration > 0 {
		config.SessionMaxDuration = c.SessionMaxDuration.Duration
	}
	if c.MFAPendingTTL.Duration > 0 {
		config.MFAPendingTTL = c.MFAPendingTTL.Duration
	}
	if c.ArchiveInterval.Duration > 0 {
		config.ArchiveInterval = c.ArchiveInterval.Duration
	}
	if c.SignedURLTTL.Duration > 0 {
		config.SignedURLTTL = c.SignedURLTTL.Duration
	}
	if c.RequireMFA != nil {
		config.RequireMFA = *c.RequireMFA
	}
	if c.SecureCookies != nil {
		config.SecureCookies = *c.SecureCookies
	}
}

func overlayString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
