// Package models defines server-side data models persisted in the database.
package models

import "time"

// Account is a registered user. The email is stored normalized
// (trimmed, lower-cased). MFASecret is AES-GCM ciphertext sealed with
// MFASecretNonce; both are nil while MFA is disabled.
type Account struct {
	ID             string
	Email          string
	PasswordHash   string
	FailedAttempts int
	LockoutUntil   *time.Time
	MFAEnabled     bool
	MFASecret      []byte
	MFASecretNonce []byte
	CreatedAt      time.Time
}

// IsLocked reports whether the lockout window is still open at now.
func (a *Account) IsLocked(now time.Time) bool {
	return a.LockoutUntil != nil && a.LockoutUntil.After(now)
}

// FailedLogin is the outcome of atomically recording a failed attempt.
type FailedLogin struct {
	FailedAttempts int
	LockoutUntil   *time.Time
}
