// Package common defines shared constants and sentinel errors used across
// the docshare server, its transport and the admin CLI. Callers should use
// errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound    = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")

	// Service-level errors (generic/internal flow control).
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")
	ErrValidation     = errors.New("validation error")

	// Credential errors. The messages are deliberately uninformative.
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrAccountLocked      = errors.New("too many failed attempts, try again later")

	// Second factor errors.
	ErrInvalidMFACode    = errors.New("invalid verification code")
	ErrMFANotEnabled     = errors.New("two-factor authentication is not enabled")
	ErrMFAAlreadyEnabled = errors.New("two-factor authentication is already enabled")

	// Session carrier errors.
	ErrInvalidToken   = errors.New("invalid token")
	ErrTokenExpired   = errors.New("token expired")
	ErrSessionExpired = errors.New("session expired")

	// Sharing / access control errors.
	ErrPermissionDenied = errors.New("permission denied")
	ErrAccountNotFound  = errors.New("account not found")
	ErrSelfShare        = errors.New("cannot share a document with its owner")
	ErrGrantNotFound    = errors.New("permission grant not found")

	// ErrIntegrityViolation marks a stored audit archive whose checksum no
	// longer matches its content. It is never recoverable.
	ErrIntegrityViolation = errors.New("audit archive integrity violation")
)
