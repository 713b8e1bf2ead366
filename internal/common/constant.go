package common

// SessionCookieName is the cookie that carries the signed session token.
const SessionCookieName = "docshare_session"

// UnknownAccountID is recorded as the actor of audit events whose identity
// could not be resolved (e.g. a login attempt for an unknown email).
const UnknownAccountID = "unknown"

// SystemAccountID is recorded as the actor of audit events produced by
// background jobs and the admin CLI.
const SystemAccountID = "system"
