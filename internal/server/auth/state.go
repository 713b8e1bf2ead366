package auth

import "time"

// State is the closed set of authentication states a carrier can decode to:
// Anonymous, MFAPending or Authenticated.
type State interface {
	state()
}

// Anonymous is the state of a request without a valid carrier.
type Anonymous struct{}

// MFAPending means the password was verified and a second factor is due
// before ExpiresAt.
type MFAPending struct {
	AccountID string
	Email     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Authenticated carries a live session.
type Authenticated struct {
	Session
}

func (Anonymous) state()     {}
func (MFAPending) state()    {}
func (Authenticated) state() {}

// Session is the authenticated identity with its two liveness timestamps.
type Session struct {
	AccountID    string
	Email        string
	CreatedAt    time.Time
	LastActivity time.Time
	MFAVerified  bool
}
