package models

import (
	"fmt"
	"time"
)

// Level is a position in the total order none < viewer < editor < owner.
type Level int

const (
	LevelNone Level = iota
	LevelViewer
	LevelEditor
	LevelOwner
)

func (l Level) String() string {
	switch l {
	case LevelViewer:
		return "viewer"
	case LevelEditor:
		return "editor"
	case LevelOwner:
		return "owner"
	default:
		return "none"
	}
}

// ParseLevel parses a stored or requested level name.
func ParseLevel(s string) (Level, error) {
	switch s {
	case "none":
		return LevelNone, nil
	case "viewer":
		return LevelViewer, nil
	case "editor":
		return LevelEditor, nil
	case "owner":
		return LevelOwner, nil
	}
	return LevelNone, fmt.Errorf("unknown permission level %q", s)
}

func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

func (l *Level) UnmarshalText(b []byte) error {
	v, err := ParseLevel(string(b))
	if err != nil {
		return err
	}
	*l = v
	return nil
}

// Grantable reports whether the level may be stored in a grant.
// Ownership is derived from the document row, never granted.
func (l Level) Grantable() bool {
	return l == LevelViewer || l == LevelEditor
}

// Action is an operation on a document subject to authorization.
type Action string

const (
	ActionView          Action = "view"
	ActionDownload      Action = "download"
	ActionEdit          Action = "edit"
	ActionUploadVersion Action = "upload_version"
	ActionDelete        Action = "delete"
	ActionShare         Action = "share"
	ActionListShares    Action = "list_shares"
)

// actionLevels maps every action to the minimum level it requires.
var actionLevels = map[Action]Level{
	ActionView:          LevelViewer,
	ActionDownload:      LevelViewer,
	ActionEdit:          LevelEditor,
	ActionUploadVersion: LevelEditor,
	ActionDelete:        LevelOwner,
	ActionShare:         LevelOwner,
	ActionListShares:    LevelOwner,
}

// RequiredLevel returns the minimum level for action. Unknown actions
// require more than any account can hold.
func (a Action) RequiredLevel() (Level, bool) {
	l, ok := actionLevels[a]
	if !ok {
		return LevelOwner + 1, false
	}
	return l, true
}

// DocumentPermission is a non-owner grant on a document.
type DocumentPermission struct {
	DocumentID string     `json:"documentId"`
	UserID     string     `json:"userId"`
	Email      string     `json:"email,omitempty"`
	Level      Level      `json:"level"`
	GrantedBy  string     `json:"grantedBy"`
	GrantedAt  time.Time  `json:"grantedAt"`
	ExpiresAt  *time.Time `json:"expiresAt,omitempty"`
}

// Active reports whether the grant is in force at now.
func (p *DocumentPermission) Active(now time.Time) bool {
	return p.ExpiresAt == nil || p.ExpiresAt.After(now)
}

// AccessibleDocument is a document together with the caller's level on it.
type AccessibleDocument struct {
	Document
	Level     Level      `json:"level"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}
