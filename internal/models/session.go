package models

import "time"

// Session is a mirrored login session. Rows are never deleted; revocation only
// flips Active and stamps RevokedAt so the table doubles as an audit trail.
type Session struct {
	ID               string     `db:"id" json:"id"`
	UserID           string     `db:"user_id" json:"user_id"`
	SessionTokenHash string     `db:"session_token_hash" json:"-"`
	RefreshTokenHash string     `db:"refresh_token_hash" json:"-"`
	Active           bool       `db:"is_active" json:"is_active"`
	ExpiresAt        time.Time  `db:"expires_at" json:"expires_at"`
	LastActivity     time.Time  `db:"last_activity" json:"last_activity"`
	RevokedAt        *time.Time `db:"revoked_at" json:"revoked_at,omitempty"`
	IPAddress        string     `db:"ip_address" json:"ip_address"`
	UserAgent        string     `db:"user_agent" json:"user_agent"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`

	User *User `db:"-" json:"user,omitempty"`

	// Current is set on listings when the row belongs to the caller's token.
	Current bool `db:"-" json:"current"`
}

// Valid reports whether the session may still be used at now.
func (s *Session) Valid(now time.Time) bool {
	return s != nil && s.Active && now.Before(s.ExpiresAt)
}

// NewSession describes a session to be mirrored after a successful login.
type NewSession struct {
	UserID       string
	SessionToken string
	RefreshToken string
	ExpiresAt    time.Time
	IPAddress    string
	UserAgent    string
}
