package domain

import (
	"time"
)

// SessionData is the server-side state behind the session cookie.
type SessionData struct {
	LoggedIn            bool      `json:"logged_in"`
	Name                string    `json:"name,omitempty"`
	Email               string    `json:"email,omitempty"`
	FailedLoginAttempts int       `json:"failed_login_attempts,omitempty"`
	PendingEmail        string    `json:"pending_email,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
}

// IsPending reports whether the session is waiting for a second factor.
func (s *SessionData) IsPending() bool {
	return !s.LoggedIn && s.PendingEmail != ""
}
