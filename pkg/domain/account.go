package domain

import (
	"time"

	"github.com/google/uuid"
)

// AccountField names a column an account can be looked up by.
type AccountField string

const (
	FieldEmail               AccountField = "email"
	FieldName                AccountField = "name"
	FieldAuthenticationToken AccountField = "authentication_token"
)

// MaxHashIterations bounds the per-account Argon2 time cost.
const MaxHashIterations = 10

// Account is the persisted user record the login flow reads and mutates.
type Account struct {
	ID    uuid.UUID
	Email string
	Name  string

	PasswordHash   string
	PasswordSalt   string
	HashIterations *int

	EmailVerified bool

	FailedLoginAttempts int
	AccountLocked       bool
	AccountLockedUntil  *time.Time

	PreviousLoginTime *time.Time
	PreviousLoginIP   string
	CurrentLoginTime  *time.Time
	CurrentLoginIP    string

	AuthenticationToken *string

	TwoFactorEnabled bool
	TwoFactorKey     *string

	// Attributes holds additional columns that may be echoed back to API
	// clients through the extra returned fields setting.
	Attributes map[string]any

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ValidHashIterations reports whether HashIterations is unset or within
// 1..MaxHashIterations.
func (a *Account) ValidHashIterations() bool {
	if a.HashIterations == nil {
		return true
	}
	n := *a.HashIterations
	return n >= 1 && n <= MaxHashIterations
}

// Token returns the authentication token or an empty string.
func (a *Account) Token() string {
	if a.AuthenticationToken == nil {
		return ""
	}
	return *a.AuthenticationToken
}

// Secret returns the two-factor key or an empty string.
func (a *Account) Secret() string {
	if a == nil || a.TwoFactorKey == nil {
		return ""
	}
	return *a.TwoFactorKey
}

// Field resolves a named field for the extra returned fields payload.
// Known account columns take precedence over Attributes.
func (a *Account) Field(name string) (any, bool) {
	switch name {
	case "name":
		return a.Name, true
	case "email":
		return a.Email, true
	case "emailVerified":
		return a.EmailVerified, true
	case "failedLoginAttempts":
		return a.FailedLoginAttempts, true
	case "previousLoginTime":
		return a.PreviousLoginTime, true
	case "previousLoginIp":
		return a.PreviousLoginIP, true
	case "currentLoginTime":
		return a.CurrentLoginTime, true
	case "currentLoginIp":
		return a.CurrentLoginIP, true
	case "twoFactorEnabled":
		return a.TwoFactorEnabled, true
	case "createdAt":
		return a.CreatedAt, true
	}
	v, ok := a.Attributes[name]
	return v, ok
}

// Clone returns a copy that can be mutated without touching the original.
func (a *Account) Clone() *Account {
	c := *a
	if a.Attributes != nil {
		c.Attributes = make(map[string]any, len(a.Attributes))
		for k, v := range a.Attributes {
			c.Attributes[k] = v
		}
	}
	return &c
}
