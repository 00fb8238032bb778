package auth

import (
	"context"
	"time"

	"github.com/tendant/simple-idm-login/pkg/domain"
)

// AccountStore persists accounts. Find returns domain.ErrAccountNotFound
// when no account matches.
type AccountStore interface {
	Find(ctx context.Context, field domain.AccountField, value string) (*domain.Account, error)
	Update(ctx context.Context, account *domain.Account) (*domain.Account, error)
}

// HashVerifier derives a password digest from a salt and an optional
// iteration count read from the account record.
type HashVerifier interface {
	Hash(password, salt string, iterations *int) (string, error)
}

// OneTimeCodeVerifier checks a one-time code against an account secret.
type OneTimeCodeVerifier interface {
	Verify(code, secret string) bool
}

// SessionStore holds session state keyed by an opaque session id.
// Read returns domain.ErrSessionNotFound for unknown or expired ids.
type SessionStore interface {
	Create(ctx context.Context, data *domain.SessionData, ttl time.Duration) (string, error)
	Read(ctx context.Context, id string) (*domain.SessionData, error)
	Write(ctx context.Context, id string, data *domain.SessionData, ttl time.Duration) error
	Destroy(ctx context.Context, id string) error
}
