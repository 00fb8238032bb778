package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tendant/simple-idm-login/pkg/domain"
)

const (
	// Default session lifetimes
	DefaultSessionTTL = 24 * time.Hour
	DefaultPendingTTL = 5 * time.Minute
)

// SessionConfig holds session configuration.
type SessionConfig struct {
	TTL        time.Duration
	PendingTTL time.Duration
}

// SessionManager creates and tears down cookie sessions and clears
// authentication tokens for stateless clients.
type SessionManager struct {
	config   SessionConfig
	sessions SessionStore
	accounts AccountStore
}

// NewSessionManager creates a new session manager.
func NewSessionManager(config SessionConfig, sessions SessionStore, accounts AccountStore) *SessionManager {
	if config.TTL == 0 {
		config.TTL = DefaultSessionTTL
	}
	if config.PendingTTL == 0 {
		config.PendingTTL = DefaultPendingTTL
	}
	return &SessionManager{
		config:   config,
		sessions: sessions,
		accounts: accounts,
	}
}

// TTL returns the full session lifetime.
func (m *SessionManager) TTL() time.Duration {
	return m.config.TTL
}

// Establish replaces previousID, if any, with a new logged-in session for
// account. failedAttempts is the counter value before the successful login.
func (m *SessionManager) Establish(ctx context.Context, previousID string, account *domain.Account, failedAttempts int) (string, error) {
	if err := m.Destroy(ctx, previousID); err != nil {
		return "", err
	}

	id, err := m.sessions.Create(ctx, &domain.SessionData{
		LoggedIn:            true,
		Name:                account.Name,
		Email:               account.Email,
		FailedLoginAttempts: failedAttempts,
		CreatedAt:           time.Now(),
	}, m.config.TTL)
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	return id, nil
}

// BeginPending replaces previousID, if any, with a session that only
// remembers the email waiting for its second factor.
func (m *SessionManager) BeginPending(ctx context.Context, previousID, email string) (string, error) {
	if err := m.Destroy(ctx, previousID); err != nil {
		return "", err
	}

	id, err := m.sessions.Create(ctx, &domain.SessionData{
		PendingEmail: email,
		CreatedAt:    time.Now(),
	}, m.config.PendingTTL)
	if err != nil {
		return "", fmt.Errorf("create pending session: %w", err)
	}
	return id, nil
}

// Get returns the session behind id.
func (m *SessionManager) Get(ctx context.Context, id string) (*domain.SessionData, error) {
	if id == "" {
		return nil, domain.ErrSessionNotFound
	}
	return m.sessions.Read(ctx, id)
}

// Pending returns the email of a login awaiting its second factor.
func (m *SessionManager) Pending(ctx context.Context, id string) (string, error) {
	data, err := m.Get(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			return "", domain.ErrNoPendingLogin
		}
		return "", err
	}
	if !data.IsPending() {
		return "", domain.ErrNoPendingLogin
	}
	return data.PendingEmail, nil
}

// Destroy removes the session. Unknown ids are ignored.
func (m *SessionManager) Destroy(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	if err := m.sessions.Destroy(ctx, id); err != nil && !errors.Is(err, domain.ErrSessionNotFound) {
		return fmt.Errorf("destroy session: %w", err)
	}
	return nil
}

// LogoutBySession destroys the session and returns what it held so the
// logout event can name the account.
func (m *SessionManager) LogoutBySession(ctx context.Context, id string) (*domain.SessionData, error) {
	data, err := m.Get(ctx, id)
	if err != nil && !errors.Is(err, domain.ErrSessionNotFound) {
		return nil, err
	}
	if data == nil {
		data = &domain.SessionData{}
	}

	if err := m.Destroy(ctx, id); err != nil {
		return nil, err
	}
	return data, nil
}

// LogoutByToken clears the authentication token of the owning account.
// Sessions are left alone.
func (m *SessionManager) LogoutByToken(ctx context.Context, token string) (*domain.Account, error) {
	account, err := m.AccountByToken(ctx, token)
	if err != nil {
		return nil, err
	}

	account.AuthenticationToken = nil
	updated, err := m.accounts.Update(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("update account: %w", err)
	}
	return updated, nil
}

// AccountByToken resolves the account owning token.
func (m *SessionManager) AccountByToken(ctx context.Context, token string) (*domain.Account, error) {
	if token == "" {
		return nil, domain.ErrTokenNotFound
	}
	account, err := m.accounts.Find(ctx, domain.FieldAuthenticationToken, token)
	if err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			return nil, domain.ErrTokenNotFound
		}
		return nil, fmt.Errorf("find account by token: %w", err)
	}
	return account, nil
}
