package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/tendant/simple-idm-login/pkg/domain"
)

// OutcomeKind is the terminal state of a login, two-factor or logout call.
type OutcomeKind int

const (
	OutcomeRejected OutcomeKind = iota
	OutcomeSignedIn
	OutcomeTwoFactorRequired
	OutcomeTwoFactorRejected
	OutcomeLoggedOut
	OutcomeLogoutFailed
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeRejected:
		return "rejected"
	case OutcomeSignedIn:
		return "signed_in"
	case OutcomeTwoFactorRequired:
		return "two_factor_required"
	case OutcomeTwoFactorRejected:
		return "two_factor_rejected"
	case OutcomeLoggedOut:
		return "logged_out"
	case OutcomeLogoutFailed:
		return "logout_failed"
	}
	return "unknown"
}

// Logout methods
const (
	LogoutMethodSession = "session"
	LogoutMethodToken   = "token"
)

// Outcome describes what happened so the HTTP layer can render it for
// browsers or API clients.
type Outcome struct {
	Kind OutcomeKind

	// Err is the rejection reason for Rejected, TwoFactorRejected and
	// LogoutFailed outcomes.
	Err     error
	Message string

	// Identifier echoes the submitted login name back to the form.
	Identifier string
	Account    *domain.Account
	Redirect   string

	// SessionID is the session the client should hold from now on.
	// ClearSession asks the client to drop its session cookie.
	SessionID    string
	ClearSession bool

	// Locked is set when this attempt locked the account.
	Locked bool

	// HandleResponse is false when an event subscriber owns the response.
	HandleResponse bool

	LogoutMethod string
}

// LoginConfig holds the login policy. It is copied at construction.
type LoginConfig struct {
	Lockout             LockoutConfig
	HandleResponse      bool
	ExtraReturnedFields []string
}

// LoginRequest is a password login attempt.
type LoginRequest struct {
	Identifier string
	Password   string
	Redirect   string
	ClientIP   string
	SessionID  string
}

// TwoFactorRequest completes a login that is waiting for its second factor.
type TwoFactorRequest struct {
	SessionID string
	Code      string
	Redirect  string
	ClientIP  string
}

// LogoutRequest ends a session or invalidates an authentication token.
// A bearer token takes precedence over the session.
type LogoutRequest struct {
	BearerToken string
	SessionID   string
	ClientIP    string
}

// LoginService runs the login, two-factor and logout flows.
type LoginService struct {
	config      LoginConfig
	logger      *slog.Logger
	accounts    AccountStore
	credentials *CredentialVerifier
	twoFactor   *TwoFactorGate
	sessions    *SessionManager
	events      *EventBus
	now         func() time.Time
}

// NewLoginService creates a new login service.
func NewLoginService(
	config LoginConfig,
	logger *slog.Logger,
	accounts AccountStore,
	credentials *CredentialVerifier,
	twoFactor *TwoFactorGate,
	sessions *SessionManager,
	events *EventBus,
) *LoginService {
	config.Lockout = config.Lockout.withDefaults()
	config.ExtraReturnedFields = append([]string(nil), config.ExtraReturnedFields...)
	if logger == nil {
		logger = slog.Default()
	}
	if events == nil {
		events = NewEventBus(logger)
	}
	return &LoginService{
		config:      config,
		logger:      logger,
		accounts:    accounts,
		credentials: credentials,
		twoFactor:   twoFactor,
		sessions:    sessions,
		events:      events,
		now:         time.Now,
	}
}

// Config returns a copy of the login policy.
func (s *LoginService) Config() LoginConfig {
	c := s.config
	c.ExtraReturnedFields = append([]string(nil), s.config.ExtraReturnedFields...)
	return c
}

// Events returns the bus login and logout events are published on.
func (s *LoginService) Events() *EventBus {
	return s.events
}

// Login checks credentials and either signs the account in or starts the
// two-factor step. The returned error is only set for store failures.
func (s *LoginService) Login(ctx context.Context, req LoginRequest) (*Outcome, error) {
	redirect := SafeRedirect(req.Redirect)

	if SanitizeIdentifier(req.Identifier) == "" || req.Password == "" {
		return rejected(domain.ErrValidation, MsgMissingCredentials, req.Identifier, redirect), nil
	}

	result, err := s.credentials.Verify(ctx, req.Identifier, req.Password)
	switch {
	case errors.Is(err, domain.ErrAccountNotFound):
		return rejected(err, MsgInvalidCredentials, req.Identifier, redirect), nil
	case errors.Is(err, domain.ErrEmailNotVerified):
		return rejected(err, MsgNotVerified, req.Identifier, redirect), nil
	case errors.Is(err, domain.ErrAccountLocked):
		return rejected(err, MsgAccountLocked, req.Identifier, redirect), nil
	case err != nil:
		return nil, err
	}

	account := result.Account

	if !result.Correct {
		msg := OnFailure(account, s.config.Lockout, s.now())
		if _, err := s.accounts.Update(ctx, account); err != nil {
			return nil, fmt.Errorf("update account: %w", err)
		}
		out := rejected(domain.ErrIncorrectPassword, msg, req.Identifier, redirect)
		if account.AccountLocked {
			out.Locked = true
			s.logger.Warn("account locked", "account_id", account.ID, "failed_attempts", account.FailedLoginAttempts, "ip", req.ClientIP)
		}
		return out, nil
	}

	if account.TwoFactorEnabled {
		id, err := s.sessions.BeginPending(ctx, req.SessionID, account.Email)
		if err != nil {
			return nil, err
		}
		return &Outcome{
			Kind:      OutcomeTwoFactorRequired,
			Account:   account,
			Redirect:  redirect,
			SessionID: id,
		}, nil
	}

	return s.signIn(ctx, account, req.SessionID, redirect, req.ClientIP)
}

// CompleteTwoFactor verifies the second factor of a pending login. A wrong
// code destroys the pending session.
func (s *LoginService) CompleteTwoFactor(ctx context.Context, req TwoFactorRequest) (*Outcome, error) {
	redirect := SafeRedirect(req.Redirect)

	email, err := s.sessions.Pending(ctx, req.SessionID)
	if err != nil && !errors.Is(err, domain.ErrNoPendingLogin) {
		return nil, err
	}

	var account *domain.Account
	if err == nil {
		account, err = s.twoFactor.Complete(ctx, email, req.Code)
		if err != nil && !errors.Is(err, domain.ErrTwoFactorRejected) {
			return nil, err
		}
	}

	if err != nil {
		if derr := s.sessions.Destroy(ctx, req.SessionID); derr != nil {
			return nil, derr
		}
		return &Outcome{
			Kind:         OutcomeTwoFactorRejected,
			Err:          err,
			Redirect:     redirect,
			ClearSession: true,
		}, nil
	}

	return s.signIn(ctx, account, req.SessionID, redirect, req.ClientIP)
}

// Logout invalidates the bearer token when one is presented, otherwise the
// session. Never both.
func (s *LoginService) Logout(ctx context.Context, req LogoutRequest) (*Outcome, error) {
	if req.BearerToken != "" {
		account, err := s.sessions.LogoutByToken(ctx, req.BearerToken)
		if errors.Is(err, domain.ErrTokenNotFound) {
			return &Outcome{
				Kind:           OutcomeLogoutFailed,
				Err:            err,
				LogoutMethod:   LogoutMethodToken,
				HandleResponse: true,
			}, nil
		}
		if err != nil {
			return nil, err
		}

		s.events.Publish(ctx, Event{
			Type:     EventLogout,
			Account:  account,
			ClientIP: req.ClientIP,
			Method:   LogoutMethodToken,
			At:       s.now(),
		})
		return &Outcome{
			Kind:           OutcomeLoggedOut,
			Account:        account,
			LogoutMethod:   LogoutMethodToken,
			HandleResponse: s.config.HandleResponse,
		}, nil
	}

	data, err := s.sessions.LogoutBySession(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}

	runSessionHook(ctx, "")

	account := &domain.Account{Name: data.Name, Email: data.Email}
	s.events.Publish(ctx, Event{
		Type:     EventLogout,
		Account:  account,
		ClientIP: req.ClientIP,
		Method:   LogoutMethodSession,
		At:       s.now(),
	})
	return &Outcome{
		Kind:           OutcomeLoggedOut,
		Account:        account,
		ClearSession:   true,
		LogoutMethod:   LogoutMethodSession,
		HandleResponse: s.config.HandleResponse,
	}, nil
}

// signIn completes a login: counters and token on the account first, then
// the session, then the event.
func (s *LoginService) signIn(ctx context.Context, account *domain.Account, previousSessionID, redirect, clientIP string) (*Outcome, error) {
	failed := account.FailedLoginAttempts

	OnSuccess(account, s.now(), clientIP)
	updated, err := s.accounts.Update(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("update account: %w", err)
	}

	id, err := s.sessions.Establish(ctx, previousSessionID, updated, failed)
	if err != nil {
		return nil, err
	}
	runSessionHook(ctx, id)

	s.events.Publish(ctx, Event{
		Type:     EventLogin,
		Account:  updated,
		Redirect: redirect,
		ClientIP: clientIP,
		At:       s.now(),
	})

	return &Outcome{
		Kind:           OutcomeSignedIn,
		Account:        updated,
		Redirect:       redirect,
		SessionID:      id,
		HandleResponse: s.config.HandleResponse,
	}, nil
}

type sessionHookKey struct{}

// WithSessionHook returns a context that makes sign-in and session logout
// call fn with the new session id, or "" once the session is gone, before
// any event is published.
func WithSessionHook(ctx context.Context, fn func(sessionID string)) context.Context {
	return context.WithValue(ctx, sessionHookKey{}, fn)
}

func runSessionHook(ctx context.Context, sessionID string) {
	if fn, ok := ctx.Value(sessionHookKey{}).(func(string)); ok && fn != nil {
		fn(sessionID)
	}
}

func rejected(err error, msg, identifier, redirect string) *Outcome {
	return &Outcome{
		Kind:       OutcomeRejected,
		Err:        err,
		Message:    msg,
		Identifier: identifier,
		Redirect:   redirect,
	}
}

// SafeRedirect keeps local absolute paths and falls back to "/" for
// anything else, including protocol-relative and absolute URLs.
func SafeRedirect(target string) string {
	if target == "" || !strings.HasPrefix(target, "/") || strings.HasPrefix(target, "//") || strings.HasPrefix(target, "/\\") {
		return "/"
	}
	u, err := url.Parse(target)
	if err != nil || u.IsAbs() || u.Host != "" {
		return "/"
	}
	return target
}
