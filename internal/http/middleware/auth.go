package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/tendant/simple-idm-login/internal/httputil"
	"github.com/tendant/simple-idm-login/pkg/auth"
	"github.com/tendant/simple-idm-login/pkg/domain"
)

type contextKey string

// IdentityKey is the context key for the authenticated identity.
const IdentityKey contextKey = "identity"

// Identity is the caller resolved by RequireAuth.
type Identity struct {
	// Method is auth.LogoutMethodSession or auth.LogoutMethodToken.
	Method    string
	SessionID string
	Name      string
	Email     string
	// Account is only loaded for token callers.
	Account *domain.Account
}

// RequireAuth creates middleware that admits either a bearer token or a
// logged-in session cookie. Pending two-factor sessions are refused.
// Checks Authorization header first, then falls back to the cookie.
func RequireAuth(sessions *auth.SessionManager, codec *auth.SessionCookieCodec, cookies httputil.CookieConfig, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			if token, ok := auth.BearerToken(r.Header.Get("Authorization")); ok {
				account, err := sessions.AccountByToken(ctx, token)
				if err != nil {
					if !errors.Is(err, domain.ErrTokenNotFound) {
						logger.Error("resolve bearer token", "error", err)
						httputil.Error(w, http.StatusInternalServerError, "internal server error")
						return
					}
					httputil.Error(w, http.StatusUnauthorized, "invalid or expired token")
					return
				}
				next.ServeHTTP(w, r.WithContext(WithIdentity(ctx, &Identity{
					Method:  auth.LogoutMethodToken,
					Name:    account.Name,
					Email:   account.Email,
					Account: account,
				})))
				return
			}

			value, ok := httputil.GetSessionCookie(r, cookies)
			if !ok {
				unauthenticated(w, r)
				return
			}
			id, err := codec.Decode(value)
			if err != nil {
				httputil.ClearSessionCookie(w, cookies)
				unauthenticated(w, r)
				return
			}
			data, err := sessions.Get(ctx, id)
			if err != nil {
				if !errors.Is(err, domain.ErrSessionNotFound) {
					logger.Error("read session", "error", err)
					httputil.Error(w, http.StatusInternalServerError, "internal server error")
					return
				}
				httputil.ClearSessionCookie(w, cookies)
				unauthenticated(w, r)
				return
			}
			if !data.LoggedIn {
				unauthenticated(w, r)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(ctx, &Identity{
				Method:    auth.LogoutMethodSession,
				SessionID: id,
				Name:      data.Name,
				Email:     data.Email,
			})))
		})
	}
}

// unauthenticated sends API clients a 401 and browsers to the login form.
func unauthenticated(w http.ResponseWriter, r *http.Request) {
	if httputil.WantsJSON(r) {
		httputil.Error(w, http.StatusUnauthorized, "missing authorization")
		return
	}
	target := "/login?redirect=" + url.QueryEscape(r.URL.RequestURI())
	http.Redirect(w, r, target, http.StatusSeeOther)
}

// WithIdentity stores identity in ctx.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, IdentityKey, identity)
}

// GetIdentity extracts the identity from the request context.
func GetIdentity(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(IdentityKey).(*Identity)
	return identity, ok && identity != nil
}
