package login

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"html/template"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/tendant/simple-idm-login/internal/http/middleware"
	"github.com/tendant/simple-idm-login/internal/httputil"
	"github.com/tendant/simple-idm-login/internal/metrics"
	"github.com/tendant/simple-idm-login/pkg/auth"
	"github.com/tendant/simple-idm-login/pkg/domain"
)

//go:embed templates/*.html
var templateFS embed.FS

const (
	loginPath     = "/login"
	twoFactorPath = "/login/two-factor"
)

// Config holds the HTTP-facing login settings.
type Config struct {
	// RestMode answers every request with JSON regardless of headers.
	RestMode bool
	Cookies  httputil.CookieConfig
}

// Handler handles login, two-factor and logout endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *auth.LoginService
	codec     *auth.SessionCookieCodec
	cookies   httputil.CookieConfig
	restMode  bool
	extra     []string
	templates *template.Template
}

// NewHandler creates a new login handler.
func NewHandler(logger *slog.Logger, service *auth.LoginService, codec *auth.SessionCookieCodec, cfg Config) (*Handler, error) {
	tmpl, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:    logger,
		service:   service,
		codec:     codec,
		cookies:   cfg.Cookies,
		restMode:  cfg.RestMode,
		extra:     service.Config().ExtraReturnedFields,
		templates: tmpl,
	}, nil
}

// PageData is the context handed to the login templates.
type PageData struct {
	Title  string
	Action string
	Error  string
	Login  string
}

// CredentialsRequest is the login body. Login is the field the form posts;
// identifier and email are accepted from API clients.
type CredentialsRequest struct {
	Login      string `json:"login,omitempty"`
	Identifier string `json:"identifier,omitempty"`
	Email      string `json:"email,omitempty"`
	Password   string `json:"password"`
	Redirect   string `json:"redirect,omitempty"`
}

func (c CredentialsRequest) identifier() string {
	switch {
	case c.Login != "":
		return c.Login
	case c.Identifier != "":
		return c.Identifier
	}
	return c.Email
}

// TwoFactorRequest is the second factor body.
type TwoFactorRequest struct {
	Code     string `json:"code,omitempty"`
	Token    string `json:"token,omitempty"`
	Redirect string `json:"redirect,omitempty"`
}

// ShowLogin renders the login form.
// GET /login
func (h *Handler) ShowLogin(w http.ResponseWriter, r *http.Request) {
	redirect := auth.SafeRedirect(r.URL.Query().Get("redirect"))
	h.render(w, http.StatusOK, "login.html", PageData{
		Title:  "Login",
		Action: withRedirect(loginPath, redirect),
	})
}

// Login checks credentials.
// POST /login
//
// For API clients: 200 with the identity payload or {"twoFactorEnabled": true},
// 403 with {"error": msg} on rejection.
// For browsers: 303 to the redirect target, the two-factor prompt, or the
// form re-rendered with 403.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req CredentialsRequest
	if !h.decode(w, r, &req, func(form url.Values) {
		req.Login = form.Get("login")
		req.Identifier = form.Get("identifier")
		req.Email = form.Get("email")
		req.Password = form.Get("password")
		req.Redirect = form.Get("redirect")
	}) {
		return
	}

	ctx := h.responseContext(w, r)
	out, err := h.service.Login(ctx, auth.LoginRequest{
		Identifier: req.identifier(),
		Password:   req.Password,
		Redirect:   redirectParam(r, req.Redirect),
		ClientIP:   httputil.ClientIP(r),
		SessionID:  h.sessionID(r),
	})
	if err != nil {
		metrics.LoginAttemptsTotal.WithLabelValues("error").Inc()
		h.serverError(w, "login failed", err)
		return
	}

	metrics.LoginAttemptsTotal.WithLabelValues(out.Kind.String()).Inc()
	if out.Kind == auth.OutcomeRejected {
		metrics.LoginRejectionsTotal.WithLabelValues(rejectionReason(out.Err)).Inc()
		if out.Locked {
			metrics.AccountLocksTotal.Inc()
		}
	}

	h.writeOutcome(w, r, out)
}

// ShowTwoFactor renders the second factor prompt for a pending login.
// GET /login/two-factor
func (h *Handler) ShowTwoFactor(w http.ResponseWriter, r *http.Request) {
	redirect := auth.SafeRedirect(r.URL.Query().Get("redirect"))
	h.renderTwoFactor(w, redirect)
}

// CompleteTwoFactor verifies the second factor.
// POST /login/two-factor
func (h *Handler) CompleteTwoFactor(w http.ResponseWriter, r *http.Request) {
	var req TwoFactorRequest
	if !h.decode(w, r, &req, func(form url.Values) {
		req.Code = form.Get("code")
		req.Token = form.Get("token")
		req.Redirect = form.Get("redirect")
	}) {
		return
	}
	code := req.Code
	if code == "" {
		code = req.Token
	}

	ctx := h.responseContext(w, r)
	out, err := h.service.CompleteTwoFactor(ctx, auth.TwoFactorRequest{
		SessionID: h.sessionID(r),
		Code:      strings.TrimSpace(code),
		Redirect:  redirectParam(r, req.Redirect),
		ClientIP:  httputil.ClientIP(r),
	})
	if err != nil {
		metrics.TwoFactorTotal.WithLabelValues("error").Inc()
		h.serverError(w, "two-factor verification failed", err)
		return
	}

	if out.Kind == auth.OutcomeSignedIn {
		metrics.TwoFactorTotal.WithLabelValues(out.Kind.String()).Inc()
	} else {
		metrics.TwoFactorTotal.WithLabelValues("rejected").Inc()
	}

	h.writeOutcome(w, r, out)
}

// Logout ends the session, or invalidates the bearer token when one is sent.
// GET|POST /logout
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	token, _ := auth.BearerToken(r.Header.Get("Authorization"))

	ctx := h.responseContext(w, r)
	out, err := h.service.Logout(ctx, auth.LogoutRequest{
		BearerToken: token,
		SessionID:   h.sessionID(r),
		ClientIP:    httputil.ClientIP(r),
	})
	if err != nil {
		method := auth.LogoutMethodSession
		if token != "" {
			method = auth.LogoutMethodToken
		}
		metrics.LogoutsTotal.WithLabelValues(method, "error").Inc()
		h.serverError(w, "logout failed", err)
		return
	}

	metrics.LogoutsTotal.WithLabelValues(out.LogoutMethod, out.Kind.String()).Inc()
	h.writeOutcome(w, r, out)
}

// writeOutcome renders out for the client kind that made the request.
func (h *Handler) writeOutcome(w http.ResponseWriter, r *http.Request, out *auth.Outcome) {
	asJSON := h.wantsJSON(r)

	switch out.Kind {
	case auth.OutcomeRejected:
		if asJSON {
			httputil.Error(w, http.StatusForbidden, out.Message)
			return
		}
		h.render(w, http.StatusForbidden, "login.html", PageData{
			Title:  "Login",
			Action: withRedirect(loginPath, out.Redirect),
			Error:  out.Message,
			Login:  out.Identifier,
		})

	case auth.OutcomeTwoFactorRequired:
		if err := h.setSessionCookie(w, out.SessionID); err != nil {
			h.serverError(w, "failed to sign session cookie", err)
			return
		}
		if asJSON {
			httputil.JSON(w, http.StatusOK, map[string]bool{"twoFactorEnabled": true})
			return
		}
		h.renderTwoFactor(w, out.Redirect)

	case auth.OutcomeTwoFactorRejected:
		httputil.ClearSessionCookie(w, h.cookies)
		if asJSON {
			httputil.Status(w, http.StatusUnauthorized)
			return
		}
		http.Redirect(w, r, withRedirect(loginPath, out.Redirect), http.StatusSeeOther)

	case auth.OutcomeSignedIn:
		if !out.HandleResponse {
			return
		}
		if asJSON {
			httputil.JSON(w, http.StatusOK, IdentityPayload(out.Account, h.extra))
			return
		}
		http.Redirect(w, r, out.Redirect, http.StatusSeeOther)

	case auth.OutcomeLoggedOut:
		if !out.HandleResponse {
			return
		}
		if asJSON {
			httputil.JSON(w, http.StatusOK, map[string]string{"status": "logged out"})
			return
		}
		http.Redirect(w, r, "/", http.StatusSeeOther)

	case auth.OutcomeLogoutFailed:
		httputil.Error(w, http.StatusUnauthorized, "logout failed")
	}
}

// responseContext exposes w to event subscribers and keeps the session
// cookie in step with the session before any subscriber writes.
func (h *Handler) responseContext(w http.ResponseWriter, r *http.Request) context.Context {
	ctx := httputil.WithResponseWriter(r.Context(), w)
	return auth.WithSessionHook(ctx, func(sessionID string) {
		if sessionID == "" {
			httputil.ClearSessionCookie(w, h.cookies)
			return
		}
		if err := h.setSessionCookie(w, sessionID); err != nil {
			h.logger.Error("failed to sign session cookie", "error", err)
		}
	})
}

func (h *Handler) setSessionCookie(w http.ResponseWriter, sessionID string) error {
	value, err := h.codec.Encode(sessionID)
	if err != nil {
		return err
	}
	httputil.SetSessionCookie(w, value, h.codec.TTL(), h.cookies)
	return nil
}

// sessionID returns the session id carried by a valid cookie, or "".
func (h *Handler) sessionID(r *http.Request) string {
	value, ok := httputil.GetSessionCookie(r, h.cookies)
	if !ok {
		return ""
	}
	id, err := h.codec.Decode(value)
	if err != nil {
		return ""
	}
	return id
}

func (h *Handler) wantsJSON(r *http.Request) bool {
	return h.restMode || httputil.WantsJSON(r)
}

// decode reads a JSON body into v, or the form through fromForm.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any, fromForm func(url.Values)) bool {
	if ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); ct == "application/json" {
		if err := json.NewDecoder(r.Body).Decode(v); err != nil {
			if middleware.HandleMaxBytesError(w, err) {
				return false
			}
			httputil.Error(w, http.StatusBadRequest, "invalid request body")
			return false
		}
		return true
	}

	if err := r.ParseForm(); err != nil {
		if middleware.HandleMaxBytesError(w, err) {
			return false
		}
		httputil.Error(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	fromForm(r.PostForm)
	return true
}

func (h *Handler) renderTwoFactor(w http.ResponseWriter, redirect string) {
	h.render(w, http.StatusOK, "two_factor.html", PageData{
		Title:  "Two-factor authentication",
		Action: withRedirect(twoFactorPath, redirect),
	})
}

func (h *Handler) render(w http.ResponseWriter, status int, tmpl string, data PageData) {
	var buf bytes.Buffer
	if err := h.templates.ExecuteTemplate(&buf, tmpl, data); err != nil {
		h.logger.Error("failed to render template", "template", tmpl, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

func (h *Handler) serverError(w http.ResponseWriter, msg string, err error) {
	h.logger.Error(msg, "error", err)
	httputil.Error(w, http.StatusInternalServerError, "internal server error")
}

// redirectParam prefers the ?redirect= query parameter over the body.
func redirectParam(r *http.Request, fromBody string) string {
	if q := r.URL.Query().Get("redirect"); q != "" {
		return q
	}
	return fromBody
}

func withRedirect(path, redirect string) string {
	if redirect == "" || redirect == "/" {
		return path
	}
	return path + "?redirect=" + url.QueryEscape(redirect)
}

func rejectionReason(err error) string {
	if !domain.IsCredentialError(err) {
		return "other"
	}
	switch {
	case errors.Is(err, domain.ErrValidation):
		return "validation"
	case errors.Is(err, domain.ErrAccountNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrEmailNotVerified):
		return "not_verified"
	case errors.Is(err, domain.ErrAccountLocked):
		return "locked"
	case errors.Is(err, domain.ErrIncorrectPassword):
		return "incorrect_password"
	}
	return "other"
}
