package me

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/tendant/simple-idm-login/internal/http/features/login"
	"github.com/tendant/simple-idm-login/internal/http/middleware"
	"github.com/tendant/simple-idm-login/internal/httputil"
	"github.com/tendant/simple-idm-login/pkg/auth"
	"github.com/tendant/simple-idm-login/pkg/domain"
)

// Handler handles the current identity endpoint.
type Handler struct {
	logger   *slog.Logger
	accounts auth.AccountStore
	extra    []string
}

// NewHandler creates a new me handler. extra lists the account fields
// returned alongside id, email and token.
func NewHandler(logger *slog.Logger, accounts auth.AccountStore, extra []string) *Handler {
	return &Handler{
		logger:   logger,
		accounts: accounts,
		extra:    append([]string(nil), extra...),
	}
}

// GetMe returns the caller's identity payload.
// GET /me
func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.GetIdentity(r.Context())
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	account := identity.Account
	if account == nil {
		var err error
		account, err = h.accounts.Find(r.Context(), domain.FieldEmail, identity.Email)
		if err != nil {
			if errors.Is(err, domain.ErrAccountNotFound) {
				httputil.Error(w, http.StatusNotFound, "account not found")
				return
			}
			h.logger.Error("failed to load account", "error", err)
			httputil.Error(w, http.StatusInternalServerError, "internal server error")
			return
		}
	}

	payload := login.IdentityPayload(account, h.extra)
	payload["name"] = account.Name
	payload["method"] = identity.Method
	httputil.JSON(w, http.StatusOK, payload)
}
