package login

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers the login routes. auth limits credential
// submissions and twoFactor limits code submissions.
func (h *Handler) RegisterRoutes(r chi.Router, auth, twoFactor func(http.Handler) http.Handler) {
	r.Get(loginPath, h.ShowLogin)
	r.With(auth).Post(loginPath, h.Login)
	r.Get(twoFactorPath, h.ShowTwoFactor)
	r.With(twoFactor).Post(twoFactorPath, h.CompleteTwoFactor)
	r.Get("/logout", h.Logout)
	r.Post("/logout", h.Logout)
}
