package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/tendant/simple-idm-login/internal/config"
	"github.com/tendant/simple-idm-login/internal/http/features/login"
	"github.com/tendant/simple-idm-login/internal/http/features/me"
	"github.com/tendant/simple-idm-login/internal/http/middleware"
	"github.com/tendant/simple-idm-login/internal/httputil"
	"github.com/tendant/simple-idm-login/internal/metrics"
	"github.com/tendant/simple-idm-login/pkg/auth"
)

// DefaultMaxRequestBodySize is used when no body size limit is configured.
const DefaultMaxRequestBodySize = 1 << 20

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Logger             *slog.Logger
	LoginService       *auth.LoginService
	SessionManager     *auth.SessionManager
	CookieCodec        *auth.SessionCookieCodec
	Accounts           auth.AccountStore
	Cookies            httputil.CookieConfig
	RestMode           bool
	RateLimitConfig    config.RateLimitConfig
	SecurityHeaders    config.SecurityHeadersConfig
	MaxRequestBodySize int64
	MetricsEnabled     bool

	// TrustProxyHeaders rewrites RemoteAddr from X-Forwarded-For/X-Real-IP.
	// Off, the socket peer is the client IP for rate limits and login records.
	TrustProxyHeaders bool
}

// NewRouter creates a new HTTP router with all routes registered.
func NewRouter(cfg RouterConfig) (http.Handler, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxRequestBodySize <= 0 {
		cfg.MaxRequestBodySize = DefaultMaxRequestBodySize
	}

	r := chi.NewRouter()

	// Apply global middleware
	r.Use(chimw.RequestID)
	if cfg.TrustProxyHeaders {
		r.Use(chimw.RealIP)
	}
	r.Use(middleware.Recover(cfg.Logger))
	r.Use(middleware.Logging(cfg.Logger))
	r.Use(middleware.SecurityHeaders(cfg.SecurityHeaders))
	r.Use(middleware.RequestSizeLimit(cfg.MaxRequestBodySize))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		httputil.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	if cfg.MetricsEnabled {
		r.Handle("/metrics", metrics.Handler())
	}

	// Create rate limiters for different endpoint types
	rateLimiters := middleware.CreateRateLimiters(cfg.RateLimitConfig, cfg.Logger)

	loginHandler, err := login.NewHandler(cfg.Logger, cfg.LoginService, cfg.CookieCodec, login.Config{
		RestMode: cfg.RestMode,
		Cookies:  cfg.Cookies,
	})
	if err != nil {
		return nil, err
	}
	loginHandler.RegisterRoutes(r, rateLimiters[middleware.LimiterAuth], rateLimiters[middleware.LimiterTwoFactor])

	// Current identity
	meHandler := me.NewHandler(cfg.Logger, cfg.Accounts, cfg.LoginService.Config().ExtraReturnedFields)
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth(cfg.SessionManager, cfg.CookieCodec, cfg.Cookies, cfg.Logger))
		r.Use(rateLimiters[middleware.LimiterProfile])
		r.Get("/me", meHandler.GetMe)
	})

	return r, nil
}
