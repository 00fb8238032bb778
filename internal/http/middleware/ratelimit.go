package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/httprate"
	"github.com/tendant/simple-idm-login/internal/config"
	"github.com/tendant/simple-idm-login/internal/httputil"
	"github.com/tendant/simple-idm-login/internal/metrics"
)

// Limiter keys
const (
	LimiterAuth      = "auth"
	LimiterTwoFactor = "two_factor"
	LimiterProfile   = "profile"
)

// RateLimitConfig holds rate limiting configuration for one limiter.
type RateLimitConfig struct {
	// Name labels log lines and the rate_limited_total metric.
	Name     string
	Requests int
	Window   time.Duration
	Logger   *slog.Logger
}

// RateLimit limits requests per client IP. Each limiter keeps its own
// counters, so password and two-factor attempts are budgeted separately.
func RateLimit(cfg RateLimitConfig) func(http.Handler) http.Handler {
	name := cfg.Name
	if name == "" {
		name = "default"
	}
	return httprate.Limit(
		cfg.Requests,
		cfg.Window,
		httprate.WithKeyFuncs(clientIPKey),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			metrics.RateLimitedTotal.WithLabelValues(name).Inc()
			if cfg.Logger != nil {
				cfg.Logger.Warn("rate limit exceeded",
					"limiter", name,
					"ip", httputil.ClientIP(r),
					"path", r.URL.Path,
					"method", r.Method,
				)
			}
			httputil.Error(w, http.StatusTooManyRequests, "too many attempts, please try again later")
		}),
	)
}

func clientIPKey(r *http.Request) (string, error) {
	return httputil.ClientIP(r), nil
}

// NoRateLimit returns a no-op middleware when rate limiting is disabled.
func NoRateLimit() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return next
	}
}

// CreateRateLimiters builds the limiters keyed by LimiterAuth,
// LimiterTwoFactor and LimiterProfile.
func CreateRateLimiters(cfg config.RateLimitConfig, logger *slog.Logger) map[string]func(http.Handler) http.Handler {
	if !cfg.Enabled {
		noOp := NoRateLimit()
		return map[string]func(http.Handler) http.Handler{
			LimiterAuth:      noOp,
			LimiterTwoFactor: noOp,
			LimiterProfile:   noOp,
		}
	}

	limit := func(name string, requests, minutes int) func(http.Handler) http.Handler {
		return RateLimit(RateLimitConfig{
			Name:     name,
			Requests: requests,
			Window:   time.Duration(minutes) * time.Minute,
			Logger:   logger,
		})
	}
	return map[string]func(http.Handler) http.Handler{
		LimiterAuth:      limit(LimiterAuth, cfg.AuthRequestsPerMinute, cfg.AuthWindowMinutes),
		LimiterTwoFactor: limit(LimiterTwoFactor, cfg.TwoFactorRequestsPerMinute, cfg.TwoFactorWindowMinutes),
		LimiterProfile:   limit(LimiterProfile, cfg.ProfileRequestsPerMinute, cfg.ProfileWindowMinutes),
	}
}
