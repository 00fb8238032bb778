// Package metrics provides Prometheus metrics for the login service.
// All metrics use the "idm" namespace and are registered with the default
// Prometheus registry via promauto, so they are scraped on /metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "idm"

var (
	// LoginAttemptsTotal counts password logins by outcome.
	// outcome: signed_in | two_factor_required | rejected | error
	LoginAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "login",
			Name:      "attempts_total",
			Help:      "Total number of password login attempts by outcome.",
		},
		[]string{"outcome"},
	)

	// LoginRejectionsTotal counts rejected logins by reason.
	// reason: validation | not_found | not_verified | locked | incorrect_password
	LoginRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "login",
			Name:      "rejections_total",
			Help:      "Total number of rejected login attempts by reason.",
		},
		[]string{"reason"},
	)

	// AccountLocksTotal counts accounts locked after repeated failures.
	AccountLocksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "login",
			Name:      "account_locks_total",
			Help:      "Total number of account lockouts.",
		},
	)

	// TwoFactorTotal counts second factor submissions by outcome.
	// outcome: signed_in | rejected | error
	TwoFactorTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "login",
			Name:      "two_factor_total",
			Help:      "Total number of two-factor verifications by outcome.",
		},
		[]string{"outcome"},
	)

	// LogoutsTotal counts logouts by method and outcome.
	// method: session | token, outcome: logged_out | logout_failed | error
	LogoutsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "login",
			Name:      "logouts_total",
			Help:      "Total number of logouts by method and outcome.",
		},
		[]string{"method", "outcome"},
	)

	// RateLimitedTotal counts requests refused by a rate limiter.
	// limiter: auth | two_factor | profile
	RateLimitedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "Total number of requests refused by rate limiting.",
		},
		[]string{"limiter"},
	)

	// HTTPRequestDuration tracks request latency by route pattern.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	// AuditEventsDropped counts audit events dropped because the buffer was full.
	AuditEventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "events_dropped_total",
			Help:      "Total number of audit events dropped because the queue was full.",
		},
	)
)

// ObserveRequest records one HTTP request.
func ObserveRequest(method, route string, status int, elapsed time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	HTTPRequestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(elapsed.Seconds())
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
