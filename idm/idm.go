// Package idm provides an embeddable login service: password login with
// account lockout, an optional TOTP second factor, session and bearer
// token logout.
//
// Setup:
//
//  1. Run migrations from migrations/ folder using your preferred tool
//  2. Create IDM instance and mount routes
//
// Basic usage:
//
//	db, _ := sql.Open("postgres", "postgres://localhost/myapp?sslmode=disable")
//
//	login, err := idm.New(idm.Config{
//	    DB:            db,
//	    SessionSecret: "your-secret-key-at-least-32-chars",
//	})
//	if err != nil {
//	    log.Fatal(err) // Will fail if migrations haven't been run
//	}
//
//	r := chi.NewRouter()
//	r.Mount("/", login.Router())
//	http.ListenAndServe(":8080", r)
//
// Taking over the response after login:
//
//	login, _ := idm.New(idm.Config{DB: db, SessionSecret: secret, DeferResponse: true})
//	login.Subscribe(auth.EventLogin, func(ctx context.Context, e auth.Event) {
//	    w, _ := idm.ResponseWriter(ctx)
//	    http.Redirect(w, ..., "/welcome", http.StatusSeeOther)
//	})
package idm

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/tendant/simple-idm-login/internal/audit"
	"github.com/tendant/simple-idm-login/internal/config"
	httpserver "github.com/tendant/simple-idm-login/internal/http"
	"github.com/tendant/simple-idm-login/internal/http/middleware"
	"github.com/tendant/simple-idm-login/internal/httputil"
	"github.com/tendant/simple-idm-login/pkg/auth"
	"github.com/tendant/simple-idm-login/pkg/repository"
)

// Config holds the configuration for the IDM library.
type Config struct {
	// DB is the database connection. Required unless Accounts is set.
	DB *sql.DB

	// Accounts overrides the Postgres account store.
	Accounts auth.AccountStore

	// Sessions overrides the session store. Defaults to the Postgres
	// login_sessions table when DB is set, in-memory otherwise.
	Sessions auth.SessionStore

	// SessionSecret signs session cookies (required, min 32 chars).
	SessionSecret string

	// SessionIssuer is the issuer claim of session cookies (default: "simple-idm-login").
	SessionIssuer string

	// SessionTTL is the lifetime of a logged-in session (default: 24 hours).
	SessionTTL time.Duration

	// PendingTTL is how long a login may wait for its second factor (default: 5 minutes).
	PendingTTL time.Duration

	// LockThreshold, WarnThreshold and LockDuration tune account lockout
	// (defaults: 5, 3, 20 minutes).
	LockThreshold int
	WarnThreshold int
	LockDuration  time.Duration

	// RestMode answers every request with JSON.
	RestMode bool

	// DeferResponse leaves the response of successful logins and logouts
	// to event subscribers.
	DeferResponse bool

	// ExtraReturnedFields are account fields added to the login payload.
	ExtraReturnedFields []string

	// MFAEncryptionKey decrypts stored TOTP secrets (32 bytes, optional).
	MFAEncryptionKey []byte

	// Hasher overrides the Argon2id password hasher.
	Hasher auth.HashVerifier

	// CookieSecure sets the Secure flag on the session cookie.
	CookieSecure bool

	// Logger is the structured logger (default: slog.Default()).
	Logger *slog.Logger
}

// IDM is the main login service instance.
type IDM struct {
	config   Config
	accounts auth.AccountStore
	sessions *auth.SessionManager
	codec    *auth.SessionCookieCodec
	cookies  httputil.CookieConfig
	service  *auth.LoginService
	audit    *audit.Dispatcher
	router   http.Handler
}

// New creates a new IDM instance with the given configuration.
// Returns an error if required database tables don't exist.
// Run migrations first - see migrations/ folder for SQL files.
func New(cfg Config) (*IDM, error) {
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)

	accounts := cfg.Accounts
	sessionStore := cfg.Sessions
	if cfg.DB != nil {
		if err := validateSchema(cfg.DB); err != nil {
			return nil, err
		}
		if accounts == nil {
			accounts = repository.NewAccountsRepository(cfg.DB)
		}
		if sessionStore == nil {
			sessionStore = repository.NewSessionsRepository(cfg.DB)
		}
	}
	if sessionStore == nil {
		sessionStore = repository.NewMemorySessionStore()
	}

	sessions := auth.NewSessionManager(auth.SessionConfig{
		TTL:        cfg.SessionTTL,
		PendingTTL: cfg.PendingTTL,
	}, sessionStore, accounts)

	bus := auth.NewEventBus(cfg.Logger)
	dispatcher := audit.NewDispatcher(audit.DefaultBufferSize, audit.NewSlogSink(cfg.Logger))
	audit.Subscribe(bus, dispatcher)

	service := auth.NewLoginService(
		auth.LoginConfig{
			Lockout: auth.LockoutConfig{
				LockThreshold: cfg.LockThreshold,
				WarnThreshold: cfg.WarnThreshold,
				LockDuration:  cfg.LockDuration,
			},
			HandleResponse:      !cfg.DeferResponse,
			ExtraReturnedFields: cfg.ExtraReturnedFields,
		},
		cfg.Logger,
		accounts,
		auth.NewCredentialVerifier(accounts, cfg.Hasher),
		auth.NewTwoFactorGate(accounts, auth.NewTOTPVerifier(cfg.MFAEncryptionKey)),
		sessions,
		bus,
	)

	codec := auth.NewSessionCookieCodec([]byte(cfg.SessionSecret), cfg.SessionIssuer, sessions.TTL())
	cookies := httputil.DefaultCookieConfig()
	cookies.Secure = cfg.CookieSecure

	router, err := httpserver.NewRouter(httpserver.RouterConfig{
		Logger:          cfg.Logger,
		LoginService:    service,
		SessionManager:  sessions,
		CookieCodec:     codec,
		Accounts:        accounts,
		Cookies:         cookies,
		RestMode:        cfg.RestMode,
		RateLimitConfig: config.RateLimitConfig{Enabled: false},
		SecurityHeaders: config.SecurityHeadersConfig{Enabled: false},
	})
	if err != nil {
		dispatcher.Close()
		return nil, fmt.Errorf("idm: build router: %w", err)
	}

	return &IDM{
		config:   cfg,
		accounts: accounts,
		sessions: sessions,
		codec:    codec,
		cookies:  cookies,
		service:  service,
		audit:    dispatcher,
		router:   router,
	}, nil
}

// Router returns the handler serving the login routes.
// Mount this on your main router:
//
//	r := chi.NewRouter()
//	r.Mount("/", login.Router())
//
// Routes:
//
//	GET  /login             - Login form
//	POST /login             - Password login
//	GET  /login/two-factor  - Second factor prompt
//	POST /login/two-factor  - Second factor verification
//	GET  /logout            - Logout (session or bearer token)
//	POST /logout            - Logout (session or bearer token)
//	GET  /me                - Current identity (protected)
//	GET  /health            - Health check
func (i *IDM) Router() http.Handler {
	return i.router
}

// Handler returns an http.Handler for mounting with http.StripPrefix.
//
//	mux := http.NewServeMux()
//	mux.Handle("/auth/", http.StripPrefix("/auth", login.Handler()))
func (i *IDM) Handler() http.Handler {
	return i.router
}

// Routes registers all login routes on an http.ServeMux with the given prefix.
//
//	mux := http.NewServeMux()
//	login.Routes(mux, "/auth")
func (i *IDM) Routes(mux *http.ServeMux, prefix string) {
	mux.Handle(prefix+"/", http.StripPrefix(prefix, i.router))
}

// LoginService returns the login service for advanced usage.
func (i *IDM) LoginService() *auth.LoginService {
	return i.service
}

// Subscribe registers fn for login or logout events.
func (i *IDM) Subscribe(t auth.EventType, fn auth.Subscriber) {
	i.service.Events().Subscribe(t, fn)
}

// AuthMiddleware returns middleware that admits a logged-in session
// cookie or a bearer authentication token. Use this to protect your own routes:
//
//	r.Group(func(r chi.Router) {
//	    r.Use(login.AuthMiddleware())
//	    r.Get("/protected", handler)
//	})
func (i *IDM) AuthMiddleware() func(http.Handler) http.Handler {
	return middleware.RequireAuth(i.sessions, i.codec, i.cookies, i.config.Logger)
}

// Identity is the caller admitted by AuthMiddleware.
type Identity struct {
	Name  string
	Email string
	// Method is "session" or "token".
	Method string
}

// GetIdentity extracts the caller from a request.
// Use after AuthMiddleware:
//
//	who, ok := idm.GetIdentity(r)
func GetIdentity(r *http.Request) (*Identity, bool) {
	id, ok := middleware.GetIdentity(r.Context())
	if !ok {
		return nil, false
	}
	return &Identity{Name: id.Name, Email: id.Email, Method: id.Method}, true
}

// ResponseWriter returns the response writer the login flow exposes to
// event subscribers.
func ResponseWriter(ctx context.Context) (http.ResponseWriter, bool) {
	return httputil.ResponseWriterFromContext(ctx)
}

// HealthHandler returns a simple health check handler.
func (i *IDM) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httputil.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// Close flushes pending audit records.
func (i *IDM) Close() {
	i.audit.Close()
}

func validateConfig(cfg *Config) error {
	if cfg.DB == nil && cfg.Accounts == nil {
		return errors.New("idm: DB or Accounts is required")
	}
	if cfg.SessionSecret == "" {
		return errors.New("idm: SessionSecret is required")
	}
	if len(cfg.SessionSecret) < 32 {
		return errors.New("idm: SessionSecret must be at least 32 characters")
	}
	if n := len(cfg.MFAEncryptionKey); n != 0 && n != 32 {
		return errors.New("idm: MFAEncryptionKey must be 32 bytes")
	}
	// Unset thresholds fall back to the lockout defaults.
	lock, warn := cfg.LockThreshold, cfg.WarnThreshold
	if lock <= 0 {
		lock = auth.DefaultLockThreshold
	}
	if warn <= 0 {
		warn = auth.DefaultWarnThreshold
	}
	if warn > lock {
		return fmt.Errorf("idm: WarnThreshold (%d) must not exceed LockThreshold (%d)", warn, lock)
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.SessionIssuer == "" {
		cfg.SessionIssuer = "simple-idm-login"
	}
	if cfg.Hasher == nil {
		cfg.Hasher = auth.NewArgon2Hasher()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
}

// validateSchema checks that required database tables exist.
func validateSchema(db *sql.DB) error {
	requiredTables := []string{"accounts", "login_sessions"}

	query := `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = 'public' AND table_name = $1
	`

	for _, table := range requiredTables {
		var name string
		err := db.QueryRow(query, table).Scan(&name)
		if err == sql.ErrNoRows {
			return fmt.Errorf("idm: missing table '%s' - run migrations first (see migrations/ folder)", table)
		}
		if err != nil {
			return fmt.Errorf("idm: failed to check schema: %w", err)
		}
	}

	return nil
}
