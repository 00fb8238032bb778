package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/tendant/simple-idm-login/internal/audit"
	"github.com/tendant/simple-idm-login/internal/config"
	httpserver "github.com/tendant/simple-idm-login/internal/http"
	"github.com/tendant/simple-idm-login/internal/httputil"
	"github.com/tendant/simple-idm-login/pkg/auth"
	"github.com/tendant/simple-idm-login/pkg/repository"
)

// sweeper is implemented by session stores that keep expired rows around.
type sweeper interface {
	DeleteExpired(ctx context.Context, olderThan time.Duration) (int64, error)
}

func main() {
	// Load .env file if present (ignore error if not found)
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	// Connect to database
	db, err := repository.NewDB(repository.Config{
		URL:      cfg.DatabaseURL,
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		DBName:   cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	})
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	logger.Info("connected to database")

	accounts := repository.NewAccountsRepository(db)

	// Session store
	var sessionStore auth.SessionStore
	switch cfg.SessionStore {
	case config.SessionStoreRedis:
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Error("invalid REDIS_URL", "error", err)
			os.Exit(1)
		}
		client := redis.NewClient(opt)
		defer client.Close()

		store := repository.NewRedisSessionStore(client, cfg.RedisKeyPrefix)
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = store.Ping(pingCtx)
		cancel()
		if err != nil {
			logger.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		sessionStore = store
	case config.SessionStoreMemory:
		sessionStore = repository.NewMemorySessionStore()
	default:
		sessionStore = repository.NewSessionsRepository(db)
	}
	logger.Info("session store ready", "backend", cfg.SessionStore)

	mfaKey, err := cfg.MFAKey()
	if err != nil {
		logger.Error("invalid MFA configuration", "error", err)
		os.Exit(1)
	}
	if cfg.HasMFAEncryption() {
		logger.Info("TOTP secrets are encrypted at rest")
	}

	// Initialize services
	sessions := auth.NewSessionManager(auth.SessionConfig{
		TTL:        cfg.SessionTTL,
		PendingTTL: cfg.PendingSessionTTL,
	}, sessionStore, accounts)

	bus := auth.NewEventBus(logger)
	dispatcher := audit.NewDispatcher(cfg.AuditBufferSize, audit.NewSlogSink(logger))
	audit.Subscribe(bus, dispatcher)

	loginService := auth.NewLoginService(
		auth.LoginConfig{
			Lockout: auth.LockoutConfig{
				LockThreshold: cfg.Login.LockThreshold,
				WarnThreshold: cfg.Login.WarnThreshold,
				LockDuration:  cfg.Login.LockDuration,
			},
			HandleResponse:      cfg.Login.HandleResponse,
			ExtraReturnedFields: cfg.Login.ExtraReturnedFields,
		},
		logger,
		accounts,
		auth.NewCredentialVerifier(accounts, auth.NewArgon2Hasher()),
		auth.NewTwoFactorGate(accounts, auth.NewTOTPVerifier(mfaKey)),
		sessions,
		bus,
	)

	codec := auth.NewSessionCookieCodec([]byte(cfg.SessionSecret), cfg.SessionIssuer, sessions.TTL())
	cookies := httputil.DefaultCookieConfig()
	cookies.Name = cfg.Cookie.Name
	cookies.Domain = cfg.Cookie.Domain
	cookies.Secure = cfg.Cookie.Secure

	// Create router
	router, err := httpserver.NewRouter(httpserver.RouterConfig{
		Logger:             logger,
		LoginService:       loginService,
		SessionManager:     sessions,
		CookieCodec:        codec,
		Accounts:           accounts,
		Cookies:            cookies,
		RestMode:           cfg.Login.RestMode,
		RateLimitConfig:    cfg.RateLimit,
		SecurityHeaders:    cfg.SecurityHeaders,
		MaxRequestBodySize: cfg.MaxRequestBodySize,
		MetricsEnabled:     cfg.MetricsEnabled,
		TrustProxyHeaders:  cfg.TrustProxyHeaders,
	})
	if err != nil {
		logger.Error("failed to build router", "error", err)
		os.Exit(1)
	}

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	if s, ok := sessionStore.(sweeper); ok && cfg.SessionSweepEvery > 0 {
		go sweepSessions(sweepCtx, logger, s, cfg.SessionSweepEvery)
	}

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.ServerAddr, cfg.ServerPort)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("starting server", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	stopSweep()
	dispatcher.Close()
	if n := dispatcher.Dropped(); n > 0 {
		logger.Warn("audit records dropped", "count", n)
	}

	logger.Info("server stopped")
}

// sweepSessions deletes expired sessions every interval until ctx is done.
func sweepSessions(ctx context.Context, logger *slog.Logger, s sweeper, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.DeleteExpired(ctx, 0)
			if err != nil {
				logger.Error("session sweep failed", "error", err)
				continue
			}
			if n > 0 {
				logger.Debug("expired sessions removed", "count", n)
			}
		}
	}
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
