package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Session store backends
const (
	SessionStorePostgres = "postgres"
	SessionStoreRedis    = "redis"
	SessionStoreMemory   = "memory"
)

const minSessionSecretLength = 32

// Config holds application configuration.
type Config struct {
	// Server
	ServerAddr      string
	ServerPort      int
	ShutdownTimeout time.Duration
	LogLevel        string

	// TrustProxyHeaders takes the client IP from X-Forwarded-For/X-Real-IP.
	// Enable only behind a proxy that overwrites those headers.
	TrustProxyHeaders bool

	// Database
	DatabaseURL string
	DBHost      string
	DBPort      int
	DBUser      string
	DBPassword  string
	DBName      string
	DBSSLMode   string

	// Sessions
	SessionStore      string
	RedisURL          string
	RedisKeyPrefix    string
	SessionSecret     string
	SessionIssuer     string
	SessionTTL        time.Duration
	PendingSessionTTL time.Duration
	SessionSweepEvery time.Duration
	Cookie            CookieConfig

	Login LoginConfig

	// MFA (optional, 64-char hex)
	MFAEncryptionKey string

	RateLimit          RateLimitConfig
	SecurityHeaders    SecurityHeadersConfig
	MaxRequestBodySize int64
	MetricsEnabled     bool
	AuditBufferSize    int
}

// CookieConfig holds session cookie settings.
type CookieConfig struct {
	Name   string
	Domain string
	Secure bool
}

// LoginConfig holds the login policy.
type LoginConfig struct {
	LockThreshold       int
	WarnThreshold       int
	LockDuration        time.Duration
	RestMode            bool
	HandleResponse      bool
	ExtraReturnedFields []string
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	Enabled                    bool
	AuthRequestsPerMinute      int
	AuthWindowMinutes          int
	TwoFactorRequestsPerMinute int
	TwoFactorWindowMinutes     int
	ProfileRequestsPerMinute   int
	ProfileWindowMinutes       int
}

// SecurityHeadersConfig holds security header values.
type SecurityHeadersConfig struct {
	Enabled            bool
	CSP                string
	HSTSMaxAge         int
	FrameOptions       string
	ContentTypeOptions string
	XSSProtection      string
	ReferrerPolicy     string
	PermissionsPolicy  string
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		// Server defaults
		ServerAddr:      getEnv("SERVER_ADDR", "0.0.0.0"),
		ServerPort:      getEnvInt("SERVER_PORT", 8080),
		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
		LogLevel:        getEnv("LOG_LEVEL", "info"),

		TrustProxyHeaders: getEnvBool("TRUST_PROXY_HEADERS", false),

		// Database defaults (matches podman setup: make postgres-start)
		DatabaseURL: getEnv("DATABASE_URL", ""),
		DBHost:      getEnv("DB_HOST", "localhost"),
		DBPort:      getEnvInt("DB_PORT", 25432),
		DBUser:      getEnv("DB_USER", "postgres"),
		DBPassword:  getEnv("DB_PASSWORD", "postgres"),
		DBName:      getEnv("DB_NAME", "simple_idm"),
		DBSSLMode:   getEnv("DB_SSLMODE", "disable"),

		// Session defaults
		SessionStore:      strings.ToLower(getEnv("SESSION_STORE", SessionStorePostgres)),
		RedisURL:          getEnv("REDIS_URL", "redis://localhost:6379/0"),
		RedisKeyPrefix:    getEnv("REDIS_KEY_PREFIX", "idm:sess:"),
		SessionSecret:     getEnv("SESSION_SECRET", ""),
		SessionIssuer:     getEnv("SESSION_ISSUER", "simple-idm-login"),
		SessionTTL:        getEnvDuration("SESSION_TTL", 24*time.Hour),
		PendingSessionTTL: getEnvDuration("PENDING_SESSION_TTL", 5*time.Minute),
		SessionSweepEvery: getEnvDuration("SESSION_SWEEP_INTERVAL", 10*time.Minute),
		Cookie: CookieConfig{
			Name:   getEnv("SESSION_COOKIE_NAME", "idm_session"),
			Domain: getEnv("SESSION_COOKIE_DOMAIN", ""),
			Secure: getEnvBool("SESSION_COOKIE_SECURE", false),
		},

		Login: LoginConfig{
			LockThreshold:       getEnvInt("LOGIN_LOCK_THRESHOLD", 5),
			WarnThreshold:       getEnvInt("LOGIN_WARN_THRESHOLD", 3),
			LockDuration:        getEnvDuration("LOGIN_LOCK_DURATION", 20*time.Minute),
			RestMode:            getEnvBool("LOGIN_REST_MODE", false),
			HandleResponse:      getEnvBool("LOGIN_HANDLE_RESPONSE", true),
			ExtraReturnedFields: getEnvList("LOGIN_EXTRA_FIELDS"),
		},

		MFAEncryptionKey: getEnv("MFA_ENCRYPTION_KEY", ""),

		RateLimit: RateLimitConfig{
			Enabled:                    getEnvBool("RATE_LIMIT_ENABLED", true),
			AuthRequestsPerMinute:      getEnvInt("RATE_LIMIT_AUTH_REQUESTS", 10),
			AuthWindowMinutes:          getEnvInt("RATE_LIMIT_AUTH_WINDOW_MINUTES", 1),
			TwoFactorRequestsPerMinute: getEnvInt("RATE_LIMIT_TWO_FACTOR_REQUESTS", 5),
			TwoFactorWindowMinutes:     getEnvInt("RATE_LIMIT_TWO_FACTOR_WINDOW_MINUTES", 1),
			ProfileRequestsPerMinute:   getEnvInt("RATE_LIMIT_PROFILE_REQUESTS", 60),
			ProfileWindowMinutes:       getEnvInt("RATE_LIMIT_PROFILE_WINDOW_MINUTES", 1),
		},

		SecurityHeaders: SecurityHeadersConfig{
			Enabled:            getEnvBool("SECURITY_HEADERS_ENABLED", true),
			CSP:                getEnv("SECURITY_CSP", "default-src 'self'; style-src 'self' 'unsafe-inline'"),
			HSTSMaxAge:         getEnvInt("SECURITY_HSTS_MAX_AGE", 31536000),
			FrameOptions:       getEnv("SECURITY_FRAME_OPTIONS", "DENY"),
			ContentTypeOptions: getEnv("SECURITY_CONTENT_TYPE_OPTIONS", "nosniff"),
			XSSProtection:      getEnv("SECURITY_XSS_PROTECTION", "1; mode=block"),
			ReferrerPolicy:     getEnv("SECURITY_REFERRER_POLICY", "strict-origin-when-cross-origin"),
			PermissionsPolicy:  getEnv("SECURITY_PERMISSIONS_POLICY", "geolocation=(), microphone=(), camera=()"),
		},

		MaxRequestBodySize: int64(getEnvInt("MAX_REQUEST_BODY_SIZE", 1<<20)),
		MetricsEnabled:     getEnvBool("METRICS_ENABLED", true),
		AuditBufferSize:    getEnvInt("AUDIT_BUFFER_SIZE", 256),
	}

	// Validate required fields
	if cfg.SessionSecret == "" {
		return nil, fmt.Errorf("SESSION_SECRET is required")
	}
	if len(cfg.SessionSecret) < minSessionSecretLength {
		return nil, fmt.Errorf("SESSION_SECRET must be at least %d characters", minSessionSecretLength)
	}

	switch cfg.SessionStore {
	case SessionStorePostgres, SessionStoreRedis, SessionStoreMemory:
	default:
		return nil, fmt.Errorf("SESSION_STORE must be one of postgres, redis, memory (got %q)", cfg.SessionStore)
	}

	if cfg.Login.WarnThreshold > cfg.Login.LockThreshold {
		return nil, fmt.Errorf("LOGIN_WARN_THRESHOLD (%d) must not exceed LOGIN_LOCK_THRESHOLD (%d)",
			cfg.Login.WarnThreshold, cfg.Login.LockThreshold)
	}

	if cfg.MFAEncryptionKey != "" {
		if _, err := cfg.MFAKey(); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// HasMFAEncryption returns true if TOTP secrets are stored encrypted.
func (c *Config) HasMFAEncryption() bool {
	return c.MFAEncryptionKey != ""
}

// MFAKey decodes the MFA encryption key.
func (c *Config) MFAKey() ([]byte, error) {
	if c.MFAEncryptionKey == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(c.MFAEncryptionKey)
	if err != nil || len(key) != 32 {
		return nil, fmt.Errorf("MFA_ENCRYPTION_KEY must be 64-char hex (32 bytes)")
	}
	return key, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvList splits a comma separated value, dropping empty entries.
func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
