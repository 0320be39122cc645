package app

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/aussiebroadwan/printdesk/internal/gateway/backend"
	"github.com/aussiebroadwan/printdesk/internal/gateway/credential"
	"github.com/aussiebroadwan/printdesk/internal/gateway/payload"
	"github.com/aussiebroadwan/printdesk/internal/gateway/refresh"
	"github.com/aussiebroadwan/printdesk/pkg/jwtx"
)

type Config struct {
	BackendURL        string        // Required: base URL of the managed-print backend
	BackendHealthPath string        // Backend health endpoint probed by /readyz (default: /health)
	UpstreamTimeout   time.Duration // Timeout of one backend call (default: 30s)
	MaxBodyBytes      int64         // Largest buffered request body (default: 32 MiB)
	RoutesFile        string        // Optional: YAML route table replacing the built-in one

	AccessTTL     time.Duration // Access cookie and session descriptor lifetime (default: 15m)
	RefreshTTL    time.Duration // Refresh cookie lifetime (default: 7 days)
	CookieSecure  bool          // Secure flag on credential cookies (default: true in prod)
	CookieDomain  string        // Optional: Domain attribute on credential cookies
	AccessCookie  string        // Access credential cookie name (default: access_token)
	RefreshCookie string        // Refresh credential cookie name (default: refresh_token)
	SessionCookie string        // Session descriptor cookie name (default: session)
	SessionSecret string        // HMAC secret for session descriptors, >= 32 bytes (required in prod)

	RefreshSingleflight bool          // Share one refresh between concurrent requests (default: true)
	RefreshReuseWindow  time.Duration // Hand a finished refresh to late requests (default: 10s)

	AuditDatabaseFile    string        // Optional: SQLite file for the auth event ledger; empty disables it
	AuditRetention       time.Duration // Age after which ledger events are pruned (default: 30 days)
	HousekeepingInterval time.Duration // Housekeeping interval (default: 1h)

	Env                 string        // Environment (dev, staging, prod) (default: dev)
	LogLevel            string        // Log level (debug, info, warn, error) (default: info)
	LogFormat           string        // Log format (json, text) (default: json)
	Port                int           // HTTP server port (default: 8080)
	ShutdownGracePeriod time.Duration // Graceful shutdown timeout (default: 10s)
}

func LoadConfig() Config {
	env := getEnvOrDefault("ENV", "dev")

	return Config{
		BackendURL:        os.Getenv("GATEWAY_BACKEND_URL"),
		BackendHealthPath: getEnvOrDefault("GATEWAY_BACKEND_HEALTH_PATH", "/health"),
		UpstreamTimeout:   getEnvDurationOrDefault("GATEWAY_UPSTREAM_TIMEOUT", backend.DefaultTimeout),
		MaxBodyBytes:      int64(getEnvIntOrDefault("GATEWAY_MAX_BODY_BYTES", int(payload.DefaultMaxBytes))),
		RoutesFile:        os.Getenv("GATEWAY_ROUTES_FILE"),

		AccessTTL:     getEnvDurationOrDefault("GATEWAY_ACCESS_TTL", jwtx.DefaultAccessTokenTTL),
		RefreshTTL:    getEnvDurationOrDefault("GATEWAY_REFRESH_TTL", jwtx.DefaultRefreshTokenTTL),
		CookieSecure:  getEnvBoolOrDefault("GATEWAY_COOKIE_SECURE", env == "prod"),
		CookieDomain:  os.Getenv("GATEWAY_COOKIE_DOMAIN"),
		AccessCookie:  getEnvOrDefault("GATEWAY_ACCESS_COOKIE", credential.DefaultAccessName),
		RefreshCookie: getEnvOrDefault("GATEWAY_REFRESH_COOKIE", credential.DefaultRefreshName),
		SessionCookie: getEnvOrDefault("GATEWAY_SESSION_COOKIE", credential.DefaultSessionName),
		SessionSecret: os.Getenv("GATEWAY_SESSION_SECRET"),

		RefreshSingleflight: getEnvBoolOrDefault("GATEWAY_REFRESH_SINGLEFLIGHT", true),
		RefreshReuseWindow:  getEnvDurationOrDefault("GATEWAY_REFRESH_REUSE_WINDOW", refresh.DefaultReuseWindow),

		AuditDatabaseFile:    os.Getenv("AUDIT_DATABASE_FILE"),
		AuditRetention:       getEnvDurationOrDefault("AUDIT_RETENTION", 30*24*time.Hour),
		HousekeepingInterval: getEnvDurationOrDefault("HOUSEKEEPING_INTERVAL", 1*time.Hour),

		Env:                 env,
		LogLevel:            getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:           getEnvOrDefault("LOG_FORMAT", "json"),
		Port:                getEnvIntOrDefault("GATEWAY_PORT", 8080),
		ShutdownGracePeriod: getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", 10*time.Second),
	}
}

// Validate reports every configuration problem at once.
func (c Config) Validate() error {
	var errs []error

	if c.BackendURL == "" {
		errs = append(errs, errors.New("GATEWAY_BACKEND_URL is required"))
	} else if u, err := url.Parse(c.BackendURL); err != nil || u.Host == "" {
		errs = append(errs, fmt.Errorf("GATEWAY_BACKEND_URL is not an absolute URL: %q", c.BackendURL))
	}

	if c.AccessTTL <= 0 {
		errs = append(errs, errors.New("GATEWAY_ACCESS_TTL must be positive"))
	}
	if c.RefreshTTL <= 0 {
		errs = append(errs, errors.New("GATEWAY_REFRESH_TTL must be positive"))
	}

	if slices.Contains([]string{c.AccessCookie, c.RefreshCookie, c.SessionCookie}, "") {
		errs = append(errs, errors.New("cookie names must not be empty"))
	} else if c.AccessCookie == c.RefreshCookie || c.AccessCookie == c.SessionCookie || c.RefreshCookie == c.SessionCookie {
		errs = append(errs, errors.New("cookie names must be distinct"))
	}

	switch {
	case c.SessionSecret != "" && len(c.SessionSecret) < jwtx.MinSecretSize:
		errs = append(errs, fmt.Errorf("GATEWAY_SESSION_SECRET must be at least %d bytes", jwtx.MinSecretSize))
	case c.SessionSecret == "" && c.IsProduction():
		errs = append(errs, errors.New("GATEWAY_SESSION_SECRET is required in prod"))
	}

	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("GATEWAY_PORT out of range: %d", c.Port))
	}

	return errors.Join(errs...)
}

// IsProduction reports whether ENV is prod.
func (c Config) IsProduction() bool { return strings.EqualFold(c.Env, "prod") }

// Policy returns the cookie policy the configuration describes.
func (c Config) Policy() credential.Policy {
	return credential.Policy{
		Names: credential.Names{
			Access:  c.AccessCookie,
			Refresh: c.RefreshCookie,
			Session: c.SessionCookie,
		},
		Secure:     c.CookieSecure,
		Domain:     c.CookieDomain,
		AccessTTL:  c.AccessTTL,
		RefreshTTL: c.RefreshTTL,
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}

	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if boolValue, err := strconv.ParseBool(value); err == nil {
		return boolValue
	}

	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	// Try parsing as duration (e.g., "1h", "30m", "90s")
	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	// Bare integers are seconds
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}

	return defaultValue
}
