// Package config reads gatehouse settings from the process environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	EnvMode              = "GATEHOUSE_ENV"
	EnvAdminEmail        = "ADMIN_EMAIL"
	EnvAdminPassword     = "ADMIN_PASSWORD"
	EnvAdminPasswordHash = "ADMIN_PASSWORD_HASH"
	EnvSessionSecret     = "SESSION_SECRET"
	EnvSessionTTL        = "SESSION_TTL"
	EnvUpstreamURL       = "GATEHOUSE_UPSTREAM_URL"
	EnvDatabaseURL       = "DATABASE_URL"
	EnvRedisAddr         = "REDIS_ADDR"
	EnvRedisPassword     = "REDIS_PASSWORD"
	EnvLoginRateLimit    = "LOGIN_RATE_LIMIT"
	EnvLoginRateWindow   = "LOGIN_RATE_WINDOW"
	EnvProxyMaxBody      = "PROXY_MAX_BODY_BYTES"
	EnvProxyTimeout      = "PROXY_TIMEOUT"
	EnvAllowedOrigins    = "ALLOWED_ORIGINS"
	EnvTrustedProxies    = "TRUSTED_PROXIES"
	EnvAuditWebhookURL   = "AUDIT_WEBHOOK_URL"
	EnvAuditWebhookAuth  = "AUDIT_WEBHOOK_AUTH_HEADER"

	ModeProduction = "production"
)

// Error reports a missing or malformed setting. It is fatal at startup.
type Error struct {
	Key string
	Msg string
}

func (e *Error) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Key, e.Msg)
}

// IsConfigError reports whether err wraps a *Error.
func IsConfigError(err error) bool {
	var ce *Error
	return errors.As(err, &ce)
}

// Env abstracts environment lookups so tests can supply fixed values.
type Env interface {
	Getenv(key string) string
}

type osEnv struct{}

func (osEnv) Getenv(key string) string { return os.Getenv(key) }

// OSEnv returns an Env backed by the process environment.
func OSEnv() Env { return osEnv{} }

// MapEnv is an Env backed by a map.
type MapEnv map[string]string

func (m MapEnv) Getenv(key string) string { return m[key] }

// Config holds runtime settings. Credentials are kept verbatim; the admin
// and session packages decide whether they are acceptable for the mode.
type Config struct {
	Production bool

	AdminEmail        string
	AdminPassword     string
	AdminPasswordHash string

	SessionSecret string
	SessionTTL    time.Duration

	DatabaseURL   string
	RedisAddr     string
	RedisPassword string

	LoginRateLimit  int
	LoginRateWindow time.Duration

	ProxyMaxBodyBytes int64
	ProxyTimeout      time.Duration

	AllowedOrigins []string
	TrustedProxies []string

	AuditWebhookURL  string
	AuditWebhookAuth string
}

// LoadDotEnv merges KEY=VALUE pairs from path into the process environment
// without overriding variables that are already set. A missing file is not
// an error.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

// Load reads the configuration from the process environment.
func Load() (Config, error) {
	return LoadFromEnv(osEnv{})
}

// LoadFromEnv reads the configuration from env, applying defaults.
func LoadFromEnv(env Env) (Config, error) {
	cfg := Config{
		Production:        IsProduction(env),
		AdminEmail:        env.Getenv(EnvAdminEmail),
		AdminPassword:     env.Getenv(EnvAdminPassword),
		AdminPasswordHash: env.Getenv(EnvAdminPasswordHash),
		SessionSecret:     env.Getenv(EnvSessionSecret),
		SessionTTL:        7 * 24 * time.Hour,
		DatabaseURL:       env.Getenv(EnvDatabaseURL),
		RedisAddr:         env.Getenv(EnvRedisAddr),
		RedisPassword:     env.Getenv(EnvRedisPassword),
		LoginRateLimit:    10,
		LoginRateWindow:   15 * time.Minute,
		ProxyMaxBodyBytes: 1 << 20,
		ProxyTimeout:      30 * time.Second,
		AllowedOrigins:    splitList(env.Getenv(EnvAllowedOrigins)),
		TrustedProxies:    splitList(env.Getenv(EnvTrustedProxies)),
		AuditWebhookURL:   strings.TrimSpace(env.Getenv(EnvAuditWebhookURL)),
		AuditWebhookAuth:  env.Getenv(EnvAuditWebhookAuth),
	}

	var err error
	if cfg.SessionTTL, err = durationVar(env, EnvSessionTTL, cfg.SessionTTL); err != nil {
		return Config{}, err
	}
	if cfg.LoginRateLimit, err = intVar(env, EnvLoginRateLimit, cfg.LoginRateLimit); err != nil {
		return Config{}, err
	}
	if cfg.LoginRateWindow, err = durationVar(env, EnvLoginRateWindow, cfg.LoginRateWindow); err != nil {
		return Config{}, err
	}
	maxBody, err := intVar(env, EnvProxyMaxBody, int(cfg.ProxyMaxBodyBytes))
	if err != nil {
		return Config{}, err
	}
	cfg.ProxyMaxBodyBytes = int64(maxBody)
	if cfg.ProxyTimeout, err = durationVar(env, EnvProxyTimeout, cfg.ProxyTimeout); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// IsProduction reports whether env selects production mode.
func IsProduction(env Env) bool {
	return strings.EqualFold(strings.TrimSpace(env.Getenv(EnvMode)), ModeProduction)
}

// UpstreamURL returns a getter that reads the forwarding target on every
// call, so deployments can inject it without a rebuild or restart.
func UpstreamURL(env Env) func() string {
	return func() string {
		return strings.TrimSpace(env.Getenv(EnvUpstreamURL))
	}
}

func intVar(env Env, key string, def int) (int, error) {
	raw := strings.TrimSpace(env.Getenv(key))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, &Error{Key: key, Msg: fmt.Sprintf("invalid positive integer %q", raw)}
	}
	return n, nil
}

func durationVar(env Env, key string, def time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(env.Getenv(key))
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, &Error{Key: key, Msg: fmt.Sprintf("invalid positive duration %q", raw)}
	}
	return d, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
