// Package config loads server settings from flags, the environment and an
// optional .env file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/jmcleod/terminguard/internal/util"
)

// Storage backends.
const (
	StorageMemory   = "memory"
	StorageBolt     = "bolt"
	StorageRedis    = "redis"
	StoragePostgres = "postgres"
)

// Config is the resolved server configuration.
type Config struct {
	Port    int
	DataDir string

	Storage       string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	PostgresDSN   string
	LockoutStore  string

	SessionSecret        string
	SessionCookie        string
	SessionTTL           time.Duration
	SessionMaxAge        time.Duration
	SessionSweepInterval time.Duration
	CookieSecure         bool
	CheckIPConsistency   bool
	CheckUserAgent       bool

	MaxLoginAttempts     int
	LockoutStep          time.Duration
	LockoutMax           time.Duration
	AttemptIdle          time.Duration
	AttemptSweepInterval time.Duration

	TrustedProxies []string
	BcryptRounds   int

	TLSCert string
	TLSKey  string

	LogLevel  string
	LogFormat string

	AlertWebhookURL  string
	AlertWebhookAuth string

	StaticDir string
}

// RegisterFlags defines every setting as a flag on fs. Flag names are the
// kebab-case form of the environment variable (SESSION_TTL → session-ttl).
func RegisterFlags(fs *pflag.FlagSet) {
	fs.IntP("port", "p", 3000, "Port to listen on")
	fs.String("data-dir", "./data", "Directory for persistent data")

	fs.String("storage", StorageBolt, "Storage backend: memory, bolt, redis or postgres")
	fs.String("redis-addr", "localhost:6379", "Redis address")
	fs.String("redis-password", "", "Redis password")
	fs.Int("redis-db", 0, "Redis database number")
	fs.String("postgres-dsn", "", "PostgreSQL connection string")
	fs.String("lockout-store", StorageMemory, "Login attempt counter store: memory or redis")

	fs.String("session-secret", "", "Secret the session encryption key is derived from")
	fs.String("session-cookie", "sid", "Session cookie name")
	fs.Duration("session-ttl", 2*time.Hour, "Rolling session lifetime")
	fs.Duration("session-max-age", 2*time.Hour, "Maximum time since login before re-authentication")
	fs.Duration("session-sweep-interval", 5*time.Minute, "Interval for purging expired sessions")
	fs.Bool("cookie-secure", false, "Always mark the session cookie Secure")
	fs.Bool("check-ip-consistency", false, "Invalidate sessions whose client IP changes")
	fs.Bool("check-user-agent", false, "Invalidate sessions whose User-Agent changes")

	fs.Int("max-login-attempts", 5, "Failed logins before lockout")
	fs.Duration("lockout-step", 2*time.Minute, "Lockout added per failed login")
	fs.Duration("lockout-max", 30*time.Minute, "Maximum lockout duration")
	fs.Duration("attempt-idle", 15*time.Minute, "Idle time after which attempt counters are dropped")
	fs.Duration("attempt-sweep-interval", 10*time.Minute, "Interval for dropping idle attempt counters")

	fs.StringSlice("trusted-proxies", nil, "CIDR ranges of reverse proxies whose forwarding headers are trusted")
	fs.Int("bcrypt-rounds", 12, "bcrypt cost for new passwords")

	fs.String("tls-cert", "", "Path to TLS certificate file")
	fs.String("tls-key", "", "Path to TLS key file")

	fs.String("log-level", "info", "Log level: debug, info, warn or error")
	fs.String("log-format", "text", "Log format: text or json")

	fs.String("alert-webhook-url", "", "Webhook receiving security alerts")
	fs.String("alert-webhook-auth", "", "Authorization header value for the alert webhook")

	fs.String("static-dir", "", "Directory of public files served for unmatched routes")
}

// LoadDotEnv loads variables from the given .env files, or ./.env when none
// are given. Missing files are ignored; variables already set win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("loading %s: %w", p, err)
		}
	}
	return nil
}

// NewViper returns a viper instance bound to fs and to unprefixed
// environment variables.
func NewViper(fs *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return nil, err
	}
	return v, nil
}

// Load resolves and validates the configuration.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Port:    v.GetInt("port"),
		DataDir: v.GetString("data-dir"),

		Storage:       strings.ToLower(v.GetString("storage")),
		RedisAddr:     v.GetString("redis-addr"),
		RedisPassword: v.GetString("redis-password"),
		RedisDB:       v.GetInt("redis-db"),
		PostgresDSN:   v.GetString("postgres-dsn"),
		LockoutStore:  strings.ToLower(v.GetString("lockout-store")),

		SessionSecret:        v.GetString("session-secret"),
		SessionCookie:        v.GetString("session-cookie"),
		SessionTTL:           v.GetDuration("session-ttl"),
		SessionMaxAge:        v.GetDuration("session-max-age"),
		SessionSweepInterval: v.GetDuration("session-sweep-interval"),
		CookieSecure:         v.GetBool("cookie-secure"),
		CheckIPConsistency:   v.GetBool("check-ip-consistency"),
		CheckUserAgent:       v.GetBool("check-user-agent"),

		MaxLoginAttempts:     v.GetInt("max-login-attempts"),
		LockoutStep:          v.GetDuration("lockout-step"),
		LockoutMax:           v.GetDuration("lockout-max"),
		AttemptIdle:          v.GetDuration("attempt-idle"),
		AttemptSweepInterval: v.GetDuration("attempt-sweep-interval"),

		TrustedProxies: splitList(v.GetStringSlice("trusted-proxies")),
		BcryptRounds:   v.GetInt("bcrypt-rounds"),

		TLSCert: v.GetString("tls-cert"),
		TLSKey:  v.GetString("tls-key"),

		LogLevel:  strings.ToLower(v.GetString("log-level")),
		LogFormat: strings.ToLower(v.GetString("log-format")),

		AlertWebhookURL:  v.GetString("alert-webhook-url"),
		AlertWebhookAuth: v.GetString("alert-webhook-auth"),

		StaticDir: v.GetString("static-dir"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// splitList accepts both repeated values and comma separated environment
// values.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Validate rejects inconsistent settings.
func (c *Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	switch c.Storage {
	case StorageMemory, StorageBolt, StorageRedis, StoragePostgres:
	default:
		errs = append(errs, fmt.Errorf("unknown storage backend %q", c.Storage))
	}
	switch c.LockoutStore {
	case StorageMemory, StorageRedis:
	default:
		errs = append(errs, fmt.Errorf("unknown lockout store %q", c.LockoutStore))
	}
	if c.NeedsRedis() && c.RedisAddr == "" {
		errs = append(errs, errors.New("redis-addr is required for redis storage"))
	}
	if c.Storage == StoragePostgres && c.PostgresDSN == "" {
		errs = append(errs, errors.New("postgres-dsn is required for postgres storage"))
	}
	if c.Storage != StorageMemory && c.SessionSecret == "" {
		errs = append(errs, errors.New("session-secret is required for persistent storage"))
	}
	if c.SessionSecret != "" && len(c.SessionSecret) < 16 {
		errs = append(errs, errors.New("session-secret must be at least 16 characters"))
	}
	if c.SessionCookie == "" {
		errs = append(errs, errors.New("session-cookie must not be empty"))
	}
	for name, d := range map[string]time.Duration{
		"session-ttl":            c.SessionTTL,
		"session-max-age":        c.SessionMaxAge,
		"session-sweep-interval": c.SessionSweepInterval,
		"lockout-step":           c.LockoutStep,
		"lockout-max":            c.LockoutMax,
		"attempt-idle":           c.AttemptIdle,
		"attempt-sweep-interval": c.AttemptSweepInterval,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if c.MaxLoginAttempts <= 0 {
		errs = append(errs, errors.New("max-login-attempts must be positive"))
	}
	if c.BcryptRounds < 4 || c.BcryptRounds > 31 {
		errs = append(errs, fmt.Errorf("bcrypt-rounds %d out of range 4-31", c.BcryptRounds))
	}
	if (c.TLSCert == "") != (c.TLSKey == "") {
		errs = append(errs, errors.New("tls-cert and tls-key must be set together"))
	}
	if _, err := c.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("unknown log format %q", c.LogFormat))
	}
	if _, err := c.TrustedProxyPrefixes(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// NeedsRedis reports whether any component is configured to use Redis.
func (c *Config) NeedsRedis() bool {
	return c.Storage == StorageRedis || c.LockoutStore == StorageRedis
}

// TLSEnabled reports whether a certificate pair is configured.
func (c *Config) TLSEnabled() bool {
	return c.TLSCert != "" && c.TLSKey != ""
}

// SlogLevel parses LogLevel.
func (c *Config) SlogLevel() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("unknown log level %q", c.LogLevel)
	}
	return l, nil
}

// TrustedProxyPrefixes parses TrustedProxies. Bare addresses are accepted
// as single-host prefixes.
func (c *Config) TrustedProxyPrefixes() ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, raw := range c.TrustedProxies {
		if p, err := netip.ParsePrefix(raw); err == nil {
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q", raw)
		}
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

// SessionWrappingKey derives the key that seals persisted sessions.
func (c *Config) SessionWrappingKey() ([]byte, error) {
	return util.DeriveSessionKey(c.SessionSecret, "sessions")
}

// AuditKey derives the key that signs audit trail exports.
func (c *Config) AuditKey() ([]byte, error) {
	return util.DeriveSessionKey(c.SessionSecret, "audit")
}
