package config

import (
	"log/slog"
	"net/netip"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func load(t *testing.T, args ...string) (*Config, error) {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse(args))
	v, err := NewViper(fs)
	require.NoError(t, err)
	return Load(v)
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := load(t, "--storage", "memory")
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Port)
	assert.Equal(t, StorageMemory, cfg.Storage)
	assert.Equal(t, StorageMemory, cfg.LockoutStore)
	assert.Equal(t, "sid", cfg.SessionCookie)
	assert.Equal(t, 2*time.Hour, cfg.SessionTTL)
	assert.Equal(t, 2*time.Hour, cfg.SessionMaxAge)
	assert.Equal(t, 5, cfg.MaxLoginAttempts)
	assert.Equal(t, 2*time.Minute, cfg.LockoutStep)
	assert.Equal(t, 30*time.Minute, cfg.LockoutMax)
	assert.Equal(t, 12, cfg.BcryptRounds)
	assert.False(t, cfg.CheckIPConsistency)
	assert.False(t, cfg.CheckUserAgent)
	assert.False(t, cfg.NeedsRedis())
	assert.False(t, cfg.TLSEnabled())
}

func TestLoad_EnvironmentOverridesDefaults(t *testing.T) {
	t.Setenv("STORAGE", "Redis")
	t.Setenv("SESSION_SECRET", "0123456789abcdef-secret")
	t.Setenv("MAX_LOGIN_ATTEMPTS", "3")
	t.Setenv("SESSION_TTL", "30m")
	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8, 192.168.1.1")

	cfg, err := load(t)
	require.NoError(t, err)

	assert.Equal(t, StorageRedis, cfg.Storage)
	assert.True(t, cfg.NeedsRedis())
	assert.Equal(t, 3, cfg.MaxLoginAttempts)
	assert.Equal(t, 30*time.Minute, cfg.SessionTTL)
	assert.Equal(t, []string{"10.0.0.0/8", "192.168.1.1"}, cfg.TrustedProxies)
}

func TestLoad_FlagsOverrideEnvironment(t *testing.T) {
	t.Setenv("PORT", "8080")

	cfg, err := load(t, "--storage", "memory", "--port", "9090")
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Port)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"unknown storage", []string{"--storage", "mongo"}, `unknown storage backend "mongo"`},
		{"persistent without secret", []string{"--storage", "bolt"}, "session-secret is required"},
		{"short secret", []string{"--storage", "memory", "--session-secret", "short"}, "at least 16 characters"},
		{"postgres without dsn", []string{"--storage", "postgres", "--session-secret", "0123456789abcdef"}, "postgres-dsn is required"},
		{"unknown lockout store", []string{"--storage", "memory", "--lockout-store", "disk"}, `unknown lockout store "disk"`},
		{"zero ttl", []string{"--storage", "memory", "--session-ttl", "0s"}, "session-ttl must be positive"},
		{"zero attempts", []string{"--storage", "memory", "--max-login-attempts", "0"}, "max-login-attempts must be positive"},
		{"bcrypt cost", []string{"--storage", "memory", "--bcrypt-rounds", "2"}, "bcrypt-rounds 2 out of range"},
		{"half tls", []string{"--storage", "memory", "--tls-cert", "cert.pem"}, "tls-cert and tls-key must be set together"},
		{"log level", []string{"--storage", "memory", "--log-level", "loud"}, `unknown log level "loud"`},
		{"log format", []string{"--storage", "memory", "--log-format", "xml"}, `unknown log format "xml"`},
		{"trusted proxy", []string{"--storage", "memory", "--trusted-proxies", "not-an-ip"}, `invalid trusted proxy "not-an-ip"`},
		{"port", []string{"--storage", "memory", "--port", "70000"}, "port 70000 out of range"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := load(t, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestSlogLevel(t *testing.T) {
	c := &Config{LogLevel: "debug"}
	l, err := c.SlogLevel()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, l)
}

func TestTrustedProxyPrefixes(t *testing.T) {
	c := &Config{TrustedProxies: []string{"10.1.2.3/8", "192.168.1.1", "::1"}}
	got, err := c.TrustedProxyPrefixes()
	require.NoError(t, err)
	assert.Equal(t, []netip.Prefix{
		netip.MustParsePrefix("10.0.0.0/8"),
		netip.MustParsePrefix("192.168.1.1/32"),
		netip.MustParsePrefix("::1/128"),
	}, got)
}

func TestDerivedKeys(t *testing.T) {
	c := &Config{SessionSecret: "0123456789abcdef-secret"}
	sessionKey, err := c.SessionWrappingKey()
	require.NoError(t, err)
	auditKey, err := c.AuditKey()
	require.NoError(t, err)

	assert.Len(t, sessionKey, 32)
	assert.Len(t, auditKey, 32)
	assert.NotEqual(t, sessionKey, auditKey)

	again, err := c.SessionWrappingKey()
	require.NoError(t, err)
	assert.Equal(t, sessionKey, again)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("TERMINGUARD_TEST_A=from-file\nTERMINGUARD_TEST_B=from-file\n"), 0o600))
	t.Setenv("TERMINGUARD_TEST_B", "from-env")
	t.Cleanup(func() { os.Unsetenv("TERMINGUARD_TEST_A") })

	require.NoError(t, LoadDotEnv(path, filepath.Join(dir, "missing.env")))

	assert.Equal(t, "from-file", os.Getenv("TERMINGUARD_TEST_A"))
	assert.Equal(t, "from-env", os.Getenv("TERMINGUARD_TEST_B"))
}
