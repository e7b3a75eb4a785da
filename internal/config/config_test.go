package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dbconfig "classlens/pkg/database"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// chdirTemp isolates the test from any .env in the package directory
func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	return dir
}

func TestConfig_DefaultConfig(t *testing.T) {
	config := DefaultConfig()
	require.NoError(t, config.Validate())

	assert.Equal(t, dbconfig.DriverSQLite, config.Database.Driver)
	assert.Equal(t, 8080, config.HTTP.Port)
	assert.Equal(t, "0.0.0.0:8080", config.HTTP.Addr())
	assert.Equal(t, 30*time.Second, config.WebSocket.PingInterval)
	assert.Equal(t, 60*time.Second, config.WebSocket.ReadTimeout)
	assert.Equal(t, 40, config.Engagement.AlertThreshold)
	assert.Equal(t, 5*time.Second, config.Engagement.AlertTTL)
	assert.Equal(t, 3, config.Engagement.AlertCap)
	assert.Equal(t, 100, config.Engagement.RateLimitPerMinute)
	assert.Empty(t, config.NATS.URL)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.HTTP.Port = -1 }},
		{"empty host", func(c *Config) { c.HTTP.Host = "" }},
		{"empty database path", func(c *Config) { c.Database.DatabasePath = "" }},
		{"read timeout below ping", func(c *Config) { c.WebSocket.ReadTimeout = 10 * time.Second }},
		{"zero send buffer", func(c *Config) { c.WebSocket.BufferSize = 0 }},
		{"empty secret", func(c *Config) { c.Auth.Secret = "" }},
		{"threshold above 100", func(c *Config) { c.Engagement.AlertThreshold = 101 }},
		{"zero alert cap", func(c *Config) { c.Engagement.AlertCap = 0 }},
		{"negative rate limit", func(c *Config) { c.Engagement.RateLimitPerMinute = -1 }},
		{"empty nats prefix", func(c *Config) { c.NATS.SubjectPrefix = "" }},
		{"unknown log format", func(c *Config) { c.Log.Format = "xml" }},
		{"missing section", func(c *Config) { c.WebSocket = nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.mutate(config)
			assert.Error(t, config.Validate())
		})
	}
}

func TestConfig_LoadFromEnv(t *testing.T) {
	chdirTemp(t)
	t.Setenv("CLASSLENS_HTTP_PORT", "9090")
	t.Setenv("CLASSLENS_DATABASE_PATH", "/tmp/env.db")
	t.Setenv("CLASSLENS_WEBSOCKET_PING_INTERVAL", "15s")
	t.Setenv("CLASSLENS_ENGAGEMENT_ALERT_THRESHOLD", "30")
	t.Setenv("CLASSLENS_HTTP_ALLOWED_ORIGINS", "https://a.example,https://b.example")
	t.Setenv("CLASSLENS_NATS_URL", "nats://localhost:4222")

	config, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, 9090, config.HTTP.Port)
	assert.Equal(t, "/tmp/env.db", config.Database.DatabasePath)
	assert.Equal(t, 15*time.Second, config.WebSocket.PingInterval)
	assert.Equal(t, 30, config.Engagement.AlertThreshold)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, config.HTTP.AllowedOrigins)
	assert.Equal(t, "nats://localhost:4222", config.NATS.URL)
	// untouched keys keep defaults
	assert.Equal(t, 3, config.Engagement.AlertCap)
}

func TestConfig_LoadFromEnv_DotEnv(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("CLASSLENS_AUTH_ISSUER=dotenv-issuer\n"), 0o644))
	t.Cleanup(func() { _ = os.Unsetenv("CLASSLENS_AUTH_ISSUER") })

	config, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "dotenv-issuer", config.Auth.Issuer)
}

func TestConfig_LoadFromFile(t *testing.T) {
	path := writeFile(t, "classlens.yaml", `
http:
  port: 7070
  read_timeout: 45s
websocket:
  buffer_size: 64
engagement:
  alert_ttl: 10s
log:
  level: debug
`)

	config, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, 7070, config.HTTP.Port)
	assert.Equal(t, 45*time.Second, config.HTTP.ReadTimeout)
	assert.Equal(t, 64, config.WebSocket.BufferSize)
	assert.Equal(t, 10*time.Second, config.Engagement.AlertTTL)
	assert.Equal(t, slog.LevelDebug, config.Log.SlogLevel())
	assert.Equal(t, "0.0.0.0", config.HTTP.Host)
}

func TestConfig_LoadFromFile_Errors(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	bad := writeFile(t, "bad.json", `{"http": {"port": `)
	_, err = LoadFromFile(bad)
	assert.Error(t, err)

	invalid := writeFile(t, "invalid.json", `{"http": {"port": 70000}}`)
	_, err = LoadFromFile(invalid)
	assert.Error(t, err)
}

func TestConfig_LoadConfigWithPrecedence(t *testing.T) {
	chdirTemp(t)
	t.Setenv("CLASSLENS_HTTP_PORT", "9090")
	t.Setenv("CLASSLENS_HTTP_HOST", "127.0.0.1")

	path := writeFile(t, "classlens.json", `{"http": {"port": 7070}}`)

	config, err := LoadConfigWithPrecedence(path)
	require.NoError(t, err)
	assert.Equal(t, 7070, config.HTTP.Port, "file wins over environment")
	assert.Equal(t, "127.0.0.1", config.HTTP.Host, "environment wins over defaults")

	config, err = LoadConfigWithPrecedence("")
	require.NoError(t, err)
	assert.Equal(t, 9090, config.HTTP.Port)

	_, err = LoadConfigWithPrecedence(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}

func TestLogConfig_SlogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for level, want := range tests {
		assert.Equal(t, want, (&LogConfig{Level: level}).SlogLevel(), level)
	}
}
