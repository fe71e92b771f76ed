package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "adoption.db", cfg.Store.DatabaseURL)
	assert.Equal(t, int32(10), cfg.Store.MaxConns)
	assert.Equal(t, int32(2), cfg.Store.MinConns)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"*"}, cfg.Server.CORSOrigins)
	assert.Equal(t, int64(20<<20), cfg.Server.MaxUploadBytes())
	assert.Equal(t, 15*time.Minute, cfg.Import.Sessions().TTL)
	assert.Equal(t, 100, cfg.Import.Sessions().MaxSessions)
	assert.Equal(t, time.Minute, cfg.Import.SweepInterval())
	assert.InDelta(t, 10, cfg.Import.ProgressRatePerSec, 0.001)
	assert.False(t, cfg.Evaluation.Force)

	r := cfg.Retry.Resilience()
	assert.Equal(t, 3, r.MaxAttempts)
	assert.Equal(t, 100*time.Millisecond, r.InitialBackoff)
	assert.Equal(t, 2*time.Second, r.MaxBackoff)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/adoption
log:
  level: debug
  format: console
server:
  port: 9090
import:
  session_ttl_minutes: 5
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/adoption", cfg.Store.DatabaseURL)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 5*time.Minute, cfg.Import.Sessions().TTL)
	// Defaults still apply for unset values
	assert.Equal(t, 100, cfg.Import.MaxSessions)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/adoption
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("ADOPTION_STORE_DRIVER", "sqlite")
	t.Setenv("ADOPTION_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadDotEnv(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("ADOPTION_SERVER_PORT=3000\n"), 0644))
	t.Cleanup(func() { os.Unsetenv("ADOPTION_SERVER_PORT") }) //nolint:errcheck

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	chdirTemp(t)
	t.Setenv("ADOPTION_STORE_DRIVER", "mysql")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Driver")
}

func validDefaults() *Config {
	return &Config{
		Store:  StoreConfig{Driver: "sqlite", DatabaseURL: "adoption.db", MaxConns: 10, MinConns: 2},
		Log:    LogConfig{Level: "info", Format: "json"},
		Server: ServerConfig{Port: 8080, MaxUploadMB: 20},
		Import: ImportConfig{SessionTTLMinutes: 15, MaxSessions: 100, SweepIntervalSecs: 60, ProgressRatePerSec: 10},
		Retry:  RetryConfig{MaxAttempts: 3, InitialBackoffMs: 100, MaxBackoffMs: 2000},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"valid", func(*Config) {}, ""},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "Port"},
		{"port too high", func(c *Config) { c.Server.Port = 70000 }, "Port"},
		{"no database url", func(c *Config) { c.Store.DatabaseURL = "" }, "DatabaseURL"},
		{"min above max conns", func(c *Config) { c.Store.MinConns = 20 }, "MinConns"},
		{"zero attempts", func(c *Config) { c.Retry.MaxAttempts = 0 }, "MaxAttempts"},
		{"unknown log format", func(c *Config) { c.Log.Format = "xml" }, "Format"},
		{"zero ttl", func(c *Config) { c.Import.SessionTTLMinutes = 0 }, "SessionTTLMinutes"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validDefaults()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}
