package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, int64(50), cfg.Ledger.MinRedemption)
	assert.Equal(t, 5, cfg.Ledger.MaxAttempts)
	assert.False(t, cfg.Redis.Enabled())
	assert.False(t, cfg.Server.TrustProxy)
}

func TestParse_OverlaysDefaults(t *testing.T) {
	// GIVEN: a partial file
	cfg, err := Parse([]byte(`
server:
  port: 9090
  trust_proxy: true
database:
  driver: Postgres
  dsn: postgres://localhost/ledger
redis:
  addr: localhost:6379
ledger:
  code_ttl: 48h
log:
  format: CONSOLE
`))
	require.NoError(t, err)

	// THEN: named fields change, everything else keeps its default
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.True(t, cfg.Server.TrustProxy)
	assert.Equal(t, DriverPostgres, cfg.Database.Driver)
	assert.Equal(t, 48*time.Hour, cfg.Ledger.CodeTTL)
	assert.Equal(t, 5, cfg.Ledger.MaxAttempts)
	assert.Equal(t, 24*time.Hour, cfg.Redis.TTL)
	assert.True(t, cfg.Redis.Enabled())
	assert.Equal(t, "console", cfg.Log.Format)
	require.NoError(t, cfg.Validate())
}

func TestParse_RejectsUnknownKeys(t *testing.T) {
	_, err := Parse([]byte("ledger:\n  min_redeem: 10\n"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }},
		{"rps without burst", func(c *Config) { c.Server.RateLimit.Burst = 0 }},
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }},
		{"postgres without dsn", func(c *Config) { c.Database.Driver = DriverPostgres }},
		{"sqlite without path", func(c *Config) { c.Database.Path = "" }},
		{"zero minimum", func(c *Config) { c.Ledger.MinRedemption = 0 }},
		{"zero attempts", func(c *Config) { c.Ledger.MaxAttempts = 0 }},
		{"zero code ttl", func(c *Config) { c.Ledger.CodeTTL = 0 }},
		{"negative sweep", func(c *Config) { c.Sweeper.Interval = -time.Second }},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoad_FlagsOverrideFile(t *testing.T) {
	// GIVEN: a config file on disk
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 7000\n"), 0o600))

	// WHEN: flags name the file and override port and db
	cfg, err := Load([]string{"-config", path, "-port", "7100", "-db", ":memory:"})
	require.NoError(t, err)

	// THEN
	assert.Equal(t, 7100, cfg.Server.Port)
	assert.Equal(t, ":memory:", cfg.Database.Path)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load([]string{"-config", filepath.Join(t.TempDir(), "nope.yaml")})
	assert.Error(t, err)
}
