/*
config.go - Service configuration

PURPOSE:
  Loads the YAML configuration file, applies defaults, lets command-line
  flags override the common settings and validates the result before
  anything is wired.

FILE FORMAT:
  server:   port, cors_origins, rate_limit {rps, burst}
  database: driver (sqlite|postgres), path (sqlite), dsn (postgres)
  redis:    addr, password, db, ttl  (optional; empty addr = in-process cache)
  ledger:   min_redemption, max_attempts, code_ttl
  sweeper:  interval  (0 disables code expiry sweeps)
  rewards:  catalog   (path to YAML; empty = built-in catalog)
  log:      level, format (json|console)

FLAGS:
  -config  path to YAML (optional; defaults are complete without it)
  -port    overrides server.port
  -db      overrides database.path (sqlite) or database.dsn (postgres)

SEE ALSO:
  - cmd/server/main.go: Consumes Config
  - config.example.yaml: Annotated example
*/
package config

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type ServerConfig struct {
	Port        int             `yaml:"port"`
	CORSOrigins []string        `yaml:"cors_origins"`
	RateLimit   RateLimitConfig `yaml:"rate_limit"`
	// TrustProxy takes the client address from X-Forwarded-For / X-Real-IP.
	// Enable only behind a proxy that overwrites those headers.
	TrustProxy bool `yaml:"trust_proxy"`
}

// RateLimitConfig is a per-client token bucket. RPS 0 disables limiting.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"` // sqlite | postgres
	Path   string `yaml:"path"`
	DSN    string `yaml:"dsn"`
}

type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

func (r RedisConfig) Enabled() bool { return r.Addr != "" }

type LedgerConfig struct {
	MinRedemption int64         `yaml:"min_redemption"`
	MaxAttempts   int           `yaml:"max_attempts"`
	CodeTTL       time.Duration `yaml:"code_ttl"`
	CacheSize     int           `yaml:"cache_size"`
}

type SweeperConfig struct {
	Interval time.Duration `yaml:"interval"`
}

type RewardsConfig struct {
	Catalog string `yaml:"catalog"`
}

type LogConfig struct {
	Level  string `yaml:"level"`  // trace|debug|info|warn|error
	Format string `yaml:"format"` // json|console
}

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Ledger   LedgerConfig   `yaml:"ledger"`
	Sweeper  SweeperConfig  `yaml:"sweeper"`
	Rewards  RewardsConfig  `yaml:"rewards"`
	Log      LogConfig      `yaml:"log"`
}

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Default returns a complete configuration for a local SQLite deployment.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:        8080,
			CORSOrigins: []string{"http://localhost:5173", "http://localhost:8080"},
			RateLimit:   RateLimitConfig{RPS: 50, Burst: 100},
		},
		Database: DatabaseConfig{Driver: DriverSQLite, Path: "ledger.db"},
		Redis:    RedisConfig{TTL: 24 * time.Hour},
		Ledger: LedgerConfig{
			MinRedemption: 50,
			MaxAttempts:   5,
			CodeTTL:       30 * 24 * time.Hour,
			CacheSize:     10_000,
		},
		Sweeper: SweeperConfig{Interval: time.Minute},
		Log:     LogConfig{Level: "info", Format: "json"},
	}
}

// Parse decodes YAML over the defaults. Unknown keys are rejected.
func Parse(b []byte) (Config, error) {
	cfg := Default()
	if len(bytes.TrimSpace(b)) == 0 {
		return cfg, nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	cfg.normalize()
	return cfg, nil
}

// LoadFile reads path; an empty path yields the defaults.
func LoadFile(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Load parses args (usually os.Args[1:]), reads the config file they name
// and applies flag overrides. The result is validated.
func Load(args []string) (Config, error) {
	fs := flag.NewFlagSet("points-ledger", flag.ContinueOnError)
	path := fs.String("config", "", "path to config yaml")
	port := fs.Int("port", 0, "HTTP server port (overrides server.port)")
	db := fs.String("db", "", "SQLite path or Postgres DSN (overrides database)")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg, err := LoadFile(*path)
	if err != nil {
		return Config{}, err
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *db != "" {
		if cfg.Database.Driver == DriverPostgres {
			cfg.Database.DSN = *db
		} else {
			cfg.Database.Path = *db
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.Database.Driver = strings.ToLower(strings.TrimSpace(c.Database.Driver))
	if c.Database.Driver == "" {
		c.Database.Driver = DriverSQLite
	}
	if c.Redis.TTL <= 0 {
		c.Redis.TTL = 24 * time.Hour
	}
	c.Log.Level = strings.ToLower(c.Log.Level)
	c.Log.Format = strings.ToLower(c.Log.Format)
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Server.RateLimit.RPS < 0 || c.Server.RateLimit.Burst < 0 {
		return errors.New("server.rate_limit must not be negative")
	}
	if c.Server.RateLimit.RPS > 0 && c.Server.RateLimit.Burst == 0 {
		return errors.New("server.rate_limit.burst is required when rps is set")
	}
	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.Path == "" {
			return errors.New("database.path is required for sqlite")
		}
	case DriverPostgres:
		if c.Database.DSN == "" {
			return errors.New("database.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("database.driver %q is not supported", c.Database.Driver)
	}
	if c.Ledger.MinRedemption <= 0 {
		return errors.New("ledger.min_redemption must be positive")
	}
	if c.Ledger.MaxAttempts <= 0 {
		return errors.New("ledger.max_attempts must be positive")
	}
	if c.Ledger.CodeTTL <= 0 {
		return errors.New("ledger.code_ttl must be positive")
	}
	if c.Sweeper.Interval < 0 {
		return errors.New("sweeper.interval must not be negative")
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("log.format %q must be json or console", c.Log.Format)
	}
	return nil
}
