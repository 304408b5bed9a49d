// Package daemon manages the streakforge daemon lifecycle and configuration.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata" // timezone names must resolve on hosts without zoneinfo

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/streakforge/streakforge/internal/app/engagement"
	"github.com/streakforge/streakforge/internal/domain"
	"github.com/streakforge/streakforge/internal/infra/store"
)

// EnvPrefix prefixes every environment override, e.g. STREAKFORGE_API_PORT.
const EnvPrefix = "STREAKFORGE"

// Config holds all daemon configuration.
type Config struct {
	API           APIConfig           `toml:"api"`
	Database      DatabaseConfig      `toml:"database"`
	Progression   ProgressionConfig   `toml:"progression"`
	Notifications NotificationsConfig `toml:"notifications"`
	Cache         CacheConfig         `toml:"cache"`
	AMQP          AMQPConfig          `toml:"amqp"`
	Logging       LoggingConfig       `toml:"logging"`
	Telemetry     TelemetryConfig     `toml:"telemetry"`
}

// APIConfig controls the HTTP API server.
type APIConfig struct {
	Host           string   `toml:"host"`
	Port           int      `toml:"port"`
	CORSOrigins    []string `toml:"cors_origins" split_words:"true"`
	RequestTimeout string   `toml:"request_timeout" split_words:"true"`
}

// DatabaseConfig selects the SQL backend.
type DatabaseConfig struct {
	Driver string `toml:"driver"` // sqlite | postgres
	Dir    string `toml:"dir"`    // sqlite data directory
	DSN    string `toml:"dsn"`    // postgres connection string
}

// ProgressionConfig holds the XP rules, the leveling curve and the calendar.
type ProgressionConfig struct {
	Timezone         string            `toml:"timezone"`
	Policy           engagement.Policy `toml:"policy"`
	Curve            engagement.Curve  `toml:"curve"`
	DailyChallenges  int               `toml:"daily_challenges" split_words:"true"`
	WeeklyChallenges int               `toml:"weekly_challenges" split_words:"true"`
}

// NotificationsConfig controls the feed and the push policy.
type NotificationsConfig struct {
	Enabled       bool   `toml:"enabled"`
	MaxPushPerDay int    `toml:"max_push_per_day" split_words:"true"`
	QuietStart    string `toml:"quiet_start" split_words:"true"`
	QuietEnd      string `toml:"quiet_end" split_words:"true"`
}

// CacheConfig controls the award replay cache. An empty RedisURL keeps it
// process-local.
type CacheConfig struct {
	Enabled   bool   `toml:"enabled"`
	RedisURL  string `toml:"redis_url" split_words:"true"`
	LocalSize int    `toml:"local_size" split_words:"true"`
	TTL       string `toml:"ttl"`
}

// AMQPConfig controls progress event publishing.
type AMQPConfig struct {
	URL   string `toml:"url"`
	Queue string `toml:"queue"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // json | console
}

// TelemetryConfig controls metrics and health checks.
type TelemetryConfig struct {
	Prometheus     bool   `toml:"prometheus"`
	HealthInterval string `toml:"health_interval" split_words:"true"`
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() Config {
	homeDir := streakforgeHome()
	return Config{
		API: APIConfig{
			Host:           "127.0.0.1",
			Port:           8787,
			CORSOrigins:    []string{"*"},
			RequestTimeout: "30s",
		},
		Database: DatabaseConfig{
			Driver: store.DriverSQLite,
			Dir:    filepath.Join(homeDir, "data"),
		},
		Progression: ProgressionConfig{
			Timezone:         "UTC",
			Policy:           engagement.DefaultPolicy(),
			Curve:            engagement.DefaultCurve,
			DailyChallenges:  2,
			WeeklyChallenges: 3,
		},
		Notifications: NotificationsConfig{
			Enabled:       true,
			MaxPushPerDay: 3,
			QuietStart:    "22:00",
			QuietEnd:      "08:00",
		},
		Cache: CacheConfig{
			Enabled:   true,
			LocalSize: 4096,
			TTL:       "24h",
		},
		AMQP: AMQPConfig{
			Queue: "streakforge.progress",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Telemetry: TelemetryConfig{
			Prometheus:     true,
			HealthInterval: "60s",
		},
	}
}

// LoadConfig builds the config from defaults, then $STREAKFORGE_HOME/config.toml,
// then STREAKFORGE_* environment variables (a .env file in the home directory
// is loaded first without overriding the real environment).
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()
	home := streakforgeHome()

	envFile := filepath.Join(home, ".env")
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			return cfg, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	path := filepath.Join(home, "config.toml")
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return cfg, fmt.Errorf("env overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects configurations the daemon cannot run with.
func (c Config) Validate() error {
	if c.API.Port <= 0 || c.API.Port > 65535 {
		return fmt.Errorf("api.port must be within 1..65535, got %d", c.API.Port)
	}
	switch c.Database.Driver {
	case "", store.DriverSQLite:
	case store.DriverPostgres:
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown database.driver %q", c.Database.Driver)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if err := c.Progression.Policy.Validate(); err != nil {
		return fmt.Errorf("progression.policy: %w", err)
	}
	if err := c.Progression.Curve.Validate(); err != nil {
		return fmt.Errorf("progression.curve: %w", err)
	}
	if c.Progression.DailyChallenges < 0 || c.Progression.WeeklyChallenges < 0 {
		return fmt.Errorf("challenge counts must not be negative")
	}
	if c.Notifications.MaxPushPerDay < 0 {
		return fmt.Errorf("notifications.max_push_per_day must not be negative")
	}
	if !engagement.ValidHHMM(c.Notifications.QuietStart) || !engagement.ValidHHMM(c.Notifications.QuietEnd) {
		return fmt.Errorf("notifications quiet hours must be HH:MM")
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "json", "console":
	default:
		return fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format)
	}
	for _, d := range []struct{ key, value string }{
		{"api.request_timeout", c.API.RequestTimeout},
		{"cache.ttl", c.Cache.TTL},
		{"telemetry.health_interval", c.Telemetry.HealthInterval},
	} {
		if err := validDuration(d.key, d.value); err != nil {
			return err
		}
	}
	return nil
}

// validDuration accepts an empty value (use the default) or a positive
// time.ParseDuration string.
func validDuration(key, s string) error {
	if s == "" {
		return nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	if d <= 0 {
		return fmt.Errorf("%s must be positive, got %s", key, s)
	}
	return nil
}

// Location resolves the progression timezone that defines calendar days.
func (c Config) Location() (*time.Location, error) {
	tz := c.Progression.Timezone
	if tz == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("progression.timezone %q: %w", tz, err)
	}
	return loc, nil
}

// NotificationPolicy converts the notifications section for the engine.
func (c Config) NotificationPolicy() domain.NotificationPolicy {
	return domain.NotificationPolicy{
		MaxPushPerDay: c.Notifications.MaxPushPerDay,
		QuietStart:    c.Notifications.QuietStart,
		QuietEnd:      c.Notifications.QuietEnd,
	}
}

// StoreOptions converts the database section for store.Open.
func (c Config) StoreOptions() store.Options {
	dir := c.Database.Dir
	if dir == "" {
		dir = filepath.Join(streakforgeHome(), "data")
	}
	return store.Options{Driver: c.Database.Driver, Dir: dir, DSN: c.Database.DSN}
}

// SaveConfig writes the config to $STREAKFORGE_HOME/config.toml.
func SaveConfig(cfg Config) error {
	path := filepath.Join(streakforgeHome(), "config.toml")
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	return encoder.Encode(cfg)
}

// streakforgeHome returns the streakforge data directory.
func streakforgeHome() string {
	if env := os.Getenv("STREAKFORGE_HOME"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".streakforge")
}

// Home is exported for use by other packages.
func Home() string {
	return streakforgeHome()
}

// parseDuration reads a duration already checked by Validate.
func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
