package daemon

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streakforge/streakforge/internal/app/engagement"
	"github.com/streakforge/streakforge/internal/domain"
	"github.com/streakforge/streakforge/internal/infra/store"
)

func TestDefaultConfig(t *testing.T) {
	t.Setenv("STREAKFORGE_HOME", t.TempDir())
	cfg := DefaultConfig()

	if cfg.API.Host != "127.0.0.1" {
		t.Errorf("API.Host = %q, want %q", cfg.API.Host, "127.0.0.1")
	}
	if cfg.API.Port != 8787 {
		t.Errorf("API.Port = %d, want %d", cfg.API.Port, 8787)
	}
	if cfg.Database.Driver != store.DriverSQLite {
		t.Errorf("Database.Driver = %q, want sqlite", cfg.Database.Driver)
	}
	if cfg.Progression.Policy != engagement.DefaultPolicy() {
		t.Error("Progression.Policy should default to engagement.DefaultPolicy()")
	}
	if cfg.NotificationPolicy() != domain.DefaultNotificationPolicy() {
		t.Error("notifications should default to the domain push policy")
	}
	require.NoError(t, cfg.Validate())
}

func TestLoadConfig_FileThenEnv(t *testing.T) {
	home := t.TempDir()
	t.Setenv("STREAKFORGE_HOME", home)

	toml := `
[api]
port = 9000

[progression]
timezone = "Europe/Berlin"

[progression.policy]
task_xp = 20
habit_xp = 10
referral_xp = 100
focus_xp_per_minute = 1
focus_min_ratio = 0.5
max_session_minutes = 480
long_focus_minutes = 90
streak_bonus_per_day = 0.05
streak_bonus_cap = 0.5
max_permanent_bonus = 1.5
max_multiplier = 2.0
early_bird_hour = 8
night_owl_hour = 22

[notifications]
max_push_per_day = 5
`
	require.NoError(t, os.WriteFile(filepath.Join(home, "config.toml"), []byte(toml), 0600))
	t.Setenv("STREAKFORGE_API_PORT", "9100")
	t.Setenv("STREAKFORGE_CACHE_REDIS_URL", "redis://localhost:6379/0")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.API.Port, "env wins over file")
	assert.Equal(t, "Europe/Berlin", cfg.Progression.Timezone)
	assert.EqualValues(t, 20, cfg.Progression.Policy.TaskXP)
	assert.Equal(t, 5, cfg.Notifications.MaxPushPerDay)
	assert.Equal(t, "22:00", cfg.Notifications.QuietStart, "unset keys keep defaults")
	assert.Equal(t, "redis://localhost:6379/0", cfg.Cache.RedisURL)
}

func TestLoadConfig_DotEnv(t *testing.T) {
	home := t.TempDir()
	t.Setenv("STREAKFORGE_HOME", home)
	// Registered so the value set by .env is cleaned up after the test.
	t.Setenv("STREAKFORGE_LOGGING_LEVEL", "")
	os.Unsetenv("STREAKFORGE_LOGGING_LEVEL")

	require.NoError(t, os.WriteFile(filepath.Join(home, ".env"), []byte("STREAKFORGE_LOGGING_LEVEL=debug\n"), 0600))

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	t.Setenv("STREAKFORGE_HOME", t.TempDir())
	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 8787, cfg.API.Port)
}

func TestLoadConfig_Invalid(t *testing.T) {
	home := t.TempDir()
	t.Setenv("STREAKFORGE_HOME", home)
	require.NoError(t, os.WriteFile(filepath.Join(home, "config.toml"), []byte("[database]\ndriver = \"mysql\"\n"), 0600))

	_, err := LoadConfig()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Setenv("STREAKFORGE_HOME", t.TempDir())
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.API.Port = 0 }},
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }},
		{"postgres without dsn", func(c *Config) { c.Database.Driver = store.DriverPostgres }},
		{"unknown timezone", func(c *Config) { c.Progression.Timezone = "Mars/Olympus" }},
		{"negative task xp", func(c *Config) { c.Progression.Policy.TaskXP = -1 }},
		{"ratio above one", func(c *Config) { c.Progression.Policy.FocusMinRatio = 1.5 }},
		{"flat curve", func(c *Config) { c.Progression.Curve.Exponent = 0 }},
		{"negative challenges", func(c *Config) { c.Progression.DailyChallenges = -1 }},
		{"bad quiet hours", func(c *Config) { c.Notifications.QuietStart = "10pm" }},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }},
		{"unparsable cache ttl", func(c *Config) { c.Cache.TTL = "a day" }},
		{"unparsable request timeout", func(c *Config) { c.API.RequestTimeout = "30" }},
		{"negative health interval", func(c *Config) { c.Telemetry.HealthInterval = "-5s" }},
		{"zero cache ttl", func(c *Config) { c.Cache.TTL = "0s" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestSaveConfig_RoundTrip(t *testing.T) {
	t.Setenv("STREAKFORGE_HOME", t.TempDir())
	cfg := DefaultConfig()
	cfg.API.Port = 9999
	cfg.Progression.Policy.HabitXP = 12
	require.NoError(t, SaveConfig(cfg))

	got, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 9999, got.API.Port)
	assert.EqualValues(t, 12, got.Progression.Policy.HabitXP)
}

func TestLoadConfig_RejectsBadDurationFromEnv(t *testing.T) {
	t.Setenv("STREAKFORGE_HOME", t.TempDir())
	t.Setenv("STREAKFORGE_CACHE_TTL", "forever")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cache.ttl")
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		input string
		want  time.Duration
	}{
		{"30s", 30 * time.Second},
		{"24h", 24 * time.Hour},
		{"", time.Minute},
		{"soon", time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := parseDuration(tt.input, time.Minute); got != tt.want {
				t.Errorf("parseDuration(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

// ─── Daemon wiring ──────────────────────────────────────────────────────────

func TestNewWithLogger_WiresEngine(t *testing.T) {
	home := t.TempDir()
	t.Setenv("STREAKFORGE_HOME", home)
	cfg := DefaultConfig()
	cfg.Database.Dir = filepath.Join(home, "data")

	d, err := NewWithLogger(cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(d.Close)

	assert.NotNil(t, d.Engine)
	assert.NotNil(t, d.Notifier)
	assert.NotNil(t, d.Cache)
	assert.Nil(t, d.Publisher, "no amqp url configured")
	assert.Equal(t, "127.0.0.1:8787", d.Addr())

	res, err := d.Engine.Award(context.Background(), engagement.AwardRequest{
		UserID: "u1",
		Action: domain.TaskCompleted{TaskID: "t1"},
	})
	require.NoError(t, err)
	assert.EqualValues(t, 15, res.ActionTotalXP)

	d.Health.RunOnce(context.Background())
	assert.True(t, d.Health.IsHealthy())
	assert.Len(t, d.Health.Statuses(), 2)

	d.Close()
	d.Close()
}

func TestNewWithLogger_UnknownDriver(t *testing.T) {
	t.Setenv("STREAKFORGE_HOME", t.TempDir())
	cfg := DefaultConfig()
	cfg.Database.Driver = "oracle"
	_, err := NewWithLogger(cfg, zerolog.Nop())
	assert.Error(t, err)
}
