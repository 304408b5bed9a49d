package daemon

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/streakforge/streakforge/internal/api"
	"github.com/streakforge/streakforge/internal/app/engagement"
	"github.com/streakforge/streakforge/internal/domain"
	"github.com/streakforge/streakforge/internal/health"
	"github.com/streakforge/streakforge/internal/infra/cache"
	"github.com/streakforge/streakforge/internal/infra/events"
	"github.com/streakforge/streakforge/internal/infra/store"
	"github.com/streakforge/streakforge/internal/platform/logger"
)

// Daemon is the streakforge runtime. It wires together all services.
type Daemon struct {
	Config Config
	Log    zerolog.Logger
	Clock  domain.Clock
	DB     *store.DB
	Engine *engagement.Engine
	Server *api.Server
	Health *health.Checker

	Notifier  *engagement.NotificationService
	Publisher *events.Publisher // nil when amqp.url is empty
	Cache     *cache.Layered    // nil when cache.enabled is false

	cancel    context.CancelFunc
	closeOnce sync.Once
}

// New creates and initializes a Daemon with all services wired.
func New() (*Daemon, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	return NewWithConfig(cfg)
}

// NewWithConfig creates a Daemon with the given configuration.
func NewWithConfig(cfg Config) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log, err := logger.New("streakforge", logger.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		return nil, err
	}
	return NewWithLogger(cfg, log)
}

// NewWithLogger is NewWithConfig with a caller-supplied logger.
func NewWithLogger(cfg Config, log zerolog.Logger) (*Daemon, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	opts := cfg.StoreOptions()
	db, err := store.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	d := &Daemon{
		Config: cfg,
		Log:    log,
		Clock:  domain.NewLocationClock(loc),
		DB:     db,
	}

	checks := []health.Check{health.PingCheck("database", db)}
	if opts.Driver == "" || opts.Driver == store.DriverSQLite {
		checks = append(checks, health.DataDirCheck(opts.Dir))
	}

	engineOpts := []engagement.Option{
		engagement.WithPolicy(cfg.Progression.Policy),
		engagement.WithCurve(cfg.Progression.Curve),
		engagement.WithChallengeTemplates(
			engagement.DailyTemplates, engagement.WeeklyTemplates,
			cfg.Progression.DailyChallenges, cfg.Progression.WeeklyChallenges,
		),
	}

	// Event bus
	var publisher engagement.EventPublisher
	if cfg.AMQP.URL != "" {
		pub, err := events.Dial(cfg.AMQP.URL, cfg.AMQP.Queue, log)
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("connect amqp: %w", err)
		}
		d.Publisher = pub
		publisher = pub
		checks = append(checks, health.PingCheck("amqp", pub))
	}

	// Replay cache
	if cfg.Cache.Enabled {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		c, err := cache.New(ctx, cache.Options{
			RedisURL:  cfg.Cache.RedisURL,
			LocalSize: cfg.Cache.LocalSize,
			TTL:       parseDuration(cfg.Cache.TTL, 24*time.Hour),
		}, log)
		cancel()
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("open cache: %w", err)
		}
		d.Cache = c
		engineOpts = append(engineOpts, engagement.WithResultCache(c))
		if cfg.Cache.RedisURL != "" {
			checks = append(checks, health.PingCheck("redis", c))
		}
	}

	if cfg.Notifications.Enabled {
		d.Notifier = engagement.NewNotificationService(db, cfg.NotificationPolicy(), d.Clock, publisher, log)
		engineOpts = append(engineOpts, engagement.WithNotifier(d.Notifier))
	}

	d.Engine = engagement.NewEngine(db, d.Clock, log, engineOpts...)
	d.Health = health.NewChecker(parseDuration(cfg.Telemetry.HealthInterval, time.Minute), log, checks...)

	srv := api.NewServer(d.Engine, d.Health, log)
	srv.SetCORSOrigins(cfg.API.CORSOrigins)
	srv.SetTimeout(parseDuration(cfg.API.RequestTimeout, 30*time.Second))

	// Enable Prometheus /metrics if configured
	if cfg.Telemetry.Prometheus {
		srv.EnableMetrics()
	}
	d.Server = srv

	return d, nil
}

// Addr is the listen address of the API server.
func (d *Daemon) Addr() string {
	return fmt.Sprintf("%s:%d", d.Config.API.Host, d.Config.API.Port)
}

// Serve runs the API server until ctx is canceled or the process receives
// SIGINT/SIGTERM, then shuts down gracefully.
func (d *Daemon) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	go d.Health.Run(ctx)

	addr := d.Addr()
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      d.Server.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  2 * time.Minute,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case sig := <-sigCh:
			d.Log.Info().Str("signal", sig.String()).Msg("shutting down")
		case <-ctx.Done():
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			d.Log.Error().Err(err).Msg("http shutdown")
		}
		cancel()
	}()

	d.Log.Info().
		Str("addr", "http://"+addr).
		Str("driver", d.DB.Dialect().String()).
		Bool("metrics", d.Config.Telemetry.Prometheus).
		Bool("events", d.Publisher != nil).
		Msg("streakforge serving")

	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	d.Close()
	return nil
}

// Close releases every connection the daemon holds. Safe to call twice.
func (d *Daemon) Close() {
	if d.cancel != nil {
		d.cancel()
	}
	d.closeOnce.Do(d.release)
}

func (d *Daemon) release() {
	if d.Publisher != nil {
		if err := d.Publisher.Close(); err != nil {
			d.Log.Warn().Err(err).Msg("close amqp")
		}
	}
	if d.Cache != nil {
		if err := d.Cache.Close(); err != nil {
			d.Log.Warn().Err(err).Msg("close cache")
		}
	}
	if d.DB != nil {
		_ = d.DB.Close()
	}
}
