// Package main - точка входа движка очков Battle64.
//
// Один процесс обслуживает HTTP API (начисления, лидерборды, статистика),
// фоновые задачи (сброс снапшотов, очистка старых досок, проверка титулов)
// и шину событий. Несколько инстансов координируются через Redis:
// события расходятся по pub/sub, задачи берут распределённую блокировку.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/battle64/points-engine/config"
	"github.com/battle64/points-engine/internal/application/eventhandler"
	"github.com/battle64/points-engine/internal/application/points"
	"github.com/battle64/points-engine/internal/domain/activity"
	"github.com/battle64/points-engine/internal/domain/leaderboard"
	"github.com/battle64/points-engine/internal/domain/player"
	"github.com/battle64/points-engine/internal/domain/shared"
	"github.com/battle64/points-engine/internal/infrastructure/messaging"
	"github.com/battle64/points-engine/internal/infrastructure/persistence/memory"
	"github.com/battle64/points-engine/internal/infrastructure/persistence/postgres"
	"github.com/battle64/points-engine/internal/infrastructure/persistence/redis"
	"github.com/battle64/points-engine/internal/infrastructure/scheduler"
	"github.com/battle64/points-engine/internal/infrastructure/scheduler/jobs"
	httpapi "github.com/battle64/points-engine/internal/interface/http"
	"github.com/battle64/points-engine/internal/interface/http/handlers"
	"github.com/battle64/points-engine/pkg/circuitbreaker"
	"github.com/battle64/points-engine/pkg/logger"
	"github.com/battle64/points-engine/pkg/retry"
	"github.com/battle64/points-engine/pkg/timeutil"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

// eventBus is what both bus implementations offer.
type eventBus interface {
	shared.EventPublisher
	SubscribeAll(handler shared.EventHandler) error
	Close() error
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. КОНФИГУРАЦИЯ И ЛОГИРОВАНИЕ
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := logger.New(logger.Options{
		Output:    os.Stdout,
		Level:     logger.ParseLevel(cfg.Log.Level),
		Format:    logger.Format(cfg.Log.Format),
		AddCaller: cfg.App.Debug,
	}).With(logger.String("app", cfg.App.Name), logger.String("env", string(cfg.App.Environment)))
	slogger := log.Slog()

	log.Info("starting points engine",
		logger.String("version", cfg.App.Version),
		logger.String("timezone", cfg.App.Timezone),
		logger.String("storage", cfg.Storage.Backend),
		logger.String("snapshots", cfg.Leaderboard.SnapshotBackend),
	)

	onRetry := func(attempt int, err error, delay time.Duration) {
		log.Warn("store not ready, retrying",
			logger.Int("attempt", attempt),
			logger.Err(err),
			logger.Duration("delay", delay),
		)
	}
	health := handlers.NewCompositeHealthChecker(cfg.App.Version)

	// ─────────────────────────────────────────────────────────────────────────
	// 2. ХРАНИЛИЩА
	// ─────────────────────────────────────────────────────────────────────────
	var (
		players  player.Repository
		ledger   activity.Ledger
		settings shared.SettingsRepository
		pgSnaps  leaderboard.SnapshotStore
	)

	switch cfg.Storage.Backend {
	case config.BackendPostgres:
		conn, err := connectPostgres(ctx, cfg.Database, onRetry)
		if err != nil {
			return err
		}
		defer conn.Close()
		health.AddCheck("postgres", handlers.NewPingCheck(conn))

		if cfg.Database.MigrateOnStart {
			if err := postgres.NewMigrator(conn).Migrate(ctx); err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}
			log.Info("database schema is up to date")
		}

		breaker := circuitbreaker.Store("postgres.players", func(name string, from, to circuitbreaker.State) {
			log.Warn("circuit breaker state changed",
				logger.String("breaker", name),
				logger.String("from", from.String()),
				logger.String("to", to.String()),
			)
		})
		health.AddOptionalCheck("postgres.writes", breaker.Check)
		repo := postgres.NewPlayerRepository(conn, breaker)
		players, ledger = repo, repo
		settings = postgres.NewSettingsRepository(conn)
		pgSnaps = postgres.NewSnapshotRepository(conn)

	default:
		log.Warn("using in-memory storage, state is lost on restart")
		repo := memory.NewPlayerRepository()
		players, ledger = repo, repo
		settings = memory.NewSettingsRepository()
	}

	var cache *redis.Cache
	if cfg.Redis.Enabled {
		cache, err = connectRedis(ctx, cfg.Redis, onRetry)
		if err != nil {
			return err
		}
		defer cache.Close()
		health.AddOptionalCheck("redis", handlers.NewPingCheck(cache))
	}

	var snapshots leaderboard.SnapshotStore
	switch cfg.Leaderboard.SnapshotBackend {
	case config.BackendPostgres:
		snapshots = pgSnaps
	case config.BackendRedis:
		snapshots = redis.NewSnapshotStore(cache)
	default:
		snapshots = memory.NewSnapshotStore()
	}

	engineSettings, err := seedSettings(ctx, settings, cfg.Points.EngineSettings())
	if err != nil {
		return err
	}
	log.Info("engine settings loaded",
		logger.Int64("daily_xp_cap", engineSettings.DailyXPCap),
		logger.Int("leaderboard_size", engineSettings.LeaderboardSize),
		logger.Bool("apply_streak_bonus", engineSettings.ApplyStreakBonus),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 3. ШИНА СОБЫТИЙ
	// ─────────────────────────────────────────────────────────────────────────
	busCfg := messaging.DefaultInMemoryEventBusConfig()
	busCfg.Logger = slogger

	var bus eventBus
	if cache != nil {
		bus, err = messaging.NewRedisEventBus(messaging.RedisEventBusConfig{
			Client:         redis.NewPubSub(cache),
			ChannelName:    cache.Keys().Channel(cfg.Redis.Channel),
			LocalBusConfig: busCfg,
			Logger:         slogger,
		})
		if err != nil {
			return fmt.Errorf("failed to start event bus: %w", err)
		}
	} else {
		bus = messaging.NewInMemoryEventBus(busCfg)
	}
	defer func() {
		if err := bus.Close(); err != nil {
			log.Warn("failed to close event bus", logger.Err(err))
		}
	}()

	feed := eventhandler.NewMilestoneFeed(eventhandler.DefaultFeedCapacity, slogger)
	if err := bus.SubscribeAll(feed.Handle); err != nil {
		return fmt.Errorf("failed to subscribe milestone feed: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 4. ДВИЖОК ОЧКОВ
	// ─────────────────────────────────────────────────────────────────────────
	svc, err := points.New(points.Deps{
		Players:   players,
		Ledger:    ledger,
		Snapshots: snapshots,
		Publisher: bus,
		Logger:    slogger,
	}, points.Options{
		Settings:            engineSettings,
		Calendar:            timeutil.NewCalendar(cfg.App.Location),
		RecentActivityLimit: cfg.Points.RecentActivityLimit,
		BoardRetention:      cfg.Leaderboard.Retention,
	})
	if err != nil {
		return fmt.Errorf("failed to build points service: %w", err)
	}
	if err := svc.RestoreLeaderboards(ctx); err != nil {
		return fmt.Errorf("failed to restore leaderboards: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. ПЛАНИРОВЩИК
	// ─────────────────────────────────────────────────────────────────────────
	schedCfg := scheduler.DefaultSchedulerConfig()
	schedCfg.Logger = slogger
	schedCfg.Timezone = cfg.App.Location
	if cache != nil {
		schedCfg.Locker = cache
	}
	sched := scheduler.NewScheduler(schedCfg)
	sched.OnJobError(func(jobName string, err error) {
		log.Error("scheduled job failed", logger.String("job", jobName), logger.Err(err))
	})

	if err := jobs.Register(sched, svc, jobs.Config{
		TitleCheckInterval: engineSettings.TitleCheckInterval,
		FlushInterval:      cfg.Leaderboard.FlushInterval,
		PruneCron:          cfg.Leaderboard.PruneCron,
		Timeout:            cfg.Leaderboard.JobTimeout,
	}, slogger); err != nil {
		return fmt.Errorf("failed to register jobs: %w", err)
	}
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 6. HTTP
	// ─────────────────────────────────────────────────────────────────────────
	httpCfg := httpapi.DefaultConfig()
	httpCfg.Host = cfg.HTTP.Host
	httpCfg.Port = cfg.HTTP.Port
	httpCfg.ReadTimeout = cfg.HTTP.ReadTimeout
	httpCfg.WriteTimeout = cfg.HTTP.WriteTimeout
	httpCfg.RequestTimeout = cfg.HTTP.RequestTimeout
	httpCfg.AllowedOrigins = cfg.HTTP.AllowedOrigins
	httpCfg.RateLimitPerMinute = cfg.HTTP.RateLimitPerMinute
	httpCfg.AdminAPIKeys = cfg.HTTP.AdminAPIKeys

	server, err := httpapi.NewServer(httpCfg, httpapi.Dependencies{
		Points:        svc,
		Jobs:          sched,
		Feed:          feed,
		Logger:        log,
		HealthChecker: health,
	})
	if err != nil {
		return fmt.Errorf("failed to build http server: %w", err)
	}
	serverErr := server.StartAsync()

	log.Info("points engine is running", logger.String("address", httpCfg.Address()))

	// ─────────────────────────────────────────────────────────────────────────
	// 7. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	select {
	case <-ctx.Done():
		log.Info("received shutdown signal")
	case err := <-serverErr:
		if err != nil {
			log.Error("http server stopped", logger.Err(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.App.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := server.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := sched.Stop(); err != nil && !errors.Is(err, scheduler.ErrSchedulerNotRunning) {
		errs = append(errs, fmt.Errorf("scheduler stop: %w", err))
	}
	if n, err := svc.FlushLeaderboards(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("final leaderboard flush: %w", err))
	} else {
		log.Info("leaderboards flushed", logger.Int("boards", n))
	}

	log.Info("shutdown completed")
	return errors.Join(errs...)
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

func connectPostgres(ctx context.Context, c config.DatabaseConfig, onRetry func(int, error, time.Duration)) (*postgres.Connection, error) {
	pgCfg := postgres.DefaultConfig()
	pgCfg.URL = c.URL
	pgCfg.Host = c.Host
	pgCfg.Port = c.Port
	pgCfg.Database = c.Name
	pgCfg.User = c.User
	pgCfg.Password = c.Password
	pgCfg.SSLMode = c.SSLMode
	pgCfg.MaxConns = c.MaxConns
	pgCfg.MinConns = c.MinConns
	pgCfg.MaxConnLifetime = c.MaxConnLifetime
	pgCfg.MaxConnIdleTime = c.MaxConnIdleTime
	pgCfg.ConnectTimeout = c.ConnectTimeout

	conn, err := retry.Value(ctx, retry.Startup(onRetry), func(ctx context.Context) (*postgres.Connection, error) {
		return postgres.NewConnection(ctx, pgCfg)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return conn, nil
}

func connectRedis(ctx context.Context, c config.RedisConfig, onRetry func(int, error, time.Duration)) (*redis.Cache, error) {
	rCfg := redis.DefaultConfig()
	rCfg.Host = c.Host
	rCfg.Port = c.Port
	rCfg.Password = c.Password
	rCfg.DB = c.DB
	rCfg.PoolSize = c.PoolSize
	rCfg.MinIdleConns = c.MinIdleConns
	rCfg.DialTimeout = c.DialTimeout
	rCfg.ReadTimeout = c.ReadTimeout
	rCfg.WriteTimeout = c.WriteTimeout
	rCfg.KeyPrefix = c.KeyPrefix

	cache, err := retry.Value(ctx, retry.Startup(onRetry), func(context.Context) (*redis.Cache, error) {
		return redis.NewCache(rCfg)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return cache, nil
}

// seedSettings stores the configured settings on first start. Stored
// settings win afterwards so operators can change them without a redeploy.
func seedSettings(ctx context.Context, repo shared.SettingsRepository, seed shared.EngineSettings) (shared.EngineSettings, error) {
	stored, err := repo.Load(ctx)
	switch {
	case err == nil:
		if verr := stored.Validate(); verr != nil {
			return shared.EngineSettings{}, fmt.Errorf("stored engine settings: %w", verr)
		}
		return stored, nil
	case errors.Is(err, shared.ErrSettingsNotFound) || shared.IsNotFound(err):
		if err := repo.Save(ctx, seed); err != nil {
			return shared.EngineSettings{}, fmt.Errorf("failed to seed engine settings: %w", err)
		}
		return seed, nil
	default:
		return shared.EngineSettings{}, fmt.Errorf("failed to load engine settings: %w", err)
	}
}
