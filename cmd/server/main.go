package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/laoweather/backend/internal/config"
	delivery "github.com/laoweather/backend/internal/delivery/http"
	"github.com/laoweather/backend/internal/domain"
	"github.com/laoweather/backend/internal/observability"
	"github.com/laoweather/backend/internal/repository/kafka"
	"github.com/laoweather/backend/internal/repository/postgres"
	"github.com/laoweather/backend/internal/repository/redis"
	"github.com/laoweather/backend/internal/scheduler"
	"github.com/laoweather/backend/internal/service"
)

const serviceName = "laoweather-backend"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel, cfg.LogFormat, serviceName)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server exited with error", zap.Error(err))
	}
	logger.Info("server exited gracefully")
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Dependency Injection: Repositories
	store, closeStore := openStore(ctx, cfg, logger)
	defer closeStore()

	clock := clockwork.NewRealClock()
	metrics := observability.NewMetrics()

	var locker domain.SweepLocker = service.NewLocalLocker()
	if cfg.RedisAddr != "" {
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer client.Close()
		lock := redis.NewSweepLock(client, cfg.SweepLockTTL, logger)
		if err := lock.Ping(ctx); err != nil {
			logger.Warn("redis unavailable, using in-process sweep lock", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		} else {
			locker = lock
			logger.Info("connected to redis", zap.String("addr", cfg.RedisAddr))
		}
	}

	var publisher domain.AlertPublisher
	if len(cfg.KafkaBrokers) > 0 {
		p := kafka.NewAlertPublisher(cfg.KafkaBrokers, cfg.KafkaAlertTopic, logger)
		defer p.Close()
		publisher = p
		logger.Info("publishing alerts to kafka", zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.KafkaAlertTopic))
	}

	// Dependency Injection: Services
	forecastClient := service.NewForecastClient(cfg.MLServiceURL, cfg.MLTimeout, logger)
	ingestor := service.NewForecastIngestor(forecastClient, store, clock, logger, metrics, service.IngestionConfig{
		Horizon:   cfg.ForecastHorizon,
		CityDelay: cfg.CityDelay,
		Retention: cfg.ForecastRetention,
		Location:  cfg.Location,
	})
	buffer := service.NewAlertBuffer(metrics)
	dispatcher := service.NewAlertDispatcher(store, buffer, publisher, clock, logger, metrics, cfg.AlertDedupWindow)
	sweeper := service.NewAlertSweeper(store, service.NewEvaluator(domain.DefaultThresholds()), dispatcher, locker,
		clock, logger, cfg.AlertForecastLookahead)
	feed := service.NewNotificationFeed(store, buffer, sweeper, publisher, clock, logger, service.FeedConfig{
		Window:        cfg.FeedWindow,
		FilteredStats: cfg.StatsScope == config.StatsScopeFiltered,
	})
	weather := service.NewWeatherService(cfg.OpenWeatherAPIKey, "", cfg.OpenWeatherTimeout, store, store, clock, logger)

	sched, err := buildScheduler(cfg, clock, logger, metrics, ingestor, sweeper, weather)
	if err != nil {
		return err
	}

	// Fiber App
	app := fiber.New(fiber.Config{
		AppName:      "Lao Weather API v1.0",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.MLTimeout + 15*time.Second,
		ErrorHandler: delivery.ErrorHandler,
	})

	// Middleware
	app.Use(recover.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: "[${time}] ${status} - ${method} ${path} (${latency})\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	// Routes
	delivery.SetupRoutes(app, delivery.NewHandler(feed, ingestor, sched, store, forecastClient, logger))

	// Jobs start only once the listener is bound.
	app.Hooks().OnListen(func(fiber.ListenData) error {
		sched.Start()
		return nil
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server starting", zap.String("port", cfg.Port), zap.String("env", cfg.Env))
		if err := app.Listen(":" + cfg.Port); err != nil {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server")

		select {
		case <-sched.Stop().Done():
		case <-time.After(cfg.ShutdownTimeout):
			logger.Warn("scheduled jobs still running at shutdown", zap.Duration("timeout", cfg.ShutdownTimeout))
		}
		if err := app.ShutdownWithTimeout(cfg.ShutdownTimeout); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})
	return g.Wait()
}

// openStore connects to Postgres and applies the schema. Without a reachable
// database it falls back to the in-memory store so the API stays up.
func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (domain.Store, func()) {
	fallback := func(err error) (domain.Store, func()) {
		logger.Warn("could not connect to database, running with in-memory store", zap.Error(err))
		return postgres.NewMockRepository(), func() {}
	}
	if cfg.DatabaseURL == "" {
		return fallback(fmt.Errorf("DATABASE_URL is not set"))
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return fallback(err)
	}
	if cfg.DBMaxConns > 0 {
		poolCfg.MaxConns = cfg.DBMaxConns
	}
	pool, err := pgxpool.NewWithConfig(connectCtx, poolCfg)
	if err != nil {
		return fallback(err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return fallback(err)
	}

	db := stdlib.OpenDBFromPool(pool)
	repo := postgres.NewPostgresRepository(db, logger)
	if err := repo.Migrate(connectCtx); err != nil {
		_ = db.Close()
		pool.Close()
		return fallback(err)
	}
	logger.Info("connected to postgres", zap.Int32("max_conns", poolCfg.MaxConns))

	return repo, func() {
		_ = db.Close()
		pool.Close()
	}
}

func buildScheduler(cfg *config.Config, clock clockwork.Clock, logger *zap.Logger, metrics *observability.Metrics,
	ingestor *service.ForecastIngestor, sweeper *service.AlertSweeper, weather *service.WeatherService) (*scheduler.Scheduler, error) {
	sched := scheduler.New(cfg.Location, clock, logger, metrics, cfg.WarmupDelay)

	jobs := []scheduler.Job{
		{
			Name:   scheduler.JobForecastIngestion,
			Spec:   cfg.ForecastSchedule,
			Warmup: true,
			Run: func(ctx context.Context) error {
				_, err := ingestor.RunAll(ctx)
				return err
			},
		},
		{
			Name: scheduler.JobForecastCleanup,
			Spec: cfg.CleanupSchedule,
			Run: func(ctx context.Context) error {
				_, err := ingestor.Cleanup(ctx)
				return err
			},
		},
		{
			Name:   scheduler.JobAlertSweep,
			Spec:   cfg.AlertSchedule,
			Warmup: true,
			Run: func(ctx context.Context) error {
				_, err := sweeper.Sweep(ctx)
				return err
			},
		},
	}
	if weather.Enabled() {
		jobs = append(jobs, scheduler.Job{
			Name: scheduler.JobObservationRefresh,
			Spec: cfg.ObservationSchedule,
			Run: func(ctx context.Context) error {
				_, err := weather.RefreshAll(ctx)
				return err
			},
		})
	} else {
		logger.Info("OPENWEATHER_API_KEY not set, observation refresh disabled")
	}

	for _, job := range jobs {
		if err := sched.Register(job); err != nil {
			return nil, err
		}
	}
	return sched, nil
}
