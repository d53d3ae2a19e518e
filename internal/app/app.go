package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/sellerwatch/crawl-cloud/internal/adapter/repository/postgres"
	schedsyncHTTP "github.com/sellerwatch/crawl-cloud/internal/adapter/schedsync/http"
	"github.com/sellerwatch/crawl-cloud/internal/api"
	"github.com/sellerwatch/crawl-cloud/internal/config"
	"github.com/sellerwatch/crawl-cloud/internal/dispatch"
	"github.com/sellerwatch/crawl-cloud/internal/domain/operation"
	"github.com/sellerwatch/crawl-cloud/internal/domain/schedsync"
	"github.com/sellerwatch/crawl-cloud/internal/domain/schedule"
	"github.com/sellerwatch/crawl-cloud/internal/orchestrator"
	"github.com/sellerwatch/crawl-cloud/internal/worker"
	"github.com/sellerwatch/crawl-cloud/pkg/db"
	"github.com/sellerwatch/crawl-cloud/pkg/fetchgate"
	zaplog "github.com/sellerwatch/crawl-cloud/pkg/log"
	"github.com/sellerwatch/crawl-cloud/pkg/schedclient"
	"github.com/sellerwatch/crawl-cloud/pkg/snowflake"
	"github.com/sellerwatch/crawl-cloud/sql/migrations"
)

// RunServer starts the HTTP server and background workers.
func RunServer() {
	app := fx.New(
		fx.Provide(
			// Config
			config.Load,
			newDBConfig,
			newLogConfig,
			newSnowflakeConfig,
			newOrchestratorConfig,

			// Infrastructure (Adapters)
			schedclient.NewFromEnv,
			newRedisClient,
			fx.Annotate(
				newFetchGate,
				fx.As(new(worker.Fetcher)),
			),

			// Domain Adapters (Bind Interfaces)
			fx.Annotate(
				postgres.NewOperationStore,
				fx.As(new(operation.Store)),
			),
			fx.Annotate(
				postgres.NewScheduleRepository,
				fx.As(new(schedule.Repository)),
			),
			fx.Annotate(
				schedsyncHTTP.NewAdapter,
				fx.As(new(schedsync.Syncer)),
			),

			// Orchestrator
			orchestrator.NewGuard,
			orchestrator.NewExecutor,
			orchestrator.NewService,
			orchestrator.NewFinalizer,
			orchestrator.NewReaper,
			orchestrator.NewRetention,

			// Crawl pipeline
			dispatch.NewPublisher,
			worker.NewConsumer,

			// API
			api.NewRouter,
		),
		db.Module,        // Database Module
		snowflake.Module, // Snowflake ID Module
		zaplog.Module,    // Logger Module
		fx.Invoke(registerHooks),
	)

	app.Run()
}

// RunMigrations executes database migrations (up or down).
func RunMigrations(command string) error {
	if command == "" {
		command = "up"
	}

	cfg := config.Load()
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	logger.Info("Starting database migration...", zap.String("command", command))

	dbURL := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		cfg.DBUser,
		cfg.DBPassword,
		cfg.DBHost,
		cfg.DBPort,
		cfg.DBName,
		cfg.DBSSLMode,
	)

	d, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("load migration files: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", d, dbURL)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}

	switch command {
	case "up":
		if err := m.Up(); err != nil && err != migrate.ErrNoChange {
			return fmt.Errorf("migration up failed: %w", err)
		}
		logger.Info("Migration up applied")
	case "down":
		if err := m.Down(); err != nil && err != migrate.ErrNoChange {
			return fmt.Errorf("migration down failed: %w", err)
		}
		logger.Info("Migration down applied")
	default:
		return fmt.Errorf("unknown migration command: %s", command)
	}

	return nil
}

// RunSweep executes a single recovery or retention sweep and exits. Useful
// for running recovery out of band, e.g. before restarting a crashed fleet.
func RunSweep(kind string) error {
	cfg := config.Load()

	logger, err := zaplog.NewLogger(zaplog.Config{Environment: cfg.Environment, Service: cfg.AppName})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	gdb, err := db.New(newDBConfig(cfg))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	idNode, err := snowflake.NewNode(newSnowflakeConfig(cfg))
	if err != nil {
		return fmt.Errorf("init id node: %w", err)
	}

	store := postgres.NewOperationStore(gdb)
	schedules := postgres.NewScheduleRepository(gdb)
	syncer := schedsyncHTTP.NewAdapter(schedclient.NewFromEnv())
	ocfg := newOrchestratorConfig(cfg)
	executor := orchestrator.NewExecutor(store, schedules, syncer, idNode, ocfg, logger)

	ctx := context.Background()
	switch kind {
	case "finalizer":
		n, err := orchestrator.NewFinalizer(store, executor, ocfg, logger).Sweep(ctx, ocfg.FinalizerBatchSize)
		if err != nil {
			return err
		}
		logger.Info("finalizer_sweep_done", zap.Int("swept", n))
	case "reaper":
		n, err := orchestrator.NewReaper(store, executor, ocfg, logger).Sweep(ctx, ocfg.ReaperTimeout, ocfg.ReaperBatchSize)
		if err != nil {
			return err
		}
		logger.Info("reaper_sweep_done", zap.Int("swept", n))
	case "retention":
		n, err := orchestrator.NewRetention(store, ocfg, logger).Sweep(ctx)
		if err != nil {
			return err
		}
		logger.Info("retention_sweep_done", zap.Int64("deleted", n))
	default:
		return fmt.Errorf("unknown sweep kind: %s", kind)
	}

	return nil
}

func registerHooks(
	lc fx.Lifecycle,
	router *api.Router,
	finalizer *orchestrator.Finalizer,
	reaper *orchestrator.Reaper,
	retention *orchestrator.Retention,
	publisher *dispatch.Publisher,
	consumer *worker.Consumer,
	rdb *redis.Client,
	cfg *config.Config,
	logger *zap.Logger,
) {
	var cancels []context.CancelFunc

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			logger.Info("Starting HTTP server", zap.String("port", cfg.Port))

			for _, loop := range []func(context.Context){
				finalizer.Run,
				reaper.Run,
				retention.Run,
				publisher.Run,
				consumer.Run,
			} {
				loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
				cancels = append(cancels, cancel)
				go loop(loopCtx)
			}

			go func() {
				if err := router.Run(); err != nil && err != http.ErrServerClosed {
					logger.Fatal("Server failed to start", zap.Error(err))
				}
			}()

			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("Shutting down HTTP server gracefully...")

			for _, cancel := range cancels {
				cancel()
			}

			shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			defer cancel()

			if err := router.Shutdown(shutdownCtx); err != nil {
				logger.Error("Server forced to shutdown", zap.Error(err))
				return err
			}

			if err := rdb.Close(); err != nil {
				logger.Warn("Redis close failed", zap.Error(err))
			}

			logger.Info("HTTP server stopped gracefully")
			return nil
		},
	})
}

func newDBConfig(cfg *config.Config) db.Config {
	return db.Config{
		Host:            cfg.DBHost,
		Port:            cfg.DBPort,
		Name:            cfg.DBName,
		User:            cfg.DBUser,
		Password:        cfg.DBPassword,
		SSLMode:         cfg.DBSSLMode,
		MaxIdleConn:     cfg.DBMaxIdleConn,
		MaxOpenConn:     cfg.DBMaxOpenConn,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
		ConnMaxIdleTime: cfg.DBConnMaxIdleTime,
	}
}

func newLogConfig(cfg *config.Config) zaplog.Config {
	return zaplog.Config{
		Environment: cfg.Environment,
		Service:     cfg.AppName,
	}
}

func newSnowflakeConfig(cfg *config.Config) snowflake.Config {
	return snowflake.Config{NodeID: cfg.SnowflakeNodeID}
}

func newOrchestratorConfig(cfg *config.Config) orchestrator.Config {
	return orchestrator.Config{
		MaxRetries:         cfg.OpMaxRetries,
		CallTimeout:        cfg.ExecutorCallTimeout,
		FinalizerInterval:  cfg.FinalizerInterval,
		FinalizerBatchSize: cfg.FinalizerBatchSize,
		ReaperInterval:     cfg.ReaperInterval,
		ReaperTimeout:      cfg.ReaperTimeout,
		ReaperBatchSize:    cfg.ReaperBatchSize,
		RetentionInterval:  cfg.RetentionInterval,
		RetentionMaxAge:    cfg.RetentionMaxAge,
		RetentionBatchSize: cfg.RetentionBatchSize,
		CrawlQueueURL:      cfg.CrawlQueueURL,
	}
}

func newRedisClient(cfg *config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
}

func newFetchGate(cfg *config.Config) *fetchgate.Gate {
	gateCfg := fetchgate.DefaultConfig()
	if len(cfg.CrawlUserAgents) > 0 {
		gateCfg.UserAgents = cfg.CrawlUserAgents
	}
	return fetchgate.New(gateCfg)
}
