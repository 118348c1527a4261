package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"refcommission/internal/cache"
	"refcommission/internal/catalog"
	"refcommission/internal/config"
	"refcommission/internal/httpserver"
	"refcommission/internal/logging"
	"refcommission/internal/metrics"
	"refcommission/internal/money"
	"refcommission/internal/purchase"
	"refcommission/internal/referral"
	"refcommission/internal/repo"
	"refcommission/internal/repo/memrepo"
	"refcommission/internal/sweeper"
	"refcommission/internal/users"
	"refcommission/internal/wa"
	"refcommission/internal/withdrawal"
	"refcommission/migrations"

	"github.com/joho/godotenv"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting refcommission", "db_driver", cfg.DBDriver, "commission_policy", cfg.CommissionPolicy)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metricRegistry := metrics.Registry(cfg.MetricsNamespace)

	repository, err := openRepository(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("init repository: %w", err)
	}
	defer repository.Close()

	if err := repository.RunMigrations(ctx, migrations.Files); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrated")

	var (
		locker       cache.Locker = cache.NewLocalLocker()
		packageCache catalog.Cache
	)
	if cfg.RedisAddr != "" {
		redisClient := cache.New(cache.Config{
			Addr:      cfg.RedisAddr,
			Password:  cfg.RedisPassword,
			DB:        cfg.RedisDB,
			UseTLS:    cfg.RedisTLS,
			KeyPrefix: cfg.RedisPrefix,
		}, logger)
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("failed closing redis", "error", err)
			}
		}()
		if err := redisClient.Ping(ctx); err != nil {
			logger.Warn("redis ping failed", "error", err)
		}
		locker = cache.NewLocker(redisClient, cfg.LockTTL, logger)
		packageCache = redisClient
	} else {
		logger.Info("redis not configured, using in-process locks and no package cache")
	}

	policy, err := referral.ParsePolicy(cfg.CommissionPolicy)
	if err != nil {
		return err
	}

	graph := referral.NewGraph(repository, logger)
	catalogSvc := catalog.NewService(repository, packageCache, logger)
	distributor := referral.NewDistributor(repository, graph, referral.Config{
		Policy:    policy,
		Converter: money.NewConverter(cfg.USDToPKR()),
		MaxDepth:  cfg.CommissionMaxDepth,
	}, metricRegistry, logger)

	purchaseOpts := []purchase.Option{purchase.WithMetrics(metricRegistry)}
	withdrawalOpts := []withdrawal.Option{withdrawal.WithMetrics(metricRegistry)}

	if cfg.WhatsAppEnabled() {
		waClient, err := wa.New(ctx, wa.Config{
			StorePath: cfg.WhatsAppStorePath,
			LogLevel:  cfg.WhatsAppLogLevel,
			AdminJIDs: cfg.WhatsAppAdminJIDs,
			Metrics:   metricRegistry,
		}, logger)
		if err != nil {
			return fmt.Errorf("init whatsapp client: %w", err)
		}
		defer waClient.Close()

		waCtx, waCancel := context.WithCancel(ctx)
		defer waCancel()
		go func() {
			if err := waClient.Start(waCtx); err != nil {
				logger.Error("whatsapp client stopped", "error", err)
			}
		}()

		purchaseOpts = append(purchaseOpts, purchase.WithNotifier(waClient))
		withdrawalOpts = append(withdrawalOpts, withdrawal.WithNotifier(waClient))
	}

	purchases := purchase.NewManager(repository, catalogSvc, distributor, purchase.Config{
		ReverseOnCancel: cfg.CommissionReverseOnCancel,
	}, logger, purchaseOpts...)
	withdrawals := withdrawal.NewService(repository, locker, logger, withdrawalOpts...)

	if cfg.ExpirySweepSchedule != "" {
		sweep, err := sweeper.New(cfg.ExpirySweepSchedule, purchases, logger)
		if err != nil {
			return err
		}
		sweep.Start()
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			sweep.Stop(stopCtx)
		}()
	}

	router := httpserver.NewRouter(httpserver.Services{
		Users:       users.NewService(repository, logger),
		Graph:       graph,
		Catalog:     catalogSvc,
		Purchases:   purchases,
		Withdrawals: withdrawals,
	}, httpserver.NewAuthenticator(cfg.JWTSecret), metricRegistry, logger)
	httpSrv := httpserver.New(cfg.HTTPListenAddr, router, logger, cfg.PublicBasePath)

	errCh := make(chan error, 1)
	go func() {
		if err := httpSrv.Start(); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	return nil
}

func openRepository(ctx context.Context, cfg *config.Config, logger *slog.Logger) (repo.Repository, error) {
	switch cfg.DBDriver {
	case config.DriverSQLite:
		r, err := repo.NewSQLite(ctx, cfg.SQLitePath, logger)
		if err != nil {
			return nil, err
		}
		return r, nil
	case config.DriverMemory:
		logger.Warn("using in-memory storage, data is lost on exit")
		return memrepo.New(), nil
	default:
		r, err := repo.New(ctx, cfg.DatabaseURL, cfg.DatabaseSchema, logger)
		if err != nil {
			return nil, err
		}
		return r, nil
	}
}
