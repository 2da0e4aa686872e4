package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/servicehub-backend/internal/cron"
	"github.com/angelmondragon/servicehub-backend/internal/paymentcore"
	"github.com/angelmondragon/servicehub-backend/pkg/config"
	"github.com/angelmondragon/servicehub-backend/pkg/db"
	"github.com/angelmondragon/servicehub-backend/pkg/logger"
	"github.com/angelmondragon/servicehub-backend/pkg/metrics"
	"github.com/angelmondragon/servicehub-backend/pkg/migrate"
	"github.com/angelmondragon/servicehub-backend/pkg/outbox"
	"github.com/angelmondragon/servicehub-backend/pkg/paystack"
	"github.com/angelmondragon/servicehub-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	gateway, err := paystack.New(cfg.Paystack)
	if err != nil {
		logg.Error(context.Background(), "failed to create paystack client", err)
		os.Exit(1)
	}

	core, err := paymentcore.New(paymentcore.Params{
		Config:  cfg,
		Logger:  logg,
		DB:      dbClient,
		Gateway: gateway,
		Metrics: metrics.NewPaymentMetrics(prometheus.DefaultRegisterer),
	})
	if err != nil {
		logg.Error(context.Background(), "failed to wire payment services", err)
		os.Exit(1)
	}

	pendingJob, err := cron.NewPendingPaymentJob(cron.PendingPaymentJobParams{
		Logger:     logg,
		Payments:   core.EscrowRepo,
		Reconciler: core.Reconciler,
		Grace:      cfg.Cron.PendingGracePeriod,
		MaxAge:     cfg.Cron.PendingMaxAge,
		BatchSize:  cfg.Cron.PendingBatchSize,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create pending payment job", err)
		os.Exit(1)
	}

	stuckJob, err := cron.NewStuckReleaseJob(cron.StuckReleaseJobParams{
		Logger:  logg,
		Payouts: core.Payouts,
		Age:     cfg.Cron.StuckReleaseAge,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create stuck release job", err)
		os.Exit(1)
	}

	retentionJob, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:       logg,
		DB:           dbClient,
		Repository:   outbox.NewRepository(dbClient.DB()),
		Retention:    time.Duration(cfg.Outbox.RetentionDays) * 24 * time.Hour,
		DeadAttempts: cfg.Outbox.MaxAttempts,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create outbox retention job", err)
		os.Exit(1)
	}

	env := cfg.App.Env
	if env == "" {
		env = "local"
	}
	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey("cron-worker", env), 0)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	registry, err := cron.NewRegistry(pendingJob, stuckJob, retentionJob)
	if err != nil {
		logg.Error(context.Background(), "failed to register cron jobs", err)
		os.Exit(1)
	}
	if len(cfg.Cron.DisabledJobs) > 0 {
		registry = registry.Without(cfg.Cron.DisabledJobs...)
		logg.Warn(logg.WithField(context.Background(), "disabled_jobs", cfg.Cron.DisabledJobs), "cron jobs disabled by config")
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}
