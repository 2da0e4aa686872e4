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

	"github.com/angelmondragon/servicehub-backend/internal/relay"
	"github.com/angelmondragon/servicehub-backend/pkg/config"
	"github.com/angelmondragon/servicehub-backend/pkg/db"
	"github.com/angelmondragon/servicehub-backend/pkg/logger"
	"github.com/angelmondragon/servicehub-backend/pkg/metrics"
	"github.com/angelmondragon/servicehub-backend/pkg/migrate"
	"github.com/angelmondragon/servicehub-backend/pkg/outbox"
	"github.com/angelmondragon/servicehub-backend/pkg/outbox/registry"
	"github.com/angelmondragon/servicehub-backend/pkg/pubsub"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "outbox-publisher"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "outbox-publisher"

	logg = logger.New(logger.Options{
		ServiceName: "outbox-publisher",
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

	pubsubClient, err := pubsub.NewClient(context.Background(), cfg.GCP, cfg.PubSub, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap pubsub", err)
		os.Exit(1)
	}
	defer func() {
		if err := pubsubClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing pubsub client", err)
		}
	}()

	eventRegistry, err := registry.NewEventRegistry(cfg.PubSub)
	if err != nil {
		logg.Error(context.Background(), "failed to build event registry", err)
		os.Exit(1)
	}

	sender := relay.NewPubSubSender(pubsubClient)
	defer sender.Close()

	notificationRelay, err := relay.New(relay.Params{
		Logger:       logg,
		DB:           dbClient,
		Queue:        outbox.NewRepository(dbClient.DB()),
		DLQ:          outbox.NewDLQRepository(dbClient.DB()),
		Registry:     eventRegistry,
		Sender:       sender,
		Broker:       pubsubClient,
		Metrics:      metrics.NewOutboxMetrics(prometheus.DefaultRegisterer),
		BatchSize:    cfg.Outbox.BatchSize,
		MaxAttempts:  cfg.Outbox.MaxAttempts,
		PollInterval: time.Duration(cfg.Outbox.PollIntervalMS) * time.Millisecond,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create notification relay", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": "outbox-publisher",
	})
	logg.Info(ctx, "starting notification relay")

	if err := notificationRelay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "notification relay stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "notification relay shutting down gracefully")
}
