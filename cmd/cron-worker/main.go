package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/foundermark/friended-backend/internal/cron"
	"github.com/foundermark/friended-backend/internal/purchases"
	"github.com/foundermark/friended-backend/internal/subscriptions"
	"github.com/foundermark/friended-backend/pkg/config"
	"github.com/foundermark/friended-backend/pkg/db"
	"github.com/foundermark/friended-backend/pkg/instance"
	"github.com/foundermark/friended-backend/pkg/logger"
	"github.com/foundermark/friended-backend/pkg/metrics"
	"github.com/foundermark/friended-backend/pkg/migrate"
	"github.com/foundermark/friended-backend/pkg/outbox"
	"github.com/foundermark/friended-backend/pkg/redis"
	"github.com/foundermark/friended-backend/pkg/report"
	"github.com/foundermark/friended-backend/pkg/storage/gcs"
)

const lockKeyFormat = "friended:cron-worker:lock:%s"

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

	dbClient, err := db.New(context.Background(), cfg.DB, cfg.FeatureFlags.UseSQLite, logg)
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

	redisClient, err := redis.New(context.Background(), cfg.Redis)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	var blobStore purchases.BlobStore
	if cfg.GCS.BucketName != "" {
		gcsClient, err := gcs.NewClient(context.Background(), cfg.GCS, cfg.GCP, logg)
		if err != nil {
			logg.Error(context.Background(), "failed to bootstrap gcs", err)
			os.Exit(1)
		}
		defer func() {
			if err := gcsClient.Close(); err != nil {
				logg.Error(context.Background(), "error closing gcs client", err)
			}
		}()
		blobStore = gcsClient
	}

	reporter, err := report.New(cfg.Report, cfg.App.Env)
	if err != nil {
		logg.Error(context.Background(), "failed to create diagnostics reporter", err)
		os.Exit(1)
	}
	defer reporter.Flush(2 * time.Second)

	settingsRepo := subscriptions.NewSettingsRepository(dbClient.DB())
	updater, err := subscriptions.NewUpdater(subscriptions.UpdaterParams{
		Settings: settingsRepo,
		Logger:   logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create subscription updater", err)
		os.Exit(1)
	}

	purchaseService, err := purchases.NewService(purchases.ServiceParams{
		Logger:       logg,
		DB:           dbClient,
		Repo:         purchases.NewRepository(dbClient.DB()),
		Catalog:      purchases.NewCatalog(dbClient.DB()),
		PayloadStore: purchases.NewPayloadStore(dbClient.DB(), blobStore, cfg.Receipts.InlineMaxBytes),
		Verifier:     purchases.NewAppleVerifier(cfg.AppStore, logg),
		Updater:      updater,
		Settings:     settingsRepo,
		Emitter:      outbox.NewService(outbox.NewRepository(dbClient.DB()), logg),
		Reporter:     reporter,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create purchase service", err)
		os.Exit(1)
	}

	metricsCollector := metrics.NewCronJobMetrics(prometheus.DefaultRegisterer)

	sweepJob, err := cron.NewSubscriptionStatusJob(cron.SubscriptionStatusJobParams{
		Logger:     logg,
		Settings:   settingsRepo,
		Reconciler: purchaseService,
		Metrics:    metricsCollector,
		Sweep:      cfg.Sweep,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create subscription status job", err)
		os.Exit(1)
	}

	lock, err := cron.NewRedisLock(redisClient, lockKey(cfg.App.Env), 0)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	registry := cron.NewRegistry(sweepJob)
	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metricsCollector,
		Interval: cfg.Sweep.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"instance":    instance.GetID(),
	})
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func lockKey(env string) string {
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf(lockKeyFormat, env)
}
