package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/foundermark/friended-backend/api/routes"
	"github.com/foundermark/friended-backend/internal/purchases"
	"github.com/foundermark/friended-backend/internal/subscriptions"
	"github.com/foundermark/friended-backend/internal/users"
	applewebhook "github.com/foundermark/friended-backend/internal/webhooks/apple"
	"github.com/foundermark/friended-backend/pkg/config"
	"github.com/foundermark/friended-backend/pkg/db"
	"github.com/foundermark/friended-backend/pkg/logger"
	"github.com/foundermark/friended-backend/pkg/migrate"
	"github.com/foundermark/friended-backend/pkg/outbox"
	"github.com/foundermark/friended-backend/pkg/redis"
	"github.com/foundermark/friended-backend/pkg/report"
	"github.com/foundermark/friended-backend/pkg/storage/gcs"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
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

	var gcsPinger gcs.Pinger
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
		gcsPinger = gcsClient
	}

	reporter, err := report.New(cfg.Report, cfg.App.Env)
	if err != nil {
		logg.Error(context.Background(), "failed to create diagnostics reporter", err)
		os.Exit(1)
	}
	defer reporter.Flush(2 * time.Second)

	emitter := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)
	settingsRepo := subscriptions.NewSettingsRepository(dbClient.DB())
	receiptsRepo := purchases.NewRepository(dbClient.DB())
	usersRepo := users.NewRepository(dbClient.DB())

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
		Repo:         receiptsRepo,
		Catalog:      purchases.NewCatalog(dbClient.DB()),
		PayloadStore: purchases.NewPayloadStore(dbClient.DB(), blobStore, cfg.Receipts.InlineMaxBytes),
		Verifier:     purchases.NewAppleVerifier(cfg.AppStore, logg),
		Updater:      updater,
		Settings:     settingsRepo,
		Emitter:      emitter,
		Reporter:     reporter,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create purchase service", err)
		os.Exit(1)
	}

	webhookGuard, err := applewebhook.NewIdempotencyGuard(redisClient, cfg.Receipts.WebhookIdempotencyTTL, "apple-webhook")
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook idempotency guard", err)
		os.Exit(1)
	}

	webhookService, err := applewebhook.NewService(applewebhook.ServiceParams{
		Logger:       logg,
		DB:           dbClient,
		Receipts:     receiptsRepo,
		Ingester:     purchaseService,
		Updater:      updater,
		Emitter:      emitter,
		Guard:        webhookGuard,
		ProProductID: cfg.Sweep.ProProductID,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create apple webhook service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	id := os.Getenv("DYNO")
	if id == "" {
		id = "local"
	}
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": id,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(
			cfg,
			logg,
			dbClient,
			redisClient,
			gcsPinger,
			purchaseService,
			settingsRepo,
			usersRepo,
			webhookService,
		),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
