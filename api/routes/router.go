package routes

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/foundermark/friended-backend/api/controllers"
	webhookcontrollers "github.com/foundermark/friended-backend/api/controllers/webhooks"
	"github.com/foundermark/friended-backend/api/middleware"
	"github.com/foundermark/friended-backend/internal/purchases"
	"github.com/foundermark/friended-backend/internal/subscriptions"
	"github.com/foundermark/friended-backend/internal/users"
	applewebhook "github.com/foundermark/friended-backend/internal/webhooks/apple"
	"github.com/foundermark/friended-backend/pkg/config"
	"github.com/foundermark/friended-backend/pkg/db"
	"github.com/foundermark/friended-backend/pkg/db/models"
	"github.com/foundermark/friended-backend/pkg/logger"
	"github.com/foundermark/friended-backend/pkg/redis"
	"github.com/foundermark/friended-backend/pkg/storage/gcs"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisClient *redis.Client,
	gcsClient gcs.Pinger,
	purchaseService *purchases.Service,
	settingsRepo subscriptions.SettingsRepository,
	usersRepo *users.Repository,
	appleWebhookService *applewebhook.Service,
) http.Handler {
	// Typed nil pointers would defeat downstream interface nil checks.
	var redisP redis.Pinger
	var idempotencyStore redis.IdempotencyStore
	if redisClient != nil {
		redisP = redisClient
		idempotencyStore = redisClient
	}
	var userFinder interface {
		FindByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	}
	if usersRepo != nil {
		userFinder = usersRepo
	}
	var priceFinder interface {
		LatestSubscriptionPrice(ctx context.Context, userID uuid.UUID) (*decimal.Decimal, error)
	}
	if purchaseService != nil {
		priceFinder = purchaseService
	}

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbP, redisP, gcsClient))
	})

	r.Route("/api/public", func(r chi.Router) {
		r.Get("/ping", controllers.PublicPing())
	})

	// Apple authenticates by payload contents, not bearer tokens.
	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/apple", webhookcontrollers.AppleStatus(appleWebhookService, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))

		r.Get("/ping", controllers.PrivatePing())
		r.Get("/users/me", controllers.Me(userFinder, logg))

		r.Route("/purchases", func(r chi.Router) {
			r.With(middleware.Idempotency(idempotencyStore, logg)).
				Post("/receipts", controllers.ReceiptSubmit(purchaseService, logg))
			r.Get("/subscription", controllers.SubscriptionStatus(settingsRepo, priceFinder, logg))
		})
	})

	return r
}
