package controllers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/foundermark/friended-backend/api/middleware"
	"github.com/foundermark/friended-backend/api/responses"
	"github.com/foundermark/friended-backend/api/validators"
	"github.com/foundermark/friended-backend/internal/purchases"
	"github.com/foundermark/friended-backend/pkg/db/models"
	pkgerrors "github.com/foundermark/friended-backend/pkg/errors"
	"github.com/foundermark/friended-backend/pkg/logger"
)

type receiptIngester interface {
	Ingest(ctx context.Context, userID uuid.UUID, receiptData string, clientPrice *decimal.Decimal) (*purchases.IngestResult, error)
}

type settingsFinder interface {
	FindByUserID(ctx context.Context, userID uuid.UUID) (*models.UserSetting, error)
}

type subscriptionPriceFinder interface {
	LatestSubscriptionPrice(ctx context.Context, userID uuid.UUID) (*decimal.Decimal, error)
}

type receiptSubmitRequest struct {
	ReceiptData string `json:"receipt_data" validate:"required"`
	Price       string `json:"price"`
}

type receiptSubmitResponse struct {
	ReceiptsSeen       int    `json:"receipts_seen"`
	LatestTransaction  string `json:"latest_transaction,omitempty"`
	SideEffectsApplied bool   `json:"side_effects_applied"`
}

// ReceiptSubmit verifies a client-submitted App Store receipt and records
// the transactions it contains.
func ReceiptSubmit(svc receiptIngester, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "purchase service unavailable"))
			return
		}

		uid, err := requestUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req receiptSubmitRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		// Clients occasionally wrap the base64 payload in whitespace.
		receiptData := validators.SanitizeString(req.ReceiptData, 0)
		if receiptData == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "receipt_data is empty"))
			return
		}

		var clientPrice *decimal.Decimal
		if trimmed := strings.TrimSpace(req.Price); trimmed != "" {
			parsed, parseErr := decimal.NewFromString(trimmed)
			if parseErr != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, parseErr, "invalid price"))
				return
			}
			clientPrice = &parsed
		}

		result, err := svc.Ingest(r.Context(), uid, receiptData, clientPrice)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, receiptSubmitResponse{
			ReceiptsSeen:       result.ReceiptsSeen,
			LatestTransaction:  result.LatestTransaction,
			SideEffectsApplied: result.SideEffectsApplied,
		})
	}
}

type subscriptionStatusResponse struct {
	Status                  string           `json:"status,omitempty"`
	Active                  bool             `json:"active"`
	Expiration              *time.Time       `json:"expiration,omitempty"`
	LatestSubscriptionPrice *decimal.Decimal `json:"latest_subscription_price,omitempty"`
}

// SubscriptionStatus reports the caller's current pro subscription state,
// including the price of their furthest-expiring receipt.
func SubscriptionStatus(settings settingsFinder, prices subscriptionPriceFinder, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if settings == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "settings repository unavailable"))
			return
		}

		uid, err := requestUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		setting, err := settings.FindByUserID(r.Context(), uid)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load settings"))
			return
		}

		payload := subscriptionStatusResponse{}
		if setting != nil {
			if setting.SubscriptionStatus != nil {
				payload.Status = setting.SubscriptionStatus.String()
			}
			payload.Active = setting.HasActivePro(time.Now().UTC())
			payload.Expiration = setting.ProSubscriptionExpiration
		}

		if prices != nil {
			price, err := prices.LatestSubscriptionPrice(r.Context(), uid)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load latest price"))
				return
			}
			payload.LatestSubscriptionPrice = price
		}

		responses.WriteSuccess(w, payload)
	}
}

func requestUserID(r *http.Request) (uuid.UUID, error) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing")
	}
	uid, err := uuid.Parse(userID)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid user id")
	}
	return uid, nil
}
