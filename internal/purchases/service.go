package purchases

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/foundermark/friended-backend/internal/analytics"
	"github.com/foundermark/friended-backend/internal/subscriptions"
	"github.com/foundermark/friended-backend/pkg/db/models"
	"github.com/foundermark/friended-backend/pkg/enums"
	apperrors "github.com/foundermark/friended-backend/pkg/errors"
	"github.com/foundermark/friended-backend/pkg/logger"
	"github.com/foundermark/friended-backend/pkg/outbox"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type diagnosticReporter interface {
	CaptureMessage(message string, tags map[string]string)
}

// Service ingests App Store receipts and keeps subscription state in sync.
type Service struct {
	logg     *logger.Logger
	db       txRunner
	repo     Repository
	catalog  Catalog
	payloads *PayloadStore
	verifier Verifier
	updater  *subscriptions.Updater
	settings subscriptions.SettingsRepository
	emitter  outboxEmitter
	reporter diagnosticReporter
}

// ServiceParams carries Service dependencies.
type ServiceParams struct {
	Logger       *logger.Logger
	DB           txRunner
	Repo         Repository
	Catalog      Catalog
	PayloadStore *PayloadStore
	Verifier     Verifier
	Updater      *subscriptions.Updater
	Settings     subscriptions.SettingsRepository
	Emitter      outboxEmitter
	// Reporter is optional; unknown-product diagnostics are dropped
	// when it is absent.
	Reporter diagnosticReporter
}

// NewService builds the receipt ingestion service.
func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.Logger == nil:
		return nil, fmt.Errorf("purchases: logger is required")
	case params.DB == nil:
		return nil, fmt.Errorf("purchases: db is required")
	case params.Repo == nil:
		return nil, fmt.Errorf("purchases: repository is required")
	case params.Catalog == nil:
		return nil, fmt.Errorf("purchases: catalog is required")
	case params.PayloadStore == nil:
		return nil, fmt.Errorf("purchases: payload store is required")
	case params.Verifier == nil:
		return nil, fmt.Errorf("purchases: verifier is required")
	case params.Updater == nil:
		return nil, fmt.Errorf("purchases: updater is required")
	case params.Settings == nil:
		return nil, fmt.Errorf("purchases: settings repository is required")
	case params.Emitter == nil:
		return nil, fmt.Errorf("purchases: outbox emitter is required")
	}
	return &Service{
		logg:     params.Logger,
		db:       params.DB,
		repo:     params.Repo,
		catalog:  params.Catalog,
		payloads: params.PayloadStore,
		verifier: params.Verifier,
		updater:  params.Updater,
		settings: params.Settings,
		emitter:  params.Emitter,
		reporter: params.Reporter,
	}, nil
}

// IngestResult reports what a single ingestion did.
type IngestResult struct {
	ReceiptsSeen       int
	LatestTransaction  string
	SideEffectsApplied bool
}

// Ingest verifies a client-submitted receipt blob and records its
// transactions for the user.
func (s *Service) Ingest(ctx context.Context, userID uuid.UUID, receiptData string, clientPrice *decimal.Decimal) (*IngestResult, error) {
	if receiptData == "" {
		return nil, apperrors.New(apperrors.CodeValidation, "receipt data is required")
	}
	payload, raw, err := s.verifier.Verify(ctx, receiptData)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeDependency, err, "receipt verification failed")
	}
	return s.IngestVerified(ctx, userID, payload, raw, clientPrice)
}

// IngestVerified records an already-verified payload. Ingestion is
// idempotent: every call re-applies subscription state from the user's
// furthest-expiring receipt, but grants and analytics fire only for the
// call that first flips that receipt to processed.
func (s *Service) IngestVerified(ctx context.Context, userID uuid.UUID, payload *VerifiedPayload, raw []byte, clientPrice *decimal.Decimal) (*IngestResult, error) {
	if payload == nil || !payload.OK() {
		status := -1
		if payload != nil {
			status = payload.Status
		}
		return nil, apperrors.New(apperrors.CodeValidation,
			fmt.Sprintf("receipt rejected by verification (status %d)", status))
	}
	if len(payload.LatestReceiptInfo) == 0 {
		return nil, apperrors.New(apperrors.CodeValidation, "verified payload carries no transactions")
	}

	stored, err := s.payloads.Store(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("storing raw payload: %w", err)
	}

	ctx = s.logg.WithUserID(ctx, userID.String())
	result := &IngestResult{}

	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		catalog := s.catalog.WithTx(tx)

		var batch []*models.PurchaseReceipt
		unknownProducts := map[string]bool{}
		for _, info := range payload.LatestReceiptInfo {
			if info.TransactionID == "" {
				continue
			}
			receipt, unknown, err := s.upsertReceipt(ctx, repo, catalog, userID, info, payload.PendingRenewalInfo, clientPrice, stored.Digest)
			if err != nil {
				return err
			}
			if unknown {
				unknownProducts[info.ProductID] = true
			}
			batch = append(batch, receipt)
			result.ReceiptsSeen++
		}

		latest := furthestExpiring(batch)
		if latest == nil {
			return nil
		}
		result.LatestTransaction = latest.TransactionID

		// State always follows the receipts, even on repeat submissions.
		if err := s.updater.Apply(ctx, tx, userID, latest); err != nil {
			return err
		}

		won, err := repo.MarkProcessedIfInitial(ctx, latest.ID)
		if err != nil {
			return fmt.Errorf("marking receipt processed: %w", err)
		}
		if !won {
			return nil
		}
		// The whole batch rides on the one CAS; the other receipts never
		// gate side effects on their own.
		if err := repo.MarkManyProcessed(ctx, batchIDs(batch)); err != nil {
			return fmt.Errorf("marking batch processed: %w", err)
		}
		result.SideEffectsApplied = true

		if err := s.settings.WithTx(tx).ResetPostAllowedInterval(ctx, userID, time.Now().UTC()); err != nil {
			return fmt.Errorf("resetting post cooldown: %w", err)
		}

		eventType := enums.EventRenewal
		analyticsType := enums.AnalyticsEventRenewal
		if latest.InTrial() {
			eventType = enums.EventNewTrial
			analyticsType = enums.AnalyticsEventNewTrial
		}
		event := analytics.Event{
			Type:          analyticsType,
			UserID:        userID,
			ProductID:     latest.ProductID,
			TransactionID: latest.TransactionID,
			Price:         latest.Price,
			Trial:         latest.InTrial(),
			ExpiresAt:     latest.ExpiresDate,
			OccurredAt:    time.Now().UTC(),
		}
		if unknownProducts[latest.ProductID] {
			event.Properties = map[string]string{"unknown_product": "true"}
		}
		return s.emitter.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     eventType,
			AggregateType: enums.AggregatePurchaseReceipt,
			AggregateID:   latest.ID,
			Actor:         &outbox.ActorRef{UserID: userID, Source: "receipt-ingest"},
			Data:          event,
		})
	})
	if err != nil {
		return nil, err
	}

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"receipts":     result.ReceiptsSeen,
		"side_effects": result.SideEffectsApplied,
	}), "receipt ingested")
	return result, nil
}

func (s *Service) upsertReceipt(
	ctx context.Context,
	repo Repository,
	catalog Catalog,
	userID uuid.UUID,
	info ReceiptInfo,
	pending []PendingRenewalInfo,
	clientPrice *decimal.Decimal,
	digest string,
) (*models.PurchaseReceipt, bool, error) {
	product, err := catalog.FindByAppleProductID(ctx, info.ProductID)
	if err != nil {
		return nil, false, fmt.Errorf("catalog lookup for %q: %w", info.ProductID, err)
	}
	if product == nil {
		s.logg.Warn(s.logg.WithField(ctx, "product_id", info.ProductID),
			"receipt references unknown product; recording without price")
		if s.reporter != nil {
			s.reporter.CaptureMessage("unknown_product", map[string]string{
				"product_id":     info.ProductID,
				"transaction_id": info.TransactionID,
				"user_id":        userID.String(),
			})
		}
	}

	var catalogPrice *decimal.Decimal
	if product != nil && product.IsSubscription() {
		price := product.SubscriptionPrice
		catalogPrice = &price
	}
	resolved := ResolvePrice(catalogPrice, clientPrice, product != nil, HasConsentFor(pending, info.ProductID))

	receipt, err := repo.Upsert(ctx, buildReceipt(userID, info, resolved, digest))
	if err != nil {
		return nil, false, fmt.Errorf("upserting receipt %s: %w", info.TransactionID, err)
	}
	return receipt, product == nil, nil
}

// furthestExpiring picks the batch receipt with the latest expiration.
// Receipts without one never drive state.
func furthestExpiring(batch []*models.PurchaseReceipt) *models.PurchaseReceipt {
	var latest *models.PurchaseReceipt
	for _, receipt := range batch {
		if receipt == nil || receipt.ExpiresDate == nil {
			continue
		}
		if latest == nil || receipt.ExpiresDate.After(*latest.ExpiresDate) {
			latest = receipt
		}
	}
	return latest
}

func batchIDs(batch []*models.PurchaseReceipt) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(batch))
	for _, receipt := range batch {
		if receipt != nil {
			ids = append(ids, receipt.ID)
		}
	}
	return ids
}

func buildReceipt(userID uuid.UUID, info ReceiptInfo, price *decimal.Decimal, digest string) *models.PurchaseReceipt {
	receipt := &models.PurchaseReceipt{
		UserID:        userID,
		TransactionID: info.TransactionID,
		ProductID:     info.ProductID,
		Quantity:      info.Units(),
		Price:         price,
		PayloadDigest: &digest,
	}
	if info.OriginalTransactionID != "" {
		original := info.OriginalTransactionID
		receipt.OriginalTransactionID = &original
	}
	if info.WebOrderLineItemID != "" {
		lineItem := info.WebOrderLineItemID
		receipt.WebOrderLineItemID = &lineItem
	}
	if purchased := info.PurchasedAt(); purchased != nil {
		receipt.PurchaseDate = purchased
	}
	if original := info.OriginalPurchasedAt(); original != nil {
		receipt.OriginalPurchaseDate = original
	}
	if expires := info.ExpiresAt(); expires != nil {
		receipt.ExpiresDate = expires
	}
	receipt.IsTrialPeriod = info.Trial()
	return receipt
}

// ReconcileUser re-verifies a user's newest stored receipt against the
// App Store and re-runs ingestion on the fresh response. Users whose
// newest receipt has no stored payload are skipped.
func (s *Service) ReconcileUser(ctx context.Context, userID uuid.UUID) (bool, error) {
	latest, err := s.repo.LatestByUser(ctx, userID)
	if err != nil {
		return false, err
	}
	if latest == nil || latest.PayloadDigest == nil {
		return false, nil
	}

	row, err := s.payloads.FindByDigest(ctx, *latest.PayloadDigest)
	if err != nil {
		return false, err
	}
	if row == nil {
		return false, nil
	}
	data, err := s.payloads.Data(ctx, row)
	if err != nil {
		return false, fmt.Errorf("loading stored payload: %w", err)
	}

	receiptData, err := latestReceiptData(data)
	if err != nil || receiptData == "" {
		s.logg.Warn(s.logg.WithUserID(ctx, userID.String()),
			"stored payload has no renewable receipt data; skipping reconciliation")
		return false, nil
	}

	if _, err := s.IngestLatest(ctx, userID, receiptData); err != nil {
		return false, err
	}
	return true, nil
}

// IngestLatest ingests a server-obtained receipt blob, standing in the
// user's last recorded price for the client-reported one.
func (s *Service) IngestLatest(ctx context.Context, userID uuid.UUID, receiptData string) (*IngestResult, error) {
	clientPrice, err := s.lastKnownPrice(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.Ingest(ctx, userID, receiptData, clientPrice)
}

// lastKnownPrice recovers the price the user most recently paid, used as
// the client-reported price during server-initiated reconciliation.
func (s *Service) lastKnownPrice(ctx context.Context, userID uuid.UUID) (*decimal.Decimal, error) {
	priced, err := s.repo.LatestPricedByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if priced == nil {
		return nil, nil
	}
	return priced.Price, nil
}

// LatestSubscriptionPrice reports the price of the user's furthest-expiring
// receipt. Nil when the user has no expiring receipts, or when that receipt
// was recorded without a price.
func (s *Service) LatestSubscriptionPrice(ctx context.Context, userID uuid.UUID) (*decimal.Decimal, error) {
	latest, err := s.repo.LatestByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if latest == nil {
		return nil, nil
	}
	return latest.Price, nil
}
