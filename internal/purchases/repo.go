package purchases

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/foundermark/friended-backend/pkg/db/models"
	"github.com/foundermark/friended-backend/pkg/enums"
)

// Repository handles purchase receipt persistence.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Upsert(ctx context.Context, receipt *models.PurchaseReceipt) (*models.PurchaseReceipt, error)
	FindByTransactionID(ctx context.Context, transactionID string) (*models.PurchaseReceipt, error)
	FindLineageOwner(ctx context.Context, transactionID string) (*models.PurchaseReceipt, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]models.PurchaseReceipt, error)
	LatestByUser(ctx context.Context, userID uuid.UUID) (*models.PurchaseReceipt, error)
	LatestPricedByUser(ctx context.Context, userID uuid.UUID) (*models.PurchaseReceipt, error)
	MarkProcessedIfInitial(ctx context.Context, id uuid.UUID) (bool, error)
	MarkManyProcessed(ctx context.Context, ids []uuid.UUID) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a purchases repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// Upsert stores a receipt keyed by transaction_id. An existing row keeps
// its identity; incoming values only fill fields the row does not have
// yet. Price in particular is written at most once.
func (r *repository) Upsert(ctx context.Context, receipt *models.PurchaseReceipt) (*models.PurchaseReceipt, error) {
	existing, err := r.FindByTransactionID(ctx, receipt.TransactionID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		if err := r.db.WithContext(ctx).Create(receipt).Error; err != nil {
			return nil, err
		}
		return receipt, nil
	}

	updates := backfillUpdates(existing, receipt)
	if len(updates) == 0 {
		return existing, nil
	}
	if err := r.db.WithContext(ctx).
		Model(&models.PurchaseReceipt{}).
		Where("id = ?", existing.ID).
		Updates(updates).Error; err != nil {
		return nil, err
	}
	return r.FindByTransactionID(ctx, receipt.TransactionID)
}

func backfillUpdates(existing, incoming *models.PurchaseReceipt) map[string]any {
	updates := map[string]any{}
	if existing.OriginalTransactionID == nil && incoming.OriginalTransactionID != nil {
		updates["original_transaction_id"] = *incoming.OriginalTransactionID
	}
	if existing.WebOrderLineItemID == nil && incoming.WebOrderLineItemID != nil {
		updates["web_order_line_item_id"] = *incoming.WebOrderLineItemID
	}
	if existing.Quantity == nil && incoming.Quantity != nil {
		updates["quantity"] = *incoming.Quantity
	}
	if existing.PurchaseDate == nil && incoming.PurchaseDate != nil {
		updates["purchase_date"] = *incoming.PurchaseDate
	}
	if existing.OriginalPurchaseDate == nil && incoming.OriginalPurchaseDate != nil {
		updates["original_purchase_date"] = *incoming.OriginalPurchaseDate
	}
	if existing.ExpiresDate == nil && incoming.ExpiresDate != nil {
		updates["expires_date"] = *incoming.ExpiresDate
	}
	if existing.IsTrialPeriod == nil && incoming.IsTrialPeriod != nil {
		updates["is_trial_period"] = *incoming.IsTrialPeriod
	}
	if existing.Price == nil && incoming.Price != nil {
		updates["price"] = *incoming.Price
	}
	if existing.PayloadDigest == nil && incoming.PayloadDigest != nil {
		updates["payload_digest"] = *incoming.PayloadDigest
	}
	return updates
}

func (r *repository) FindByTransactionID(ctx context.Context, transactionID string) (*models.PurchaseReceipt, error) {
	var receipt models.PurchaseReceipt
	if err := r.db.WithContext(ctx).
		Where("transaction_id = ?", transactionID).
		First(&receipt).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &receipt, nil
}

// FindLineageOwner locates the receipt a webhook transaction belongs to,
// matching either the transaction itself or its original transaction.
func (r *repository) FindLineageOwner(ctx context.Context, transactionID string) (*models.PurchaseReceipt, error) {
	var receipt models.PurchaseReceipt
	if err := r.db.WithContext(ctx).
		Where("transaction_id = ? OR original_transaction_id = ?", transactionID, transactionID).
		Order("expires_date DESC").
		First(&receipt).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &receipt, nil
}

func (r *repository) ListByUser(ctx context.Context, userID uuid.UUID) ([]models.PurchaseReceipt, error) {
	var receipts []models.PurchaseReceipt
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at ASC").
		Find(&receipts).Error; err != nil {
		return nil, err
	}
	return receipts, nil
}

// LatestByUser returns the user's receipt with the furthest expiration.
func (r *repository) LatestByUser(ctx context.Context, userID uuid.UUID) (*models.PurchaseReceipt, error) {
	var receipt models.PurchaseReceipt
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND expires_date IS NOT NULL", userID).
		Order("expires_date DESC").
		First(&receipt).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &receipt, nil
}

// LatestPricedByUser returns the furthest-expiring receipt that has a
// recorded price.
func (r *repository) LatestPricedByUser(ctx context.Context, userID uuid.UUID) (*models.PurchaseReceipt, error) {
	var receipt models.PurchaseReceipt
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND price IS NOT NULL AND expires_date IS NOT NULL", userID).
		Order("expires_date DESC").
		First(&receipt).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &receipt, nil
}

// MarkProcessedIfInitial flips a receipt to processed. The conditional
// write makes the transition happen exactly once across concurrent
// ingests.
func (r *repository) MarkProcessedIfInitial(ctx context.Context, id uuid.UUID) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.PurchaseReceipt{}).
		Where("id = ? AND internal_status = ?", id, enums.ReceiptStatusInitial).
		Updates(map[string]any{
			"internal_status": enums.ReceiptStatusProcessed,
			"updated_at":      time.Now().UTC(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// MarkManyProcessed flips every still-initial receipt in ids to processed.
// Used to settle the rest of a payload batch once its gating receipt wins
// the transition.
func (r *repository) MarkManyProcessed(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Model(&models.PurchaseReceipt{}).
		Where("id IN ? AND internal_status = ?", ids, enums.ReceiptStatusInitial).
		Updates(map[string]any{
			"internal_status": enums.ReceiptStatusProcessed,
			"updated_at":      time.Now().UTC(),
		}).Error
}
