package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/foundermark/friended-backend/pkg/enums"
)

// PurchaseReceipt is one App Store transaction, keyed by Apple's
// transaction_id. Price is set at most once; InternalStatus flips from
// initial to processed exactly once, gating grants and analytics.
type PurchaseReceipt struct {
	ID                    uuid.UUID           `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	UserID                uuid.UUID           `gorm:"column:user_id;type:uuid;not null;index"`
	TransactionID         string              `gorm:"column:transaction_id;type:text;not null;uniqueIndex:idx_purchase_receipts_transaction_id"`
	OriginalTransactionID *string             `gorm:"column:original_transaction_id;type:text;index"`
	ProductID             string              `gorm:"column:product_id;type:text;not null"`
	Quantity              *int                `gorm:"column:quantity"`
	PurchaseDate          *time.Time          `gorm:"column:purchase_date"`
	OriginalPurchaseDate  *time.Time          `gorm:"column:original_purchase_date"`
	ExpiresDate           *time.Time          `gorm:"column:expires_date;index"`
	IsTrialPeriod         *bool               `gorm:"column:is_trial_period"`
	WebOrderLineItemID    *string             `gorm:"column:web_order_line_item_id;type:text"`
	Price                 *decimal.Decimal    `gorm:"column:price;type:numeric(12,2)"`
	InternalStatus        enums.ReceiptStatus `gorm:"column:internal_status;type:receipt_status_enum;not null;default:'initial'"`
	PayloadDigest         *string             `gorm:"column:payload_digest;type:text;index"`
	CreatedAt             time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt             time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

// IsProcessed reports whether side effects already ran for this receipt.
func (r *PurchaseReceipt) IsProcessed() bool {
	return r != nil && r.InternalStatus == enums.ReceiptStatusProcessed
}

// InTrial reports whether Apple flagged the transaction as a trial period.
func (r *PurchaseReceipt) InTrial() bool {
	return r != nil && r.IsTrialPeriod != nil && *r.IsTrialPeriod
}
