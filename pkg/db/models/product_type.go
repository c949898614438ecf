package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/foundermark/friended-backend/pkg/enums"
)

// ProductType is one purchasable catalog entry, keyed by the App Store
// product identifier.
type ProductType struct {
	ID                    uuid.UUID         `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	AppleProductID        string            `gorm:"column:apple_product_id;type:text;not null;uniqueIndex:idx_product_types_apple_product_id"`
	Kind                  enums.ProductKind `gorm:"column:kind;type:product_kind_enum;not null"`
	SubscriptionPrice     decimal.Decimal   `gorm:"column:subscription_price;type:numeric(12,2);not null;default:9.99"`
	PeriodDays            int               `gorm:"column:period_days;not null;default:30"`
	VirtualCurrencyAmount *int              `gorm:"column:virtual_currency_amount"`
	Enabled               bool              `gorm:"column:enabled;not null;default:true"`
	CreatedAt             time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt             time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}

// Period returns the subscription period as a duration.
func (p *ProductType) Period() time.Duration {
	return time.Duration(p.PeriodDays) * 24 * time.Hour
}

// IsSubscription reports whether purchasing this product grants pro access.
func (p *ProductType) IsSubscription() bool {
	return p != nil && p.Kind == enums.ProductKindProSubscription
}
