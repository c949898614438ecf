package analytics

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/foundermark/friended-backend/pkg/enums"
)

// Event is the payload attached to purchase and user tracking outbox
// events. It carries everything a downstream sink needs so workers never
// have to read the database.
type Event struct {
	Type          enums.AnalyticsEventType `json:"type"`
	UserID        uuid.UUID                `json:"userId"`
	ProductID     string                   `json:"productId,omitempty"`
	TransactionID string                   `json:"transactionId,omitempty"`
	Price         *decimal.Decimal         `json:"price,omitempty"`
	Currency      string                   `json:"currency,omitempty"`
	Trial         bool                     `json:"trial,omitempty"`
	ExpiresAt     *time.Time               `json:"expiresAt,omitempty"`
	OccurredAt    time.Time                `json:"occurredAt"`
	Properties    map[string]string        `json:"properties,omitempty"`
}
