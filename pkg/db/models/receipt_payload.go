package models

import (
	"time"

	"github.com/google/uuid"
)

// ReceiptPayload stores one raw verification payload, deduplicated by
// content digest. Payloads under the inline threshold live in the row;
// larger ones are written to blob storage and referenced by ObjectKey.
type ReceiptPayload struct {
	ID        uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	Digest    string    `gorm:"column:digest;type:text;not null;uniqueIndex:idx_receipt_payloads_digest"`
	Inline    []byte    `gorm:"column:inline;type:bytea"`
	ObjectKey *string   `gorm:"column:object_key;type:text"`
	SizeBytes int64     `gorm:"column:size_bytes;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

// Externalized reports whether the payload body lives in blob storage.
func (p *ReceiptPayload) Externalized() bool {
	return p != nil && p.ObjectKey != nil && *p.ObjectKey != ""
}
