package purchases

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"gorm.io/gorm"

	dbpkg "github.com/foundermark/friended-backend/pkg/db"
	"github.com/foundermark/friended-backend/pkg/db/models"
)

const defaultInlineMaxBytes = 16 * 1024

// BlobStore is the slice of the object storage client the payload store
// needs.
type BlobStore interface {
	WriteObject(ctx context.Context, object string, data []byte, contentType string) error
	ReadObject(ctx context.Context, object string) ([]byte, error)
}

// PayloadStore persists raw verification payloads, deduplicated by
// content digest. Small payloads stay in the row; large ones go to blob
// storage.
type PayloadStore struct {
	db        *gorm.DB
	blobs     BlobStore
	inlineMax int
}

// NewPayloadStore builds a payload store. blobs may be nil when inline
// storage suffices (dev); storing an oversized payload then fails.
func NewPayloadStore(db *gorm.DB, blobs BlobStore, inlineMax int) *PayloadStore {
	if inlineMax <= 0 {
		inlineMax = defaultInlineMaxBytes
	}
	return &PayloadStore{db: db, blobs: blobs, inlineMax: inlineMax}
}

// WithTx rebinds the store to a transaction.
func (s *PayloadStore) WithTx(tx *gorm.DB) *PayloadStore {
	if tx == nil {
		return s
	}
	return &PayloadStore{db: tx, blobs: s.blobs, inlineMax: s.inlineMax}
}

// Digest returns the content digest used to key stored payloads.
func Digest(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// Store persists raw, returning the existing row when the same payload
// was stored before.
func (s *PayloadStore) Store(ctx context.Context, raw []byte) (*models.ReceiptPayload, error) {
	if len(raw) == 0 {
		return nil, errors.New("payload is empty")
	}
	digest := Digest(raw)

	existing, err := s.FindByDigest(ctx, digest)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	row := &models.ReceiptPayload{
		Digest:    digest,
		SizeBytes: int64(len(raw)),
	}
	if len(raw) <= s.inlineMax {
		row.Inline = raw
	} else {
		if s.blobs == nil {
			return nil, errors.New("payload exceeds inline limit and no blob store is configured")
		}
		key := objectKeyFor(digest)
		if err := s.blobs.WriteObject(ctx, key, raw, "application/json"); err != nil {
			return nil, fmt.Errorf("externalize payload: %w", err)
		}
		row.ObjectKey = &key
	}

	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		// Lost a race against a concurrent ingest of the same payload.
		if dbpkg.IsUniqueViolation(err, "idx_receipt_payloads_digest") {
			return s.FindByDigest(ctx, digest)
		}
		return nil, err
	}
	return row, nil
}

// Data returns the payload body, reading from blob storage when the row
// was externalized.
func (s *PayloadStore) Data(ctx context.Context, payload *models.ReceiptPayload) ([]byte, error) {
	if payload == nil {
		return nil, errors.New("payload row is nil")
	}
	if !payload.Externalized() {
		return payload.Inline, nil
	}
	if s.blobs == nil {
		return nil, errors.New("payload is externalized and no blob store is configured")
	}
	return s.blobs.ReadObject(ctx, *payload.ObjectKey)
}

// FindByDigest looks up a stored payload row by content digest.
func (s *PayloadStore) FindByDigest(ctx context.Context, digest string) (*models.ReceiptPayload, error) {
	var row models.ReceiptPayload
	if err := s.db.WithContext(ctx).
		Where("digest = ?", digest).
		First(&row).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

func objectKeyFor(digest string) string {
	return "receipts/" + digest + ".json"
}
