package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/foundermark/friended-backend/pkg/redis"
)

// IdempotencyManager deduplicates consumed events per consumer name. The
// outbox publisher delivers at least once; this keeps replays from hitting
// the analytics sinks twice.
type IdempotencyManager struct {
	store redis.IdempotencyStore
	ttl   time.Duration
}

func NewIdempotencyManager(store redis.IdempotencyStore, ttl time.Duration) (*IdempotencyManager, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	return &IdempotencyManager{store: store, ttl: ttl}, nil
}

// CheckAndMarkProcessed reports whether eventID was already consumed,
// marking it consumed otherwise.
func (m *IdempotencyManager) CheckAndMarkProcessed(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error) {
	if consumer == "" {
		return false, errors.New("consumer name is required")
	}
	key := m.store.IdempotencyKey(consumer, eventID.String())
	set, err := m.store.SetNX(ctx, key, "1", m.ttl)
	if err != nil {
		return false, fmt.Errorf("set idempotency key: %w", err)
	}
	return !set, nil
}

// Delete releases the mark so a failed event can be reprocessed on redelivery.
func (m *IdempotencyManager) Delete(ctx context.Context, consumer string, eventID uuid.UUID) error {
	if consumer == "" {
		return errors.New("consumer name is required")
	}
	return m.store.Del(ctx, m.store.IdempotencyKey(consumer, eventID.String()))
}
