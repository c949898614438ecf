package applewebhook

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/foundermark/friended-backend/internal/purchases"
	"github.com/foundermark/friended-backend/internal/subscriptions"
	"github.com/foundermark/friended-backend/pkg/db/models"
	"github.com/foundermark/friended-backend/pkg/enums"
	"github.com/foundermark/friended-backend/pkg/logger"
	"github.com/foundermark/friended-backend/pkg/outbox"
)

const proProductID = "com.foundermark.Friended.prosub"

type gormTxRunner struct {
	db *gorm.DB
}

func (r gormTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

type recordingEmitter struct {
	events []outbox.DomainEvent
}

func (e *recordingEmitter) Emit(_ context.Context, _ *gorm.DB, event outbox.DomainEvent) error {
	e.events = append(e.events, event)
	return nil
}

type recordingIngester struct {
	calls []string
}

func (i *recordingIngester) IngestLatest(_ context.Context, userID uuid.UUID, receiptData string) (*purchases.IngestResult, error) {
	i.calls = append(i.calls, userID.String()+":"+receiptData)
	return &purchases.IngestResult{}, nil
}

type memoryIdempotencyStore struct {
	mu   sync.Mutex
	keys map[string]string
}

func newMemoryIdempotencyStore() *memoryIdempotencyStore {
	return &memoryIdempotencyStore{keys: map[string]string{}}
}

func (s *memoryIdempotencyStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.keys[key], nil
}

func (s *memoryIdempotencyStore) SetNX(_ context.Context, key string, _ any, _ time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[key]; ok {
		return false, nil
	}
	s.keys[key] = "1"
	return true, nil
}

func (s *memoryIdempotencyStore) IdempotencyKey(scope, id string) string {
	return "test:idempotency:" + scope + ":" + id
}

func (s *memoryIdempotencyStore) Del(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.keys, key)
	}
	return nil
}

func setupWebhookTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	schema := `
CREATE TABLE IF NOT EXISTS purchase_receipts (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  transaction_id TEXT NOT NULL UNIQUE,
  original_transaction_id TEXT,
  product_id TEXT NOT NULL,
  quantity INTEGER,
  purchase_date DATETIME,
  original_purchase_date DATETIME,
  expires_date DATETIME,
  is_trial_period INTEGER,
  web_order_line_item_id TEXT,
  price NUMERIC,
  internal_status TEXT NOT NULL DEFAULT 'initial',
  payload_digest TEXT,
  created_at DATETIME,
  updated_at DATETIME
);
CREATE TABLE IF NOT EXISTS user_settings (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL UNIQUE,
  subscription_status TEXT,
  pro_subscription_expiration DATETIME,
  post_allowed_interval_started_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`
	require.NoError(t, db.Exec(schema).Error)
	return db
}

type webhookFixture struct {
	svc      *Service
	db       *gorm.DB
	emitter  *recordingEmitter
	ingester *recordingIngester
	settings subscriptions.SettingsRepository
}

func newWebhookFixture(t *testing.T) *webhookFixture {
	t.Helper()

	db := setupWebhookTestDB(t)
	logg := logger.New(logger.Options{ServiceName: "test"})
	settings := subscriptions.NewSettingsRepository(db)
	updater, err := subscriptions.NewUpdater(subscriptions.UpdaterParams{Settings: settings, Logger: logg})
	require.NoError(t, err)

	guard, err := NewIdempotencyGuard(newMemoryIdempotencyStore(), time.Hour, "apple-status")
	require.NoError(t, err)

	emitter := &recordingEmitter{}
	ingester := &recordingIngester{}
	svc, err := NewService(ServiceParams{
		Logger:       logg,
		DB:           gormTxRunner{db: db},
		Receipts:     purchases.NewRepository(db),
		Ingester:     ingester,
		Updater:      updater,
		Emitter:      emitter,
		Guard:        guard,
		ProProductID: proProductID,
	})
	require.NoError(t, err)

	return &webhookFixture{svc: svc, db: db, emitter: emitter, ingester: ingester, settings: settings}
}

func (f *webhookFixture) seedReceipt(t *testing.T, userID uuid.UUID, txnID string) {
	t.Helper()
	expires := time.Now().Add(30 * 24 * time.Hour).UTC()
	receipt := &models.PurchaseReceipt{
		ID:            uuid.New(),
		UserID:        userID,
		TransactionID: txnID,
		ProductID:     proProductID,
		ExpiresDate:   &expires,
	}
	require.NoError(t, f.db.Create(receipt).Error)
}

// Fixed so repeated fixtures hash to the same notification identity.
const fixtureExpiresMS = "1790000000000"

func cancelNotification(txnID string) *StatusNotification {
	return &StatusNotification{
		NotificationType:   NotificationCancel,
		AutoRenewProductID: proProductID,
		LatestExpiredReceiptInfo: receiptInfoList{{
			TransactionID:         txnID,
			OriginalTransactionID: txnID,
			ProductID:             proProductID,
			ExpiresDateMS:         fixtureExpiresMS,
		}},
	}
}

func TestHandleCancel(t *testing.T) {
	f := newWebhookFixture(t)
	ctx := context.Background()
	userID := uuid.New()
	f.seedReceipt(t, userID, "txn-1")

	require.NoError(t, f.svc.HandleStatusUpdate(ctx, cancelNotification("txn-1")))

	setting, err := f.settings.FindByUserID(ctx, userID)
	require.NoError(t, err)
	require.NotNil(t, setting)
	assert.Equal(t, enums.SubscriptionStatusCancelled, *setting.SubscriptionStatus)

	require.Len(t, f.emitter.events, 1)
	assert.Equal(t, enums.EventSubscriptionCancelled, f.emitter.events[0].EventType)
}

func TestHandleCancelDuplicateDropped(t *testing.T) {
	f := newWebhookFixture(t)
	ctx := context.Background()
	userID := uuid.New()
	f.seedReceipt(t, userID, "txn-1")

	require.NoError(t, f.svc.HandleStatusUpdate(ctx, cancelNotification("txn-1")))
	require.NoError(t, f.svc.HandleStatusUpdate(ctx, cancelNotification("txn-1")))

	assert.Len(t, f.emitter.events, 1, "duplicate delivery must not re-emit")
}

func TestHandleRenewalReingests(t *testing.T) {
	f := newWebhookFixture(t)
	ctx := context.Background()
	userID := uuid.New()
	f.seedReceipt(t, userID, "txn-1")

	notification := &StatusNotification{
		NotificationType:   NotificationRenewal,
		AutoRenewProductID: proProductID,
		LatestReceipt:      "b64-renewed",
		LatestReceiptInfo: receiptInfoList{{
			TransactionID:         "txn-2",
			OriginalTransactionID: "txn-1",
			ProductID:             proProductID,
			ExpiresDateMS:         fixtureExpiresMS,
		}},
	}
	require.NoError(t, f.svc.HandleStatusUpdate(ctx, notification))

	require.Len(t, f.ingester.calls, 1)
	assert.Equal(t, userID.String()+":b64-renewed", f.ingester.calls[0])
}

func TestHandleInteractiveRenewal(t *testing.T) {
	f := newWebhookFixture(t)
	ctx := context.Background()
	userID := uuid.New()
	f.seedReceipt(t, userID, "txn-1")

	notification := &StatusNotification{
		NotificationType:   NotificationInteractiveRenewal,
		AutoRenewProductID: proProductID,
		LatestReceipt:      "b64-renewed",
		LatestReceiptInfo: receiptInfoList{{
			TransactionID:         "txn-1",
			OriginalTransactionID: "txn-1",
			ProductID:             proProductID,
			ExpiresDateMS:         fixtureExpiresMS,
		}},
	}
	require.NoError(t, f.svc.HandleStatusUpdate(ctx, notification))
	assert.Len(t, f.ingester.calls, 1)
}

func TestHandleOtherEmitsTrackUser(t *testing.T) {
	f := newWebhookFixture(t)
	ctx := context.Background()
	userID := uuid.New()
	f.seedReceipt(t, userID, "txn-1")

	notification := &StatusNotification{
		NotificationType:   "DID_CHANGE_RENEWAL_STATUS",
		AutoRenewProductID: proProductID,
		LatestReceiptInfo: receiptInfoList{{
			TransactionID:         "txn-1",
			OriginalTransactionID: "txn-1",
			ProductID:             proProductID,
			ExpiresDateMS:         fixtureExpiresMS,
		}},
	}
	require.NoError(t, f.svc.HandleStatusUpdate(ctx, notification))

	require.Len(t, f.emitter.events, 1)
	assert.Equal(t, enums.EventTrackUser, f.emitter.events[0].EventType)
}

func TestUnknownLineageDropped(t *testing.T) {
	f := newWebhookFixture(t)

	require.NoError(t, f.svc.HandleStatusUpdate(context.Background(), cancelNotification("txn-never-seen")))
	assert.Empty(t, f.emitter.events)
}

func TestUnmanagedProductDropped(t *testing.T) {
	f := newWebhookFixture(t)
	userID := uuid.New()
	f.seedReceipt(t, userID, "txn-1")

	notification := cancelNotification("txn-1")
	notification.AutoRenewProductID = "com.foundermark.Friended.coins"
	require.NoError(t, f.svc.HandleStatusUpdate(context.Background(), notification))
	assert.Empty(t, f.emitter.events)
}

func TestNotificationWithoutReceiptInfoDropped(t *testing.T) {
	f := newWebhookFixture(t)

	notification := &StatusNotification{
		NotificationType:   NotificationCancel,
		AutoRenewProductID: proProductID,
	}
	require.NoError(t, f.svc.HandleStatusUpdate(context.Background(), notification))
	assert.Empty(t, f.emitter.events)
}

func TestNotificationWithoutExpirationDropped(t *testing.T) {
	f := newWebhookFixture(t)
	ctx := context.Background()
	userID := uuid.New()
	f.seedReceipt(t, userID, "txn-1")

	notification := cancelNotification("txn-1")
	notification.LatestExpiredReceiptInfo[0].ExpiresDateMS = ""
	require.NoError(t, f.svc.HandleStatusUpdate(ctx, notification))

	assert.Empty(t, f.emitter.events)
	setting, err := f.settings.FindByUserID(ctx, userID)
	require.NoError(t, err)
	assert.Nil(t, setting, "dropped notification must not touch subscription state")
}

func TestNotificationWithoutOriginalTransactionDropped(t *testing.T) {
	f := newWebhookFixture(t)
	userID := uuid.New()
	f.seedReceipt(t, userID, "txn-1")

	notification := cancelNotification("txn-1")
	notification.LatestExpiredReceiptInfo[0].OriginalTransactionID = ""
	require.NoError(t, f.svc.HandleStatusUpdate(context.Background(), notification))
	assert.Empty(t, f.emitter.events)
}

func TestRenewalWithoutReceiptDataDropped(t *testing.T) {
	f := newWebhookFixture(t)
	userID := uuid.New()
	f.seedReceipt(t, userID, "txn-1")

	notification := &StatusNotification{
		NotificationType:   NotificationRenewal,
		AutoRenewProductID: proProductID,
		LatestReceiptInfo: receiptInfoList{{
			TransactionID:         "txn-2",
			OriginalTransactionID: "txn-1",
			ProductID:             proProductID,
			ExpiresDateMS:         fixtureExpiresMS,
		}},
	}
	require.NoError(t, f.svc.HandleStatusUpdate(context.Background(), notification))
	assert.Empty(t, f.ingester.calls)
}

func TestMissingNotificationType(t *testing.T) {
	f := newWebhookFixture(t)
	err := f.svc.HandleStatusUpdate(context.Background(), &StatusNotification{})
	require.Error(t, err)
}

func TestNotificationSingleObjectReceiptInfo(t *testing.T) {
	var list receiptInfoList
	require.NoError(t, list.UnmarshalJSON([]byte(`{"transaction_id":"txn-1","product_id":"p"}`)))
	require.Len(t, list, 1)
	assert.Equal(t, "txn-1", list[0].TransactionID)

	require.NoError(t, list.UnmarshalJSON([]byte(`[{"transaction_id":"txn-2"}]`)))
	require.Len(t, list, 1)
	assert.Equal(t, "txn-2", list[0].TransactionID)
}
