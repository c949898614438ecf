package purchases

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/foundermark/friended-backend/internal/analytics"
	"github.com/foundermark/friended-backend/internal/subscriptions"
	"github.com/foundermark/friended-backend/pkg/db/models"
	"github.com/foundermark/friended-backend/pkg/enums"
	"github.com/foundermark/friended-backend/pkg/logger"
	"github.com/foundermark/friended-backend/pkg/outbox"
)

type gormTxRunner struct {
	db *gorm.DB
}

func (r gormTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

type recordingEmitter struct {
	events []outbox.DomainEvent
}

func (e *recordingEmitter) Emit(_ context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	if tx == nil {
		return errors.New("emit requires a transaction")
	}
	e.events = append(e.events, event)
	return nil
}

type stubVerifier struct {
	payload *VerifiedPayload
}

func (v stubVerifier) Verify(context.Context, string) (*VerifiedPayload, []byte, error) {
	raw, err := json.Marshal(v.payload)
	if err != nil {
		return nil, nil, err
	}
	return v.payload, raw, nil
}

func setupServiceTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db := setupPurchasesTestDB(t)
	userSettings := `
CREATE TABLE IF NOT EXISTS user_settings (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL UNIQUE,
  subscription_status TEXT,
  pro_subscription_expiration DATETIME,
  post_allowed_interval_started_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`
	require.NoError(t, db.Exec(userSettings).Error)
	return db
}

type recordingReporter struct {
	messages []string
	tags     []map[string]string
}

func (r *recordingReporter) CaptureMessage(message string, tags map[string]string) {
	r.messages = append(r.messages, message)
	r.tags = append(r.tags, tags)
}

func newTestService(t *testing.T, db *gorm.DB, verifier Verifier) (*Service, *recordingEmitter) {
	t.Helper()
	svc, emitter, _ := newTestServiceWithReporter(t, db, verifier)
	return svc, emitter
}

func newTestServiceWithReporter(t *testing.T, db *gorm.DB, verifier Verifier) (*Service, *recordingEmitter, *recordingReporter) {
	t.Helper()

	logg := logger.New(logger.Options{ServiceName: "test"})
	settings := subscriptions.NewSettingsRepository(db)
	updater, err := subscriptions.NewUpdater(subscriptions.UpdaterParams{
		Settings: settings,
		Logger:   logg,
	})
	require.NoError(t, err)

	emitter := &recordingEmitter{}
	reporter := &recordingReporter{}
	svc, err := NewService(ServiceParams{
		Logger:       logg,
		DB:           gormTxRunner{db: db},
		Repo:         NewRepository(db),
		Catalog:      NewCatalog(db),
		PayloadStore: NewPayloadStore(db, newFakeBlobStore(), 1<<20),
		Verifier:     verifier,
		Updater:      updater,
		Settings:     settings,
		Emitter:      emitter,
		Reporter:     reporter,
	})
	require.NoError(t, err)
	return svc, emitter, reporter
}

func seedProProduct(t *testing.T, db *gorm.DB) {
	t.Helper()
	product := &models.ProductType{
		ID:                uuid.New(),
		AppleProductID:    "com.foundermark.Friended.prosub",
		Kind:              enums.ProductKindProSubscription,
		SubscriptionPrice: decimal.RequireFromString("9.99"),
		PeriodDays:        30,
		Enabled:           true,
	}
	require.NoError(t, db.Create(product).Error)
}

func proPayload(txnID string, expires time.Time, trial bool) *VerifiedPayload {
	trialStr := "false"
	if trial {
		trialStr = "true"
	}
	return &VerifiedPayload{
		Status:        appleStatusOK,
		LatestReceipt: "b64-latest",
		LatestReceiptInfo: []ReceiptInfo{{
			TransactionID: txnID,
			ProductID:     "com.foundermark.Friended.prosub",
			ExpiresDateMS: msString(expires),
			IsTrialPeriod: trialStr,
		}},
	}
}

func msString(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func TestIngestFirstSubmission(t *testing.T) {
	db := setupServiceTestDB(t)
	seedProProduct(t, db)

	expires := time.Now().Add(30 * 24 * time.Hour).UTC().Truncate(time.Second)
	svc, emitter := newTestService(t, db, stubVerifier{payload: proPayload("txn-1", expires, false)})
	ctx := context.Background()
	userID := uuid.New()

	clientPrice := decimal.RequireFromString("9.99")
	result, err := svc.Ingest(ctx, userID, "b64-receipt", &clientPrice)
	require.NoError(t, err)
	assert.Equal(t, 1, result.ReceiptsSeen)
	assert.True(t, result.SideEffectsApplied)
	assert.Equal(t, "txn-1", result.LatestTransaction)

	stored, err := NewRepository(db).FindByTransactionID(ctx, "txn-1")
	require.NoError(t, err)
	require.NotNil(t, stored.Price)
	assert.True(t, stored.Price.Equal(decimal.RequireFromString("9.99")))
	assert.Equal(t, enums.ReceiptStatusProcessed, stored.InternalStatus)

	setting, err := subscriptions.NewSettingsRepository(db).FindByUserID(ctx, userID)
	require.NoError(t, err)
	require.NotNil(t, setting)
	assert.Equal(t, enums.SubscriptionStatusPaid, *setting.SubscriptionStatus)
	assert.NotNil(t, setting.PostAllowedIntervalStartedAt)

	require.Len(t, emitter.events, 1)
	assert.Equal(t, enums.EventRenewal, emitter.events[0].EventType)
}

func TestIngestTrialEmitsNewTrial(t *testing.T) {
	db := setupServiceTestDB(t)
	seedProProduct(t, db)

	expires := time.Now().Add(7 * 24 * time.Hour).UTC()
	svc, emitter := newTestService(t, db, stubVerifier{payload: proPayload("txn-1", expires, true)})

	_, err := svc.Ingest(context.Background(), uuid.New(), "b64-receipt", nil)
	require.NoError(t, err)

	require.Len(t, emitter.events, 1)
	assert.Equal(t, enums.EventNewTrial, emitter.events[0].EventType)
}

func TestIngestRepeatSubmissionSkipsSideEffects(t *testing.T) {
	db := setupServiceTestDB(t)
	seedProProduct(t, db)

	expires := time.Now().Add(30 * 24 * time.Hour).UTC()
	svc, emitter := newTestService(t, db, stubVerifier{payload: proPayload("txn-1", expires, false)})
	ctx := context.Background()
	userID := uuid.New()

	first, err := svc.Ingest(ctx, userID, "b64-receipt", nil)
	require.NoError(t, err)
	assert.True(t, first.SideEffectsApplied)

	second, err := svc.Ingest(ctx, userID, "b64-receipt", nil)
	require.NoError(t, err)
	assert.False(t, second.SideEffectsApplied, "repeat submission must not re-run side effects")
	assert.Len(t, emitter.events, 1)
}

func TestIngestRejectedPayload(t *testing.T) {
	db := setupServiceTestDB(t)
	svc, _ := newTestService(t, db, stubVerifier{payload: &VerifiedPayload{Status: 21002}})

	_, err := svc.Ingest(context.Background(), uuid.New(), "b64-receipt", nil)
	require.Error(t, err)
}

func TestIngestUnknownProductRecordsWithoutPrice(t *testing.T) {
	db := setupServiceTestDB(t)

	expires := time.Now().Add(30 * 24 * time.Hour).UTC()
	payload := proPayload("txn-1", expires, false)
	payload.LatestReceiptInfo[0].ProductID = "com.foundermark.Friended.unknown"
	svc, _ := newTestService(t, db, stubVerifier{payload: payload})
	ctx := context.Background()

	clientPrice := decimal.RequireFromString("9.99")
	result, err := svc.Ingest(ctx, uuid.New(), "b64-receipt", &clientPrice)
	require.NoError(t, err)
	assert.Equal(t, 1, result.ReceiptsSeen)

	stored, err := NewRepository(db).FindByTransactionID(ctx, "txn-1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Nil(t, stored.Price, "unknown products record no price")
}

func TestIngestUnknownProductFlagsEventAndReports(t *testing.T) {
	db := setupServiceTestDB(t)

	expires := time.Now().Add(30 * 24 * time.Hour).UTC()
	payload := proPayload("txn-1", expires, false)
	payload.LatestReceiptInfo[0].ProductID = "com.foundermark.Friended.unknown"
	svc, emitter, reporter := newTestServiceWithReporter(t, db, stubVerifier{payload: payload})
	ctx := context.Background()
	userID := uuid.New()

	_, err := svc.Ingest(ctx, userID, "b64-receipt", nil)
	require.NoError(t, err)

	require.Len(t, emitter.events, 1)
	event, ok := emitter.events[0].Data.(analytics.Event)
	require.True(t, ok)
	assert.Equal(t, "true", event.Properties["unknown_product"])

	require.Len(t, reporter.messages, 1)
	assert.Equal(t, "unknown_product", reporter.messages[0])
	assert.Equal(t, "com.foundermark.Friended.unknown", reporter.tags[0]["product_id"])
	assert.Equal(t, "txn-1", reporter.tags[0]["transaction_id"])
	assert.Equal(t, userID.String(), reporter.tags[0]["user_id"])
}

func TestIngestProcessesEveryReceiptInPayload(t *testing.T) {
	db := setupServiceTestDB(t)
	seedProProduct(t, db)

	near := time.Now().Add(24 * time.Hour).UTC().Truncate(time.Second)
	far := near.Add(30 * 24 * time.Hour)
	payload := proPayload("txn-new", far, false)
	payload.LatestReceiptInfo = append(payload.LatestReceiptInfo, ReceiptInfo{
		TransactionID: "txn-old",
		ProductID:     "com.foundermark.Friended.prosub",
		ExpiresDateMS: msString(near),
		IsTrialPeriod: "false",
	})
	svc, emitter := newTestService(t, db, stubVerifier{payload: payload})
	ctx := context.Background()

	result, err := svc.Ingest(ctx, uuid.New(), "b64-receipt", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, result.ReceiptsSeen)
	assert.Equal(t, "txn-new", result.LatestTransaction, "furthest expiration wins")
	assert.True(t, result.SideEffectsApplied)

	repo := NewRepository(db)
	for _, txnID := range []string{"txn-new", "txn-old"} {
		stored, err := repo.FindByTransactionID(ctx, txnID)
		require.NoError(t, err)
		require.NotNil(t, stored)
		assert.Equal(t, enums.ReceiptStatusProcessed, stored.InternalStatus, txnID)
	}
	assert.Len(t, emitter.events, 1, "one event per batch, not per receipt")
}

func TestLatestSubscriptionPrice(t *testing.T) {
	db := setupServiceTestDB(t)
	seedProProduct(t, db)
	svc, _ := newTestService(t, db, stubVerifier{payload: &VerifiedPayload{Status: appleStatusOK}})
	ctx := context.Background()
	userID := uuid.New()
	repo := NewRepository(db)

	price, err := svc.LatestSubscriptionPrice(ctx, userID)
	require.NoError(t, err)
	assert.Nil(t, price, "no receipts means no price")

	near := time.Now().Add(24 * time.Hour).UTC()
	paid := decimal.RequireFromString("9.99")
	priced := newReceipt(userID, "txn-priced")
	priced.ExpiresDate = &near
	priced.Price = &paid
	_, err = repo.Upsert(ctx, priced)
	require.NoError(t, err)

	price, err = svc.LatestSubscriptionPrice(ctx, userID)
	require.NoError(t, err)
	require.NotNil(t, price)
	assert.True(t, price.Equal(paid))

	// A newer unpriced receipt hides the older price entirely.
	far := near.Add(30 * 24 * time.Hour)
	unpriced := newReceipt(userID, "txn-unpriced")
	unpriced.ExpiresDate = &far
	_, err = repo.Upsert(ctx, unpriced)
	require.NoError(t, err)

	price, err = svc.LatestSubscriptionPrice(ctx, userID)
	require.NoError(t, err)
	assert.Nil(t, price, "furthest-expiring receipt has no recorded price")
}

func TestIngestUnconsentedPriceIncrease(t *testing.T) {
	db := setupServiceTestDB(t)

	product := &models.ProductType{
		ID:                uuid.New(),
		AppleProductID:    "com.foundermark.Friended.prosub",
		Kind:              enums.ProductKindProSubscription,
		SubscriptionPrice: decimal.RequireFromString("14.99"),
		PeriodDays:        30,
		Enabled:           true,
	}
	require.NoError(t, db.Create(product).Error)

	expires := time.Now().Add(30 * 24 * time.Hour).UTC()
	svc, _ := newTestService(t, db, stubVerifier{payload: proPayload("txn-1", expires, false)})
	ctx := context.Background()

	clientPrice := decimal.RequireFromString("9.99")
	_, err := svc.Ingest(ctx, uuid.New(), "b64-receipt", &clientPrice)
	require.NoError(t, err)

	stored, err := NewRepository(db).FindByTransactionID(ctx, "txn-1")
	require.NoError(t, err)
	require.NotNil(t, stored.Price)
	assert.True(t, stored.Price.Equal(clientPrice), "unconsented increase keeps the client price")
}

func TestIngestExpirationNeverRollsBack(t *testing.T) {
	db := setupServiceTestDB(t)
	seedProProduct(t, db)
	ctx := context.Background()
	userID := uuid.New()

	far := time.Now().Add(60 * 24 * time.Hour).UTC().Truncate(time.Second)
	svcFar, _ := newTestService(t, db, stubVerifier{payload: proPayload("txn-far", far, false)})
	_, err := svcFar.Ingest(ctx, userID, "b64-receipt", nil)
	require.NoError(t, err)

	near := far.Add(-30 * 24 * time.Hour)
	svcNear, _ := newTestService(t, db, stubVerifier{payload: proPayload("txn-near", near, false)})
	_, err = svcNear.Ingest(ctx, userID, "b64-receipt", nil)
	require.NoError(t, err)

	setting, err := subscriptions.NewSettingsRepository(db).FindByUserID(ctx, userID)
	require.NoError(t, err)
	require.NotNil(t, setting.ProSubscriptionExpiration)
	assert.True(t, setting.ProSubscriptionExpiration.Equal(far))
}

func TestReconcileUserSkipsWithoutPayload(t *testing.T) {
	db := setupServiceTestDB(t)
	seedProProduct(t, db)
	svc, _ := newTestService(t, db, stubVerifier{payload: &VerifiedPayload{Status: appleStatusOK}})
	ctx := context.Background()

	userID := uuid.New()
	receipt := newReceipt(userID, "txn-1")
	expires := time.Now().Add(24 * time.Hour).UTC()
	receipt.ExpiresDate = &expires
	_, err := NewRepository(db).Upsert(ctx, receipt)
	require.NoError(t, err)

	reconciled, err := svc.ReconcileUser(ctx, userID)
	require.NoError(t, err)
	assert.False(t, reconciled)
}

func TestReconcileUserReingestsStoredPayload(t *testing.T) {
	db := setupServiceTestDB(t)
	seedProProduct(t, db)
	ctx := context.Background()
	userID := uuid.New()

	expires := time.Now().Add(30 * 24 * time.Hour).UTC().Truncate(time.Second)
	svc, _ := newTestService(t, db, stubVerifier{payload: proPayload("txn-1", expires, false)})
	_, err := svc.Ingest(ctx, userID, "b64-receipt", nil)
	require.NoError(t, err)

	reconciled, err := svc.ReconcileUser(ctx, userID)
	require.NoError(t, err)
	assert.True(t, reconciled)
}
