package applewebhook

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/foundermark/friended-backend/internal/analytics"
	"github.com/foundermark/friended-backend/internal/purchases"
	"github.com/foundermark/friended-backend/internal/subscriptions"
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

type ingester interface {
	IngestLatest(ctx context.Context, userID uuid.UUID, receiptData string) (*purchases.IngestResult, error)
}

// ServiceParams carries webhook service dependencies.
type ServiceParams struct {
	Logger       *logger.Logger
	DB           txRunner
	Receipts     purchases.Repository
	Ingester     ingester
	Updater      *subscriptions.Updater
	Emitter      outboxEmitter
	Guard        *IdempotencyGuard
	ProProductID string
}

// Service handles Apple's subscription status notifications.
type Service struct {
	logg         *logger.Logger
	db           txRunner
	receipts     purchases.Repository
	ingester     ingester
	updater      *subscriptions.Updater
	emitter      outboxEmitter
	guard        *IdempotencyGuard
	proProductID string
}

// NewService builds the status webhook handler.
func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.Logger == nil:
		return nil, fmt.Errorf("applewebhook: logger is required")
	case params.DB == nil:
		return nil, fmt.Errorf("applewebhook: db is required")
	case params.Receipts == nil:
		return nil, fmt.Errorf("applewebhook: receipts repository is required")
	case params.Ingester == nil:
		return nil, fmt.Errorf("applewebhook: ingester is required")
	case params.Updater == nil:
		return nil, fmt.Errorf("applewebhook: updater is required")
	case params.Emitter == nil:
		return nil, fmt.Errorf("applewebhook: outbox emitter is required")
	case params.Guard == nil:
		return nil, fmt.Errorf("applewebhook: idempotency guard is required")
	case params.ProProductID == "":
		return nil, fmt.Errorf("applewebhook: pro product id is required")
	}
	return &Service{
		logg:         params.Logger,
		db:           params.DB,
		receipts:     params.Receipts,
		ingester:     params.Ingester,
		updater:      params.Updater,
		emitter:      params.Emitter,
		guard:        params.Guard,
		proProductID: params.ProProductID,
	}, nil
}

// HandleStatusUpdate processes one status notification. Notifications for
// other products, or for transactions this system never recorded, are
// dropped after logging.
func (s *Service) HandleStatusUpdate(ctx context.Context, notification *StatusNotification) error {
	if notification == nil || notification.NotificationType == "" {
		return apperrors.New(apperrors.CodeValidation, "notification type is required")
	}

	if productID := notification.ProductID(); productID != "" && productID != s.proProductID {
		s.logg.Info(s.logg.WithField(ctx, "product_id", productID),
			"status notification for unmanaged product; dropping")
		return nil
	}

	// Apple retries on non-2xx, so incomplete notifications are dropped
	// quietly rather than bounced back for another delivery attempt.
	info := notification.ReceiptInfo()
	if info == nil || info.TransactionID == "" {
		s.logg.Info(ctx, "status notification carries no transaction; dropping")
		return nil
	}

	ctx = s.logg.WithTransactionID(ctx, info.TransactionID)

	if info.ExpiresAt() == nil {
		s.logg.Info(ctx, "status notification carries no expiration; dropping")
		return nil
	}
	if info.OriginalTransactionID == "" {
		s.logg.Info(ctx, "status notification carries no original transaction; dropping")
		return nil
	}

	owner, err := s.receipts.FindLineageOwner(ctx, info.OriginalTransactionID)
	if err != nil {
		return err
	}
	if owner == nil {
		s.logg.Info(ctx, "status notification for unknown transaction lineage; dropping")
		return nil
	}

	eventID := notificationEventID(notification, info)
	duplicate, err := s.guard.CheckAndMark(ctx, eventID)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeDependency, err, "idempotency check failed")
	}
	if duplicate {
		s.logg.Info(ctx, "duplicate status notification; dropping")
		return nil
	}

	if err := s.dispatch(ctx, notification, owner.UserID); err != nil {
		// Release the mark so Apple's retry is not swallowed.
		if delErr := s.guard.Delete(ctx, eventID); delErr != nil {
			s.logg.Error(ctx, "releasing idempotency mark failed", delErr)
		}
		return err
	}
	return nil
}

func (s *Service) dispatch(ctx context.Context, notification *StatusNotification, userID uuid.UUID) error {
	switch notification.NotificationType {
	case NotificationCancel:
		return s.handleCancel(ctx, userID)
	case NotificationRenewal, NotificationInteractiveRenewal:
		return s.handleRenewal(ctx, notification, userID)
	default:
		return s.handleOther(ctx, notification, userID)
	}
}

// handleCancel marks the subscription cancelled and emits the analytics
// event. Cancellation runs even for soft-deleted users so downstream
// systems stop billing-related messaging.
func (s *Service) handleCancel(ctx context.Context, userID uuid.UUID) error {
	return s.db.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.updater.Cancel(ctx, tx, userID); err != nil {
			return err
		}
		return s.emitter.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventSubscriptionCancelled,
			AggregateType: enums.AggregateUser,
			AggregateID:   userID,
			Actor:         &outbox.ActorRef{UserID: userID, Source: "apple-webhook"},
			Data: analytics.Event{
				Type:       enums.AnalyticsEventSubscriptionCancelled,
				UserID:     userID,
				OccurredAt: time.Now().UTC(),
			},
		})
	})
}

// handleRenewal re-verifies the notification's receipt blob and runs the
// regular ingestion path on the fresh response.
func (s *Service) handleRenewal(ctx context.Context, notification *StatusNotification, userID uuid.UUID) error {
	if notification.LatestReceipt == "" {
		s.logg.Info(ctx, "renewal notification carries no receipt data; dropping")
		return nil
	}
	_, err := s.ingester.IngestLatest(ctx, userID, notification.LatestReceipt)
	return err
}

// handleOther records lifecycle events this system does not act on, for
// downstream user tracking.
func (s *Service) handleOther(ctx context.Context, notification *StatusNotification, userID uuid.UUID) error {
	return s.db.WithTx(ctx, func(tx *gorm.DB) error {
		return s.emitter.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventTrackUser,
			AggregateType: enums.AggregateUser,
			AggregateID:   userID,
			Actor:         &outbox.ActorRef{UserID: userID, Source: "apple-webhook"},
			Data: analytics.Event{
				Type:       enums.AnalyticsEventTrackUser,
				UserID:     userID,
				OccurredAt: time.Now().UTC(),
				Properties: map[string]string{
					"notification_type": notification.NotificationType,
				},
			},
		})
	})
}

func notificationEventID(notification *StatusNotification, info *purchases.ReceiptInfo) string {
	return notification.NotificationType + ":" + info.TransactionID + ":" + info.ExpiresDateMS
}
