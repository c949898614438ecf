package subscriptions

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/foundermark/friended-backend/pkg/db/models"
	"github.com/foundermark/friended-backend/pkg/enums"
	"github.com/foundermark/friended-backend/pkg/logger"
)

// Updater derives a user's subscription state from their receipts.
type Updater struct {
	settings SettingsRepository
	logg     *logger.Logger
}

// UpdaterParams carries Updater dependencies.
type UpdaterParams struct {
	Settings SettingsRepository
	Logger   *logger.Logger
}

// NewUpdater builds a subscription state updater.
func NewUpdater(params UpdaterParams) (*Updater, error) {
	if params.Settings == nil {
		return nil, fmt.Errorf("subscriptions: settings repository is required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("subscriptions: logger is required")
	}
	return &Updater{settings: params.Settings, logg: params.Logger}, nil
}

// Apply updates the user's subscription state from their furthest-expiring
// receipt. The expiration only ever moves forward; a receipt that expires
// earlier than what is already recorded leaves the stored expiration
// untouched. Status still follows the receipt, so an expired receipt flips
// the user out of trial without rolling the expiration back.
func (u *Updater) Apply(ctx context.Context, tx *gorm.DB, userID uuid.UUID, latest *models.PurchaseReceipt) error {
	if latest == nil {
		return nil
	}

	repo := u.settings.WithTx(tx)
	setting, err := repo.FindByUserID(ctx, userID)
	if err != nil {
		return fmt.Errorf("loading settings for user %s: %w", userID, err)
	}
	if setting == nil {
		setting = &models.UserSetting{UserID: userID}
	}

	status := enums.SubscriptionStatusPaid
	if latest.InTrial() {
		status = enums.SubscriptionStatusTrial
	}
	setting.SubscriptionStatus = &status

	if latest.ExpiresDate != nil {
		if setting.ProSubscriptionExpiration == nil || latest.ExpiresDate.After(*setting.ProSubscriptionExpiration) {
			expiry := *latest.ExpiresDate
			setting.ProSubscriptionExpiration = &expiry
		} else {
			u.logg.Info(u.logg.WithUserID(ctx, userID.String()),
				"receipt expiration behind recorded value; keeping recorded expiration")
		}
	}

	if err := repo.Save(ctx, setting); err != nil {
		return fmt.Errorf("saving settings for user %s: %w", userID, err)
	}
	return nil
}

// Cancel marks the user's subscription cancelled. The recorded expiration
// stays put so access runs out naturally at the end of the paid period.
func (u *Updater) Cancel(ctx context.Context, tx *gorm.DB, userID uuid.UUID) error {
	repo := u.settings.WithTx(tx)
	setting, err := repo.FindByUserID(ctx, userID)
	if err != nil {
		return fmt.Errorf("loading settings for user %s: %w", userID, err)
	}
	if setting == nil {
		setting = &models.UserSetting{UserID: userID}
	}

	status := enums.SubscriptionStatusCancelled
	setting.SubscriptionStatus = &status

	if err := repo.Save(ctx, setting); err != nil {
		return fmt.Errorf("saving settings for user %s: %w", userID, err)
	}
	return nil
}
