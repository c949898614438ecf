package subscriptions

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/foundermark/friended-backend/pkg/db/models"
)

// SettingsRepository handles user subscription settings persistence.
type SettingsRepository interface {
	WithTx(tx *gorm.DB) SettingsRepository
	FindByUserID(ctx context.Context, userID uuid.UUID) (*models.UserSetting, error)
	Save(ctx context.Context, setting *models.UserSetting) error
	ResetPostAllowedInterval(ctx context.Context, userID uuid.UUID, now time.Time) error
	ListUsersWithExpirationAfter(ctx context.Context, cutoff time.Time, limit int) ([]models.UserSetting, error)
	ListUsersWithExpirationBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.UserSetting, error)
}

type settingsRepository struct {
	db *gorm.DB
}

// NewSettingsRepository returns a settings repository bound to the provided database.
func NewSettingsRepository(db *gorm.DB) SettingsRepository {
	return &settingsRepository{db: db}
}

func (r *settingsRepository) WithTx(tx *gorm.DB) SettingsRepository {
	if tx == nil {
		return r
	}
	return &settingsRepository{db: tx}
}

func (r *settingsRepository) FindByUserID(ctx context.Context, userID uuid.UUID) (*models.UserSetting, error) {
	var setting models.UserSetting
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		First(&setting).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &setting, nil
}

func (r *settingsRepository) Save(ctx context.Context, setting *models.UserSetting) error {
	return r.db.WithContext(ctx).Save(setting).Error
}

// ResetPostAllowedInterval restarts the posting cooldown window, granted
// when a new subscription purchase lands.
func (r *settingsRepository) ResetPostAllowedInterval(ctx context.Context, userID uuid.UUID, now time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.UserSetting{}).
		Where("user_id = ?", userID).
		Update("post_allowed_interval_started_at", now).Error
}

// ListUsersWithExpirationAfter returns settings whose pro expiration is
// newer than cutoff, oldest expirations first. This catches active
// subscribers and anyone who lapsed within the cutoff window.
func (r *settingsRepository) ListUsersWithExpirationAfter(ctx context.Context, cutoff time.Time, limit int) ([]models.UserSetting, error) {
	var settings []models.UserSetting
	query := r.db.WithContext(ctx).
		Where("pro_subscription_expiration > ?", cutoff).
		Order("pro_subscription_expiration ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&settings).Error; err != nil {
		return nil, err
	}
	return settings, nil
}

// ListUsersWithExpirationBefore returns settings whose pro expiration is
// older than cutoff, oldest first.
func (r *settingsRepository) ListUsersWithExpirationBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.UserSetting, error) {
	var settings []models.UserSetting
	query := r.db.WithContext(ctx).
		Where("pro_subscription_expiration IS NOT NULL AND pro_subscription_expiration < ?", cutoff).
		Order("pro_subscription_expiration ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&settings).Error; err != nil {
		return nil, err
	}
	return settings, nil
}
