package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/foundermark/friended-backend/pkg/enums"
)

// UserSetting carries per-user subscription state. One row per user.
type UserSetting struct {
	ID                           uuid.UUID                 `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	UserID                       uuid.UUID                 `gorm:"column:user_id;type:uuid;not null;uniqueIndex"`
	SubscriptionStatus           *enums.SubscriptionStatus `gorm:"column:subscription_status;type:subscription_status_enum"`
	ProSubscriptionExpiration    *time.Time                `gorm:"column:pro_subscription_expiration"`
	PostAllowedIntervalStartedAt *time.Time                `gorm:"column:post_allowed_interval_started_at"`
	CreatedAt                    time.Time                 `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt                    time.Time                 `gorm:"column:updated_at;autoUpdateTime"`
}

// HasActivePro reports whether the pro subscription is unexpired at now.
func (s *UserSetting) HasActivePro(now time.Time) bool {
	if s == nil || s.ProSubscriptionExpiration == nil {
		return false
	}
	return s.ProSubscriptionExpiration.After(now)
}
