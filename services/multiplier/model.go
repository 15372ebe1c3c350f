package multiplier

import "time"

// Multiplier is a purchased, temporary factor scaling a user's point earnings.
// tier_slug encodes the numeric factor, e.g. "2x" or "1_5x".
type Multiplier struct {
	ID          string     `gorm:"column:id;primaryKey;type:char(26)"`
	UserID      string     `gorm:"column:user_id;index;not null"`
	TierSlug    string     `gorm:"column:tier_slug;type:varchar(20);not null"`
	Active      bool       `gorm:"column:active;default:true"`
	PurchasedAt time.Time  `gorm:"column:purchased_at;not null"`
	ExpiresAt   *time.Time `gorm:"column:expires_at"`
	CreatedAt   time.Time  `gorm:"column:created_at"`
}
