package referral

import "time"

type Status string

const (
	// StatusPending: the referred user signed up but has no verified receipt yet.
	StatusPending Status = "pending"
	// StatusQualified: first verified receipt recorded, bonus job enqueued.
	StatusQualified Status = "qualified"
	// StatusRewarded: the bonus job completed and the ledger entry exists.
	StatusRewarded Status = "rewarded"
)

type ReferralRecord struct {
	ID             string     `gorm:"column:id;primaryKey;type:char(26)"`
	ReferralCode   string     `gorm:"column:referral_code;type:varchar(40);index;not null"`
	ReferrerUserID string     `gorm:"column:referrer_user_id;index"`
	ReferredUserID string     `gorm:"column:referred_user_id;index;not null"`
	Status         Status     `gorm:"column:status;type:varchar(20);index;default:'pending'"`
	QualifiedAt    *time.Time `gorm:"column:qualified_at"`
	RewardedAt     *time.Time `gorm:"column:rewarded_at"`
	CreatedAt      time.Time  `gorm:"column:created_at"`
	UpdatedAt      time.Time  `gorm:"column:updated_at"`
}
