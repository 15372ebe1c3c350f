package receipt

import (
	"time"

	"gorm.io/datatypes"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusProcessed Status = "processed"
)

// Receipt is the durable record of one OCR-verified receipt. The webhook writes
// it before acknowledging, so the scoring job and the referral qualification
// both read committed state.
type Receipt struct {
	ID                 string         `gorm:"column:id;primaryKey;type:char(26)"`
	UserID             string         `gorm:"column:user_id;type:varchar(64);index;not null"`
	ExternalReceiptID  string         `gorm:"column:external_receipt_id;type:varchar(128);uniqueIndex;not null"`
	MerchantName       string         `gorm:"column:merchant_name;type:varchar(255)"`
	TotalMinorUnits    int64          `gorm:"column:total_minor_units;not null"`
	CurrencyCode       string         `gorm:"column:currency_code;type:char(3);not null"`
	PurchasedAt        *time.Time     `gorm:"column:purchased_at"`
	MultiplierEligible bool           `gorm:"column:multiplier_eligible"`
	LineItems          datatypes.JSON `gorm:"column:line_items;type:json"`
	Status             Status         `gorm:"column:status;type:varchar(20);index;default:'pending'"`
	VerifiedAt         *time.Time     `gorm:"column:verified_at;index"`
	CreatedAt          time.Time      `gorm:"column:created_at"`
	UpdatedAt          time.Time      `gorm:"column:updated_at"`
}
