package ledger

import (
	"time"
)

// CreditType selects which of the two balances an entry credits.
type CreditType string

const (
	// CreditPoints is the unlimited-supply reward point credit (RWT).
	CreditPoints CreditType = "points"
	// CreditBonus is the fixed-supply secondary credit (AIA).
	CreditBonus CreditType = "bonus_credit"
)

func (t CreditType) Valid() bool {
	return t == CreditPoints || t == CreditBonus
}

// Issuance sources. Together with user_id, credit_type and reference_key they
// form the idempotency boundary: a given (user, credit, source, reference) is
// issued at most once. The credit type is part of the key because one trigger
// may legitimately credit both balances (the signup bonus does).
const (
	SourceWaitlistSignup = "waitlist_signup"
	SourceReferral       = "referral"
	SourceReceipt        = "receipt"
)

// LedgerEntry is one reward issuance. Immutable once written, kept forever.
type LedgerEntry struct {
	ID           string     `gorm:"column:id;primaryKey;type:char(26)"`
	UserID       string     `gorm:"column:user_id;index;not null;uniqueIndex:idx_ledger_issue"`
	CreditType   CreditType `gorm:"column:credit_type;type:varchar(20);not null;uniqueIndex:idx_ledger_issue"`
	Amount       int64      `gorm:"column:amount;not null"`
	Source       string     `gorm:"column:source;type:varchar(30);not null;uniqueIndex:idx_ledger_issue"`
	ReferenceKey string     `gorm:"column:reference_key;type:varchar(64);not null;uniqueIndex:idx_ledger_issue"`
	Description  string     `gorm:"column:description;type:text"`
	CreatedAt    time.Time  `gorm:"column:created_at"`
}

// Balance is the derived per-user aggregate. Mutated only inside the ledger's
// issuing transaction, never directly by handlers.
type Balance struct {
	UserID             string    `gorm:"column:user_id;primaryKey;type:char(26)"`
	PointsBalance      int64     `gorm:"column:points_balance;not null;default:0"`
	BonusCreditBalance int64     `gorm:"column:bonus_credit_balance;not null;default:0"`
	CreatedAt          time.Time `gorm:"column:created_at"`
	UpdatedAt          time.Time `gorm:"column:updated_at"`
}
