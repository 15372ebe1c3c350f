package referral

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"snapearn-rewardcore/services/job"
	"snapearn-rewardcore/services/policy"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// VerifiedReceiptCounter reports how many verified receipts a user has. The
// receipt service implements it; the indirection keeps this package free of a
// receipt dependency.
type VerifiedReceiptCounter interface {
	CountVerified(ctx context.Context, userID string) (int64, error)
}

// Qualifier owns the referral state machine. Qualification is an atomic
// conditional transition so two concurrent verification events for the same
// referred user can enqueue at most one bonus job.
type Qualifier struct {
	db       *gorm.DB
	node     *snowflake.Node
	queue    *job.Queue
	receipts VerifiedReceiptCounter
}

type QualifierParams struct {
	fx.In
	DB       *gorm.DB
	Node     *snowflake.Node
	Queue    *job.Queue
	Receipts VerifiedReceiptCounter
}

func NewQualifier(p QualifierParams) *Qualifier {
	return &Qualifier{
		db:       p.DB,
		node:     p.Node,
		queue:    p.Queue,
		receipts: p.Receipts,
	}
}

// Track records a new pending referral.
func (q *Qualifier) Track(ctx context.Context, code, referrerUserID, referredUserID string) (*ReferralRecord, error) {
	rec := &ReferralRecord{
		ID:             q.node.Generate().String(),
		ReferralCode:   code,
		ReferrerUserID: referrerUserID,
		ReferredUserID: referredUserID,
		Status:         StatusPending,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}
	if err := q.db.WithContext(ctx).Create(rec).Error; err != nil {
		return nil, err
	}
	return rec, nil
}

// OnReceiptVerified runs after a receipt is marked verified. When the verified
// receipt is the user's first and a pending referral names them as referred,
// the record transitions to qualified and a referral_bonus job is enqueued for
// the referrer. Anything else is a no-op.
func (q *Qualifier) OnReceiptVerified(ctx context.Context, referredUserID string) error {
	var rec ReferralRecord
	err := q.db.WithContext(ctx).
		Where("referred_user_id = ? AND status = ?", referredUserID, StatusPending).
		First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return err
	}

	count, err := q.receipts.CountVerified(ctx, referredUserID)
	if err != nil {
		return err
	}
	if count != 1 {
		// Not the first verified receipt; qualification already had its shot.
		return nil
	}

	now := time.Now()
	res := q.db.WithContext(ctx).Model(&ReferralRecord{}).
		Where("id = ? AND status = ?", rec.ID, StatusPending).
		Updates(map[string]any{
			"status":       StatusQualified,
			"qualified_at": now,
			"updated_at":   now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		// A concurrent verification event won the transition.
		return nil
	}

	if rec.ReferrerUserID == "" {
		zap.L().Warn("referral qualified without resolved referrer, skipping bonus enqueue",
			zap.String("referral_id", rec.ID),
			zap.String("referral_code", rec.ReferralCode),
		)
		return nil
	}

	_, err = q.queue.Enqueue(ctx, policy.JobReferralBonus, rec.ReferrerUserID, policy.ReferralPayload{
		ReferralID: rec.ID,
	})
	if err != nil {
		return err
	}

	zap.L().Info("referral qualified",
		zap.String("referral_id", rec.ID),
		zap.String("referrer_user_id", rec.ReferrerUserID),
		zap.String("referred_user_id", referredUserID),
	)
	return nil
}

// HandleRewardJobCompleted runs inside the dispatcher's completing transaction
// and advances qualified→rewarded once the bonus ledger entry is committed.
func (q *Qualifier) HandleRewardJobCompleted(ctx context.Context, tx *gorm.DB, jobType, userID string, payload []byte) error {
	if jobType != policy.JobReferralBonus {
		return nil
	}

	var p policy.ReferralPayload
	if err := json.Unmarshal(payload, &p); err != nil || p.ReferralID == "" {
		// The policy already validated the payload; nothing to transition.
		return nil
	}

	now := time.Now()
	return tx.WithContext(ctx).Model(&ReferralRecord{}).
		Where("id = ? AND status = ?", p.ReferralID, StatusQualified).
		Updates(map[string]any{
			"status":      StatusRewarded,
			"rewarded_at": now,
			"updated_at":  now,
		}).Error
}
