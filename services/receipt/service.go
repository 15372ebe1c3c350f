package receipt

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"snapearn-rewardcore/pkg/errutil"
	"snapearn-rewardcore/services/job"
	"snapearn-rewardcore/services/policy"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// VerifiedEvent is the authenticated OCR-completion payload after JSON decode.
// Decoding happens strictly after signature verification.
type VerifiedEvent struct {
	ReceiptID          string          `json:"receipt_id"`
	UserID             string          `json:"user_id"`
	TotalMinorUnits    int64           `json:"total_minor_units"`
	CurrencyCode       string          `json:"currency_code"`
	MerchantName       string          `json:"merchant_name"`
	PurchasedAt        *time.Time      `json:"purchased_at,omitempty"`
	MultiplierEligible bool            `json:"multiplier_eligible"`
	LineItems          json.RawMessage `json:"line_items,omitempty"`
}

func (e *VerifiedEvent) validate() error {
	switch {
	case e.ReceiptID == "":
		return errutil.ValidationFailed("receipt_id is required", nil)
	case e.UserID == "":
		return errutil.ValidationFailed("user_id is required", nil)
	case e.TotalMinorUnits < 0:
		return errutil.ValidationFailed("total_minor_units must not be negative", nil)
	case len(e.CurrencyCode) != 3:
		return errutil.ValidationFailed("currency_code must be a 3-letter code", nil)
	}
	return nil
}

// Service records verified receipts and enqueues their scoring jobs.
type Service struct {
	db    *gorm.DB
	node  *snowflake.Node
	queue *job.Queue
}

type ServiceParams struct {
	fx.In
	DB    *gorm.DB
	Node  *snowflake.Node
	Queue *job.Queue
}

func NewService(p ServiceParams) *Service {
	return &Service{db: p.DB, node: p.Node, queue: p.Queue}
}

// Process durably records a verified receipt, marks it processed and enqueues
// the receipt_multiplier_credit job. Redelivered webhooks hit the unique index
// on the external receipt id and return the existing row without enqueueing a
// second job.
func (s *Service) Process(ctx context.Context, ev *VerifiedEvent) (*Receipt, error) {
	if err := ev.validate(); err != nil {
		return nil, err
	}

	span := trace.SpanFromContext(ctx)
	zapLog := zap.L().With(
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("external_receipt_id", ev.ReceiptID),
		zap.String("user_id", ev.UserID),
	)

	now := time.Now()
	rec := &Receipt{
		ID:                 s.node.Generate().String(),
		UserID:             ev.UserID,
		ExternalReceiptID:  ev.ReceiptID,
		MerchantName:       ev.MerchantName,
		TotalMinorUnits:    ev.TotalMinorUnits,
		CurrencyCode:       ev.CurrencyCode,
		PurchasedAt:        ev.PurchasedAt,
		MultiplierEligible: ev.MultiplierEligible,
		LineItems:          datatypes.JSON(ev.LineItems),
		Status:             StatusProcessed,
		VerifiedAt:         &now,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			zapLog.Info("receipt already recorded, webhook redelivery ignored")
			return s.getByExternalID(ctx, ev.ReceiptID)
		}
		return nil, errutil.Internal("failed to record receipt", err)
	}

	_, err := s.queue.Enqueue(ctx, policy.JobReceiptMultiplierCredit, ev.UserID, policy.ReceiptPayload{
		ReceiptID:          rec.ID,
		TotalMinorUnits:    ev.TotalMinorUnits,
		CurrencyCode:       ev.CurrencyCode,
		MultiplierEligible: ev.MultiplierEligible,
	})
	if err != nil {
		return nil, errutil.Internal("failed to enqueue receipt scoring job", err)
	}

	zapLog.Info("🧾 receipt processed", zap.Int64("total_minor_units", ev.TotalMinorUnits))
	return rec, nil
}

func (s *Service) getByExternalID(ctx context.Context, externalID string) (*Receipt, error) {
	var rec Receipt
	err := s.db.WithContext(ctx).
		Where("external_receipt_id = ?", externalID).
		First(&rec).Error
	if err != nil {
		return nil, errutil.Internal("failed to load receipt", err)
	}
	return &rec, nil
}

// CountVerified reports how many processed receipts a user has. The referral
// qualifier uses it to detect the first one.
func (s *Service) CountVerified(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&Receipt{}).
		Where("user_id = ? AND status = ?", userID, StatusProcessed).
		Count(&count).Error
	return count, err
}

// ListVerified returns a user's processed receipts, earliest verification
// first with id as the tie-break.
func (s *Service) ListVerified(ctx context.Context, userID string) ([]Receipt, error) {
	var recs []Receipt
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, StatusProcessed).
		Order("verified_at asc, id asc").
		Find(&recs).Error
	return recs, err
}
