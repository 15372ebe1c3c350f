package ledger

import (
	"context"
	"errors"
	"time"

	"snapearn-rewardcore/pkg/errutil"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Service struct {
	db   *gorm.DB
	node *snowflake.Node
}

type ServiceParams struct {
	fx.In
	DB   *gorm.DB
	Node *snowflake.Node
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:   p.DB,
		node: p.Node,
	}
}

// IssueParams describes one credit instruction.
type IssueParams struct {
	UserID       string
	CreditType   CreditType
	Amount       int64
	Source       string
	ReferenceKey string
	Description  string
}

// IssueResult reports whether the credit was written now or had already been
// written by an earlier, logically identical issuance.
type IssueResult struct {
	AlreadyIssued bool
	Entry         *LedgerEntry
}

// Issue writes a ledger entry and applies the balance delta as one atomic unit.
// Re-issuing the same (user, source, reference) is a no-op: the composite
// unique index closes the race between two dispatchers holding duplicate jobs,
// so there is no separate read-then-write window.
func (s *Service) Issue(ctx context.Context, p IssueParams) (*IssueResult, error) {
	var res *IssueResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		res, err = s.IssueTx(ctx, tx, p)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// IssueTx is Issue running inside a caller-owned transaction. The dispatcher
// uses it so the ledger write and the job's completed status commit together.
func (s *Service) IssueTx(ctx context.Context, tx *gorm.DB, p IssueParams) (*IssueResult, error) {
	span := trace.SpanFromContext(ctx)
	opts := []zap.Field{
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("user_id", p.UserID),
		zap.String("source", p.Source),
		zap.String("reference_key", p.ReferenceKey),
	}

	if !p.CreditType.Valid() {
		return nil, errutil.ValidationFailed("unsupported credit type", nil)
	}
	if p.Amount <= 0 {
		return nil, errutil.ValidationFailed("amount must be > 0", nil)
	}
	if p.UserID == "" || p.Source == "" || p.ReferenceKey == "" {
		return nil, errutil.ValidationFailed("user_id, source and reference_key are required", nil)
	}

	entry := &LedgerEntry{
		ID:           s.node.Generate().String(),
		UserID:       p.UserID,
		CreditType:   p.CreditType,
		Amount:       p.Amount,
		Source:       p.Source,
		ReferenceKey: p.ReferenceKey,
		Description:  p.Description,
		CreatedAt:    time.Now(),
	}

	// ON CONFLICT DO NOTHING instead of catching the unique violation: a
	// violation inside the dispatcher's shared transaction would abort the
	// whole transaction on postgres, turning the idempotent no-op into a
	// retry loop.
	res := tx.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "user_id"}, {Name: "credit_type"}, {Name: "source"}, {Name: "reference_key"},
		},
		DoNothing: true,
	}).Create(entry)
	if res.Error != nil {
		zap.L().With(opts...).Error("failed to write ledger entry", zap.Error(res.Error))
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		zap.L().With(opts...).Info("credit already issued, skipping")
		return &IssueResult{AlreadyIssued: true}, nil
	}

	if err := s.applyDelta(ctx, tx, p.UserID, p.CreditType, p.Amount); err != nil {
		zap.L().With(opts...).Error("failed to apply balance delta", zap.Error(err))
		return nil, err
	}

	zap.L().With(opts...).Info("🪙 credit issued",
		zap.String("credit_type", string(p.CreditType)),
		zap.Int64("amount", p.Amount),
	)

	return &IssueResult{Entry: entry}, nil
}

// applyDelta is a single upsert: insert the row with the delta as its starting
// balance, or increment in place when it already exists. One statement, so the
// insert race cannot abort the surrounding transaction.
func (s *Service) applyDelta(ctx context.Context, tx *gorm.DB, userID string, creditType CreditType, amount int64) error {
	column := "points_balance"
	if creditType == CreditBonus {
		column = "bonus_credit_balance"
	}

	now := time.Now()
	balance := &Balance{
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	switch creditType {
	case CreditBonus:
		balance.BonusCreditBalance = amount
	default:
		balance.PointsBalance = amount
	}

	return tx.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			column:       gorm.Expr(column+" + ?", amount),
			"updated_at": now,
		}),
	}).Create(balance).Error
}

// HasEntry reports whether a credit for the triple has already been written.
// Used by the manual recovery endpoint before enqueueing a replacement job.
func (s *Service) HasEntry(ctx context.Context, userID, source, referenceKey string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&LedgerEntry{}).
		Where("user_id = ? AND source = ? AND reference_key = ?", userID, source, referenceKey).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// GetBalance returns the user's balances, zero-valued when no credit has ever
// been issued.
func (s *Service) GetBalance(ctx context.Context, userID string) (*Balance, error) {
	var balance Balance
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&balance).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &Balance{UserID: userID}, nil
		}
		return nil, err
	}
	return &balance, nil
}

// ListEntries returns every issuance for a user, oldest first.
func (s *Service) ListEntries(ctx context.Context, userID string) ([]*LedgerEntry, error) {
	var entries []*LedgerEntry
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at asc").
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}
