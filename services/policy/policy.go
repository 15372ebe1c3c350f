package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"snapearn-rewardcore/internal/config"
	"snapearn-rewardcore/pkg/errutil"
	"snapearn-rewardcore/services/ledger"
	"snapearn-rewardcore/services/multiplier"

	"go.uber.org/fx"
)

// Job types understood by the reward engine. Handlers enqueue them, the
// dispatcher resolves each to its policy.
const (
	JobSignupBonus             = "signup_bonus"
	JobReferralBonus           = "referral_bonus"
	JobReceiptMultiplierCredit = "receipt_multiplier_credit"
)

var Module = fx.Module("reward.policy",
	fx.Provide(NewSet),
)

// SignupPayload triggers the one-time signup bonus. ReferenceKey is usually
// the user id itself.
type SignupPayload struct {
	ReferenceKey string `json:"reference_key"`
}

// ReferralPayload credits the referrer once the referred user qualified.
type ReferralPayload struct {
	ReferralID string `json:"referral_id"`
}

// ReceiptPayload scores one verified receipt.
type ReceiptPayload struct {
	ReceiptID          string `json:"receipt_id"`
	TotalMinorUnits    int64  `json:"total_minor_units"`
	CurrencyCode       string `json:"currency_code"`
	MultiplierEligible bool   `json:"multiplier_eligible"`
}

// Set is the reward policy set: pure calculation of what a job should credit.
// Policies read multiplier state but never mutate anything; all writes happen
// in the ledger, reachable only through the dispatcher.
type Set struct {
	cfg      *config.Config
	resolver *multiplier.Resolver
}

type SetParams struct {
	fx.In
	Cfg      *config.Config
	Resolver *multiplier.Resolver
}

func NewSet(p SetParams) *Set {
	return &Set{cfg: p.Cfg, resolver: p.Resolver}
}

// Evaluate resolves jobType to its policy and returns the credit instructions
// for the job. A malformed payload or unknown job type is a permanent
// rejection; only infrastructure errors are retryable.
func (s *Set) Evaluate(ctx context.Context, jobType, userID string, payload []byte) ([]ledger.IssueParams, error) {
	switch jobType {
	case JobSignupBonus:
		return s.signupBonus(userID, payload)
	case JobReferralBonus:
		return s.referralBonus(userID, payload)
	case JobReceiptMultiplierCredit:
		return s.receiptCredit(ctx, userID, payload)
	default:
		return nil, errutil.ValidationFailed(fmt.Sprintf("unknown job type %q", jobType), nil)
	}
}

func (s *Set) signupBonus(userID string, payload []byte) ([]ledger.IssueParams, error) {
	var p SignupPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, errutil.ValidationFailed("malformed signup payload", err)
	}

	ref := p.ReferenceKey
	if ref == "" {
		ref = userID
	}

	return []ledger.IssueParams{
		{
			UserID:       userID,
			CreditType:   ledger.CreditPoints,
			Amount:       s.cfg.Rewards.SignupBonusPoints,
			Source:       ledger.SourceWaitlistSignup,
			ReferenceKey: ref,
			Description:  "signup bonus points",
		},
		{
			UserID:       userID,
			CreditType:   ledger.CreditBonus,
			Amount:       s.cfg.Rewards.SignupBonusCredits,
			Source:       ledger.SourceWaitlistSignup,
			ReferenceKey: ref,
			Description:  "signup bonus credits",
		},
	}, nil
}

func (s *Set) referralBonus(userID string, payload []byte) ([]ledger.IssueParams, error) {
	var p ReferralPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, errutil.ValidationFailed("malformed referral payload", err)
	}
	if p.ReferralID == "" {
		return nil, errutil.ValidationFailed("referral_id is required", nil)
	}

	return []ledger.IssueParams{
		{
			UserID:       userID,
			CreditType:   ledger.CreditBonus,
			Amount:       s.cfg.Rewards.ReferralBonusCredits,
			Source:       ledger.SourceReferral,
			ReferenceKey: p.ReferralID,
			Description:  "referral bonus",
		},
	}, nil
}

func (s *Set) receiptCredit(ctx context.Context, userID string, payload []byte) ([]ledger.IssueParams, error) {
	var p ReceiptPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, errutil.ValidationFailed("malformed receipt payload", err)
	}
	if p.ReceiptID == "" {
		return nil, errutil.ValidationFailed("receipt_id is required", nil)
	}
	if p.TotalMinorUnits <= 0 {
		return nil, errutil.ValidationFailed("total_minor_units must be > 0", nil)
	}

	factor := 1.0
	if p.MultiplierEligible {
		// Resolved at scoring time, never cached: multipliers expire.
		var err error
		factor, err = s.resolver.EffectiveFactor(ctx, userID, time.Now())
		if err != nil {
			return nil, err
		}
	}

	points := s.receiptPoints(p.TotalMinorUnits, factor)
	if points <= 0 {
		// Sub-threshold totals earn nothing; completing the job with no credit
		// keeps the retry machinery out of it.
		return nil, nil
	}

	return []ledger.IssueParams{
		{
			UserID:       userID,
			CreditType:   ledger.CreditPoints,
			Amount:       points,
			Source:       ledger.SourceReceipt,
			ReferenceKey: p.ReceiptID,
			Description:  fmt.Sprintf("receipt credit (%.2gx)", factor),
		},
	}, nil
}

// receiptPoints converts a receipt total in minor units into points: the
// configured rate applies per 100 minor units, scaled by the multiplier.
func (s *Set) receiptPoints(totalMinorUnits int64, factor float64) int64 {
	base := float64(totalMinorUnits) / 100 * float64(s.cfg.Rewards.PointsPerUnit)
	return int64(math.Round(base * factor))
}
