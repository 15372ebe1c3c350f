package multiplier

import (
	"context"
	"strconv"
	"strings"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("multiplier.resolver",
	fx.Provide(NewResolver),
)

// Resolver determines the yield multiplier in effect for a user at a given
// instant. It has no side effects and must be consulted at the moment each
// receipt is scored, never cached, because multipliers expire.
type Resolver struct {
	db *gorm.DB
}

type ResolverParams struct {
	fx.In
	DB *gorm.DB
}

func NewResolver(p ResolverParams) *Resolver {
	return &Resolver{db: p.DB}
}

// EffectiveFactor returns the highest decoded factor among the user's active,
// unexpired multipliers, ties broken by most recent purchase. With none in
// effect it returns 1.0.
func (r *Resolver) EffectiveFactor(ctx context.Context, userID string, at time.Time) (float64, error) {
	var rows []Multiplier
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND active = ?", userID, true).
		Find(&rows).Error
	if err != nil {
		return 0, err
	}

	best := 0.0
	var bestPurchased time.Time
	for _, m := range rows {
		if m.ExpiresAt != nil && !m.ExpiresAt.After(at) {
			continue
		}

		factor, ok := DecodeTierSlug(m.TierSlug)
		if !ok {
			zap.L().Warn("undecodable multiplier tier slug",
				zap.String("multiplier_id", m.ID),
				zap.String("tier_slug", m.TierSlug),
			)
			continue
		}

		if factor > best || (factor == best && m.PurchasedAt.After(bestPurchased)) {
			best = factor
			bestPurchased = m.PurchasedAt
		}
	}

	if best == 0 {
		return 1.0, nil
	}
	return best, nil
}

// DecodeTierSlug extracts the numeric factor embedded in a tier slug: digits
// are kept in order and an underscore reads as the decimal point, so "2x"
// decodes to 2.0 and "1_5x" to 1.5.
func DecodeTierSlug(slug string) (float64, bool) {
	var b strings.Builder
	for _, c := range slug {
		switch {
		case c >= '0' && c <= '9':
			b.WriteRune(c)
		case c == '_':
			b.WriteRune('.')
		}
	}

	if b.Len() == 0 {
		return 0, false
	}

	factor, err := strconv.ParseFloat(b.String(), 64)
	if err != nil || factor <= 0 {
		return 0, false
	}
	return factor, true
}
