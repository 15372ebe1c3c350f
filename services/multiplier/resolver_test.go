package multiplier

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"snapearn-rewardcore/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func TestEffectiveFactor(t *testing.T) {
	db := testutil.NewTestDB(t, &Multiplier{})
	r := &Resolver{db: db}

	now := time.Now()
	future := now.Add(24 * time.Hour)
	past := now.Add(-24 * time.Hour)

	rows := []Multiplier{
		{ID: "m-1", UserID: "user-1", TierSlug: "1_5x", Active: true, PurchasedAt: past, ExpiresAt: &future},
		{ID: "m-2", UserID: "user-1", TierSlug: "2x", Active: true, PurchasedAt: past, ExpiresAt: &past},
		{ID: "m-3", UserID: "user-1", TierSlug: "3x", Active: true, PurchasedAt: past},
	}
	require.NoError(t, db.Create(&rows).Error)

	factor, err := r.EffectiveFactor(context.Background(), "user-1", now)
	require.NoError(t, err)
	require.Equal(t, 3.0, factor)
}

func TestEffectiveFactorNoRows(t *testing.T) {
	db := testutil.NewTestDB(t, &Multiplier{})
	r := &Resolver{db: db}

	factor, err := r.EffectiveFactor(context.Background(), "user-1", time.Now())
	require.NoError(t, err)
	require.Equal(t, 1.0, factor)
}

func TestEffectiveFactorSkipsInactiveAndUndecodable(t *testing.T) {
	db := testutil.NewTestDB(t, &Multiplier{})
	r := &Resolver{db: db}

	now := time.Now()
	rows := []Multiplier{
		{ID: "m-1", UserID: "user-1", TierSlug: "5x", Active: false, PurchasedAt: now},
		{ID: "m-2", UserID: "user-1", TierSlug: "mystery", Active: true, PurchasedAt: now},
		{ID: "m-3", UserID: "user-1", TierSlug: "1_5x", Active: true, PurchasedAt: now},
	}
	require.NoError(t, db.Create(&rows).Error)

	factor, err := r.EffectiveFactor(context.Background(), "user-1", now)
	require.NoError(t, err)
	require.Equal(t, 1.5, factor)
}

func TestDecodeTierSlug(t *testing.T) {
	cases := []struct {
		slug   string
		factor float64
		ok     bool
	}{
		{"2x", 2.0, true},
		{"1_5x", 1.5, true},
		{"3x", 3.0, true},
		{"10x", 10.0, true},
		{"gold", 0, false},
		{"", 0, false},
		{"_x", 0, false},
		{"0x", 0, false},
	}

	for _, tc := range cases {
		t.Run(tc.slug, func(t *testing.T) {
			factor, ok := DecodeTierSlug(tc.slug)
			require.Equal(t, tc.ok, ok)
			if tc.ok {
				require.Equal(t, tc.factor, factor)
			}
		})
	}
}
