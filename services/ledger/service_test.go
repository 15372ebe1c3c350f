package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"snapearn-rewardcore/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestService(t *testing.T) *Service {
	t.Helper()

	db := testutil.NewTestDB(t, &LedgerEntry{}, &Balance{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	return &Service{db: db, node: node}
}

func TestIssue(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	res, err := svc.Issue(ctx, IssueParams{
		UserID:       "user-1",
		CreditType:   CreditPoints,
		Amount:       100,
		Source:       SourceWaitlistSignup,
		ReferenceKey: "user-1",
	})
	require.NoError(t, err)
	require.False(t, res.AlreadyIssued)
	require.NotNil(t, res.Entry)

	balance, err := svc.GetBalance(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, int64(100), balance.PointsBalance)
	require.Equal(t, int64(0), balance.BonusCreditBalance)
}

func TestIssueIdempotent(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	p := IssueParams{
		UserID:       "user-1",
		CreditType:   CreditPoints,
		Amount:       100,
		Source:       SourceWaitlistSignup,
		ReferenceKey: "ref-1",
	}

	first, err := svc.Issue(ctx, p)
	require.NoError(t, err)
	require.False(t, first.AlreadyIssued)

	second, err := svc.Issue(ctx, p)
	require.NoError(t, err)
	require.True(t, second.AlreadyIssued)
	require.Nil(t, second.Entry)

	// Exactly one entry and one balance delta.
	entries, err := svc.ListEntries(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)

	balance, err := svc.GetBalance(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, int64(100), balance.PointsBalance)
}

func TestIssueBothCreditTypesSameReference(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	// The signup bonus issues a point credit and a bonus credit under the same
	// source and reference. Both must land.
	_, err := svc.Issue(ctx, IssueParams{
		UserID:       "user-1",
		CreditType:   CreditPoints,
		Amount:       100,
		Source:       SourceWaitlistSignup,
		ReferenceKey: "user-1",
	})
	require.NoError(t, err)

	res, err := svc.Issue(ctx, IssueParams{
		UserID:       "user-1",
		CreditType:   CreditBonus,
		Amount:       10,
		Source:       SourceWaitlistSignup,
		ReferenceKey: "user-1",
	})
	require.NoError(t, err)
	require.False(t, res.AlreadyIssued)

	balance, err := svc.GetBalance(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, int64(100), balance.PointsBalance)
	require.Equal(t, int64(10), balance.BonusCreditBalance)
}

func TestIssueTxDuplicateKeepsTransactionUsable(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	p := IssueParams{
		UserID:       "user-1",
		CreditType:   CreditPoints,
		Amount:       100,
		Source:       SourceWaitlistSignup,
		ReferenceKey: "ref-1",
	}

	_, err := svc.Issue(ctx, p)
	require.NoError(t, err)

	// A duplicate issuance inside a caller-owned transaction must not poison
	// it: later statements in the same transaction still have to commit.
	err = svc.db.Transaction(func(tx *gorm.DB) error {
		res, err := svc.IssueTx(ctx, tx, p)
		require.NoError(t, err)
		require.True(t, res.AlreadyIssued)

		return tx.Model(&Balance{}).
			Where("user_id = ?", p.UserID).
			Update("updated_at", time.Now()).Error
	})
	require.NoError(t, err)

	entries, err := svc.ListEntries(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)

	balance, err := svc.GetBalance(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, int64(100), balance.PointsBalance)
}

func TestIssueValidation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	cases := []struct {
		name string
		p    IssueParams
	}{
		{"bad credit type", IssueParams{UserID: "u", CreditType: "nope", Amount: 1, Source: "s", ReferenceKey: "r"}},
		{"zero amount", IssueParams{UserID: "u", CreditType: CreditPoints, Amount: 0, Source: "s", ReferenceKey: "r"}},
		{"negative amount", IssueParams{UserID: "u", CreditType: CreditPoints, Amount: -5, Source: "s", ReferenceKey: "r"}},
		{"missing user", IssueParams{CreditType: CreditPoints, Amount: 1, Source: "s", ReferenceKey: "r"}},
		{"missing reference", IssueParams{UserID: "u", CreditType: CreditPoints, Amount: 1, Source: "s"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Issue(ctx, tc.p)
			require.Error(t, err)
		})
	}
}

func TestHasEntry(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	got, err := svc.HasEntry(ctx, "user-1", SourceWaitlistSignup, "user-1")
	require.NoError(t, err)
	require.False(t, got)

	_, err = svc.Issue(ctx, IssueParams{
		UserID:       "user-1",
		CreditType:   CreditPoints,
		Amount:       100,
		Source:       SourceWaitlistSignup,
		ReferenceKey: "user-1",
	})
	require.NoError(t, err)

	got, err = svc.HasEntry(ctx, "user-1", SourceWaitlistSignup, "user-1")
	require.NoError(t, err)
	require.True(t, got)
}

func TestGetBalanceUnknownUser(t *testing.T) {
	svc := newTestService(t)

	balance, err := svc.GetBalance(context.Background(), "nobody")
	require.NoError(t, err)
	require.Equal(t, int64(0), balance.PointsBalance)
	require.Equal(t, int64(0), balance.BonusCreditBalance)
}
