package receipt

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"snapearn-rewardcore/services/job"
	"snapearn-rewardcore/services/policy"
	"snapearn-rewardcore/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()

	db := testutil.NewTestDB(t, &Receipt{}, &job.RewardJob{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	svc := NewService(ServiceParams{
		DB:    db,
		Node:  node,
		Queue: job.NewQueue(job.QueueParams{DB: db, Node: node}),
	})
	return svc, db
}

func validEvent() *VerifiedEvent {
	return &VerifiedEvent{
		ReceiptID:          "ext-1",
		UserID:             "user-1",
		TotalMinorUnits:    2500,
		CurrencyCode:       "USD",
		MerchantName:       "Corner Store",
		MultiplierEligible: true,
	}
}

func TestProcess(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	rec, err := svc.Process(ctx, validEvent())
	require.NoError(t, err)
	require.Equal(t, StatusProcessed, rec.Status)
	require.NotNil(t, rec.VerifiedAt)

	var jobs []job.RewardJob
	require.NoError(t, db.Find(&jobs).Error)
	require.Len(t, jobs, 1)
	require.Equal(t, policy.JobReceiptMultiplierCredit, jobs[0].JobType)
	require.Equal(t, "user-1", jobs[0].UserID)

	var p policy.ReceiptPayload
	require.NoError(t, json.Unmarshal(jobs[0].Payload, &p))
	require.Equal(t, rec.ID, p.ReceiptID)
	require.Equal(t, int64(2500), p.TotalMinorUnits)
	require.True(t, p.MultiplierEligible)
}

func TestProcessRedelivery(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	first, err := svc.Process(ctx, validEvent())
	require.NoError(t, err)

	// Webhook retries carry the same external receipt id; no second row, no
	// second scoring job.
	second, err := svc.Process(ctx, validEvent())
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)

	var receipts []Receipt
	require.NoError(t, db.Find(&receipts).Error)
	require.Len(t, receipts, 1)

	var jobs []job.RewardJob
	require.NoError(t, db.Find(&jobs).Error)
	require.Len(t, jobs, 1)
}

func TestProcessValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		mutate func(*VerifiedEvent)
	}{
		{"missing receipt id", func(ev *VerifiedEvent) { ev.ReceiptID = "" }},
		{"missing user id", func(ev *VerifiedEvent) { ev.UserID = "" }},
		{"negative total", func(ev *VerifiedEvent) { ev.TotalMinorUnits = -1 }},
		{"bad currency", func(ev *VerifiedEvent) { ev.CurrencyCode = "DOLLARS" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ev := validEvent()
			tc.mutate(ev)
			_, err := svc.Process(ctx, ev)
			require.Error(t, err)
		})
	}
}

func TestCountVerified(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	count, err := svc.CountVerified(ctx, "user-1")
	require.NoError(t, err)
	require.Zero(t, count)

	_, err = svc.Process(ctx, validEvent())
	require.NoError(t, err)

	ev := validEvent()
	ev.ReceiptID = "ext-2"
	_, err = svc.Process(ctx, ev)
	require.NoError(t, err)

	count, err = svc.CountVerified(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, int64(2), count)
}
