package job

import (
	"context"
	"errors"
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

func newTestQueue(t *testing.T) (*Queue, *gorm.DB) {
	t.Helper()

	db := testutil.NewTestDB(t, &RewardJob{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	return NewQueue(QueueParams{DB: db, Node: node}), db
}

func TestEnqueue(t *testing.T) {
	q, db := newTestQueue(t)

	j, err := q.Enqueue(context.Background(), "signup_bonus", "user-1", map[string]string{"reference_key": "user-1"})
	require.NoError(t, err)
	require.Equal(t, StatusPending, j.Status)
	require.Equal(t, 0, j.Attempts)

	var stored RewardJob
	require.NoError(t, db.First(&stored, "id = ?", j.ID).Error)
	require.Equal(t, "signup_bonus", stored.JobType)
	require.JSONEq(t, `{"reference_key":"user-1"}`, string(stored.Payload))
}

func TestClaimMutualExclusion(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	j, err := q.Enqueue(ctx, "signup_bonus", "user-1", nil)
	require.NoError(t, err)

	// Two dispatchers race for the same pending job; exactly one claim wins.
	first := *j
	second := *j

	ok, err := q.Claim(ctx, &first)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, StatusProcessing, first.Status)
	require.Equal(t, 1, first.Attempts)

	ok, err = q.Claim(ctx, &second)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestClaimBatchFIFO(t *testing.T) {
	q, db := newTestQueue(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Minute)
	for i, id := range []string{"j-3", "j-1", "j-2"} {
		require.NoError(t, db.Create(&RewardJob{
			ID:        id,
			JobType:   "signup_bonus",
			UserID:    "user-1",
			Status:    StatusPending,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}).Error)
	}

	claimed, err := q.ClaimBatch(ctx, 2)
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	require.Equal(t, "j-3", claimed[0].ID)
	require.Equal(t, "j-1", claimed[1].ID)
}

func TestClaimBatchSkipsFailingClaim(t *testing.T) {
	q, db := newTestQueue(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Minute)
	for i, id := range []string{"j-1", "j-2", "j-3"} {
		require.NoError(t, db.Create(&RewardJob{
			ID: id, JobType: "signup_bonus", UserID: "user-1",
			Status: StatusPending, CreatedAt: base.Add(time.Duration(i) * time.Second),
		}).Error)
	}

	// Fail the second claim's UPDATE; the rest of the batch must still land.
	var updates int
	require.NoError(t, db.Callback().Update().Before("gorm:update").Register("fail_second_update", func(tx *gorm.DB) {
		updates++
		if updates == 2 {
			tx.AddError(errors.New("connection reset"))
		}
	}))

	claimed, err := q.ClaimBatch(ctx, 3)
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	require.Equal(t, "j-1", claimed[0].ID)
	require.Equal(t, "j-3", claimed[1].ID)

	// The skipped job stays pending for the next pass.
	skipped, err := q.Get(ctx, "j-2")
	require.NoError(t, err)
	require.Equal(t, StatusPending, skipped.Status)
	require.Equal(t, 0, skipped.Attempts)
}

func TestMarkRetryTransitions(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()
	cause := errors.New("store unavailable")

	j, err := q.Enqueue(ctx, "signup_bonus", "user-1", nil)
	require.NoError(t, err)

	// Under the attempt budget the job goes back to pending.
	ok, err := q.Claim(ctx, j)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, q.MarkRetry(ctx, j, 5, cause))
	require.Equal(t, StatusPending, j.Status)
	require.Equal(t, "store unavailable", j.LastError)

	// Exhausting the budget makes the failure terminal.
	for i := 0; i < 4; i++ {
		ok, err := q.Claim(ctx, j)
		require.NoError(t, err)
		require.True(t, ok)
		require.NoError(t, q.MarkRetry(ctx, j, 5, cause))
	}
	require.Equal(t, StatusFailed, j.Status)
	require.Equal(t, 5, j.Attempts)

	// failed is terminal: the job is never claimable again.
	ok, err = q.Claim(ctx, j)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMarkRetryTerminalDespiteStaleClaim(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()
	cause := errors.New("store unavailable")

	j, err := q.Enqueue(ctx, "signup_bonus", "user-1", nil)
	require.NoError(t, err)

	// Dispatcher B read the row before dispatcher A's claim+revert, so its copy
	// undercounts the stored attempts.
	stale := *j

	ok, err := q.Claim(ctx, j)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, q.MarkRetry(ctx, j, 2, cause))
	require.Equal(t, StatusPending, j.Status)

	ok, err = q.Claim(ctx, &stale)
	require.NoError(t, err)
	require.True(t, ok)
	// Stored attempts are 2 (the budget); the stale copy says 1. The budget
	// decision must follow the store, not the copy.
	require.Equal(t, 1, stale.Attempts)

	require.NoError(t, q.MarkRetry(ctx, &stale, 2, cause))
	require.Equal(t, StatusFailed, stale.Status)
	require.Equal(t, 2, stale.Attempts)

	// Terminal means terminal: never claimable again.
	ok, err = q.Claim(ctx, &stale)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMarkFailedImmediate(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	j, err := q.Enqueue(ctx, "signup_bonus", "user-1", nil)
	require.NoError(t, err)

	ok, err := q.Claim(ctx, j)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, q.MarkFailed(ctx, j, errors.New("malformed payload")))
	require.Equal(t, StatusFailed, j.Status)
	require.Equal(t, 1, j.Attempts)
}

func TestSweepStuck(t *testing.T) {
	q, db := newTestQueue(t)
	ctx := context.Background()

	stale := time.Now().Add(-time.Hour)
	require.NoError(t, db.Create(&RewardJob{
		ID: "j-stuck", JobType: "signup_bonus", UserID: "user-1",
		Status: StatusProcessing, Attempts: 2, CreatedAt: stale, UpdatedAt: stale,
	}).Error)
	require.NoError(t, db.Create(&RewardJob{
		ID: "j-live", JobType: "signup_bonus", UserID: "user-2",
		Status: StatusProcessing, Attempts: 1, CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}).Error)

	n, err := q.SweepStuck(ctx, 15*time.Minute)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	swept, err := q.Get(ctx, "j-stuck")
	require.NoError(t, err)
	require.Equal(t, StatusPending, swept.Status)
	// The crashed attempt stays counted.
	require.Equal(t, 2, swept.Attempts)

	live, err := q.Get(ctx, "j-live")
	require.NoError(t, err)
	require.Equal(t, StatusProcessing, live.Status)
}
