package job

import (
	"context"
	"encoding/json"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Queue is the durable table of pending and in-flight reward jobs.
type Queue struct {
	db    *gorm.DB
	node  *snowflake.Node
	asynq *asynq.Client
}

type QueueParams struct {
	fx.In
	DB   *gorm.DB
	Node *snowflake.Node

	Asynq *asynq.Client `optional:"true"`
}

func NewQueue(p QueueParams) *Queue {
	return &Queue{
		db:    p.DB,
		node:  p.Node,
		asynq: p.Asynq,
	}
}

// Enqueue durably records a reward job and fires a best-effort dispatch nudge.
// The nudge failing is not an error: the interval scheduler picks the job up
// on its next pass regardless.
func (q *Queue) Enqueue(ctx context.Context, jobType, userID string, payload any) (*RewardJob, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	j := &RewardJob{
		ID:        q.node.Generate().String(),
		JobType:   jobType,
		UserID:    userID,
		Payload:   datatypes.JSON(body),
		Status:    StatusPending,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := q.db.WithContext(ctx).Create(j).Error; err != nil {
		return nil, err
	}

	zap.L().Info("reward job enqueued",
		zap.String("job_id", j.ID),
		zap.String("job_type", jobType),
		zap.String("user_id", userID),
	)

	if q.asynq != nil {
		if _, err := q.asynq.EnqueueContext(ctx, NewDispatchTask()); err != nil {
			zap.L().Warn("dispatch nudge failed, job waits for next scheduler pass",
				zap.String("job_id", j.ID), zap.Error(err))
		}
	}

	return j, nil
}

// ClaimBatch selects up to limit pending jobs oldest first and claims each one
// with an atomic conditional update. A row another dispatcher got to first is
// skipped silently; that conflict is the expected mutual-exclusion path, not
// an error. A claim that errors is skipped too: one bad row must not starve
// the rest of the batch, and the job stays pending for the next pass.
func (q *Queue) ClaimBatch(ctx context.Context, limit int) ([]*RewardJob, error) {
	var candidates []*RewardJob
	err := q.db.WithContext(ctx).
		Where("status = ?", StatusPending).
		Order("created_at asc").
		Limit(limit).
		Find(&candidates).Error
	if err != nil {
		return nil, err
	}

	claimed := make([]*RewardJob, 0, len(candidates))
	for _, j := range candidates {
		ok, err := q.Claim(ctx, j)
		if err != nil {
			zap.L().Error("claim failed, skipping job",
				zap.String("job_id", j.ID), zap.Error(err))
			continue
		}
		if ok {
			claimed = append(claimed, j)
		}
	}
	return claimed, nil
}

// Claim attempts the pending→processing transition for one job, incrementing
// attempts exactly once. It reports false when another worker won the claim.
func (q *Queue) Claim(ctx context.Context, j *RewardJob) (bool, error) {
	res := q.db.WithContext(ctx).Model(&RewardJob{}).
		Where("id = ? AND status = ?", j.ID, StatusPending).
		Updates(map[string]any{
			"status":     StatusProcessing,
			"attempts":   gorm.Expr("attempts + 1"),
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}

	j.Status = StatusProcessing
	j.Attempts++
	return true, nil
}

// MarkCompletedTx finalizes a job inside the transaction that wrote its ledger
// entries, so credit and terminal status commit atomically.
func (q *Queue) MarkCompletedTx(ctx context.Context, tx *gorm.DB, j *RewardJob) error {
	err := tx.WithContext(ctx).Model(&RewardJob{}).
		Where("id = ?", j.ID).
		Updates(map[string]any{
			"status":     StatusCompleted,
			"last_error": "",
			"updated_at": time.Now(),
		}).Error
	if err != nil {
		return err
	}
	j.Status = StatusCompleted
	return nil
}

// MarkRetry reverts a transiently failed job to pending, or to failed once the
// attempt budget is spent. The budget check runs against the stored attempts
// inside the UPDATE itself: an in-memory count can lag the database when
// another dispatcher claimed and reverted the job after this one read it, and
// trusting it would re-open a job whose budget is already gone.
func (q *Queue) MarkRetry(ctx context.Context, j *RewardJob, maxAttempts int, cause error) error {
	err := q.db.WithContext(ctx).Model(&RewardJob{}).
		Where("id = ?", j.ID).
		Updates(map[string]any{
			"status":     gorm.Expr("CASE WHEN attempts >= ? THEN ? ELSE ? END", maxAttempts, StatusFailed, StatusPending),
			"last_error": cause.Error(),
			"updated_at": time.Now(),
		}).Error
	if err != nil {
		return err
	}

	var row RewardJob
	if err := q.db.WithContext(ctx).Select("status", "attempts").First(&row, "id = ?", j.ID).Error; err != nil {
		return err
	}
	j.Status = row.Status
	j.Attempts = row.Attempts
	j.LastError = cause.Error()
	return nil
}

// MarkFailed terminally fails a job regardless of remaining attempts. Used for
// permanent rejections (malformed payloads stay malformed).
func (q *Queue) MarkFailed(ctx context.Context, j *RewardJob, cause error) error {
	err := q.db.WithContext(ctx).Model(&RewardJob{}).
		Where("id = ?", j.ID).
		Updates(map[string]any{
			"status":     StatusFailed,
			"last_error": cause.Error(),
			"updated_at": time.Now(),
		}).Error
	if err != nil {
		return err
	}
	j.Status = StatusFailed
	j.LastError = cause.Error()
	return nil
}

// SweepStuck re-opens jobs left in processing by a crashed dispatcher: anything
// processing for longer than olderThan goes back to pending for re-claim.
// Attempts are not touched; the crash already consumed one.
func (q *Queue) SweepStuck(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)

	res := q.db.WithContext(ctx).Model(&RewardJob{}).
		Where("status = ? AND updated_at < ?", StatusProcessing, cutoff).
		Updates(map[string]any{
			"status":     StatusPending,
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected > 0 {
		zap.L().Warn("reset stuck reward jobs", zap.Int64("count", res.RowsAffected))
	}
	return res.RowsAffected, nil
}

// Get returns one job by id.
func (q *Queue) Get(ctx context.Context, id string) (*RewardJob, error) {
	var j RewardJob
	if err := q.db.WithContext(ctx).Where("id = ?", id).First(&j).Error; err != nil {
		return nil, err
	}
	return &j, nil
}
