package job

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

const (
	// TaskDispatch nudges a dispatch pass shortly after an enqueue. Redundant
	// deliveries are harmless: claims and the ledger key make passes safe to
	// run concurrently.
	TaskDispatch = "reward:dispatch"
	// TaskSweep resets jobs stuck in processing back to pending.
	TaskSweep = "reward:sweep"
)

func NewDispatchTask() *asynq.Task {
	return asynq.NewTask(TaskDispatch, nil,
		asynq.MaxRetry(3),
		asynq.Timeout(2*time.Minute),
		asynq.Queue("rewards"),
	)
}

func NewSweepTask() *asynq.Task {
	return asynq.NewTask(TaskSweep, nil,
		asynq.MaxRetry(1),
		asynq.Queue("rewards"),
	)
}

// TaskHandler adapts the dispatcher to the asynq worker mux.
type TaskHandler struct {
	dispatcher   *Dispatcher
	queue        *Queue
	stuckTimeout time.Duration
}

func NewTaskHandler(d *Dispatcher, q *Queue, stuckTimeout time.Duration) *TaskHandler {
	return &TaskHandler{dispatcher: d, queue: q, stuckTimeout: stuckTimeout}
}

func (h *TaskHandler) HandleDispatchTask(ctx context.Context, t *asynq.Task) error {
	processed, err := h.dispatcher.RunOnce(ctx)
	if err != nil {
		zap.L().Error("dispatch task failed", zap.String("task_type", t.Type()), zap.Error(err))
		return err
	}

	zap.L().Debug("dispatch task done", zap.Int("processed", processed))
	return nil
}

func (h *TaskHandler) HandleSweepTask(ctx context.Context, t *asynq.Task) error {
	if _, err := h.queue.SweepStuck(ctx, h.stuckTimeout); err != nil {
		zap.L().Error("sweep task failed", zap.String("task_type", t.Type()), zap.Error(err))
		return err
	}
	return nil
}
