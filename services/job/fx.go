package job

import (
	"context"
	"fmt"

	"snapearn-rewardcore/internal/config"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("job.engine",
	fx.Provide(
		NewQueue,
		NewDispatcher,
		NewScheduler,
		provideTaskHandler,
	),
	fx.Invoke(StartScheduler),
)

// Worker registers the asynq handlers; only processes running the asynq server
// include it.
var Worker = fx.Module("job.worker",
	fx.Invoke(registerTaskHandlers),
	fx.Invoke(startSweepScheduler),
)

func provideTaskHandler(cfg *config.Config, d *Dispatcher, q *Queue) *TaskHandler {
	return NewTaskHandler(d, q, cfg.Dispatcher.StuckTimeout)
}

func registerTaskHandlers(mux *asynq.ServeMux, h *TaskHandler) {
	mux.HandleFunc(TaskDispatch, h.HandleDispatchTask)
	mux.HandleFunc(TaskSweep, h.HandleSweepTask)
}

// startSweepScheduler enqueues a sweep task every stuck-timeout interval.
// Redundant with the interval scheduler's own sweep; when Redis is down this
// silently stops and the interval scheduler keeps covering.
func startSweepScheduler(lc fx.Lifecycle, cfg *config.Config) {
	scheduler := asynq.NewScheduler(
		asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		nil,
	)

	spec := fmt.Sprintf("@every %s", cfg.Dispatcher.StuckTimeout)
	if _, err := scheduler.Register(spec, NewSweepTask()); err != nil {
		zap.L().Error("[Asynq] Failed to register sweep schedule", zap.Error(err))
		return
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := scheduler.Start(); err != nil {
				zap.L().Error("[Asynq] Failed to start sweep scheduler", zap.Error(err))
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			scheduler.Shutdown()
			return nil
		},
	})
}
