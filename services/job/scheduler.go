package job

import (
	"context"
	"time"

	"snapearn-rewardcore/internal/config"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Scheduler drives the dispatcher on a fixed interval. Reward issuance is not
// latency-critical; the interval bounds load on the store and the asynq nudges
// cover the common low-latency case.
type Scheduler struct {
	dispatcher *Dispatcher
	queue      *Queue

	interval     time.Duration
	stuckTimeout time.Duration
}

func NewScheduler(cfg *config.Config, d *Dispatcher, q *Queue) *Scheduler {
	return &Scheduler{
		dispatcher:   d,
		queue:        q,
		interval:     cfg.Dispatcher.Interval,
		stuckTimeout: cfg.Dispatcher.StuckTimeout,
	}
}

// StartScheduler is invoked by fx on service start.
func StartScheduler(lc fx.Lifecycle, s *Scheduler) {
	ctx, cancel := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go s.run(ctx)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}

func (s *Scheduler) run(ctx context.Context) {
	zap.L().Info("[Scheduler] reward dispatch scheduler started",
		zap.Duration("interval", s.interval),
	)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.pass(ctx)
		case <-ctx.Done():
			zap.L().Warn("[Scheduler] stopped")
			return
		}
	}
}

func (s *Scheduler) pass(ctx context.Context) {
	start := time.Now()

	// A pass may not outlive its slot: a store stall would otherwise pile up
	// ticker fires behind a pass that never returns.
	ctx, cancel := context.WithTimeout(ctx, s.interval)
	defer cancel()

	if _, err := s.queue.SweepStuck(ctx, s.stuckTimeout); err != nil {
		zap.L().Error("[Scheduler] stuck job sweep failed", zap.Error(err))
	}

	processed, err := s.dispatcher.RunOnce(ctx)
	if err != nil {
		zap.L().Error("[Scheduler] dispatch pass failed", zap.Error(err))
		return
	}

	if processed > 0 {
		zap.L().Info("[Scheduler] dispatch pass done",
			zap.Int("processed", processed),
			zap.Duration("duration", time.Since(start)),
		)
	}
}
