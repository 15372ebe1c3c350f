package job

import (
	"context"
	"sync/atomic"
	"time"

	"snapearn-rewardcore/internal/config"
	"snapearn-rewardcore/pkg/errutil"
	"snapearn-rewardcore/services/ledger"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// Evaluator resolves a job to its credit instructions. The reward policy set
// implements it.
type Evaluator interface {
	Evaluate(ctx context.Context, jobType, userID string, payload []byte) ([]ledger.IssueParams, error)
}

// CompletedFunc runs inside the completing transaction of a successful job.
// Downstream state transitions that must commit with the credit (the referral
// qualified→rewarded step) register one of these.
type CompletedFunc func(ctx context.Context, tx *gorm.DB, jobType, userID string, payload []byte) error

// Dispatcher claims pending jobs, runs the matching reward policy and records
// the outcome. It may run as any number of concurrent replicas: the claim
// protocol and the ledger's uniqueness constraint are the only coordination.
type Dispatcher struct {
	db       *gorm.DB
	queue    *Queue
	policies Evaluator
	ledger   *ledger.Service

	batchSize   int
	maxAttempts int
	execTimeout time.Duration
	concurrency int

	hooks []CompletedFunc
}

type DispatcherParams struct {
	fx.In
	DB       *gorm.DB
	Cfg      *config.Config
	Queue    *Queue
	Policies Evaluator
	Ledger   *ledger.Service
}

func NewDispatcher(p DispatcherParams) *Dispatcher {
	return &Dispatcher{
		db:          p.DB,
		queue:       p.Queue,
		policies:    p.Policies,
		ledger:      p.Ledger,
		batchSize:   p.Cfg.Dispatcher.BatchSize,
		maxAttempts: p.Cfg.Dispatcher.MaxAttempts,
		execTimeout: p.Cfg.Dispatcher.ExecTimeout,
		concurrency: p.Cfg.Dispatcher.Concurrency,
	}
}

// OnCompleted registers a hook invoked inside the completing transaction of
// every successful job. Registration happens during fx wiring, before the
// dispatcher starts running.
func (d *Dispatcher) OnCompleted(fn CompletedFunc) {
	d.hooks = append(d.hooks, fn)
}

// RunOnce claims one batch and executes every claimed job, returning how many
// jobs were executed. Individual job failures are recorded on the job and
// never abort the pass.
func (d *Dispatcher) RunOnce(ctx context.Context) (int, error) {
	jobs, err := d.queue.ClaimBatch(ctx, d.batchSize)
	if err != nil {
		return 0, err
	}
	if len(jobs) == 0 {
		return 0, nil
	}

	var processed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)
	for _, j := range jobs {
		g.Go(func() error {
			d.execute(gctx, j)
			processed.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	zap.L().Info("dispatch pass finished", zap.Int("claimed", len(jobs)))
	return int(processed.Load()), nil
}

func (d *Dispatcher) execute(ctx context.Context, j *RewardJob) {
	ctx, cancel := context.WithTimeout(ctx, d.execTimeout)
	defer cancel()

	span := trace.SpanFromContext(ctx)
	zapLog := zap.L().With(
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("job_id", j.ID),
		zap.String("job_type", j.JobType),
		zap.String("user_id", j.UserID),
		zap.Int("attempt", j.Attempts),
	)

	instructions, err := d.policies.Evaluate(ctx, j.JobType, j.UserID, j.Payload)
	if err != nil {
		d.recordFailure(ctx, j, err, zapLog)
		return
	}

	err = d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, instr := range instructions {
			if _, err := d.ledger.IssueTx(ctx, tx, instr); err != nil {
				return err
			}
		}

		for _, hook := range d.hooks {
			if err := hook(ctx, tx, j.JobType, j.UserID, j.Payload); err != nil {
				return err
			}
		}

		return d.queue.MarkCompletedTx(ctx, tx, j)
	})
	if err != nil {
		d.recordFailure(ctx, j, err, zapLog)
		return
	}

	zapLog.Info("🎉 reward job completed", zap.Int("credits", len(instructions)))
}

func (d *Dispatcher) recordFailure(ctx context.Context, j *RewardJob, cause error, zapLog *zap.Logger) {
	// Status writes must survive the job's own deadline having expired.
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
	}

	if errutil.IsPermanent(cause) {
		zapLog.Error("reward job permanently rejected", zap.Error(cause))
		if err := d.queue.MarkFailed(ctx, j, cause); err != nil {
			zapLog.Error("failed to mark job failed", zap.Error(err))
		}
		return
	}

	zapLog.Warn("reward job failed, will retry", zap.Error(cause))
	if err := d.queue.MarkRetry(ctx, j, d.maxAttempts, cause); err != nil {
		zapLog.Error("failed to record job retry", zap.Error(err))
	}
	if j.Status == StatusFailed {
		zapLog.Error("reward job exhausted attempts", zap.Int("attempts", j.Attempts))
	}
}
