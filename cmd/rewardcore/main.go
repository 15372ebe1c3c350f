package main

import (
	"log"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"snapearn-rewardcore/internal/config"
	"snapearn-rewardcore/internal/httpapi"
	"snapearn-rewardcore/internal/logger"
	"snapearn-rewardcore/internal/server"
	"snapearn-rewardcore/pkg/db"
	"snapearn-rewardcore/pkg/ratelimit"
	"snapearn-rewardcore/pkg/redis"
	"snapearn-rewardcore/pkg/task"
	"snapearn-rewardcore/services/job"
	"snapearn-rewardcore/services/ledger"
	"snapearn-rewardcore/services/multiplier"
	"snapearn-rewardcore/services/policy"
	"snapearn-rewardcore/services/receipt"
	"snapearn-rewardcore/services/referral"
	"snapearn-rewardcore/services/signature"
)

func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		redis.Module,
		task.Client,
		task.Server,
		ratelimit.Module,
		fx.Provide(
			provideTracerProvider,
			provideSnowflakeNode,
			func(s *policy.Set) job.Evaluator { return s },
		),
		signature.Module,
		ledger.Module,
		multiplier.Module,
		policy.Module,
		job.Module,
		job.Worker,
		referral.Module,
		receipt.Module,
		httpapi.Module,
		server.Module,
		fx.Invoke(migrateSchema),
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})

func provideTracerProvider() trace.TracerProvider {
	return otel.GetTracerProvider()
}

func provideSnowflakeNode() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}

func migrateSchema(gdb *gorm.DB) error {
	return gdb.AutoMigrate(
		&job.RewardJob{},
		&ledger.LedgerEntry{},
		&ledger.Balance{},
		&multiplier.Multiplier{},
		&referral.ReferralRecord{},
		&receipt.Receipt{},
	)
}
