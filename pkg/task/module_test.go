package task

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"

	"snapearn-rewardcore/internal/config"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func TestRegisterClientWithoutRedis(t *testing.T) {
	cfg := &config.Config{}
	cfg.Redis.Addr = "127.0.0.1:1" // nothing listens here

	lc := fxtest.NewLifecycle(t)

	// An unreachable broker only costs the dispatch nudges; the client must
	// still be provided so the service comes up.
	client := registerClient(lc, cfg)
	require.NotNil(t, client)

	lc.RequireStart()
	lc.RequireStop()
}
