package httpapi

import (
	"snapearn-rewardcore/internal/config"
	"snapearn-rewardcore/pkg/ratelimit"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

var Module = fx.Module("httpapi",
	fx.Provide(
		NewHandler,
		NewRouter,
	),
)

// NewRouter builds the gin engine with all routes registered.
func NewRouter(cfg *config.Config, h *Handler, buckets *ratelimit.Keyed) *gin.Engine {
	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery(), Error())

	r.GET("/healthz", h.Healthz)

	webhooks := r.Group("/webhooks")
	webhooks.Use(RateLimit(buckets))
	webhooks.POST("/ocr", h.OCRWebhook)
	webhooks.POST("/signup", h.SignupWebhook)

	internal := r.Group("/internal")
	internal.POST("/jobs/run", h.RunJobs)
	internal.POST("/rewards/recover", h.RecoverReward)

	return r
}
