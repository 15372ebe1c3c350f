package httpapi

import (
	"errors"
	"net/http"

	"snapearn-rewardcore/pkg/errutil"
	"snapearn-rewardcore/pkg/ratelimit"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// SourceKeyHeader identifies the webhook source for rate-limiting purposes.
// Callers that omit it are keyed by client IP.
const SourceKeyHeader = "X-Source-Key"

// Error renders the last error pushed onto the gin context as the JSON shape
// and HTTP status of its BaseError code. Unclassified errors become a 500.
func Error() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		ginErr := c.Errors.Last()
		if ginErr == nil {
			return
		}

		var be errutil.BaseError
		if errors.As(ginErr.Err, &be) {
			c.JSON(be.Code.HTTPStatus(), be.JSON())
			return
		}

		zap.L().Error("unclassified handler error", zap.Error(ginErr.Err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": gin.H{"code": errutil.StatusInternal, "message": "internal error"},
		})
	}
}

// RateLimit rejects requests once the source key's token bucket is empty.
func RateLimit(buckets *ratelimit.Keyed) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(SourceKeyHeader)
		if key == "" {
			key = c.ClientIP()
		}

		if !buckets.Allow(key) {
			c.Error(errutil.TooManyRequest("rate limit exceeded", nil))
			c.Abort()
			return
		}

		c.Next()
	}
}
