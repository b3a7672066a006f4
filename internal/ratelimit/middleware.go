package ratelimit

import (
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/melodyverse-auth/internal/logger"
)

// KeyFunc はリクエストから制限キーを取り出します。
type KeyFunc func(c *gin.Context) string

// ClientIPKey はクライアントIPをキーにします。
func ClientIPKey(c *gin.Context) string {
	return c.ClientIP()
}

// Middleware は試行回数制限を行う gin ミドルウェアを返します。
// 上限を超えた場合は 429 と Retry-After を返し、後続ハンドラーは実行しません。
func Middleware(limiter Limiter, key KeyFunc, log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		clientKey := key(c)
		decision, err := limiter.Allow(c.Request.Context(), clientKey)
		if err != nil {
			log.Error("Rate limiter: check failed", "key", clientKey, "error", err.Error())
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"success": false,
				"message": "Internal server error",
			})
			return
		}

		setHeaders(c, decision)

		if !decision.Allowed {
			retrySeconds := ceilSeconds(decision.RetryAfter.Seconds())
			log.Info("Rate limiter: attempt rejected",
				"key", clientKey,
				"count", decision.Count,
				"retry_after_seconds", retrySeconds)
			// Retry-After は秒数またはHTTP-Date形式が推奨されているため秒数で返す
			c.Header("Retry-After", strconv.FormatInt(retrySeconds, 10))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"success": false,
				"message": "Too many login attempts. Please try again after " + strconv.FormatInt(ceilMinutes(retrySeconds), 10) + " minutes.",
			})
			return
		}

		c.Next()
	}
}

func setHeaders(c *gin.Context, d Decision) {
	reset := ceilSeconds(d.ResetIn.Seconds())
	c.Header("RateLimit-Limit", strconv.Itoa(d.Limit))
	c.Header("RateLimit-Remaining", strconv.Itoa(d.Remaining))
	c.Header("RateLimit-Reset", strconv.FormatInt(reset, 10))
}

func ceilSeconds(s float64) int64 {
	if s <= 0 {
		return 0
	}
	return int64(math.Ceil(s))
}

func ceilMinutes(seconds int64) int64 {
	minutes := (seconds + 59) / 60
	if minutes < 1 {
		return 1
	}
	return minutes
}
