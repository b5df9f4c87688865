package limiter

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MorseWayne/library_api/internal/middleware"
	"github.com/MorseWayne/library_api/internal/resp"
)

// redisTimeout 单次限流检查的超时，超时按失败放行处理
const redisTimeout = 200 * time.Millisecond

// KeyFunc 由请求生成限流 key
type KeyFunc func(*gin.Context) string

// ClientIPKey 按客户端 IP 与路由限流
func ClientIPKey(c *gin.Context) string {
	return "ip:" + c.ClientIP() + ":" + c.FullPath()
}

// Middleware 限流中间件。Redis 不可用时放行并记录告警，不影响登录注册。
func Middleware(l Limiter, keyFn KeyFunc, logger *zap.Logger) gin.HandlerFunc {
	if keyFn == nil {
		keyFn = ClientIPKey
	}
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), redisTimeout)
		defer cancel()

		key := keyFn(c)
		result, err := l.Allow(ctx, key)
		if err != nil {
			logger.Warn("rate limiter unavailable, allowing request",
				zap.String("request_id", middleware.RequestIDFromContext(c.Request.Context())),
				zap.String("key", key),
				zap.Error(err),
			)
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.FormatInt(result.Limit, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(result.Remaining, 10))

		if !result.Allowed {
			if result.RetryAfter > 0 {
				c.Header("Retry-After", strconv.FormatInt(int64(result.RetryAfter/time.Second), 10))
			}
			logger.Info("rate limit reached", zap.String("key", key))
			resp.Error(c.Writer, http.StatusTooManyRequests, resp.CodeRateLimited,
				"too many requests, please try again later",
				middleware.RequestIDFromContext(c.Request.Context()))
			c.Abort()
			return
		}
		c.Next()
	}
}
