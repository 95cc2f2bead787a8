package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"payrecon.com/pkg/common"
	"payrecon.com/pkg/logger"
	"payrecon.com/pkg/metrics"
	"payrecon.com/pkg/ratelimit"
)

const codeTooManyRequests = 1003001

// RateLimit 每个客户端IP+路由一个令牌桶，拿不到令牌直接 429
func RateLimit(buckets *ratelimit.Buckets) gin.HandlerFunc {
	return func(c *gin.Context) {
		route := routeOf(c)
		if !buckets.Allow(c.ClientIP() + ":" + route) {
			// 可控拒绝，不打堆栈
			logger.Warn(c.Request.Context(), "http rate limited",
				zap.String("request_id", common.RequestIDFromGin(c)),
				zap.String("ip", c.ClientIP()),
				zap.String("route", route),
			)
			metrics.HTTPThrottled.WithLabelValues(route, "bucket").Inc()
			common.Fail(c, http.StatusTooManyRequests, codeTooManyRequests, "too many requests")
			c.Abort()
			return
		}
		c.Next()
	}
}
