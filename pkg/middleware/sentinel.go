package middleware

import (
	"net/http"

	sentinels "github.com/alibaba/sentinel-golang/api"
	"github.com/alibaba/sentinel-golang/core/base"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"payrecon.com/pkg/common"
	"payrecon.com/pkg/logger"
	"payrecon.com/pkg/metrics"
)

// Sentinel 按路由做流控/熔断，资源名形如 "POST:/api/deposits"。
// 未加载规则的资源直接放行。
func Sentinel() gin.HandlerFunc {
	return func(c *gin.Context) {
		route := routeOf(c)
		resource := c.Request.Method + ":" + route

		entry, blockErr := sentinels.Entry(resource, sentinels.WithTrafficType(base.Inbound))
		if blockErr != nil {
			logger.Warn(c.Request.Context(), "request blocked by sentinel",
				zap.String("resource", resource),
				zap.String("blockType", blockErr.BlockType().String()),
			)
			metrics.HTTPThrottled.WithLabelValues(route, "sentinel").Inc()
			common.Fail(c, http.StatusTooManyRequests, codeTooManyRequests, "service is busy, please try again later")
			c.Abort()
			return
		}
		defer entry.Exit()

		c.Next()

		// 只有 5xx 计入熔断统计，业务错误不算
		if c.Writer.Status() >= http.StatusInternalServerError {
			sentinels.TraceError(entry, errServerSide)
		}
	}
}

type serverSideError struct{}

func (serverSideError) Error() string { return "server side error" }

var errServerSide error = serverSideError{}
