package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"payrecon.com/pkg/common"
	"payrecon.com/pkg/logger"
	"payrecon.com/pkg/metrics"
	"payrecon.com/pkg/xerr"
)

// Recover handler panic 时记日志和指标，回统一的 500；panic 内容不回给调用方
func Recover() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			if r == http.ErrAbortHandler {
				panic(r)
			}
			route := routeOf(c)
			fields := []zap.Field{
				zap.String("request_id", common.RequestIDFromGin(c)),
				zap.String("method", c.Request.Method),
				zap.String("route", route),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			}
			for _, p := range c.Params {
				fields = append(fields, zap.String("param_"+p.Key, p.Value))
			}
			logger.Error(c.Request.Context(), "handler panic", fields...)
			metrics.HTTPPanics.WithLabelValues(route).Inc()

			if !c.Writer.Written() {
				common.Fail(c, http.StatusInternalServerError, xerr.ServerCommonError, xerr.MapErrMsg(xerr.ServerCommonError))
			}
			c.Abort()
		}()
		c.Next()
	}
}

func routeOf(c *gin.Context) string {
	if r := c.FullPath(); r != "" {
		return r
	}
	return c.Request.URL.Path
}
