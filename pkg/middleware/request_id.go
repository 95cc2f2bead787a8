package middleware

import (
	"context"

	"github.com/gin-gonic/gin"
	"payrecon.com/pkg/common"
	"payrecon.com/pkg/logger"
)

// RequestID 依次取 X-Request-Id、X-Correlation-Id，都不可用时新生成；
// 回写响应头，并作为日志 trace_id 挂到 request ctx
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := common.CleanRequestID(c.GetHeader(common.HeaderRequestID))
		if rid == "" {
			rid = common.CleanRequestID(c.GetHeader(common.HeaderCorrelationID))
		}
		if rid == "" {
			rid = common.NewRequestID()
		}
		c.Set(common.CtxKeyRequestID, rid)
		c.Header(common.HeaderRequestID, rid)

		ctx := context.WithValue(c.Request.Context(), common.CtxKeyRequestID, rid)
		c.Request = c.Request.WithContext(logger.NewContext(ctx, rid))
		c.Next()
	}
}
