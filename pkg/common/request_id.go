package common

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	HeaderRequestID = "X-Request-Id"
	// 银行回调和网关通知带的关联 id
	HeaderCorrelationID = "X-Correlation-Id"
	CtxKeyRequestID     = "request_id"

	maxRequestIDLen = 64
)

// NewRequestID uuid v7，按生成时间有序
func NewRequestID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// CleanRequestID 上游传来的 id 过长或含空白、控制字符时丢弃，返回 ""
func CleanRequestID(id string) string {
	if id == "" || len(id) > maxRequestIDLen {
		return ""
	}
	for i := 0; i < len(id); i++ {
		if id[i] <= ' ' || id[i] == 0x7f {
			return ""
		}
	}
	return id
}

// RequestIDFromGin 取中间件写入的请求 id
func RequestIDFromGin(c *gin.Context) string {
	if v, ok := c.Get(CtxKeyRequestID); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
