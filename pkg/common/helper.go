package common

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"payrecon.com/pkg/logger"
	"payrecon.com/pkg/xerr"
)

// 定义http返回格式
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}

func Success(ctx *gin.Context, data interface{}) {
	ctx.JSON(http.StatusOK, Response{
		Code:    http.StatusOK,
		Message: http.StatusText(http.StatusOK),
		Data:    data,
	})
}

func Fail(c *gin.Context, httpStatus int, code int, message string) {
	c.JSON(httpStatus, Response{
		Code:    code,
		Message: message,
		Data:    nil,
	})
}

func FailLogged(c *gin.Context, httpStatus int, code int, msg string, err error) {
	logger.Warn(c.Request.Context(), "http error",
		zap.String("request_id", RequestIDFromGin(c)),
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.Int("biz_code", code),
		zap.String("message", msg),
		zap.Error(err),
	)
	Fail(c, httpStatus, code, msg)
}

// FailFromErr 业务错误按错误码映射 HTTP 状态；未知错误不透出内部信息
func FailFromErr(c *gin.Context, err error) {
	ce, ok := xerr.As(err)
	if !ok {
		FailLogged(c, http.StatusInternalServerError, xerr.ServerCommonError, "internal error", err)
		return
	}
	FailLogged(c, HTTPStatus(ce.Code), ce.Code, ce.Msg, err)
}

// HTTPStatus 业务码 -> HTTP 状态码
func HTTPStatus(code int) int {
	switch code {
	case xerr.RequestParamsError, xerr.InvalidAmount:
		return http.StatusBadRequest
	case xerr.RecordNotFound:
		return http.StatusNotFound
	case xerr.InvalidTransition, xerr.DuplicateIdentifier, xerr.AccountInUse, xerr.ConcurrencyConflict:
		return http.StatusConflict
	case xerr.GatewayUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// IsClientError 4xx 类错误，日志降级用
func IsClientError(err error) bool {
	var ce *xerr.CodeError
	if !errors.As(err, &ce) {
		return false
	}
	s := HTTPStatus(ce.Code)
	return s >= 400 && s < 500
}
