package xerr

import (
	"errors"
	"fmt"
)

// 常用错误码定义
const (
	OK                 = 200
	ServerCommonError  = 500
	RequestParamsError = 400
	DbError            = 501
	RecordNotFound     = 404
)

// 对账业务错误码
const (
	InvalidTransition   = 2001001 // 状态机前置条件不满足，不重试
	InvalidAmount       = 2001002
	DuplicateIdentifier = 2001003
	AccountInUse        = 2001004
	GatewayUnavailable  = 2001005 // 可由调用方退避重试
	ConcurrencyConflict = 2001006 // 锁竞争，内部有限重试后抛出
)

// 哨兵错误，配合 errors.Is 使用（按 Code 比较）
var (
	ErrInvalidTransition   = NewErrCode(InvalidTransition)
	ErrInvalidAmount       = NewErrCode(InvalidAmount)
	ErrDuplicateIdentifier = NewErrCode(DuplicateIdentifier)
	ErrAccountInUse        = NewErrCode(AccountInUse)
	ErrGatewayUnavailable  = NewErrCode(GatewayUnavailable)
	ErrConcurrencyConflict = NewErrCode(ConcurrencyConflict)
	ErrNotFound            = NewErrCode(RecordNotFound)
	ErrParams              = NewErrCode(RequestParamsError)
)

type CodeError struct {
	Code  int    `json:"code"`
	Msg   string `json:"msg"`
	cause error
}

func (e *CodeError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("ErrCode:%d, Msg:%s, Cause:%v", e.Code, e.Msg, e.cause)
	}
	return fmt.Sprintf("ErrCode:%d, Msg:%s", e.Code, e.Msg)
}

func (e *CodeError) Unwrap() error { return e.cause }

// Is 只比较错误码，这样 Wrap 出来的错误也能匹配哨兵错误
func (e *CodeError) Is(target error) bool {
	t, ok := target.(*CodeError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

func New(code int, msg string) error {
	return &CodeError{Code: code, Msg: msg}
}

// Newf 带格式化信息
func Newf(code int, format string, args ...any) error {
	return &CodeError{Code: code, Msg: fmt.Sprintf(format, args...)}
}

func NewErrCode(code int) error {
	return &CodeError{Code: code, Msg: MapErrMsg(code)}
}

// Wrap 给底层错误打上业务码，保留 cause
func Wrap(err error, code int, msg string) error {
	if err == nil {
		return nil
	}
	return &CodeError{Code: code, Msg: msg, cause: err}
}

// As 取出链路上的 CodeError
func As(err error) (*CodeError, bool) {
	var ce *CodeError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// CodeOf 返回错误码，非 CodeError 一律按服务器错误
func CodeOf(err error) int {
	if err == nil {
		return OK
	}
	if ce, ok := As(err); ok {
		return ce.Code
	}
	return ServerCommonError
}

func MapErrMsg(code int) string {
	switch code {
	case ServerCommonError:
		return "服务器开小差了"
	case RequestParamsError:
		return "参数错误"
	case DbError:
		return "数据库繁忙"
	case RecordNotFound:
		return "记录不存在"
	case InvalidTransition:
		return "invalid state transition"
	case InvalidAmount:
		return "invalid amount"
	case DuplicateIdentifier:
		return "duplicate identifier"
	case AccountInUse:
		return "account in use"
	case GatewayUnavailable:
		return "payment gateway unavailable"
	case ConcurrencyConflict:
		return "concurrent modification, retry later"
	default:
		return "未知错误"
	}
}
