package safe

import (
	"context"
	"fmt"
	"runtime/debug"

	"go.uber.org/zap"
	"payrecon.com/pkg/logger"
)

// Go 安全启动协程，panic 只记录不扩散
func Go(fn func()) {
	GoCtx(context.Background(), func(context.Context) { fn() })
}

// GoCtx 携带 ctx 启动协程，日志里保留请求链路信息
func GoCtx(ctx context.Context, fn func(ctx context.Context)) {
	if ctx == nil {
		ctx = context.Background()
	}
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logPanic(ctx, r)
			}
		}()
		fn(ctx)
	}()
}

// Run 同步执行 fn，panic 转成 error 返回（给 errgroup 用，避免一个 feed 崩掉整个进程）
func Run(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logPanic(ctx, r)
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx)
}

func logPanic(ctx context.Context, r any) {
	logger.Error(ctx, "🚨 GOROUTINE PANIC RECOVERED",
		zap.Any("panic", r),
		zap.String("stack", string(debug.Stack())),
	)
}
