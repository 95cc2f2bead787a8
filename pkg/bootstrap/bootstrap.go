package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/http/pprof"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"payrecon.com/pkg/config"
	"payrecon.com/pkg/logger"
	"payrecon.com/pkg/metrics"
	"payrecon.com/pkg/safe"
)

// Deps bootstrap 准备好的公共依赖，未配置的为 nil
type Deps struct {
	DB    *sql.DB
	Redis *redis.Client
}

// Services BuildServices 的产物：一个 HTTP 入口 + 若干后台 worker（feed 消费、sweeper）
type Services struct {
	Addr         string
	Handler      http.Handler
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Workers 阻塞运行直到 ctx 取消；返回非 nil 错误会触发整个进程退出
	Workers map[string]func(ctx context.Context) error

	// Close 在 HTTP 和 worker 都停下后调用
	Close func()
}

// Options controls the bootstrap process; provide hooks for service-specific bits.
type Options struct {
	// Required: config name and target struct
	ConfigName string
	ConfigPtr  interface{}
	// Optional: called after a successful hot reload
	OnConfigChange func()

	// Required
	ServiceName func() string
	// Optional, default "info"
	LogLevel func() string

	// Optional: init tracer, return shutdown func
	InitTracer func(ctx context.Context) (func(context.Context) error, error)
	// Optional: init sentinel governance
	InitSentinel func() error

	// Optional builders; nil means skip
	BuildDB    func(ctx context.Context) (*sql.DB, error)
	BuildRedis func(ctx context.Context) (*redis.Client, error)

	// Required
	BuildServices func(ctx context.Context, deps Deps) (*Services, error)

	// Listen addresses, empty means disabled
	MetricsAddr func() string
	PprofAddr   func() string
}

// Run boots an HTTP service with common wiring and blocks until ctx is cancelled
// or one of the servers/workers fails.
func Run(ctx context.Context, opt Options) error {
	if opt.ConfigName == "" || opt.ConfigPtr == nil || opt.ServiceName == nil || opt.BuildServices == nil {
		return fmt.Errorf("bootstrap: missing required options")
	}

	var onChange []func()
	if opt.OnConfigChange != nil {
		onChange = append(onChange, opt.OnConfigChange)
	}
	if _, err := config.LoadAndWatch(opt.ConfigName, opt.ConfigPtr, onChange...); err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	svcName := opt.ServiceName()
	level := "info"
	if opt.LogLevel != nil && opt.LogLevel() != "" {
		level = opt.LogLevel()
	}
	logger.Init(svcName, level)
	defer logger.Sync()
	logger.Info(ctx, "service starting")

	metrics.MustRegister()

	if opt.InitSentinel != nil {
		if err := opt.InitSentinel(); err != nil {
			return fmt.Errorf("init sentinel: %w", err)
		}
	}

	var deps Deps
	var err error
	if opt.BuildDB != nil {
		deps.DB, err = opt.BuildDB(ctx)
		if err != nil {
			return fmt.Errorf("init db: %w", err)
		}
		if deps.DB != nil {
			defer func() { _ = deps.DB.Close() }()
			metrics.ObserveDB(ctx, deps.DB)
		}
	}
	if opt.BuildRedis != nil {
		deps.Redis, err = opt.BuildRedis(ctx)
		if err != nil {
			return fmt.Errorf("init redis: %w", err)
		}
		if deps.Redis != nil {
			defer func() { _ = deps.Redis.Close() }()
			metrics.ObserveRedis(ctx, deps.Redis)
		}
	}

	if opt.InitTracer != nil {
		shutdownTracer, err := opt.InitTracer(ctx)
		if err != nil {
			return fmt.Errorf("init tracer: %w", err)
		}
		if shutdownTracer != nil {
			defer func() {
				// 最多给 5 秒 flush
				c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdownTracer(c); err != nil {
					logger.Error(ctx, "shutdown tracer error", zap.Error(err))
				}
			}()
		}
	}

	svcs, err := opt.BuildServices(ctx, deps)
	if err != nil {
		return fmt.Errorf("build services: %w", err)
	}
	if svcs.Close != nil {
		defer svcs.Close()
	}

	if opt.PprofAddr != nil && opt.PprofAddr() != "" {
		startAux(ctx, "pprof", opt.PprofAddr(), pprofMux())
	}
	if opt.MetricsAddr != nil && opt.MetricsAddr() != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		startAux(ctx, "metrics", opt.MetricsAddr(), mux)
	}

	g, gctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Addr:           svcs.Addr,
		Handler:        svcs.Handler,
		ReadTimeout:    orDefault(svcs.ReadTimeout, 10*time.Second),
		WriteTimeout:   orDefault(svcs.WriteTimeout, 30*time.Second),
		MaxHeaderBytes: 1 << 20,
	}
	g.Go(func() error {
		logger.Info(gctx, "http listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		// 先停接入，再等 in-flight 请求完成
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	for name, w := range svcs.Workers {
		name, w := name, w
		g.Go(func() error {
			logger.Info(gctx, "worker started", zap.String("worker", name))
			err := safe.Run(gctx, w)
			logger.Info(gctx, "worker stopped", zap.String("worker", name), zap.Error(err))
			if err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("worker %s: %w", name, err)
			}
			return nil
		})
	}

	err = g.Wait()
	if err != nil {
		logger.Error(ctx, "service stopped with error", zap.Error(err))
		return err
	}
	logger.Info(ctx, "service stopped")
	return nil
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

func pprofMux() *http.ServeMux {
	runtime.SetMutexProfileFraction(10)
	runtime.SetBlockProfileRate(10000)

	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	return mux
}

// startAux 旁路 server（metrics/pprof），ctx 取消时关闭
func startAux(ctx context.Context, name, addr string, h http.Handler) {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 3 * time.Second,
	}
	go func() {
		log.Printf("%s listening on %s", name, addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("%s server error: %v", name, err)
		}
	}()
	go func() {
		<-ctx.Done()
		c, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(c)
	}()
}
