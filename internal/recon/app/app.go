package app

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"payrecon.com/internal/recon"
	"payrecon.com/internal/recon/domain"
	"payrecon.com/internal/recon/feed"
	"payrecon.com/internal/recon/gateway/paypal"
	rhttp "payrecon.com/internal/recon/http"
	"payrecon.com/internal/recon/repo/memory"
	rmysql "payrecon.com/internal/recon/repo/mysql"
	"payrecon.com/internal/recon/service"
	"payrecon.com/pkg/bootstrap"
	"payrecon.com/pkg/locker"
	"payrecon.com/pkg/logger"
	"payrecon.com/pkg/orm"
	"payrecon.com/pkg/ratelimit"
	"payrecon.com/pkg/trace"
	"payrecon.com/pkg/xredis"
)

const configName = "recon-service"

// Run 启动对账服务，阻塞到 ctx 取消
func Run(ctx context.Context) error {
	cfg := &recon.Cfg{}

	return bootstrap.Run(ctx, bootstrap.Options{
		ConfigName: configName,
		ConfigPtr:  cfg,
		OnConfigChange: func() {
			logger.Info(context.Background(), "config reloaded; matching/gateway changes apply after restart")
		},
		ServiceName: func() string {
			if cfg.Name == "" {
				return configName
			}
			return cfg.Name
		},
		LogLevel: func() string { return cfg.LogLevel },
		InitTracer: func(c context.Context) (func(context.Context) error, error) {
			if !cfg.OTel.Enabled {
				return nil, nil
			}
			return trace.InitTrace(c, cfg.Name, cfg.OTel)
		},
		InitSentinel: func() error { return bootstrap.InitSentinel(&cfg.Sentinel) },
		BuildDB: func(c context.Context) (*sql.DB, error) {
			if cfg.Storage.Driver != recon.DriverMySQL {
				return nil, nil
			}
			return orm.NewSQLDB(c, &cfg.Db)
		},
		BuildRedis: func(c context.Context) (*redis.Client, error) {
			if cfg.Redis.Addr == "" {
				return nil, nil
			}
			return xredis.NewRedis(c, &cfg.Redis)
		},
		BuildServices: func(c context.Context, deps bootstrap.Deps) (*bootstrap.Services, error) {
			return buildServices(c, cfg, deps)
		},
		MetricsAddr: func() string { return cfg.MetricsAddr },
		PprofAddr:   func() string { return cfg.PprofAddr },
	})
}

func buildServices(ctx context.Context, cfg *recon.Cfg, deps bootstrap.Deps) (*bootstrap.Services, error) {
	store, err := newStore(ctx, cfg, deps)
	if err != nil {
		return nil, err
	}
	lk, err := newLocker(cfg, deps)
	if err != nil {
		return nil, err
	}

	// 多副本时只有拿到 master 的实例跑 sweep
	var master service.MasterElector
	if deps.Redis != nil {
		master = xredis.NewRedisLockMaster(deps.Redis)
	}

	var gw domain.PaymentGateway
	if cfg.Gateway.Enabled {
		breakers := ratelimit.NewManager("paypal", cfg.Gateway.Breaker, nil)
		gw = paypal.New(cfg.Gateway.Config, breakers)
	}

	svc, err := service.New(store, lk, gw, master, service.Config{
		Matching: cfg.Matching,
		Gateway:  cfg.Gateway.GatewayConfig,
	})
	if err != nil {
		return nil, err
	}

	handler := rhttp.NewRouter(ctx, svc, rhttp.Options{
		ServiceName: cfg.Name,
		Rate:        cfg.HTTP.Rate,
		Burst:       cfg.HTTP.Burst,
		Sentinel:    cfg.Sentinel.Enabled,
		Metrics:     true,
	})

	workers := map[string]func(ctx context.Context) error{
		"sweeper": svc.Sweeper.Run,
	}
	var closers []func()

	if cfg.Feed.Redis.Enabled {
		if deps.Redis == nil {
			return nil, fmt.Errorf("feed.redis enabled but redis.addr is empty")
		}
		workers["feed-redis"] = feed.NewStreamConsumer(deps.Redis, cfg.Feed.Redis, svc.Ingest, consumerName(cfg.Name)).Run
	}
	if cfg.Feed.Nats.Enabled {
		nc, err := feed.DialNats(cfg.Feed.Nats)
		if err != nil {
			return nil, fmt.Errorf("dial nats: %w", err)
		}
		closers = append(closers, nc.Close)
		consumer := feed.NewNatsConsumer(nc, cfg.Feed.Nats, svc.Ingest)
		if path := cfg.Feed.Nats.Spool; path != "" {
			// 上次没落库的先补上；失败不阻塞启动，文件保留到下次
			if n, err := feed.DrainSpool(ctx, path, svc.Ingest); err != nil {
				logger.Error(ctx, "drain ledger spool failed", zap.String("path", path), zap.Int("replayed", n), zap.Error(err))
			}
			sp, err := feed.OpenSpool(path)
			if err != nil {
				return nil, fmt.Errorf("open ledger spool: %w", err)
			}
			closers = append(closers, func() { _ = sp.Close() })
			consumer.WithSpool(sp)
		}
		workers["feed-nats"] = consumer.Run
	}

	logger.Info(ctx, "recon services built",
		zap.String("storage", cfg.Storage.Driver),
		zap.String("lock", cfg.Lock.Backend),
		zap.Bool("gateway", gw != nil),
		zap.Int("workers", len(workers)))

	return &bootstrap.Services{
		Addr:         cfg.HTTP.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		Workers:      workers,
		Close: func() {
			for _, c := range closers {
				c()
			}
		},
	}, nil
}

func newStore(ctx context.Context, cfg *recon.Cfg, deps bootstrap.Deps) (domain.Store, error) {
	switch cfg.Storage.Driver {
	case recon.DriverMemory, "":
		logger.Warn(ctx, "using in-memory store, data is lost on restart")
		return memory.New(), nil
	case recon.DriverMySQL:
		gdb, err := orm.NewGorm(deps.DB, cfg.Db.LogSQL)
		if err != nil {
			return nil, fmt.Errorf("open gorm: %w", err)
		}
		repo := rmysql.New(gdb)
		if cfg.Storage.AutoMigrate {
			if err := repo.Migrate(ctx); err != nil {
				return nil, fmt.Errorf("migrate: %w", err)
			}
		}
		return repo, nil
	default:
		return nil, fmt.Errorf("unknown storage.driver %q", cfg.Storage.Driver)
	}
}

func newLocker(cfg *recon.Cfg, deps bootstrap.Deps) (locker.Locker, error) {
	switch cfg.Lock.Backend {
	case recon.LockLocal, "":
		return locker.NewLocal(cfg.Lock.Options), nil
	case recon.LockRedis:
		if deps.Redis == nil {
			return nil, fmt.Errorf("lock.backend redis needs redis.addr")
		}
		return locker.NewRedis(deps.Redis, "recon:lock:", cfg.Lock.Options), nil
	default:
		return nil, fmt.Errorf("unknown lock.backend %q", cfg.Lock.Backend)
	}
}

func consumerName(service string) string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "local"
	}
	return fmt.Sprintf("%s-%s-%d", service, host, os.Getpid())
}
