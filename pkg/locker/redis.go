package locker

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"payrecon.com/pkg/logger"
	"payrecon.com/pkg/xredis"
)

// Redis 多副本部署用的分布式锁
type Redis struct {
	rdb    *redis.Client
	prefix string
	opt    Options
}

func NewRedis(rdb *redis.Client, prefix string, opt Options) *Redis {
	return &Redis{rdb: rdb, prefix: prefix, opt: opt.withDefaults()}
}

func (r *Redis) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	l := xredis.NewDistLock(r.rdb, r.prefix+key, r.opt.TTL)
	ok, err := l.Lock(ctx, r.opt.RetryTimes, r.opt.RetryInterval)
	if err != nil {
		return err
	}
	if !ok {
		return conflict(key)
	}
	defer func() {
		// 业务 ctx 可能已取消，解锁用独立 ctx
		unlockCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		released, err := l.Unlock(unlockCtx)
		if err != nil || !released {
			logger.Warn(ctx, "release lock failed", zap.String("key", key), zap.Bool("released", released), zap.Error(err))
		}
	}()
	return fn(ctx)
}
