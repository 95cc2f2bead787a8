package locker

import (
	"context"
	"time"

	"payrecon.com/pkg/metrics"
	"payrecon.com/pkg/xerr"
)

// Locker 按 key 互斥执行 fn。拿不到锁时有限重试，用尽返回 xerr.ErrConcurrencyConflict
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

type Options struct {
	TTL           time.Duration `yaml:"ttl" mapstructure:"ttl"` // 仅 redis 锁使用
	RetryTimes    int           `yaml:"retry_times" mapstructure:"retry_times"`
	RetryInterval time.Duration `yaml:"retry_interval" mapstructure:"retry_interval"`
}

func (o Options) withDefaults() Options {
	if o.TTL <= 0 {
		o.TTL = 10 * time.Second
	}
	if o.RetryTimes <= 0 {
		o.RetryTimes = 50
	}
	if o.RetryInterval <= 0 {
		o.RetryInterval = 20 * time.Millisecond
	}
	return o
}

func conflict(key string) error {
	metrics.LockConflicts.WithLabelValues(scopeOf(key)).Inc()
	return xerr.Wrap(xerr.ErrConcurrencyConflict, xerr.ConcurrencyConflict, "lock busy: "+key)
}

// scopeOf "deposit:12" -> "deposit"，避免指标 label 爆炸
func scopeOf(key string) string {
	for i := 0; i < len(key); i++ {
		if key[i] == ':' {
			return key[:i]
		}
	}
	return key
}
