package metrics

import (
	"context"
	"database/sql"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
)

var (
	DbPoolOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "app_db_pool_open",
		Help: "Current open DB connections",
	})
	DbPoolIdle         = promauto.NewGauge(prometheus.GaugeOpts{Name: "app_db_pool_idle"})
	DbPoolInuse        = promauto.NewGauge(prometheus.GaugeOpts{Name: "app_db_pool_inuse"})
	DbPoolWaitCount    = promauto.NewCounter(prometheus.CounterOpts{Name: "app_db_pool_wait_count"})
	DbPoolWaitDuration = promauto.NewCounter(prometheus.CounterOpts{Name: "app_db_pool_wait_seconds"})

	RedisPoolOpen      = promauto.NewGauge(prometheus.GaugeOpts{Name: "app_redis_pool_open"})
	RedisPoolIdle      = promauto.NewGauge(prometheus.GaugeOpts{Name: "app_redis_pool_idle"})
	RedisPoolStale     = promauto.NewGauge(prometheus.GaugeOpts{Name: "app_redis_pool_stale"})
	RedisPoolWaitCount = promauto.NewCounter(prometheus.CounterOpts{Name: "app_redis_pool_wait_count"})
	RedisPoolTimeouts  = promauto.NewCounter(prometheus.CounterOpts{Name: "app_redis_pool_timeouts"})
)

// ObserveDB 每 5 秒采集一次 DB 连接池，ctx 取消后退出
func ObserveDB(ctx context.Context, db *sql.DB) {
	go func() {
		t := time.NewTicker(5 * time.Second)
		defer t.Stop()
		var lastWaitCount int64
		var lastWaitDuration time.Duration
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
			}
			st := db.Stats()
			DbPoolOpen.Set(float64(st.OpenConnections))
			DbPoolIdle.Set(float64(st.Idle))
			DbPoolInuse.Set(float64(st.InUse))

			// Stats 里是累计值，只加增量
			if d := st.WaitCount - lastWaitCount; d > 0 {
				DbPoolWaitCount.Add(float64(d))
				lastWaitCount = st.WaitCount
			}
			if d := st.WaitDuration - lastWaitDuration; d > 0 {
				DbPoolWaitDuration.Add(d.Seconds())
				lastWaitDuration = st.WaitDuration
			}
		}
	}()
}

// ObserveRedis 采集 Redis 连接池
func ObserveRedis(ctx context.Context, rdb *redis.Client) {
	go func() {
		t := time.NewTicker(5 * time.Second)
		defer t.Stop()
		var lastMisses, lastTimeouts uint32
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
			}
			st := rdb.PoolStats()
			RedisPoolOpen.Set(float64(st.TotalConns))
			RedisPoolIdle.Set(float64(st.IdleConns))
			RedisPoolStale.Set(float64(st.StaleConns))
			// 连接池未命中需要新建连接，近似等待次数
			if st.Misses > lastMisses {
				RedisPoolWaitCount.Add(float64(st.Misses - lastMisses))
				lastMisses = st.Misses
			}
			if st.Timeouts > lastTimeouts {
				RedisPoolTimeouts.Add(float64(st.Timeouts - lastTimeouts))
				lastTimeouts = st.Timeouts
			}
		}
	}()
}
