package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
	"payrecon.com/pkg/safe"
)

type bucket struct {
	lim     *rate.Limiter
	touched atomic.Int64 // unix nano
}

// Buckets 按 key 分桶的令牌桶。入口按 客户端IP+路由 限流，出站网关按操作名排队
type Buckets struct {
	mu      sync.Mutex
	byKey   map[string]*bucket
	limit   rate.Limit
	burst   int
	idleTTL time.Duration
}

func NewBuckets(limit rate.Limit, burst int, idleTTL time.Duration) *Buckets {
	if burst <= 0 {
		burst = 1
	}
	if idleTTL <= 0 {
		idleTTL = 10 * time.Minute
	}
	return &Buckets{
		byKey:   make(map[string]*bucket, 256),
		limit:   limit,
		burst:   burst,
		idleTTL: idleTTL,
	}
}

func (b *Buckets) limiter(key string) *rate.Limiter {
	now := time.Now().UnixNano()
	b.mu.Lock()
	defer b.mu.Unlock()
	bk, ok := b.byKey[key]
	if !ok {
		bk = &bucket{lim: rate.NewLimiter(b.limit, b.burst)}
		b.byKey[key] = bk
	}
	bk.touched.Store(now)
	return bk.lim
}

// Allow 不等待，没有令牌直接拒绝
func (b *Buckets) Allow(key string) bool {
	return b.limiter(key).Allow()
}

// Wait 排队等令牌，ctx 取消或等不到 deadline 时返回错误
func (b *Buckets) Wait(ctx context.Context, key string) error {
	return b.limiter(key).Wait(ctx)
}

// EvictIdle 后台定期回收 idleTTL 内没用过的桶，ctx 取消即停
func (b *Buckets) EvictIdle(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = time.Minute
	}
	safe.GoCtx(ctx, func(ctx context.Context) {
		t := time.NewTicker(every)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-t.C:
				b.evict(now)
			}
		}
	})
}

func (b *Buckets) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.byKey)
}

func (b *Buckets) evict(now time.Time) int {
	cut := now.Add(-b.idleTTL).UnixNano()
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for k, bk := range b.byKey {
		if bk.touched.Load() < cut {
			delete(b.byKey, k)
			n++
		}
	}
	return n
}
