package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBuckets_PerClientBurst(t *testing.T) {
	b := NewBuckets(1, 3, time.Minute)
	allowed := 0
	for i := 0; i < 5; i++ {
		if b.Allow("10.0.0.1:/api/deposits") {
			allowed++
		}
	}
	assert.Equal(t, 3, allowed)
	assert.True(t, b.Allow("10.0.0.2:/api/deposits"), "不同客户端各自一个桶")
	assert.Equal(t, 2, b.Len())
}

func TestBuckets_EvictIdle(t *testing.T) {
	b := NewBuckets(10, 10, time.Minute)
	b.Allow("stale")
	b.Allow("fresh")
	b.byKey["stale"].touched.Store(time.Now().Add(-2 * time.Minute).UnixNano())

	assert.Equal(t, 1, b.evict(time.Now()))
	assert.Equal(t, 1, b.Len())
	assert.Zero(t, b.evict(time.Now()))
}

func TestBuckets_WaitHonoursDeadline(t *testing.T) {
	b := NewBuckets(0.001, 1, time.Minute)
	assert.NoError(t, b.Wait(context.Background(), "paypal"))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.Error(t, b.Wait(ctx, "paypal"))
}
