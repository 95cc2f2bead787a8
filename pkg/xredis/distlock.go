package xredis

import (
	"context"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Lua 脚本：释放锁
// KEYS[1]: 锁的 key
// ARGV[1]: 锁的 value (token)，防止误删别人的锁
const unlockScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
    return redis.call("del", KEYS[1])
else
    return 0
end
`

type DistLock struct {
	client     *redis.Client
	key        string
	token      string        // 谁加锁谁解锁
	expiration time.Duration // 自动过期，持有者挂掉后锁会释放
}

func NewDistLock(client *redis.Client, key string, expiration time.Duration) *DistLock {
	return &DistLock{
		client:     client,
		key:        key,
		token:      uuid.New().String(),
		expiration: expiration,
	}
}

// TryLock 非阻塞，一次性
func (l *DistLock) TryLock(ctx context.Context) (bool, error) {
	return l.client.SetNX(ctx, l.key, l.token, l.expiration).Result()
}

// Lock 自旋重试，带随机抖动防止所有等待者同时唤醒
func (l *DistLock) Lock(ctx context.Context, retryTimes int, retryInterval time.Duration) (bool, error) {
	for i := 0; i < retryTimes; i++ {
		success, err := l.TryLock(ctx)
		if err != nil {
			return false, err
		}
		if success {
			return true, nil
		}

		sleepTime := retryInterval + time.Duration(rand.Intn(10))*time.Millisecond
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(sleepTime):
		}
	}
	return false, nil // 重试次数用尽
}

// Unlock 安全释放锁；返回 false 表示锁已过期或被别人持有
func (l *DistLock) Unlock(ctx context.Context) (bool, error) {
	res, err := l.client.Eval(ctx, unlockScript, []string{l.key}, l.token).Int64()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}
