package xredis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// 续期脚本：只有持有者才能续期，避免 GET + EXPIRE 之间锁被别人抢走
const renewScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
    return redis.call("pexpire", KEYS[1], ARGV[2])
else
    return 0
end
`

// RedisLockMaster 多副本部署时选出一个节点跑周期任务（sweeper）
type RedisLockMaster struct {
	rdb *redis.Client
	id  string // 当前节点唯一 ID
}

func NewRedisLockMaster(rdb *redis.Client) *RedisLockMaster {
	return &RedisLockMaster{
		rdb: rdb,
		id:  fmt.Sprintf("%s-%d", uuid.NewString(), time.Now().UnixNano()),
	}
}

// ID 当前节点标识
func (r *RedisLockMaster) ID() string { return r.id }

// TryAcquireMaster 抢到或者本来就是 master 返回 true，并刷新过期时间
func (r *RedisLockMaster) TryAcquireMaster(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := r.rdb.SetNX(ctx, key, r.id, ttl).Result()
	if err != nil {
		return false, err
	}
	if ok {
		return true, nil
	}
	res, err := r.rdb.Eval(ctx, renewScript, []string{key}, r.id, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

// Resign 主动让出 master（进程退出时）
func (r *RedisLockMaster) Resign(ctx context.Context, key string) error {
	return r.rdb.Eval(ctx, unlockScript, []string{key}, r.id).Err()
}
