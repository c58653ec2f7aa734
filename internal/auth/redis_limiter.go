package auth

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	failKeyPrefix = "login:fail:"
	lockKeyPrefix = "login:lock:"
)

// RedisLimiter は複数インスタンスで試行回数を共有する Limiter です。
type RedisLimiter struct {
	rdb    redis.Cmdable
	policy LimiterPolicy
}

// NewRedisLimiter は RedisLimiter を作成します。
func NewRedisLimiter(rdb redis.Cmdable, policy LimiterPolicy) *RedisLimiter {
	return &RedisLimiter{rdb: rdb, policy: policy}
}

func (l *RedisLimiter) Check(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := l.rdb.PTTL(ctx, lockKeyPrefix+key).Result()
	if err != nil {
		return 0, err
	}
	// キーが無い場合は負の値が返る
	if ttl <= 0 {
		return 0, nil
	}
	return ttl, nil
}

func (l *RedisLimiter) Fail(ctx context.Context, key string) (int, error) {
	failKey := failKeyPrefix + key
	count, err := l.rdb.Incr(ctx, failKey).Result()
	if err != nil {
		return 0, err
	}
	if count == 1 {
		if err := l.rdb.Expire(ctx, failKey, l.policy.Window).Err(); err != nil {
			return 0, err
		}
	}

	if count >= int64(l.policy.MaxAttempts) {
		_, err := l.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, lockKeyPrefix+key, 1, l.policy.LockDuration)
			pipe.Del(ctx, failKey)
			return nil
		})
		return 0, err
	}
	return l.policy.MaxAttempts - int(count), nil
}

func (l *RedisLimiter) Reset(ctx context.Context, key string) error {
	return l.rdb.Del(ctx, failKeyPrefix+key, lockKeyPrefix+key).Err()
}
