package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	redislib "github.com/redis/go-redis/v9"
)

// RedisLimiter 多实例共享的固定窗口，每个窗口一个 key，过期即清理
type RedisLimiter struct {
	client redislib.Cmdable
	prefix string
	limit  int
	window time.Duration
	nowFn  func() time.Time
}

func NewRedisLimiter(client redislib.Cmdable, prefix string, limit int, w time.Duration) *RedisLimiter {
	return &RedisLimiter{
		client: client,
		prefix: prefix,
		limit:  limit,
		window: w,
		nowFn:  time.Now,
	}
}

func (l *RedisLimiter) bucketKey(key string, now time.Time) (string, time.Time) {
	secs := int64(l.window / time.Second)
	if secs <= 0 {
		secs = 1
	}
	bucket := now.Unix() / secs
	reset := time.Unix((bucket+1)*secs, 0)
	return l.prefix + ":" + key + ":" + strconv.FormatInt(bucket, 10), reset
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	fullKey, resetAt := l.bucketKey(key, l.nowFn())

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, fullKey)
	pipe.Expire(ctx, fullKey, l.window+10*time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{}, fmt.Errorf("failed to execute rate limit pipeline: %w", err)
	}

	count := int(incr.Val())
	return Decision{
		Allowed: count <= l.limit,
		Count:   count,
		Limit:   l.limit,
		ResetAt: resetAt,
	}, nil
}
