package cache

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	redislib "github.com/redis/go-redis/v9"

	"LegacyVault/storage/redis"
)

// 多个 scheduler 副本巡检同一个开关时，通过 SetNX 分布式锁保证单写
const (
	lockPrefix = "lock"
)

// Locker 跨进程互斥，TryLock 拿不到锁时返回 false 和空 release
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}

// 只删除自己持有的锁
var unlockScript = redislib.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker 基于 SET NX PX
type RedisLocker struct {
	client redislib.Cmdable
}

func NewRedisLocker(client redislib.Cmdable) *RedisLocker {
	return &RedisLocker{client: client}
}

func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	fullKey := redis.Key(lockPrefix, key)
	owner := uuid.NewString()

	ok, err := l.client.SetNX(ctx, fullKey, owner, ttl).Result()
	if err != nil || !ok {
		return func() {}, false, err
	}

	return func() {
		// 上游 ctx 可能已取消，解锁用独立超时
		unlockCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = unlockScript.Run(unlockCtx, l.client, []string{fullKey}, owner).Err()
	}, true, nil
}

// KeyedMutex 进程内按 key 互斥，条目在无人持有时回收
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyedEntry)}
}

// Lock 阻塞直到拿到 key 对应的锁，返回解锁函数
func (k *KeyedMutex) Lock(key string) func() {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &keyedEntry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()

	return func() {
		e.mu.Unlock()

		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

func (k *KeyedMutex) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
