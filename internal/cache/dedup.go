package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	redislib "github.com/redis/go-redis/v9"
)

const (
	processingTTL = 10 * time.Minute
	processedTTL  = 48 * time.Hour
)

// Deduper 消息幂等标记：处理中 -> 已完成，失败时撤销以允许重投
type Deduper interface {
	// TryMark 返回 false 表示消息已处理或正在被其他消费者处理
	TryMark(ctx context.Context, messageID string) (bool, error)
	MarkDone(ctx context.Context, messageID string) error
	Unmark(ctx context.Context, messageID string) error
}

type RedisDeduper struct {
	client redislib.Cmdable
	prefix string
}

func NewRedisDeduper(client redislib.Cmdable, prefix string) *RedisDeduper {
	if prefix == "" {
		prefix = "lv:msg"
	}
	return &RedisDeduper{client: client, prefix: prefix}
}

func (d *RedisDeduper) key(messageID string) string {
	return d.prefix + ":" + messageID
}

// TryMark SETNX：key 不存在则设置并返回 true
func (d *RedisDeduper) TryMark(ctx context.Context, messageID string) (bool, error) {
	ok, err := d.client.SetNX(ctx, d.key(messageID), "processing", processingTTL).Result()
	if err != nil {
		return false, fmt.Errorf("failed to mark message as processing: %w", err)
	}
	return ok, nil
}

// MarkDone 更新为 completed 并延长 TTL
func (d *RedisDeduper) MarkDone(ctx context.Context, messageID string) error {
	return d.client.Set(ctx, d.key(messageID), "completed", processedTTL).Err()
}

func (d *RedisDeduper) Unmark(ctx context.Context, messageID string) error {
	return d.client.Del(ctx, d.key(messageID)).Err()
}

// MemoryDeduper 单进程实现，未配置 Redis 时使用
type MemoryDeduper struct {
	mu   sync.Mutex
	seen map[string]bool // true 表示已完成
}

func NewMemoryDeduper() *MemoryDeduper {
	return &MemoryDeduper{seen: make(map[string]bool)}
}

func (d *MemoryDeduper) TryMark(_ context.Context, messageID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.seen[messageID]; ok {
		return false, nil
	}
	d.seen[messageID] = false
	return true, nil
}

func (d *MemoryDeduper) MarkDone(_ context.Context, messageID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen[messageID] = true
	return nil
}

func (d *MemoryDeduper) Unmark(_ context.Context, messageID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, messageID)
	return nil
}
