package storage

import (
	"context"
	"fmt"
	"sync"

	"LegacyVault/storage/database"
	"LegacyVault/storage/mq"
	"LegacyVault/storage/redis"
)

type component struct {
	name  string
	init  func() error
	close func(ctx context.Context) error
}

// components 按初始化顺序排列，关闭时逆序
var components = []component{
	{name: "database", init: database.Init, close: database.Close},
	{name: "redis", init: redis.Init, close: redis.Close},
	{name: "mq", init: mq.Init, close: mq.Close},
}

var (
	mu     sync.Mutex
	opened []component
)

// Init 统一初始化存储层；中途失败时关闭已打开的连接
func Init() error {
	mu.Lock()
	defer mu.Unlock()

	for _, c := range components {
		if err := c.init(); err != nil {
			ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
			defer cancel()
			_ = closeOpened(ctx)
			return fmt.Errorf("failed to initialize %s: %w", c.name, err)
		}
		opened = append(opened, c)
	}
	return nil
}
