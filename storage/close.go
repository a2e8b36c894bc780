package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"LegacyVault/pkg/logger"
)

const closeTimeout = 15 * time.Second

// Close 按初始化的逆序关闭：先停 MQ 收发，再断 Redis，最后关数据库。
// 单个连接关闭失败不影响其余连接，错误合并返回。
func Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()

	mu.Lock()
	defer mu.Unlock()
	return closeOpened(ctx)
}

// closeOpened 调用方持有 mu
func closeOpened(ctx context.Context) error {
	if len(opened) == 0 {
		return nil
	}
	logger.Logger.Info("Closing storage connections", zap.Int("count", len(opened)))

	var errs []error
	for i := len(opened) - 1; i >= 0; i-- {
		c := opened[i]
		if err := c.close(ctx); err != nil {
			logger.Logger.Error("Failed to close storage connection",
				zap.String("store", c.name),
				zap.Error(err),
			)
			errs = append(errs, fmt.Errorf("close %s: %w", c.name, err))
			continue
		}
		logger.Logger.Info("Storage connection closed", zap.String("store", c.name))
	}
	opened = nil

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	logger.Logger.Info("All storage connections closed")
	return nil
}
