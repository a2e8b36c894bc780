package mq

import (
	"context"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"LegacyVault/config"
	"LegacyVault/pkg/logger"
)

var (
	conn     *amqp.Connection
	connMu   sync.RWMutex
	initOnce sync.Once
	initErr  error
)

func Init() error {
	initOnce.Do(func() {
		c, err := amqp.Dial(config.Cfg.GetRabbitMQURL())
		if err != nil {
			initErr = fmt.Errorf("failed to dial rabbitmq: %w", err)
			return
		}

		connMu.Lock()
		conn = c
		connMu.Unlock()

		if err := declareTopology(c); err != nil {
			initErr = err
			return
		}

		logger.Logger.Info("RabbitMQ initialized",
			zap.String("exchange", config.Cfg.NotifyExchange),
			zap.String("queue", config.Cfg.NotifyQueue),
		)
	})
	return initErr
}

// declareTopology 声明通知投递用的 exchange 和队列
func declareTopology(c *amqp.Connection) error {
	ch, err := c.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}
	defer ch.Close()

	cfg := config.Cfg
	if err := ch.ExchangeDeclare(cfg.NotifyExchange, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange %s: %w", cfg.NotifyExchange, err)
	}
	if _, err := ch.QueueDeclare(cfg.NotifyQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", cfg.NotifyQueue, err)
	}
	if err := ch.QueueBind(cfg.NotifyQueue, cfg.NotifyQueue, cfg.NotifyExchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue %s: %w", cfg.NotifyQueue, err)
	}
	return nil
}

func Connection() *amqp.Connection {
	connMu.RLock()
	defer connMu.RUnlock()
	return conn
}

func Close(ctx context.Context) error {
	connMu.Lock()
	defer connMu.Unlock()

	if conn == nil {
		return nil
	}

	done := make(chan error, 1)
	go func() {
		done <- conn.Close()
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		conn = nil
		return err
	}
}
