package mq

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"LegacyVault/pkg/errors"
	"LegacyVault/pkg/logger"
	mqotel "LegacyVault/pkg/mq"
)

type MessageHandler func(ctx context.Context, body []byte) error

type ConsumeOptions struct {
	Queue         string
	ConsumerTag   string
	PrefetchCount int
	Handler       MessageHandler
	// RetryDelay 处理失败后重新入队前的等待
	RetryDelay time.Duration
}

// Consume 阻塞消费直到 ctx 取消或通道关闭。
// 处理失败重新入队，SkipMessageError 直接 ack。
func Consume(ctx context.Context, opts ConsumeOptions) error {
	c := Connection()
	if c == nil {
		return fmt.Errorf("RabbitMQ connection is nil")
	}

	ch, err := c.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}
	defer ch.Close()

	if opts.PrefetchCount > 0 {
		if err := ch.Qos(opts.PrefetchCount, 0, false); err != nil {
			return fmt.Errorf("failed to set QoS: %w", err)
		}
	}

	msgs, err := ch.Consume(opts.Queue, opts.ConsumerTag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	logger.Logger.Info("Started consuming messages",
		zap.String("queue", opts.Queue),
		zap.String("consumer_tag", opts.ConsumerTag),
		zap.Int("prefetch_count", opts.PrefetchCount),
	)

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}

			msgCtx, finish := mqotel.StartProcess(ctx, opts.Queue, msg)
			err := opts.Handler(msgCtx, msg.Body)
			var skip *errors.SkipMessageError
			switch {
			case err == nil:
				finish(mqotel.OutcomeAck, nil)
				_ = msg.Ack(false)
			case stderrors.As(err, &skip):
				finish(mqotel.OutcomeSkip, err)
				logger.Logger.Info("Skip message",
					zap.String("queue", opts.Queue),
					zap.String("message_id", msg.MessageId),
					zap.String("reason", skip.Reason),
				)
				_ = msg.Ack(false)
			default:
				finish(mqotel.OutcomeRequeue, err)
				logger.Logger.Error("Failed to process message",
					zap.String("queue", opts.Queue),
					zap.String("consumer_tag", opts.ConsumerTag),
					zap.Error(err),
				)
				if opts.RetryDelay > 0 {
					select {
					case <-ctx.Done():
					case <-time.After(opts.RetryDelay):
					}
				}
				_ = msg.Nack(false, true)
			}
		}
	}
}
