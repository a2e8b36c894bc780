package queue

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"LegacyVault/internal/model"
	"LegacyVault/internal/release"
	"LegacyVault/pkg/errors"
	"LegacyVault/storage/mq"
)

// PublishFunc 与 mq.PublishMessage 同签名，测试时替换
type PublishFunc func(ctx context.Context, exchange, routingKey, messageID string, body interface{}) error

// MQNotifier 把通知发布到 RabbitMQ，由 worker 异步投递
type MQNotifier struct {
	publish    PublishFunc
	exchange   string
	routingKey string
	logger     *zap.Logger
	nowFn      func() time.Time
}

var _ release.Notifier = (*MQNotifier)(nil)

func NewMQNotifier(exchange, routingKey string, logger *zap.Logger) *MQNotifier {
	return NewNotifierWithPublisher(mq.PublishMessage, exchange, routingKey, logger)
}

func NewNotifierWithPublisher(publish PublishFunc, exchange, routingKey string, logger *zap.Logger) *MQNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MQNotifier{
		publish:    publish,
		exchange:   exchange,
		routingKey: routingKey,
		logger:     logger,
		nowFn:      time.Now,
	}
}

// DeliverNotification 发布失败统一返回 TransientDeliveryFailure，由 Monitor 下个周期重试
func (n *MQNotifier) DeliverNotification(ctx context.Context, note release.Notification) error {
	if note.MessageID == "" {
		return fmt.Errorf("%w: notification message id is required", errors.InvalidRequest)
	}

	msg := model.NotificationMessage{
		MessageID:  note.MessageID,
		SwitchID:   note.SwitchID,
		OwnerID:    note.OwnerID,
		Level:      note.Level,
		Category:   note.Category,
		Template:   note.Template,
		Recipients: note.Recipients,
		Payload:    note.Payload,
		CreatedAt:  n.nowFn().UTC().Format(time.RFC3339),
	}

	if err := n.publish(ctx, n.exchange, n.routingKey, msg.MessageID, msg); err != nil {
		n.logger.Error("Failed to publish notification message",
			zap.String("message_id", msg.MessageID),
			zap.String("switch_id", msg.SwitchID),
			zap.Int("level", msg.Level),
			zap.Error(err),
		)
		return fmt.Errorf("%w: %v", errors.TransientDeliveryFailure, err)
	}

	n.logger.Info("Published notification message",
		zap.String("message_id", msg.MessageID),
		zap.String("switch_id", msg.SwitchID),
		zap.Int("level", msg.Level),
		zap.Int("recipient_count", len(msg.Recipients)),
	)
	return nil
}
