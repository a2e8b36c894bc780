package queue

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"LegacyVault/internal/cache"
	"LegacyVault/internal/model"
	"LegacyVault/pkg/errors"
	"LegacyVault/pkg/logger"
	"LegacyVault/pkg/metrics"
	"LegacyVault/pkg/sms"
	"LegacyVault/pkg/webhook"
	"LegacyVault/storage/mq"
)

// WebhookSender pkg/webhook.Client 满足此接口
type WebhookSender interface {
	Send(ctx context.Context, url, deliveryID string, payload interface{}) error
}

type DispatcherConfig struct {
	SignName        string
	TemplateCode    string  // 通知模板名不是服务商模板码时使用
	RatePerSecond   float64 // 对外投递节流，<=0 不限制
	BreakerFailures int
	BreakerReset    time.Duration
}

// Dispatcher worker 侧的通知投递：幂等标记、节流、按渠道熔断
type Dispatcher struct {
	sms      sms.Client
	webhooks WebhookSender
	dedup    cache.Deduper
	limiter  *rate.Limiter
	breakers map[model.NotifyChannel]*cache.CircuitBreaker
	cfg      DispatcherConfig
	logger   *zap.Logger
}

func NewDispatcher(smsClient sms.Client, webhooks WebhookSender, dedup cache.Deduper, cfg DispatcherConfig, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BreakerFailures <= 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerReset <= 0 {
		cfg.BreakerReset = 30 * time.Second
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RatePerSecond > 0 {
		burst := int(cfg.RatePerSecond)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}

	return &Dispatcher{
		sms:      smsClient,
		webhooks: webhooks,
		dedup:    dedup,
		limiter:  limiter,
		breakers: map[model.NotifyChannel]*cache.CircuitBreaker{
			model.NotifyChannelSMS:     cache.NewCircuitBreaker("notify_sms", cfg.BreakerFailures, cfg.BreakerReset, logger),
			model.NotifyChannelWebhook: cache.NewCircuitBreaker("notify_webhook", cfg.BreakerFailures, cfg.BreakerReset, logger),
		},
		cfg:    cfg,
		logger: logger,
	}
}

// Handle 处理一条通知消息。
// 每个收件人独立去重，部分失败时只重投未成功的收件人。
func (d *Dispatcher) Handle(ctx context.Context, body []byte) error {
	var msg model.NotificationMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		// 无法解析的消息重投也不会成功
		d.logger.Error("Failed to unmarshal notification message", zap.Error(err))
		return &errors.SkipMessageError{Reason: fmt.Sprintf("malformed notification message: %v", err)}
	}

	processed, err := d.dedup.TryMark(ctx, msg.MessageID)
	if err != nil {
		// 标记失败时继续处理，收件人级去重兜底
		d.logger.Warn("Failed to check message processed status",
			zap.String("message_id", msg.MessageID),
			zap.Error(err),
		)
	} else if !processed {
		d.logger.Info("Message already processed or being processed, skipping",
			zap.String("message_id", msg.MessageID),
		)
		return &errors.SkipMessageError{Reason: fmt.Sprintf("message %s already processed", msg.MessageID)}
	}

	d.logger.Info("Processing notification",
		zap.String("message_id", msg.MessageID),
		zap.String("switch_id", msg.SwitchID),
		zap.Int("level", msg.Level),
		zap.Int("recipient_count", len(msg.Recipients)),
	)

	var failed []string
	for _, r := range msg.Recipients {
		if err := d.deliverOnce(ctx, msg, r); err != nil {
			failed = append(failed, r.ID)
		}
	}

	if len(failed) > 0 {
		_ = d.dedup.Unmark(ctx, msg.MessageID)
		return fmt.Errorf("%w: %d recipient(s) failed: %s",
			errors.TransientDeliveryFailure, len(failed), strings.Join(failed, ","))
	}

	if err := d.dedup.MarkDone(ctx, msg.MessageID); err != nil {
		d.logger.Warn("Failed to mark message as processed",
			zap.String("message_id", msg.MessageID),
			zap.Error(err),
		)
	}
	return nil
}

func deliveryID(msg model.NotificationMessage, r model.Recipient) string {
	return msg.MessageID + ":" + r.ID
}

// deliverOnce 收件人级幂等；不可重试的错误记为完成，只告警
func (d *Dispatcher) deliverOnce(ctx context.Context, msg model.NotificationMessage, r model.Recipient) error {
	id := deliveryID(msg, r)
	log := logger.Ctx(ctx, d.logger)
	ok, err := d.dedup.TryMark(ctx, id)
	if err == nil && !ok {
		return nil
	}

	if err := d.limiter.Wait(ctx); err != nil {
		_ = d.dedup.Unmark(ctx, id)
		return err
	}

	start := time.Now()
	breaker, found := d.breakers[r.Channel]
	if !found {
		log.Error("Unknown notification channel, dropping recipient",
			zap.String("message_id", msg.MessageID),
			zap.String("recipient_id", r.ID),
			zap.String("channel", string(r.Channel)),
		)
		_ = d.dedup.MarkDone(ctx, id)
		return nil
	}

	err = breaker.Call(ctx, func(ctx context.Context) error {
		return d.send(ctx, msg, r, id)
	})
	elapsed := time.Since(start).Seconds()

	if err == nil {
		metrics.RecordNotification(ctx, string(r.Channel), "success", elapsed)
		_ = d.dedup.MarkDone(ctx, id)
		return nil
	}

	if !retryable(err) {
		metrics.RecordNotification(ctx, string(r.Channel), "rejected", elapsed)
		log.Error("Notification rejected permanently",
			zap.String("message_id", msg.MessageID),
			zap.String("recipient_id", r.ID),
			zap.Error(err),
		)
		_ = d.dedup.MarkDone(ctx, id)
		return nil
	}

	metrics.RecordNotification(ctx, string(r.Channel), "failed", elapsed)
	metrics.RecordNotificationRetry(ctx, string(r.Channel), retryReason(err))
	log.Warn("Notification delivery failed, will retry",
		zap.String("message_id", msg.MessageID),
		zap.String("recipient_id", r.ID),
		zap.String("channel", string(r.Channel)),
		zap.Error(err),
	)
	_ = d.dedup.Unmark(ctx, id)
	return err
}

func (d *Dispatcher) send(ctx context.Context, msg model.NotificationMessage, r model.Recipient, id string) error {
	switch r.Channel {
	case model.NotifyChannelSMS:
		if d.sms == nil {
			return &sms.NonRetryableError{Code: "SMSDisabled", Message: "sms client not configured"}
		}
		param, err := json.Marshal(msg.Payload)
		if err != nil {
			return &sms.NonRetryableError{Code: "InvalidPayload", Message: err.Error()}
		}
		_, err = d.sms.SendSingle(ctx, r.Address, d.cfg.SignName, d.templateCode(msg.Template), string(param))
		return err
	case model.NotifyChannelWebhook:
		return d.webhooks.Send(ctx, r.Address, id, map[string]interface{}{
			"event":      msg.Category,
			"template":   msg.Template,
			"switch_id":  msg.SwitchID,
			"level":      msg.Level,
			"recipient":  r.ID,
			"payload":    msg.Payload,
			"created_at": msg.CreatedAt,
		})
	}
	return fmt.Errorf("unsupported channel %q", r.Channel)
}

// templateCode 阿里云模板码形如 SMS_123456，其余逻辑模板名使用默认模板
func (d *Dispatcher) templateCode(template string) string {
	if strings.HasPrefix(template, "SMS_") {
		return template
	}
	return d.cfg.TemplateCode
}

func retryable(err error) bool {
	var nr *sms.NonRetryableError
	if stderrors.As(err, &nr) {
		return false
	}
	var se *webhook.StatusError
	if stderrors.As(err, &se) {
		return se.Retryable()
	}
	return true
}

func retryReason(err error) string {
	if stderrors.Is(err, cache.ErrOpen) {
		return "breaker_open"
	}
	return "error"
}

// Run 阻塞消费通知队列，ctx 取消后返回
func (d *Dispatcher) Run(ctx context.Context, queue string, prefetch int) error {
	d.logger.Info("Starting notification consumer", zap.String("queue", queue))
	return mq.Consume(ctx, mq.ConsumeOptions{
		Queue:         queue,
		ConsumerTag:   "notification_dispatcher",
		PrefetchCount: prefetch,
		Handler:       d.Handle,
		RetryDelay:    2 * time.Second,
	})
}
