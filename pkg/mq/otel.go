package mq

import (
	"context"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// 处理结果，用作指标标签
const (
	OutcomeAck     = "ack"
	OutcomeSkip    = "skip"
	OutcomeRequeue = "requeue"
)

var (
	// RabbitMQ 相关指标，未初始化时为 noop
	mqPublishedTotal    metric.Int64Counter     = noop.Int64Counter{}
	mqPublishErrors     metric.Int64Counter     = noop.Int64Counter{}
	mqProcessedTotal    metric.Int64Counter     = noop.Int64Counter{}
	mqProcessDuration   metric.Float64Histogram = noop.Float64Histogram{}
	mqDeliveryRedeliver metric.Int64Counter     = noop.Int64Counter{}
)

// InitMQMetrics 初始化 RabbitMQ 指标
func InitMQMetrics(meter metric.Meter) error {
	var err error

	mqPublishedTotal, err = meter.Int64Counter(
		"mq.messages.published",
		metric.WithDescription("Messages published to RabbitMQ"),
		metric.WithUnit("{message}"),
	)
	if err != nil {
		return err
	}

	mqPublishErrors, err = meter.Int64Counter(
		"mq.publish.errors",
		metric.WithDescription("Number of RabbitMQ publish errors"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return err
	}

	mqProcessedTotal, err = meter.Int64Counter(
		"mq.messages.processed",
		metric.WithDescription("Messages handled by consumers, by outcome"),
		metric.WithUnit("{message}"),
	)
	if err != nil {
		return err
	}

	mqProcessDuration, err = meter.Float64Histogram(
		"mq.message.duration",
		metric.WithDescription("Consumer handler duration"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0),
	)
	if err != nil {
		return err
	}

	// 重投递多说明下游渠道持续失败
	mqDeliveryRedeliver, err = meter.Int64Counter(
		"mq.messages.redelivered",
		metric.WithDescription("Deliveries received with the redelivered flag"),
		metric.WithUnit("{message}"),
	)
	return err
}

func tracer() trace.Tracer {
	return otel.Tracer("legacyvault.rabbitmq")
}

// Publish 发布前把链路上下文写入消息头
func Publish(ctx context.Context, ch *amqp.Channel, exchange, routingKey string, msg amqp.Publishing) error {
	ctx, span := tracer().Start(ctx, "rabbitmq.publish "+exchange,
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			semconv.MessagingSystem("rabbitmq"),
			semconv.MessagingDestinationName(exchange),
			semconv.MessagingRabbitmqDestinationRoutingKey(routingKey),
			semconv.MessagingMessageID(msg.MessageId),
		),
	)
	defer span.End()

	headers := make(amqp.Table, len(msg.Headers)+2)
	for k, v := range msg.Headers {
		headers[k] = v
	}
	otel.GetTextMapPropagator().Inject(ctx, HeaderCarrier(headers))
	msg.Headers = headers

	attrs := metric.WithAttributes(attribute.String("messaging.rabbitmq.exchange", exchange))
	if err := ch.PublishWithContext(ctx, exchange, routingKey, false, false, msg); err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
		mqPublishErrors.Add(ctx, 1, attrs)
		return err
	}
	mqPublishedTotal.Add(ctx, 1, attrs)
	return nil
}

// StartProcess 从消息头恢复发布方的链路，返回的 finish 记录处理结果
func StartProcess(ctx context.Context, queue string, d amqp.Delivery) (context.Context, func(outcome string, err error)) {
	ctx = otel.GetTextMapPropagator().Extract(ctx, HeaderCarrier(d.Headers))
	ctx, span := tracer().Start(ctx, "rabbitmq.process "+queue,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			semconv.MessagingSystem("rabbitmq"),
			attribute.String("messaging.rabbitmq.queue", queue),
			semconv.MessagingMessageID(d.MessageId),
			attribute.Bool("messaging.rabbitmq.redelivered", d.Redelivered),
		),
	)
	if d.Redelivered {
		mqDeliveryRedeliver.Add(ctx, 1, metric.WithAttributes(attribute.String("messaging.rabbitmq.queue", queue)))
	}

	start := time.Now()
	return ctx, func(outcome string, err error) {
		defer span.End()
		if err != nil && outcome == OutcomeRequeue {
			span.SetStatus(codes.Error, err.Error())
			span.RecordError(err)
		}
		span.SetAttributes(attribute.String("messaging.outcome", outcome))

		attrs := metric.WithAttributes(
			attribute.String("messaging.rabbitmq.queue", queue),
			attribute.String("messaging.outcome", outcome),
		)
		mqProcessedTotal.Add(ctx, 1, attrs)
		mqProcessDuration.Record(ctx, time.Since(start).Seconds(), attrs)
	}
}

// HeaderCarrier 让 amqp.Table 满足 propagation.TextMapCarrier
type HeaderCarrier amqp.Table

func (h HeaderCarrier) Get(key string) string {
	if v, ok := h[key].(string); ok {
		return v
	}
	return ""
}

func (h HeaderCarrier) Set(key, value string) {
	h[key] = value
}

func (h HeaderCarrier) Keys() []string {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	return keys
}
