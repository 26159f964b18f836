package interfaces

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"stockflow/internal/pkg/logger"
	"stockflow/internal/pkg/mq"
	"stockflow/internal/service/order/domain"
)

// DispatchService 由 application.ReconciliationService 实现
type DispatchService interface {
	HandleDispatch(ctx context.Context, event *domain.DispatchEvent) error
}

// DispatchHandler 把一条履约消息交给对账服务，并决定是否 ack:
//   - nil: 处理完成，可以提交 offset
//   - TransientError: 不提交，等待重新投递
//   - 其他错误 (无法解码、内容非法、订单不存在): 转发到死信队列后提交
type DispatchHandler struct {
	svc      DispatchService
	failures *mq.FailureHandler
	tracer   trace.Tracer
}

func NewDispatchHandler(svc DispatchService, failures *mq.FailureHandler, tracer trace.Tracer) *DispatchHandler {
	return &DispatchHandler{svc: svc, failures: failures, tracer: tracer}
}

// Handle 满足 mq.MessageHandler
func (h *DispatchHandler) Handle(ctx context.Context, msg kafka.Message) error {
	ctx = mq.ExtractTraceContext(ctx, msg.Headers)
	ctx, span := h.tracer.Start(ctx, "consumer.Dispatch", trace.WithSpanKind(trace.SpanKindConsumer), trace.WithAttributes(
		attribute.String("messaging.system", "kafka"),
		attribute.String("messaging.destination", msg.Topic),
		attribute.Int("messaging.kafka.partition", msg.Partition),
		attribute.Int64("messaging.kafka.offset", msg.Offset),
		attribute.String("messaging.kafka.message_key", string(msg.Key)),
	))
	defer span.End()

	err := h.process(ctx, msg)
	if err == nil || domain.IsTransient(err) {
		return err
	}

	// 毒消息: 重试也不会成功
	span.RecordError(err)
	if dltErr := h.failures.Handle(ctx, msg, err); dltErr != nil {
		// 死信也发不出去，不能 ack，否则消息就丢了
		return domain.Transient("dispatch.dead_letter", dltErr)
	}
	return nil
}

func (h *DispatchHandler) process(ctx context.Context, msg kafka.Message) error {
	var event domain.DispatchEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return errors.Wrap(err, "decode dispatch event")
	}
	if key := string(msg.Key); key != "" && key != event.OrderID {
		logger.Ctx(ctx).Warn().Str("key", key).Str("order_id", event.OrderID).Msg("dispatch message key does not match orderId")
	}
	return h.svc.HandleDispatch(ctx, &event)
}
