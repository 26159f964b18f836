package adapter

import (
	"context"
	"encoding/json"
	"fmt"

	"stockflow/internal/pkg/metrics"
	"stockflow/internal/pkg/mq"
	"stockflow/internal/service/order/domain"
)

// DispatchKafkaAdapter 实现了 port.DispatchPublisher 接口。
// 底层 Publisher 可以是 Kafka writer，也可以是进程内 broker。
type DispatchKafkaAdapter struct {
	publisher mq.Publisher
}

// NewDispatchKafkaAdapter 创建一个新的履约事件生产者适配器。
func NewDispatchKafkaAdapter(publisher mq.Publisher) *DispatchKafkaAdapter {
	return &DispatchKafkaAdapter{publisher: publisher}
}

// PublishDispatch 以 orderId 为 key 发布，保证同一订单的事件落在同一分区。
func (a *DispatchKafkaAdapter) PublishDispatch(ctx context.Context, event *domain.DispatchEvent) error {
	eventBytes, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal dispatch event: %w", err)
	}

	// 调用通用的 Publish，它会自动处理追踪上下文注入
	if err := a.publisher.Publish(ctx, []byte(event.OrderID), eventBytes); err != nil {
		metrics.PublishFailuresTotal.WithLabelValues(a.publisher.Topic()).Inc()
		return domain.Transient("dispatch.publish", err)
	}
	return nil
}
