package adapter

import (
	"context"
	"encoding/json"
	"fmt"

	"stockflow/internal/pkg/metrics"
	"stockflow/internal/pkg/mq"
	"stockflow/internal/service/order/domain"
)

// NotificationKafkaAdapter 实现了 port.OutcomeNotifier 接口。
type NotificationKafkaAdapter struct {
	publisher mq.Publisher
}

// NewNotificationKafkaAdapter 创建一个新的通知生产者适配器。
func NewNotificationKafkaAdapter(publisher mq.Publisher) *NotificationKafkaAdapter {
	return &NotificationKafkaAdapter{publisher: publisher}
}

// NotifyReconciled 发送对账结果通知
func (a *NotificationKafkaAdapter) NotifyReconciled(ctx context.Context, event *domain.OrderReconciledEvent) error {
	eventBytes, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal reconciled event: %w", err)
	}
	if err := a.publisher.Publish(ctx, []byte(event.OrderID), eventBytes); err != nil {
		metrics.PublishFailuresTotal.WithLabelValues(a.publisher.Topic()).Inc()
		return err
	}
	return nil
}
