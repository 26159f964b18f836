package port

import (
	"context"

	"stockflow/internal/service/order/domain"
)

// DispatchPublisher 是履约事件的出站端口，消息以 orderId 为 key 发布。
// 实现不应自动重试，失败直接返回给调用方。
type DispatchPublisher interface {
	PublishDispatch(ctx context.Context, event *domain.DispatchEvent) error
}
