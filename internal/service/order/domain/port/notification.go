package port

import (
	"context"

	"stockflow/internal/service/order/domain"
)

// OutcomeNotifier 是对账结果通知的出站端口。发送失败不影响对账本身。
type OutcomeNotifier interface {
	NotifyReconciled(ctx context.Context, event *domain.OrderReconciledEvent) error
}
