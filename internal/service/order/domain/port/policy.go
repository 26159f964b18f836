package port

import (
	"context"

	"stockflow/internal/service/order/domain"
)

// AdmissionPolicy 是可配置的下单准入规则。拒绝时返回 *domain.ValidationError。
type AdmissionPolicy interface {
	Check(ctx context.Context, order *domain.Order) error
}
