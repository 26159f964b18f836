// internal/service/order/domain/state.go
package domain

// Status 定义了订单的生命周期状态
type Status string

const (
	StatusPending   Status = "PENDING"   // 已通过预检并落库，等待仓库对账
	StatusProcessed Status = "PROCESSED" // 仓库已扣减库存
	StatusFailed    Status = "FAILED"    // 预检或对账失败
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessed, StatusFailed:
		return true
	}
	return false
}

func (s Status) IsTerminal() bool {
	return s == StatusProcessed || s == StatusFailed
}

// CanTransitionTo PENDING 可以流转到任意终态；同状态重复写入视为幂等。
func (s Status) CanTransitionTo(next Status) bool {
	if !next.Valid() {
		return false
	}
	if s == next {
		return true
	}
	return s == StatusPending && next.IsTerminal()
}

// Reason 是订单被拒绝的业务原因码
type Reason string

const (
	ReasonNone              Reason = ""
	ReasonProductNotFound   Reason = "PRODUCT_NOT_FOUND"
	ReasonOutOfStock        Reason = "OUT_OF_STOCK"
	ReasonInsufficientStock Reason = "INSUFFICIENT_STOCK"
)
