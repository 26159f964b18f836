package domain

import "time"

// Outcome 是仓库对账的权威结果
type Outcome string

const (
	OutcomeApplied           Outcome = "APPLIED"
	OutcomeInsufficientStock Outcome = "INSUFFICIENT_STOCK"
	OutcomeProductNotFound   Outcome = "PRODUCT_NOT_FOUND"
)

// Reconciliation 是去重守卫记录: 每个 orderId 最多一条，与库存扣减在同一个原子单元中写入。
type Reconciliation struct {
	OrderID      string
	ProductName  string
	Quantity     int
	Outcome      Outcome
	Remaining    int // APPLIED 时扣减后的库存
	Available    int // INSUFFICIENT_STOCK 时当时的库存
	ReconciledAt time.Time
}

// NewReconciliation 按扣减结果生成守卫记录
func NewReconciliation(orderID, productName string, quantity int, res DecrementResult, now time.Time) *Reconciliation {
	r := &Reconciliation{
		OrderID:      orderID,
		ProductName:  productName,
		Quantity:     quantity,
		ReconciledAt: now,
	}
	switch res.Kind {
	case DecrementApplied:
		r.Outcome = OutcomeApplied
		r.Remaining = res.Remaining
	case DecrementInsufficient:
		r.Outcome = OutcomeInsufficientStock
		r.Available = res.Available
	default:
		r.Outcome = OutcomeProductNotFound
	}
	return r
}

// Status 对账结果对应的订单终态
func (r *Reconciliation) Status() Status {
	if r.Outcome == OutcomeApplied {
		return StatusProcessed
	}
	return StatusFailed
}

func (r *Reconciliation) Reason() Reason {
	switch r.Outcome {
	case OutcomeInsufficientStock:
		return ReasonInsufficientStock
	case OutcomeProductNotFound:
		return ReasonProductNotFound
	}
	return ReasonNone
}

// ReconcileResult First 为 false 表示重复投递，Record 为首次处理时记录的结果
type ReconcileResult struct {
	First  bool
	Record *Reconciliation
}
