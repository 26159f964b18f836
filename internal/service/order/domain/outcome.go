package domain

import "fmt"

// Rejection 是业务拒绝，属于正常结果而不是错误
type Rejection struct {
	Reason    Reason
	Available int // 仅 INSUFFICIENT_STOCK 有意义
}

func (r Rejection) String() string {
	if r.Reason == ReasonInsufficientStock {
		return fmt.Sprintf("%s(available=%d)", r.Reason, r.Available)
	}
	return string(r.Reason)
}

// OrderOutcome 是 Submit 的结果: Rejection 为 nil 时表示已接受
type OrderOutcome struct {
	Order     *Order
	Rejection *Rejection
}

func Accepted(order *Order) OrderOutcome {
	return OrderOutcome{Order: order}
}

func Rejected(order *Order, rejection Rejection) OrderOutcome {
	return OrderOutcome{Order: order, Rejection: &rejection}
}

func (o OrderOutcome) IsAccepted() bool {
	return o.Rejection == nil
}
