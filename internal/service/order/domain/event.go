// internal/service/order/domain/event.go
package domain

import (
	"time"

	"github.com/google/uuid"
)

// DispatchEvent 在订单通过预检并落库后发布，消息 key 为 OrderID
type DispatchEvent struct {
	EventID     string    `json:"eventId"`
	OrderID     string    `json:"orderId"`
	ProductName string    `json:"productName"`
	Quantity    int       `json:"quantity"`
	Status      Status    `json:"status"`
	PublishedAt time.Time `json:"publishedAt"`
}

func NewDispatchEvent(order *Order, now time.Time) *DispatchEvent {
	return &DispatchEvent{
		EventID:     uuid.New().String(),
		OrderID:     order.ID,
		ProductName: order.ProductName,
		Quantity:    order.Quantity,
		Status:      order.Status,
		PublishedAt: now,
	}
}

// Validate 消费端对消息内容的最小校验，失败的消息无法处理也不值得重试
func (e *DispatchEvent) Validate() error {
	if e.OrderID == "" {
		return invalid("orderId", "must not be blank")
	}
	if e.ProductName == "" {
		return invalid("productName", "must not be blank")
	}
	return ValidateQuantity("quantity", e.Quantity)
}

// OrderReconciledEvent 是对账完成后的通知
type OrderReconciledEvent struct {
	OrderID      string    `json:"orderId"`
	ProductName  string    `json:"productName"`
	Quantity     int       `json:"quantity"`
	Status       Status    `json:"status"`
	Outcome      Outcome   `json:"outcome"`
	Remaining    int       `json:"remaining"`
	Available    int       `json:"available"`
	ReconciledAt time.Time `json:"reconciledAt"`
}

func NewOrderReconciledEvent(r *Reconciliation) *OrderReconciledEvent {
	return &OrderReconciledEvent{
		OrderID:      r.OrderID,
		ProductName:  r.ProductName,
		Quantity:     r.Quantity,
		Status:       r.Status(),
		Outcome:      r.Outcome,
		Remaining:    r.Remaining,
		Available:    r.Available,
		ReconciledAt: r.ReconciledAt,
	}
}
