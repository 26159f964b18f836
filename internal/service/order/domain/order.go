// internal/service/order/domain/order.go
package domain

import (
	"regexp"
	"strings"
	"time"
)

const (
	maxOrderIDLength     = 64
	maxProductNameLength = 128
)

var (
	productNamePattern = regexp.MustCompile(`^[A-Za-z0-9\s]+$`)
	digitsOnlyPattern  = regexp.MustCompile(`^\d+$`)
)

// Order 是订单聚合的根实体
type Order struct {
	ID          string
	ProductName string
	Quantity    int
	Status      Status
	Reason      Reason // 最近一次拒绝的原因，成功时为空
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// 工厂函数: NewOrder 校验输入并创建一个 PENDING 状态的订单
func NewOrder(id, productName string, quantity int, now time.Time) (*Order, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, invalid("orderId", "must not be blank")
	}
	if len(id) > maxOrderIDLength {
		return nil, invalid("orderId", "must be at most %d characters", maxOrderIDLength)
	}
	if err := ValidateProductName(productName); err != nil {
		return nil, err
	}
	if err := ValidateQuantity("quantity", quantity); err != nil {
		return nil, err
	}
	return &Order{
		ID:          id,
		ProductName: productName,
		Quantity:    quantity,
		Status:      StatusPending, // 初始状态
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// ValidateProductName 商品名只能包含字母、数字和空白，且不能全是数字
func ValidateProductName(name string) error {
	switch {
	case strings.TrimSpace(name) == "":
		return invalid("productName", "must not be blank")
	case len(name) > maxProductNameLength:
		return invalid("productName", "must be at most %d characters", maxProductNameLength)
	case digitsOnlyPattern.MatchString(name):
		return invalid("productName", "must not consist of digits only")
	case !productNamePattern.MatchString(name):
		return invalid("productName", "may contain only letters, digits and spaces")
	}
	return nil
}

func ValidateQuantity(field string, quantity int) error {
	if quantity < 1 {
		return invalid(field, "must be at least 1, got %d", quantity)
	}
	return nil
}

// SamePayload 判断两个订单是否是同一次请求 (用于重复 orderId 的处理)
func (o *Order) SamePayload(other *Order) bool {
	return o.ID == other.ID && o.ProductName == other.ProductName && o.Quantity == other.Quantity
}

// MarkAsProcessed 仓库扣减成功
// 这个方法只负责状态流转，不负责持久化
func (o *Order) MarkAsProcessed(now time.Time) error {
	return o.transition(StatusProcessed, ReasonNone, now)
}

// MarkAsFailed 将订单标记为失败并记录原因
func (o *Order) MarkAsFailed(reason Reason, now time.Time) error {
	return o.transition(StatusFailed, reason, now)
}

func (o *Order) transition(next Status, reason Reason, now time.Time) error {
	if !o.Status.CanTransitionTo(next) {
		return ErrIllegalTransition
	}
	o.Status = next
	o.Reason = reason
	o.UpdatedAt = now
	return nil
}
