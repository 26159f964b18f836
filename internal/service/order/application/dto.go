// internal/service/order/application/dto.go
package application

import (
	"time"

	"stockflow/internal/service/order/domain"
)

// SubmitOrderCommand 是下单用例的输入数据
type SubmitOrderCommand struct {
	OrderID     string
	ProductName string
	Quantity    int
}

// OrderResponse 是订单用例的输出数据
type OrderResponse struct {
	OrderID     string        `json:"orderId"`
	ProductName string        `json:"productName"`
	Quantity    int           `json:"quantity"`
	Status      domain.Status `json:"status"`
	Accepted    bool          `json:"accepted"`
	Reason      domain.Reason `json:"reason,omitempty"`
	Available   *int          `json:"available,omitempty"`
	Message     string        `json:"message,omitempty"`
	CreatedAt   time.Time     `json:"createdAt"`
	UpdatedAt   time.Time     `json:"updatedAt"`
}

// ToOrderResponse 从 Submit 的结果转换为输出 DTO
func ToOrderResponse(outcome domain.OrderOutcome) *OrderResponse {
	resp := FromOrder(outcome.Order)
	resp.Accepted = outcome.IsAccepted()
	if outcome.IsAccepted() {
		if outcome.Order.Status == domain.StatusPending {
			resp.Message = "Your order is being processed."
		}
		return resp
	}
	resp.Reason = outcome.Rejection.Reason
	if outcome.Rejection.Reason == domain.ReasonInsufficientStock {
		available := outcome.Rejection.Available
		resp.Available = &available
	}
	resp.Message = "Order rejected: " + outcome.Rejection.String()
	return resp
}

func FromOrder(o *domain.Order) *OrderResponse {
	return &OrderResponse{
		OrderID:     o.ID,
		ProductName: o.ProductName,
		Quantity:    o.Quantity,
		Status:      o.Status,
		Accepted:    o.Status != domain.StatusFailed,
		Reason:      o.Reason,
		CreatedAt:   o.CreatedAt,
		UpdatedAt:   o.UpdatedAt,
	}
}

// AddStockCommand 新增商品库存
type AddStockCommand struct {
	ProductName       string
	AvailableQuantity int
}

type StockResponse struct {
	ProductName       string    `json:"productName"`
	AvailableQuantity int       `json:"availableQuantity"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

func FromStock(s *domain.WarehouseStock) *StockResponse {
	return &StockResponse{ProductName: s.ProductName, AvailableQuantity: s.AvailableQuantity, UpdatedAt: s.UpdatedAt}
}

type StockPageResponse struct {
	Items      []*StockResponse `json:"items"`
	Page       int              `json:"page"`
	Size       int              `json:"size"`
	Total      int64            `json:"total"`
	TotalPages int              `json:"totalPages"`
}

func FromStockPage(p *domain.StockPage) *StockPageResponse {
	resp := &StockPageResponse{
		Items: make([]*StockResponse, 0, len(p.Items)),
		Page:  p.Page,
		Size:  p.Size,
		Total: p.Total,
	}
	for _, it := range p.Items {
		resp.Items = append(resp.Items, FromStock(it))
	}
	if p.Size > 0 {
		resp.TotalPages = int((p.Total + int64(p.Size) - 1) / int64(p.Size))
	}
	return resp
}
