package infrastructure

import "stockflow/internal/service/order/domain"

// ToDomainOrder 将数据库模型转换为领域模型
func ToDomainOrder(model *OrderModel) *domain.Order {
	if model == nil {
		return nil
	}
	return &domain.Order{
		ID:          model.ID,
		ProductName: model.ProductName,
		Quantity:    model.Quantity,
		Status:      model.Status,
		Reason:      model.Reason,
		CreatedAt:   model.CreatedAt,
		UpdatedAt:   model.UpdatedAt,
	}
}

// FromDomainOrder 将领域模型转换为数据库模型 (用于插入)
func FromDomainOrder(o *domain.Order) *OrderModel {
	if o == nil {
		return nil
	}
	return &OrderModel{
		ID:          o.ID,
		ProductName: o.ProductName,
		Quantity:    o.Quantity,
		Status:      o.Status,
		Reason:      o.Reason,
		CreatedAt:   o.CreatedAt,
		UpdatedAt:   o.UpdatedAt,
	}
}

func ToDomainStock(model *StockModel) *domain.WarehouseStock {
	if model == nil {
		return nil
	}
	return &domain.WarehouseStock{
		ProductName:       model.ProductName,
		AvailableQuantity: model.AvailableQuantity,
		UpdatedAt:         model.UpdatedAt,
	}
}

func FromDomainStock(s *domain.WarehouseStock) *StockModel {
	if s == nil {
		return nil
	}
	return &StockModel{
		ProductName:       s.ProductName,
		AvailableQuantity: s.AvailableQuantity,
		CreatedAt:         s.UpdatedAt,
		UpdatedAt:         s.UpdatedAt,
	}
}

func ToDomainReconciliation(model *ReconciliationModel) *domain.Reconciliation {
	if model == nil {
		return nil
	}
	return &domain.Reconciliation{
		OrderID:      model.OrderID,
		ProductName:  model.ProductName,
		Quantity:     model.Quantity,
		Outcome:      model.Outcome,
		Remaining:    model.Remaining,
		Available:    model.Available,
		ReconciledAt: model.ReconciledAt,
	}
}

func FromDomainReconciliation(r *domain.Reconciliation) *ReconciliationModel {
	if r == nil {
		return nil
	}
	return &ReconciliationModel{
		OrderID:      r.OrderID,
		ProductName:  r.ProductName,
		Quantity:     r.Quantity,
		Outcome:      r.Outcome,
		Remaining:    r.Remaining,
		Available:    r.Available,
		ReconciledAt: r.ReconciledAt,
	}
}
