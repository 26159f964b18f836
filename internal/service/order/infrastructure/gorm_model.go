package infrastructure

import (
	"time"

	"stockflow/internal/service/order/domain"
)

// OrderModel 对应数据库中的 orders 表
type OrderModel struct {
	ID          string        `gorm:"primaryKey;size:64"`
	ProductName string        `gorm:"size:128;not null;index"`
	Quantity    int           `gorm:"not null"`
	Status      domain.Status `gorm:"size:16;not null;index"`
	Reason      domain.Reason `gorm:"size:32"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TableName 指定 GORM 应该使用的表名
func (OrderModel) TableName() string {
	return "orders"
}

// StockModel 对应数据库中的 warehouse_stock 表
type StockModel struct {
	ProductName       string `gorm:"primaryKey;size:128"`
	AvailableQuantity int    `gorm:"not null;check:available_quantity >= 0"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (StockModel) TableName() string {
	return "warehouse_stock"
}

// ReconciliationModel 对应 order_reconciliations 表，主键 order_id 就是去重守卫
type ReconciliationModel struct {
	OrderID      string         `gorm:"primaryKey;size:64"`
	ProductName  string         `gorm:"size:128;not null"`
	Quantity     int            `gorm:"not null"`
	Outcome      domain.Outcome `gorm:"size:32;not null"`
	Remaining    int
	Available    int
	ReconciledAt time.Time
}

func (ReconciliationModel) TableName() string {
	return "order_reconciliations"
}
