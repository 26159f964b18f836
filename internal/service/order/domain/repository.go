// internal/service/order/domain/repository.go
package domain

import "context"

// OrderRepository 定义了订单聚合的持久化接口。
// 它位于领域层，但由基础设施层实现。I/O 故障以 TransientError 返回。
type OrderRepository interface {
	// Create 插入新订单，orderId 已存在时返回 ErrDuplicateOrder。
	Create(ctx context.Context, order *Order) error

	// FindByID 根据 ID 查找一个订单聚合，不存在时返回 ErrOrderNotFound。
	FindByID(ctx context.Context, id string) (*Order, error)

	// UpdateStatus 覆盖写入状态，幂等，后写者生效。
	// 只在订单不存在 (ErrOrderNotFound) 或 I/O 故障时失败，状态机约束由 Order.Mark* 负责。
	UpdateStatus(ctx context.Context, id string, status Status, reason Reason) error
}

// StockRepository 是仓库存量的持久化接口
type StockRepository interface {
	// Get 不存在时返回 ErrProductNotFound
	Get(ctx context.Context, productName string) (*WarehouseStock, error)

	// TryDecrement 单条原子条件更新: available >= amount 时扣减。
	// Insufficient / NotFound 是结果而不是错误。
	TryDecrement(ctx context.Context, productName string, amount int) (DecrementResult, error)

	// Create 新增商品，已存在时返回 ErrDuplicateProduct
	Create(ctx context.Context, stock *WarehouseStock) error

	// AddQuantity 原子增加库存 (补货)，不存在时返回 ErrProductNotFound
	AddQuantity(ctx context.Context, productName string, amount int) (*WarehouseStock, error)

	List(ctx context.Context, q StockQuery) (*StockPage, error)
}

// ReconciliationRepository 是去重守卫的持久化接口，与 StockRepository 共享同一后端。
type ReconciliationRepository interface {
	// MarkIfAbsent 原子地写入守卫记录。已存在时返回 false 和已有记录。
	MarkIfAbsent(ctx context.Context, record *Reconciliation) (bool, *Reconciliation, error)

	// ReconcileOnce 在一个原子单元中完成: 检查守卫 -> 条件扣减 -> 写入守卫记录。
	// 任一步失败则整体不生效。
	ReconcileOnce(ctx context.Context, orderID, productName string, quantity int) (ReconcileResult, error)
}
