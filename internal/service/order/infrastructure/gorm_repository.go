package infrastructure

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"stockflow/internal/service/order/domain"
)

// wrapDB 把数据库驱动错误包装为可重试的 TransientError
func wrapDB(op string, err error) error {
	return domain.Transient(op, errors.Wrapf(err, "gorm %s", op))
}

// classify 事务 Begin/Commit 失败时返回的是原始驱动错误，这里统一归类
func classify(op string, err error) error {
	switch {
	case domain.IsTransient(err),
		errors.Is(err, domain.ErrProductNotFound),
		errors.Is(err, domain.ErrOrderNotFound):
		return err
	}
	return wrapDB(op, err)
}

// GormOrderRepository 是 OrderRepository 的 GORM 实现
type GormOrderRepository struct {
	db *gorm.DB
}

// NewGormOrderRepository 创建一个新的 GORM 仓储实例
func NewGormOrderRepository(db *gorm.DB) *GormOrderRepository {
	return &GormOrderRepository{db: db}
}

// Create 使用 ON CONFLICT DO NOTHING 插入，影响行数为 0 说明 orderId 已存在
func (r *GormOrderRepository) Create(ctx context.Context, order *domain.Order) error {
	model := FromDomainOrder(order)
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(model)
	if res.Error != nil {
		return wrapDB("orders.create", res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrDuplicateOrder
	}
	return nil
}

func (r *GormOrderRepository) FindByID(ctx context.Context, id string) (*domain.Order, error) {
	var model OrderModel
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrOrderNotFound
		}
		return nil, wrapDB("orders.find", err)
	}
	// 使用 Mapper 将数据库模型转换为领域模型
	return ToDomainOrder(&model), nil
}

// UpdateStatus 直接覆盖状态 (后写者生效)，对账端的写入是最终结果
func (r *GormOrderRepository) UpdateStatus(ctx context.Context, id string, status domain.Status, reason domain.Reason) error {
	if !status.Valid() {
		return domain.ErrInvalidInput
	}
	res := r.db.WithContext(ctx).Model(&OrderModel{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     status,
			"reason":     reason,
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return wrapDB("orders.update_status", res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}
	// 0 行: 订单不存在，或 (MySQL) 值未发生变化
	_, err := r.FindByID(ctx, id)
	return err
}

// GormStockRepository 是 StockRepository 的 GORM 实现
type GormStockRepository struct {
	db *gorm.DB
}

func NewGormStockRepository(db *gorm.DB) *GormStockRepository {
	return &GormStockRepository{db: db}
}

func (r *GormStockRepository) Get(ctx context.Context, productName string) (*domain.WarehouseStock, error) {
	return findStock(r.db.WithContext(ctx), productName)
}

func findStock(db *gorm.DB, productName string) (*domain.WarehouseStock, error) {
	var model StockModel
	err := db.Where("product_name = ?", productName).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrProductNotFound
		}
		return nil, wrapDB("stock.get", err)
	}
	return ToDomainStock(&model), nil
}

func (r *GormStockRepository) TryDecrement(ctx context.Context, productName string, amount int) (domain.DecrementResult, error) {
	var result domain.DecrementResult
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		result, err = tryDecrement(tx, productName, amount)
		return err
	})
	if err != nil {
		return domain.DecrementResult{}, classify("stock.decrement", err)
	}
	return result, nil
}

// tryDecrement 单条条件 UPDATE: available_quantity >= amount 时才扣减，库存永远不会为负。
// 必须在事务中调用，随后的读取才能拿到本次扣减后的值。
func tryDecrement(tx *gorm.DB, productName string, amount int) (domain.DecrementResult, error) {
	res := tx.Model(&StockModel{}).
		Where("product_name = ? AND available_quantity >= ?", productName, amount).
		Updates(map[string]interface{}{
			"available_quantity": gorm.Expr("available_quantity - ?", amount),
			"updated_at":         time.Now(),
		})
	if res.Error != nil {
		return domain.DecrementResult{}, wrapDB("stock.decrement", res.Error)
	}

	stock, err := findStock(tx, productName)
	if errors.Is(err, domain.ErrProductNotFound) {
		return domain.NotFound(), nil
	}
	if err != nil {
		return domain.DecrementResult{}, err
	}
	if res.RowsAffected == 0 {
		return domain.Insufficient(stock.AvailableQuantity), nil
	}
	return domain.Applied(stock.AvailableQuantity), nil
}

func (r *GormStockRepository) Create(ctx context.Context, stock *domain.WarehouseStock) error {
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(FromDomainStock(stock))
	if res.Error != nil {
		return wrapDB("stock.create", res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrDuplicateProduct
	}
	return nil
}

func (r *GormStockRepository) AddQuantity(ctx context.Context, productName string, amount int) (*domain.WarehouseStock, error) {
	var stock *domain.WarehouseStock
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&StockModel{}).
			Where("product_name = ?", productName).
			Updates(map[string]interface{}{
				"available_quantity": gorm.Expr("available_quantity + ?", amount),
				"updated_at":         time.Now(),
			})
		if res.Error != nil {
			return wrapDB("stock.add", res.Error)
		}
		if res.RowsAffected == 0 {
			return domain.ErrProductNotFound
		}
		var err error
		stock, err = findStock(tx, productName)
		return err
	})
	if err != nil {
		return nil, classify("stock.add", err)
	}
	return stock, nil
}

var stockSortColumns = map[string]string{
	domain.SortByProductName:       "product_name",
	domain.SortByAvailableQuantity: "available_quantity",
}

func (r *GormStockRepository) List(ctx context.Context, q domain.StockQuery) (*domain.StockPage, error) {
	db := r.db.WithContext(ctx).Model(&StockModel{}).Session(&gorm.Session{})

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, wrapDB("stock.count", err)
	}

	column, ok := stockSortColumns[q.SortBy]
	if !ok {
		column = "product_name"
	}
	var models []*StockModel
	err := db.Order(clause.OrderByColumn{Column: clause.Column{Name: column}, Desc: q.Desc}).
		Order("product_name").
		Offset(q.Page * q.Size).
		Limit(q.Size).
		Find(&models).Error
	if err != nil {
		return nil, wrapDB("stock.list", err)
	}

	page := &domain.StockPage{Total: total, Page: q.Page, Size: q.Size}
	for _, m := range models {
		page.Items = append(page.Items, ToDomainStock(m))
	}
	return page, nil
}

// GormReconciliationRepository 是去重守卫的 GORM 实现，与库存表在同一个库中
type GormReconciliationRepository struct {
	db *gorm.DB
}

func NewGormReconciliationRepository(db *gorm.DB) *GormReconciliationRepository {
	return &GormReconciliationRepository{db: db}
}

func (r *GormReconciliationRepository) MarkIfAbsent(ctx context.Context, record *domain.Reconciliation) (bool, *domain.Reconciliation, error) {
	var (
		first    bool
		existing *domain.Reconciliation
	)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		first, existing, err = markIfAbsent(tx, FromDomainReconciliation(record))
		return err
	})
	if err != nil {
		return false, nil, classify("reconciliation.mark", err)
	}
	return first, existing, nil
}

func markIfAbsent(tx *gorm.DB, model *ReconciliationModel) (bool, *domain.Reconciliation, error) {
	res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(model)
	if res.Error != nil {
		return false, nil, wrapDB("reconciliation.mark", res.Error)
	}
	if res.RowsAffected > 0 {
		return true, nil, nil
	}
	var existing ReconciliationModel
	if err := tx.Where("order_id = ?", model.OrderID).First(&existing).Error; err != nil {
		return false, nil, wrapDB("reconciliation.find", err)
	}
	return false, ToDomainReconciliation(&existing), nil
}

// ReconcileOnce 在一个事务中: 先插入守卫行占位 (主键冲突即重复投递)，再条件扣减库存，最后写回结果。
// 事务回滚时守卫和扣减一起撤销。
func (r *GormReconciliationRepository) ReconcileOnce(ctx context.Context, orderID, productName string, quantity int) (domain.ReconcileResult, error) {
	var result domain.ReconcileResult
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		claim := &ReconciliationModel{
			OrderID:      orderID,
			ProductName:  productName,
			Quantity:     quantity,
			Outcome:      domain.OutcomeProductNotFound,
			ReconciledAt: time.Now(),
		}
		first, existing, err := markIfAbsent(tx, claim)
		if err != nil {
			return err
		}
		if !first {
			result = domain.ReconcileResult{First: false, Record: existing}
			return nil
		}

		dec, err := tryDecrement(tx, productName, quantity)
		if err != nil {
			return err
		}
		record := domain.NewReconciliation(orderID, productName, quantity, dec, claim.ReconciledAt)
		err = tx.Model(&ReconciliationModel{}).Where("order_id = ?", orderID).
			Updates(map[string]interface{}{
				"outcome":   record.Outcome,
				"remaining": record.Remaining,
				"available": record.Available,
			}).Error
		if err != nil {
			return wrapDB("reconciliation.record", err)
		}
		result = domain.ReconcileResult{First: true, Record: record}
		return nil
	})
	if err != nil {
		return domain.ReconcileResult{}, classify("reconciliation.reconcile", err)
	}
	return result, nil
}

// AutoMigrate 创建或更新本服务使用的表
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&OrderModel{}, &StockModel{}, &ReconciliationModel{})
}
