package infrastructure

import (
	"context"
	"sort"
	"sync"
	"time"

	"stockflow/internal/service/order/domain"
)

// MemoryStore 在一个进程内同时实现订单、库存和去重守卫三个仓储。
// 所有操作都在同一把锁内完成，ReconcileOnce 因此天然是原子的。
// 用于 embedded 模式和测试。
type MemoryStore struct {
	mu       sync.Mutex
	orders   map[string]domain.Order
	stock    map[string]domain.WarehouseStock
	reconcil map[string]domain.Reconciliation
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders:   make(map[string]domain.Order),
		stock:    make(map[string]domain.WarehouseStock),
		reconcil: make(map[string]domain.Reconciliation),
		now:      time.Now,
	}
}

// --- OrderRepository ---

func (s *MemoryStore) Create(ctx context.Context, order *domain.Order) error {
	if err := ctx.Err(); err != nil {
		return domain.Transient("memory.orders.create", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[order.ID]; ok {
		return domain.ErrDuplicateOrder
	}
	s.orders[order.ID] = *order
	return nil
}

func (s *MemoryStore) FindByID(ctx context.Context, id string) (*domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.Transient("memory.orders.find", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	return &o, nil
}

func (s *MemoryStore) UpdateStatus(ctx context.Context, id string, status domain.Status, reason domain.Reason) error {
	if err := ctx.Err(); err != nil {
		return domain.Transient("memory.orders.update_status", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !status.Valid() {
		return domain.ErrInvalidInput
	}
	o, ok := s.orders[id]
	if !ok {
		return domain.ErrOrderNotFound
	}
	o.Status = status
	o.Reason = reason
	o.UpdatedAt = s.now()
	s.orders[id] = o
	return nil
}

// --- StockRepository ---

// StockStore 暴露 StockRepository 视图 (方法名与 OrderRepository 的 Create 冲突)
func (s *MemoryStore) StockStore() *MemoryStockStore {
	return &MemoryStockStore{s: s}
}

// MemoryStockStore 是 MemoryStore 的库存视图
type MemoryStockStore struct {
	s *MemoryStore
}

func (m *MemoryStockStore) Get(ctx context.Context, productName string) (*domain.WarehouseStock, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.Transient("memory.stock.get", err)
	}
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	st, ok := m.s.stock[productName]
	if !ok {
		return nil, domain.ErrProductNotFound
	}
	return &st, nil
}

func (m *MemoryStockStore) TryDecrement(ctx context.Context, productName string, amount int) (domain.DecrementResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.DecrementResult{}, domain.Transient("memory.stock.decrement", err)
	}
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	return m.s.decrementLocked(productName, amount), nil
}

func (s *MemoryStore) decrementLocked(productName string, amount int) domain.DecrementResult {
	st, ok := s.stock[productName]
	if !ok {
		return domain.NotFound()
	}
	if st.AvailableQuantity < amount {
		return domain.Insufficient(st.AvailableQuantity)
	}
	st.AvailableQuantity -= amount
	st.UpdatedAt = s.now()
	s.stock[productName] = st
	return domain.Applied(st.AvailableQuantity)
}

func (m *MemoryStockStore) Create(ctx context.Context, stock *domain.WarehouseStock) error {
	if err := ctx.Err(); err != nil {
		return domain.Transient("memory.stock.create", err)
	}
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if _, ok := m.s.stock[stock.ProductName]; ok {
		return domain.ErrDuplicateProduct
	}
	m.s.stock[stock.ProductName] = *stock
	return nil
}

func (m *MemoryStockStore) AddQuantity(ctx context.Context, productName string, amount int) (*domain.WarehouseStock, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.Transient("memory.stock.add", err)
	}
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	st, ok := m.s.stock[productName]
	if !ok {
		return nil, domain.ErrProductNotFound
	}
	st.AvailableQuantity += amount
	st.UpdatedAt = m.s.now()
	m.s.stock[productName] = st
	return &st, nil
}

func (m *MemoryStockStore) List(ctx context.Context, q domain.StockQuery) (*domain.StockPage, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.Transient("memory.stock.list", err)
	}
	m.s.mu.Lock()
	items := make([]*domain.WarehouseStock, 0, len(m.s.stock))
	for _, st := range m.s.stock {
		items = append(items, &st)
	}
	m.s.mu.Unlock()

	sort.Slice(items, func(i, j int) bool { return q.Less(items[i], items[j]) })

	page := &domain.StockPage{Total: int64(len(items)), Page: q.Page, Size: q.Size}
	start := q.Page * q.Size
	if start < len(items) {
		end := start + q.Size
		if end > len(items) {
			end = len(items)
		}
		page.Items = items[start:end]
	}
	return page, nil
}

// --- ReconciliationRepository ---

func (s *MemoryStore) MarkIfAbsent(ctx context.Context, record *domain.Reconciliation) (bool, *domain.Reconciliation, error) {
	if err := ctx.Err(); err != nil {
		return false, nil, domain.Transient("memory.reconciliation.mark", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.reconcil[record.OrderID]; ok {
		return false, &existing, nil
	}
	s.reconcil[record.OrderID] = *record
	return true, nil, nil
}

func (s *MemoryStore) ReconcileOnce(ctx context.Context, orderID, productName string, quantity int) (domain.ReconcileResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.ReconcileResult{}, domain.Transient("memory.reconciliation.reconcile", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.reconcil[orderID]; ok {
		return domain.ReconcileResult{First: false, Record: &existing}, nil
	}
	res := s.decrementLocked(productName, quantity)
	record := domain.NewReconciliation(orderID, productName, quantity, res, s.now())
	s.reconcil[orderID] = *record
	return domain.ReconcileResult{First: true, Record: record}, nil
}
