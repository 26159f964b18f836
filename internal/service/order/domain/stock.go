package domain

import (
	"fmt"
	"time"
)

// WarehouseStock 是某个商品的仓库存量，AvailableQuantity 永远不小于 0
type WarehouseStock struct {
	ProductName       string
	AvailableQuantity int
	UpdatedAt         time.Time
}

func NewWarehouseStock(productName string, quantity int, now time.Time) (*WarehouseStock, error) {
	if err := ValidateProductName(productName); err != nil {
		return nil, err
	}
	if err := ValidateQuantity("availableQuantity", quantity); err != nil {
		return nil, err
	}
	return &WarehouseStock{ProductName: productName, AvailableQuantity: quantity, UpdatedAt: now}, nil
}

// DecrementKind 条件扣减的三种结果
type DecrementKind int

const (
	DecrementApplied DecrementKind = iota + 1
	DecrementInsufficient
	DecrementNotFound
)

func (k DecrementKind) String() string {
	switch k {
	case DecrementApplied:
		return "applied"
	case DecrementInsufficient:
		return "insufficient"
	case DecrementNotFound:
		return "not_found"
	}
	return fmt.Sprintf("DecrementKind(%d)", int(k))
}

// DecrementResult 是一次 "available >= amount 时才扣减" 的结果。
// Applied 时 Remaining 为扣减后的库存；Insufficient 时 Available 为当时的库存。
type DecrementResult struct {
	Kind      DecrementKind
	Remaining int
	Available int
}

func Applied(remaining int) DecrementResult {
	return DecrementResult{Kind: DecrementApplied, Remaining: remaining}
}

func Insufficient(available int) DecrementResult {
	return DecrementResult{Kind: DecrementInsufficient, Available: available}
}

func NotFound() DecrementResult {
	return DecrementResult{Kind: DecrementNotFound}
}

// 库存列表的排序字段
const (
	SortByProductName       = "productName"
	SortByAvailableQuantity = "availableQuantity"
)

const maxPageSize = 100

// StockQuery 分页查询库存
type StockQuery struct {
	Page   int // 从 0 开始
	Size   int
	SortBy string
	Desc   bool
}

// Normalize 填充默认值并校验
func (q StockQuery) Normalize() (StockQuery, error) {
	if q.Size == 0 {
		q.Size = 10
	}
	if q.SortBy == "" {
		q.SortBy = SortByProductName
	}
	if q.Page < 0 {
		return q, invalid("page", "must not be negative")
	}
	if q.Size < 1 || q.Size > maxPageSize {
		return q, invalid("size", "must be between 1 and %d", maxPageSize)
	}
	if q.SortBy != SortByProductName && q.SortBy != SortByAvailableQuantity {
		return q, invalid("sortBy", "must be %s or %s", SortByProductName, SortByAvailableQuantity)
	}
	return q, nil
}

// Less 是内存排序用的比较函数: 主排序字段按 Desc 决定方向，相同时按商品名升序
func (q StockQuery) Less(a, b *WarehouseStock) bool {
	if q.SortBy == SortByAvailableQuantity && a.AvailableQuantity != b.AvailableQuantity {
		if q.Desc {
			return a.AvailableQuantity > b.AvailableQuantity
		}
		return a.AvailableQuantity < b.AvailableQuantity
	}
	if q.SortBy != SortByAvailableQuantity && q.Desc {
		return a.ProductName > b.ProductName
	}
	return a.ProductName < b.ProductName
}

// StockPage 是一页库存数据
type StockPage struct {
	Items []*WarehouseStock
	Total int64
	Page  int
	Size  int
}
