package adapter

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/pkg/errors"
	goredis "github.com/redis/go-redis/v9"

	"stockflow/internal/pkg/redis"
	"stockflow/internal/service/order/domain"
)

const (
	decrementScriptName = "stock_decrement"
	reconcileScriptName = "stock_reconcile"
	markScriptName      = "reconciliation_mark"
	restockScriptName   = "stock_restock"

	stockIndexKey = "stock:products"
)

// StockRedisAdapter 同时实现 domain.StockRepository 和 domain.ReconciliationRepository。
// 库存和守卫 key 使用相同的 hash tag {productName}，cluster 模式下落在同一个 slot，Lua 脚本可以原子地操作二者。
type StockRedisAdapter struct {
	redisClient *redis.Client
	now         func() time.Time
}

// NewStockRedisAdapter 在创建时会加载所有需要的 Lua 脚本。
func NewStockRedisAdapter(redisClient *redis.Client) (*StockRedisAdapter, error) {
	scripts := map[string]string{
		decrementScriptName: decrementScript,
		reconcileScriptName: reconcileScript,
		markScriptName:      markScript,
		restockScriptName:   restockScript,
	}
	for name, body := range scripts {
		if err := redisClient.LoadScriptFromContent(name, body); err != nil {
			return nil, fmt.Errorf("failed to load critical stock script %s: %w", name, err)
		}
	}
	return &StockRedisAdapter{redisClient: redisClient, now: time.Now}, nil
}

func stockKey(productName string) string {
	return fmt.Sprintf("stock:{%s}", productName)
}

func guardKey(productName, orderID string) string {
	return fmt.Sprintf("reconciled:{%s}:%s", productName, orderID)
}

func transient(op string, err error) error {
	return domain.Transient(op, errors.Wrapf(err, "redis %s", op))
}

func (a *StockRedisAdapter) Get(ctx context.Context, productName string) (*domain.WarehouseStock, error) {
	qty, err := a.redisClient.GetClient().Get(ctx, stockKey(productName)).Int()
	if errors.Is(err, goredis.Nil) {
		return nil, domain.ErrProductNotFound
	}
	if err != nil {
		return nil, transient("stock.get", err)
	}
	return &domain.WarehouseStock{ProductName: productName, AvailableQuantity: qty}, nil
}

func (a *StockRedisAdapter) TryDecrement(ctx context.Context, productName string, amount int) (domain.DecrementResult, error) {
	raw, err := a.redisClient.RunScript(ctx, decrementScriptName, []string{stockKey(productName)}, amount)
	if err != nil {
		return domain.DecrementResult{}, transient("stock.decrement", err)
	}
	vals, err := toStrings(raw)
	if err != nil || len(vals) != 2 {
		return domain.DecrementResult{}, fmt.Errorf("unexpected result from decrement script: %v", raw)
	}
	n, _ := strconv.Atoi(vals[1])
	switch vals[0] {
	case "applied":
		return domain.Applied(n), nil
	case "insufficient":
		return domain.Insufficient(n), nil
	case "not_found":
		return domain.NotFound(), nil
	}
	return domain.DecrementResult{}, fmt.Errorf("unknown result code from decrement script: %s", vals[0])
}

// Create 使用 SET NX，已存在时返回 ErrDuplicateProduct
func (a *StockRedisAdapter) Create(ctx context.Context, stock *domain.WarehouseStock) error {
	rdb := a.redisClient.GetClient()
	ok, err := rdb.SetNX(ctx, stockKey(stock.ProductName), stock.AvailableQuantity, 0).Result()
	if err != nil {
		return transient("stock.create", err)
	}
	if !ok {
		return domain.ErrDuplicateProduct
	}
	// 索引只用于列表查询，和库存 key 不在同一个 slot
	if err := rdb.SAdd(ctx, stockIndexKey, stock.ProductName).Err(); err != nil {
		return transient("stock.index", err)
	}
	return nil
}

func (a *StockRedisAdapter) AddQuantity(ctx context.Context, productName string, amount int) (*domain.WarehouseStock, error) {
	raw, err := a.redisClient.RunScript(ctx, restockScriptName, []string{stockKey(productName)}, amount)
	if err != nil {
		return nil, transient("stock.add", err)
	}
	n, ok := raw.(int64)
	if !ok {
		return nil, fmt.Errorf("unexpected result type from restock script: %T", raw)
	}
	if n < 0 {
		return nil, domain.ErrProductNotFound
	}
	return &domain.WarehouseStock{ProductName: productName, AvailableQuantity: int(n), UpdatedAt: a.now()}, nil
}

func (a *StockRedisAdapter) List(ctx context.Context, q domain.StockQuery) (*domain.StockPage, error) {
	rdb := a.redisClient.GetClient()
	names, err := rdb.SMembers(ctx, stockIndexKey).Result()
	if err != nil {
		return nil, transient("stock.list", err)
	}

	// 使用 pipeline 提高效率，cluster 模式下 go-redis 会按 slot 拆分
	pipe := rdb.Pipeline()
	cmds := make([]*goredis.StringCmd, len(names))
	for i, name := range names {
		cmds[i] = pipe.Get(ctx, stockKey(name))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, goredis.Nil) {
		return nil, transient("stock.list", err)
	}

	items := make([]*domain.WarehouseStock, 0, len(names))
	for i, name := range names {
		qty, err := cmds[i].Int()
		if err != nil {
			continue
		}
		items = append(items, &domain.WarehouseStock{ProductName: name, AvailableQuantity: qty})
	}
	sort.Slice(items, func(i, j int) bool { return q.Less(items[i], items[j]) })

	page := &domain.StockPage{Total: int64(len(items)), Page: q.Page, Size: q.Size}
	if start := q.Page * q.Size; start < len(items) {
		end := min(start+q.Size, len(items))
		page.Items = items[start:end]
	}
	return page, nil
}

func (a *StockRedisAdapter) MarkIfAbsent(ctx context.Context, record *domain.Reconciliation) (bool, *domain.Reconciliation, error) {
	keys := []string{guardKey(record.ProductName, record.OrderID)}
	args := []interface{}{
		string(record.Outcome), record.Remaining, record.Available, record.Quantity, record.ReconciledAt.UnixMilli(),
	}
	raw, err := a.redisClient.RunScript(ctx, markScriptName, keys, args...)
	if err != nil {
		return false, nil, transient("reconciliation.mark", err)
	}
	first, rec, err := parseGuardReply(raw, record.OrderID, record.ProductName)
	if err != nil {
		return false, nil, err
	}
	if first {
		return true, nil, nil
	}
	return false, rec, nil
}

func (a *StockRedisAdapter) ReconcileOnce(ctx context.Context, orderID, productName string, quantity int) (domain.ReconcileResult, error) {
	keys := []string{stockKey(productName), guardKey(productName, orderID)}
	raw, err := a.redisClient.RunScript(ctx, reconcileScriptName, keys, quantity, a.now().UnixMilli())
	if err != nil {
		return domain.ReconcileResult{}, transient("reconciliation.reconcile", err)
	}
	first, rec, err := parseGuardReply(raw, orderID, productName)
	if err != nil {
		return domain.ReconcileResult{}, err
	}
	return domain.ReconcileResult{First: first, Record: rec}, nil
}

// parseGuardReply 解析 {tag, outcome, remaining, available, quantity, atMillis}
func parseGuardReply(raw interface{}, orderID, productName string) (bool, *domain.Reconciliation, error) {
	vals, err := toStrings(raw)
	if err != nil || len(vals) != 6 {
		return false, nil, fmt.Errorf("unexpected result from guard script: %v", raw)
	}
	remaining, _ := strconv.Atoi(vals[2])
	available, _ := strconv.Atoi(vals[3])
	quantity, _ := strconv.Atoi(vals[4])
	at, _ := strconv.ParseInt(vals[5], 10, 64)
	rec := &domain.Reconciliation{
		OrderID:      orderID,
		ProductName:  productName,
		Quantity:     quantity,
		Outcome:      domain.Outcome(vals[1]),
		Remaining:    remaining,
		Available:    available,
		ReconciledAt: time.UnixMilli(at),
	}
	return vals[0] == "first", rec, nil
}

func toStrings(raw interface{}) ([]string, error) {
	list, ok := raw.([]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected result type from Lua script: %T", raw)
	}
	out := make([]string, len(list))
	for i, v := range list {
		switch x := v.(type) {
		case string:
			out[i] = x
		case int64:
			out[i] = strconv.FormatInt(x, 10)
		default:
			return nil, fmt.Errorf("unexpected element type from Lua script: %T", v)
		}
	}
	return out, nil
}

var decrementScript = `
-- KEYS[1]: 库存 key, 例如: stock:{Widget}
-- ARGV[1]: 扣减数量
local stock = tonumber(redis.call('get', KEYS[1]))
if not stock then
    return {'not_found', '0'}
end
local amount = tonumber(ARGV[1])
if stock < amount then
    return {'insufficient', tostring(stock)}
end
return {'applied', tostring(redis.call('decrby', KEYS[1], amount))}
`

var reconcileScript = `
-- KEYS[1]: 库存 key, 例如: stock:{Widget}
-- KEYS[2]: 守卫 key, 例如: reconciled:{Widget}:order-1
-- ARGV[1]: 扣减数量
-- ARGV[2]: 当前时间 (毫秒)

-- 1. 已经处理过: 返回首次记录的结果
if redis.call('exists', KEYS[2]) == 1 then
    local r = redis.call('hmget', KEYS[2], 'outcome', 'remaining', 'available', 'quantity', 'at')
    return {'duplicate', r[1], r[2], r[3], r[4], r[5]}
end

-- 2. 条件扣减
local stock = tonumber(redis.call('get', KEYS[1]))
local amount = tonumber(ARGV[1])
local outcome, remaining, available = 'PRODUCT_NOT_FOUND', 0, 0
if stock then
    if stock >= amount then
        remaining = redis.call('decrby', KEYS[1], amount)
        outcome = 'APPLIED'
    else
        available = stock
        outcome = 'INSUFFICIENT_STOCK'
    end
end

-- 3. 写入守卫记录
redis.call('hset', KEYS[2], 'outcome', outcome, 'remaining', remaining, 'available', available, 'quantity', ARGV[1], 'at', ARGV[2])
return {'first', outcome, tostring(remaining), tostring(available), ARGV[1], ARGV[2]}
`

var markScript = `
-- KEYS[1]: 守卫 key
-- ARGV: outcome, remaining, available, quantity, at
if redis.call('exists', KEYS[1]) == 1 then
    local r = redis.call('hmget', KEYS[1], 'outcome', 'remaining', 'available', 'quantity', 'at')
    return {'duplicate', r[1], r[2], r[3], r[4], r[5]}
end
redis.call('hset', KEYS[1], 'outcome', ARGV[1], 'remaining', ARGV[2], 'available', ARGV[3], 'quantity', ARGV[4], 'at', ARGV[5])
return {'first', ARGV[1], ARGV[2], ARGV[3], ARGV[4], ARGV[5]}
`

var restockScript = `
-- KEYS[1]: 库存 key
-- ARGV[1]: 补货数量
if redis.call('exists', KEYS[1]) == 0 then
    return -1
end
return redis.call('incrby', KEYS[1], ARGV[1])
`
