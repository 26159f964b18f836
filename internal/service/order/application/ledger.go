package application

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"stockflow/internal/service/order/domain"
)

// withTimeout d <= 0 时不设置超时
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// classifyStoreErr 超时和取消统一转为 TransientError，业务错误原样返回
func classifyStoreErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var te *domain.TransientError
	if errors.As(err, &te) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return domain.Transient(op, err)
	}
	return err
}

func recordSpanError(span trace.Span, err error, msg string) {
	span.RecordError(err)
	span.SetStatus(codes.Error, msg)
}

// StockLedger 是仓库存量的权威记录，所有扣减都是存储层的条件更新。
type StockLedger struct {
	repo    domain.StockRepository
	timeout time.Duration
	tracer  trace.Tracer
}

func NewStockLedger(repo domain.StockRepository, timeout time.Duration, tracer trace.Tracer) *StockLedger {
	return &StockLedger{repo: repo, timeout: timeout, tracer: tracer}
}

// Get 读取当前库存，不存在时返回 domain.ErrProductNotFound
func (l *StockLedger) Get(ctx context.Context, productName string) (*domain.WarehouseStock, error) {
	ctx, span := l.tracer.Start(ctx, "ledger.stock.Get", trace.WithAttributes(attribute.String("product.name", productName)))
	defer span.End()

	ctx, cancel := withTimeout(ctx, l.timeout)
	defer cancel()
	st, err := l.repo.Get(ctx, productName)
	if err != nil {
		err = classifyStoreErr("stock.get", err)
		if domain.IsTransient(err) {
			recordSpanError(span, err, "stock read failed")
		}
		return nil, err
	}
	span.SetAttributes(attribute.Int("stock.available", st.AvailableQuantity))
	return st, nil
}

// TryDecrement available >= amount 时扣减。Insufficient / NotFound 是结果不是错误。
func (l *StockLedger) TryDecrement(ctx context.Context, productName string, amount int) (domain.DecrementResult, error) {
	ctx, span := l.tracer.Start(ctx, "ledger.stock.TryDecrement", trace.WithAttributes(
		attribute.String("product.name", productName),
		attribute.Int("stock.amount", amount),
	))
	defer span.End()

	if err := domain.ValidateQuantity("amount", amount); err != nil {
		return domain.DecrementResult{}, err
	}
	ctx, cancel := withTimeout(ctx, l.timeout)
	defer cancel()
	res, err := l.repo.TryDecrement(ctx, productName, amount)
	if err != nil {
		err = classifyStoreErr("stock.decrement", err)
		recordSpanError(span, err, "conditional decrement failed")
		return domain.DecrementResult{}, err
	}
	span.SetAttributes(attribute.String("stock.result", res.Kind.String()))
	return res, nil
}

// OrderLedger 是订单的持久化记录，也是订单状态的审计来源。
type OrderLedger struct {
	repo    domain.OrderRepository
	timeout time.Duration
	tracer  trace.Tracer
}

func NewOrderLedger(repo domain.OrderRepository, timeout time.Duration, tracer trace.Tracer) *OrderLedger {
	return &OrderLedger{repo: repo, timeout: timeout, tracer: tracer}
}

// Create orderId 已存在时返回 domain.ErrDuplicateOrder
func (l *OrderLedger) Create(ctx context.Context, order *domain.Order) error {
	ctx, span := l.tracer.Start(ctx, "ledger.order.Create", trace.WithAttributes(
		attribute.String("order.id", order.ID),
		attribute.String("order.status", string(order.Status)),
	))
	defer span.End()

	ctx, cancel := withTimeout(ctx, l.timeout)
	defer cancel()
	if err := l.repo.Create(ctx, order); err != nil {
		err = classifyStoreErr("orders.create", err)
		recordSpanError(span, err, "order create failed")
		return err
	}
	return nil
}

// SetStatus 幂等: 重复写入相同状态不会报错
func (l *OrderLedger) SetStatus(ctx context.Context, orderID string, status domain.Status, reason domain.Reason) error {
	ctx, span := l.tracer.Start(ctx, "ledger.order.SetStatus", trace.WithAttributes(
		attribute.String("order.id", orderID),
		attribute.String("order.status", string(status)),
		attribute.String("order.reason", string(reason)),
	))
	defer span.End()

	ctx, cancel := withTimeout(ctx, l.timeout)
	defer cancel()
	if err := l.repo.UpdateStatus(ctx, orderID, status, reason); err != nil {
		err = classifyStoreErr("orders.update_status", err)
		recordSpanError(span, err, "order status update failed")
		return err
	}
	return nil
}

func (l *OrderLedger) Get(ctx context.Context, orderID string) (*domain.Order, error) {
	ctx, span := l.tracer.Start(ctx, "ledger.order.Get", trace.WithAttributes(attribute.String("order.id", orderID)))
	defer span.End()

	ctx, cancel := withTimeout(ctx, l.timeout)
	defer cancel()
	o, err := l.repo.FindByID(ctx, orderID)
	if err != nil {
		return nil, classifyStoreErr("orders.find", err)
	}
	return o, nil
}

// DedupGuard 保证每个 orderId 的库存扣减最多生效一次
type DedupGuard struct {
	repo    domain.ReconciliationRepository
	timeout time.Duration
	tracer  trace.Tracer
}

func NewDedupGuard(repo domain.ReconciliationRepository, timeout time.Duration, tracer trace.Tracer) *DedupGuard {
	return &DedupGuard{repo: repo, timeout: timeout, tracer: tracer}
}

// MarkIfAbsent 返回 First=true 表示首次标记；否则 Record 为已有记录
func (g *DedupGuard) MarkIfAbsent(ctx context.Context, record *domain.Reconciliation) (domain.ReconcileResult, error) {
	ctx, span := g.tracer.Start(ctx, "guard.MarkIfAbsent", trace.WithAttributes(attribute.String("order.id", record.OrderID)))
	defer span.End()

	ctx, cancel := withTimeout(ctx, g.timeout)
	defer cancel()
	first, existing, err := g.repo.MarkIfAbsent(ctx, record)
	if err != nil {
		err = classifyStoreErr("reconciliation.mark", err)
		recordSpanError(span, err, "guard mark failed")
		return domain.ReconcileResult{}, err
	}
	if first {
		return domain.ReconcileResult{First: true, Record: record}, nil
	}
	return domain.ReconcileResult{First: false, Record: existing}, nil
}

// ReconcileOnce 守卫检查与条件扣减在存储层的同一个原子单元中完成
func (g *DedupGuard) ReconcileOnce(ctx context.Context, orderID, productName string, quantity int) (domain.ReconcileResult, error) {
	ctx, span := g.tracer.Start(ctx, "guard.ReconcileOnce", trace.WithAttributes(
		attribute.String("order.id", orderID),
		attribute.String("product.name", productName),
		attribute.Int("order.quantity", quantity),
	))
	defer span.End()

	ctx, cancel := withTimeout(ctx, g.timeout)
	defer cancel()
	res, err := g.repo.ReconcileOnce(ctx, orderID, productName, quantity)
	if err != nil {
		err = classifyStoreErr("reconciliation.reconcile", err)
		recordSpanError(span, err, "reconcile failed")
		return domain.ReconcileResult{}, err
	}
	span.SetAttributes(
		attribute.Bool("guard.first", res.First),
		attribute.String("reconciliation.outcome", string(res.Record.Outcome)),
	)
	return res, nil
}
