package application

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"stockflow/internal/pkg/logger"
	"stockflow/internal/service/order/domain"
)

// InventoryService 管理商品入库和补货
type InventoryService struct {
	repo    domain.StockRepository
	timeout time.Duration
	tracer  trace.Tracer
	now     func() time.Time
}

func NewInventoryService(repo domain.StockRepository, timeout time.Duration, tracer trace.Tracer) *InventoryService {
	return &InventoryService{repo: repo, timeout: timeout, tracer: tracer, now: time.Now}
}

// AddStock 商品已存在时返回 domain.ErrDuplicateProduct
func (s *InventoryService) AddStock(ctx context.Context, cmd AddStockCommand) (*domain.WarehouseStock, error) {
	ctx, span := s.tracer.Start(ctx, "app.AddStock", trace.WithAttributes(attribute.String("product.name", cmd.ProductName)))
	defer span.End()

	stock, err := domain.NewWarehouseStock(cmd.ProductName, cmd.AvailableQuantity, s.now())
	if err != nil {
		return nil, err
	}
	sctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.repo.Create(sctx, stock); err != nil {
		err = classifyStoreErr("stock.create", err)
		recordSpanError(span, err, "add stock failed")
		return nil, err
	}
	logger.Ctx(ctx).Info().Str("product", stock.ProductName).Int("quantity", stock.AvailableQuantity).Msg("stock added")
	return stock, nil
}

func (s *InventoryService) ListStock(ctx context.Context, q domain.StockQuery) (*domain.StockPage, error) {
	ctx, span := s.tracer.Start(ctx, "app.ListStock")
	defer span.End()

	q, err := q.Normalize()
	if err != nil {
		return nil, err
	}
	sctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()
	page, err := s.repo.List(sctx, q)
	if err != nil {
		err = classifyStoreErr("stock.list", err)
		recordSpanError(span, err, "list stock failed")
		return nil, err
	}
	return page, nil
}

// Restock 原子增加库存，additional 至少为 1
func (s *InventoryService) Restock(ctx context.Context, productName string, additional int) (*domain.WarehouseStock, error) {
	ctx, span := s.tracer.Start(ctx, "app.Restock", trace.WithAttributes(
		attribute.String("product.name", productName),
		attribute.Int("stock.additional", additional),
	))
	defer span.End()

	if err := domain.ValidateQuantity("additionalQuantity", additional); err != nil {
		return nil, err
	}
	sctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()
	stock, err := s.repo.AddQuantity(sctx, productName, additional)
	if err != nil {
		err = classifyStoreErr("stock.add", err)
		recordSpanError(span, err, "restock failed")
		return nil, err
	}
	logger.Ctx(ctx).Info().Str("product", productName).Int("added", additional).Int("available", stock.AvailableQuantity).Msg("stock replenished")
	return stock, nil
}
