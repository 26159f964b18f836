package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"stockflow/internal/pkg/logger"
	"stockflow/internal/pkg/metrics"
	"stockflow/internal/service/order/domain"
	"stockflow/internal/service/order/domain/port"
)

// AdmissionService 是下单入口: 预检库存 -> 订单落库 -> 发布履约事件。
// 预检只是建议性的，真正的扣减由 ReconciliationService 完成。
type AdmissionService struct {
	stock          *StockLedger
	orders         *OrderLedger
	publisher      port.DispatchPublisher
	policy         port.AdmissionPolicy
	publishTimeout time.Duration
	tracer         trace.Tracer
	now            func() time.Time
}

// NewAdmissionService policy 可以为 nil
func NewAdmissionService(stock *StockLedger, orders *OrderLedger, publisher port.DispatchPublisher, policy port.AdmissionPolicy, publishTimeout time.Duration, tracer trace.Tracer) *AdmissionService {
	return &AdmissionService{
		stock: stock, orders: orders, publisher: publisher, policy: policy,
		publishTimeout: publishTimeout, tracer: tracer, now: time.Now,
	}
}

// Submit 返回 Accepted 或 Rejected。
// 业务拒绝不是错误；error 只有 ErrInvalidInput / ErrDuplicateOrder / TransientError 三类。
func (s *AdmissionService) Submit(ctx context.Context, cmd SubmitOrderCommand) (domain.OrderOutcome, error) {
	ctx, span := s.tracer.Start(ctx, "app.Submit", trace.WithAttributes(
		attribute.String("order.id", cmd.OrderID),
		attribute.String("product.name", cmd.ProductName),
		attribute.Int("order.quantity", cmd.Quantity),
	))
	defer span.End()

	start := time.Now()
	defer func() { metrics.AdmissionDuration.Observe(time.Since(start).Seconds()) }()

	// 1. 输入校验，失败时没有任何副作用
	order, err := domain.NewOrder(cmd.OrderID, cmd.ProductName, cmd.Quantity, s.now())
	if err != nil {
		metrics.AdmissionsTotal.WithLabelValues("invalid", "").Inc()
		return domain.OrderOutcome{}, err
	}
	if s.policy != nil {
		if err := s.policy.Check(ctx, order); err != nil {
			metrics.AdmissionsTotal.WithLabelValues("invalid", "policy").Inc()
			logger.Ctx(ctx).Info().Str("order_id", order.ID).Err(err).Msg("order rejected by admission policy")
			return domain.OrderOutcome{}, err
		}
	}

	// 2. 建议性库存预检
	rejection, err := s.precheck(ctx, order)
	if err != nil {
		recordSpanError(span, err, "advisory stock check failed")
		metrics.AdmissionsTotal.WithLabelValues("error", "").Inc()
		return domain.OrderOutcome{}, err
	}
	if rejection != nil {
		return s.reject(ctx, order, *rejection)
	}

	// 3. 预检通过，PENDING 落库
	if err := s.orders.Create(ctx, order); err != nil {
		if errors.Is(err, domain.ErrDuplicateOrder) {
			return s.resolveDuplicate(ctx, order)
		}
		metrics.AdmissionsTotal.WithLabelValues("error", "").Inc()
		return domain.OrderOutcome{}, err
	}
	span.AddEvent("Order persisted with PENDING status.")

	// 4. 发布履约事件
	if err := s.publish(ctx, order); err != nil {
		recordSpanError(span, err, "dispatch publish failed")
		metrics.AdmissionsTotal.WithLabelValues("error", "").Inc()
		return domain.OrderOutcome{}, err
	}

	metrics.AdmissionsTotal.WithLabelValues("accepted", "").Inc()
	logger.Ctx(ctx).Info().
		Str("order_id", order.ID).
		Str("product", order.ProductName).
		Int("quantity", order.Quantity).
		Msg("order accepted and dispatched")
	return domain.Accepted(order), nil
}

// precheck 返回 nil 表示预检通过
func (s *AdmissionService) precheck(ctx context.Context, order *domain.Order) (*domain.Rejection, error) {
	stock, err := s.stock.Get(ctx, order.ProductName)
	switch {
	case errors.Is(err, domain.ErrProductNotFound):
		return &domain.Rejection{Reason: domain.ReasonProductNotFound}, nil
	case err != nil:
		return nil, err
	case stock.AvailableQuantity == 0:
		return &domain.Rejection{Reason: domain.ReasonOutOfStock}, nil
	case order.Quantity > stock.AvailableQuantity:
		return &domain.Rejection{Reason: domain.ReasonInsufficientStock, Available: stock.AvailableQuantity}, nil
	}
	return nil, nil
}

// reject 预检失败的订单也要落库 (FAILED + 原因)，但不发布事件
func (s *AdmissionService) reject(ctx context.Context, order *domain.Order, rejection domain.Rejection) (domain.OrderOutcome, error) {
	if err := order.MarkAsFailed(rejection.Reason, s.now()); err != nil {
		return domain.OrderOutcome{}, err
	}
	if err := s.orders.Create(ctx, order); err != nil {
		if errors.Is(err, domain.ErrDuplicateOrder) {
			return s.resolveDuplicate(ctx, order)
		}
		metrics.AdmissionsTotal.WithLabelValues("error", "").Inc()
		return domain.OrderOutcome{}, err
	}

	metrics.AdmissionsTotal.WithLabelValues("rejected", string(rejection.Reason)).Inc()
	logger.Ctx(ctx).Info().
		Str("order_id", order.ID).
		Str("product", order.ProductName).
		Str("rejection", rejection.String()).
		Msg("order rejected by advisory stock check")
	return domain.Rejected(order, rejection), nil
}

// resolveDuplicate 处理 orderId 已存在的情况:
// 相同请求且仍为 PENDING 时重新发布事件 (上次发布可能失败了)；已是终态时直接返回记录的结果；
// 请求内容不同则返回 ErrDuplicateOrder。
func (s *AdmissionService) resolveDuplicate(ctx context.Context, order *domain.Order) (domain.OrderOutcome, error) {
	existing, err := s.orders.Get(ctx, order.ID)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			// Create 报重复但读不到，按瞬时故障处理，让调用方重试
			err = domain.Transient("orders.find", err)
		}
		metrics.AdmissionsTotal.WithLabelValues("error", "").Inc()
		return domain.OrderOutcome{}, err
	}
	if !existing.SamePayload(order) {
		metrics.AdmissionsTotal.WithLabelValues("duplicate", "").Inc()
		return domain.OrderOutcome{}, fmt.Errorf("order %s: %w", order.ID, domain.ErrDuplicateOrder)
	}

	log := logger.Ctx(ctx)
	switch existing.Status {
	case domain.StatusPending:
		log.Info().Str("order_id", existing.ID).Msg("duplicate submission of pending order, republishing dispatch event")
		if err := s.publish(ctx, existing); err != nil {
			metrics.AdmissionsTotal.WithLabelValues("error", "").Inc()
			return domain.OrderOutcome{}, err
		}
		metrics.AdmissionsTotal.WithLabelValues("accepted", "resubmitted").Inc()
		return domain.Accepted(existing), nil
	case domain.StatusProcessed:
		metrics.AdmissionsTotal.WithLabelValues("accepted", "resubmitted").Inc()
		return domain.Accepted(existing), nil
	default:
		metrics.AdmissionsTotal.WithLabelValues("rejected", string(existing.Reason)).Inc()
		return domain.Rejected(existing, domain.Rejection{Reason: existing.Reason}), nil
	}
}

func (s *AdmissionService) publish(ctx context.Context, order *domain.Order) error {
	// 取消只在发布前生效，之后交给通道
	if err := ctx.Err(); err != nil {
		return domain.Transient("dispatch.publish", err)
	}
	pubCtx, cancel := withTimeout(ctx, s.publishTimeout)
	defer cancel()

	event := domain.NewDispatchEvent(order, s.now())
	if err := s.publisher.PublishDispatch(pubCtx, event); err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("order_id", order.ID).Msg("failed to publish dispatch event, order stays PENDING")
		return domain.Transient("dispatch.publish", err)
	}
	return nil
}

// GetOrder 查询订单当前状态
func (s *AdmissionService) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "app.GetOrder", trace.WithAttributes(attribute.String("order.id", orderID)))
	defer span.End()
	return s.orders.Get(ctx, orderID)
}
