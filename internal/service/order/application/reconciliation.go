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

// ReconciliationService 是仓库端的权威扣减。
// 返回 nil 表示可以 ack；返回 TransientError 表示不要 ack，等待重新投递。
type ReconciliationService struct {
	guard         *DedupGuard
	orders        *OrderLedger
	notifier      port.OutcomeNotifier
	notifyTimeout time.Duration
	tracer        trace.Tracer
}

// NewReconciliationService notifier 可以为 nil
func NewReconciliationService(guard *DedupGuard, orders *OrderLedger, notifier port.OutcomeNotifier, notifyTimeout time.Duration, tracer trace.Tracer) *ReconciliationService {
	return &ReconciliationService{guard: guard, orders: orders, notifier: notifier, notifyTimeout: notifyTimeout, tracer: tracer}
}

func (s *ReconciliationService) HandleDispatch(ctx context.Context, event *domain.DispatchEvent) error {
	ctx, span := s.tracer.Start(ctx, "app.HandleDispatch", trace.WithSpanKind(trace.SpanKindConsumer), trace.WithAttributes(
		attribute.String("order.id", event.OrderID),
		attribute.String("event.id", event.EventID),
	))
	defer span.End()

	if err := event.Validate(); err != nil {
		recordSpanError(span, err, "invalid dispatch event")
		return err
	}
	log := logger.Ctx(ctx)

	// 0. 先确认订单存在且与事件一致，否则在扣减之前就交给死信
	if err := s.checkOrder(ctx, event); err != nil {
		if domain.IsTransient(err) {
			log.Warn().Err(err).Str("order_id", event.OrderID).Msg("order lookup failed, leaving message unacknowledged")
		} else {
			recordSpanError(span, err, "dispatch event has no matching order")
		}
		return err
	}

	// 1+2. 去重守卫 + 条件扣减，同一个原子单元
	res, err := s.guard.ReconcileOnce(ctx, event.OrderID, event.ProductName, event.Quantity)
	if err != nil {
		log.Warn().Err(err).Str("order_id", event.OrderID).Msg("reconciliation failed, leaving message unacknowledged")
		return err
	}
	rec := res.Record
	if res.First {
		metrics.ReconciliationsTotal.WithLabelValues(string(rec.Outcome)).Inc()
		log.Info().
			Str("order_id", rec.OrderID).
			Str("product", rec.ProductName).
			Str("outcome", string(rec.Outcome)).
			Int("remaining", rec.Remaining).
			Msg("stock reconciled")
	} else {
		metrics.DuplicateDeliveriesTotal.Inc()
		span.AddEvent("Duplicate delivery suppressed by dedup guard.")
		log.Info().Str("order_id", rec.OrderID).Str("outcome", string(rec.Outcome)).Msg("duplicate dispatch event, re-applying recorded outcome")
	}

	// 3. 写入订单终态。重复投递时也要写，用来修复 "扣减已提交但状态未写入" 的情况。
	// 扣减已经提交，这里的任何失败都不能 ack，否则状态永远不会写入
	if err := s.orders.SetStatus(ctx, rec.OrderID, rec.Status(), rec.Reason()); err != nil {
		recordSpanError(span, err, "order status write failed")
		if !domain.IsTransient(err) {
			log.Error().Err(err).Str("order_id", rec.OrderID).Str("status", string(rec.Status())).Msg("CRITICAL: stock reconciled but order status could not be recorded")
			err = domain.Transient("orders.update_status", fmt.Errorf("set status of order %s: %w", rec.OrderID, err))
		} else {
			log.Warn().Err(err).Str("order_id", rec.OrderID).Msg("order status write failed, leaving message unacknowledged")
		}
		return err
	}

	// 4. 结果通知，失败只记日志
	if res.First && s.notifier != nil {
		s.notify(ctx, rec)
	}
	return nil
}

func (s *ReconciliationService) notify(ctx context.Context, rec *domain.Reconciliation) {
	nctx, cancel := withTimeout(ctx, s.notifyTimeout)
	defer cancel()
	if err := s.notifier.NotifyReconciled(nctx, domain.NewOrderReconciledEvent(rec)); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("order_id", rec.OrderID).Msg("failed to publish reconciliation outcome")
	}
}

// checkOrder 订单不存在或内容不一致的事件重试也不会成功，返回非瞬时错误
func (s *ReconciliationService) checkOrder(ctx context.Context, event *domain.DispatchEvent) error {
	order, err := s.orders.Get(ctx, event.OrderID)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			return fmt.Errorf("dispatch event for order %s: %w", event.OrderID, err)
		}
		return err
	}
	if order.ProductName != event.ProductName || order.Quantity != event.Quantity {
		return fmt.Errorf("dispatch event for order %s does not match the stored order (%s x%d): %w",
			event.OrderID, order.ProductName, order.Quantity, domain.ErrInvalidInput)
	}
	return nil
}
