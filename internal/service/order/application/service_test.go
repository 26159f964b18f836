package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.opentelemetry.io/otel/trace/noop"

	"stockflow/internal/service/order/domain"
	"stockflow/internal/service/order/infrastructure"
)

var errInjected = errors.New("injected i/o failure")

// recordingPublisher 记录发布过的事件，fail 非 nil 时发布失败
type recordingPublisher struct {
	mu     sync.Mutex
	events []*domain.DispatchEvent
	fail   error
}

func (p *recordingPublisher) PublishDispatch(_ context.Context, e *domain.DispatchEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail != nil {
		return p.fail
	}
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) setFail(err error) {
	p.mu.Lock()
	p.fail = err
	p.mu.Unlock()
}

func (p *recordingPublisher) take() []*domain.DispatchEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.events
	p.events = nil
	return out
}

// flakyOrders 让接下来的 failUpdates 次 UpdateStatus 以瞬时故障失败，
// rejectUpdates 次以非瞬时错误失败
type flakyOrders struct {
	domain.OrderRepository
	failUpdates   atomic.Int32
	rejectUpdates atomic.Int32
}

func (f *flakyOrders) UpdateStatus(ctx context.Context, id string, status domain.Status, reason domain.Reason) error {
	if f.failUpdates.Add(-1) >= 0 {
		return domain.Transient("orders.update_status", errInjected)
	}
	if f.rejectUpdates.Add(-1) >= 0 {
		return domain.ErrOrderNotFound
	}
	return f.OrderRepository.UpdateStatus(ctx, id, status, reason)
}

// flakyGuard failBefore: 不执行就失败；failAfter: 执行成功但调用方收到失败 (提交后响应丢失)
type flakyGuard struct {
	domain.ReconciliationRepository
	failBefore atomic.Int32
	failAfter  atomic.Int32
}

func (f *flakyGuard) ReconcileOnce(ctx context.Context, orderID, productName string, quantity int) (domain.ReconcileResult, error) {
	if f.failBefore.Add(-1) >= 0 {
		return domain.ReconcileResult{}, domain.Transient("reconciliation.reconcile", errInjected)
	}
	res, err := f.ReconciliationRepository.ReconcileOnce(ctx, orderID, productName, quantity)
	if err == nil && f.failAfter.Add(-1) >= 0 {
		return domain.ReconcileResult{}, domain.Transient("reconciliation.reconcile", errInjected)
	}
	return res, err
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []*domain.OrderReconciledEvent
	fail   error
}

func (n *recordingNotifier) NotifyReconciled(_ context.Context, e *domain.OrderReconciledEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail != nil {
		return n.fail
	}
	n.events = append(n.events, e)
	return nil
}

type harness struct {
	store     *infrastructure.MemoryStore
	orders    *flakyOrders
	guardRepo *flakyGuard
	publisher *recordingPublisher
	notifier  *recordingNotifier
	admission *AdmissionService
	reconcile *ReconciliationService
	inventory *InventoryService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	tracer := noop.NewTracerProvider().Tracer("test")
	store := infrastructure.NewMemoryStore()
	h := &harness{
		store:     store,
		orders:    &flakyOrders{OrderRepository: store},
		guardRepo: &flakyGuard{ReconciliationRepository: store},
		publisher: &recordingPublisher{},
		notifier:  &recordingNotifier{},
	}
	stockLedger := NewStockLedger(store.StockStore(), time.Second, tracer)
	orderLedger := NewOrderLedger(h.orders, time.Second, tracer)
	guard := NewDedupGuard(h.guardRepo, time.Second, tracer)
	h.admission = NewAdmissionService(stockLedger, orderLedger, h.publisher, nil, time.Second, tracer)
	h.reconcile = NewReconciliationService(guard, orderLedger, h.notifier, time.Second, tracer)
	h.inventory = NewInventoryService(store.StockStore(), time.Second, tracer)
	return h
}

func (h *harness) seed(t *testing.T, name string, qty int) {
	t.Helper()
	if _, err := h.inventory.AddStock(t.Context(), AddStockCommand{ProductName: name, AvailableQuantity: qty}); err != nil {
		t.Fatalf("seed %s: %v", name, err)
	}
}

func (h *harness) available(t *testing.T, name string) int {
	t.Helper()
	st, err := h.store.StockStore().Get(t.Context(), name)
	if err != nil {
		t.Fatalf("get stock %s: %v", name, err)
	}
	return st.AvailableQuantity
}

func (h *harness) order(t *testing.T, id string) *domain.Order {
	t.Helper()
	o, err := h.store.FindByID(t.Context(), id)
	if err != nil {
		t.Fatalf("find order %s: %v", id, err)
	}
	return o
}

// deliverAll 把已发布的事件交给消费端，直到全部 ack
func (h *harness) deliverAll(t *testing.T) {
	t.Helper()
	for _, e := range h.publisher.take() {
		if err := h.reconcile.HandleDispatch(t.Context(), e); err != nil {
			t.Fatalf("HandleDispatch(%s): %v", e.OrderID, err)
		}
	}
}

func TestSubmitAcceptedRoundTrip(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "Widget", 5)

	out, err := h.admission.Submit(t.Context(), SubmitOrderCommand{OrderID: "O1", ProductName: "Widget", Quantity: 3})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !out.IsAccepted() || out.Order.Status != domain.StatusPending {
		t.Fatalf("outcome = %+v, want accepted PENDING", out)
	}
	if got := h.order(t, "O1").Status; got != domain.StatusPending {
		t.Fatalf("stored status = %s, want PENDING", got)
	}

	events := h.publisher.take()
	if len(events) != 1 || events[0].OrderID != "O1" || events[0].Quantity != 3 {
		t.Fatalf("published = %+v", events)
	}
	if err := h.reconcile.HandleDispatch(t.Context(), events[0]); err != nil {
		t.Fatalf("HandleDispatch: %v", err)
	}

	if got := h.order(t, "O1").Status; got != domain.StatusProcessed {
		t.Fatalf("status = %s, want PROCESSED", got)
	}
	if got := h.available(t, "Widget"); got != 2 {
		t.Fatalf("stock = %d, want 2", got)
	}
	if len(h.notifier.events) != 1 || h.notifier.events[0].Outcome != domain.OutcomeApplied || h.notifier.events[0].Remaining != 2 {
		t.Fatalf("notifications = %+v", h.notifier.events)
	}
}

func TestSubmitAdvisoryRejections(t *testing.T) {
	tests := []struct {
		name      string
		seedName  string
		seedQty   int
		drain     int
		quantity  int
		product   string
		reason    domain.Reason
		available int
	}{
		{name: "insufficient stock", seedName: "Gadget", seedQty: 2, quantity: 10, product: "Gadget", reason: domain.ReasonInsufficientStock, available: 2},
		{name: "product not found", seedName: "Widget", seedQty: 5, quantity: 1, product: "Ghost", reason: domain.ReasonProductNotFound},
		{name: "out of stock", seedName: "Gizmo", seedQty: 1, drain: 1, quantity: 1, product: "Gizmo", reason: domain.ReasonOutOfStock},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.seed(t, tt.seedName, tt.seedQty)
			if tt.drain > 0 {
				if _, err := h.store.StockStore().TryDecrement(t.Context(), tt.seedName, tt.drain); err != nil {
					t.Fatal(err)
				}
			}

			out, err := h.admission.Submit(t.Context(), SubmitOrderCommand{OrderID: "O", ProductName: tt.product, Quantity: tt.quantity})
			if err != nil {
				t.Fatalf("Submit: %v", err)
			}
			if out.IsAccepted() {
				t.Fatalf("outcome accepted, want rejection %s", tt.reason)
			}
			if out.Rejection.Reason != tt.reason || out.Rejection.Available != tt.available {
				t.Fatalf("rejection = %s, want %s(available=%d)", out.Rejection, tt.reason, tt.available)
			}
			stored := h.order(t, "O")
			if stored.Status != domain.StatusFailed || stored.Reason != tt.reason {
				t.Fatalf("stored = %s/%s, want FAILED/%s", stored.Status, stored.Reason, tt.reason)
			}
			if n := len(h.publisher.take()); n != 0 {
				t.Fatalf("published %d events for rejected order", n)
			}
		})
	}
}

func TestSubmitInvalidInput(t *testing.T) {
	tests := []struct {
		name string
		cmd  SubmitOrderCommand
	}{
		{"zero quantity", SubmitOrderCommand{OrderID: "O1", ProductName: "Widget", Quantity: 0}},
		{"negative quantity", SubmitOrderCommand{OrderID: "O1", ProductName: "Widget", Quantity: -2}},
		{"blank product", SubmitOrderCommand{OrderID: "O1", ProductName: "  ", Quantity: 1}},
		{"digits only product", SubmitOrderCommand{OrderID: "O1", ProductName: "12345", Quantity: 1}},
		{"blank order id", SubmitOrderCommand{OrderID: "", ProductName: "Widget", Quantity: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.seed(t, "Widget", 5)

			_, err := h.admission.Submit(t.Context(), tt.cmd)
			if !errors.Is(err, domain.ErrInvalidInput) {
				t.Fatalf("err = %v, want ErrInvalidInput", err)
			}
			if _, err := h.store.FindByID(t.Context(), "O1"); !errors.Is(err, domain.ErrOrderNotFound) {
				t.Fatalf("order created for invalid input: %v", err)
			}
			if n := len(h.publisher.take()); n != 0 {
				t.Fatalf("published %d events for invalid input", n)
			}
		})
	}
}

type denyPolicy struct{}

func (denyPolicy) Check(context.Context, *domain.Order) error {
	return &domain.ValidationError{Field: "policy", Message: "denied"}
}

func TestSubmitPolicyViolation(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "Widget", 5)
	h.admission.policy = denyPolicy{}

	_, err := h.admission.Submit(t.Context(), SubmitOrderCommand{OrderID: "O1", ProductName: "Widget", Quantity: 1})
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
	if _, err := h.store.FindByID(t.Context(), "O1"); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("order created despite policy rejection: %v", err)
	}
}

func TestSubmitPublishFailureKeepsPendingRecord(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "Widget", 5)
	h.publisher.setFail(errInjected)

	cmd := SubmitOrderCommand{OrderID: "O1", ProductName: "Widget", Quantity: 3}
	_, err := h.admission.Submit(t.Context(), cmd)
	if !domain.IsTransient(err) {
		t.Fatalf("err = %v, want transient", err)
	}
	if got := h.order(t, "O1").Status; got != domain.StatusPending {
		t.Fatalf("status = %s, want PENDING", got)
	}

	// 重试同一个请求: 不新建记录，重新发布
	h.publisher.setFail(nil)
	out, err := h.admission.Submit(t.Context(), cmd)
	if err != nil || !out.IsAccepted() {
		t.Fatalf("resubmit = %+v, %v", out, err)
	}
	h.deliverAll(t)
	if got := h.available(t, "Widget"); got != 2 {
		t.Fatalf("stock = %d, want 2", got)
	}
}

func TestSubmitDuplicateOrderID(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "Widget", 5)
	ctx := t.Context()

	cmd := SubmitOrderCommand{OrderID: "O1", ProductName: "Widget", Quantity: 3}
	if _, err := h.admission.Submit(ctx, cmd); err != nil {
		t.Fatal(err)
	}
	h.deliverAll(t)

	t.Run("different payload", func(t *testing.T) {
		_, err := h.admission.Submit(ctx, SubmitOrderCommand{OrderID: "O1", ProductName: "Widget", Quantity: 1})
		if !errors.Is(err, domain.ErrDuplicateOrder) {
			t.Fatalf("err = %v, want ErrDuplicateOrder", err)
		}
	})

	t.Run("same payload already processed", func(t *testing.T) {
		out, err := h.admission.Submit(ctx, cmd)
		if err != nil || !out.IsAccepted() || out.Order.Status != domain.StatusProcessed {
			t.Fatalf("outcome = %+v, %v", out, err)
		}
		if n := len(h.publisher.take()); n != 0 {
			t.Fatalf("republished %d events for processed order", n)
		}
		if got := h.available(t, "Widget"); got != 2 {
			t.Fatalf("stock = %d, want 2", got)
		}
	})

	t.Run("same payload already failed", func(t *testing.T) {
		ghost := SubmitOrderCommand{OrderID: "O3", ProductName: "Ghost", Quantity: 1}
		if _, err := h.admission.Submit(ctx, ghost); err != nil {
			t.Fatal(err)
		}
		out, err := h.admission.Submit(ctx, ghost)
		if err != nil || out.IsAccepted() || out.Rejection.Reason != domain.ReasonProductNotFound {
			t.Fatalf("outcome = %+v, %v", out, err)
		}
	})
}

func TestSubmitStoreUnavailable(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "Widget", 5)
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	_, err := h.admission.Submit(ctx, SubmitOrderCommand{OrderID: "O1", ProductName: "Widget", Quantity: 1})
	if !domain.IsTransient(err) {
		t.Fatalf("err = %v, want transient", err)
	}
	if _, err := h.store.FindByID(t.Context(), "O1"); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("order created with cancelled context: %v", err)
	}
}

func TestRedeliveryDecrementsOnce(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "Widget", 5)
	if _, err := h.admission.Submit(t.Context(), SubmitOrderCommand{OrderID: "O1", ProductName: "Widget", Quantity: 3}); err != nil {
		t.Fatal(err)
	}
	event := h.publisher.take()[0]

	for i := range 4 {
		if err := h.reconcile.HandleDispatch(t.Context(), event); err != nil {
			t.Fatalf("delivery %d: %v", i, err)
		}
	}
	if got := h.available(t, "Widget"); got != 2 {
		t.Fatalf("stock = %d, want 2", got)
	}
	if got := h.order(t, "O1").Status; got != domain.StatusProcessed {
		t.Fatalf("status = %s", got)
	}
	if n := len(h.notifier.events); n != 1 {
		t.Fatalf("notifications = %d, want 1", n)
	}
}

func TestStatusWriteFailureHealsOnRedelivery(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "Widget", 5)
	if _, err := h.admission.Submit(t.Context(), SubmitOrderCommand{OrderID: "O1", ProductName: "Widget", Quantity: 3}); err != nil {
		t.Fatal(err)
	}
	event := h.publisher.take()[0]

	h.orders.failUpdates.Store(1)
	if err := h.reconcile.HandleDispatch(t.Context(), event); !domain.IsTransient(err) {
		t.Fatalf("first delivery err = %v, want transient", err)
	}
	if got := h.order(t, "O1").Status; got != domain.StatusPending {
		t.Fatalf("status after failed write = %s, want PENDING", got)
	}

	if err := h.reconcile.HandleDispatch(t.Context(), event); err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if got := h.order(t, "O1").Status; got != domain.StatusProcessed {
		t.Fatalf("status = %s, want PROCESSED", got)
	}
	if got := h.available(t, "Widget"); got != 2 {
		t.Fatalf("stock = %d, want 2", got)
	}
}

func TestGuardFaults(t *testing.T) {
	t.Run("failure before commit leaves stock untouched", func(t *testing.T) {
		h := newHarness(t)
		h.seed(t, "Widget", 5)
		if _, err := h.admission.Submit(t.Context(), SubmitOrderCommand{OrderID: "O1", ProductName: "Widget", Quantity: 3}); err != nil {
			t.Fatal(err)
		}
		event := h.publisher.take()[0]

		h.guardRepo.failBefore.Store(2)
		for range 2 {
			if err := h.reconcile.HandleDispatch(t.Context(), event); !domain.IsTransient(err) {
				t.Fatalf("err = %v, want transient", err)
			}
			if got := h.available(t, "Widget"); got != 5 {
				t.Fatalf("stock = %d after failed attempt", got)
			}
		}
		if err := h.reconcile.HandleDispatch(t.Context(), event); err != nil {
			t.Fatal(err)
		}
		if got := h.available(t, "Widget"); got != 2 {
			t.Fatalf("stock = %d, want 2", got)
		}
	})

	t.Run("lost reply after commit is not applied twice", func(t *testing.T) {
		h := newHarness(t)
		h.seed(t, "Widget", 5)
		if _, err := h.admission.Submit(t.Context(), SubmitOrderCommand{OrderID: "O1", ProductName: "Widget", Quantity: 3}); err != nil {
			t.Fatal(err)
		}
		event := h.publisher.take()[0]

		h.guardRepo.failAfter.Store(1)
		if err := h.reconcile.HandleDispatch(t.Context(), event); !domain.IsTransient(err) {
			t.Fatalf("err = %v, want transient", err)
		}
		if err := h.reconcile.HandleDispatch(t.Context(), event); err != nil {
			t.Fatal(err)
		}
		if got := h.available(t, "Widget"); got != 2 {
			t.Fatalf("stock = %d, want 2", got)
		}
		if got := h.order(t, "O1").Status; got != domain.StatusProcessed {
			t.Fatalf("status = %s", got)
		}
	})
}

func TestDivergenceEndsFailed(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "Widget", 5)

	// 两个订单都通过了预检，但合计超过库存
	for _, id := range []string{"A", "B"} {
		out, err := h.admission.Submit(t.Context(), SubmitOrderCommand{OrderID: id, ProductName: "Widget", Quantity: 4})
		if err != nil || !out.IsAccepted() {
			t.Fatalf("Submit %s = %+v, %v", id, out, err)
		}
	}
	events := h.publisher.take()

	var wg sync.WaitGroup
	errs := make(chan error, len(events))
	for _, e := range events {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- h.reconcile.HandleDispatch(t.Context(), e)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatal(err)
		}
	}

	statuses := map[domain.Status]int{}
	for _, id := range []string{"A", "B"} {
		o := h.order(t, id)
		statuses[o.Status]++
		if o.Status == domain.StatusFailed && o.Reason != domain.ReasonInsufficientStock {
			t.Fatalf("failed order %s reason = %s", id, o.Reason)
		}
	}
	if statuses[domain.StatusProcessed] != 1 || statuses[domain.StatusFailed] != 1 {
		t.Fatalf("statuses = %v, want one PROCESSED and one FAILED", statuses)
	}
	if got := h.available(t, "Widget"); got != 1 {
		t.Fatalf("stock = %d, want 1", got)
	}
}

func TestConcurrentSubmitAndReconcileNeverOversells(t *testing.T) {
	h := newHarness(t)
	const stock, orders = 10, 40
	h.seed(t, "Widget", stock)

	var wg sync.WaitGroup
	for i := range orders {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := fmt.Sprintf("O%d", i)
			if _, err := h.admission.Submit(t.Context(), SubmitOrderCommand{OrderID: id, ProductName: "Widget", Quantity: 1}); err != nil {
				t.Errorf("Submit %s: %v", id, err)
			}
		}()
	}
	wg.Wait()

	events := h.publisher.take()
	for _, e := range events {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := h.reconcile.HandleDispatch(t.Context(), e); err != nil {
				t.Errorf("HandleDispatch %s: %v", e.OrderID, err)
			}
		}()
	}
	wg.Wait()

	processed := 0
	for i := range orders {
		if h.order(t, fmt.Sprintf("O%d", i)).Status == domain.StatusProcessed {
			processed++
		}
	}
	left := h.available(t, "Widget")
	if left < 0 || processed+left != stock {
		t.Fatalf("processed = %d, left = %d, want processed+left = %d", processed, left, stock)
	}
	if processed != stock {
		t.Fatalf("processed = %d, want %d", processed, stock)
	}
}

func TestNotifierFailureDoesNotBlockAck(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "Widget", 5)
	h.notifier.fail = errInjected
	if _, err := h.admission.Submit(t.Context(), SubmitOrderCommand{OrderID: "O1", ProductName: "Widget", Quantity: 1}); err != nil {
		t.Fatal(err)
	}
	h.deliverAll(t)
	if got := h.order(t, "O1").Status; got != domain.StatusProcessed {
		t.Fatalf("status = %s", got)
	}
}

func TestHandleDispatchRejectsInvalidEvent(t *testing.T) {
	h := newHarness(t)
	err := h.reconcile.HandleDispatch(t.Context(), &domain.DispatchEvent{OrderID: "O1", ProductName: "Widget", Quantity: 0})
	if !errors.Is(err, domain.ErrInvalidInput) || domain.IsTransient(err) {
		t.Fatalf("err = %v, want non-transient ErrInvalidInput", err)
	}
}

func TestHandleDispatchUnknownOrderLeavesStockUntouched(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "Widget", 5)
	event := &domain.DispatchEvent{OrderID: "missing", ProductName: "Widget", Quantity: 3}
	for i := 0; i < 2; i++ {
		err := h.reconcile.HandleDispatch(t.Context(), event)
		if !errors.Is(err, domain.ErrOrderNotFound) || domain.IsTransient(err) {
			t.Fatalf("delivery %d: err = %v, want non-transient ErrOrderNotFound", i+1, err)
		}
	}
	if got := h.available(t, "Widget"); got != 5 {
		t.Fatalf("stock = %d, want 5", got)
	}
	// 守卫没有被标记，订单补录后仍然可以正常对账
	first, _, err := h.store.MarkIfAbsent(t.Context(), &domain.Reconciliation{OrderID: "missing", Outcome: domain.OutcomeApplied})
	if err != nil || !first {
		t.Fatalf("guard already marked: first=%v err=%v", first, err)
	}
}

func TestHandleDispatchMismatchedEventLeavesStockUntouched(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "Widget", 5)
	if _, err := h.admission.Submit(t.Context(), SubmitOrderCommand{OrderID: "O1", ProductName: "Widget", Quantity: 1}); err != nil {
		t.Fatal(err)
	}
	h.publisher.take()

	err := h.reconcile.HandleDispatch(t.Context(), &domain.DispatchEvent{OrderID: "O1", ProductName: "Widget", Quantity: 4})
	if !errors.Is(err, domain.ErrInvalidInput) || domain.IsTransient(err) {
		t.Fatalf("err = %v, want non-transient ErrInvalidInput", err)
	}
	if got := h.available(t, "Widget"); got != 5 {
		t.Fatalf("stock = %d, want 5", got)
	}
	if got := h.order(t, "O1").Status; got != domain.StatusPending {
		t.Fatalf("status = %s, want PENDING", got)
	}
}

func TestRejectedStatusWriteIsNotAcknowledged(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "Widget", 5)
	if _, err := h.admission.Submit(t.Context(), SubmitOrderCommand{OrderID: "O1", ProductName: "Widget", Quantity: 3}); err != nil {
		t.Fatal(err)
	}
	event := h.publisher.take()[0]

	// 扣减已提交但状态写入被拒绝: 不能 ack
	h.orders.rejectUpdates.Store(1)
	if err := h.reconcile.HandleDispatch(t.Context(), event); !domain.IsTransient(err) {
		t.Fatalf("first delivery err = %v, want transient", err)
	}
	if got := h.available(t, "Widget"); got != 2 {
		t.Fatalf("stock = %d, want 2", got)
	}

	if err := h.reconcile.HandleDispatch(t.Context(), event); err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if got := h.order(t, "O1").Status; got != domain.StatusProcessed {
		t.Fatalf("status = %s, want PROCESSED", got)
	}
	if got := h.available(t, "Widget"); got != 2 {
		t.Fatalf("stock after redelivery = %d, want 2", got)
	}
}

func TestReconciledStatusOverwritesEarlierTerminalStatus(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "Widget", 5)
	if _, err := h.admission.Submit(t.Context(), SubmitOrderCommand{OrderID: "O1", ProductName: "Widget", Quantity: 3}); err != nil {
		t.Fatal(err)
	}
	ledger := NewOrderLedger(h.store, time.Second, noop.NewTracerProvider().Tracer("test"))
	if err := ledger.SetStatus(t.Context(), "O1", domain.StatusFailed, domain.ReasonInsufficientStock); err != nil {
		t.Fatalf("SetStatus FAILED: %v", err)
	}

	h.deliverAll(t)
	got := h.order(t, "O1")
	if got.Status != domain.StatusProcessed || got.Reason != domain.ReasonNone {
		t.Fatalf("order = %+v, want PROCESSED", got)
	}
	if got := h.available(t, "Widget"); got != 2 {
		t.Fatalf("stock = %d, want 2", got)
	}
}

func TestInventoryService(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()
	h.seed(t, "Widget", 5)
	h.seed(t, "Gadget", 2)

	if _, err := h.inventory.AddStock(ctx, AddStockCommand{ProductName: "Widget", AvailableQuantity: 1}); !errors.Is(err, domain.ErrDuplicateProduct) {
		t.Fatalf("duplicate AddStock err = %v", err)
	}
	if _, err := h.inventory.AddStock(ctx, AddStockCommand{ProductName: "Bolt", AvailableQuantity: 0}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("zero AddStock err = %v", err)
	}

	st, err := h.inventory.Restock(ctx, "Gadget", 3)
	if err != nil || st.AvailableQuantity != 5 {
		t.Fatalf("Restock = %+v, %v", st, err)
	}
	if _, err := h.inventory.Restock(ctx, "Ghost", 1); !errors.Is(err, domain.ErrProductNotFound) {
		t.Fatalf("Restock missing err = %v", err)
	}
	if _, err := h.inventory.Restock(ctx, "Gadget", 0); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("Restock zero err = %v", err)
	}

	page, err := h.inventory.ListStock(ctx, domain.StockQuery{SortBy: domain.SortByProductName})
	if err != nil {
		t.Fatal(err)
	}
	if page.Total != 2 || page.Items[0].ProductName != "Gadget" {
		t.Fatalf("page = %+v", page)
	}
	if _, err := h.inventory.ListStock(ctx, domain.StockQuery{SortBy: "price"}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("bad sortBy err = %v", err)
	}
}
