// Package storetest 提供仓储实现的通用契约测试，内存、GORM、Redis 实现共用同一套用例。
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"

	"stockflow/internal/service/order/domain"
)

// StockBackend 是一组共享同一后端的库存仓储和去重守卫
type StockBackend struct {
	Stock          domain.StockRepository
	Reconciliation domain.ReconciliationRepository
}

func seed(t *testing.T, repo domain.StockRepository, name string, qty int) {
	t.Helper()
	st, err := domain.NewWarehouseStock(name, qty, time.Now())
	if err != nil {
		t.Fatalf("NewWarehouseStock: %v", err)
	}
	if err := repo.Create(context.Background(), st); err != nil {
		t.Fatalf("seed %s: %v", name, err)
	}
}

// RunOrderContract 校验 OrderRepository 的语义
func RunOrderContract(t *testing.T, newRepo func(t *testing.T) domain.OrderRepository) {
	ctx := context.Background()

	t.Run("create and find", func(t *testing.T) {
		repo := newRepo(t)
		o, _ := domain.NewOrder("O1", "Widget", 3, time.Now())
		if err := repo.Create(ctx, o); err != nil {
			t.Fatalf("Create: %v", err)
		}
		got, err := repo.FindByID(ctx, "O1")
		if err != nil {
			t.Fatalf("FindByID: %v", err)
		}
		if got.ProductName != "Widget" || got.Quantity != 3 || got.Status != domain.StatusPending {
			t.Fatalf("got %+v", got)
		}
	})

	t.Run("duplicate id", func(t *testing.T) {
		repo := newRepo(t)
		o, _ := domain.NewOrder("O1", "Widget", 3, time.Now())
		if err := repo.Create(ctx, o); err != nil {
			t.Fatal(err)
		}
		if err := repo.Create(ctx, o); !errors.Is(err, domain.ErrDuplicateOrder) {
			t.Fatalf("err = %v, want ErrDuplicateOrder", err)
		}
	})

	t.Run("missing order", func(t *testing.T) {
		repo := newRepo(t)
		if _, err := repo.FindByID(ctx, "nope"); !errors.Is(err, domain.ErrOrderNotFound) {
			t.Fatalf("err = %v", err)
		}
		if err := repo.UpdateStatus(ctx, "nope", domain.StatusProcessed, domain.ReasonNone); !errors.Is(err, domain.ErrOrderNotFound) {
			t.Fatalf("update err = %v", err)
		}
	})

	t.Run("status overwrite is last writer wins", func(t *testing.T) {
		repo := newRepo(t)
		o, _ := domain.NewOrder("O2", "Widget", 10, time.Now())
		if err := repo.Create(ctx, o); err != nil {
			t.Fatal(err)
		}
		if err := repo.UpdateStatus(ctx, "O2", domain.StatusFailed, domain.ReasonInsufficientStock); err != nil {
			t.Fatalf("PENDING -> FAILED: %v", err)
		}
		// 幂等: 重复写入相同终态
		if err := repo.UpdateStatus(ctx, "O2", domain.StatusFailed, domain.ReasonInsufficientStock); err != nil {
			t.Fatalf("FAILED -> FAILED: %v", err)
		}
		// 对账端的写入是最终结果，覆盖已有终态
		if err := repo.UpdateStatus(ctx, "O2", domain.StatusProcessed, domain.ReasonNone); err != nil {
			t.Fatalf("FAILED -> PROCESSED: %v", err)
		}
		got, _ := repo.FindByID(ctx, "O2")
		if got.Status != domain.StatusProcessed || got.Reason != domain.ReasonNone {
			t.Fatalf("got %+v", got)
		}
		if err := repo.UpdateStatus(ctx, "O2", domain.Status("SHIPPED"), domain.ReasonNone); !errors.Is(err, domain.ErrInvalidInput) {
			t.Fatalf("unknown status err = %v", err)
		}
	})
}

// RunStockContract 校验 StockRepository 和 ReconciliationRepository 的语义
func RunStockContract(t *testing.T, newBackend func(t *testing.T) StockBackend) {
	ctx := context.Background()

	t.Run("create get and duplicate", func(t *testing.T) {
		b := newBackend(t)
		seed(t, b.Stock, "Widget", 5)
		st, err := b.Stock.Get(ctx, "Widget")
		if err != nil || st.AvailableQuantity != 5 {
			t.Fatalf("Get = %+v, %v", st, err)
		}
		dup, _ := domain.NewWarehouseStock("Widget", 1, time.Now())
		if err := b.Stock.Create(ctx, dup); !errors.Is(err, domain.ErrDuplicateProduct) {
			t.Fatalf("err = %v, want ErrDuplicateProduct", err)
		}
		if _, err := b.Stock.Get(ctx, "Ghost"); !errors.Is(err, domain.ErrProductNotFound) {
			t.Fatalf("err = %v, want ErrProductNotFound", err)
		}
	})

	t.Run("try decrement outcomes", func(t *testing.T) {
		b := newBackend(t)
		seed(t, b.Stock, "Widget", 5)

		res, err := b.Stock.TryDecrement(ctx, "Widget", 3)
		if err != nil || res.Kind != domain.DecrementApplied || res.Remaining != 2 {
			t.Fatalf("decrement 3 = %+v, %v", res, err)
		}
		res, err = b.Stock.TryDecrement(ctx, "Widget", 10)
		if err != nil || res.Kind != domain.DecrementInsufficient || res.Available != 2 {
			t.Fatalf("decrement 10 = %+v, %v", res, err)
		}
		res, err = b.Stock.TryDecrement(ctx, "Ghost", 1)
		if err != nil || res.Kind != domain.DecrementNotFound {
			t.Fatalf("decrement ghost = %+v, %v", res, err)
		}
		st, _ := b.Stock.Get(ctx, "Widget")
		if st.AvailableQuantity != 2 {
			t.Fatalf("stock = %d, want 2", st.AvailableQuantity)
		}
	})

	t.Run("concurrent decrements never go negative", func(t *testing.T) {
		b := newBackend(t)
		const stock, workers = 10, 25
		seed(t, b.Stock, "Widget", stock)

		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			applied int
			errs    []error
		)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				res, err := b.Stock.TryDecrement(ctx, "Widget", 1)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					errs = append(errs, err)
					return
				}
				if res.Kind == domain.DecrementApplied {
					applied++
				}
			}()
		}
		wg.Wait()
		if len(errs) > 0 {
			t.Fatalf("errors: %v", errs)
		}
		st, _ := b.Stock.Get(ctx, "Widget")
		if applied != stock || st.AvailableQuantity != 0 {
			t.Fatalf("applied = %d, remaining = %d", applied, st.AvailableQuantity)
		}
	})

	t.Run("add quantity", func(t *testing.T) {
		b := newBackend(t)
		seed(t, b.Stock, "Widget", 2)
		st, err := b.Stock.AddQuantity(ctx, "Widget", 8)
		if err != nil || st.AvailableQuantity != 10 {
			t.Fatalf("AddQuantity = %+v, %v", st, err)
		}
		if _, err := b.Stock.AddQuantity(ctx, "Ghost", 1); !errors.Is(err, domain.ErrProductNotFound) {
			t.Fatalf("err = %v", err)
		}
	})

	t.Run("list breaks quantity ties by name ascending", func(t *testing.T) {
		b := newBackend(t)
		seed(t, b.Stock, "Bolt", 10)
		seed(t, b.Stock, "Anvil", 10)
		seed(t, b.Stock, "Crate", 20)
		seed(t, b.Stock, "Drill", 5)

		page, err := b.Stock.List(ctx, domain.StockQuery{Page: 0, Size: 4, SortBy: domain.SortByAvailableQuantity, Desc: true})
		if err != nil {
			t.Fatal(err)
		}
		if names(page) != "[Crate Anvil Bolt Drill]" {
			t.Fatalf("desc = %s", names(page))
		}
		page, _ = b.Stock.List(ctx, domain.StockQuery{Page: 0, Size: 4, SortBy: domain.SortByAvailableQuantity})
		if names(page) != "[Drill Anvil Bolt Crate]" {
			t.Fatalf("asc = %s", names(page))
		}
		// 翻页时同分的两条不会重复或丢失
		page, _ = b.Stock.List(ctx, domain.StockQuery{Page: 1, Size: 2, SortBy: domain.SortByAvailableQuantity, Desc: true})
		if names(page) != "[Bolt Drill]" {
			t.Fatalf("desc page 1 = %s", names(page))
		}
	})

	t.Run("list pages and sorts", func(t *testing.T) {
		b := newBackend(t)
		seed(t, b.Stock, "Bolt", 30)
		seed(t, b.Stock, "Anvil", 10)
		seed(t, b.Stock, "Crate", 20)

		page, err := b.Stock.List(ctx, domain.StockQuery{Page: 0, Size: 2, SortBy: domain.SortByProductName})
		if err != nil {
			t.Fatal(err)
		}
		if page.Total != 3 || len(page.Items) != 2 || page.Items[0].ProductName != "Anvil" || page.Items[1].ProductName != "Bolt" {
			t.Fatalf("page 0 = %s", names(page))
		}
		page, _ = b.Stock.List(ctx, domain.StockQuery{Page: 1, Size: 2, SortBy: domain.SortByProductName})
		if len(page.Items) != 1 || page.Items[0].ProductName != "Crate" {
			t.Fatalf("page 1 = %s", names(page))
		}
		page, _ = b.Stock.List(ctx, domain.StockQuery{Page: 0, Size: 3, SortBy: domain.SortByAvailableQuantity, Desc: true})
		if names(page) != "[Bolt Crate Anvil]" {
			t.Fatalf("by quantity desc = %s", names(page))
		}
		page, _ = b.Stock.List(ctx, domain.StockQuery{Page: 0, Size: 3, SortBy: domain.SortByProductName, Desc: true})
		if names(page) != "[Crate Bolt Anvil]" {
			t.Fatalf("by name desc = %s", names(page))
		}
		page, _ = b.Stock.List(ctx, domain.StockQuery{Page: 5, Size: 2, SortBy: domain.SortByProductName})
		if len(page.Items) != 0 || page.Total != 3 {
			t.Fatalf("past end = %s", names(page))
		}
	})

	t.Run("reconcile once", func(t *testing.T) {
		b := newBackend(t)
		seed(t, b.Stock, "Widget", 5)

		first, err := b.Reconciliation.ReconcileOnce(ctx, "O1", "Widget", 3)
		if err != nil {
			t.Fatal(err)
		}
		if !first.First || first.Record.Outcome != domain.OutcomeApplied || first.Record.Remaining != 2 {
			t.Fatalf("first = %+v %+v", first, first.Record)
		}

		again, err := b.Reconciliation.ReconcileOnce(ctx, "O1", "Widget", 3)
		if err != nil {
			t.Fatal(err)
		}
		if again.First || again.Record.Outcome != domain.OutcomeApplied {
			t.Fatalf("redelivery = %+v %+v", again, again.Record)
		}
		st, _ := b.Stock.Get(ctx, "Widget")
		if st.AvailableQuantity != 2 {
			t.Fatalf("redelivery decremented twice: stock = %d", st.AvailableQuantity)
		}

		short, _ := b.Reconciliation.ReconcileOnce(ctx, "O2", "Widget", 10)
		if !short.First || short.Record.Outcome != domain.OutcomeInsufficientStock || short.Record.Available != 2 {
			t.Fatalf("insufficient = %+v", short.Record)
		}
		ghost, _ := b.Reconciliation.ReconcileOnce(ctx, "O3", "Ghost", 1)
		if !ghost.First || ghost.Record.Outcome != domain.OutcomeProductNotFound || ghost.Record.Status() != domain.StatusFailed {
			t.Fatalf("ghost = %+v", ghost.Record)
		}
		// 失败的结果同样被守卫记录
		ghostAgain, _ := b.Reconciliation.ReconcileOnce(ctx, "O3", "Ghost", 1)
		if ghostAgain.First || ghostAgain.Record.Outcome != domain.OutcomeProductNotFound {
			t.Fatalf("ghost redelivery = %+v", ghostAgain)
		}
	})

	t.Run("concurrent redeliveries decrement once", func(t *testing.T) {
		b := newBackend(t)
		seed(t, b.Stock, "Widget", 5)

		var (
			wg    sync.WaitGroup
			mu    sync.Mutex
			first int
		)
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				res, err := b.Reconciliation.ReconcileOnce(ctx, "O1", "Widget", 3)
				if err != nil {
					t.Error(err)
					return
				}
				if res.First {
					mu.Lock()
					first++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		st, _ := b.Stock.Get(ctx, "Widget")
		if first != 1 || st.AvailableQuantity != 2 {
			t.Fatalf("first = %d, stock = %d", first, st.AvailableQuantity)
		}
	})

	t.Run("mark if absent", func(t *testing.T) {
		b := newBackend(t)
		rec := domain.NewReconciliation("O9", "Widget", 1, domain.Applied(4), time.Now())
		ok, existing, err := b.Reconciliation.MarkIfAbsent(ctx, rec)
		if err != nil || !ok || existing != nil {
			t.Fatalf("first mark = %v %v %v", ok, existing, err)
		}
		other := domain.NewReconciliation("O9", "Widget", 1, domain.NotFound(), time.Now())
		ok, existing, err = b.Reconciliation.MarkIfAbsent(ctx, other)
		if err != nil || ok || existing == nil || existing.Outcome != domain.OutcomeApplied {
			t.Fatalf("second mark = %v %+v %v", ok, existing, err)
		}
	})
}

func names(p *domain.StockPage) string {
	out := make([]string, 0, len(p.Items))
	for _, it := range p.Items {
		out = append(out, it.ProductName)
	}
	return fmt.Sprint(out)
}
