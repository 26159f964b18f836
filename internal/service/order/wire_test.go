package order

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel/trace/noop"

	"stockflow/internal/pkg/bootstrap"
	"stockflow/internal/service/order/application"
	"stockflow/internal/service/order/domain"
)

func embeddedConfig() *bootstrap.Config {
	cfg := bootstrap.Default()
	cfg.Pipeline.Mode = bootstrap.ModeEmbedded
	cfg.Pipeline.StockBackend = bootstrap.BackendMemory
	cfg.Pipeline.RedeliveryDelay = 5 * time.Millisecond
	return cfg
}

func TestEmbeddedPipeline(t *testing.T) {
	cfg := embeddedConfig()
	cfg.Pipeline.AdmissionRules = []string{"quantity <= 100"}
	tracer := noop.NewTracerProvider().Tracer("test")

	backend, err := OpenBackend(t.Context(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	channel := OpenChannel(cfg)
	svcs, err := NewServices(cfg, backend, channel, tracer)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	runners := ConsumerRunners(cfg, svcs, channel, tracer)
	done := make(chan struct{}, len(runners))
	for _, run := range runners {
		go func() {
			run(ctx)
			done <- struct{}{}
		}()
	}
	defer func() {
		cancel()
		for range runners {
			<-done
		}
	}()

	if _, err := svcs.Inventory.AddStock(t.Context(), application.AddStockCommand{ProductName: "Widget", AvailableQuantity: 5}); err != nil {
		t.Fatal(err)
	}

	// 超过规则上限
	if _, err := svcs.Admission.Submit(t.Context(), application.SubmitOrderCommand{OrderID: "big", ProductName: "Widget", Quantity: 101}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("policy err = %v", err)
	}

	out, err := svcs.Admission.Submit(t.Context(), application.SubmitOrderCommand{OrderID: "O1", ProductName: "Widget", Quantity: 3})
	if err != nil || !out.IsAccepted() {
		t.Fatalf("Submit = %+v, %v", out, err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		o, err := svcs.Admission.GetOrder(t.Context(), "O1")
		if err != nil {
			t.Fatal(err)
		}
		if o.Status == domain.StatusProcessed {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("order still %s", o.Status)
		}
		time.Sleep(5 * time.Millisecond)
	}

	st, err := backend.Stock.Get(t.Context(), "Widget")
	if err != nil || st.AvailableQuantity != 2 {
		t.Fatalf("stock = %+v, %v", st, err)
	}
	for channel.Broker.Pending(cfg.Pipeline.DispatchTopic, cfg.Pipeline.ConsumerGroup) != 0 {
		if time.Now().After(deadline) {
			t.Fatal("dispatch message never acknowledged")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNewServicesRejectsBadRule(t *testing.T) {
	cfg := embeddedConfig()
	cfg.Pipeline.AdmissionRules = []string{"quantity +"}
	backend, err := OpenBackend(t.Context(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := NewServices(cfg, backend, OpenChannel(cfg), noop.NewTracerProvider().Tracer("test")); err == nil {
		t.Fatal("expected error for invalid admission rule")
	}
}
