package domain

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
)

var now = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func TestNewOrderValidation(t *testing.T) {
	tests := []struct {
		name      string
		id        string
		product   string
		quantity  int
		wantField string
	}{
		{"valid", "O1", "Widget", 3, ""},
		{"valid with space", "O2", "Blue Widget 2", 1, ""},
		{"blank id", "  ", "Widget", 1, "orderId"},
		{"long id", strings.Repeat("x", 65), "Widget", 1, "orderId"},
		{"blank product", "O1", "", 1, "productName"},
		{"digits only product", "O1", "12345", 1, "productName"},
		{"symbols in product", "O1", "Widget!", 1, "productName"},
		{"zero quantity", "O1", "Widget", 0, "quantity"},
		{"negative quantity", "O1", "Widget", -2, "quantity"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, err := NewOrder(tt.id, tt.product, tt.quantity, now)
			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if o.Status != StatusPending || o.Reason != ReasonNone {
					t.Fatalf("new order state = %s/%s", o.Status, o.Reason)
				}
				return
			}
			if !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("err = %v, want ErrInvalidInput", err)
			}
			var ve *ValidationError
			if !errors.As(err, &ve) || ve.Field != tt.wantField {
				t.Fatalf("field = %v, want %s", ve, tt.wantField)
			}
		})
	}
}

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to Status
		ok       bool
	}{
		{StatusPending, StatusProcessed, true},
		{StatusPending, StatusFailed, true},
		{StatusPending, StatusPending, true},
		{StatusProcessed, StatusProcessed, true},
		{StatusFailed, StatusFailed, true},
		{StatusProcessed, StatusFailed, false},
		{StatusFailed, StatusProcessed, false},
		{StatusProcessed, StatusPending, false},
		{StatusPending, Status("SHIPPED"), false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s->%s", tt.from, tt.to), func(t *testing.T) {
			if got := tt.from.CanTransitionTo(tt.to); got != tt.ok {
				t.Fatalf("CanTransitionTo = %v, want %v", got, tt.ok)
			}
		})
	}
}

func TestOrderMarkAsFailedKeepsReason(t *testing.T) {
	o, _ := NewOrder("O3", "Ghost", 1, now)
	later := now.Add(time.Second)
	if err := o.MarkAsFailed(ReasonProductNotFound, later); err != nil {
		t.Fatal(err)
	}
	if o.Status != StatusFailed || o.Reason != ReasonProductNotFound || !o.UpdatedAt.Equal(later) {
		t.Fatalf("order = %+v", o)
	}
	if err := o.MarkAsProcessed(later); !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("FAILED -> PROCESSED should be rejected, got %v", err)
	}
}

func TestNewReconciliationMapsOutcome(t *testing.T) {
	tests := []struct {
		res     DecrementResult
		outcome Outcome
		status  Status
		reason  Reason
	}{
		{Applied(2), OutcomeApplied, StatusProcessed, ReasonNone},
		{Insufficient(1), OutcomeInsufficientStock, StatusFailed, ReasonInsufficientStock},
		{NotFound(), OutcomeProductNotFound, StatusFailed, ReasonProductNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.res.Kind.String(), func(t *testing.T) {
			r := NewReconciliation("O1", "Widget", 3, tt.res, now)
			if r.Outcome != tt.outcome || r.Status() != tt.status || r.Reason() != tt.reason {
				t.Fatalf("record = %+v", r)
			}
			if tt.res.Kind == DecrementApplied && r.Remaining != 2 {
				t.Fatalf("remaining = %d", r.Remaining)
			}
			if tt.res.Kind == DecrementInsufficient && r.Available != 1 {
				t.Fatalf("available = %d", r.Available)
			}
		})
	}
}

func TestIsTransient(t *testing.T) {
	base := errors.New("connection refused")
	wrapped := errors.Wrap(Transient("orders.create", base), "submit")
	if !IsTransient(wrapped) {
		t.Fatal("wrapped transient not detected")
	}
	if !errors.Is(wrapped, base) {
		t.Fatal("transient error must unwrap to its cause")
	}
	if IsTransient(ErrDuplicateOrder) {
		t.Fatal("business error classified transient")
	}
	if !IsTransient(errors.Wrap(context.DeadlineExceeded, "store")) {
		t.Fatal("deadline should be transient")
	}
	if Transient("x", nil) != nil {
		t.Fatal("Transient(nil) must be nil")
	}
	once := Transient("a", base)
	if Transient("b", once) != once {
		t.Fatal("Transient must not double wrap")
	}
}

func TestStockQueryNormalize(t *testing.T) {
	q, err := StockQuery{}.Normalize()
	if err != nil || q.Size != 10 || q.SortBy != SortByProductName {
		t.Fatalf("defaults = %+v, %v", q, err)
	}
	for _, bad := range []StockQuery{{Page: -1}, {Size: 101}, {SortBy: "price"}} {
		if _, err := bad.Normalize(); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("%+v: err = %v", bad, err)
		}
	}
}

func TestRejectionString(t *testing.T) {
	if got := (Rejection{Reason: ReasonInsufficientStock, Available: 2}).String(); got != "INSUFFICIENT_STOCK(available=2)" {
		t.Fatalf("got %s", got)
	}
	if got := (Rejection{Reason: ReasonOutOfStock}).String(); got != "OUT_OF_STOCK" {
		t.Fatalf("got %s", got)
	}
}
