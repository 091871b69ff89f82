package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func newTestOrder(t *testing.T, quantity string) *Order {
	t.Helper()
	order, event, err := NewOrder(1001, "uuid-1001", "acct-1", "BTC-USDT", OrderSideBuy, OrderTypeLimit, dec("43000"), dec(quantity), time.Now())
	if err != nil {
		t.Fatalf("NewOrder failed: %v", err)
	}
	if event == nil || event.Type != EventOrderCreated {
		t.Fatalf("Expected order_created event, got %+v", event)
	}
	return order
}

func mustApply(t *testing.T, order *Order, fact Fact) *ApplyResult {
	t.Helper()
	result, err := Apply(order, fact)
	if err != nil {
		t.Fatalf("Apply(%s) failed: %v", fact.Type, err)
	}
	return result
}

func TestNewOrder_InitialState(t *testing.T) {
	order := newTestOrder(t, "10")

	if order.Status != OrderStatusPending {
		t.Errorf("Expected PENDING, got %s", order.Status)
	}
	if order.EventSeq != 1 {
		t.Errorf("Expected event seq 1, got %d", order.EventSeq)
	}
	if !order.IsActive() || order.IsFinished() {
		t.Errorf("New order must be active and not finished")
	}
	if !order.FilledQuantity.IsZero() {
		t.Errorf("Expected zero filled quantity, got %s", order.FilledQuantity)
	}
}

func TestNewOrder_RejectsNonPositiveQuantity(t *testing.T) {
	_, _, err := NewOrder(1, "u", "acct-1", "BTC-USDT", OrderSideBuy, OrderTypeLimit, dec("1"), dec("0"), time.Now())
	if !errors.Is(err, ErrInvalidFact) {
		t.Fatalf("Expected ErrInvalidFact, got %v", err)
	}
}

func TestApply_FullLifecycle(t *testing.T) {
	order := newTestOrder(t, "10")

	result := mustApply(t, order, Fact{Type: FactSubmit, OrderID: order.OrderID})
	if result.Order.Status != OrderStatusSubmitted {
		t.Fatalf("Expected SUBMITTED, got %s", result.Order.Status)
	}

	result = mustApply(t, result.Order, Fact{Type: FactAccept, OrderID: order.OrderID})
	if result.Order.Status != OrderStatusAccepted {
		t.Fatalf("Expected ACCEPTED, got %s", result.Order.Status)
	}

	// Partial fill: 4 of 10
	result = mustApply(t, result.Order, Fact{Type: FactFill, OrderID: order.OrderID, FillID: 1, Quantity: dec("4"), Price: dec("100")})
	if result.Order.Status != OrderStatusPartiallyFilled {
		t.Fatalf("Expected PARTIALLY_FILLED, got %s", result.Order.Status)
	}
	if !result.Order.RemainingQuantity().Equal(dec("6")) {
		t.Errorf("Expected remaining 6, got %s", result.Order.RemainingQuantity())
	}
	if result.Fill == nil || !result.Fill.Quantity.Equal(dec("4")) {
		t.Errorf("Expected fill record for 4, got %+v", result.Fill)
	}

	// Closing fill: 6 of 10
	result = mustApply(t, result.Order, Fact{Type: FactFill, OrderID: order.OrderID, FillID: 2, Quantity: dec("6"), Price: dec("100")})
	if result.Order.Status != OrderStatusFilled {
		t.Fatalf("Expected FILLED, got %s", result.Order.Status)
	}
	if result.Order.FillRatio() != 1.0 {
		t.Errorf("Expected fill ratio 1.0, got %f", result.Order.FillRatio())
	}
	if !result.Order.RemainingQuantity().IsZero() {
		t.Errorf("Expected zero remaining, got %s", result.Order.RemainingQuantity())
	}
	if !result.Order.IsFinished() || result.Order.IsActive() {
		t.Errorf("Filled order must be finished and not active")
	}
}

func TestApply_WeightedAvgFillPrice(t *testing.T) {
	order := newTestOrder(t, "10")

	result := mustApply(t, order, Fact{Type: FactFill, OrderID: order.OrderID, FillID: 1, Quantity: dec("4"), Price: dec("10")})
	if !result.Order.AvgFillPrice.Equal(dec("10")) {
		t.Fatalf("Expected avg 10 after first fill, got %s", result.Order.AvgFillPrice)
	}

	result = mustApply(t, result.Order, Fact{Type: FactFill, OrderID: order.OrderID, FillID: 2, Quantity: dec("6"), Price: dec("20")})
	// (4*10 + 6*20) / 10 = 16
	if !result.Order.AvgFillPrice.Equal(dec("16")) {
		t.Fatalf("Expected avg 16, got %s", result.Order.AvgFillPrice)
	}
}

func TestApply_OverfillRejected(t *testing.T) {
	order := newTestOrder(t, "5")

	_, err := Apply(order, Fact{Type: FactFill, OrderID: order.OrderID, Quantity: dec("7"), Price: dec("100")})
	if !errors.Is(err, ErrOverfill) {
		t.Fatalf("Expected ErrOverfill, got %v", err)
	}

	// Order unchanged after rejection
	if order.Status != OrderStatusPending || !order.FilledQuantity.IsZero() || order.EventSeq != 1 {
		t.Errorf("Rejected fact must leave order unchanged, got %+v", order)
	}

	// Cumulative overfill: 4 applied, then 2 exceeds 5
	result := mustApply(t, order, Fact{Type: FactFill, OrderID: order.OrderID, Quantity: dec("4"), Price: dec("100")})
	_, err = Apply(result.Order, Fact{Type: FactFill, OrderID: order.OrderID, Quantity: dec("2"), Price: dec("100")})
	if !errors.Is(err, ErrOverfill) {
		t.Fatalf("Expected ErrOverfill on cumulative overfill, got %v", err)
	}
	if !result.Order.FilledQuantity.Equal(dec("4")) {
		t.Errorf("Expected filled to stay 4, got %s", result.Order.FilledQuantity)
	}
}

func TestApply_TerminalStatesAreFinal(t *testing.T) {
	order := newTestOrder(t, "10")
	cancelled := mustApply(t, order, Fact{Type: FactCancel, OrderID: order.OrderID, Reason: "user"})

	facts := []Fact{
		{Type: FactSubmit, OrderID: order.OrderID},
		{Type: FactFill, OrderID: order.OrderID, Quantity: dec("1"), Price: dec("100")},
		{Type: FactCancel, OrderID: order.OrderID},
		{Type: FactExpire, OrderID: order.OrderID},
	}
	for _, fact := range facts {
		_, err := Apply(cancelled.Order, fact)
		if !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("Expected ErrInvalidTransition for %s on terminal order, got %v", fact.Type, err)
		}
	}
	if cancelled.Order.Status != OrderStatusCancelled {
		t.Errorf("Terminal order must stay CANCELLED, got %s", cancelled.Order.Status)
	}
}

func TestApply_RejectOnlyBeforeAccept(t *testing.T) {
	order := newTestOrder(t, "10")

	// Pending can be rejected
	result := mustApply(t, order, Fact{Type: FactReject, OrderID: order.OrderID, Reason: "risk"})
	if result.Order.Status != OrderStatusRejected {
		t.Fatalf("Expected REJECTED, got %s", result.Order.Status)
	}

	// Accepted cannot be rejected
	accepted := mustApply(t, mustApply(t, order, Fact{Type: FactSubmit}).Order, Fact{Type: FactAccept})
	if _, err := Apply(accepted.Order, Fact{Type: FactReject}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("Expected ErrInvalidTransition rejecting accepted order, got %v", err)
	}
}

func TestApply_CancelFromAnyActiveState(t *testing.T) {
	for _, build := range []func(t *testing.T) *Order{
		func(t *testing.T) *Order { return newTestOrder(t, "10") },
		func(t *testing.T) *Order {
			return mustApply(t, newTestOrder(t, "10"), Fact{Type: FactSubmit}).Order
		},
		func(t *testing.T) *Order {
			o := mustApply(t, newTestOrder(t, "10"), Fact{Type: FactSubmit}).Order
			return mustApply(t, o, Fact{Type: FactAccept}).Order
		},
		func(t *testing.T) *Order {
			return mustApply(t, newTestOrder(t, "10"), Fact{Type: FactFill, Quantity: dec("3"), Price: dec("100")}).Order
		},
	} {
		order := build(t)
		result := mustApply(t, order, Fact{Type: FactCancel, Reason: "user"})
		if result.Order.Status != OrderStatusCancelled {
			t.Errorf("Expected CANCELLED from %s, got %s", order.Status, result.Order.Status)
		}
	}
}

func TestApply_PartialFillSurvivesCancel(t *testing.T) {
	order := newTestOrder(t, "10")
	partial := mustApply(t, order, Fact{Type: FactFill, Quantity: dec("3"), Price: dec("100")})
	cancelled := mustApply(t, partial.Order, Fact{Type: FactCancel, Reason: "user"})

	if !cancelled.Order.FilledQuantity.Equal(dec("3")) {
		t.Errorf("Cancel must preserve filled quantity, got %s", cancelled.Order.FilledQuantity)
	}
	if cancelled.Order.Status != OrderStatusCancelled {
		t.Errorf("Expected CANCELLED, got %s", cancelled.Order.Status)
	}
}

func TestApply_SeqMonotonicPerOrder(t *testing.T) {
	order := newTestOrder(t, "10")

	prev := order.EventSeq
	current := order
	for _, fact := range []Fact{
		{Type: FactSubmit},
		{Type: FactAccept},
		{Type: FactFill, Quantity: dec("4"), Price: dec("100")},
		{Type: FactFill, Quantity: dec("6"), Price: dec("100")},
	} {
		result := mustApply(t, current, fact)
		if result.Order.EventSeq != prev+1 {
			t.Fatalf("Expected seq %d, got %d", prev+1, result.Order.EventSeq)
		}
		if result.Event.Seq != result.Order.EventSeq {
			t.Fatalf("Event seq %d must match order seq %d", result.Event.Seq, result.Order.EventSeq)
		}
		prev = result.Order.EventSeq
		current = result.Order
	}
}

func TestApply_DoesNotMutateInput(t *testing.T) {
	order := newTestOrder(t, "10")
	before := *order

	mustApply(t, order, Fact{Type: FactFill, Quantity: dec("4"), Price: dec("100")})

	if order.Status != before.Status || !order.FilledQuantity.Equal(before.FilledQuantity) || order.EventSeq != before.EventSeq {
		t.Errorf("Apply must work on a copy, input mutated: %+v", order)
	}
}

func TestOrderStatus_ActiveFinishedExclusive(t *testing.T) {
	statuses := []OrderStatus{
		OrderStatusPending, OrderStatusSubmitted, OrderStatusAccepted, OrderStatusPartiallyFilled,
		OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected, OrderStatusExpired,
	}
	for _, status := range statuses {
		if status.IsActive() == status.IsTerminal() {
			t.Errorf("Status %s must be exactly one of active/terminal", status)
		}
	}
}

func TestApply_UnknownFactType(t *testing.T) {
	order := newTestOrder(t, "10")
	_, err := Apply(order, Fact{Type: "bogus"})
	if !errors.Is(err, ErrInvalidFact) {
		t.Fatalf("Expected ErrInvalidFact, got %v", err)
	}
}

func TestApply_EventCarriesSnapshot(t *testing.T) {
	order := newTestOrder(t, "10")
	result := mustApply(t, order, Fact{Type: FactFill, FillID: 7, Quantity: dec("4"), Price: dec("50"), Commission: dec("0.1")})

	e := result.Event
	if e.Type != EventOrderFilled {
		t.Fatalf("Expected order_filled event, got %s", e.Type)
	}
	if e.OldStatus != OrderStatusPending || e.NewStatus != OrderStatusPartiallyFilled {
		t.Errorf("Expected PENDING -> PARTIALLY_FILLED, got %s -> %s", e.OldStatus, e.NewStatus)
	}
	if !e.FilledQuantity.Equal(dec("4")) || !e.RemainingQuantity.Equal(dec("6")) {
		t.Errorf("Event snapshot wrong: filled %s remaining %s", e.FilledQuantity, e.RemainingQuantity)
	}
	if e.Fill == nil || e.Fill.FillID != 7 || !e.Fill.Value.Equal(dec("200")) {
		t.Errorf("Expected embedded fill with value 200, got %+v", e.Fill)
	}
	if e.AccountID != "acct-1" {
		t.Errorf("Event must carry account, got %q", e.AccountID)
	}
}
