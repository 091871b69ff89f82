package protocol

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wyfcoding/orderstream/internal/stream/domain"
)

func TestFromOrderEvent_Filled(t *testing.T) {
	event := &domain.OrderEvent{
		Type:              domain.EventOrderFilled,
		OrderID:           1001,
		OrderUUID:         "uuid-1001",
		AccountID:         "acct-1",
		Symbol:            "BTC-USDT",
		Side:              domain.OrderSideBuy,
		Seq:               3,
		OldStatus:         domain.OrderStatusAccepted,
		NewStatus:         domain.OrderStatusPartiallyFilled,
		FilledQuantity:    decimal.NewFromInt(4),
		RemainingQuantity: decimal.NewFromInt(6),
		AvgFillPrice:      decimal.NewFromInt(100),
		FillRatio:         0.4,
		IsActive:          true,
		Fill: &domain.Fill{
			FillID:   7,
			OrderID:  1001,
			Quantity: decimal.NewFromInt(4),
			Price:    decimal.NewFromInt(100),
			Value:    decimal.NewFromInt(400),
			FillTime: time.Now(),
		},
		OccurredOn: time.Now(),
	}

	msgType, payload := FromOrderEvent(event)
	if msgType != TypeOrderFilled {
		t.Fatalf("Expected order_filled, got %s", msgType)
	}
	msg, ok := payload.(OrderFilledMessage)
	if !ok {
		t.Fatalf("Expected OrderFilledMessage, got %T", payload)
	}
	if msg.FillData.FillID != 7 || !msg.FillData.Value.Equal(decimal.NewFromInt(400)) {
		t.Errorf("Fill data wrong: %+v", msg.FillData)
	}
	if msg.OrderStatus.Status != "PARTIALLY_FILLED" || msg.OrderStatus.FillRatio != 0.4 {
		t.Errorf("Order status block wrong: %+v", msg.OrderStatus)
	}
	if msg.Seq != 3 {
		t.Errorf("Expected seq 3, got %d", msg.Seq)
	}
}

func TestFromOrderEvent_ClosedStates(t *testing.T) {
	cases := []struct {
		eventType domain.EventType
		wantType  string
	}{
		{domain.EventOrderCancelled, TypeOrderCancelled},
		{domain.EventOrderRejected, TypeOrderRejected},
		{domain.EventOrderExpired, TypeOrderExpired},
	}
	for _, c := range cases {
		msgType, payload := FromOrderEvent(&domain.OrderEvent{
			Type:      c.eventType,
			OrderID:   1,
			Symbol:    "BTC-USDT",
			Seq:       2,
			NewStatus: domain.OrderStatusCancelled,
			Reason:    "user request",
		})
		if msgType != c.wantType {
			t.Errorf("%s: expected %s, got %s", c.eventType, c.wantType, msgType)
		}
		msg, ok := payload.(OrderClosedMessage)
		if !ok {
			t.Errorf("%s: expected OrderClosedMessage, got %T", c.eventType, payload)
			continue
		}
		if msg.Reason != "user request" {
			t.Errorf("%s: reason lost, got %q", c.eventType, msg.Reason)
		}
	}
}

func TestFromOrderEvent_CreatedAndStatusChanged(t *testing.T) {
	msgType, _ := FromOrderEvent(&domain.OrderEvent{Type: domain.EventOrderCreated, AccountID: "a"})
	if msgType != TypeOrderCreated {
		t.Errorf("Expected order_created, got %s", msgType)
	}
	msgType, payload := FromOrderEvent(&domain.OrderEvent{
		Type:      domain.EventOrderStatusChanged,
		OldStatus: domain.OrderStatusPending,
		NewStatus: domain.OrderStatusSubmitted,
	})
	if msgType != TypeOrderStatusChanged {
		t.Errorf("Expected order_status_changed, got %s", msgType)
	}
	msg := payload.(OrderStatusChangedMessage)
	if msg.OldStatus != "PENDING" || msg.Status != "SUBMITTED" {
		t.Errorf("Status transition lost: %+v", msg)
	}
}

func TestFromRiskAlert(t *testing.T) {
	msg := FromRiskAlert(&domain.RiskAlert{
		AccountID: "acct-1",
		OrderID:   1001,
		AlertType: "margin_call",
		Message:   "margin below maintenance",
		Severity:  domain.SeverityCritical,
	})
	if msg.Type != TypeRiskAlert || msg.Severity != "critical" || msg.OrderID != 1001 {
		t.Errorf("Unexpected alert message: %+v", msg)
	}
}
