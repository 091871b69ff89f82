package application

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func enqueue(t *testing.T, h *SessionHandle, msgType string, critical bool) (bool, bool) {
	t.Helper()
	return h.Enqueue(&OutMessage{
		Type:     msgType,
		Critical: critical,
		Payload:  []byte(fmt.Sprintf(`{"type":%q}`, msgType)),
	})
}

func nextOrFail(t *testing.T, h *SessionHandle) *OutMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, err := h.Next(ctx)
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	return msg
}

func TestRegistry_SubscribeIdempotent(t *testing.T) {
	r := NewRegistry(16)
	h := r.Register("acct-1", nil)

	r.Subscribe(h.ID(), "order_updates:acct-1")
	r.Subscribe(h.ID(), "order_updates:acct-1")

	if n := r.SubscriptionCount(h.ID()); n != 1 {
		t.Errorf("Duplicate subscribe must be no-op, got %d subscriptions", n)
	}
	if sessions := r.SessionsForTopic("order_updates:acct-1"); len(sessions) != 1 {
		t.Errorf("Expected 1 subscriber, got %d", len(sessions))
	}

	r.Unsubscribe(h.ID(), "order_updates:acct-1")
	r.Unsubscribe(h.ID(), "order_updates:acct-1")
	if sessions := r.SessionsForTopic("order_updates:acct-1"); len(sessions) != 0 {
		t.Errorf("Expected no subscribers after unsubscribe, got %d", len(sessions))
	}
}

func TestRegistry_UnregisterRemovesSubscriptions(t *testing.T) {
	r := NewRegistry(16)
	h := r.Register("acct-1", nil)
	r.Subscribe(h.ID(), "order_updates:acct-1")
	r.Subscribe(h.ID(), "risk_alerts:acct-1")

	r.Unregister(h.ID())

	if n := r.SessionCount(); n != 0 {
		t.Errorf("Expected 0 sessions, got %d", n)
	}
	for _, topic := range []string{"order_updates:acct-1", "risk_alerts:acct-1"} {
		if sessions := r.SessionsForTopic(topic); len(sessions) != 0 {
			t.Errorf("Topic %s still has %d subscribers after unregister", topic, len(sessions))
		}
	}

	// Unregister is idempotent
	r.Unregister(h.ID())
}

func TestSessionHandle_NextAfterCloseDrainsThenFails(t *testing.T) {
	r := NewRegistry(16)
	h := r.Register("acct-1", nil)
	enqueue(t, h, "order_created", false)

	r.Unregister(h.ID())

	// Residual message still delivered
	if msg := nextOrFail(t, h); msg.Type != "order_created" {
		t.Fatalf("Expected residual order_created, got %s", msg.Type)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := h.Next(ctx); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("Expected ErrSessionClosed, got %v", err)
	}
}

func TestSessionHandle_EnqueueAfterCloseDropsSilently(t *testing.T) {
	r := NewRegistry(16)
	h := r.Register("acct-1", nil)
	r.Unregister(h.ID())

	dropped, forced := enqueue(t, h, "order_created", false)
	if dropped || forced {
		t.Errorf("Enqueue on closed session must be a silent no-op, got dropped=%v forced=%v", dropped, forced)
	}
}

func TestSessionHandle_DropOldestNonCritical(t *testing.T) {
	r := NewRegistry(2)
	h := r.Register("acct-1", nil)

	enqueue(t, h, "first", false)
	enqueue(t, h, "second", false)
	dropped, forced := enqueue(t, h, "third", false)

	if !dropped || forced {
		t.Fatalf("Expected oldest dropped without force close, got dropped=%v forced=%v", dropped, forced)
	}
	if msg := nextOrFail(t, h); msg.Type != "second" {
		t.Errorf("Expected second after eviction, got %s", msg.Type)
	}
	if msg := nextOrFail(t, h); msg.Type != "third" {
		t.Errorf("Expected third, got %s", msg.Type)
	}
}

func TestSessionHandle_CriticalEvictsOldestNonCritical(t *testing.T) {
	r := NewRegistry(2)
	h := r.Register("acct-1", nil)

	enqueue(t, h, "update-1", false)
	enqueue(t, h, "update-2", false)
	dropped, forced := enqueue(t, h, "risk_alert", true)

	if !dropped || forced {
		t.Fatalf("Critical must evict oldest non-critical, got dropped=%v forced=%v", dropped, forced)
	}
	if msg := nextOrFail(t, h); msg.Type != "update-2" {
		t.Errorf("Expected update-2, got %s", msg.Type)
	}
	if msg := nextOrFail(t, h); msg.Type != "risk_alert" {
		t.Errorf("Expected risk_alert, got %s", msg.Type)
	}
}

func TestSessionHandle_AllCriticalDropsIncomingNonCritical(t *testing.T) {
	r := NewRegistry(2)
	h := r.Register("acct-1", nil)

	enqueue(t, h, "alert-1", true)
	enqueue(t, h, "alert-2", true)
	dropped, forced := enqueue(t, h, "update", false)

	if !dropped || forced {
		t.Fatalf("Non-critical into all-critical queue must be dropped, got dropped=%v forced=%v", dropped, forced)
	}
	if msg := nextOrFail(t, h); msg.Type != "alert-1" {
		t.Errorf("Critical messages must be preserved, got %s", msg.Type)
	}
}

func TestSessionHandle_CriticalOverflowForcesClose(t *testing.T) {
	r := NewRegistry(2)
	var closedReason string
	h := r.Register("acct-1", func(reason string) { closedReason = reason })

	enqueue(t, h, "alert-1", true)
	enqueue(t, h, "alert-2", true)
	dropped, forced := enqueue(t, h, "alert-3", true)

	if dropped || !forced {
		t.Fatalf("Critical overflow must force close without dropping, got dropped=%v forced=%v", dropped, forced)
	}
	if closedReason == "" {
		t.Errorf("Force close callback must receive a reason")
	}

	// Queued criticals still drain after the forced close
	if msg := nextOrFail(t, h); msg.Type != "alert-1" {
		t.Errorf("Expected alert-1, got %s", msg.Type)
	}
	if msg := nextOrFail(t, h); msg.Type != "alert-2" {
		t.Errorf("Expected alert-2, got %s", msg.Type)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := h.Next(ctx); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("Expected ErrSessionClosed after drain, got %v", err)
	}
}

func TestSessionHandle_NextBlocksUntilEnqueue(t *testing.T) {
	r := NewRegistry(16)
	h := r.Register("acct-1", nil)

	go func() {
		time.Sleep(10 * time.Millisecond)
		enqueue(t, h, "order_created", false)
	}()

	if msg := nextOrFail(t, h); msg.Type != "order_created" {
		t.Fatalf("Expected order_created, got %s", msg.Type)
	}
}
