package client

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wyfcoding/orderstream/internal/stream/protocol"
)

// fakeConn 脚本化连接，closeErr 决定连接终止时读路径看到的错误
type fakeConn struct {
	in       chan []byte
	closeErr error

	mu     sync.Mutex
	writes [][]byte

	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeConn(closeErr error) *fakeConn {
	return &fakeConn{
		in:       make(chan []byte, 16),
		closeErr: closeErr,
		closed:   make(chan struct{}),
	}
}

func (c *fakeConn) serverSend(t *testing.T, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	c.in <- data
}

func (c *fakeConn) serverClose() {
	c.closeOnce.Do(func() { close(c.closed) })
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case data := <-c.in:
		return data, nil
	case <-c.closed:
		return nil, c.closeErr
	}
}

func (c *fakeConn) WriteMessage(data []byte) error {
	select {
	case <-c.closed:
		return errors.New("connection closed")
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) Close(code int, reason string) error {
	c.serverClose()
	return nil
}

func (c *fakeConn) written() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.writes))
	for i, w := range c.writes {
		out[i] = string(w)
	}
	return out
}

type dialResult struct {
	conn *fakeConn
	err  error
}

type fakeDialer struct {
	mu     sync.Mutex
	script []dialResult
	dials  int
}

func (d *fakeDialer) Dial(ctx context.Context, url, token string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	i := d.dials
	d.dials++
	if i < len(d.script) {
		r := d.script[i]
		if r.err != nil {
			return nil, r.err
		}
		return r.conn, nil
	}
	return nil, errors.New("no scripted connection left")
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// recorder 线程安全的通知收集器
type recorder struct {
	mu            sync.Mutex
	notifications []Notification
}

func (r *recorder) record(n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifications = append(r.notifications, n)
}

func (r *recorder) all() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.notifications...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

func newTestSession(dialer Dialer, rec *recorder) *Session {
	cfg := Config{
		URL:                  "ws://test/ws/orders/acct-1",
		AccountID:            "acct-1",
		Token:                "token",
		ReconnectBase:        time.Millisecond,
		ReconnectMax:         4 * time.Millisecond,
		MaxReconnectAttempts: 3,
		Dialer:               dialer,
	}
	if rec != nil {
		cfg.OnNotification = rec.record
	}
	return New(cfg)
}

func TestSession_NormalCloseSuppressesReconnect(t *testing.T) {
	conn := newFakeConn(&websocket.CloseError{Code: websocket.CloseNormalClosure})
	dialer := &fakeDialer{script: []dialResult{{conn: conn}}}
	s := newTestSession(dialer, nil)

	s.Start(context.Background())
	waitFor(t, "connected", func() bool { return s.State() == StateConnected })

	// Server closes with 1000: intentional, no reconnect
	conn.serverClose()
	waitFor(t, "disconnected", func() bool { return s.State() == StateDisconnected })

	time.Sleep(20 * time.Millisecond)
	if n := dialer.count(); n != 1 {
		t.Fatalf("Close code 1000 must not trigger reconnect, got %d dials", n)
	}
}

func TestSession_AbnormalCloseReconnects(t *testing.T) {
	first := newFakeConn(&websocket.CloseError{Code: websocket.CloseAbnormalClosure})
	second := newFakeConn(&websocket.CloseError{Code: websocket.CloseNormalClosure})
	dialer := &fakeDialer{script: []dialResult{{conn: first}, {conn: second}}}
	s := newTestSession(dialer, nil)

	s.Start(context.Background())
	defer s.Close()
	waitFor(t, "first connect", func() bool { return s.State() == StateConnected })

	// Abnormal close (1006): reconnect and re-subscribe
	first.serverClose()
	waitFor(t, "reconnect", func() bool { return dialer.count() == 2 && s.State() == StateConnected })

	waitFor(t, "re-subscribe", func() bool {
		subs := 0
		for _, w := range second.written() {
			if strings.Contains(w, `"subscribe"`) {
				subs++
			}
		}
		return subs == 2
	})
	var topics []string
	for _, w := range second.written() {
		var msg protocol.SubscribeMessage
		if json.Unmarshal([]byte(w), &msg) == nil && msg.Type == protocol.TypeSubscribe {
			topics = append(topics, msg.Topic)
		}
	}
	want := map[string]bool{"order_updates:acct-1": false, "risk_alerts:acct-1": false}
	for _, topic := range topics {
		if _, ok := want[topic]; !ok {
			t.Errorf("Unexpected subscription %q", topic)
		}
		want[topic] = true
	}
	for topic, seen := range want {
		if !seen {
			t.Errorf("Missing subscription %q after reconnect", topic)
		}
	}
}

func TestSession_GivesUpAfterMaxAttempts(t *testing.T) {
	dialer := &fakeDialer{} // every dial fails
	rec := &recorder{}
	s := newTestSession(dialer, rec)

	s.Start(context.Background())
	waitFor(t, "give up", func() bool { return s.State() == StateDisconnected && dialer.count() >= 4 })

	// Initial attempt plus 3 retries, then stop for good
	time.Sleep(20 * time.Millisecond)
	if n := dialer.count(); n != 4 {
		t.Fatalf("Expected 4 dials (1 + 3 retries), got %d", n)
	}

	var persistent bool
	for _, n := range rec.all() {
		if n.Level == LevelError && n.AutoDismiss == 0 {
			persistent = true
		}
	}
	if !persistent {
		t.Error("Giving up must surface a persistent error notification")
	}
}

func TestSession_ReplayedEventsNotifyOnce(t *testing.T) {
	conn := newFakeConn(&websocket.CloseError{Code: websocket.CloseNormalClosure})
	dialer := &fakeDialer{script: []dialResult{{conn: conn}}}
	rec := &recorder{}
	s := newTestSession(dialer, rec)

	s.Start(context.Background())
	defer s.Close()
	waitFor(t, "connected", func() bool { return s.State() == StateConnected })

	msg := protocol.OrderStatusChangedMessage{
		Type:      protocol.TypeOrderCreated,
		OrderID:   1001,
		OrderUUID: "uuid-1001",
		Symbol:    "BTC-USDT",
		Side:      "BUY",
		Status:    "PENDING",
		IsActive:  true,
		Seq:       1,
		Timestamp: time.Now(),
	}
	// At-least-once delivery: same event arrives twice
	conn.serverSend(t, msg)
	conn.serverSend(t, msg)

	waitFor(t, "order cached", func() bool {
		_, ok := s.Order(1001)
		return ok
	})
	time.Sleep(20 * time.Millisecond)

	if n := len(rec.all()); n != 1 {
		t.Fatalf("Replayed event must notify once, got %d notifications", n)
	}

	// A genuinely newer event still applies
	msg.Type = protocol.TypeOrderStatusChanged
	msg.Status = "SUBMITTED"
	msg.Seq = 2
	conn.serverSend(t, msg)
	waitFor(t, "status update", func() bool {
		snap, _ := s.Order(1001)
		return snap.Status == "SUBMITTED"
	})
}

func TestSession_FillUpdatesCache(t *testing.T) {
	conn := newFakeConn(&websocket.CloseError{Code: websocket.CloseNormalClosure})
	dialer := &fakeDialer{script: []dialResult{{conn: conn}}}
	rec := &recorder{}
	s := newTestSession(dialer, rec)

	s.Start(context.Background())
	defer s.Close()
	waitFor(t, "connected", func() bool { return s.State() == StateConnected })

	conn.serverSend(t, protocol.OrderFilledMessage{
		Type:      protocol.TypeOrderFilled,
		OrderID:   1001,
		OrderUUID: "uuid-1001",
		Symbol:    "BTC-USDT",
		Side:      "BUY",
		FillData:  protocol.FillData{FillID: 1, FillTime: time.Now()},
		OrderStatus: protocol.OrderStatusBlock{
			Status:    "FILLED",
			FillRatio: 1.0,
		},
		IsFinished: true,
		Seq:        3,
		Timestamp:  time.Now(),
	})

	waitFor(t, "fill applied", func() bool {
		snap, ok := s.Order(1001)
		return ok && snap.Status == "FILLED" && snap.IsFinished
	})

	notifications := rec.all()
	if len(notifications) != 1 || notifications[0].Level != LevelSuccess {
		t.Fatalf("Fill must produce one success notification, got %+v", notifications)
	}
}

func TestSession_CriticalAlertNeverAutoDismissed(t *testing.T) {
	conn := newFakeConn(&websocket.CloseError{Code: websocket.CloseNormalClosure})
	dialer := &fakeDialer{script: []dialResult{{conn: conn}}}
	rec := &recorder{}
	s := newTestSession(dialer, rec)

	s.Start(context.Background())
	defer s.Close()
	waitFor(t, "connected", func() bool { return s.State() == StateConnected })

	conn.serverSend(t, protocol.RiskAlertMessage{
		Type:      protocol.TypeRiskAlert,
		AlertType: "margin_call",
		Message:   "margin below maintenance",
		Severity:  "critical",
		Timestamp: time.Now(),
	})

	waitFor(t, "alert notification", func() bool { return len(rec.all()) == 1 })
	n := rec.all()[0]
	if n.Level != LevelError || n.AutoDismiss != 0 {
		t.Fatalf("Critical alert must be a persistent error, got %+v", n)
	}
}

func TestSession_MalformedMessagesDiscarded(t *testing.T) {
	conn := newFakeConn(&websocket.CloseError{Code: websocket.CloseNormalClosure})
	dialer := &fakeDialer{script: []dialResult{{conn: conn}}}
	s := newTestSession(dialer, nil)

	s.Start(context.Background())
	defer s.Close()
	waitFor(t, "connected", func() bool { return s.State() == StateConnected })

	conn.in <- []byte("not json")
	conn.in <- []byte(`{"type":"mystery_frame"}`)

	// Connection survives garbage
	time.Sleep(20 * time.Millisecond)
	if s.State() != StateConnected {
		t.Fatalf("Malformed input must not kill the session, state %s", s.State())
	}
}

func TestSession_BackoffSchedule(t *testing.T) {
	s := New(Config{URL: "ws://test", AccountID: "acct-1", Dialer: &fakeDialer{}})
	bo := s.newBackoff()

	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
	}
	for i, expected := range want {
		if got := bo.NextBackOff(); got != expected {
			t.Errorf("Attempt %d: expected %v, got %v", i+1, expected, got)
		}
	}
	// Capped at the ceiling from then on
	if got := bo.NextBackOff(); got != 30*time.Second {
		t.Errorf("Expected cap at 30s, got %v", got)
	}
}

func TestIsNormalClosure(t *testing.T) {
	if !isNormalClosure(&websocket.CloseError{Code: websocket.CloseNormalClosure}) {
		t.Error("1000 must be a normal closure")
	}
	if isNormalClosure(&websocket.CloseError{Code: websocket.CloseAbnormalClosure}) {
		t.Error("1006 must not be a normal closure")
	}
	if isNormalClosure(errors.New("read tcp: connection reset")) {
		t.Error("Transport errors must not be normal closures")
	}
	if isNormalClosure(nil) {
		t.Error("nil must not be a normal closure")
	}
}
