// Package client 订单事件流的 Go 客户端会话
// 负责连接、心跳、断线重连与本地订单缓存的重同步
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-resty/resty/v2"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/wyfcoding/orderstream/internal/stream/application"
	"github.com/wyfcoding/orderstream/internal/stream/protocol"
	"github.com/wyfcoding/orderstream/pkg/logger"
)

// State 会话状态
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
)

// Conn 客户端侧连接抽象
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close(code int, reason string) error
}

// Dialer 建连抽象
type Dialer interface {
	Dial(ctx context.Context, url, token string) (Conn, error)
}

// wsConn gorilla 连接适配
type wsConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}

func (c *wsConn) WriteMessage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) Close(code int, reason string) error {
	c.writeMu.Lock()
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
	c.writeMu.Unlock()
	return c.conn.Close()
}

type wsDialer struct{}

func (wsDialer) Dial(ctx context.Context, url, token string) (Conn, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return &wsConn{conn: conn}, nil
}

// Config 客户端会话配置
type Config struct {
	// WebSocket 地址，如 wss://host/ws/orders/acct-1
	URL string
	// REST 快照地址，如 https://host/api/v1/orders/acct-1，为空则跳过快照重同步
	SnapshotURL string
	AccountID   string
	Token       string

	// 心跳间隔，默认 30s；心跳无回包不触发断连，只有传输层关闭才算断开
	HeartbeatInterval time.Duration
	// 重连参数：基础间隔默认 1s、上限默认 30s、最多 5 次
	ReconnectBase        time.Duration
	ReconnectMax         time.Duration
	MaxReconnectAttempts int

	// Dialer 为空时使用 gorilla 拨号
	Dialer Dialer

	// OnNotification 通知回调，nil 时通知被丢弃
	OnNotification func(Notification)
	// OnStateChange 状态变更回调
	OnStateChange func(State)
}

func (c *Config) applyDefaults() {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.ReconnectBase <= 0 {
		c.ReconnectBase = time.Second
	}
	if c.ReconnectMax <= 0 {
		c.ReconnectMax = 30 * time.Second
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = 5
	}
	if c.Dialer == nil {
		c.Dialer = wsDialer{}
	}
}

// Session 客户端会话
// Start 后由单个运行协程驱动状态机，Close 幂等
type Session struct {
	cfg   Config
	http  *resty.Client
	cache *orderCache

	mu    sync.Mutex
	state State

	cancel    context.CancelFunc
	done      chan struct{}
	startOnce sync.Once
	closeOnce sync.Once

	// 用户主动关闭时当前连接以 1000 收尾，且不再重连
	current   Conn
	currentMu sync.Mutex
}

// New 创建会话，不建立连接
func New(cfg Config) *Session {
	cfg.applyDefaults()
	return &Session{
		cfg:   cfg,
		http:  resty.New().SetTimeout(10 * time.Second),
		cache: newOrderCache(),
		state: StateDisconnected,
		done:  make(chan struct{}),
	}
}

// Start 启动会话运行协程，重复调用无效
func (s *Session) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		ctx, s.cancel = context.WithCancel(ctx)
		go s.run(ctx)
	})
}

// Close 用户主动断开：当前连接以 1000 关闭，不再重连
// 未启动的会话 Close 直接返回
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		if s.cancel == nil {
			return
		}
		s.cancel()
		s.currentMu.Lock()
		if s.current != nil {
			_ = s.current.Close(websocket.CloseNormalClosure, "client closing")
		}
		s.currentMu.Unlock()
		<-s.done
	})
}

// State 当前会话状态
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Orders 本地缓存的全部订单快照
func (s *Session) Orders() []OrderSnapshot {
	return s.cache.list()
}

// Order 本地缓存的单个订单快照
func (s *Session) Order(orderID int64) (OrderSnapshot, bool) {
	return s.cache.get(orderID)
}

// run 会话主循环：连接、服务、按退避重连
func (s *Session) run(ctx context.Context) {
	defer close(s.done)
	defer s.setState(StateDisconnected)

	bo := s.newBackoff()
	attempts := 0

	for {
		if attempts == 0 {
			s.setState(StateConnecting)
		} else {
			s.setState(StateReconnecting)
		}

		conn, err := s.cfg.Dialer.Dial(ctx, s.cfg.URL, s.cfg.Token)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn(ctx, "Dial failed", "account_id", s.cfg.AccountID, "error", err)
			attempts++
			if !s.waitReconnect(ctx, bo, attempts) {
				return
			}
			continue
		}

		s.setCurrent(conn)
		s.setState(StateConnected)
		attempts = 0
		bo.Reset()

		// 先取快照再订阅，窗口内的重复事件由序号去重吸收
		if err := s.syncSnapshot(ctx); err != nil {
			logger.Warn(ctx, "Snapshot sync failed", "account_id", s.cfg.AccountID, "error", err)
		}
		s.subscribe(conn)

		serveErr := s.serve(ctx, conn)
		s.setCurrent(nil)
		_ = conn.Close(websocket.CloseNormalClosure, "")

		if ctx.Err() != nil {
			return
		}
		if isNormalClosure(serveErr) {
			// 服务端以 1000 收尾属主动断开，不重连
			logger.Info(ctx, "Server closed session normally", "account_id", s.cfg.AccountID)
			return
		}

		logger.Warn(ctx, "Connection lost", "account_id", s.cfg.AccountID, "error", serveErr)
		s.setState(StateReconnecting)
		attempts++
		if !s.waitReconnect(ctx, bo, attempts) {
			return
		}
	}
}

// serve 读取入站消息并按心跳间隔发 ping，返回终结会话的传输层错误
func (s *Session) serve(ctx context.Context, conn Conn) error {
	msgCh := make(chan []byte)
	errCh := make(chan error, 1)
	go func() {
		for {
			data, err := conn.ReadMessage()
			if err != nil {
				errCh <- err
				return
			}
			select {
			case msgCh <- data:
			case <-ctx.Done():
				return
			}
		}
	}()

	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errCh:
			return err
		case data := <-msgCh:
			s.handleMessage(ctx, data)
		case <-ticker.C:
			// 发送失败不立即断开，真正的断连由读路径上的关闭错误触发
			if err := s.sendPing(conn); err != nil {
				logger.Debug(ctx, "Heartbeat write failed", "error", err)
			}
		}
	}
}

// waitReconnect 按退避等待下一次重连，超过最大次数后放弃
func (s *Session) waitReconnect(ctx context.Context, bo *backoff.ExponentialBackOff, attempts int) bool {
	if attempts > s.cfg.MaxReconnectAttempts {
		logger.Error(ctx, "Reconnect attempts exhausted", "account_id", s.cfg.AccountID, "attempts", attempts-1)
		s.notify(Notification{
			Level:       LevelError,
			Message:     "Connection lost, manual reconnect required",
			AutoDismiss: 0,
		})
		return false
	}

	delay := bo.NextBackOff()
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (s *Session) newBackoff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.cfg.ReconnectBase
	bo.Multiplier = 2
	bo.MaxInterval = s.cfg.ReconnectMax
	bo.RandomizationFactor = 0
	return bo
}

// syncSnapshot 从 REST 拉取账户订单快照重建本地缓存
func (s *Session) syncSnapshot(ctx context.Context) error {
	if s.cfg.SnapshotURL == "" {
		return nil
	}

	var out struct {
		Orders []struct {
			OrderID        int64           `json:"order_id"`
			OrderUUID      string          `json:"order_uuid"`
			Symbol         string          `json:"symbol"`
			Side           string          `json:"side"`
			Status         string          `json:"status"`
			Quantity       decimal.Decimal `json:"quantity"`
			FilledQuantity decimal.Decimal `json:"filled_quantity"`
			AvgFillPrice   decimal.Decimal `json:"avg_fill_price"`
			EventSeq       uint64          `json:"event_seq"`
		} `json:"orders"`
		Total int64 `json:"total"`
	}

	resp, err := s.http.R().
		SetContext(ctx).
		SetAuthToken(s.cfg.Token).
		SetResult(&out).
		Get(s.cfg.SnapshotURL)
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("snapshot fetch: status %d", resp.StatusCode())
	}

	snaps := make([]OrderSnapshot, 0, len(out.Orders))
	for _, o := range out.Orders {
		var ratio float64
		if !o.Quantity.IsZero() {
			ratio, _ = o.FilledQuantity.Div(o.Quantity).Float64()
		}
		status := o.Status
		snaps = append(snaps, OrderSnapshot{
			OrderID:           o.OrderID,
			OrderUUID:         o.OrderUUID,
			Symbol:            o.Symbol,
			Side:              o.Side,
			Status:            status,
			FilledQuantity:    o.FilledQuantity,
			RemainingQuantity: o.Quantity.Sub(o.FilledQuantity),
			AvgFillPrice:      o.AvgFillPrice,
			FillRatio:         ratio,
			IsActive:          isActiveStatus(status),
			IsFinished:        !isActiveStatus(status),
			Seq:               o.EventSeq,
			UpdatedAt:         time.Now(),
		})
	}
	s.cache.replace(snaps)
	return nil
}

// subscribe 订阅账户的订单更新与风险告警主题
func (s *Session) subscribe(conn Conn) {
	topics := []string{
		application.OrderUpdatesTopic(s.cfg.AccountID),
		application.RiskAlertsTopic(s.cfg.AccountID),
	}
	for _, topic := range topics {
		payload, err := json.Marshal(protocol.SubscribeMessage{
			Type:      protocol.TypeSubscribe,
			Topic:     topic,
			Timestamp: time.Now(),
		})
		if err != nil {
			continue
		}
		if err := conn.WriteMessage(payload); err != nil {
			logger.Warn(context.Background(), "Subscribe write failed", "topic", topic, "error", err)
			return
		}
	}
}

func (s *Session) sendPing(conn Conn) error {
	payload, err := json.Marshal(protocol.PingMessage{
		Type:      protocol.TypePing,
		Timestamp: time.Now(),
	})
	if err != nil {
		return err
	}
	return conn.WriteMessage(payload)
}

// handleMessage 按 type 标签分发入站消息，解析失败只丢弃
func (s *Session) handleMessage(ctx context.Context, data []byte) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		logger.Warn(ctx, "Malformed message discarded", "error", err)
		return
	}

	switch envelope.Type {
	case protocol.TypePong:
		// 心跳回包不参与断连判定

	case protocol.TypeOrderCreated, protocol.TypeOrderStatusChanged:
		var msg protocol.OrderStatusChangedMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			logger.Warn(ctx, "Malformed order update discarded", "error", err)
			return
		}
		s.applyStatusChange(&msg)

	case protocol.TypeOrderFilled:
		var msg protocol.OrderFilledMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			logger.Warn(ctx, "Malformed fill discarded", "error", err)
			return
		}
		s.applyFill(&msg)

	case protocol.TypeOrderCancelled, protocol.TypeOrderRejected, protocol.TypeOrderExpired, protocol.TypeOrderError:
		var msg protocol.OrderClosedMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			logger.Warn(ctx, "Malformed close message discarded", "error", err)
			return
		}
		s.applyClose(envelope.Type, &msg)

	case protocol.TypeRiskAlert:
		var msg protocol.RiskAlertMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			logger.Warn(ctx, "Malformed risk alert discarded", "error", err)
			return
		}
		s.notify(notificationForAlert(msg))

	case protocol.TypeBatchOperationResult:
		var msg protocol.BatchOperationResultMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			logger.Warn(ctx, "Malformed batch result discarded", "error", err)
			return
		}
		s.notify(notificationForBatch(msg))

	default:
		logger.Debug(ctx, "Unknown message type ignored", "type", envelope.Type)
	}
}

func (s *Session) applyStatusChange(msg *protocol.OrderStatusChangedMessage) {
	snap := OrderSnapshot{
		OrderID:        msg.OrderID,
		OrderUUID:      msg.OrderUUID,
		Symbol:         msg.Symbol,
		Side:           msg.Side,
		Status:         msg.Status,
		FilledQuantity: msg.FilledQuantity,
		FillRatio:      msg.FillRatio,
		IsActive:       msg.IsActive,
		IsFinished:     msg.IsFinished,
		Seq:            msg.Seq,
		UpdatedAt:      msg.Timestamp,
	}
	if msg.RemainingQuantity != nil {
		snap.RemainingQuantity = *msg.RemainingQuantity
	}
	if prev, ok := s.cache.get(msg.OrderID); ok {
		snap.AvgFillPrice = prev.AvgFillPrice
	}
	if s.cache.apply(snap) {
		if n, ok := notificationForEvent(msg.Type, msg.Symbol, ""); ok {
			s.notify(n)
		}
	}
}

func (s *Session) applyFill(msg *protocol.OrderFilledMessage) {
	snap := OrderSnapshot{
		OrderID:        msg.OrderID,
		OrderUUID:      msg.OrderUUID,
		Symbol:         msg.Symbol,
		Side:           msg.Side,
		Status:         msg.OrderStatus.Status,
		FilledQuantity: msg.OrderStatus.FilledQuantity,
		FillRatio:      msg.OrderStatus.FillRatio,
		IsActive:       msg.IsActive,
		IsFinished:     msg.IsFinished,
		Seq:            msg.Seq,
		UpdatedAt:      msg.Timestamp,
	}
	if msg.OrderStatus.RemainingQuantity != nil {
		snap.RemainingQuantity = *msg.OrderStatus.RemainingQuantity
	}
	if msg.OrderStatus.AvgFillPrice != nil {
		snap.AvgFillPrice = *msg.OrderStatus.AvgFillPrice
	}
	if s.cache.apply(snap) {
		if n, ok := notificationForEvent(protocol.TypeOrderFilled, msg.Symbol, ""); ok {
			s.notify(n)
		}
	}
}

func (s *Session) applyClose(msgType string, msg *protocol.OrderClosedMessage) {
	snap := OrderSnapshot{
		OrderID:    msg.OrderID,
		OrderUUID:  msg.OrderUUID,
		Symbol:     msg.Symbol,
		Status:     msg.Status,
		IsActive:   false,
		IsFinished: true,
		Seq:        msg.Seq,
		UpdatedAt:  msg.Timestamp,
	}
	// 保留缓存中已知的成交进度
	if prev, ok := s.cache.get(msg.OrderID); ok {
		snap.Side = prev.Side
		snap.FilledQuantity = prev.FilledQuantity
		snap.RemainingQuantity = prev.RemainingQuantity
		snap.AvgFillPrice = prev.AvgFillPrice
		snap.FillRatio = prev.FillRatio
	}
	if s.cache.apply(snap) {
		if n, ok := notificationForEvent(msgType, msg.Symbol, msg.Reason); ok {
			s.notify(n)
		}
	}
}

func (s *Session) notify(n Notification) {
	if s.cfg.OnNotification != nil {
		s.cfg.OnNotification(n)
	}
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	changed := s.state != state
	s.state = state
	s.mu.Unlock()
	if changed && s.cfg.OnStateChange != nil {
		s.cfg.OnStateChange(state)
	}
}

func (s *Session) setCurrent(conn Conn) {
	s.currentMu.Lock()
	s.current = conn
	s.currentMu.Unlock()
}

// isNormalClosure 1000 表示对端主动关闭，1006 等异常关闭触发重连
func isNormalClosure(err error) bool {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return closeErr.Code == websocket.CloseNormalClosure
	}
	return false
}

func isActiveStatus(status string) bool {
	switch status {
	case "PENDING", "SUBMITTED", "ACCEPTED", "PARTIALLY_FILLED":
		return true
	}
	return false
}
