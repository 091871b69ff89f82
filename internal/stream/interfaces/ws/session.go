// Package ws WebSocket 接入层：连接升级、鉴权、会话读写泵
package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wyfcoding/orderstream/internal/stream/application"
	"github.com/wyfcoding/orderstream/internal/stream/protocol"
	"github.com/wyfcoding/orderstream/pkg/logger"
)

const writeTimeout = 10 * time.Second

// session 服务端会话
// 读泵按 type 标签分发入站消息，写泵排空注册表里的出站队列；
// 读写都以连接关闭为终点，会话注销与订阅清理是原子的
type session struct {
	conn      *websocket.Conn
	registry  *application.Registry
	handle    *application.SessionHandle
	accountID string

	handlers map[string]func(ctx context.Context, in *protocol.Inbound)

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func newSession(conn *websocket.Conn, registry *application.Registry, accountID string) *session {
	s := &session{
		conn:      conn,
		registry:  registry,
		accountID: accountID,
	}

	// type 标签到处理函数的注册表，未知标签记录后忽略
	s.handlers = map[string]func(ctx context.Context, in *protocol.Inbound){
		protocol.TypeSubscribe:   s.handleSubscribe,
		protocol.TypeUnsubscribe: s.handleUnsubscribe,
		protocol.TypePing:        s.handlePing,
		protocol.TypePong:        s.handlePong,
	}

	s.handle = registry.Register(accountID, s.forceClose)
	return s
}

// run 阻塞运行会话直至连接关闭
func (s *session) run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.writePump(ctx)
	}()

	s.readLoop(ctx)

	s.registry.Unregister(s.handle.ID())
	s.closeConn(websocket.CloseNormalClosure, "")
	cancel()
	wg.Wait()
}

// readLoop 读泵：解析失败只丢弃消息，连接保持打开
func (s *session) readLoop(ctx context.Context) {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn(ctx, "Session closed abnormally", "session_id", s.handle.ID(), "error", err)
			} else {
				logger.Info(ctx, "Session closed", "session_id", s.handle.ID())
			}
			return
		}

		var in protocol.Inbound
		if err := json.Unmarshal(data, &in); err != nil {
			logger.Warn(ctx, "Malformed message discarded", "session_id", s.handle.ID(), "error", err)
			continue
		}

		handler, ok := s.handlers[in.Type]
		if !ok {
			logger.Warn(ctx, "Unknown message type ignored", "session_id", s.handle.ID(), "type", in.Type)
			continue
		}
		handler(ctx, &in)
	}
}

// writePump 写泵：排空出站队列，慢连接只影响自己
func (s *session) writePump(ctx context.Context) {
	for {
		msg, err := s.handle.Next(ctx)
		if err != nil {
			return
		}
		if err := s.write(websocket.TextMessage, msg.Payload); err != nil {
			logger.Warn(ctx, "Failed to write outbound message", "session_id", s.handle.ID(), "error", err)
			s.closeConn(websocket.CloseAbnormalClosure, "")
			return
		}
	}
}

func (s *session) handleSubscribe(ctx context.Context, in *protocol.Inbound) {
	if !s.ownsTopic(in.Topic) {
		logger.Warn(ctx, "Subscribe to foreign topic rejected",
			"session_id", s.handle.ID(),
			"account_id", s.accountID,
			"topic", in.Topic,
		)
		return
	}
	s.registry.Subscribe(s.handle.ID(), in.Topic)
	logger.Debug(ctx, "Session subscribed", "session_id", s.handle.ID(), "topic", in.Topic)
}

func (s *session) handleUnsubscribe(ctx context.Context, in *protocol.Inbound) {
	s.registry.Unsubscribe(s.handle.ID(), in.Topic)
}

func (s *session) handlePing(ctx context.Context, in *protocol.Inbound) {
	payload, err := json.Marshal(protocol.PingMessage{
		Type:      protocol.TypePong,
		Timestamp: time.Now(),
	})
	if err != nil {
		return
	}
	s.handle.Enqueue(&application.OutMessage{
		Type:    protocol.TypePong,
		Payload: payload,
	})
}

func (s *session) handlePong(ctx context.Context, in *protocol.Inbound) {
	// 心跳回包不参与断连判定
}

// ownsTopic 会话只能订阅自己账户的主题
func (s *session) ownsTopic(topic string) bool {
	return application.TopicAccount(topic) == s.accountID
}

// forceClose critical 消息挤不进队列时由分发器触发：
// 关闭连接，客户端重连后先取快照再订阅完成重同步
func (s *session) forceClose(reason string) {
	s.closeConn(websocket.CloseTryAgainLater, reason)
}

func (s *session) closeConn(code int, reason string) {
	s.closeOnce.Do(func() {
		_ = s.write(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
		_ = s.conn.Close()
	})
}

func (s *session) write(messageType int, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteMessage(messageType, data)
}
