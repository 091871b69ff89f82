package application

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrSessionClosed 会话已关闭
var ErrSessionClosed = errors.New("session closed")

// OutMessage 出站消息，payload 为已序列化的 JSON
type OutMessage struct {
	Type     string
	Critical bool
	Payload  []byte
}

// SessionHandle 注册表中的会话句柄
// 持有会话自己的有界出站队列：慢会话或失联会话不会阻塞其它会话的投递
type SessionHandle struct {
	id          string
	principalID string

	mu       sync.Mutex
	buf      []*OutMessage
	capacity int
	closed   bool
	reason   string

	ready chan struct{}
	done  chan struct{}

	// 由传输层提供：critical 消息无处安放时强制断开会话
	forceClose func(reason string)
}

// ID 会话 ID
func (h *SessionHandle) ID() string { return h.id }

// PrincipalID 会话所属主体
func (h *SessionHandle) PrincipalID() string { return h.principalID }

// Enqueue 入队一条出站消息
// 队列满时丢弃最旧的非 critical 消息腾位；critical 消息永不丢弃，
// 实在放不下时强制关闭会话，由客户端重连并重新同步
// 返回 (是否发生丢弃, 是否触发强制关闭)
func (h *SessionHandle) Enqueue(msg *OutMessage) (dropped bool, forced bool) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return false, false
	}

	if len(h.buf) < h.capacity {
		h.buf = append(h.buf, msg)
		h.mu.Unlock()
		h.signal()
		return false, false
	}

	// 队列已满：淘汰最旧的非 critical 消息
	for i, queued := range h.buf {
		if !queued.Critical {
			copy(h.buf[i:], h.buf[i+1:])
			h.buf[len(h.buf)-1] = msg
			h.mu.Unlock()
			h.signal()
			return true, false
		}
	}

	// 队列里全是 critical 消息
	if !msg.Critical {
		// 丢弃新来的非 critical 消息
		h.mu.Unlock()
		return true, false
	}

	// critical 消息无处安放：强制关闭会话
	h.closed = true
	h.reason = "outbound queue exhausted by critical messages"
	close(h.done)
	fc := h.forceClose
	h.mu.Unlock()
	if fc != nil {
		fc(h.reason)
	}
	return false, true
}

// Next 取出下一条出站消息，队列为空时阻塞
func (h *SessionHandle) Next(ctx context.Context) (*OutMessage, error) {
	for {
		h.mu.Lock()
		if len(h.buf) > 0 {
			msg := h.buf[0]
			h.buf = h.buf[1:]
			h.mu.Unlock()
			return msg, nil
		}
		closed := h.closed
		h.mu.Unlock()

		if closed {
			return nil, ErrSessionClosed
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-h.done:
			// 关闭后可能仍有残留消息，循环取空
		case <-h.ready:
		}
	}
}

// close 标记会话关闭并唤醒消费者
func (h *SessionHandle) close() {
	h.mu.Lock()
	if !h.closed {
		h.closed = true
		close(h.done)
	}
	h.mu.Unlock()
}

func (h *SessionHandle) signal() {
	select {
	case h.ready <- struct{}{}:
	default:
	}
}

// Registry 连接注册表
// 按主体 ID 维护存活会话及其订阅主题；显式对象，不依赖任何全局单例
type Registry struct {
	mu        sync.RWMutex
	queueSize int

	sessions    map[string]*SessionHandle
	byPrincipal map[string]map[string]*SessionHandle
	byTopic     map[string]map[string]*SessionHandle
	topics      map[string]map[string]struct{} // sessionID -> topic 集合
}

// NewRegistry 创建注册表，queueSize 为每个会话的出站队列长度
func NewRegistry(queueSize int) *Registry {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Registry{
		queueSize:   queueSize,
		sessions:    make(map[string]*SessionHandle),
		byPrincipal: make(map[string]map[string]*SessionHandle),
		byTopic:     make(map[string]map[string]*SessionHandle),
		topics:      make(map[string]map[string]struct{}),
	}
}

// Register 注册新会话，forceClose 由传输层提供
func (r *Registry) Register(principalID string, forceClose func(reason string)) *SessionHandle {
	h := &SessionHandle{
		id:          uuid.New().String(),
		principalID: principalID,
		capacity:    r.queueSize,
		ready:       make(chan struct{}, 1),
		done:        make(chan struct{}),
		forceClose:  forceClose,
	}

	r.mu.Lock()
	r.sessions[h.id] = h
	if r.byPrincipal[principalID] == nil {
		r.byPrincipal[principalID] = make(map[string]*SessionHandle)
	}
	r.byPrincipal[principalID][h.id] = h
	r.topics[h.id] = make(map[string]struct{})
	r.mu.Unlock()

	return h
}

// Unregister 注销会话，原子移除会话与它的全部订阅
func (r *Registry) Unregister(sessionID string) {
	r.mu.Lock()
	h, ok := r.sessions[sessionID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.sessions, sessionID)

	if peers, ok := r.byPrincipal[h.principalID]; ok {
		delete(peers, sessionID)
		if len(peers) == 0 {
			delete(r.byPrincipal, h.principalID)
		}
	}
	for topic := range r.topics[sessionID] {
		if subs, ok := r.byTopic[topic]; ok {
			delete(subs, sessionID)
			if len(subs) == 0 {
				delete(r.byTopic, topic)
			}
		}
	}
	delete(r.topics, sessionID)
	r.mu.Unlock()

	h.close()
}

// Subscribe 订阅主题，幂等
func (r *Registry) Subscribe(sessionID, topic string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.sessions[sessionID]
	if !ok {
		return
	}
	r.topics[sessionID][topic] = struct{}{}
	if r.byTopic[topic] == nil {
		r.byTopic[topic] = make(map[string]*SessionHandle)
	}
	r.byTopic[topic][sessionID] = h
}

// Unsubscribe 退订主题，幂等
func (r *Registry) Unsubscribe(sessionID, topic string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[sessionID]; !ok {
		return
	}
	delete(r.topics[sessionID], topic)
	if subs, ok := r.byTopic[topic]; ok {
		delete(subs, sessionID)
		if len(subs) == 0 {
			delete(r.byTopic, topic)
		}
	}
}

// SessionsForTopic 查询订阅了某主题的全部会话
func (r *Registry) SessionsForTopic(topic string) []*SessionHandle {
	r.mu.RLock()
	defer r.mu.RUnlock()

	subs := r.byTopic[topic]
	if len(subs) == 0 {
		return nil
	}
	out := make([]*SessionHandle, 0, len(subs))
	for _, h := range subs {
		out = append(out, h)
	}
	return out
}

// SessionCount 当前存活会话数
func (r *Registry) SessionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// SubscriptionCount 某会话当前订阅数
func (r *Registry) SubscriptionCount(sessionID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.topics[sessionID])
}
