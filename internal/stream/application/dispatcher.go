package application

import (
	"context"
	"encoding/json"
	"time"

	"github.com/wyfcoding/orderstream/internal/stream/domain"
	"github.com/wyfcoding/orderstream/internal/stream/protocol"
	"github.com/wyfcoding/orderstream/pkg/logger"
	"github.com/wyfcoding/orderstream/pkg/metrics"
)

// Dispatcher 扇出引擎
// 把事件推送到订阅了对应主题的每一个会话的出站队列，各会话相互独立，
// 慢会话不影响其它会话；投递语义为每会话至少一次
type Dispatcher struct {
	registry *Registry
	metrics  *metrics.Metrics
}

// NewDispatcher 创建分发器，metrics 可为 nil
func NewDispatcher(registry *Registry, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		metrics:  m,
	}
}

// PublishEvent 分发订单事件
func (d *Dispatcher) PublishEvent(ctx context.Context, e *domain.OrderEvent) {
	for _, topic := range TopicsForOrderEvent(e) {
		msgType, msg := protocol.FromOrderEvent(e)
		d.publish(ctx, topic, msgType, msg, false)
	}
}

// PublishAlert 分发风险告警，critical 告警永不丢弃
func (d *Dispatcher) PublishAlert(ctx context.Context, a *domain.RiskAlert) {
	for _, topic := range TopicsForRiskAlert(a) {
		d.publish(ctx, topic, protocol.TypeRiskAlert, protocol.FromRiskAlert(a), a.IsCritical())
	}
}

// PublishBatchResult 分发批量操作结果
func (d *Dispatcher) PublishBatchResult(ctx context.Context, accountID string, result BatchResult) {
	msg := protocol.BatchOperationResultMessage{
		Type:         protocol.TypeBatchOperationResult,
		Operation:    result.Operation,
		SuccessCount: result.SuccessCount,
		FailedCount:  result.FailedCount,
		TotalCount:   result.TotalCount,
		Timestamp:    time.Now(),
	}
	d.publish(ctx, OrderUpdatesTopic(accountID), protocol.TypeBatchOperationResult, msg, false)
}

// publish 序列化一次，入队到主题的全部订阅会话
// 零订阅者时直接返回：不序列化、不报错、无任何 I/O
func (d *Dispatcher) publish(ctx context.Context, topic string, msgType string, v any, critical bool) {
	sessions := d.registry.SessionsForTopic(topic)
	if len(sessions) == 0 {
		return
	}

	payload, err := json.Marshal(v)
	if err != nil {
		logger.Error(ctx, "Failed to marshal outbound message", "type", msgType, "error", err)
		return
	}

	for _, s := range sessions {
		dropped, forced := s.Enqueue(&OutMessage{
			Type:     msgType,
			Critical: critical,
			Payload:  payload,
		})
		if d.metrics != nil {
			d.metrics.EventsDispatched.Inc()
			if dropped {
				d.metrics.MessagesDropped.Inc()
			}
			if forced {
				d.metrics.SessionsForceClosed.Inc()
			}
		}
		if dropped {
			logger.Warn(ctx, "Outbound message dropped, session queue full",
				"session_id", s.ID(),
				"topic", topic,
				"type", msgType,
			)
		}
		if forced {
			logger.Warn(ctx, "Session force-closed, critical message could not be queued",
				"session_id", s.ID(),
				"topic", topic,
			)
		}
	}
}
