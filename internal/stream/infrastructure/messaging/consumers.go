package messaging

import (
	"context"
	"errors"

	"github.com/wyfcoding/orderstream/internal/stream/application"
	"github.com/wyfcoding/orderstream/internal/stream/domain"
	"github.com/wyfcoding/orderstream/pkg/logger"
	"github.com/wyfcoding/orderstream/pkg/mq"
)

// FactConsumer 消费外部执行方产生的事实（成交/取消/拒绝/过期）
// 解析失败的消息进死信主题；被状态机拒绝的事实记录后丢弃，消费不中断
type FactConsumer struct {
	consumer *mq.KafkaConsumer
	dlq      *mq.DeadLetterQueue
	service  *application.StreamService
}

// NewFactConsumer 创建事实消费者，dlq 可为 nil
func NewFactConsumer(consumer *mq.KafkaConsumer, dlq *mq.DeadLetterQueue, service *application.StreamService) *FactConsumer {
	return &FactConsumer{
		consumer: consumer,
		dlq:      dlq,
		service:  service,
	}
}

// Run 消费循环，ctx 取消时退出
func (c *FactConsumer) Run(ctx context.Context) {
	for {
		msg, err := c.consumer.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info(ctx, "Fact consumer stopped")
				return
			}
			logger.Error(ctx, "Failed to read execution fact", "error", err)
			continue
		}

		var fact domain.Fact
		if err := msg.UnmarshalPayload(&fact); err != nil {
			logger.Warn(ctx, "Malformed execution fact discarded", "offset", msg.Offset, "error", err)
			c.sendToDLQ(ctx, msg, "malformed payload", err)
			continue
		}

		if _, err := c.service.ApplyFact(ctx, fact); err != nil {
			switch {
			case errors.Is(err, domain.ErrInvalidTransition),
				errors.Is(err, domain.ErrOverfill),
				errors.Is(err, domain.ErrInvalidFact):
				// 事实被拒绝，订单保持原样，已在应用层记录
			case errors.Is(err, domain.ErrOrderNotFound):
				logger.Warn(ctx, "Fact for unknown order discarded", "order_id", fact.OrderID)
				c.sendToDLQ(ctx, msg, "unknown order", err)
			default:
				logger.Error(ctx, "Failed to apply execution fact", "order_id", fact.OrderID, "error", err)
			}
		}
	}
}

func (c *FactConsumer) sendToDLQ(ctx context.Context, msg *mq.Message, reason string, cause error) {
	if c.dlq == nil {
		return
	}
	if err := c.dlq.Send(ctx, msg, reason, cause); err != nil {
		logger.Error(ctx, "Failed to send message to dead letter queue", "error", err)
	}
}

// AlertConsumer 消费风控系统产生的风险告警并下发到在线会话
type AlertConsumer struct {
	consumer *mq.KafkaConsumer
	service  *application.StreamService
}

// NewAlertConsumer 创建告警消费者
func NewAlertConsumer(consumer *mq.KafkaConsumer, service *application.StreamService) *AlertConsumer {
	return &AlertConsumer{
		consumer: consumer,
		service:  service,
	}
}

// Run 消费循环，ctx 取消时退出
func (c *AlertConsumer) Run(ctx context.Context) {
	for {
		msg, err := c.consumer.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info(ctx, "Alert consumer stopped")
				return
			}
			logger.Error(ctx, "Failed to read risk alert", "error", err)
			continue
		}

		var alert domain.RiskAlert
		if err := msg.UnmarshalPayload(&alert); err != nil {
			logger.Warn(ctx, "Malformed risk alert discarded", "offset", msg.Offset, "error", err)
			continue
		}
		if alert.AccountID == "" {
			logger.Warn(ctx, "Risk alert without account discarded", "alert_type", alert.AlertType)
			continue
		}

		c.service.PublishRiskAlert(ctx, &alert)
	}
}
