// Package messaging 事件流水发布与执行事实/告警消费
package messaging

import (
	"context"
	"strconv"

	"github.com/wyfcoding/orderstream/internal/stream/domain"
	"github.com/wyfcoding/orderstream/pkg/mq"
)

// KafkaEventPublisher 把规范订单事件写入 Kafka 流水主题，供下游消费
type KafkaEventPublisher struct {
	producer *mq.KafkaProducer
	topic    string
}

// NewKafkaEventPublisher 创建事件发布者
func NewKafkaEventPublisher(producer *mq.KafkaProducer, topic string) *KafkaEventPublisher {
	return &KafkaEventPublisher{
		producer: producer,
		topic:    topic,
	}
}

// PublishOrderEvent 发布订单事件
// 以订单 ID 为 key，同一订单落在同一分区，保持分区内有序
func (p *KafkaEventPublisher) PublishOrderEvent(ctx context.Context, event *domain.OrderEvent) error {
	key := strconv.FormatInt(event.OrderID, 10)
	return p.producer.SendMessage(ctx, p.topic, key, event)
}
