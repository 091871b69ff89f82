package domain

import "context"

// OrderRepository 订单仓储接口
type OrderRepository interface {
	// 创建订单
	Create(ctx context.Context, order *Order) error
	// 获取订单
	Get(ctx context.Context, orderID int64) (*Order, error)
	// 获取账户订单列表
	ListByAccount(ctx context.Context, accountID string, limit, offset int) ([]*Order, int64, error)
	// 保存订单执行结果（订单更新 + 成交追加，同一事务）
	SaveExecution(ctx context.Context, order *Order, fill *Fill) error
	// 获取订单的全部成交
	ListFills(ctx context.Context, orderID int64) ([]*Fill, error)
}

// EventPublisher 规范事件发布接口（事件流水，供下游消费）
type EventPublisher interface {
	// PublishOrderEvent 发布订单事件
	PublishOrderEvent(ctx context.Context, event *OrderEvent) error
}
