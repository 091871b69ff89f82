// Package domain 包含订单事件流服务的领域模型
package domain

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// OrderStatus 订单状态
type OrderStatus string

const (
	OrderStatusPending         OrderStatus = "PENDING"
	OrderStatusSubmitted       OrderStatus = "SUBMITTED"
	OrderStatusAccepted        OrderStatus = "ACCEPTED"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCancelled       OrderStatus = "CANCELLED"
	OrderStatusRejected        OrderStatus = "REJECTED"
	OrderStatusExpired         OrderStatus = "EXPIRED"
)

// IsTerminal 是否为终态（不再接受任何状态迁移）
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected, OrderStatusExpired:
		return true
	}
	return false
}

// IsActive 是否为活跃状态
func (s OrderStatus) IsActive() bool {
	switch s {
	case OrderStatusPending, OrderStatusSubmitted, OrderStatusAccepted, OrderStatusPartiallyFilled:
		return true
	}
	return false
}

// OrderSide 订单方向
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// OrderType 订单类型
type OrderType string

const (
	OrderTypeLimit  OrderType = "LIMIT"
	OrderTypeMarket OrderType = "MARKET"
)

// Order 订单实体
// 只能由状态机变更，永不删除，只会迁移到终态
type Order struct {
	gorm.Model
	// 订单 ID（雪花）
	OrderID int64 `gorm:"column:order_id;uniqueIndex;not null" json:"order_id"`
	// 订单 UUID
	OrderUUID string `gorm:"column:order_uuid;type:varchar(36);uniqueIndex;not null" json:"order_uuid"`
	// 账户 ID
	AccountID string `gorm:"column:account_id;type:varchar(32);index;not null" json:"account_id"`
	// 交易对符号
	Symbol string `gorm:"column:symbol;type:varchar(20);index;not null" json:"symbol"`
	// 买卖方向
	Side OrderSide `gorm:"column:side;type:varchar(10);not null" json:"side"`
	// 订单类型
	Type OrderType `gorm:"column:type;type:varchar(20);not null" json:"type"`
	// 限价（市价单为 0）
	Price decimal.Decimal `gorm:"column:price;type:decimal(20,8);not null" json:"price"`
	// 数量
	Quantity decimal.Decimal `gorm:"column:quantity;type:decimal(20,8);not null" json:"quantity"`
	// 已成交数量
	FilledQuantity decimal.Decimal `gorm:"column:filled_quantity;type:decimal(20,8);not null;default:0" json:"filled_quantity"`
	// 成交均价（数量加权）
	AvgFillPrice decimal.Decimal `gorm:"column:avg_fill_price;type:decimal(20,8);not null;default:0" json:"avg_fill_price"`
	// 订单状态
	Status OrderStatus `gorm:"column:status;type:varchar(20);index;not null" json:"status"`
	// 事件序号（单调递增，每个订单独立）
	EventSeq uint64 `gorm:"column:event_seq;not null;default:0" json:"event_seq"`
}

// RemainingQuantity 获取剩余数量
func (o *Order) RemainingQuantity() decimal.Decimal {
	return o.Quantity.Sub(o.FilledQuantity)
}

// FillRatio 成交比例，取值 [0.0, 1.0]
func (o *Order) FillRatio() float64 {
	if o.Quantity.IsZero() {
		return 0
	}
	ratio, _ := o.FilledQuantity.Div(o.Quantity).Float64()
	return ratio
}

// IsActive 订单是否活跃
func (o *Order) IsActive() bool {
	return o.Status.IsActive()
}

// IsFinished 订单是否完结
func (o *Order) IsFinished() bool {
	return o.Status.IsTerminal()
}

// Fill 成交记录
// 归属于唯一订单，只追加，创建后不可修改
type Fill struct {
	gorm.Model
	// 成交 ID（雪花）
	FillID int64 `gorm:"column:fill_id;uniqueIndex;not null" json:"fill_id"`
	// 所属订单 ID
	OrderID int64 `gorm:"column:order_id;index;not null" json:"order_id"`
	// 成交数量
	Quantity decimal.Decimal `gorm:"column:quantity;type:decimal(20,8);not null" json:"quantity"`
	// 成交价格
	Price decimal.Decimal `gorm:"column:price;type:decimal(20,8);not null" json:"price"`
	// 成交金额
	Value decimal.Decimal `gorm:"column:value;type:decimal(20,8);not null" json:"value"`
	// 手续费
	Commission decimal.Decimal `gorm:"column:commission;type:decimal(20,8);not null;default:0" json:"commission"`
	// 成交时间
	FillTime time.Time `gorm:"column:fill_time;not null" json:"fill_time"`
}
