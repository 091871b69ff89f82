package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// EventType 订单事件类型
type EventType string

const (
	EventOrderCreated       EventType = "order_created"
	EventOrderStatusChanged EventType = "order_status_changed"
	EventOrderFilled        EventType = "order_filled"
	EventOrderCancelled     EventType = "order_cancelled"
	EventOrderRejected      EventType = "order_rejected"
	EventOrderExpired       EventType = "order_expired"
)

// OrderEvent 订单事件
// 不可变事实，同一订单内按 Seq 全序排列（网络投递顺序不保证，客户端按 Seq 去重）
type OrderEvent struct {
	Type      EventType   `json:"type"`
	OrderID   int64       `json:"order_id"`
	OrderUUID string      `json:"order_uuid"`
	AccountID string      `json:"account_id"`
	Symbol    string      `json:"symbol"`
	Side      OrderSide   `json:"side"`
	Seq       uint64      `json:"seq"`
	OldStatus OrderStatus `json:"old_status,omitempty"`
	NewStatus OrderStatus `json:"new_status"`
	// 变更后字段快照
	FilledQuantity    decimal.Decimal `json:"filled_quantity"`
	RemainingQuantity decimal.Decimal `json:"remaining_quantity"`
	AvgFillPrice      decimal.Decimal `json:"avg_fill_price"`
	FillRatio         float64         `json:"fill_ratio"`
	IsActive          bool            `json:"is_active"`
	IsFinished        bool            `json:"is_finished"`
	// 取消/拒绝原因
	Reason string `json:"reason,omitempty"`
	// 本次成交（仅 order_filled）
	Fill *Fill `json:"fill,omitempty"`
	// 事件时间
	OccurredOn time.Time `json:"occurred_on"`
}

// AlertSeverity 告警级别
type AlertSeverity string

const (
	SeverityInfo     AlertSeverity = "info"
	SeverityWarning  AlertSeverity = "warning"
	SeverityError    AlertSeverity = "error"
	SeverityCritical AlertSeverity = "critical"
)

// RiskAlert 风险告警
// OrderID 为 0 时为账户级告警
type RiskAlert struct {
	AlertID    string        `json:"alert_id"`
	AccountID  string        `json:"account_id"`
	OrderID    int64         `json:"order_id,omitempty"`
	AlertType  string        `json:"alert_type"`
	Message    string        `json:"message"`
	Severity   AlertSeverity `json:"severity"`
	OccurredOn time.Time     `json:"occurred_on"`
}

// IsCritical critical 告警永不被客户端自动消除，也永不被服务端丢弃
func (a *RiskAlert) IsCritical() bool {
	return a.Severity == SeverityCritical
}
