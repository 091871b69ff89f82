// Package protocol 定义 WebSocket 线上消息格式
// 所有消息都是带有 type 与 timestamp 字段的 JSON 对象，按 type 标签分发
package protocol

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/wyfcoding/orderstream/internal/stream/domain"
)

// 消息类型标签
const (
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
	TypePing        = "ping"
	TypePong        = "pong"

	TypeOrderCreated       = "order_created"
	TypeOrderStatusChanged = "order_status_changed"
	TypeOrderFilled        = "order_filled"
	TypeOrderCancelled     = "order_cancelled"
	TypeOrderRejected      = "order_rejected"
	TypeOrderExpired       = "order_expired"
	TypeOrderError         = "order_error"

	TypeRiskAlert            = "risk_alert"
	TypeBatchOperationResult = "batch_operation_result"
)

// Inbound 入站消息信封，先按 type 嗅探再分发
type Inbound struct {
	Type      string    `json:"type"`
	Topic     string    `json:"topic,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// SubscribeMessage 订阅/退订消息
type SubscribeMessage struct {
	Type      string    `json:"type"`
	Topic     string    `json:"topic"`
	Timestamp time.Time `json:"timestamp"`
}

// PingMessage 心跳消息（ping/pong 共用）
type PingMessage struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderStatusChangedMessage 订单状态变更消息（order_created 亦用此形状）
type OrderStatusChangedMessage struct {
	Type              string           `json:"type"`
	OrderID           int64            `json:"order_id"`
	OrderUUID         string           `json:"order_uuid"`
	Symbol            string           `json:"symbol"`
	Side              string           `json:"side"`
	Status            string           `json:"status"`
	OldStatus         string           `json:"old_status,omitempty"`
	FilledQuantity    decimal.Decimal  `json:"filled_quantity"`
	RemainingQuantity *decimal.Decimal `json:"remaining_quantity,omitempty"`
	FillRatio         float64          `json:"fill_ratio"`
	IsActive          bool             `json:"is_active"`
	IsFinished        bool             `json:"is_finished"`
	Seq               uint64           `json:"seq"`
	Timestamp         time.Time        `json:"timestamp"`
}

// FillData 单笔成交数据
type FillData struct {
	FillID     int64           `json:"fill_id"`
	Quantity   decimal.Decimal `json:"quantity"`
	Price      decimal.Decimal `json:"price"`
	Value      decimal.Decimal `json:"value"`
	Commission decimal.Decimal `json:"commission"`
	FillTime   time.Time       `json:"fill_time"`
}

// OrderStatusBlock 成交消息内嵌的订单状态快照
type OrderStatusBlock struct {
	FilledQuantity    decimal.Decimal  `json:"filled_quantity"`
	RemainingQuantity *decimal.Decimal `json:"remaining_quantity,omitempty"`
	AvgFillPrice      *decimal.Decimal `json:"avg_fill_price,omitempty"`
	Status            string           `json:"status"`
	FillRatio         float64          `json:"fill_ratio"`
}

// OrderFilledMessage 订单成交消息
type OrderFilledMessage struct {
	Type        string           `json:"type"`
	OrderID     int64            `json:"order_id"`
	OrderUUID   string           `json:"order_uuid"`
	Symbol      string           `json:"symbol"`
	Side        string           `json:"side"`
	FillData    FillData         `json:"fill_data"`
	OrderStatus OrderStatusBlock `json:"order_status"`
	IsActive    bool             `json:"is_active"`
	IsFinished  bool             `json:"is_finished"`
	Seq         uint64           `json:"seq"`
	Timestamp   time.Time        `json:"timestamp"`
}

// OrderClosedMessage 订单关闭类消息（cancelled/rejected/expired/error）
type OrderClosedMessage struct {
	Type      string    `json:"type"`
	OrderID   int64     `json:"order_id"`
	OrderUUID string    `json:"order_uuid,omitempty"`
	Symbol    string    `json:"symbol"`
	Status    string    `json:"status,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Seq       uint64    `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
}

// RiskAlertMessage 风险告警消息
type RiskAlertMessage struct {
	Type      string    `json:"type"`
	OrderID   int64     `json:"order_id,omitempty"`
	AlertType string    `json:"alert_type"`
	Message   string    `json:"message"`
	Severity  string    `json:"severity"`
	Timestamp time.Time `json:"timestamp"`
}

// BatchOperationResultMessage 批量操作结果消息
type BatchOperationResultMessage struct {
	Type         string    `json:"type"`
	Operation    string    `json:"operation"`
	SuccessCount int       `json:"success_count"`
	FailedCount  int       `json:"failed_count"`
	TotalCount   int       `json:"total_count"`
	Timestamp    time.Time `json:"timestamp"`
}

// FromOrderEvent 将领域事件转换为线上消息，返回消息类型标签与消息体
func FromOrderEvent(e *domain.OrderEvent) (string, any) {
	switch e.Type {
	case domain.EventOrderFilled:
		remaining := e.RemainingQuantity
		avg := e.AvgFillPrice
		msg := OrderFilledMessage{
			Type:      TypeOrderFilled,
			OrderID:   e.OrderID,
			OrderUUID: e.OrderUUID,
			Symbol:    e.Symbol,
			Side:      string(e.Side),
			OrderStatus: OrderStatusBlock{
				FilledQuantity:    e.FilledQuantity,
				RemainingQuantity: &remaining,
				AvgFillPrice:      &avg,
				Status:            string(e.NewStatus),
				FillRatio:         e.FillRatio,
			},
			IsActive:   e.IsActive,
			IsFinished: e.IsFinished,
			Seq:        e.Seq,
			Timestamp:  e.OccurredOn,
		}
		if e.Fill != nil {
			msg.FillData = FillData{
				FillID:     e.Fill.FillID,
				Quantity:   e.Fill.Quantity,
				Price:      e.Fill.Price,
				Value:      e.Fill.Value,
				Commission: e.Fill.Commission,
				FillTime:   e.Fill.FillTime,
			}
		}
		return TypeOrderFilled, msg

	case domain.EventOrderCancelled, domain.EventOrderRejected, domain.EventOrderExpired:
		t := TypeOrderCancelled
		switch e.Type {
		case domain.EventOrderRejected:
			t = TypeOrderRejected
		case domain.EventOrderExpired:
			t = TypeOrderExpired
		}
		return t, OrderClosedMessage{
			Type:      t,
			OrderID:   e.OrderID,
			OrderUUID: e.OrderUUID,
			Symbol:    e.Symbol,
			Status:    string(e.NewStatus),
			Reason:    e.Reason,
			Seq:       e.Seq,
			Timestamp: e.OccurredOn,
		}

	default:
		t := TypeOrderStatusChanged
		if e.Type == domain.EventOrderCreated {
			t = TypeOrderCreated
		}
		remaining := e.RemainingQuantity
		return t, OrderStatusChangedMessage{
			Type:              t,
			OrderID:           e.OrderID,
			OrderUUID:         e.OrderUUID,
			Symbol:            e.Symbol,
			Side:              string(e.Side),
			Status:            string(e.NewStatus),
			OldStatus:         string(e.OldStatus),
			FilledQuantity:    e.FilledQuantity,
			RemainingQuantity: &remaining,
			FillRatio:         e.FillRatio,
			IsActive:          e.IsActive,
			IsFinished:        e.IsFinished,
			Seq:               e.Seq,
			Timestamp:         e.OccurredOn,
		}
	}
}

// FromRiskAlert 将风险告警转换为线上消息
func FromRiskAlert(a *domain.RiskAlert) RiskAlertMessage {
	return RiskAlertMessage{
		Type:      TypeRiskAlert,
		OrderID:   a.OrderID,
		AlertType: a.AlertType,
		Message:   a.Message,
		Severity:  string(a.Severity),
		Timestamp: a.OccurredOn,
	}
}
