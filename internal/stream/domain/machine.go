package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// FactType 执行事实类型
// 事实来自外部执行方（撮合/券商），已经是既定结果，状态机只负责套用
type FactType string

const (
	FactSubmit FactType = "submit"
	FactAccept FactType = "accept"
	FactFill   FactType = "fill"
	FactCancel FactType = "cancel"
	FactReject FactType = "reject"
	FactExpire FactType = "expire"
)

// Fact 执行事实
type Fact struct {
	Type    FactType `json:"type"`
	OrderID int64    `json:"order_id"`
	// 成交字段（仅 fill）
	FillID     int64           `json:"fill_id,omitempty"`
	Quantity   decimal.Decimal `json:"quantity,omitempty"`
	Price      decimal.Decimal `json:"price,omitempty"`
	Commission decimal.Decimal `json:"commission,omitempty"`
	// 取消/拒绝原因
	Reason string `json:"reason,omitempty"`
	// 事实时间
	Timestamp time.Time `json:"timestamp"`
}

// ApplyResult 事实应用结果
type ApplyResult struct {
	// 更新后的订单
	Order *Order
	// 本次产生的成交记录（仅 fill 事实）
	Fill *Fill
	// 恰好一个描述本次迁移的事件
	Event *OrderEvent
}

// NewOrder 创建订单，初始状态 pending，并产生 order_created 事件
func NewOrder(orderID int64, orderUUID, accountID, symbol string, side OrderSide, orderType OrderType, price, quantity decimal.Decimal, now time.Time) (*Order, *OrderEvent, error) {
	if quantity.Sign() <= 0 {
		return nil, nil, fmt.Errorf("%w: quantity must be positive", ErrInvalidFact)
	}
	order := &Order{
		OrderID:        orderID,
		OrderUUID:      orderUUID,
		AccountID:      accountID,
		Symbol:         symbol,
		Side:           side,
		Type:           orderType,
		Price:          price,
		Quantity:       quantity,
		FilledQuantity: decimal.Zero,
		AvgFillPrice:   decimal.Zero,
		Status:         OrderStatusPending,
		EventSeq:       1,
	}
	return order, snapshotEvent(EventOrderCreated, order, "", "", nil, now), nil
}

// Apply 将执行事实套用到订单上
// 失败时订单保持原样；成功时返回更新后的订单副本与恰好一个事件，调用方负责持久化
// 同一订单的 Apply 必须串行调用（见 application 层的分片队列）
func Apply(order *Order, fact Fact) (*ApplyResult, error) {
	if order.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: order %d is %s", ErrInvalidTransition, order.OrderID, order.Status)
	}

	next := *order
	oldStatus := order.Status
	now := fact.Timestamp
	if now.IsZero() {
		now = time.Now()
	}

	var fill *Fill
	var eventType EventType

	switch fact.Type {
	case FactSubmit:
		if order.Status != OrderStatusPending {
			return nil, transitionErr(order, OrderStatusSubmitted)
		}
		next.Status = OrderStatusSubmitted
		eventType = EventOrderStatusChanged

	case FactAccept:
		if order.Status != OrderStatusSubmitted {
			return nil, transitionErr(order, OrderStatusAccepted)
		}
		next.Status = OrderStatusAccepted
		eventType = EventOrderStatusChanged

	case FactFill:
		if fact.Quantity.Sign() <= 0 {
			return nil, fmt.Errorf("%w: fill quantity must be positive", ErrInvalidFact)
		}
		newFilled := order.FilledQuantity.Add(fact.Quantity)
		if newFilled.GreaterThan(order.Quantity) {
			return nil, fmt.Errorf("%w: order %d filled %s + %s > quantity %s",
				ErrOverfill, order.OrderID, order.FilledQuantity, fact.Quantity, order.Quantity)
		}

		// 数量加权均价
		notional := order.AvgFillPrice.Mul(order.FilledQuantity).Add(fact.Price.Mul(fact.Quantity))
		next.FilledQuantity = newFilled
		next.AvgFillPrice = notional.Div(newFilled)
		if newFilled.Equal(order.Quantity) {
			next.Status = OrderStatusFilled
		} else {
			next.Status = OrderStatusPartiallyFilled
		}

		fill = &Fill{
			FillID:     fact.FillID,
			OrderID:    order.OrderID,
			Quantity:   fact.Quantity,
			Price:      fact.Price,
			Value:      fact.Price.Mul(fact.Quantity),
			Commission: fact.Commission,
			FillTime:   now,
		}
		eventType = EventOrderFilled

	case FactCancel:
		// 所有活跃状态都可取消；终态已在上方拦截
		next.Status = OrderStatusCancelled
		eventType = EventOrderCancelled

	case FactReject:
		if order.Status != OrderStatusPending && order.Status != OrderStatusSubmitted {
			return nil, transitionErr(order, OrderStatusRejected)
		}
		next.Status = OrderStatusRejected
		eventType = EventOrderRejected

	case FactExpire:
		next.Status = OrderStatusExpired
		eventType = EventOrderExpired

	default:
		return nil, fmt.Errorf("%w: unknown fact type %q", ErrInvalidFact, fact.Type)
	}

	next.EventSeq = order.EventSeq + 1

	return &ApplyResult{
		Order: &next,
		Fill:  fill,
		Event: snapshotEvent(eventType, &next, oldStatus, fact.Reason, fill, now),
	}, nil
}

func transitionErr(order *Order, to OrderStatus) error {
	return fmt.Errorf("%w: order %d cannot go %s -> %s", ErrInvalidTransition, order.OrderID, order.Status, to)
}

// snapshotEvent 从订单当前字段构建事件快照
func snapshotEvent(t EventType, order *Order, oldStatus OrderStatus, reason string, fill *Fill, now time.Time) *OrderEvent {
	return &OrderEvent{
		Type:              t,
		OrderID:           order.OrderID,
		OrderUUID:         order.OrderUUID,
		AccountID:         order.AccountID,
		Symbol:            order.Symbol,
		Side:              order.Side,
		Seq:               order.EventSeq,
		OldStatus:         oldStatus,
		NewStatus:         order.Status,
		FilledQuantity:    order.FilledQuantity,
		RemainingQuantity: order.RemainingQuantity(),
		AvgFillPrice:      order.AvgFillPrice,
		FillRatio:         order.FillRatio(),
		IsActive:          order.IsActive(),
		IsFinished:        order.IsFinished(),
		Reason:            reason,
		Fill:              fill,
		OccurredOn:        now,
	}
}
