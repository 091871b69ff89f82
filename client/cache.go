package client

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// OrderSnapshot 客户端侧的订单快照
type OrderSnapshot struct {
	OrderID           int64           `json:"order_id"`
	OrderUUID         string          `json:"order_uuid"`
	Symbol            string          `json:"symbol"`
	Side              string          `json:"side"`
	Status            string          `json:"status"`
	FilledQuantity    decimal.Decimal `json:"filled_quantity"`
	RemainingQuantity decimal.Decimal `json:"remaining_quantity"`
	AvgFillPrice      decimal.Decimal `json:"avg_fill_price"`
	FillRatio         float64         `json:"fill_ratio"`
	IsActive          bool            `json:"is_active"`
	IsFinished        bool            `json:"is_finished"`
	Seq               uint64          `json:"seq"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// orderCache 本地订单缓存
// 只由会话自己的消息处理路径写入（单写者），读取方拿到的是副本
type orderCache struct {
	mu     sync.RWMutex
	orders map[int64]*OrderSnapshot
}

func newOrderCache() *orderCache {
	return &orderCache{
		orders: make(map[int64]*OrderSnapshot),
	}
}

// apply 按订单 ID 合并事件快照
// 事件序号不比缓存新时丢弃（重放幂等），返回是否真正发生了更新
func (c *orderCache) apply(snap OrderSnapshot) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	existing, ok := c.orders[snap.OrderID]
	if ok && snap.Seq <= existing.Seq {
		return false
	}
	copied := snap
	c.orders[snap.OrderID] = &copied
	return true
}

// replace 用服务端快照整体重建缓存（重连后先取快照再订阅）
func (c *orderCache) replace(snaps []OrderSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.orders = make(map[int64]*OrderSnapshot, len(snaps))
	for _, snap := range snaps {
		copied := snap
		c.orders[snap.OrderID] = &copied
	}
}

// get 读取单个订单快照副本
func (c *orderCache) get(orderID int64) (OrderSnapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap, ok := c.orders[orderID]
	if !ok {
		return OrderSnapshot{}, false
	}
	return *snap, true
}

// list 读取全部订单快照副本
func (c *orderCache) list() []OrderSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]OrderSnapshot, 0, len(c.orders))
	for _, snap := range c.orders {
		out = append(out, *snap)
	}
	return out
}
