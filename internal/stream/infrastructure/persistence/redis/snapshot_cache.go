// Package redis 账户订单快照的 Redis 缓存实现
package redis

import (
	"context"
	"time"

	"github.com/wyfcoding/orderstream/internal/stream/domain"
	"github.com/wyfcoding/orderstream/pkg/cache"
)

// SnapshotCache 账户订单快照缓存
// 重连客户端先取快照再订阅，弥补断线期间的事件缺口
type SnapshotCache struct {
	cache  *cache.RedisCache
	prefix string
	ttl    time.Duration
}

// NewSnapshotCache 创建快照缓存
func NewSnapshotCache(c *cache.RedisCache, ttl time.Duration) *SnapshotCache {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &SnapshotCache{
		cache:  c,
		prefix: "orderstream:snapshot:",
		ttl:    ttl,
	}
}

// GetOrders 读取账户快照，未命中返回 (nil, nil)
func (s *SnapshotCache) GetOrders(ctx context.Context, accountID string) ([]*domain.Order, error) {
	var orders []*domain.Order
	if err := s.cache.GetJSON(ctx, s.key(accountID), &orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// SetOrders 写入账户快照
func (s *SnapshotCache) SetOrders(ctx context.Context, accountID string, orders []*domain.Order) error {
	return s.cache.SetJSON(ctx, s.key(accountID), orders, s.ttl)
}

// Invalidate 订单发生变更后使快照失效
func (s *SnapshotCache) Invalidate(ctx context.Context, accountID string) error {
	return s.cache.Delete(ctx, s.key(accountID))
}

func (s *SnapshotCache) key(accountID string) string {
	return s.prefix + accountID
}
