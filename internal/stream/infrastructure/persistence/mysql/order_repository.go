// Package mysql 订单与成交的 MySQL 持久化实现
package mysql

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/wyfcoding/orderstream/internal/stream/domain"
	"github.com/wyfcoding/orderstream/pkg/db"
)

// OrderRepository 订单仓储的 GORM 实现
type OrderRepository struct {
	db *db.DB
}

// NewOrderRepository 创建订单仓储
func NewOrderRepository(database *db.DB) *OrderRepository {
	return &OrderRepository{db: database}
}

// AutoMigrate 建表
func (r *OrderRepository) AutoMigrate() error {
	return r.db.AutoMigrate(&domain.Order{}, &domain.Fill{})
}

// Create 创建订单
func (r *OrderRepository) Create(ctx context.Context, order *domain.Order) error {
	if err := r.db.WithContext(ctx).Create(order).Error; err != nil {
		return fmt.Errorf("failed to create order: %w", err)
	}
	return nil
}

// Get 获取订单，不存在时返回 (nil, nil)
func (r *OrderRepository) Get(ctx context.Context, orderID int64) (*domain.Order, error) {
	var order domain.Order
	err := r.db.WithContext(ctx).Where("order_id = ?", orderID).First(&order).Error
	if err != nil {
		if db.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return &order, nil
}

// ListByAccount 获取账户订单列表，按创建时间倒序
func (r *OrderRepository) ListByAccount(ctx context.Context, accountID string, limit, offset int) ([]*domain.Order, int64, error) {
	if limit <= 0 {
		limit = 100
	}

	var total int64
	query := r.db.WithContext(ctx).Model(&domain.Order{}).Where("account_id = ?", accountID)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count orders: %w", err)
	}

	var orders []*domain.Order
	err := query.Order("created_at DESC").Limit(limit).Offset(offset).Find(&orders).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list orders: %w", err)
	}
	return orders, total, nil
}

// SaveExecution 保存执行结果：订单更新与成交追加在同一事务内
func (r *OrderRepository) SaveExecution(ctx context.Context, order *domain.Order, fill *domain.Fill) error {
	return r.db.WithTx(ctx, func(tx *gorm.DB) error {
		if err := tx.Save(order).Error; err != nil {
			return fmt.Errorf("failed to save order: %w", err)
		}
		if fill != nil {
			if err := tx.Create(fill).Error; err != nil {
				return fmt.Errorf("failed to append fill: %w", err)
			}
		}
		return nil
	})
}

// ListFills 获取订单的全部成交，按成交时间排序
func (r *OrderRepository) ListFills(ctx context.Context, orderID int64) ([]*domain.Fill, error) {
	var fills []*domain.Fill
	err := r.db.WithContext(ctx).Where("order_id = ?", orderID).Order("fill_time ASC").Find(&fills).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list fills: %w", err)
	}
	return fills, nil
}
