package application

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/wyfcoding/orderstream/internal/stream/domain"
	"github.com/wyfcoding/orderstream/pkg/logger"
	"github.com/wyfcoding/orderstream/pkg/metrics"
	"github.com/wyfcoding/orderstream/pkg/utils"
)

// SnapshotCache 账户订单快照缓存接口，供重连客户端先取快照再订阅
type SnapshotCache interface {
	GetOrders(ctx context.Context, accountID string) ([]*domain.Order, error)
	SetOrders(ctx context.Context, accountID string, orders []*domain.Order) error
	Invalidate(ctx context.Context, accountID string) error
}

// ServiceConfig 服务配置
type ServiceConfig struct {
	ShardCount     int
	ShardQueueSize int
	NodeID         int64
}

// StreamService 订单事件流应用服务
// 所有订单状态变更都经由分片化的状态机管道，单个订单内事实串行应用
type StreamService struct {
	repo       domain.OrderRepository
	publisher  domain.EventPublisher
	dispatcher *Dispatcher
	snapshots  SnapshotCache
	metrics    *metrics.Metrics
	idGen      *utils.SnowflakeID
	shards     []*shard
}

// NewStreamService 创建服务并启动分片
// publisher、snapshots、m 均可为 nil（降级为不发流水/不缓存/不打点）
func NewStreamService(repo domain.OrderRepository, publisher domain.EventPublisher, dispatcher *Dispatcher, snapshots SnapshotCache, m *metrics.Metrics, cfg ServiceConfig) *StreamService {
	if cfg.ShardCount <= 0 {
		cfg.ShardCount = 16
	}
	if cfg.ShardQueueSize <= 0 {
		cfg.ShardQueueSize = 1024
	}

	s := &StreamService{
		repo:       repo,
		publisher:  publisher,
		dispatcher: dispatcher,
		snapshots:  snapshots,
		metrics:    m,
		idGen:      utils.NewSnowflakeID(cfg.NodeID),
	}

	s.shards = make([]*shard, cfg.ShardCount)
	for i := 0; i < cfg.ShardCount; i++ {
		sh := newShard(i, cfg.ShardQueueSize, s.applyFact)
		sh.start()
		s.shards[i] = sh
	}

	return s
}

// Stop 停止全部分片，排空队列
func (s *StreamService) Stop() {
	for _, sh := range s.shards {
		sh.stop()
	}
}

// CreateOrderCommand 创建订单命令
type CreateOrderCommand struct {
	AccountID string
	Symbol    string
	Side      domain.OrderSide
	Type      domain.OrderType
	Price     decimal.Decimal
	Quantity  decimal.Decimal
}

// CreateOrder 接受下单请求，订单进入 pending 并广播 order_created
func (s *StreamService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (*domain.Order, error) {
	order, event, err := domain.NewOrder(
		s.idGen.Generate(),
		uuid.New().String(),
		cmd.AccountID,
		cmd.Symbol,
		cmd.Side,
		cmd.Type,
		cmd.Price,
		cmd.Quantity,
		time.Now(),
	)
	if err != nil {
		return nil, err
	}

	if err := s.repo.Create(ctx, order); err != nil {
		return nil, err
	}

	s.emit(ctx, event)
	s.invalidateSnapshot(ctx, order.AccountID)

	return order, nil
}

// ApplyFact 应用一条执行事实
// 按订单 ID 路由到分片，同一订单的并发事实绝不乱序应用
func (s *StreamService) ApplyFact(ctx context.Context, fact domain.Fact) (*domain.ApplyResult, error) {
	start := time.Now()
	result, err := s.shardFor(fact.OrderID).submit(ctx, fact)
	if s.metrics != nil {
		s.metrics.FactApplyDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			if errors.Is(err, domain.ErrInvalidTransition) || errors.Is(err, domain.ErrOverfill) {
				s.metrics.FactsRejected.Inc()
			}
		} else {
			s.metrics.FactsApplied.Inc()
		}
	}
	return result, err
}

// PublishRiskAlert 下发风险告警
func (s *StreamService) PublishRiskAlert(ctx context.Context, alert *domain.RiskAlert) {
	if alert.AlertID == "" {
		alert.AlertID = uuid.New().String()
	}
	if alert.OccurredOn.IsZero() {
		alert.OccurredOn = time.Now()
	}
	s.dispatcher.PublishAlert(ctx, alert)
}

// BatchResult 批量操作结果
type BatchResult struct {
	Operation    string
	SuccessCount int
	FailedCount  int
	TotalCount   int
}

// Succeeded 仅当没有任何失败时才算成功
func (r BatchResult) Succeeded() bool {
	return r.FailedCount == 0
}

// BatchCancel 批量取消账户订单，逐单产生事件并汇总一条批量结果消息
// 不属于该账户的订单计为失败，不产生任何取消事实
func (s *StreamService) BatchCancel(ctx context.Context, accountID string, orderIDs []int64, reason string) BatchResult {
	result := BatchResult{
		Operation:  "cancel",
		TotalCount: len(orderIDs),
	}

	for _, orderID := range orderIDs {
		// 归属校验；订单的账户归属不可变，读后应用没有竞态
		order, err := s.repo.Get(ctx, orderID)
		if err == nil && order == nil {
			err = domain.ErrOrderNotFound
		}
		if err != nil {
			result.FailedCount++
			logger.Warn(ctx, "Batch cancel skipped order", "order_id", orderID, "error", err)
			continue
		}
		if order.AccountID != accountID {
			result.FailedCount++
			logger.Warn(ctx, "Batch cancel rejected foreign order",
				"order_id", orderID,
				"account_id", accountID,
				"owner_account_id", order.AccountID,
			)
			continue
		}

		_, err = s.ApplyFact(ctx, domain.Fact{
			Type:      domain.FactCancel,
			OrderID:   orderID,
			Reason:    reason,
			Timestamp: time.Now(),
		})
		if err != nil {
			result.FailedCount++
			logger.Warn(ctx, "Batch cancel skipped order", "order_id", orderID, "error", err)
			continue
		}
		result.SuccessCount++
	}

	s.dispatcher.PublishBatchResult(ctx, accountID, result)
	return result
}

// ListOrders 账户订单快照，优先走缓存（供重连客户端先取快照再订阅）
func (s *StreamService) ListOrders(ctx context.Context, accountID string, limit, offset int) ([]*domain.Order, int64, error) {
	if s.snapshots != nil && offset == 0 {
		cached, err := s.snapshots.GetOrders(ctx, accountID)
		if err != nil {
			logger.Warn(ctx, "Snapshot cache read failed", "account_id", accountID, "error", err)
		} else if cached != nil {
			total := int64(len(cached))
			if limit > 0 && len(cached) > limit {
				cached = cached[:limit]
			}
			return cached, total, nil
		}
	}

	orders, total, err := s.repo.ListByAccount(ctx, accountID, limit, offset)
	if err != nil {
		return nil, 0, err
	}

	if s.snapshots != nil && offset == 0 {
		if err := s.snapshots.SetOrders(ctx, accountID, orders); err != nil {
			logger.Warn(ctx, "Snapshot cache write failed", "account_id", accountID, "error", err)
		}
	}
	return orders, total, nil
}

// GetOrder 单个订单快照
func (s *StreamService) GetOrder(ctx context.Context, orderID int64) (*domain.Order, error) {
	return s.repo.Get(ctx, orderID)
}

func (s *StreamService) shardFor(orderID int64) *shard {
	idx := int(uint64(orderID) % uint64(len(s.shards)))
	return s.shards[idx]
}

// applyFact 在分片 goroutine 内执行：读取、套用、持久化、发布
func (s *StreamService) applyFact(ctx context.Context, fact domain.Fact) (*domain.ApplyResult, error) {
	order, err := s.repo.Get(ctx, fact.OrderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, domain.ErrOrderNotFound
	}

	result, err := domain.Apply(order, fact)
	if err != nil {
		// 非法迁移与超额成交只记录，不影响订单，也绝不中断进程
		logger.Warn(ctx, "Execution fact rejected",
			"order_id", fact.OrderID,
			"fact_type", fact.Type,
			"status", order.Status,
			"error", err,
		)
		return nil, err
	}

	if err := s.repo.SaveExecution(ctx, result.Order, result.Fill); err != nil {
		return nil, err
	}

	s.emit(ctx, result.Event)
	s.invalidateSnapshot(ctx, result.Order.AccountID)

	return result, nil
}

// emit 把事件写入流水主题并分发给在线会话
func (s *StreamService) emit(ctx context.Context, event *domain.OrderEvent) {
	if s.publisher != nil {
		if err := s.publisher.PublishOrderEvent(ctx, event); err != nil {
			// 流水发布失败不影响在线分发；下游靠至少一次语义与去重兜底
			logger.Error(ctx, "Failed to publish order event", "order_id", event.OrderID, "seq", event.Seq, "error", err)
		}
	}
	s.dispatcher.PublishEvent(ctx, event)
}

func (s *StreamService) invalidateSnapshot(ctx context.Context, accountID string) {
	if s.snapshots == nil {
		return
	}
	if err := s.snapshots.Invalidate(ctx, accountID); err != nil {
		logger.Warn(ctx, "Snapshot cache invalidation failed", "account_id", accountID, "error", err)
	}
}
