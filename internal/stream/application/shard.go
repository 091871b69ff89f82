package application

import (
	"context"
	"sync"

	"github.com/wyfcoding/orderstream/internal/stream/domain"
)

// applyRequest 事实应用请求，带响应通道
type applyRequest struct {
	ctx  context.Context
	fact domain.Fact
	resp chan applyResponse
}

type applyResponse struct {
	result *domain.ApplyResult
	err    error
}

// shard 状态机分片
// 单 goroutine 消费命令队列，保证路由到本分片的订单事实串行应用；
// 同一订单恒定路由到同一分片，因此单个订单的变更全序化，不同订单并行
type shard struct {
	id    int
	queue chan *applyRequest
	apply func(ctx context.Context, fact domain.Fact) (*domain.ApplyResult, error)

	mu      sync.RWMutex
	stopped bool
	wg      sync.WaitGroup
}

func newShard(id, queueSize int, apply func(ctx context.Context, fact domain.Fact) (*domain.ApplyResult, error)) *shard {
	return &shard{
		id:    id,
		queue: make(chan *applyRequest, queueSize),
		apply: apply,
	}
}

func (s *shard) start() {
	s.wg.Add(1)
	go s.loop()
}

func (s *shard) stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	close(s.queue)
	s.mu.Unlock()

	s.wg.Wait()
}

// submit 提交事实并等待应用结果
func (s *shard) submit(ctx context.Context, fact domain.Fact) (*domain.ApplyResult, error) {
	req := &applyRequest{
		ctx:  ctx,
		fact: fact,
		resp: make(chan applyResponse, 1),
	}

	s.mu.RLock()
	if s.stopped {
		s.mu.RUnlock()
		return nil, context.Canceled
	}
	select {
	case s.queue <- req:
		s.mu.RUnlock()
	case <-ctx.Done():
		s.mu.RUnlock()
		return nil, ctx.Err()
	}

	select {
	case resp := <-req.resp:
		return resp.result, resp.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *shard) loop() {
	defer s.wg.Done()
	for req := range s.queue {
		result, err := s.apply(req.ctx, req.fact)
		req.resp <- applyResponse{result: result, err: err}
	}
}
