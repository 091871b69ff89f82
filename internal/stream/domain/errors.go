package domain

import "errors"

// 领域错误，任何一个都不会导致进程退出
var (
	// ErrInvalidTransition 事实不适用于订单当前状态
	ErrInvalidTransition = errors.New("invalid order state transition")
	// ErrOverfill 成交会导致已成交数量超过订单数量
	ErrOverfill = errors.New("fill exceeds order quantity")
	// ErrInvalidFact 事实本身不合法（数量非正、缺少字段等）
	ErrInvalidFact = errors.New("invalid execution fact")
	// ErrOrderNotFound 订单不存在
	ErrOrderNotFound = errors.New("order not found")
)
