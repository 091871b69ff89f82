// Package application 包含订单事件流的应用服务：
// 事实应用管道（按订单串行）、主题路由、连接注册表与分发器
package application

import (
	"fmt"
	"strings"

	"github.com/wyfcoding/orderstream/internal/stream/domain"
)

// 主题命名约定：{前缀}:{账户 ID}
const (
	TopicPrefixOrderUpdates = "order_updates"
	TopicPrefixRiskAlerts   = "risk_alerts"
)

// OrderUpdatesTopic 账户的订单事件主题
func OrderUpdatesTopic(accountID string) string {
	return fmt.Sprintf("%s:%s", TopicPrefixOrderUpdates, accountID)
}

// RiskAlertsTopic 账户的风险告警主题
func RiskAlertsTopic(accountID string) string {
	return fmt.Sprintf("%s:%s", TopicPrefixRiskAlerts, accountID)
}

// TopicsForOrderEvent 解析订单事件对应的主题集合
// 纯函数，无 I/O；账户未知时返回空集（静默丢弃，不报错）
func TopicsForOrderEvent(e *domain.OrderEvent) []string {
	if e == nil || e.AccountID == "" {
		return nil
	}
	return []string{OrderUpdatesTopic(e.AccountID)}
}

// TopicsForRiskAlert 解析风险告警对应的主题集合
func TopicsForRiskAlert(a *domain.RiskAlert) []string {
	if a == nil || a.AccountID == "" {
		return nil
	}
	return []string{RiskAlertsTopic(a.AccountID)}
}

// TopicAccount 从主题名中取出账户 ID，未知格式返回空串
func TopicAccount(topic string) string {
	idx := strings.IndexByte(topic, ':')
	if idx < 0 {
		return ""
	}
	prefix := topic[:idx]
	if prefix != TopicPrefixOrderUpdates && prefix != TopicPrefixRiskAlerts {
		return ""
	}
	return topic[idx+1:]
}
