package client

import (
	"fmt"
	"time"

	"github.com/wyfcoding/orderstream/internal/stream/protocol"
)

// 通知级别
const (
	LevelInfo    = "info"
	LevelSuccess = "success"
	LevelWarning = "warning"
	LevelError   = "error"
)

// Notification 用户可见通知
// AutoDismiss 为 0 表示永不自动消除
type Notification struct {
	Level       string
	Message     string
	AutoDismiss time.Duration
}

// notificationForEvent 事件类型到展示动作与自动消除时长的映射
func notificationForEvent(msgType, symbol string, reason string) (Notification, bool) {
	switch msgType {
	case protocol.TypeOrderCreated:
		return Notification{Level: LevelInfo, Message: fmt.Sprintf("Order created: %s", symbol), AutoDismiss: 3 * time.Second}, true
	case protocol.TypeOrderStatusChanged:
		return Notification{Level: LevelInfo, Message: fmt.Sprintf("Order updated: %s", symbol), AutoDismiss: 3 * time.Second}, true
	case protocol.TypeOrderFilled:
		return Notification{Level: LevelSuccess, Message: fmt.Sprintf("Order filled: %s", symbol), AutoDismiss: 5 * time.Second}, true
	case protocol.TypeOrderCancelled:
		return Notification{Level: LevelWarning, Message: fmt.Sprintf("Order cancelled: %s", symbol), AutoDismiss: 3 * time.Second}, true
	case protocol.TypeOrderExpired:
		return Notification{Level: LevelWarning, Message: fmt.Sprintf("Order expired: %s", symbol), AutoDismiss: 3 * time.Second}, true
	case protocol.TypeOrderRejected, protocol.TypeOrderError:
		msg := fmt.Sprintf("Order rejected: %s", symbol)
		if reason != "" {
			msg = fmt.Sprintf("%s (%s)", msg, reason)
		}
		return Notification{Level: LevelError, Message: msg, AutoDismiss: 5 * time.Second}, true
	}
	return Notification{}, false
}

// notificationForAlert critical 告警永不自动消除
func notificationForAlert(msg protocol.RiskAlertMessage) Notification {
	switch msg.Severity {
	case "critical":
		return Notification{Level: LevelError, Message: msg.Message, AutoDismiss: 0}
	case "error":
		return Notification{Level: LevelError, Message: msg.Message, AutoDismiss: 5 * time.Second}
	case "warning":
		return Notification{Level: LevelWarning, Message: msg.Message, AutoDismiss: 3 * time.Second}
	default:
		return Notification{Level: LevelInfo, Message: msg.Message, AutoDismiss: 3 * time.Second}
	}
}

// notificationForBatch 批量结果：只有零失败才算成功
func notificationForBatch(msg protocol.BatchOperationResultMessage) Notification {
	if msg.FailedCount == 0 {
		return Notification{
			Level:       LevelSuccess,
			Message:     fmt.Sprintf("%s succeeded for %d orders", msg.Operation, msg.SuccessCount),
			AutoDismiss: 3 * time.Second,
		}
	}
	return Notification{
		Level:       LevelWarning,
		Message:     fmt.Sprintf("%s finished: %d succeeded, %d failed", msg.Operation, msg.SuccessCount, msg.FailedCount),
		AutoDismiss: 5 * time.Second,
	}
}
