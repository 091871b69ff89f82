// Package http 订单快照与批量操作的 REST 接入层
package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/wyfcoding/orderstream/internal/stream/application"
	"github.com/wyfcoding/orderstream/internal/stream/domain"
	"github.com/wyfcoding/orderstream/pkg/logger"
	"github.com/wyfcoding/orderstream/pkg/middleware"
)

// StreamHandler HTTP 处理器
type StreamHandler struct {
	service *application.StreamService
}

// NewStreamHandler 创建 HTTP 处理器
func NewStreamHandler(service *application.StreamService) *StreamHandler {
	return &StreamHandler{service: service}
}

// RegisterRoutes 注册路由，整组走 Bearer 鉴权
func (h *StreamHandler) RegisterRoutes(router gin.IRouter, jwtSecret []byte) {
	api := router.Group("/api/v1/orders", middleware.GinAuthMiddleware(jwtSecret))
	{
		api.GET("/:account_id", h.ListOrders)          // 账户订单快照（重连后先取快照再订阅）
		api.POST("/:account_id", h.CreateOrder)        // 下单
		api.POST("/:account_id/cancel", h.BatchCancel) // 批量取消
	}
}

// ListOrders 账户订单快照
func (h *StreamHandler) ListOrders(c *gin.Context) {
	accountID, ok := h.authorizedAccount(c)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	orders, total, err := h.service.ListOrders(c.Request.Context(), accountID, limit, offset)
	if err != nil {
		logger.Error(c.Request.Context(), "Failed to list orders", "account_id", accountID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list orders"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"orders": orders,
		"total":  total,
	})
}

// CreateOrderRequest 下单请求
type CreateOrderRequest struct {
	Symbol   string          `json:"symbol" binding:"required"`
	Side     string          `json:"side" binding:"required"`
	Type     string          `json:"type" binding:"required"`
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity" binding:"required"`
}

// CreateOrder 下单，订单进入 pending 并广播 order_created
func (h *StreamHandler) CreateOrder(c *gin.Context) {
	accountID, ok := h.authorizedAccount(c)
	if !ok {
		return
	}

	var req CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	order, err := h.service.CreateOrder(c.Request.Context(), application.CreateOrderCommand{
		AccountID: accountID,
		Symbol:    req.Symbol,
		Side:      domain.OrderSide(req.Side),
		Type:      domain.OrderType(req.Type),
		Price:     req.Price,
		Quantity:  req.Quantity,
	})
	if err != nil {
		logger.Error(c.Request.Context(), "Failed to create order", "account_id", accountID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"order_id":   order.OrderID,
		"order_uuid": order.OrderUUID,
		"status":     order.Status,
	})
}

// BatchCancelRequest 批量取消请求
type BatchCancelRequest struct {
	OrderIDs []int64 `json:"order_ids" binding:"required"`
	Reason   string  `json:"reason"`
}

// BatchCancel 批量取消，逐单产生事件并汇总一条批量结果
func (h *StreamHandler) BatchCancel(c *gin.Context) {
	accountID, ok := h.authorizedAccount(c)
	if !ok {
		return
	}

	var req BatchCancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result := h.service.BatchCancel(c.Request.Context(), accountID, req.OrderIDs, req.Reason)

	c.JSON(http.StatusOK, gin.H{
		"operation":     result.Operation,
		"success_count": result.SuccessCount,
		"failed_count":  result.FailedCount,
		"total_count":   result.TotalCount,
	})
}

// authorizedAccount 主体必须与路径账户一致
func (h *StreamHandler) authorizedAccount(c *gin.Context) (string, bool) {
	accountID := c.Param("account_id")
	principal := c.GetString(middleware.PrincipalIDKey)
	if principal == "" || principal != accountID {
		c.JSON(http.StatusForbidden, gin.H{"error": "principal mismatch"})
		return "", false
	}
	return accountID, true
}
