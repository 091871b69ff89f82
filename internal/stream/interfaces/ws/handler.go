package ws

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/wyfcoding/orderstream/internal/stream/application"
	"github.com/wyfcoding/orderstream/pkg/logger"
	"github.com/wyfcoding/orderstream/pkg/metrics"
	"github.com/wyfcoding/orderstream/pkg/middleware"
)

// Handler WebSocket 接入处理器
type Handler struct {
	registry *application.Registry
	metrics  *metrics.Metrics
	secret   []byte
	upgrader websocket.Upgrader
}

// NewHandler 创建处理器，metrics 可为 nil
func NewHandler(registry *application.Registry, m *metrics.Metrics, jwtSecret []byte) *Handler {
	return &Handler{
		registry: registry,
		metrics:  m,
		secret:   jwtSecret,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// 浏览器端跨域由网关控制
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// RegisterRoutes 注册路由
func (h *Handler) RegisterRoutes(router gin.IRouter) {
	router.GET("/ws/orders/:account_id", h.Serve)
}

// Serve 升级连接并运行会话
// 连接时校验 Bearer 凭证，主体必须与路径中的账户一致
func (h *Handler) Serve(c *gin.Context) {
	accountID := c.Param("account_id")

	tokenString := c.Query("token")
	if tokenString == "" {
		if header := c.GetHeader("Authorization"); len(header) > 7 && header[:7] == "Bearer " {
			tokenString = header[7:]
		}
	}
	if tokenString == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing credentials"})
		return
	}

	principal, err := middleware.ParseBearerToken(tokenString, h.secret)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	if principal != accountID {
		c.JSON(http.StatusForbidden, gin.H{"error": "principal mismatch"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn(c.Request.Context(), "WebSocket upgrade failed", "account_id", accountID, "error", err)
		return
	}

	sess := newSession(conn, h.registry, accountID)
	logger.Info(c.Request.Context(), "Session connected", "session_id", sess.handle.ID(), "account_id", accountID)

	if h.metrics != nil {
		h.metrics.SessionsConnected.Inc()
		defer h.metrics.SessionsConnected.Dec()
	}

	sess.run(c.Request.Context())
	logger.Info(c.Request.Context(), "Session disconnected", "session_id", sess.handle.ID(), "account_id", accountID)
}
