// OrderStream 主程序
// 功能：订单生命周期状态机与实时事件分发，向在线会话推送订单更新与风险告警
// 架构：基于 DDD + WebSocket + Kafka
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/wyfcoding/orderstream/internal/stream/application"
	"github.com/wyfcoding/orderstream/internal/stream/infrastructure/messaging"
	"github.com/wyfcoding/orderstream/internal/stream/infrastructure/persistence/mysql"
	redissnap "github.com/wyfcoding/orderstream/internal/stream/infrastructure/persistence/redis"
	httphandler "github.com/wyfcoding/orderstream/internal/stream/interfaces/http"
	wshandler "github.com/wyfcoding/orderstream/internal/stream/interfaces/ws"
	"github.com/wyfcoding/orderstream/pkg/cache"
	"github.com/wyfcoding/orderstream/pkg/config"
	"github.com/wyfcoding/orderstream/pkg/db"
	"github.com/wyfcoding/orderstream/pkg/logger"
	"github.com/wyfcoding/orderstream/pkg/metrics"
	"github.com/wyfcoding/orderstream/pkg/middleware"
	"github.com/wyfcoding/orderstream/pkg/mq"
)

func main() {
	// 1. 加载配置
	configPath := "configs/orderstream/config.toml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 2. 初始化日志
	loggerCfg := logger.Config{
		Level:      cfg.Logger.Level,
		Format:     cfg.Logger.Format,
		Output:     cfg.Logger.Output,
		FilePath:   cfg.Logger.FilePath,
		MaxSize:    cfg.Logger.MaxSize,
		MaxBackups: cfg.Logger.MaxBackups,
		MaxAge:     cfg.Logger.MaxAge,
		Compress:   cfg.Logger.Compress,
		WithCaller: cfg.Logger.WithCaller,
	}
	if err := logger.Init(loggerCfg); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	logger.Info(ctx, "Starting OrderStream",
		"service", cfg.ServiceName,
		"version", cfg.Version,
		"environment", cfg.Environment,
	)

	// 3. 初始化指标
	metricsInstance := metrics.New(cfg.ServiceName)
	if err := metricsInstance.Register(); err != nil {
		logger.Fatal(ctx, "Failed to register metrics", "error", err)
	}
	if cfg.Metrics.Enabled {
		if err := metrics.StartHTTPServer(cfg.Metrics.Port, cfg.Metrics.Path); err != nil {
			logger.Fatal(ctx, "Failed to start metrics HTTP server", "error", err)
		}
	}

	// 4. 初始化数据库
	dbCfg := db.Config{
		Driver:             cfg.Database.Driver,
		DSN:                cfg.Database.DSN,
		MaxOpenConns:       cfg.Database.MaxOpenConns,
		MaxIdleConns:       cfg.Database.MaxIdleConns,
		ConnMaxLifetime:    cfg.Database.ConnMaxLifetime,
		LogEnabled:         cfg.Database.LogEnabled,
		SlowQueryThreshold: cfg.Database.SlowQueryThreshold,
		QueryHook: func(elapsed time.Duration, err error) {
			metricsInstance.DBQueriesTotal.Inc()
			metricsInstance.DBQueryDuration.Observe(elapsed.Seconds())
		},
	}
	database, err := db.Init(dbCfg)
	if err != nil {
		logger.Fatal(ctx, "Failed to initialize database", "error", err)
	}
	defer database.Close()

	// 5. 初始化 Redis
	redisCfg := cache.Config{
		Host:         cfg.Redis.Host,
		Port:         cfg.Redis.Port,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		MaxPoolSize:  cfg.Redis.MaxPoolSize,
		ConnTimeout:  cfg.Redis.ConnTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	}
	redisCache, err := cache.New(redisCfg)
	if err != nil {
		logger.Fatal(ctx, "Failed to initialize Redis", "error", err)
	}
	defer redisCache.Close()

	// 6. 初始化仓储并建表
	orderRepo := mysql.NewOrderRepository(database)
	if err := orderRepo.AutoMigrate(); err != nil {
		logger.Fatal(ctx, "Failed to migrate database", "error", err)
	}
	snapshotCache := redissnap.NewSnapshotCache(redisCache, time.Duration(cfg.Stream.SnapshotTTL)*time.Second)

	// 7. 初始化 Kafka
	mqCfg := mq.KafkaConfig{
		Brokers:        cfg.Kafka.Brokers,
		GroupID:        cfg.Kafka.GroupID,
		SessionTimeout: cfg.Kafka.SessionTimeout,
		MaxRetries:     cfg.Kafka.MaxRetries,
		RetryBackoff:   cfg.Kafka.RetryBackoff,
	}
	producer, err := mq.NewProducer(mqCfg)
	if err != nil {
		logger.Fatal(ctx, "Failed to create Kafka producer", "error", err)
	}
	defer producer.Close()

	factConsumer, err := mq.NewConsumer(mqCfg, cfg.Kafka.FactsTopic)
	if err != nil {
		logger.Fatal(ctx, "Failed to create fact consumer", "error", err)
	}
	defer factConsumer.Close()

	alertConsumer, err := mq.NewConsumer(mqCfg, cfg.Kafka.AlertsTopic)
	if err != nil {
		logger.Fatal(ctx, "Failed to create alert consumer", "error", err)
	}
	defer alertConsumer.Close()

	dlq := mq.NewDeadLetterQueue(producer, cfg.Kafka.DeadLetterTopic)
	eventPublisher := messaging.NewKafkaEventPublisher(producer, cfg.Kafka.EventsTopic)

	// 8. 初始化注册表、分发器与应用服务
	registry := application.NewRegistry(cfg.Stream.SessionQueueSize)
	dispatcher := application.NewDispatcher(registry, metricsInstance)
	streamService := application.NewStreamService(orderRepo, eventPublisher, dispatcher, snapshotCache, metricsInstance, application.ServiceConfig{
		ShardCount:     cfg.Stream.ShardCount,
		ShardQueueSize: cfg.Stream.ShardQueueSize,
	})
	defer streamService.Stop()

	// 9. 启动消费者
	consumerCtx, stopConsumers := context.WithCancel(ctx)
	defer stopConsumers()
	go messaging.NewFactConsumer(factConsumer, dlq, streamService).Run(consumerCtx)
	go messaging.NewAlertConsumer(alertConsumer, streamService).Run(consumerCtx)

	// 10. 创建 HTTP 服务器（REST + WebSocket 同端口）
	httpServer := createHTTPServer(cfg, streamService, registry, metricsInstance)

	// 11. 启动 HTTP 服务器
	go func() {
		addr := fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port)
		logger.Info(ctx, "Starting HTTP server", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal(ctx, "HTTP server error", "error", err)
		}
	}()

	// 12. 优雅关停
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info(ctx, "Shutting down OrderStream")

	stopConsumers()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "HTTP server shutdown error", "error", err)
	}

	logger.Info(ctx, "OrderStream stopped")
}

// createHTTPServer 创建 HTTP 服务器
func createHTTPServer(cfg *config.Config, streamService *application.StreamService, registry *application.Registry, m *metrics.Metrics) *http.Server {
	if cfg.Environment == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	// 添加中间件
	router.Use(middleware.GinLoggingMiddleware())
	router.Use(middleware.GinMetricsMiddleware(m))
	router.Use(middleware.GinRecoveryMiddleware())
	router.Use(middleware.GinCORSMiddleware())

	secret := []byte(cfg.Auth.JWTSecret)

	// 注册路由
	restHandler := httphandler.NewStreamHandler(streamService)
	restHandler.RegisterRoutes(router, secret)

	wsHandler := wshandler.NewHandler(registry, m, secret)
	wsHandler.RegisterRoutes(router)

	// 健康检查
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"service":   cfg.ServiceName,
			"sessions":  registry.SessionCount(),
			"timestamp": time.Now().Unix(),
		})
	})

	return &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeout) * time.Second,
	}
}
