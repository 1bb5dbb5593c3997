package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dm_chat_server/internal/config"
	dao "dm_chat_server/internal/dao/mysql"
	myredis "dm_chat_server/internal/dao/redis"
	"dm_chat_server/internal/gateway/websocket"
	"dm_chat_server/internal/handler"
	"dm_chat_server/internal/https_server"
	"dm_chat_server/internal/infrastructure/logger"
	"dm_chat_server/internal/infrastructure/mq"
	"dm_chat_server/internal/infrastructure/tracing"
	"dm_chat_server/internal/router"
	"dm_chat_server/internal/service"
	"dm_chat_server/internal/service/chat"
	"dm_chat_server/internal/service/presence"
	"dm_chat_server/pkg/util/jwt"
	"dm_chat_server/pkg/util/snowflake"

	"go.uber.org/zap"
)

func main() {
	// 1. 加载配置
	conf := config.GetConfig()

	// 2. 初始化日志
	if err := logger.Init(&conf.LogConfig, conf.MainConfig.Mode); err != nil {
		log.Fatalf("init logger failed: %v", err)
	}
	defer func() { _ = zap.L().Sync() }()
	zap.L().Info("日志初始化成功")

	ctx := context.Background()

	// 3. 初始化 ID 生成与 JWT
	snowflake.Init(conf.SnowflakeConfig.MachineID)
	jwt.Init(conf.JWTConfig.Secret, conf.JWTConfig.AccessTokenExpiry, conf.JWTConfig.RefreshTokenExpiry)
	zap.L().Info("JWT 初始化成功")

	// 4. 初始化 Tracing
	shutdownTracing, err := tracing.Init(ctx, &conf.TracingConfig, conf.MainConfig.AppName)
	if err != nil {
		zap.L().Fatal("Tracing 初始化失败", zap.Error(err))
	}

	// 5. 初始化数据库
	repos, err := dao.Init(&conf.MysqlConfig)
	if err != nil {
		zap.L().Fatal("数据库初始化失败", zap.Error(err))
	}

	// 6. 初始化 Redis，不可用时降级为无缓存运行
	var cache myredis.AsyncCacheService
	checks := map[string]handler.Pinger{
		"database": handler.PingFunc(func(ctx context.Context) error {
			sqlDB, err := repos.DB().DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		}),
	}
	redisCache, err := myredis.Init(ctx, &conf.RedisConfig)
	if err != nil {
		zap.L().Warn("Redis 不可用，关闭缓存与 token 互踢", zap.Error(err))
	} else {
		cache = redisCache
		checks["redis"] = redisCache
		zap.L().Info("Redis 初始化成功")
	}

	// 7. 初始化事件发布
	publisher := mq.NewPublisher(&conf.KafkaConfig, &conf.RabbitMQConfig)
	zap.L().Info("事件发布初始化成功",
		zap.String("mode", mq.Mode(publisher)),
		zap.String("reason", mq.NoopReason(publisher)),
	)

	// 8. 在线表、Service 层与 ChatServer
	tableOpts := []presence.Option{presence.WithPublisher(publisher)}
	deliveryOpts := []chat.DeliveryOption{chat.WithEventPublisher(publisher)}
	if cache != nil {
		tableOpts = append(tableOpts, presence.WithCache(cache))
		deliveryOpts = append(deliveryOpts, chat.WithHistoryCache(cache))
	}
	table := presence.NewTable(repos.User, tableOpts...)
	svc := service.NewServices(repos, cache, table)

	chatServer := chat.NewChatServer(chat.ChatServerConfig{
		Auth:        svc.Auth,
		Directory:   table,
		Repos:       repos,
		Delivery:    chat.NewDelivery(repos.Message, table, deliveryOpts...),
		AuthTimeout: time.Duration(conf.WebsocketConfig.AuthTimeout) * time.Second,
	})
	gateway := websocket.NewGateway(websocket.FromChatServer(chatServer), &conf.WebsocketConfig)
	zap.L().Info("ChatServer 初始化成功")

	// 9. 初始化 HTTP 服务器
	if err := handler.InitTrans("en"); err != nil {
		zap.L().Warn("validator 翻译器初始化失败", zap.Error(err))
	}
	handlers := handler.NewHandlers(svc, gateway, checks)
	engine := https_server.Init(&conf.MainConfig, router.NewRouter(handlers, svc.Auth))
	server := https_server.NewServer(&conf.MainConfig, engine)

	go func() {
		if err := server.Run(); err != nil {
			zap.L().Fatal("server running fault", zap.Error(err))
		}
	}()

	// 设置信号监听
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zap.L().Info("关闭服务器...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		zap.L().Error("HTTP 服务关闭失败", zap.Error(err))
	}
	if err := publisher.Close(); err != nil {
		zap.L().Error("事件发布关闭失败", zap.Error(err))
	}
	if redisCache != nil {
		if err := redisCache.Close(); err != nil {
			zap.L().Error("Redis 关闭失败", zap.Error(err))
		}
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		zap.L().Error("Tracing 关闭失败", zap.Error(err))
	}
	zap.L().Info("服务器已关闭")
}
