// Package https_server 提供 HTTP/HTTPS 服务器的初始化和配置
// 负责创建 Gin 引擎实例并配置中间件和路由
package https_server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"dm_chat_server/internal/config"
	"dm_chat_server/internal/infrastructure/logger"
	"dm_chat_server/internal/infrastructure/metrics"
	"dm_chat_server/internal/infrastructure/middleware"
	"dm_chat_server/internal/router"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
)

// Init 创建 Gin 引擎并注册中间件和路由
// 配置顺序：
//  1. 创建 Gin 引擎（空白，不含默认中间件）
//  2. 注册日志和恢复中间件
//  3. 注册 tracing 与指标中间件
//  4. 配置 CORS 跨域规则和安全响应头
//  5. 注册业务路由
func Init(conf *config.MainConfig, rt *router.Router) *gin.Engine {
	if conf.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	// 创建空白 Gin 引擎（不使用 gin.Default() 以便完全控制中间件）
	engine := gin.New()

	engine.Use(logger.GinLogger())
	engine.Use(logger.GinRecovery(true))

	engine.Use(otelgin.Middleware(conf.AppName))
	engine.Use(metrics.HTTPMetricsMiddleware())

	// 前后端分离部署，允许所有来源
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = []string{"*"}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization"}
	engine.Use(cors.New(corsConfig))

	// 由 Nginx 终止 TLS 时保持 tls = false
	if conf.TLS {
		engine.Use(middleware.TlsHandler(conf.Host, conf.Port))
	} else {
		engine.Use(middleware.SecurityHeaders(conf.Mode != "release"))
	}

	rt.RegisterRoutes(engine)
	return engine
}

// Server 包装 http.Server，支持优雅关闭
type Server struct {
	srv *http.Server
}

func NewServer(conf *config.MainConfig, engine *gin.Engine) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              net.JoinHostPort(conf.Host, strconv.Itoa(conf.Port)),
			Handler:           engine,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Run 阻塞直到 Shutdown 被调用或监听失败
func (s *Server) Run() error {
	zap.L().Info("HTTP 服务启动", zap.String("addr", s.srv.Addr))
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown 停止接收新请求并等待进行中的请求结束
// 已升级的 WebSocket 连接不受影响，由调用方另行关闭
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
