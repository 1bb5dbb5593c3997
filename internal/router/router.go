// Package router 提供 HTTP 路由注册
// 本文件是路由注册的入口，聚合所有子模块的路由
package router

import (
	"dm_chat_server/internal/handler"
	"dm_chat_server/internal/infrastructure/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Router 持有 Handler 聚合与鉴权中间件
type Router struct {
	handlers *handler.Handlers
	jwtAuth  gin.HandlerFunc
}

// NewRouter auth 用于 /api 下需要登录的接口
func NewRouter(handlers *handler.Handlers, auth middleware.Authenticator) *Router {
	return &Router{
		handlers: handlers,
		jwtAuth:  middleware.JWTAuth(auth),
	}
}

// RegisterRoutes 注册所有路由
// 在 https_server.Init() 中调用
func (rt *Router) RegisterRoutes(r *gin.Engine) {
	r.GET("/healthz", rt.handlers.Health.Healthz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	rt.RegisterAuthRoutes(api.Group("/auth"))        // 注册、登录、Token 刷新
	rt.RegisterMessageRoutes(api.Group("/messages")) // 会话列表与聊天记录
	rt.RegisterChatRoutes(api.Group("/chat"))        // 用户列表

	rt.RegisterWebSocketRoutes(r)
}
