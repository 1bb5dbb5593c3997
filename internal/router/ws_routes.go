package router

import (
	"github.com/gin-gonic/gin"
)

// RegisterWebSocketRoutes 注册 WebSocket 入口
// 握手阶段不鉴权，客户端连上后发送 authenticate 事件
// 请求示例: ws://host:port/ws
func (rt *Router) RegisterWebSocketRoutes(r *gin.Engine) {
	r.GET("/ws", rt.handlers.Ws.Serve)
}
