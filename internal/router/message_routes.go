package router

import (
	"github.com/gin-gonic/gin"
)

// RegisterMessageRoutes 注册消息相关路由，全部需要认证
func (rt *Router) RegisterMessageRoutes(rg *gin.RouterGroup) {
	rg.Use(rt.jwtAuth)
	{
		rg.GET("/", rt.handlers.Message.ChatList)
		// 读取聊天记录的同时把对方发来的消息标为已读
		rg.GET("/:userId", rt.handlers.Message.History)
	}
}

// RegisterChatRoutes 注册聊天页面使用的路由
func (rt *Router) RegisterChatRoutes(rg *gin.RouterGroup) {
	rg.Use(rt.jwtAuth)
	{
		rg.GET("/users", rt.handlers.User.ListUsers)
		rg.GET("/messages/:userId", rt.handlers.Message.HistoryReadOnly)
	}
}
