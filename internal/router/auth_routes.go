package router

import (
	"github.com/gin-gonic/gin"
)

// RegisterAuthRoutes 注册认证相关路由
func (rt *Router) RegisterAuthRoutes(rg *gin.RouterGroup) {
	h := rt.handlers.Auth

	// 公开接口 (无需认证)
	rg.POST("/register", h.Register)
	rg.POST("/login", h.Login)
	rg.POST("/refresh", h.Refresh)

	// 需要认证的接口
	rg.GET("/profile", rt.jwtAuth, h.Profile)
	rg.POST("/logout", rt.jwtAuth, h.Logout)
}
