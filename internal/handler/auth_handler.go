// Package handler 提供 HTTP 请求处理器
// 本文件处理认证相关的 API 请求
package handler

import (
	"dm_chat_server/internal/dto/request"
	"dm_chat_server/internal/infrastructure/middleware"
	"dm_chat_server/internal/service"

	"github.com/gin-gonic/gin"
)

// AuthHandler 注册、登录、刷新、注销
type AuthHandler struct {
	userSvc service.UserService
}

func NewAuthHandler(userSvc service.UserService) *AuthHandler {
	return &AuthHandler{userSvc: userSvc}
}

// Register 用户注册
// POST /api/auth/register
// 请求体: request.RegisterRequest
// 响应: respond.AuthRespond，HTTP 201
func (h *AuthHandler) Register(c *gin.Context) {
	var req request.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		HandleParamError(c, err)
		return
	}
	data, err := h.userSvc.Register(c.Request.Context(), req)
	if err != nil {
		HandleError(c, err)
		return
	}
	HandleCreated(c, data)
}

// Login 邮箱密码登录
// POST /api/auth/login
// 响应: respond.AuthRespond (用户信息 + 双 Token)
func (h *AuthHandler) Login(c *gin.Context) {
	var req request.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		HandleParamError(c, err)
		return
	}
	data, err := h.userSvc.Login(c.Request.Context(), req)
	if err != nil {
		HandleError(c, err)
		return
	}
	HandleSuccess(c, data)
}

// Refresh 刷新 Access Token
// POST /api/auth/refresh
// Refresh Token ID 与 Redis 中记录的不一致时说明已在其他设备登录
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req request.RefreshTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		HandleParamError(c, err)
		return
	}
	data, err := h.userSvc.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		HandleError(c, err)
		return
	}
	HandleSuccess(c, data)
}

// Profile GET /api/auth/profile
func (h *AuthHandler) Profile(c *gin.Context) {
	data, err := h.userSvc.Profile(c.Request.Context(), middleware.CurrentUserID(c))
	if err != nil {
		HandleError(c, err)
		return
	}
	HandleSuccess(c, data)
}

// Logout POST /api/auth/logout
func (h *AuthHandler) Logout(c *gin.Context) {
	if err := h.userSvc.Logout(c.Request.Context(), middleware.CurrentUserID(c)); err != nil {
		HandleError(c, err)
		return
	}
	HandleSuccess(c, gin.H{"message": "Logout successful"})
}
