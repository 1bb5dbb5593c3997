package handler

import (
	"dm_chat_server/internal/infrastructure/middleware"
	"dm_chat_server/internal/service"

	"github.com/gin-gonic/gin"
)

// UserHandler 用户列表
type UserHandler struct {
	userSvc service.UserService
}

func NewUserHandler(userSvc service.UserService) *UserHandler {
	return &UserHandler{userSvc: userSvc}
}

// ListUsers 除自己之外的所有用户，附带在线状态
// GET /api/chat/users
func (h *UserHandler) ListUsers(c *gin.Context) {
	data, err := h.userSvc.ListUsers(c.Request.Context(), middleware.CurrentUserID(c))
	if err != nil {
		HandleError(c, err)
		return
	}
	HandleSuccess(c, data)
}
