package handler

import (
	"dm_chat_server/internal/infrastructure/middleware"
	"dm_chat_server/internal/service"

	"github.com/gin-gonic/gin"
)

// MessageHandler 会话列表与聊天记录
type MessageHandler struct {
	messageSvc service.MessageService
}

func NewMessageHandler(messageSvc service.MessageService) *MessageHandler {
	return &MessageHandler{messageSvc: messageSvc}
}

// ChatList 会话列表
// GET /api/messages/
// 响应: []respond.ChatSummary，按最后一条消息时间倒序
func (h *MessageHandler) ChatList(c *gin.Context) {
	data, err := h.messageSvc.ChatList(c.Request.Context(), middleware.CurrentUserID(c))
	if err != nil {
		HandleError(c, err)
		return
	}
	HandleSuccess(c, data)
}

// History 与 :userId 的聊天记录，并把对方发来的消息标为已读
// GET /api/messages/:userId
func (h *MessageHandler) History(c *gin.Context) {
	h.history(c, true)
}

// HistoryReadOnly 与 :userId 的聊天记录，不改变已读状态
// GET /api/chat/messages/:userId
func (h *MessageHandler) HistoryReadOnly(c *gin.Context) {
	h.history(c, false)
}

func (h *MessageHandler) history(c *gin.Context, markRead bool) {
	data, err := h.messageSvc.History(c.Request.Context(), middleware.CurrentUserID(c), c.Param("userId"), markRead)
	if err != nil {
		HandleError(c, err)
		return
	}
	HandleSuccess(c, data)
}
