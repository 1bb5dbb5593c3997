package handler

import (
	"net/http"

	"dm_chat_server/internal/service"
)

// Handlers 聚合所有 Handler 实例，Router 层通过此结构访问各个 Handler
type Handlers struct {
	Auth    *AuthHandler
	User    *UserHandler
	Message *MessageHandler
	Ws      *WsHandler
	Health  *HealthHandler
}

// NewHandlers 创建并注入所有 Handler 实例
func NewHandlers(svc *service.Services, gateway http.Handler, checks map[string]Pinger) *Handlers {
	return &Handlers{
		Auth:    NewAuthHandler(svc.User),
		User:    NewUserHandler(svc.User),
		Message: NewMessageHandler(svc.Message),
		Ws:      NewWsHandler(gateway),
		Health:  NewHealthHandler(checks),
	}
}
