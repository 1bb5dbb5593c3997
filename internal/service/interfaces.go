// Package service 定义业务层接口，供 Handler 层调用
package service

import (
	"context"

	"dm_chat_server/internal/dto/request"
	"dm_chat_server/internal/dto/respond"
	"dm_chat_server/internal/model"
)

// UserService 注册、登录、token 刷新与用户列表
type UserService interface {
	Register(ctx context.Context, req request.RegisterRequest) (*respond.AuthRespond, error)
	Login(ctx context.Context, req request.LoginRequest) (*respond.AuthRespond, error)
	Refresh(ctx context.Context, refreshToken string) (*respond.AuthRespond, error)
	Profile(ctx context.Context, userID string) (*respond.UserRespond, error)
	Logout(ctx context.Context, userID string) error
	// ListUsers 除自己之外的所有用户
	ListUsers(ctx context.Context, selfID string) ([]respond.UserRespond, error)
}

// MessageService 会话列表与聊天记录
type MessageService interface {
	ChatList(ctx context.Context, selfID string) ([]respond.ChatSummary, error)
	// History markRead 为 true 时顺带把对端发来的消息标为已读
	History(ctx context.Context, selfID, partnerID string, markRead bool) ([]respond.MessageRespond, error)
}

// AuthService token 校验，HTTP 中间件与 WebSocket 认证共用
type AuthService interface {
	Authenticate(ctx context.Context, token string) (*model.UserInfo, error)
}
