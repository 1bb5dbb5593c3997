// Package chat 实现了聊天系统的核心服务层
// server.go
// 核心职责：聊天服务器聚合结构和依赖注入
// 持有鉴权、在线表、消息投递等共享组件，为每条连接创建 Session
package chat

import (
	"context"
	"time"

	"dm_chat_server/internal/dao/mysql/repository"
	"dm_chat_server/internal/model"
	"dm_chat_server/internal/service/presence"
	"dm_chat_server/pkg/constants"

	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("dm_chat_server/chat")

// Authenticator 校验 token，auth.Service 实现了它
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*model.UserInfo, error)
}

// ChatServer 聊天服务器聚合结构
type ChatServer struct {
	auth        Authenticator
	directory   presence.Directory
	users       repository.UserRepository
	messages    repository.MessageRepository
	delivery    *Delivery
	authTimeout time.Duration
}

// ChatServerConfig 聊天服务器配置
type ChatServerConfig struct {
	Auth        Authenticator
	Directory   presence.Directory
	Repos       *repository.Repositories
	Delivery    *Delivery
	AuthTimeout time.Duration // 小于等于 0 时使用默认 30s
}

// NewChatServer 创建聊天服务器实例
func NewChatServer(cfg ChatServerConfig) *ChatServer {
	if cfg.AuthTimeout <= 0 {
		cfg.AuthTimeout = constants.DefaultAuthTimeout
	}
	return &ChatServer{
		auth:        cfg.Auth,
		directory:   cfg.Directory,
		users:       cfg.Repos.User,
		messages:    cfg.Repos.Message,
		delivery:    cfg.Delivery,
		authTimeout: cfg.AuthTimeout,
	}
}

// NewSession 为一条新连接创建会话，并开始认证计时
func (cs *ChatServer) NewSession(t Transport) *Session {
	s := &Session{server: cs, transport: t}
	s.authTimer = time.AfterFunc(cs.authTimeout, s.onAuthTimeout)
	return s
}
