// Package service 提供业务逻辑层
// 本文件实现 Service 层的依赖注入和聚合
package service

import (
	"dm_chat_server/internal/dao/mysql/repository"
	myredis "dm_chat_server/internal/dao/redis"
	"dm_chat_server/internal/service/auth"
	"dm_chat_server/internal/service/message"
	"dm_chat_server/internal/service/presence"
	"dm_chat_server/internal/service/user"
)

// Services 聚合所有 Service 实例，Handler 层通过它访问业务逻辑
type Services struct {
	Auth     *auth.Service
	User     UserService
	Message  MessageService
	Presence *presence.Table
}

// NewServices 创建并注入所有 Service 实例
// cache 为 nil 时跳过 token 互踢与聊天记录缓存
func NewServices(repos *repository.Repositories, cache myredis.AsyncCacheService, table *presence.Table) *Services {
	var plain myredis.CacheService
	if cache != nil {
		plain = cache
	}
	var online interface{ IsOnline(string) bool }
	if table != nil {
		online = table
	}
	authSvc := auth.NewAuthService(repos.User, plain)
	return &Services{
		Auth:     authSvc,
		User:     user.NewUserService(repos.User, authSvc, online),
		Message:  message.NewMessageService(repos, cache, online),
		Presence: table,
	}
}
