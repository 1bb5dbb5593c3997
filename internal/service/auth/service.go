// Package auth 校验 token 并解析出用户
// WebSocket 的 authenticate 事件与 HTTP 的 JWTAuth 中间件共用这里的逻辑
package auth

import (
	"context"

	"dm_chat_server/internal/dao/mysql/repository"
	myredis "dm_chat_server/internal/dao/redis"
	"dm_chat_server/internal/model"
	"dm_chat_server/pkg/constants"
	"dm_chat_server/pkg/errorx"
	"dm_chat_server/pkg/protocol"
	"dm_chat_server/pkg/util/jwt"

	"go.uber.org/zap"
)

// 鉴权错误，消息即返回给客户端的文案
var (
	ErrNoToken      = errorx.New(errorx.CodeUnauthorized, protocol.MsgNoToken)
	ErrInvalidToken = errorx.New(errorx.CodeUnauthorized, protocol.MsgInvalidToken)
	ErrServer       = errorx.New(errorx.CodeServerBusy, protocol.MsgServerError)
)

// Service 认证服务
type Service struct {
	users repository.UserRepository
	cache myredis.CacheService
}

// NewAuthService cache 为 nil 时不做 Refresh Token 互踢校验
func NewAuthService(users repository.UserRepository, cache myredis.CacheService) *Service {
	return &Service{users: users, cache: cache}
}

// Authenticate 校验 Access Token 并返回对应用户
//   - 空 token -> "No token provided"
//   - 签名错误、格式错误、过期、类型不对、用户不存在 -> "Invalid token"
//   - 其他存储错误 -> "Server error"
func (s *Service) Authenticate(ctx context.Context, token string) (*model.UserInfo, error) {
	if token == "" {
		return nil, ErrNoToken
	}
	claims, err := jwt.ParseTokenWithSubject(token, jwt.SubjectAccessToken)
	if err != nil {
		zap.L().Debug("token 校验失败", zap.Error(err))
		return nil, ErrInvalidToken
	}

	user, err := s.users.FindByUuid(ctx, claims.UserID)
	if err != nil {
		if errorx.IsNotFound(err) {
			return nil, ErrInvalidToken
		}
		zap.L().Error("鉴权查询用户失败", zap.String("user_id", claims.UserID), zap.Error(err))
		return nil, ErrServer
	}
	return user, nil
}

// IssueTokens 签发双 token，并把 Refresh Token ID 写入 Redis 实现单点互踢
func (s *Service) IssueTokens(ctx context.Context, user *model.UserInfo) (accessToken, refreshToken string, err error) {
	accessToken, err = jwt.GenerateAccessToken(user.Uuid, user.Email)
	if err != nil {
		zap.L().Error("生成 Access Token 失败", zap.Error(err))
		return "", "", errorx.ErrServerBusy
	}
	refreshToken, tokenID, err := jwt.GenerateRefreshToken(user.Uuid)
	if err != nil {
		zap.L().Error("生成 Refresh Token 失败", zap.Error(err))
		return "", "", errorx.ErrServerBusy
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, constants.RedisKeyUserToken+user.Uuid, tokenID, jwt.RefreshTokenExpiry()); err != nil {
			// 不阻塞登录，仅记录
			zap.L().Error("存储 Token ID 到 Redis 失败", zap.Error(err))
		}
	}
	return accessToken, refreshToken, nil
}

// ValidateRefresh 校验 Refresh Token，返回用户 ID
// Redis 中记录的 token ID 不一致时视为已在别处登录
func (s *Service) ValidateRefresh(ctx context.Context, refreshToken string) (string, error) {
	if refreshToken == "" {
		return "", ErrNoToken
	}
	claims, err := jwt.ParseTokenWithSubject(refreshToken, jwt.SubjectRefreshToken)
	if err != nil {
		return "", ErrInvalidToken
	}
	if s.cache == nil {
		return claims.UserID, nil
	}

	validID, err := s.cache.Get(ctx, constants.RedisKeyUserToken+claims.UserID)
	if err != nil {
		zap.L().Error("读取 Token ID 失败", zap.Error(err))
		return "", ErrServer
	}
	if validID == "" || validID != claims.TokenID {
		return "", errorx.New(errorx.CodeUnauthorized, "Session expired, please log in again")
	}
	return claims.UserID, nil
}

// Revoke 注销时删除 Refresh Token ID
func (s *Service) Revoke(ctx context.Context, userID string) error {
	if s.cache == nil {
		return nil
	}
	if err := s.cache.Delete(ctx, constants.RedisKeyUserToken+userID); err != nil {
		zap.L().Error("删除 Token ID 失败", zap.String("user_id", userID), zap.Error(err))
		return errorx.ErrServerBusy
	}
	return nil
}

// ClientMessage 把鉴权错误映射为 error 事件文案
func ClientMessage(err error) string {
	if errorx.GetCode(err) == errorx.CodeUnauthorized {
		return errorx.GetMsg(err)
	}
	return protocol.MsgServerError
}
