package user

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"dm_chat_server/internal/dao/mysql/repository"
	"dm_chat_server/internal/dto/request"
	"dm_chat_server/internal/dto/respond"
	"dm_chat_server/internal/model"
	"dm_chat_server/internal/service/auth"
	"dm_chat_server/pkg/errorx"
	"dm_chat_server/pkg/util/jwt"
	"dm_chat_server/pkg/util/random"
)

// OnlineChecker 查询内存在线表，presence.Table 实现了它
type OnlineChecker interface {
	IsOnline(userID string) bool
}

// userInfoService 用户业务逻辑实现
type userInfoService struct {
	users    repository.UserRepository
	auth     *auth.Service
	presence OnlineChecker
}

// NewUserService 构造函数，presence 为 nil 时 isOnline 取数据库记录
func NewUserService(users repository.UserRepository, authSvc *auth.Service, presence OnlineChecker) *userInfoService {
	return &userInfoService{users: users, auth: authSvc, presence: presence}
}

// checkUserExist 用户名或邮箱已被占用时返回 CodeUserExist
func (u *userInfoService) checkUserExist(ctx context.Context, username, email string) error {
	if _, err := u.users.FindByUsername(ctx, username); err == nil {
		return errorx.New(errorx.CodeUserExist, "Username already exists")
	} else if !errorx.IsNotFound(err) {
		zap.L().Error("查询用户名失败", zap.Error(err))
		return errorx.ErrServerBusy
	}
	if _, err := u.users.FindByEmail(ctx, email); err == nil {
		return errorx.New(errorx.CodeUserExist, "Email already exists")
	} else if !errorx.IsNotFound(err) {
		zap.L().Error("查询邮箱失败", zap.Error(err))
		return errorx.ErrServerBusy
	}
	return nil
}

// Register 注册并直接签发 token
func (u *userInfoService) Register(ctx context.Context, req request.RegisterRequest) (*respond.AuthRespond, error) {
	username := strings.TrimSpace(req.Username)
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if err := u.checkUserExist(ctx, username, email); err != nil {
		return nil, err
	}

	newUser := &model.UserInfo{
		Uuid:        random.NewUserID(),
		Username:    username,
		Email:       email,
		RawPassword: req.Password,
	}
	if err := u.users.Create(ctx, newUser); err != nil {
		zap.L().Error("创建用户失败", zap.String("username", username), zap.Error(err))
		return nil, errorx.ErrServerBusy
	}
	zap.L().Info("用户注册成功", zap.String("user_id", newUser.Uuid))

	return u.authRespond(ctx, newUser, "User created successfully")
}

// Login 邮箱密码登录
func (u *userInfoService) Login(ctx context.Context, req request.LoginRequest) (*respond.AuthRespond, error) {
	user, err := u.users.FindByEmail(ctx, strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil {
		if errorx.IsNotFound(err) {
			return nil, errorx.New(errorx.CodeUserNotExist, "User not found, please register")
		}
		zap.L().Error("登录查询用户失败", zap.Error(err))
		return nil, errorx.ErrServerBusy
	}
	if !user.CheckPassword(req.Password) {
		return nil, errorx.New(errorx.CodeInvalidPassword, "Incorrect password")
	}
	return u.authRespond(ctx, user, "Login successful")
}

func (u *userInfoService) authRespond(ctx context.Context, user *model.UserInfo, msg string) (*respond.AuthRespond, error) {
	accessToken, refreshToken, err := u.auth.IssueTokens(ctx, user)
	if err != nil {
		return nil, err
	}
	return &respond.AuthRespond{
		Message:      msg,
		Token:        accessToken,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		User:         u.toRespond(user),
	}, nil
}

// Refresh 用 Refresh Token 换取新的 Access Token
func (u *userInfoService) Refresh(ctx context.Context, refreshToken string) (*respond.AuthRespond, error) {
	userID, err := u.auth.ValidateRefresh(ctx, refreshToken)
	if err != nil {
		return nil, err
	}
	user, err := u.users.FindByUuid(ctx, userID)
	if err != nil {
		if errorx.IsNotFound(err) {
			return nil, auth.ErrInvalidToken
		}
		zap.L().Error("刷新 token 查询用户失败", zap.String("user_id", userID), zap.Error(err))
		return nil, errorx.ErrServerBusy
	}
	accessToken, err := jwt.GenerateAccessToken(user.Uuid, user.Email)
	if err != nil {
		zap.L().Error("生成 Access Token 失败", zap.Error(err))
		return nil, errorx.ErrServerBusy
	}
	return &respond.AuthRespond{
		Message:     "Token refreshed",
		Token:       accessToken,
		AccessToken: accessToken,
	}, nil
}

// Profile 当前用户信息
func (u *userInfoService) Profile(ctx context.Context, userID string) (*respond.UserRespond, error) {
	user, err := u.users.FindByUuid(ctx, userID)
	if err != nil {
		if errorx.IsNotFound(err) {
			return nil, errorx.New(errorx.CodeUserNotExist, "User not found")
		}
		zap.L().Error("查询用户失败", zap.String("user_id", userID), zap.Error(err))
		return nil, errorx.ErrServerBusy
	}
	return u.toRespond(user), nil
}

// Logout 删除 Refresh Token ID，已签发的 Access Token 到期前仍然有效
func (u *userInfoService) Logout(ctx context.Context, userID string) error {
	return u.auth.Revoke(ctx, userID)
}

// ListUsers 除自己之外的所有用户，附带在线标记
func (u *userInfoService) ListUsers(ctx context.Context, selfID string) ([]respond.UserRespond, error) {
	users, err := u.users.FindAllExcept(ctx, selfID)
	if err != nil {
		zap.L().Error("查询用户列表失败", zap.Error(err))
		return nil, errorx.ErrServerBusy
	}
	rsp := make([]respond.UserRespond, 0, len(users))
	for i := range users {
		rsp = append(rsp, *u.toRespond(&users[i]))
	}
	return rsp, nil
}

func (u *userInfoService) toRespond(user *model.UserInfo) *respond.UserRespond {
	rsp := &respond.UserRespond{
		Id:       user.Uuid,
		Username: user.Username,
		Email:    user.Email,
		IsOnline: user.IsOnline,
	}
	if u.presence != nil {
		rsp.IsOnline = u.presence.IsOnline(user.Uuid)
	}
	if user.LastSeen.Valid {
		t := user.LastSeen.Time
		rsp.LastSeen = &t
	}
	return rsp
}
