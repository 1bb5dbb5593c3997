package auth

import (
	"context"
	"testing"
	"time"

	"dm_chat_server/internal/dao/mysql/mysqltest"
	myredis "dm_chat_server/internal/dao/redis"
	"dm_chat_server/internal/model"
	"dm_chat_server/pkg/constants"
	"dm_chat_server/pkg/errorx"
	"dm_chat_server/pkg/protocol"
	"dm_chat_server/pkg/util/jwt"

	"github.com/alicebob/miniredis/v2"
	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-for-auth-service-0001"

func setup(t *testing.T) (*Service, *model.UserInfo, *miniredis.Miniredis) {
	t.Helper()
	jwt.Init(testSecret, 60, 24)
	repos := mysqltest.NewRepos(t)
	user := mysqltest.CreateUser(t, repos, "U240101aaaaaaaaaaa", "alice")

	mr := miniredis.RunT(t)
	cache := myredis.NewRedisCache(redis.NewClient(&redis.Options{Addr: mr.Addr()}), 1, 10)
	t.Cleanup(func() { _ = cache.Close() })
	return NewAuthService(repos.User, cache), user, mr
}

func signed(t *testing.T, claims jwt.Claims, secret string) string {
	t.Helper()
	token, err := gojwt.NewWithClaims(gojwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func TestAuthenticateSuccess(t *testing.T) {
	svc, user, _ := setup(t)
	access, err := jwt.GenerateAccessToken(user.Uuid, user.Email)
	require.NoError(t, err)

	got, err := svc.Authenticate(context.Background(), access)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Username)
}

func TestAuthenticateFailures(t *testing.T) {
	svc, user, _ := setup(t)
	past := time.Now().Add(-time.Hour)

	expired := signed(t, jwt.Claims{
		UserID: user.Uuid,
		RegisteredClaims: gojwt.RegisteredClaims{
			Subject:   jwt.SubjectAccessToken,
			ExpiresAt: gojwt.NewNumericDate(past),
		},
	}, testSecret)
	wrongKey := signed(t, jwt.Claims{
		UserID:           user.Uuid,
		RegisteredClaims: gojwt.RegisteredClaims{Subject: jwt.SubjectAccessToken},
	}, "another-secret")
	unknownUser, err := jwt.GenerateAccessToken("U240101zzzzzzzzzzz", "ghost@example.com")
	require.NoError(t, err)
	refresh, _, err := jwt.GenerateRefreshToken(user.Uuid)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
		msg   string
	}{
		{"empty", "", protocol.MsgNoToken},
		{"malformed", "not-a-jwt", protocol.MsgInvalidToken},
		{"expired", expired, protocol.MsgInvalidToken},
		{"bad signature", wrongKey, protocol.MsgInvalidToken},
		{"unknown user", unknownUser, protocol.MsgInvalidToken},
		{"refresh token used as access", refresh, protocol.MsgInvalidToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Authenticate(context.Background(), tt.token)
			require.Error(t, err)
			assert.Equal(t, errorx.CodeUnauthorized, errorx.GetCode(err))
			assert.Equal(t, tt.msg, ClientMessage(err))
		})
	}
}

func TestAuthenticateStorageFailureIsServerError(t *testing.T) {
	jwt.Init(testSecret, 60, 24)
	repos := mysqltest.NewRepos(t)
	sqlDB, err := repos.DB().DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	access, err := jwt.GenerateAccessToken("U240101aaaaaaaaaaa", "a@example.com")
	require.NoError(t, err)

	_, err = NewAuthService(repos.User, nil).Authenticate(context.Background(), access)
	require.Error(t, err)
	assert.Equal(t, protocol.MsgServerError, ClientMessage(err))
}

func TestRefreshFlow(t *testing.T) {
	svc, user, mr := setup(t)
	ctx := context.Background()

	_, refresh, err := svc.IssueTokens(ctx, user)
	require.NoError(t, err)
	assert.True(t, mr.Exists(constants.RedisKeyUserToken+user.Uuid))

	uid, err := svc.ValidateRefresh(ctx, refresh)
	require.NoError(t, err)
	assert.Equal(t, user.Uuid, uid)

	// 再次登录后旧的 Refresh Token 失效
	_, _, err = svc.IssueTokens(ctx, user)
	require.NoError(t, err)
	_, err = svc.ValidateRefresh(ctx, refresh)
	assert.Equal(t, errorx.CodeUnauthorized, errorx.GetCode(err))

	require.NoError(t, svc.Revoke(ctx, user.Uuid))
	assert.False(t, mr.Exists(constants.RedisKeyUserToken+user.Uuid))
}
