package middleware

import (
	"context"
	"net/http"
	"strings"

	"dm_chat_server/internal/model"
	"dm_chat_server/pkg/errorx"

	"github.com/gin-gonic/gin"
)

// CtxUserID 上下文中的用户 ID 键
const CtxUserID = "user_id"

// Authenticator 校验 Access Token 并解析出用户
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*model.UserInfo, error)
}

// JWTAuth 从 Authorization: Bearer <token> 中取出 token 并鉴权
// 鉴权失败返回 401，服务端错误返回 500，body 为 {code, msg}
func JWTAuth(auth Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := auth.Authenticate(c.Request.Context(), bearerToken(c.GetHeader("Authorization")))
		if err != nil {
			status := http.StatusUnauthorized
			if errorx.GetCode(err) != errorx.CodeUnauthorized {
				status = http.StatusInternalServerError
			}
			c.AbortWithStatusJSON(status, gin.H{
				"code": errorx.GetCode(err),
				"msg":  errorx.GetMsg(err),
			})
			return
		}

		c.Set(CtxUserID, user.Uuid)
		c.Next()
	}
}

// bearerToken 格式不对时返回空串，按未提供 token 处理
func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// CurrentUserID 取出 JWTAuth 写入的用户 ID
func CurrentUserID(c *gin.Context) string {
	return c.GetString(CtxUserID)
}
