package jwt

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	issuer              = "dm_chat"
	SubjectAccessToken  = "access_token"
	SubjectRefreshToken = "refresh_token"
)

// ErrWrongSubject token 类型不匹配（例如拿 Refresh Token 访问接口）
var ErrWrongSubject = errors.New("token subject mismatch")

// JWTConfig JWT 配置
type JWTConfig struct {
	Secret             string
	AccessTokenExpiry  time.Duration
	RefreshTokenExpiry time.Duration
}

// 全局配置，由 Init 函数初始化
var jwtConfig *JWTConfig

// Init 初始化 JWT 配置
// accessExpiryMinutes 为 0 时默认 1 天
func Init(secret string, accessExpiryMinutes, refreshExpiryHours int) {
	if accessExpiryMinutes <= 0 {
		accessExpiryMinutes = 24 * 60
	}
	if refreshExpiryHours <= 0 {
		refreshExpiryHours = 168
	}
	jwtConfig = &JWTConfig{
		Secret:             secret,
		AccessTokenExpiry:  time.Duration(accessExpiryMinutes) * time.Minute,
		RefreshTokenExpiry: time.Duration(refreshExpiryHours) * time.Hour,
	}
}

// RefreshTokenExpiry 返回 Refresh Token 有效期，用于设置 Redis 过期时间
func RefreshTokenExpiry() time.Duration {
	return jwtConfig.RefreshTokenExpiry
}

// Claims 自定义 JWT 声明
type Claims struct {
	UserID  string `json:"id"`
	Email   string `json:"email,omitempty"`
	TokenID string `json:"token_id,omitempty"` // 仅 Refresh Token 使用，用于单点互踢
	jwt.RegisteredClaims
}

// GenerateAccessToken 生成 Access Token
func GenerateAccessToken(userID, email string) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: userID,
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(jwtConfig.AccessTokenExpiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
			Subject:   SubjectAccessToken,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(jwtConfig.Secret))
}

// GenerateRefreshToken 生成 Refresh Token
// 返回 token 字符串和 tokenID (存入 Redis 实现单点互踢)
func GenerateRefreshToken(userID string) (tokenString string, tokenID string, err error) {
	now := time.Now()
	tokenID = uuid.NewString()
	claims := Claims{
		UserID:  userID,
		TokenID: tokenID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(jwtConfig.RefreshTokenExpiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
			Subject:   SubjectRefreshToken,
		},
	}
	tokenString, err = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(jwtConfig.Secret))
	return
}

// ParseToken 解析并校验签名、过期时间
func ParseToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(jwtConfig.Secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}
	return nil, jwt.ErrSignatureInvalid
}

// ParseTokenWithSubject 解析 token 并要求指定的 subject
func ParseTokenWithSubject(tokenString, subject string) (*Claims, error) {
	claims, err := ParseToken(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.Subject != subject {
		return nil, ErrWrongSubject
	}
	return claims, nil
}
