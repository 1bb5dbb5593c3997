package request

// RefreshTokenRequest 用 Refresh Token 换取新的 Access Token
type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}
